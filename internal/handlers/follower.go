package handlers

import (
	"log"
	"net/http"
	"quanzi/internal/db"
	"quanzi/internal/models"
	"quanzi/internal/services"
	"quanzi/internal/utils"

	"github.com/gin-gonic/gin"
)

type FollowerHandler struct{}

func NewFollowerHandler() *FollowerHandler {
	return &FollowerHandler{}
}

type createFollowerRequest struct {
	Name             string `json:"name" binding:"required"`
	Personality      string `json:"personality" binding:"required"`
	AvatarURL        string `json:"avatar_url"`
	Responsiveness   string `json:"responsiveness"`
	ResponseDelayMin int    `json:"response_delay_min"`
	ResponseDelayMax int    `json:"response_delay_max"`
	ResponseChance   *int   `json:"response_chance"`
}

func (h *FollowerHandler) Create(c *gin.Context) {
	user := CurrentUser(c)

	var req createFollowerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "名字和性格设定不能为空")
		return
	}

	responsiveness := req.Responsiveness
	if responsiveness == "" {
		responsiveness = models.ResponsivenessActive
	}
	switch responsiveness {
	case models.ResponsivenessInstant, models.ResponsivenessActive,
		models.ResponsivenessCasual, models.ResponsivenessZen:
	default:
		JSONError(c, http.StatusBadRequest, "无效的响应档位")
		return
	}

	chance := 80
	if req.ResponseChance != nil {
		if *req.ResponseChance < 0 || *req.ResponseChance > 100 {
			JSONError(c, http.StatusBadRequest, "回应概率必须在 0-100 之间")
			return
		}
		chance = *req.ResponseChance
	}
	if req.ResponseDelayMin < 0 || req.ResponseDelayMax < req.ResponseDelayMin {
		JSONError(c, http.StatusBadRequest, "无效的延迟区间")
		return
	}

	follower := models.AiFollower{
		UserID:           user.ID,
		Name:             req.Name,
		Personality:      req.Personality,
		AvatarURL:        req.AvatarURL,
		Responsiveness:   responsiveness,
		ResponseDelayMin: req.ResponseDelayMin,
		ResponseDelayMax: req.ResponseDelayMax,
		ResponseChance:   chance,
		Active:           true,
	}

	if err := db.DB.Create(&follower).Error; err != nil {
		JSONError(c, http.StatusInternalServerError, "创建失败")
		return
	}

	// 异步生成人物背景，失败不影响创建
	go func(id uint, name, personality string) {
		background, err := services.GetLLMService().GeneratePersonaBackground(name, personality)
		if err != nil {
			log.Printf("[Follower] 生成人物背景失败 (followerID=%d): %v", id, err)
			return
		}
		if err := db.DB.Model(&models.AiFollower{}).Where("id = ?", id).
			UpdateColumn("background", background).Error; err != nil {
			log.Printf("[Follower] 更新人物背景失败 (followerID=%d): %v", id, err)
		}
	}(follower.ID, follower.Name, follower.Personality)

	c.JSON(http.StatusCreated, follower)
}

func (h *FollowerHandler) List(c *gin.Context) {
	user := CurrentUser(c)

	var followers []models.AiFollower
	db.DB.Where("user_id = ?", user.ID).Order("id ASC").Find(&followers)
	c.JSON(http.StatusOK, followers)
}

func (h *FollowerHandler) Get(c *gin.Context) {
	user := CurrentUser(c)

	id := utils.StringToUint(c.Param("id"))
	if id == 0 {
		JSONError(c, http.StatusBadRequest, "无效的关注者 ID")
		return
	}

	var follower models.AiFollower
	if err := db.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&follower).Error; err != nil {
		JSONError(c, http.StatusNotFound, "关注者不存在")
		return
	}
	c.JSON(http.StatusOK, follower)
}

type updateFollowerRequest struct {
	Name           *string `json:"name"`
	Personality    *string `json:"personality"`
	Responsiveness *string `json:"responsiveness"`
	ResponseChance *int    `json:"response_chance"`
}

func (h *FollowerHandler) Update(c *gin.Context) {
	user := CurrentUser(c)

	id := utils.StringToUint(c.Param("id"))
	if id == 0 {
		JSONError(c, http.StatusBadRequest, "无效的关注者 ID")
		return
	}

	var follower models.AiFollower
	if err := db.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&follower).Error; err != nil {
		JSONError(c, http.StatusNotFound, "关注者不存在")
		return
	}

	var req updateFollowerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "无效的请求")
		return
	}

	if req.Name != nil {
		follower.Name = *req.Name
	}
	if req.Personality != nil {
		follower.Personality = *req.Personality
	}
	if req.Responsiveness != nil {
		follower.Responsiveness = *req.Responsiveness
	}
	if req.ResponseChance != nil {
		if *req.ResponseChance < 0 || *req.ResponseChance > 100 {
			JSONError(c, http.StatusBadRequest, "回应概率必须在 0-100 之间")
			return
		}
		follower.ResponseChance = *req.ResponseChance
	}

	if err := db.DB.Save(&follower).Error; err != nil {
		JSONError(c, http.StatusInternalServerError, "保存失败")
		return
	}
	c.JSON(http.StatusOK, follower)
}

// ToggleActive 停用/恢复关注者（DELETE 语义与原接口保持一致：切换而非删除）
func (h *FollowerHandler) ToggleActive(c *gin.Context) {
	user := CurrentUser(c)

	id := utils.StringToUint(c.Param("id"))
	if id == 0 {
		JSONError(c, http.StatusBadRequest, "无效的关注者 ID")
		return
	}

	var follower models.AiFollower
	if err := db.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&follower).Error; err != nil {
		JSONError(c, http.StatusNotFound, "关注者不存在")
		return
	}

	follower.Active = !follower.Active
	if err := db.DB.Save(&follower).Error; err != nil {
		JSONError(c, http.StatusInternalServerError, "保存失败")
		return
	}
	c.JSON(http.StatusOK, follower)
}
