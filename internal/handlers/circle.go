package handlers

import (
	"net/http"
	"quanzi/internal/db"
	"quanzi/internal/models"
	"quanzi/internal/utils"

	"github.com/gin-gonic/gin"
)

type CircleHandler struct{}

func NewCircleHandler() *CircleHandler {
	return &CircleHandler{}
}

type circleRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
}

func (h *CircleHandler) Create(c *gin.Context) {
	user := CurrentUser(c)

	var req circleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "圈子名称不能为空")
		return
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = "private"
	}
	if visibility != "private" && visibility != "shared" {
		JSONError(c, http.StatusBadRequest, "无效的可见性")
		return
	}

	circle := models.Circle{
		UserID:      user.ID,
		Name:        req.Name,
		Description: req.Description,
		Visibility:  visibility,
	}
	if err := db.DB.Create(&circle).Error; err != nil {
		JSONError(c, http.StatusInternalServerError, "创建失败")
		return
	}
	c.JSON(http.StatusCreated, circle)
}

func (h *CircleHandler) List(c *gin.Context) {
	user := CurrentUser(c)

	var circles []models.Circle
	db.DB.Where("user_id = ?", user.ID).Order("id ASC").Find(&circles)
	c.JSON(http.StatusOK, circles)
}

// ownedCircle 加载当前用户名下的圈子，不存在时写好错误响应并返回 nil
func ownedCircle(c *gin.Context) *models.Circle {
	user := CurrentUser(c)

	id := utils.StringToUint(c.Param("id"))
	if id == 0 {
		JSONError(c, http.StatusBadRequest, "无效的圈子 ID")
		return nil
	}

	var circle models.Circle
	if err := db.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&circle).Error; err != nil {
		JSONError(c, http.StatusNotFound, "圈子不存在")
		return nil
	}
	return &circle
}

func (h *CircleHandler) Get(c *gin.Context) {
	circle := ownedCircle(c)
	if circle == nil {
		return
	}
	c.JSON(http.StatusOK, circle)
}

func (h *CircleHandler) Update(c *gin.Context) {
	circle := ownedCircle(c)
	if circle == nil {
		return
	}

	var req circleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "圈子名称不能为空")
		return
	}

	circle.Name = req.Name
	circle.Description = req.Description
	if req.Visibility == "private" || req.Visibility == "shared" {
		circle.Visibility = req.Visibility
	}

	if err := db.DB.Save(circle).Error; err != nil {
		JSONError(c, http.StatusInternalServerError, "保存失败")
		return
	}
	c.JSON(http.StatusOK, circle)
}

func (h *CircleHandler) Delete(c *gin.Context) {
	circle := ownedCircle(c)
	if circle == nil {
		return
	}
	if circle.IsDefault {
		JSONError(c, http.StatusBadRequest, "默认圈子不能删除")
		return
	}
	if err := db.DB.Delete(circle).Error; err != nil {
		JSONError(c, http.StatusInternalServerError, "删除失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已删除"})
}

// circleFollowerView 圈子成员列表项，带静音状态
type circleFollowerView struct {
	models.AiFollower
	Muted bool `json:"muted"`
}

func (h *CircleHandler) ListFollowers(c *gin.Context) {
	circle := ownedCircle(c)
	if circle == nil {
		return
	}

	var links []models.CircleFollower
	db.DB.Where("circle_id = ?", circle.ID).Find(&links)

	views := make([]circleFollowerView, 0, len(links))
	for _, link := range links {
		var follower models.AiFollower
		if err := db.DB.First(&follower, link.AiFollowerID).Error; err != nil {
			continue
		}
		views = append(views, circleFollowerView{AiFollower: follower, Muted: link.Muted})
	}
	c.JSON(http.StatusOK, views)
}

type addFollowerRequest struct {
	AiFollowerID uint `json:"ai_follower_id" binding:"required"`
}

func (h *CircleHandler) AddFollower(c *gin.Context) {
	user := CurrentUser(c)

	circle := ownedCircle(c)
	if circle == nil {
		return
	}

	var req addFollowerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "缺少关注者 ID")
		return
	}

	var follower models.AiFollower
	if err := db.DB.Where("id = ? AND user_id = ?", req.AiFollowerID, user.ID).First(&follower).Error; err != nil {
		JSONError(c, http.StatusNotFound, "关注者不存在")
		return
	}

	var existing models.CircleFollower
	if err := db.DB.Where("circle_id = ? AND ai_follower_id = ?", circle.ID, follower.ID).
		First(&existing).Error; err == nil {
		c.JSON(http.StatusOK, existing)
		return
	}

	link := models.CircleFollower{CircleID: circle.ID, AiFollowerID: follower.ID}
	if err := db.DB.Create(&link).Error; err != nil {
		JSONError(c, http.StatusInternalServerError, "添加失败")
		return
	}
	c.JSON(http.StatusCreated, link)
}

func (h *CircleHandler) RemoveFollower(c *gin.Context) {
	circle := ownedCircle(c)
	if circle == nil {
		return
	}

	followerID := utils.StringToUint(c.Param("followerId"))
	result := db.DB.Where("circle_id = ? AND ai_follower_id = ?", circle.ID, followerID).
		Delete(&models.CircleFollower{})
	if result.RowsAffected == 0 {
		JSONError(c, http.StatusNotFound, "关注者不在该圈子中")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已移除"})
}

// ToggleMute 切换圈子内单个关注者的静音状态。静音后调度器不再为其排期新回应。
func (h *CircleHandler) ToggleMute(c *gin.Context) {
	circle := ownedCircle(c)
	if circle == nil {
		return
	}

	followerID := utils.StringToUint(c.Param("followerId"))

	var link models.CircleFollower
	if err := db.DB.Where("circle_id = ? AND ai_follower_id = ?", circle.ID, followerID).
		First(&link).Error; err != nil {
		JSONError(c, http.StatusNotFound, "关注者不在该圈子中")
		return
	}

	link.Muted = !link.Muted
	if err := db.DB.Save(&link).Error; err != nil {
		JSONError(c, http.StatusInternalServerError, "保存失败")
		return
	}
	c.JSON(http.StatusOK, link)
}
