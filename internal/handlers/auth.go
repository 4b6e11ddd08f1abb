package handlers

import (
	"net/http"
	"quanzi/internal/db"
	"quanzi/internal/models"
	"quanzi/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct{}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "用户名和密码不能为空")
		return
	}
	if len(req.Password) < 6 {
		JSONError(c, http.StatusBadRequest, "密码至少6位")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		JSONError(c, http.StatusInternalServerError, "注册失败")
		return
	}

	user := models.User{
		Username: req.Username,
		Password: hash,
	}
	if err := db.DB.Create(&user).Error; err != nil {
		JSONError(c, http.StatusConflict, "用户名已被占用")
		return
	}

	// 每个新用户自带一个默认圈子
	circle := models.Circle{
		UserID:    user.ID,
		Name:      "我的圈子",
		IsDefault: true,
	}
	if err := db.DB.Create(&circle).Error; err != nil {
		JSONError(c, http.StatusInternalServerError, "创建默认圈子失败")
		return
	}

	session := sessions.Default(c)
	session.Set("user_id", user.ID)
	session.Save()

	c.JSON(http.StatusCreated, user)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "用户名和密码不能为空")
		return
	}

	var user models.User
	if err := db.DB.Where("username = ?", req.Username).First(&user).Error; err != nil {
		JSONError(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}
	if !utils.CheckPassword(user.Password, req.Password) {
		JSONError(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	session := sessions.Default(c)
	session.Set("user_id", user.ID)
	session.Save()

	c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Save()
	c.Status(http.StatusOK)
}
