package handlers

import (
	"quanzi/internal/middleware"
	"quanzi/internal/models"

	"github.com/gin-gonic/gin"
)

// CurrentUser 从上下文取出已登录用户（AuthRequired 之后调用）
func CurrentUser(c *gin.Context) *models.User {
	return c.MustGet(middleware.CheckUserKey).(*models.User)
}

// JSONError 统一的错误响应
func JSONError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"message": message})
}
