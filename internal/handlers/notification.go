package handlers

import (
	"net/http"
	"quanzi/internal/db"
	"quanzi/internal/models"
	"quanzi/internal/utils"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct{}

func NewNotificationHandler() *NotificationHandler {
	return &NotificationHandler{}
}

func (h *NotificationHandler) List(c *gin.Context) {
	user := CurrentUser(c)

	var notifications []models.Notification
	db.DB.Preload("Actor").Where("user_id = ?", user.ID).
		Order("created_at DESC").Limit(50).Find(&notifications)

	var unread int64
	db.DB.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", user.ID, false).Count(&unread)

	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"unread_count":  unread,
	})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	user := CurrentUser(c)

	id := utils.StringToUint(c.Param("id"))
	result := db.DB.Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, user.ID).
		UpdateColumn("is_read", true)
	if result.RowsAffected == 0 {
		JSONError(c, http.StatusNotFound, "通知不存在")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已读"})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	user := CurrentUser(c)

	db.DB.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", user.ID, false).
		UpdateColumn("is_read", true)
	c.JSON(http.StatusOK, gin.H{"message": "全部已读"})
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	user := CurrentUser(c)

	id := utils.StringToUint(c.Param("id"))
	result := db.DB.Where("id = ? AND user_id = ?", id, user.ID).
		Delete(&models.Notification{})
	if result.RowsAffected == 0 {
		JSONError(c, http.StatusNotFound, "通知不存在")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已删除"})
}
