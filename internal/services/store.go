package services

import (
	"time"

	"quanzi/internal/models"
)

// ConversationStore 聚合调度器与线程管理所需的持久化操作。
// 查询类方法在记录不存在时返回 (nil, nil)，调用方按"静默跳过"策略处理。
// 生产实现见 internal/store；测试使用内存假实现。
type ConversationStore interface {
	GetUser(id uint) (*models.User, error)
	GetPost(id uint) (*models.Post, error)
	GetAiFollower(id uint) (*models.AiFollower, error)
	IsFollowerMuted(circleID, followerID uint) (bool, error)

	GetInteraction(id uint) (*models.Interaction, error)
	GetPostInteractions(postID uint) ([]models.Interaction, error)
	CreateInteraction(in *models.Interaction) error
	CreateNotification(n *models.Notification) error

	CreatePendingResponse(pr *models.PendingResponse) error
	GetPostPendingResponses(postID uint) ([]models.PendingResponse, error)
	DuePendingResponses(now time.Time) ([]models.PendingResponse, error)
	// ClaimPendingResponse 原子认领一条待回应记录；已被认领时返回 false。
	ClaimPendingResponse(id uint) (bool, error)
	// ReleasePendingResponse 释放认领并记录重试次数
	ReleasePendingResponse(id uint, attempts int) error
	DeletePendingResponse(id uint) error
}

// ResponseGenerator AI 文本生成协作方（对调度器不透明）
type ResponseGenerator interface {
	GenerateReply(follower *models.AiFollower, prompt string) (string, error)
}
