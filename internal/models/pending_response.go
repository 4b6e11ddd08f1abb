package models

import (
	"time"
)

// PendingResponse 某个 AI 关注者"承诺"在未来时刻回应的占位记录。
// 由调度器在选中时创建，后台成熟循环在到期后生成真实的 Interaction
// 并删除本记录。Metadata 为序列化 JSON，可携带
// {threadContext, parentId, parentInteractionId}，把最终回应绑定到
// 它所回复的那条 Interaction 上。
type PendingResponse struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	PostID       uint       `gorm:"not null;index" json:"post_id"`
	Post         Post       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	AiFollowerID uint       `gorm:"not null;index" json:"ai_follower_id"`
	AiFollower   AiFollower `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ScheduledFor time.Time  `gorm:"not null;index" json:"scheduled_for"`
	Metadata     string     `gorm:"type:text" json:"metadata"` // 空串表示无元数据
	Attempts     int        `gorm:"default:0" json:"attempts"` // 生成失败重试计数
	Processing   bool       `gorm:"default:false" json:"-"`    // 认领标记，防止并发 tick 重复处理
	CreatedAt    time.Time  `json:"created_at"`
}
