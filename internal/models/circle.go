package models

import (
	"time"
)

// Circle 分享圈：帖子的归属范围，包含成员和 AI 关注者
type Circle struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"` // Owner
	User        User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `gorm:"size:200" json:"description"`
	Visibility  string    `gorm:"size:20;default:'private';not null" json:"visibility"` // private, shared
	IsDefault   bool      `gorm:"default:false" json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
}

// CircleFollower AI 关注者与圈子的关联，支持按圈静音
type CircleFollower struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	CircleID     uint       `gorm:"not null;index:idx_circle_follower,unique" json:"circle_id"`
	Circle       Circle     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	AiFollowerID uint       `gorm:"not null;index:idx_circle_follower,unique" json:"ai_follower_id"`
	AiFollower   AiFollower `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Muted        bool       `gorm:"default:false" json:"muted"`
	CreatedAt    time.Time  `json:"created_at"`
}
