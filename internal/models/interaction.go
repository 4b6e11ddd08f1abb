package models

import (
	"time"
)

// Interaction 类型
const (
	InteractionTypeComment = "comment" // 对帖子的根级回应
	InteractionTypeReply   = "reply"   // 对某条 Interaction 的回复
)

// Interaction 已落库的回应：人类回复或 AI 生成的回应。
// UserID 与 AiFollowerID 恰好设置其一。ParentID 为空表示根级，
// 否则指向同一帖子下的另一条 Interaction（父引用构成森林，无环）。
// 创建后不再修改，仅随帖子/圈子级联删除。
type Interaction struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	PostID       uint        `gorm:"not null;index" json:"post_id"`
	Post         Post        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	UserID       *uint       `gorm:"index" json:"user_id"`
	User         *User       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	AiFollowerID *uint       `gorm:"index" json:"ai_follower_id"`
	AiFollower   *AiFollower `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Type         string      `gorm:"size:20;not null" json:"type"`
	Content      string      `gorm:"type:text;not null" json:"content"`
	ParentID     *uint       `gorm:"index" json:"parent_id"` // Nullable for root-level interactions
	CreatedAt    time.Time   `json:"created_at"`
}
