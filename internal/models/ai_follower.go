package models

import (
	"time"
)

// Responsiveness 档位，决定默认的响应延迟区间
const (
	ResponsivenessInstant = "instant" // 0-5 分钟
	ResponsivenessActive  = "active"  // 5-60 分钟
	ResponsivenessCasual  = "casual"  // 1-8 小时
	ResponsivenessZen     = "zen"     // 8-24 小时
)

// AiFollower AI 关注者：带人格设定的模拟回复者
type AiFollower struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"not null;index" json:"user_id"` // Owner
	User             User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Name             string    `gorm:"not null" json:"name"`
	Personality      string    `gorm:"type:text;not null" json:"personality"`
	AvatarURL        string    `json:"avatar_url"`
	Background       string    `gorm:"type:text" json:"background"` // LLM 生成的人物背景
	Responsiveness   string    `gorm:"size:20;default:'active';not null" json:"responsiveness"`
	ResponseDelayMin int       `gorm:"default:0" json:"response_delay_min"` // 分钟；0/0 表示按档位推导
	ResponseDelayMax int       `gorm:"default:0" json:"response_delay_max"`
	ResponseChance   int       `gorm:"default:80" json:"response_chance"` // 0-100
	Active           bool      `gorm:"default:true" json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DelayRange 返回生效的响应延迟区间（分钟）。
// 记录上的显式覆盖优先于档位推导值。
func (f *AiFollower) DelayRange() (min, max int) {
	if f.ResponseDelayMax > 0 {
		return f.ResponseDelayMin, f.ResponseDelayMax
	}
	return DefaultDelayRange(f.Responsiveness)
}

// DefaultDelayRange 按档位返回默认延迟区间（分钟）
func DefaultDelayRange(responsiveness string) (min, max int) {
	switch responsiveness {
	case ResponsivenessInstant:
		return 0, 5
	case ResponsivenessActive:
		return 5, 60
	case ResponsivenessCasual:
		return 60, 480
	case ResponsivenessZen:
		return 480, 1440
	default:
		return 5, 60
	}
}
