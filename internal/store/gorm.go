package store

import (
	"errors"
	"time"

	"quanzi/internal/models"

	"gorm.io/gorm"
)

// GormStore services.ConversationStore 的 gorm 实现。
// 查询类方法在记录不存在时返回 (nil, nil)。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetUser(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (s *GormStore) GetPost(id uint) (*models.Post, error) {
	var post models.Post
	if err := s.db.First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &post, nil
}

func (s *GormStore) GetAiFollower(id uint) (*models.AiFollower, error) {
	var follower models.AiFollower
	if err := s.db.First(&follower, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &follower, nil
}

func (s *GormStore) IsFollowerMuted(circleID, followerID uint) (bool, error) {
	var cf models.CircleFollower
	err := s.db.Where("circle_id = ? AND ai_follower_id = ?", circleID, followerID).First(&cf).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return cf.Muted, nil
}

func (s *GormStore) GetInteraction(id uint) (*models.Interaction, error) {
	var in models.Interaction
	if err := s.db.First(&in, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &in, nil
}

func (s *GormStore) GetPostInteractions(postID uint) ([]models.Interaction, error) {
	var interactions []models.Interaction
	err := s.db.Where("post_id = ?", postID).Order("created_at ASC, id ASC").Find(&interactions).Error
	return interactions, err
}

func (s *GormStore) CreateInteraction(in *models.Interaction) error {
	return s.db.Create(in).Error
}

func (s *GormStore) CreateNotification(n *models.Notification) error {
	return s.db.Create(n).Error
}

func (s *GormStore) CreatePendingResponse(pr *models.PendingResponse) error {
	return s.db.Create(pr).Error
}

func (s *GormStore) GetPostPendingResponses(postID uint) ([]models.PendingResponse, error) {
	var pending []models.PendingResponse
	err := s.db.Where("post_id = ?", postID).Order("scheduled_for ASC").Find(&pending).Error
	return pending, err
}

func (s *GormStore) DuePendingResponses(now time.Time) ([]models.PendingResponse, error) {
	var due []models.PendingResponse
	err := s.db.Where("scheduled_for <= ? AND processing = ?", now, false).
		Order("scheduled_for ASC").
		Find(&due).Error
	return due, err
}

// ClaimPendingResponse 通过带条件的 UPDATE 原子认领，
// 并发 tick 下只有一方能拿到该记录
func (s *GormStore) ClaimPendingResponse(id uint) (bool, error) {
	res := s.db.Model(&models.PendingResponse{}).
		Where("id = ? AND processing = ?", id, false).
		UpdateColumn("processing", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ReleasePendingResponse(id uint, attempts int) error {
	return s.db.Model(&models.PendingResponse{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing": false,
			"attempts":   attempts,
		}).Error
}

func (s *GormStore) DeletePendingResponse(id uint) error {
	return s.db.Delete(&models.PendingResponse{}, id).Error
}
