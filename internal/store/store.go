// Package store 是唯一发出查询的地方，查不到记录时返回 (nil, nil)。
package store

import (
	"context"
	"errors"
	"time"

	"animehub/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	return first[models.User](s.db.WithContext(ctx).Where("username = ?", username))
}

func (s *Store) UserByToken(ctx context.Context, token string) (*models.User, error) {
	return first[models.User](s.db.WithContext(ctx).Where("token = ?", token))
}

// SaveUser 插入 u；u.ID 已设置时更新全部字段。
func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	return s.db.WithContext(ctx).Save(u).Error
}

// ExtendToken 顺延仍有效 token 的过期时间，并返回是否有行被更新。
func (s *Store) ExtendToken(ctx context.Context, token string, now, expiry time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("token = ? AND token_expiry > ?", token, now).
		Updates(map[string]interface{}{"token_expiry": expiry, "last_seen": now})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) ClearToken(ctx context.Context, token string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("token = ?", token).
		Updates(map[string]interface{}{"token": nil, "token_expiry": nil})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) TouchUser(ctx context.Context, username string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ?", username).
		Update("last_seen", at).Error
}

func (s *Store) UsersSeenSince(ctx context.Context, since time.Time) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Select("id", "username", "avatar", "last_seen").
		Where("last_seen > ?", since).Order("username").Find(&users).Error
	return users, err
}

func (s *Store) CreateRoom(ctx context.Context, room *models.PartyRoom) error {
	return s.db.WithContext(ctx).Create(room).Error
}

func (s *Store) RoomByToken(ctx context.Context, roomToken string) (*models.PartyRoom, error) {
	return first[models.PartyRoom](s.db.WithContext(ctx).Where("room_token = ?", roomToken))
}

func (s *Store) DeactivateRoom(ctx context.Context, roomToken string) error {
	return s.db.WithContext(ctx).Model(&models.PartyRoom{}).
		Where("room_token = ?", roomToken).
		Update("active", false).Error
}

func (s *Store) Member(ctx context.Context, roomToken, userToken string) (*models.PartyMember, error) {
	return first[models.PartyMember](s.db.WithContext(ctx).
		Where("room_token = ? AND user_token = ?", roomToken, userToken))
}

// AddMember 在 (room, user) 已存在时不做任何操作。
func (s *Store) AddMember(ctx context.Context, m *models.PartyMember) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m).Error
}

func (s *Store) RemoveMember(ctx context.Context, roomToken, userToken string) error {
	return s.db.WithContext(ctx).
		Where("room_token = ? AND user_token = ?", roomToken, userToken).
		Delete(&models.PartyMember{}).Error
}

func (s *Store) RemoveMembers(ctx context.Context, roomToken string) error {
	return s.db.WithContext(ctx).Where("room_token = ?", roomToken).Delete(&models.PartyMember{}).Error
}

func (s *Store) Members(ctx context.Context, roomToken string) ([]models.PartyMember, error) {
	var members []models.PartyMember
	err := s.db.WithContext(ctx).Where("room_token = ?", roomToken).Order("id").Find(&members).Error
	return members, err
}

func (s *Store) InsertMessage(ctx context.Context, m *models.Message) error {
	return s.db.WithContext(ctx).Create(m).Error
}

// RecentMessages 返回最多 limit 条消息，按时间从旧到新。
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.Message{})
	return res.RowsAffected, res.Error
}

func first[T any](q *gorm.DB) (*T, error) {
	var row T
	if err := q.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
