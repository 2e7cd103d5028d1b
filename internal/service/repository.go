package service

import (
	"context"
	"time"

	"animehub/internal/models"
)

// UserRepository 持久化身份及其会话 token。
type UserRepository interface {
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	UserByToken(ctx context.Context, token string) (*models.User, error)
	SaveUser(ctx context.Context, u *models.User) error
	ExtendToken(ctx context.Context, token string, now, expiry time.Time) (bool, error)
	ClearToken(ctx context.Context, token string) (bool, error)
	TouchUser(ctx context.Context, username string, at time.Time) error
	UsersSeenSince(ctx context.Context, since time.Time) ([]models.User, error)
}

// RoomRepository 持久化派对房间与成员行，停用房间与删除成员是两次独立写入。
type RoomRepository interface {
	CreateRoom(ctx context.Context, room *models.PartyRoom) error
	RoomByToken(ctx context.Context, roomToken string) (*models.PartyRoom, error)
	DeactivateRoom(ctx context.Context, roomToken string) error
	Member(ctx context.Context, roomToken, userToken string) (*models.PartyMember, error)
	AddMember(ctx context.Context, m *models.PartyMember) error
	RemoveMember(ctx context.Context, roomToken, userToken string) error
	RemoveMembers(ctx context.Context, roomToken string) error
	Members(ctx context.Context, roomToken string) ([]models.PartyMember, error)
}

type MessageRepository interface {
	InsertMessage(ctx context.Context, m *models.Message) error
	RecentMessages(ctx context.Context, limit int) ([]models.Message, error)
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repository 是完整的存储接口，由 *store.Store 实现。
type Repository interface {
	UserRepository
	RoomRepository
	MessageRepository
}

// Clock 返回当前时间，service 层统一以 UTC 存储时间。
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
