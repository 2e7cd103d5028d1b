package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"animehub/internal/models"
)

const maxNameLen = 64

// DefaultAvatar 为未提供头像的用户生成默认头像 URL。
func DefaultAvatar(name string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name)
}

// SessionService 签发并校验不透明会话 token，过期采用滑动窗口，在校验时惰性判断。
type SessionService struct {
	users    UserRepository
	ttl      time.Duration
	newToken func() string
	now      Clock
}

func NewSessionService(users UserRepository, ttl time.Duration, newToken func() string) *SessionService {
	return &SessionService{users: users, ttl: ttl, newToken: newToken, now: systemClock}
}

// SetClock 替换时钟。
func (s *SessionService) SetClock(c Clock) { s.now = c }

// Identity 是签发或刷新会话的结果。
type Identity struct {
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateOrRefresh 按用户名 upsert 用户并将过期时间顺延到 now+ttl。
// 提交的 token 仅在已签发给该用户时保留，否则重新生成。
func (s *SessionService) CreateOrRefresh(ctx context.Context, username, avatar, token string) (*Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > maxNameLen {
		return nil, ErrInvalidName
	}
	if avatar == "" {
		avatar = DefaultAvatar(username)
	}
	token = strings.TrimSpace(token)
	if token != "" {
		holder, err := s.users.UserByToken(ctx, token)
		if err != nil {
			return nil, storageErr("lookup token", err)
		}
		if holder != nil && holder.Username != username {
			return nil, ErrInvalidSession
		}
		if holder == nil {
			token = ""
		}
	}
	if token == "" {
		token = s.newToken()
	}

	user, err := s.users.UserByUsername(ctx, username)
	if err != nil {
		return nil, storageErr("lookup user", err)
	}
	if user == nil {
		user = &models.User{Username: username}
	}
	now := s.now()
	expiry := now.Add(s.ttl)
	user.Avatar = avatar
	user.LastSeen = now
	user.Token = &token
	user.TokenExpiry = &expiry
	if err := s.users.SaveUser(ctx, user); err != nil {
		return nil, storageErr("save user", err)
	}
	return &Identity{Username: username, Avatar: avatar, Token: token, ExpiresAt: expiry}, nil
}

// Validate 返回持有 token 的用户；未知 token 返回 ErrInvalidSession，
// 过期时间不晚于 now 时返回 ErrSessionExpired。
func (s *SessionService) Validate(ctx context.Context, token string) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSession
	}
	user, err := s.users.UserByToken(ctx, token)
	if err != nil {
		return nil, storageErr("lookup token", err)
	}
	if user == nil || user.TokenExpiry == nil {
		return nil, ErrInvalidSession
	}
	if !user.TokenExpiry.After(s.now()) {
		return nil, ErrSessionExpired
	}
	return user, nil
}

// Invalidate 清除 token 使其永久失效，未知 token 直接忽略。
func (s *SessionService) Invalidate(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidSession
	}
	if _, err := s.users.ClearToken(ctx, token); err != nil {
		return storageErr("clear token", err)
	}
	return nil
}

// Extend 将仍有效的 token 顺延一个完整 ttl 并更新在线时间，已过期的 token 不会复活。
func (s *SessionService) Extend(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidSession
	}
	now := s.now()
	ok, err := s.users.ExtendToken(ctx, token, now, now.Add(s.ttl))
	if err != nil {
		return storageErr("extend token", err)
	}
	if !ok {
		return ErrInvalidSession
	}
	return nil
}

// Touch 为可能没有会话 token 的用户记录活跃时间。
func (s *SessionService) Touch(ctx context.Context, username string) error {
	if err := s.users.TouchUser(ctx, username, s.now()); err != nil {
		return storageErr("touch user", err)
	}
	return nil
}

// Presence 是在线用户列表中的一项。
type Presence struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Active 列出 window 内活跃过的用户。
func (s *SessionService) Active(ctx context.Context, window time.Duration) ([]Presence, error) {
	users, err := s.users.UsersSeenSince(ctx, s.now().Add(-window))
	if err != nil {
		return nil, storageErr("active users", err)
	}
	out := make([]Presence, 0, len(users))
	for _, u := range users {
		out = append(out, Presence{Username: u.Username, Avatar: u.Avatar})
	}
	return out, nil
}
