package service

import (
	"context"
	"strings"
	"time"

	"animehub/internal/metrics"
	"animehub/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	SystemUsername = "System"
	maxRecent      = 200
)

var SystemAvatar = DefaultAvatar(SystemUsername)

// MessageService 是全局聊天记录：只追加，按时间保留。
type MessageService struct {
	msgs MessageRepository
	now  Clock
}

func NewMessageService(msgs MessageRepository) *MessageService {
	return &MessageService{msgs: msgs, now: systemClock}
}

// SetClock 替换时钟。
func (s *MessageService) SetClock(c Clock) { s.now = c }

// MessageDTO 是聊天消息的传输格式。
type MessageDTO struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Avatar    string    `json:"avatar"`
}

func toDTO(m models.Message) MessageDTO {
	return MessageDTO{ID: m.ID, Username: m.Username, Message: m.Message, Timestamp: m.Timestamp, Avatar: m.Avatar}
}

// Append 保存一条带当前时间戳的消息。
func (s *MessageService) Append(ctx context.Context, username, avatar, text string) (*MessageDTO, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if username == "" {
		return nil, ErrNotIdentified
	}
	msg := models.Message{Username: username, Message: text, Timestamp: s.now(), Avatar: avatar}
	if err := s.msgs.InsertMessage(ctx, &msg); err != nil {
		return nil, storageErr("insert message", err)
	}
	metrics.ChatMessagesTotal.Inc()
	out := toDTO(msg)
	return &out, nil
}

// AppendSystem 保存一条由系统用户发出的通知。
func (s *MessageService) AppendSystem(ctx context.Context, text string) (*MessageDTO, error) {
	return s.Append(ctx, SystemUsername, SystemAvatar, text)
}

// Recent 返回最多 limit 条消息，按时间从旧到新。
func (s *MessageService) Recent(ctx context.Context, limit int) ([]MessageDTO, error) {
	if limit <= 0 || limit > maxRecent {
		limit = 50
	}
	msgs, err := s.msgs.RecentMessages(ctx, limit)
	if err != nil {
		return nil, storageErr("recent messages", err)
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toDTO(m))
	}
	return out, nil
}

// Prune 删除时间戳严格早于 olderThan 的消息。
func (s *MessageService) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := s.msgs.DeleteMessagesBefore(ctx, olderThan)
	if err != nil {
		return 0, storageErr("prune messages", err)
	}
	metrics.ChatMessagesPruned.Add(float64(n))
	return n, nil
}

// RunPruner 每隔 interval 清理超过 retention 的消息，直到 ctx 取消；被清理的消息不会通知客户端。
func (s *MessageService) RunPruner(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Prune(ctx, s.now().Add(-retention))
			if err != nil {
				log.Error().Err(err).Msg("prune chat log")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("pruned chat log")
			}
		}
	}
}
