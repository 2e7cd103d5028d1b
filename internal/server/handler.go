package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"animehub/internal/auth"
	"animehub/internal/service"
	"animehub/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合会话、房间与聊天相关的 HTTP handler，依赖注入 service 层。
type Handler struct {
	sessions     *service.SessionService
	rooms        *service.RoomService
	messages     *service.MessageService
	relay        *ws.Relay
	activeWindow time.Duration
}

func NewHandler(sessions *service.SessionService, rooms *service.RoomService, messages *service.MessageService, relay *ws.Relay, activeWindow time.Duration) *Handler {
	return &Handler{sessions: sessions, rooms: rooms, messages: messages, relay: relay, activeWindow: activeWindow}
}

// CreateSession 为用户名签发 token；提交的 token 已属于该用户时刷新它。
func (h *Handler) CreateSession(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
		Token    string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}
	id, err := h.sessions.CreateOrRefresh(c.Request.Context(), req.Username, req.Avatar, req.Token)
	if err != nil {
		h.fail(c, err, "failed to create session")
		return
	}
	c.JSON(http.StatusOK, id)
}

// ValidateSession 校验 token 是否可用，并顺延其过期时间。
func (h *Handler) ValidateSession(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}
	ctx := c.Request.Context()
	user, err := h.sessions.Validate(ctx, req.Token)
	if errors.Is(err, service.ErrInvalidSession) {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	if err != nil {
		h.fail(c, err, "failed to validate session")
		return
	}
	if err := h.sessions.Extend(ctx, req.Token); err != nil {
		log.Warn().Err(err).Str("username", user.Username).Msg("extend session")
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "username": user.Username, "avatar": user.Avatar})
}

func (h *Handler) InvalidateSession(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}
	if err := h.sessions.Invalidate(c.Request.Context(), req.Token); err != nil {
		h.fail(c, err, "failed to invalidate session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Me 返回 Bearer Token 对应的身份。
func (h *Handler) Me(c *gin.Context) {
	user := auth.CurrentUser(c)
	c.JSON(http.StatusOK, gin.H{"username": user.Username, "avatar": user.Avatar, "expires_at": user.TokenExpiry})
}

func (h *Handler) ListMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	msgs, err := h.messages.Recent(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err, "failed to list messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) ActiveUsers(c *gin.Context) {
	users, err := h.sessions.Active(c.Request.Context(), h.activeWindow)
	if err != nil {
		h.fail(c, err, "failed to list active users")
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) CreateParty(c *gin.Context) {
	var req struct {
		RoomName  string `json:"roomName"`
		UserToken string `json:"userToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RoomName) == "" || req.UserToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room name and user token are required"})
		return
	}
	room, err := h.rooms.Create(c.Request.Context(), req.RoomName, req.UserToken)
	if err != nil {
		h.fail(c, err, "failed to create watch party room")
		return
	}
	log.Info().Str("room_token", room.RoomToken).Str("username", room.HostUsername).Msg("watch party created")
	c.JSON(http.StatusOK, room)
}

func (h *Handler) JoinParty(c *gin.Context) {
	var req struct {
		RoomToken string `json:"roomToken"`
		UserToken string `json:"userToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomToken == "" || req.UserToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room token and user token are required"})
		return
	}
	ctx := c.Request.Context()
	m, err := h.rooms.Join(ctx, req.RoomToken, req.UserToken)
	if err != nil {
		h.fail(c, err, "failed to join watch party room")
		return
	}
	if !m.Rejoined {
		h.relay.BroadcastMembers(ctx, m.RoomToken)
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) LeaveParty(c *gin.Context) {
	var req struct {
		RoomToken string `json:"roomToken"`
		UserToken string `json:"userToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomToken == "" || req.UserToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room token and user token are required"})
		return
	}
	dep, err := h.relay.LeaveParty(c.Request.Context(), req.RoomToken, req.UserToken)
	if err != nil {
		h.fail(c, err, "failed to leave watch party room")
		return
	}
	msg := "Left watch party room"
	if dep.Ended {
		msg = "Watch party room closed"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

func (h *Handler) PartyMembers(c *gin.Context) {
	ctx := c.Request.Context()
	roomToken := c.Param("roomToken")
	if _, err := h.rooms.Room(ctx, roomToken); err != nil {
		h.fail(c, err, "failed to load watch party room")
		return
	}
	names, err := h.rooms.Members(ctx, roomToken)
	if err != nil {
		h.fail(c, err, "failed to list members")
		return
	}
	members := make([]gin.H, 0, len(names))
	for _, n := range names {
		members = append(members, gin.H{"username": n})
	}
	c.JSON(http.StatusOK, gin.H{"roomToken": roomToken, "members": members})
}

// fail 将 service 层错误映射为 HTTP 状态码。
func (h *Handler) fail(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSessionExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
	case errors.Is(err, service.ErrInvalidSession):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user token"})
	case errors.Is(err, service.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "watch party room not found or inactive"})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
