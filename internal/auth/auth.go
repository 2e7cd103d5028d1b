package auth

import (
	"errors"
	"net/http"
	"strings"

	"animehub/internal/models"
	"animehub/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

const roomTokenPrefix = "party-"

// NewSessionToken 生成不可预测的不透明会话 token。
func NewSessionToken() string {
	return uuid.NewString()
}

// NewRoomToken 生成唯一且按时间有序的房间 token，房间 token 不会复用。
func NewRoomToken() string {
	return roomTokenPrefix + strings.ToLower(ulid.Make().String())
}

// BearerToken 从 Authorization 头提取 token，无法设置请求头的客户端可改用 token 查询参数。
func BearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// SessionMiddleware 拒绝没有有效会话 token 的请求，并把解析出的用户写入 "user"。
func SessionMiddleware(sessions *service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		user, err := sessions.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, service.ErrInvalidSession) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
				return
			}
			log.Error().Err(err).Msg("validate session")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
			return
		}
		c.Set("user", user)
		c.Set("token", token)
		c.Next()
	}
}

func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get("user"); ok {
		if u, ok2 := v.(*models.User); ok2 {
			return u
		}
	}
	return nil
}

func CurrentToken(c *gin.Context) string {
	return c.GetString("token")
}
