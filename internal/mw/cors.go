package mw

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// CORS 返回跨域中间件，来源判定规则见 OriginAllowed。
func CORS(env string, origins []string) gin.HandlerFunc {
	allowed := OriginSet(origins)
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		if OriginAllowed(origin, c.Request.Host, env, allowed) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// OriginSet 将配置的来源列表转成查找表。
func OriginSet(origins []string) map[string]bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return allowed
}

// OriginAllowed 判断 origin 能否访问 host 上的服务：配置了列表则以列表为准，
// 否则 dev 环境允许所有来源，其余环境只允许同源。
func OriginAllowed(origin, host, env string, allowed map[string]bool) bool {
	if len(allowed) > 0 {
		return allowed[origin] || allowed["*"]
	}
	if env == "dev" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == host
}
