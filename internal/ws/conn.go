package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"animehub/internal/mw"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	sendQueueSize = 256
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 30 * time.Second
	maxFrameSize  = 64 << 10
)

// Client 表示一条在线连接；测试中 conn 为 nil，直接从 send 读取帧。
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	mu   sync.Mutex
	sess ConnectionSession
}

func newClient(conn *websocket.Conn, limiter *rate.Limiter) *Client {
	return &Client{conn: conn, send: make(chan []byte, sendQueueSize), limiter: limiter}
}

// Session 返回连接状态的副本。
func (c *Client) Session() ConnectionSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Client) update(fn func(*ConnectionSession)) ConnectionSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.sess)
	return c.sess
}

// detach 在会话绑定到 room 时解除绑定；token 非空时还要求以该 token 加入。
func (c *Client) detach(room, token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess.Room != room || (token != "" && c.sess.PartyToken != token) {
		return false
	}
	c.sess.unbind()
	return true
}

func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func newUpgrader(env string, origins []string) websocket.Upgrader {
	allowed := mw.OriginSet(origins)
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || mw.OriginAllowed(origin, r.Host, env, allowed)
		},
	}
}

// Serve 升级请求并驱动连接直到关闭。
func (r *Relay) Serve() gin.HandlerFunc {
	upgrader := newUpgrader(r.opts.Env, r.opts.AllowedOrigins)
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade")
			return
		}
		client := newClient(conn, r.newLimiter())
		go client.writePump()
		r.Connect(c.Request.Context(), client)
		client.readPump(r)
	}
}

func (c *Client) readPump(r *Relay) {
	defer func() {
		r.Disconnect(context.Background(), c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read")
			}
			return
		}
		var in Frame
		if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
			continue
		}
		r.Handle(context.Background(), c, in)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
