package ws

import (
	"context"
	"sync/atomic"

	"animehub/internal/metrics"

	"github.com/rs/zerolog/log"
)

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opBind
	opUnbind
	opDetach
	opEndRoom
	opBroadcast
	opSend
)

// op 是一次 hub 请求，所有请求共用一个 channel，按投递顺序执行。
type op struct {
	kind   opKind
	client *Client
	room   string
	token  string
	except *Client
	data   []byte
}

// Hub 管理在线连接集合与房间分组，只有 run 循环会访问这些 map 或写入 client 的发送队列。
type Hub struct {
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
	ops     chan op
	done    chan struct{}
	online  int32
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		rooms:   make(map[string]map[*Client]bool),
		ops:     make(chan op, 1024),
		done:    make(chan struct{}),
	}
}

// Run 处理 hub 请求直到 ctx 取消，随后关闭所有剩余的发送队列。
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			h.drop(c)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-h.ops:
			h.apply(o)
		}
	}
}

func (h *Hub) apply(o op) {
	switch o.kind {
	case opRegister:
		h.clients[o.client] = true
		atomic.StoreInt32(&h.online, int32(len(h.clients)))
		metrics.WsConnections.Inc()
	case opUnregister:
		if h.clients[o.client] {
			h.drop(o.client)
		}
	case opBind:
		if !h.clients[o.client] {
			return
		}
		h.unbindAll(o.client)
		group := h.rooms[o.room]
		if group == nil {
			group = make(map[*Client]bool)
			h.rooms[o.room] = group
		}
		group[o.client] = true
		metrics.PartyRooms.Set(float64(len(h.rooms)))
	case opUnbind:
		h.unbind(o.client, o.room)
	case opDetach:
		for c := range h.rooms[o.room] {
			if c.detach(o.room, o.token) {
				h.unbind(c, o.room)
			}
		}
	case opEndRoom:
		group := h.rooms[o.room]
		delete(h.rooms, o.room)
		metrics.PartyRooms.Set(float64(len(h.rooms)))
		for c := range group {
			c.detach(o.room, "")
			h.deliver(c, o.data)
		}
	case opBroadcast:
		targets := h.clients
		if o.room != "" {
			targets = h.rooms[o.room]
		}
		for c := range targets {
			if c != o.except {
				h.deliver(c, o.data)
			}
		}
	case opSend:
		if h.clients[o.client] {
			h.deliver(o.client, o.data)
		}
	}
}

// deliver 非阻塞地投递数据，发送队列已满的 client 会被断开。
func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		log.Warn().Str("username", c.Session().Username).Msg("dropping slow websocket client")
		metrics.WsDroppedClients.Inc()
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	h.unbindAll(c)
	close(c.send)
	atomic.StoreInt32(&h.online, int32(len(h.clients)))
	metrics.WsConnections.Dec()
}

func (h *Hub) unbind(c *Client, room string) {
	group := h.rooms[room]
	if group == nil {
		return
	}
	delete(group, c)
	if len(group) == 0 {
		delete(h.rooms, room)
	}
	metrics.PartyRooms.Set(float64(len(h.rooms)))
}

func (h *Hub) unbindAll(c *Client) {
	for room, group := range h.rooms {
		if group[c] {
			h.unbind(c, room)
		}
	}
}

func (h *Hub) post(o op) {
	select {
	case h.ops <- o:
	case <-h.done:
	}
}

func (h *Hub) Register(c *Client)   { h.post(op{kind: opRegister, client: c}) }
func (h *Hub) Unregister(c *Client) { h.post(op{kind: opUnregister, client: c}) }

// Bind 将 c 移入房间分组，并离开原来的分组。
func (h *Hub) Bind(c *Client, room string) { h.post(op{kind: opBind, client: c, room: room}) }

func (h *Hub) Unbind(c *Client, room string) { h.post(op{kind: opUnbind, client: c, room: room}) }

// Detach 解除房间内以 userToken 加入的所有连接的绑定。
func (h *Hub) Detach(room, userToken string) {
	h.post(op{kind: opDetach, room: room, token: userToken})
}

// EndRoom 向房间所有成员发送 data，然后解散分组并清除成员会话上的房间绑定。
func (h *Hub) EndRoom(room string, data []byte) {
	h.post(op{kind: opEndRoom, room: room, data: data})
}

// Broadcast 向所有连接发送 data。
func (h *Hub) Broadcast(data []byte) { h.post(op{kind: opBroadcast, data: data}) }

// BroadcastRoom 向房间内除 except 外的所有连接发送 data。
func (h *Hub) BroadcastRoom(room string, except *Client, data []byte) {
	if room == "" {
		return
	}
	h.post(op{kind: opBroadcast, room: room, except: except, data: data})
}

// Send 向单个连接投递 data。
func (h *Hub) Send(c *Client, data []byte) { h.post(op{kind: opSend, client: c, data: data}) }

// Online 返回已注册连接数量。
func (h *Hub) Online() int { return int(atomic.LoadInt32(&h.online)) }
