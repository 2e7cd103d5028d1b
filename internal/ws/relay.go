package ws

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"animehub/internal/metrics"
	"animehub/internal/service"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Options 调整 relay 的行为参数。
type Options struct {
	Backlog        int
	ActiveWindow   time.Duration
	PresenceGrace  time.Duration
	EventsPerSec   float64
	EventBurst     int
	Env            string
	AllowedOrigins []string
}

// Relay 是实时事件引擎，驱动每条连接的状态机并通过 hub 扇出。
// handler 在连接自己的读 goroutine 上执行，同一连接的事件按序处理。
type Relay struct {
	hub      *Hub
	sessions *service.SessionService
	rooms    *service.RoomService
	messages *service.MessageService
	opts     Options
	anon     atomic.Int64
	now      service.Clock
}

func NewRelay(hub *Hub, sessions *service.SessionService, rooms *service.RoomService, messages *service.MessageService, opts Options) *Relay {
	if opts.Backlog <= 0 {
		opts.Backlog = 50
	}
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = 5 * time.Minute
	}
	return &Relay{
		hub:      hub,
		sessions: sessions,
		rooms:    rooms,
		messages: messages,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换派对消息时间戳使用的时钟。
func (r *Relay) SetClock(c service.Clock) { r.now = c }

func (r *Relay) newLimiter() *rate.Limiter {
	if r.opts.EventsPerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := r.opts.EventBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r.opts.EventsPerSec), burst)
}

// Connect 将 c 注册为匿名连接并推送聊天历史。
func (r *Relay) Connect(ctx context.Context, c *Client) {
	name := "Anonymous_" + strconv.FormatInt(r.anon.Add(1), 10)
	c.update(func(s *ConnectionSession) {
		*s = ConnectionSession{State: Anonymous, Username: name, Avatar: service.DefaultAvatar(name)}
	})
	r.hub.Register(c)

	backlog, err := r.messages.Recent(ctx, r.opts.Backlog)
	if err != nil {
		log.Error().Err(err).Msg("load chat backlog")
		backlog = []service.MessageDTO{}
	}
	r.hub.Send(c, encode(evtLoadMessages, backlog))
	r.broadcastActive(ctx)
}

// Handle 分发一个入站事件，失败只回复给 c，不会断开连接。
func (r *Relay) Handle(ctx context.Context, c *Client, in Frame) {
	if !c.allow() {
		r.hub.Send(c, errorFrame(evtRateLimited, "Too many events, slow down"))
		return
	}
	metrics.WsEventsTotal.WithLabelValues(in.Type).Inc()
	switch in.Type {
	case evtAuthenticate:
		r.authenticate(ctx, c, in)
	case evtJoin:
		r.join(ctx, c, in)
	case evtMessage:
		r.message(ctx, c, in)
	case evtJoinPartyRoom:
		r.joinPartyRoom(ctx, c, in)
	case evtPartyMessage:
		r.partyMessage(ctx, c, in)
	case evtVideoSync:
		r.videoSync(c, in)
	default:
		log.Debug().Str("event", in.Type).Msg("unknown websocket event")
	}
}

func (r *Relay) authenticate(ctx context.Context, c *Client, in Frame) {
	var p authPayload
	if err := decode(in.Data, &p); err != nil {
		r.hub.Send(c, errorFrame(evtAuthError, "Invalid token"))
		return
	}
	if strings.TrimSpace(p.Token) == "" {
		r.hub.Send(c, errorFrame(evtAuthError, "No token provided"))
		return
	}
	user, err := r.sessions.Validate(ctx, p.Token)
	if err != nil {
		r.hub.Send(c, errorFrame(evtAuthError, authMessage(err)))
		return
	}
	if err := r.sessions.Extend(ctx, p.Token); err != nil {
		log.Debug().Err(err).Str("username", user.Username).Msg("extend session")
	}
	avatar := user.Avatar
	if avatar == "" {
		avatar = service.DefaultAvatar(user.Username)
	}
	c.update(func(s *ConnectionSession) { s.identify(user.Username, avatar, p.Token) })

	id := identityPayload{Username: user.Username, Avatar: avatar}
	r.hub.Send(c, encode(evtAuthSuccess, id))
	r.hub.Broadcast(encode(evtUserJoined, id))
	r.broadcastActive(ctx)
}

func (r *Relay) join(ctx context.Context, c *Client, in Frame) {
	var p joinPayload
	if err := decode(in.Data, &p); err != nil {
		r.hub.Send(c, errorFrame(evtJoinError, "Invalid join request"))
		return
	}
	sess := c.Session()
	username := strings.TrimSpace(p.Username)
	if username == "" {
		username = sess.Username
	}
	id, err := r.sessions.CreateOrRefresh(ctx, username, p.Avatar, "")
	if err != nil {
		msg := "Failed to join chat"
		if errors.Is(err, service.ErrInvalidName) {
			msg = "Invalid username"
		} else {
			log.Error().Err(err).Str("username", username).Msg("create session")
		}
		r.hub.Send(c, errorFrame(evtJoinError, msg))
		return
	}
	c.update(func(s *ConnectionSession) { s.identify(id.Username, id.Avatar, id.Token) })

	r.hub.Send(c, encode(evtTokenCreated, tokenPayload{Token: id.Token, Username: id.Username, Avatar: id.Avatar}))
	r.hub.Broadcast(encode(evtUserJoined, identityPayload{Username: id.Username, Avatar: id.Avatar}))
	r.broadcastActive(ctx)
	r.systemMessage(ctx, id.Username+" has joined the chat")
}

func (r *Relay) message(ctx context.Context, c *Client, in Frame) {
	sess := c.Session()
	if sess.State == Anonymous {
		r.hub.Send(c, errorFrame(evtAuthError, "Join the chat before sending messages"))
		return
	}
	var p messagePayload
	if err := decode(in.Data, &p); err != nil {
		r.hub.Send(c, errorFrame(evtChatError, "Invalid message"))
		return
	}
	msg, err := r.messages.Append(ctx, sess.Username, sess.Avatar, p.Message)
	if err != nil {
		if errors.Is(err, service.ErrEmptyMessage) {
			r.hub.Send(c, errorFrame(evtChatError, "Message is empty"))
			return
		}
		log.Error().Err(err).Str("username", sess.Username).Msg("save chat message")
		r.hub.Send(c, errorFrame(evtChatError, "Message could not be saved"))
		return
	}
	r.hub.Broadcast(encode(evtMessage, msg))
	r.keepAlive(ctx, sess)
}

func (r *Relay) joinPartyRoom(ctx context.Context, c *Client, in Frame) {
	sess := c.Session()
	if sess.State == Anonymous {
		r.hub.Send(c, errorFrame(evtPartyError, "Join the chat before joining a watch party"))
		return
	}
	var p partyJoinPayload
	if err := decode(in.Data, &p); err != nil || p.RoomToken == "" || p.UserToken == "" {
		r.hub.Send(c, errorFrame(evtPartyError, "Room token and user token are required"))
		return
	}
	m, err := r.rooms.Join(ctx, p.RoomToken, p.UserToken)
	if err != nil {
		if !errors.Is(err, service.ErrInvalidSession) && !errors.Is(err, service.ErrRoomNotFound) {
			log.Error().Err(err).Str("room_token", p.RoomToken).Msg("join party room")
		}
		r.hub.Send(c, errorFrame(evtPartyError, partyMessageFor(err)))
		return
	}

	// 切换房间时按完整的离开语义退出旧房间。
	if sess.State == InRoom && (sess.Room != m.RoomToken || sess.PartyToken != p.UserToken) {
		dep := r.leave(ctx, c, sess.Room, sess.PartyToken, sess.Username)
		if dep != nil && dep.Ended && dep.RoomToken == m.RoomToken {
			// 以房主 token 离开会结束刚加入的房间。
			r.hub.Send(c, errorFrame(evtPartyError, partyMessageFor(service.ErrRoomNotFound)))
			return
		}
	}
	c.update(func(s *ConnectionSession) { s.bind(m.RoomToken, p.UserToken) })
	r.hub.Bind(c, m.RoomToken)

	r.hub.BroadcastRoom(m.RoomToken, nil, encode(evtPartyMessage, partyMessage{
		Username:  partySystemName,
		Message:   m.Username + " has joined the watch party",
		Timestamp: r.now(),
		Avatar:    partySystemAvatar,
	}))
	r.broadcastMembers(ctx, m.RoomToken)
	r.hub.Send(c, encode(evtPartyJoined, partyJoinedPayload{RoomToken: m.RoomToken, RoomName: m.RoomName, IsHost: m.IsHost}))
}

func (r *Relay) partyMessage(ctx context.Context, c *Client, in Frame) {
	sess := c.Session()
	if sess.State != InRoom {
		r.hub.Send(c, errorFrame(evtPartyError, partyMessageFor(service.ErrNotInRoom)))
		return
	}
	var p messagePayload
	if err := decode(in.Data, &p); err != nil || strings.TrimSpace(p.Message) == "" {
		r.hub.Send(c, errorFrame(evtPartyError, "Message is empty"))
		return
	}
	r.hub.BroadcastRoom(sess.Room, nil, encode(evtPartyMessage, partyMessage{
		Username:  sess.Username,
		Message:   p.Message,
		Timestamp: r.now(),
		Avatar:    sess.Avatar,
	}))
	r.keepAlive(ctx, sess)
}

// videoSync 将载荷原样转发给房间内的其他连接。
func (r *Relay) videoSync(c *Client, in Frame) {
	sess := c.Session()
	if sess.State != InRoom {
		r.hub.Send(c, errorFrame(evtPartyError, partyMessageFor(service.ErrNotInRoom)))
		return
	}
	r.hub.BroadcastRoom(sess.Room, c, encode(evtVideoSync, in.Data))
}

// Disconnect 执行终止状态转换：已绑定房间时先离开，再发出全局离开通知。
func (r *Relay) Disconnect(ctx context.Context, c *Client) {
	var prev ConnectionSession
	c.update(func(s *ConnectionSession) {
		prev = *s
		s.State = Disconnected
	})
	if prev.State == Disconnected {
		return
	}
	if prev.State == InRoom {
		r.leave(ctx, c, prev.Room, prev.PartyToken, prev.Username)
	}
	r.hub.Unregister(c)

	if _, err := r.systemMessageErr(ctx, prev.Username+" has left the chat"); err != nil {
		return
	}
	time.AfterFunc(r.opts.PresenceGrace, func() {
		r.broadcastActive(context.Background())
	})
}

// LeaveParty 是 HTTP 离开接口的实现，绑定该房间的在线连接收到与断线时相同的通知。
func (r *Relay) LeaveParty(ctx context.Context, roomToken, userToken string) (*service.Departure, error) {
	dep, err := r.rooms.Leave(ctx, roomToken, userToken)
	if err != nil && dep == nil {
		return nil, err
	}
	if !dep.Ended {
		r.hub.Detach(roomToken, userToken)
	}
	r.notifyDeparture(ctx, dep, "")
	return dep, err
}

// BroadcastMembers 向房间推送当前成员列表。
func (r *Relay) BroadcastMembers(ctx context.Context, roomToken string) {
	r.broadcastMembers(ctx, roomToken)
}

func (r *Relay) leave(ctx context.Context, c *Client, room, userToken, username string) *service.Departure {
	c.update(func(s *ConnectionSession) {
		if s.Room == room {
			s.unbind()
		}
	})
	r.hub.Unbind(c, room)
	dep, err := r.rooms.Leave(ctx, room, userToken)
	if err != nil {
		log.Error().Err(err).Str("room_token", room).Msg("leave party room")
		if dep == nil {
			return nil
		}
	}
	r.notifyDeparture(ctx, dep, username)
	return dep
}

func (r *Relay) notifyDeparture(ctx context.Context, dep *service.Departure, fallback string) {
	if dep.Ended {
		log.Info().Str("room_token", dep.RoomToken).Msg("watch party ended")
		r.hub.EndRoom(dep.RoomToken, errorFrame(evtPartyEnded, "The host has left the watch party"))
		return
	}
	name := dep.Username
	if name == "" {
		name = fallback
	}
	if name != "" {
		r.hub.BroadcastRoom(dep.RoomToken, nil, encode(evtPartyMessage, partyMessage{
			Username:  partySystemName,
			Message:   name + " has left the watch party",
			Timestamp: r.now(),
			Avatar:    partySystemAvatar,
		}))
	}
	r.broadcastMembers(ctx, dep.RoomToken)
}

func (r *Relay) broadcastMembers(ctx context.Context, room string) {
	names, err := r.rooms.Members(ctx, room)
	if err != nil {
		log.Error().Err(err).Str("room_token", room).Msg("list party members")
		return
	}
	members := make([]memberPayload, 0, len(names))
	for _, n := range names {
		members = append(members, memberPayload{Username: n})
	}
	r.hub.BroadcastRoom(room, nil, encode(evtPartyMembers, members))
}

func (r *Relay) broadcastActive(ctx context.Context) {
	users, err := r.sessions.Active(ctx, r.opts.ActiveWindow)
	if err != nil {
		log.Error().Err(err).Msg("list active users")
		return
	}
	r.hub.Broadcast(encode(evtActiveUsers, users))
}

func (r *Relay) systemMessage(ctx context.Context, text string) {
	_, _ = r.systemMessageErr(ctx, text)
}

// systemMessageErr 保存系统通知，保存成功后才转发。
func (r *Relay) systemMessageErr(ctx context.Context, text string) (*service.MessageDTO, error) {
	msg, err := r.messages.AppendSystem(ctx, text)
	if err != nil {
		log.Error().Err(err).Msg("save system message")
		return nil, err
	}
	r.hub.Broadcast(encode(evtMessage, msg))
	return msg, nil
}

// keepAlive 顺延发送者的会话；没有 token 的用户只更新在线时间。
func (r *Relay) keepAlive(ctx context.Context, sess ConnectionSession) {
	if sess.Token != "" {
		if err := r.sessions.Extend(ctx, sess.Token); err == nil {
			return
		}
	}
	if err := r.sessions.Touch(ctx, sess.Username); err != nil {
		log.Debug().Err(err).Str("username", sess.Username).Msg("touch user")
	}
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrSessionExpired):
		return "Session expired, please join again"
	case errors.Is(err, service.ErrInvalidSession):
		return "Invalid token"
	}
	log.Error().Err(err).Msg("validate session")
	return "Authentication is temporarily unavailable"
}

func partyMessageFor(err error) string {
	switch {
	case errors.Is(err, service.ErrSessionExpired):
		return "Session expired, please join again"
	case errors.Is(err, service.ErrInvalidSession):
		return "Invalid user token"
	case errors.Is(err, service.ErrRoomNotFound):
		return "Watch party room not found or inactive"
	case errors.Is(err, service.ErrNotInRoom):
		return "Not in a watch party room"
	}
	return "Could not join the watch party"
}
