package service

import (
	"context"
	"strings"

	"animehub/internal/models"

	"github.com/rs/zerolog/log"
)

const maxRoomNameLen = 128

// RoomService 是观影派对的房间注册表。
// 房主就是创建房间时使用的会话 token，换新 token 重连不会继承房主身份。
type RoomService struct {
	rooms    RoomRepository
	sessions *SessionService
	newToken func() string
	now      Clock
}

func NewRoomService(rooms RoomRepository, sessions *SessionService, newToken func() string) *RoomService {
	return &RoomService{rooms: rooms, sessions: sessions, newToken: newToken, now: systemClock}
}

// SetClock 替换时钟。
func (s *RoomService) SetClock(c Clock) { s.now = c }

// CreatedRoom 是 Create 的返回值。
type CreatedRoom struct {
	RoomToken    string `json:"roomToken"`
	RoomName     string `json:"roomName"`
	HostUsername string `json:"hostUsername"`
}

// Create 创建由 hostToken 主持的房间，并把房主加入为第一个成员。
func (s *RoomService) Create(ctx context.Context, name, hostToken string) (*CreatedRoom, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxRoomNameLen {
		return nil, ErrInvalidName
	}
	host, err := s.sessions.Validate(ctx, hostToken)
	if err != nil {
		return nil, err
	}
	s.extend(ctx, hostToken)

	now := s.now()
	room := &models.PartyRoom{
		RoomName:  name,
		RoomToken: s.newToken(),
		HostToken: *host.Token,
		Active:    true,
		CreatedAt: now,
	}
	if err := s.rooms.CreateRoom(ctx, room); err != nil {
		return nil, storageErr("create room", err)
	}
	member := &models.PartyMember{
		RoomToken: room.RoomToken,
		UserToken: room.HostToken,
		Username:  host.Username,
		JoinedAt:  now,
	}
	if err := s.rooms.AddMember(ctx, member); err != nil {
		return nil, storageErr("add host", err)
	}
	return &CreatedRoom{RoomToken: room.RoomToken, RoomName: room.RoomName, HostUsername: host.Username}, nil
}

// Membership 描述一次成功的加入。
type Membership struct {
	RoomToken string `json:"roomToken"`
	RoomName  string `json:"roomName"`
	IsHost    bool   `json:"isHost"`
	Username  string `json:"-"`
	Rejoined  bool   `json:"-"`
}

// Join 将 userToken 加入活跃房间；重复加入返回已有成员信息，不会插入第二行。
func (s *RoomService) Join(ctx context.Context, roomToken, userToken string) (*Membership, error) {
	user, err := s.sessions.Validate(ctx, userToken)
	if err != nil {
		return nil, err
	}
	room, err := s.activeRoom(ctx, roomToken)
	if err != nil {
		return nil, err
	}
	s.extend(ctx, userToken)

	out := &Membership{
		RoomToken: room.RoomToken,
		RoomName:  room.RoomName,
		IsHost:    room.HostToken == userToken,
		Username:  user.Username,
	}
	existing, err := s.rooms.Member(ctx, roomToken, userToken)
	if err != nil {
		return nil, storageErr("lookup member", err)
	}
	if existing != nil {
		out.Rejoined = true
		return out, nil
	}
	member := &models.PartyMember{
		RoomToken: roomToken,
		UserToken: userToken,
		Username:  user.Username,
		JoinedAt:  s.now(),
	}
	if err := s.rooms.AddMember(ctx, member); err != nil {
		return nil, storageErr("add member", err)
	}
	return out, nil
}

// Departure 描述 Leave 的结果，房主离开导致房间停用时 Ended 为 true。
type Departure struct {
	RoomToken string
	Username  string
	Ended     bool
}

// Leave 将 userToken 移出房间；若为房主则停用房间并删除所有成员行，分两次写入。
func (s *RoomService) Leave(ctx context.Context, roomToken, userToken string) (*Departure, error) {
	room, err := s.rooms.RoomByToken(ctx, roomToken)
	if err != nil {
		return nil, storageErr("lookup room", err)
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	out := &Departure{RoomToken: roomToken}
	if userToken != "" && room.HostToken == userToken {
		out.Ended = true
		if err := s.rooms.DeactivateRoom(ctx, roomToken); err != nil {
			return nil, storageErr("deactivate room", err)
		}
		if err := s.rooms.RemoveMembers(ctx, roomToken); err != nil {
			return out, storageErr("remove members", err)
		}
		return out, nil
	}
	member, err := s.rooms.Member(ctx, roomToken, userToken)
	if err != nil {
		return nil, storageErr("lookup member", err)
	}
	if member != nil {
		out.Username = member.Username
	}
	if err := s.rooms.RemoveMember(ctx, roomToken, userToken); err != nil {
		return nil, storageErr("remove member", err)
	}
	return out, nil
}

// Members 按加入顺序列出成员用户名。
func (s *RoomService) Members(ctx context.Context, roomToken string) ([]string, error) {
	members, err := s.rooms.Members(ctx, roomToken)
	if err != nil {
		return nil, storageErr("list members", err)
	}
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Username)
	}
	return out, nil
}

// Room 返回活跃房间，否则返回 ErrRoomNotFound。
func (s *RoomService) Room(ctx context.Context, roomToken string) (*models.PartyRoom, error) {
	return s.activeRoom(ctx, roomToken)
}

func (s *RoomService) activeRoom(ctx context.Context, roomToken string) (*models.PartyRoom, error) {
	if strings.TrimSpace(roomToken) == "" {
		return nil, ErrRoomNotFound
	}
	room, err := s.rooms.RoomByToken(ctx, roomToken)
	if err != nil {
		return nil, storageErr("lookup room", err)
	}
	if room == nil || !room.Active {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

func (s *RoomService) extend(ctx context.Context, token string) {
	if err := s.sessions.Extend(ctx, token); err != nil {
		log.Debug().Err(err).Msg("extend session")
	}
}
