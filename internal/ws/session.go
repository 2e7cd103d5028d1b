package ws

// State 表示一条连接所处的生命周期阶段。
type State int

const (
	Anonymous State = iota
	Identified
	InRoom
	Disconnected
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Identified:
		return "identified"
	case InRoom:
		return "in_room"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// ConnectionSession 是单条连接的临时状态，只归属一个 Client，同一用户的多条连接之间也不共享。
type ConnectionSession struct {
	State    State
	Username string
	Avatar   string
	// Token 是身份背后的会话 token，可为空。
	Token string
	// Room 为绑定的房间 token；PartyToken 是加入该房间时使用的用户 token，离开时再次使用。
	Room       string
	PartyToken string
}

func (s *ConnectionSession) identify(username, avatar, token string) {
	s.Username = username
	s.Avatar = avatar
	s.Token = token
	if s.State == Anonymous {
		s.State = Identified
	}
}

func (s *ConnectionSession) bind(room, partyToken string) {
	s.Room = room
	s.PartyToken = partyToken
	s.State = InRoom
}

func (s *ConnectionSession) unbind() {
	s.Room = ""
	s.PartyToken = ""
	if s.State == InRoom {
		s.State = Identified
	}
}
