package ws

import (
	"encoding/json"
	"time"
)

// 客户端 -> 服务端事件类型。
const (
	evtAuthenticate  = "authenticate"
	evtJoin          = "join"
	evtMessage       = "message"
	evtJoinPartyRoom = "join_party_room"
	evtPartyMessage  = "party_message"
	evtVideoSync     = "video_sync"
)

// 服务端 -> 客户端事件类型。
const (
	evtLoadMessages = "load_messages"
	evtAuthSuccess  = "auth_success"
	evtAuthError    = "auth_error"
	evtTokenCreated = "token_created"
	evtUserJoined   = "user_joined"
	evtActiveUsers  = "active_users"
	evtJoinError    = "join_error"
	evtChatError    = "chat_error"
	evtPartyJoined  = "party_joined"
	evtPartyError   = "party_error"
	evtPartyMembers = "party_members"
	evtPartyEnded   = "party_ended"
	evtRateLimited  = "rate_limited"
)

const (
	partySystemName   = "Party System"
	partySystemAvatar = "https://ui-avatars.com/api/?name=Party"
)

// Frame 是双向事件共用的信封。
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func encode(typ string, data interface{}) []byte {
	b, err := json.Marshal(outFrame{Type: typ, Data: data})
	if err != nil {
		// Payloads are plain structs; this only fires on a programming error.
		b, _ = json.Marshal(outFrame{Type: typ})
	}
	return b
}

func errorFrame(typ, msg string) []byte {
	return encode(typ, errorPayload{Message: msg})
}

type errorPayload struct {
	Message string `json:"message"`
}

type authPayload struct {
	Token string `json:"token"`
}

type joinPayload struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type messagePayload struct {
	Message string `json:"message"`
}

type partyJoinPayload struct {
	RoomToken string `json:"roomToken"`
	UserToken string `json:"userToken"`
}

type identityPayload struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type tokenPayload struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type partyJoinedPayload struct {
	RoomToken string `json:"roomToken"`
	RoomName  string `json:"roomName"`
	IsHost    bool   `json:"isHost"`
}

type partyMessage struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Avatar    string    `json:"avatar"`
}

type memberPayload struct {
	Username string `json:"username"`
}

// decode 将缺失的载荷视为零值。
func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
