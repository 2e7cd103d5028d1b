package models

import "time"

// User 是聊天身份；会话签发前以及作废之后 Token 为 nil。
type User struct {
	ID          uint    `gorm:"primaryKey"`
	Username    string  `gorm:"uniqueIndex;size:64;not null"`
	Avatar      string  `gorm:"size:512"`
	Token       *string `gorm:"uniqueIndex;size:128"`
	TokenExpiry *time.Time
	LastSeen    time.Time `gorm:"index"`
}

type Message struct {
	ID        uint      `gorm:"primaryKey"`
	Username  string    `gorm:"size:64;not null"`
	Message   string    `gorm:"type:text;not null"`
	Timestamp time.Time `gorm:"index;not null"`
	Avatar    string    `gorm:"size:512"`
}

type PartyRoom struct {
	ID        uint   `gorm:"primaryKey"`
	RoomName  string `gorm:"size:128;not null"`
	RoomToken string `gorm:"uniqueIndex;size:64;not null"`
	HostToken string `gorm:"size:128;not null"`
	Active    bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
}

type PartyMember struct {
	ID        uint   `gorm:"primaryKey"`
	RoomToken string `gorm:"uniqueIndex:idx_member_room_user;size:64;not null"`
	UserToken string `gorm:"uniqueIndex:idx_member_room_user;size:128;not null"`
	Username  string `gorm:"size:64;not null"`
	JoinedAt  time.Time
}
