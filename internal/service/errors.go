package service

import (
	"errors"
	"fmt"
)

// service 层返回的错误，由传输层映射为定向错误事件或 HTTP 状态码。
var (
	ErrInvalidSession = errors.New("invalid session")
	ErrSessionExpired = fmt.Errorf("%w: expired", ErrInvalidSession)
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotInRoom      = errors.New("not in a watch party room")
	ErrNotIdentified  = errors.New("not identified")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrInvalidName    = errors.New("invalid name")
	ErrStorage        = errors.New("storage failure")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
