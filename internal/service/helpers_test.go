package service

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"animehub/internal/db"
	"animehub/internal/store"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func sequence(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

type testEnv struct {
	store    *store.Store
	clock    *fakeClock
	sessions *SessionService
	rooms    *RoomService
	messages *MessageService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb, err := db.Connect("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	st := store.New(gdb)
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	sessions := NewSessionService(st, 24*time.Hour, sequence("tok"))
	sessions.SetClock(clock.Now)
	rooms := NewRoomService(st, sessions, sequence("party"))
	rooms.SetClock(clock.Now)
	messages := NewMessageService(st)
	messages.SetClock(clock.Now)
	return &testEnv{store: st, clock: clock, sessions: sessions, rooms: rooms, messages: messages}
}

// identify issues a fresh session for username and returns its token.
func (e *testEnv) identify(t *testing.T, username string) string {
	t.Helper()
	id, err := e.sessions.CreateOrRefresh(ctxBG, username, "", "")
	if err != nil {
		t.Fatalf("CreateOrRefresh(%q) error = %v", username, err)
	}
	return id.Token
}
