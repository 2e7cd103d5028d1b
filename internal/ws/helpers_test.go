package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"animehub/internal/db"
	"animehub/internal/service"
	"animehub/internal/store"
)

const frameTimeout = 2 * time.Second

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type relayEnv struct {
	relay    *Relay
	hub      *Hub
	store    *store.Store
	clock    *testClock
	sessions *service.SessionService
	rooms    *service.RoomService
}

func sequence(prefix string) func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("%s-%d", prefix, n.Add(1)) }
}

// newRelayEnv wires a relay over a temporary sqlite database. wrap, when set,
// replaces the message repository.
func newRelayEnv(t *testing.T, wrap func(service.MessageRepository) service.MessageRepository) *relayEnv {
	t.Helper()
	gdb, err := db.Connect("sqlite://" + filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	st := store.New(gdb)
	clock := &testClock{t: time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)}

	var msgRepo service.MessageRepository = st
	if wrap != nil {
		msgRepo = wrap(st)
	}
	sessions := service.NewSessionService(st, 24*time.Hour, sequence("tok"))
	sessions.SetClock(clock.Now)
	rooms := service.NewRoomService(st, sessions, sequence("party"))
	rooms.SetClock(clock.Now)
	messages := service.NewMessageService(msgRepo)
	messages.SetClock(clock.Now)

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	relay := NewRelay(hub, sessions, rooms, messages, Options{Backlog: 50, PresenceGrace: time.Millisecond})
	relay.SetClock(clock.Now)

	t.Cleanup(func() {
		cancel()
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &relayEnv{relay: relay, hub: hub, store: st, clock: clock, sessions: sessions, rooms: rooms}
}

// connect opens a socket-less connection and consumes its backlog frame.
func (e *relayEnv) connect(t *testing.T) *Client {
	t.Helper()
	c := newClient(nil, nil)
	e.relay.Connect(context.Background(), c)
	expect(t, c, evtLoadMessages)
	return c
}

// identify runs the join event and returns the issued token.
func (e *relayEnv) identify(t *testing.T, c *Client, username string) string {
	t.Helper()
	e.send(t, c, evtJoin, joinPayload{Username: username})
	var p tokenPayload
	expectData(t, c, evtTokenCreated, &p)
	return p.Token
}

// enterRoom joins c to room with token and returns the party_joined reply.
func (e *relayEnv) enterRoom(t *testing.T, c *Client, room, token string) partyJoinedPayload {
	t.Helper()
	e.send(t, c, evtJoinPartyRoom, partyJoinPayload{RoomToken: room, UserToken: token})
	var p partyJoinedPayload
	expectData(t, c, evtPartyJoined, &p)
	return p
}

func (e *relayEnv) send(t *testing.T, c *Client, typ string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	e.relay.Handle(context.Background(), c, Frame{Type: typ, Data: raw})
}

func next(t *testing.T, c *Client) (Frame, bool) {
	t.Helper()
	select {
	case b, ok := <-c.send:
		if !ok {
			return Frame{}, false
		}
		var f Frame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("bad frame %s: %v", b, err)
		}
		return f, true
	case <-time.After(frameTimeout):
		return Frame{}, false
	}
}

// expect skips frames until one of type typ arrives.
func expect(t *testing.T, c *Client, typ string) Frame {
	t.Helper()
	for {
		f, ok := next(t, c)
		if !ok {
			t.Fatalf("no %q frame received", typ)
		}
		if f.Type == typ {
			return f
		}
	}
}

func expectData(t *testing.T, c *Client, typ string, v interface{}) {
	t.Helper()
	f := expect(t, c, typ)
	if err := json.Unmarshal(f.Data, v); err != nil {
		t.Fatalf("decode %s payload %s: %v", typ, f.Data, err)
	}
}

// expectNone drains c for d and fails if a frame of type typ shows up.
func expectNone(t *testing.T, c *Client, typ string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return
			}
			var f Frame
			_ = json.Unmarshal(b, &f)
			if f.Type == typ {
				t.Fatalf("unexpected %q frame: %s", typ, b)
			}
		case <-deadline:
			return
		}
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(frameTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
