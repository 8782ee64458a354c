package session_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/commonroom/internal/adapters/bus"
	"github.com/dkeye/commonroom/internal/app/rendezvous"
	"github.com/dkeye/commonroom/internal/app/session"
	"github.com/dkeye/commonroom/internal/core"
	"github.com/dkeye/commonroom/internal/domain"
	"github.com/stretchr/testify/require"
)

const waitFor = time.Second

var testRooms = []domain.RoomInfo{
	{Slug: "lobby", Label: "Lobby", MapURL: "/maps/lobby.json", Tilesets: []domain.Tileset{{Name: "interior", URL: "/tiles/interior.png"}}},
	{Slug: "garden", Label: "Garden", MapURL: "/maps/garden.json"},
}

type fakeConn struct {
	frames chan []byte
	closed atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 256)}
}

func (c *fakeConn) TrySend(f core.Frame) error {
	if c.closed.Load() {
		return core.ErrConnectionClosed
	}
	select {
	case c.frames <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *fakeConn) Close() { c.closed.Store(true) }

// expect reads frames until one of type typ arrives.
func (c *fakeConn) expect(t *testing.T, typ string) session.Envelope {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case f := <-c.frames:
			var env session.Envelope
			require.NoError(t, json.Unmarshal(f, &env))
			if env.Type == typ {
				return env
			}
		case <-deadline:
			t.Fatalf("no %s frame", typ)
		}
	}
}

// none asserts that no frame of type typ arrives for a short while.
func (c *fakeConn) none(t *testing.T, typ string) {
	t.Helper()
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case f := <-c.frames:
			var env session.Envelope
			require.NoError(t, json.Unmarshal(f, &env))
			require.NotEqual(t, typ, env.Type, "unexpected frame %s", f)
		case <-deadline:
			return
		}
	}
}

type fakeStore struct {
	mu      sync.Mutex
	users   map[string]*domain.Identity
	tokens  map[string]string
	blocked map[domain.UserID][]domain.UserID
}

func newFakeStore() *fakeStore {
	s := &fakeStore{
		users:   make(map[string]*domain.Identity),
		tokens:  make(map[string]string),
		blocked: make(map[domain.UserID][]domain.UserID),
	}
	s.add("a", "alice", "alice.png")
	s.add("b", "bob", "")
	s.add("c", "carol", "", domain.RoleAdmin)
	return s
}

func (s *fakeStore) add(id domain.UserID, name, avatar string, roles ...string) {
	u, _ := domain.NewIdentity(id, name)
	u.Email = name + "@example.org"
	u.Avatar = avatar
	u.Roles = append(u.Roles, roles...)
	s.users[u.Email] = u
	s.tokens[u.Email] = "tok-" + string(id)
}

func (s *fakeStore) Authenticate(_ context.Context, email, token string) (*domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok || s.tokens[email] != token {
		return nil, core.ErrInvalidCredentials
	}
	return u.Clone(), nil
}

func (s *fakeStore) BlockUser(_ context.Context, user, blocked domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[user] = append(s.blocked[user], blocked)
	return nil
}

func (s *fakeStore) UnblockUser(_ context.Context, user, blocked domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.blocked[user]
	for i, id := range list {
		if id == blocked {
			s.blocked[user] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

type harness struct {
	bus   *bus.Memory
	store *fakeStore
	disp  *session.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := bus.NewMemory()
	t.Cleanup(func() { b.Close() })
	store := newFakeStore()
	disp, err := session.NewDispatcher(session.DefaultModules(store, testRooms, true)...)
	require.NoError(t, err)
	return &harness{bus: b, store: store, disp: disp}
}

func (h *harness) withBroker(t *testing.T) *rendezvous.Broker {
	t.Helper()
	broker := rendezvous.New(h.bus)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = broker.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	select {
	case <-broker.Ready():
	case <-time.After(waitFor):
		t.Fatal("broker did not start")
	}
	return broker
}

func (h *harness) connect(t *testing.T, id core.ConnID) (*session.Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := session.New(context.Background(), id, conn, h.bus, h.disp, session.Options{
		AvatarPrefix: "/avatars",
		CloseGrace:   time.Second,
	})
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	conn.expect(t, "authentication-required")
	return s, conn
}

// login connects and authenticates as the named fake user.
func (h *harness) login(t *testing.T, name string) (*session.Session, *fakeConn) {
	t.Helper()
	s, conn := h.connect(t, core.ConnID("conn-"+name))
	email := name + "@example.org"
	send(s, "authenticate", map[string]any{"email": email, "token": h.store.tokens[email], "remember": true})
	conn.expect(t, "authenticated")
	return s, conn
}

func (h *harness) spy(t *testing.T, pattern string) core.Subscription {
	t.Helper()
	sub, err := h.bus.Subscribe(context.Background(), pattern)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Unsubscribe() })
	return sub
}

func send(s *session.Session, typ string, payload any) {
	frame := map[string]any{"type": typ}
	if payload != nil {
		frame["payload"] = payload
	}
	data, _ := json.Marshal(frame)
	s.Handle(context.Background(), data)
}

func decodeInto(t *testing.T, raw json.RawMessage, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v))
}

func received(t *testing.T, sub core.Subscription) core.Message {
	t.Helper()
	select {
	case m := <-sub.Messages():
		return m
	case <-time.After(waitFor):
		t.Fatalf("nothing published on %s", sub.Pattern())
	}
	return core.Message{}
}

func quiet(t *testing.T, sub core.Subscription) {
	t.Helper()
	select {
	case m := <-sub.Messages():
		t.Fatalf("unexpected publish on %s: %s", m.Topic, m.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, waitFor, 10*time.Millisecond)
}
