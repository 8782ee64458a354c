// Package session implements the per-connection state machine: identity,
// current room, current video session and the bus listeners feeding them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/commonroom/internal/core"
	"github.com/dkeye/commonroom/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrRoomActive = errors.New("room already active")

const (
	listenUser      = "user"
	listenRoom      = "room"
	listenVideo     = "video"
	listenBroadcast = "broadcast"
	listenAdmin     = "admin"
)

const DefaultCloseGrace = 2 * time.Second

type Options struct {
	// AvatarPrefix is prepended to avatar references sent to other clients.
	AvatarPrefix string
	CloseGrace   time.Duration
}

type Session struct {
	id    core.ConnID
	conn  core.SignalConnection
	bus   core.Bus
	disp  *Dispatcher
	scope *Scope
	opts  Options

	mu       sync.Mutex
	identity *domain.Identity
	room     domain.RoomName
	video    domain.VideoSessionID
	closed   bool
}

func New(ctx context.Context, id core.ConnID, conn core.SignalConnection, bus core.Bus, d *Dispatcher, opts Options) *Session {
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = DefaultCloseGrace
	}
	return &Session{
		id:    id,
		conn:  conn,
		bus:   bus,
		disp:  d,
		scope: NewScope(ctx),
		opts:  opts,
	}
}

func (s *Session) ID() core.ConnID { return s.id }

// Identity returns a copy of the authenticated identity, or nil.
func (s *Session) Identity() *domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity.Clone()
}

func (s *Session) Room() domain.RoomName {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) Video() domain.VideoSessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

// Open announces that authentication is required and starts the modules.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Info().Str("module", "session").Str("sid", string(s.id)).Msg("open")
	s.send("authentication-required", nil)
	for _, m := range s.disp.modules {
		o, ok := m.(Opener)
		if !ok {
			continue
		}
		if err := o.OnOpen(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Handle processes one client frame. Callers feed frames one at a time.
func (s *Session) Handle(ctx context.Context, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.disp.dispatch(ctx, s, frame)
}

func (s *Session) deliver(ctx context.Context, m core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.disp.route(ctx, s, m)
}

// Close publishes the pending leave events and stops every listener.
// Later calls are no-ops.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var errs []error
	for _, m := range s.disp.modules {
		c, ok := m.(Closer)
		if !ok {
			continue
		}
		if err := c.OnClose(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	s.mu.Unlock()

	errs = append(errs, s.scope.Close(s.opts.CloseGrace))
	log.Info().Str("module", "session").Str("sid", string(s.id)).Msg("closed")
	return errors.Join(errs...)
}

// listen subscribes pattern and routes its deliveries through the dispatcher.
func (s *Session) listen(ctx context.Context, key, pattern string) error {
	sub, err := s.bus.Subscribe(ctx, pattern)
	if err != nil {
		return err
	}
	return s.scope.Go(key, sub, s.deliver)
}

func (s *Session) send(typ string, payload any) {
	env := struct {
		Type    string `json:"type"`
		Payload any    `json:"payload,omitempty"`
	}{Type: typ, Payload: payload}
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("type", typ).Msg("send marshal")
		return
	}
	if err := s.conn.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "session").Str("sid", string(s.id)).Str("type", typ).Msg("send dropped")
	}
}

func (s *Session) sendError(typ string, err error) {
	code := "operation-failed"
	switch {
	case errors.Is(err, ErrRoomActive):
		code = "room-active"
	case errors.Is(err, core.ErrBusClosed):
		code = "unavailable"
	}
	s.send("error", map[string]string{"type": typ, "error": code})
}

func (s *Session) avatar() string {
	if s.identity == nil || s.identity.Avatar == "" {
		return ""
	}
	return s.opts.AvatarPrefix + "/" + s.identity.Avatar
}

// publicUser is how an identity is shown to other connections.
type publicUser struct {
	ID     domain.UserID `json:"id"`
	Name   string        `json:"name"`
	Avatar string        `json:"avatar"`
	Roles  []string      `json:"roles,omitempty"`
}

func (s *Session) asPublic(withRoles bool) publicUser {
	u := publicUser{ID: s.identity.ID, Name: s.identity.Name, Avatar: s.avatar()}
	if withRoles {
		u.Roles = s.identity.Roles
	}
	return u
}

// ownView is the identity as sent back to its owner, avatar path included.
func (s *Session) ownView() *domain.Identity {
	v := s.identity.Clone()
	v.Avatar = s.avatar()
	return v
}

func (s *Session) self() domain.UserID {
	if s.identity == nil {
		return ""
	}
	return s.identity.ID
}
