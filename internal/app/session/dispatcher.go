package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/commonroom/internal/core"
	"github.com/rs/zerolog/log"
)

var (
	ErrBadPayload      = errors.New("bad payload")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrDuplicateRoute  = errors.New("duplicate route")
)

// Handler serves one client message type. It runs with the session locked.
type Handler func(ctx context.Context, s *Session, payload json.RawMessage) error

// TopicHandler serves one bus delivery. It runs with the session locked.
type TopicHandler func(ctx context.Context, s *Session, m core.Message) error

type MessageRoute struct {
	Type string
	// Public routes are served before authentication.
	Public bool
	Handle Handler
}

type TopicRoute struct {
	Pattern string
	Handle  TopicHandler
}

// Module is one feature of a connection: the client messages it accepts
// and the bus topics it consumes.
type Module interface {
	Name() string
	Messages() []MessageRoute
	Topics() []TopicRoute
}

// Opener modules run when the connection opens.
type Opener interface {
	OnOpen(ctx context.Context, s *Session) error
}

// Closer modules run when the connection closes, before listeners stop.
type Closer interface {
	OnClose(ctx context.Context, s *Session) error
}

type messageEntry struct {
	module string
	route  MessageRoute
}

type topicEntry struct {
	module string
	route  TopicRoute
}

// Dispatcher is built once from the module list and shared by every session.
type Dispatcher struct {
	modules  []Module
	messages map[string]messageEntry
	topics   []topicEntry
}

func NewDispatcher(modules ...Module) (*Dispatcher, error) {
	d := &Dispatcher{
		modules:  modules,
		messages: make(map[string]messageEntry),
	}
	for _, m := range modules {
		for _, r := range m.Messages() {
			if prev, ok := d.messages[r.Type]; ok {
				return nil, fmt.Errorf("%w: %s registered by %s and %s", ErrDuplicateRoute, r.Type, prev.module, m.Name())
			}
			d.messages[r.Type] = messageEntry{module: m.Name(), route: r}
		}
		for _, r := range m.Topics() {
			d.topics = append(d.topics, topicEntry{module: m.Name(), route: r})
		}
	}
	return d, nil
}

func (d *Dispatcher) Modules() []Module { return d.modules }

// Envelope is the client wire frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (d *Dispatcher) dispatch(ctx context.Context, s *Session, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Type == "" {
		log.Warn().Str("module", "session").Str("sid", string(s.id)).Msg("bad envelope")
		return
	}
	entry, ok := d.messages[env.Type]
	if !ok {
		log.Debug().Str("module", "session").Str("sid", string(s.id)).Str("type", env.Type).Msg("unknown message type")
		return
	}
	l := log.With().Str("module", entry.module).Str("sid", string(s.id)).Str("type", env.Type).Logger()

	if !entry.route.Public && s.identity == nil {
		l.Warn().Msg("message requires authentication")
		return
	}
	err := entry.route.Handle(ctx, s, env.Payload)
	switch {
	case err == nil:
	case errors.Is(err, ErrBadPayload), errors.Is(err, ErrUnauthenticated):
		l.Warn().Err(err).Msg("dropped")
	default:
		l.Error().Err(err).Msg("handler failed")
		s.sendError(env.Type, err)
	}
}

func (d *Dispatcher) route(ctx context.Context, s *Session, m core.Message) {
	for _, e := range d.topics {
		if !core.MatchTopic(e.route.Pattern, m.Topic) {
			continue
		}
		if err := e.route.Handle(ctx, s, m); err != nil {
			log.Warn().Str("module", e.module).Str("sid", string(s.id)).Str("topic", m.Topic).Err(err).Msg("delivery failed")
		}
		return
	}
	log.Debug().Str("module", "session").Str("sid", string(s.id)).Str("topic", m.Topic).Msg("unrouted delivery")
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing payload", ErrBadPayload)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
