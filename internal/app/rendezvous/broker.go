// Package rendezvous owns the registry of ephemeral video sessions.
//
// A single Broker per process consumes enter, leave and request-user-list
// events from the bus and serializes every membership change on one loop
// goroutine. Direct method calls are queued onto the same loop.
package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dkeye/commonroom/internal/core"
	"github.com/dkeye/commonroom/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrBrokerStopped  = errors.New("rendezvous broker stopped")
	ErrInvalidPairing = errors.New("pairing needs two distinct users")
	ErrReservedName   = errors.New("session name reserved")
	ErrMintExhausted  = errors.New("could not mint a free session id")
)

const (
	PrivateSubject   = "Private chat"
	maxMintAttempts  = 8
	commandQueueSize = 16
)

type Option func(*Broker)

// WithBaseURL prefixes signaling urls, e.g. https://meet.example.org.
func WithBaseURL(u string) Option {
	return func(b *Broker) { b.baseURL = strings.TrimRight(u, "/") }
}

// WithTickets attaches signed tickets to enter notices. A nil issuer is ignored.
func WithTickets(t *TicketIssuer) Option {
	return func(b *Broker) { b.tickets = t }
}

func WithMinter(m Minter) Option {
	return func(b *Broker) { b.mint = m }
}

type Broker struct {
	bus     core.Bus
	baseURL string
	tickets *TicketIssuer
	mint    Minter

	// touched only by the loop goroutine
	sessions map[domain.VideoSessionID]*domain.VideoSession

	cmds  chan func(context.Context)
	ready chan struct{}
	done  chan struct{}
}

func New(bus core.Bus, opts ...Option) *Broker {
	b := &Broker{
		bus:      bus,
		mint:     RandomToken,
		sessions: make(map[domain.VideoSessionID]*domain.VideoSession),
		cmds:     make(chan func(context.Context), commandQueueSize),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ready is closed once the broker listens on the bus.
func (b *Broker) Ready() <-chan struct{} { return b.ready }

// Run subscribes to the broker topics and processes events until ctx is done.
// It must be called once.
func (b *Broker) Run(ctx context.Context) error {
	defer close(b.done)

	enter, err := b.bus.Subscribe(ctx, core.TopicVideoEnterAll)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", core.TopicVideoEnterAll, err)
	}
	defer enter.Unsubscribe()
	leave, err := b.bus.Subscribe(ctx, core.TopicVideoLeaveAll)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", core.TopicVideoLeaveAll, err)
	}
	defer leave.Unsubscribe()
	list, err := b.bus.Subscribe(ctx, core.TopicVideoRequestListAll)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", core.TopicVideoRequestListAll, err)
	}
	defer list.Unsubscribe()

	close(b.ready)
	log.Info().Str("module", "rendezvous").Msg("broker started")
	defer log.Info().Str("module", "rendezvous").Msg("broker stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-b.cmds:
			cmd(ctx)
		case m, ok := <-enter.Messages():
			if !ok {
				return fmt.Errorf("%s: %w", core.TopicVideoEnterAll, core.ErrBusClosed)
			}
			b.onEnter(ctx, m)
		case m, ok := <-leave.Messages():
			if !ok {
				return fmt.Errorf("%s: %w", core.TopicVideoLeaveAll, core.ErrBusClosed)
			}
			b.onLeave(ctx, m)
		case m, ok := <-list.Messages():
			if !ok {
				return fmt.Errorf("%s: %w", core.TopicVideoRequestListAll, core.ErrBusClosed)
			}
			b.onRequestList(ctx, m)
		}
	}
}

func (b *Broker) do(ctx context.Context, fn func(context.Context) error) error {
	errc := make(chan error, 1)
	cmd := func(runCtx context.Context) { errc <- fn(runCtx) }
	select {
	case b.cmds <- cmd:
	case <-b.done:
		return ErrBrokerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-b.done:
		return ErrBrokerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestPairing creates a private session holding both users and notifies each.
func (b *Broker) RequestPairing(ctx context.Context, first, second domain.UserID) (domain.VideoSessionID, error) {
	var id domain.VideoSessionID
	err := b.do(ctx, func(ctx context.Context) error {
		var err error
		id, err = b.pair(ctx, []domain.UserID{first, second})
		return err
	})
	return id, err
}

// EnterNamedSession adds user to the named session, creating it with subject if needed.
func (b *Broker) EnterNamedSession(ctx context.Context, id domain.VideoSessionID, user domain.UserID, subject string) error {
	return b.do(ctx, func(ctx context.Context) error {
		return b.enterNamed(ctx, id, user, subject)
	})
}

// Leave removes user from the session. Unknown sessions and members are ignored.
func (b *Broker) Leave(ctx context.Context, id domain.VideoSessionID, user domain.UserID) error {
	return b.do(ctx, func(ctx context.Context) error {
		return b.leave(ctx, id, user)
	})
}

// RequestUserList rebroadcasts the roster of an existing session.
func (b *Broker) RequestUserList(ctx context.Context, id domain.VideoSessionID) error {
	return b.do(ctx, func(ctx context.Context) error {
		return b.broadcastRoster(ctx, id)
	})
}

// Snapshot returns the live sessions ordered by id.
func (b *Broker) Snapshot(ctx context.Context) ([]SessionInfo, error) {
	var out []SessionInfo
	err := b.do(ctx, func(context.Context) error {
		out = make([]SessionInfo, 0, len(b.sessions))
		for _, s := range b.sessions {
			out = append(out, SessionInfo{ID: s.ID, Subject: s.Subject, Members: s.Members.List()})
		}
		return nil
	})
	slices.SortFunc(out, func(x, y SessionInfo) int { return strings.Compare(string(x.ID), string(y.ID)) })
	return out, err
}

func (b *Broker) onEnter(ctx context.Context, m core.Message) {
	id := domain.VideoSessionID(core.TopicLevel(m.Topic, 1))
	var req enterRequest
	if err := json.Unmarshal(m.Payload, &req); err != nil {
		log.Warn().Str("module", "rendezvous").Str("topic", m.Topic).Err(err).Msg("bad enter payload")
		return
	}
	var err error
	if id == domain.PrivateSession {
		_, err = b.pair(ctx, req.Users)
	} else {
		err = b.enterNamed(ctx, id, req.User, req.Subject)
	}
	if err != nil {
		log.Error().Str("module", "rendezvous").Str("topic", m.Topic).Err(err).Msg("enter failed")
	}
}

func (b *Broker) onLeave(ctx context.Context, m core.Message) {
	id := domain.VideoSessionID(core.TopicLevel(m.Topic, 1))
	var req leaveRequest
	if err := json.Unmarshal(m.Payload, &req); err != nil {
		log.Warn().Str("module", "rendezvous").Str("topic", m.Topic).Err(err).Msg("bad leave payload")
		return
	}
	if err := b.leave(ctx, id, req.User); err != nil {
		log.Error().Str("module", "rendezvous").Str("topic", m.Topic).Err(err).Msg("leave failed")
	}
}

func (b *Broker) onRequestList(ctx context.Context, m core.Message) {
	id := domain.VideoSessionID(core.TopicLevel(m.Topic, 1))
	if err := b.broadcastRoster(ctx, id); err != nil {
		log.Error().Str("module", "rendezvous").Str("session", string(id)).Err(err).Msg("roster failed")
	}
}

func (b *Broker) pair(ctx context.Context, users []domain.UserID) (domain.VideoSessionID, error) {
	if len(users) != 2 || users[0] == users[1] || users[0] == "" || users[1] == "" {
		return "", fmt.Errorf("%w: %v", ErrInvalidPairing, users)
	}
	id, err := b.freeID()
	if err != nil {
		return "", err
	}
	s, err := b.newSession(id, PrivateSubject)
	if err != nil {
		return "", err
	}
	s.Members = domain.NewMembers(users...)
	b.sessions[id] = s
	log.Info().Str("module", "rendezvous").Str("session", string(id)).
		Str("a", string(users[0])).Str("b", string(users[1])).Msg("paired")

	for _, u := range users {
		if err := b.notifyEnter(ctx, s, u); err != nil {
			return id, err
		}
	}
	return id, b.broadcastRoster(ctx, id)
}

func (b *Broker) enterNamed(ctx context.Context, id domain.VideoSessionID, user domain.UserID, subject string) error {
	if id == domain.PrivateSession {
		return ErrReservedName
	}
	if err := domain.ValidateRoomName(string(id)); err != nil {
		return err
	}
	if err := domain.ValidateUserID(user); err != nil {
		return err
	}

	s, ok := b.sessions[id]
	if !ok {
		var err error
		if s, err = b.newSession(id, subject); err != nil {
			return err
		}
		b.sessions[id] = s
		log.Info().Str("module", "rendezvous").Str("session", string(id)).Str("subject", subject).Msg("created session")
	}
	if s.Members.Add(user) {
		log.Debug().Str("module", "rendezvous").Str("session", string(id)).Str("user", string(user)).Msg("entered")
	}

	if err := b.notifyEnter(ctx, s, user); err != nil {
		return err
	}
	return b.broadcastRoster(ctx, id)
}

func (b *Broker) leave(ctx context.Context, id domain.VideoSessionID, user domain.UserID) error {
	s, ok := b.sessions[id]
	if !ok || !s.Members.Remove(user) {
		return nil
	}
	log.Debug().Str("module", "rendezvous").Str("session", string(id)).Str("user", string(user)).Msg("left")

	if err := core.PublishJSON(ctx, b.bus, core.UserLeaveVideoTopic(user), LeaveNotice{RoomName: id}); err != nil {
		return err
	}
	if s.Members.Empty() {
		delete(b.sessions, id)
		log.Info().Str("module", "rendezvous").Str("session", string(id)).Msg("destroyed session")
		return nil
	}
	return b.broadcastRoster(ctx, id)
}

func (b *Broker) broadcastRoster(ctx context.Context, id domain.VideoSessionID) error {
	s, ok := b.sessions[id]
	if !ok {
		return nil
	}
	return core.PublishJSON(ctx, b.bus, core.VideoUserListTopic(id), Roster{Users: s.Members.List()})
}

func (b *Broker) notifyEnter(ctx context.Context, s *domain.VideoSession, user domain.UserID) error {
	notice := EnterNotice{
		RoomName: s.ID,
		URL:      s.URL,
		Password: s.Secret,
		Subject:  s.Subject,
	}
	if b.tickets != nil {
		ticket, err := b.tickets.Issue(s)
		if err != nil {
			return err
		}
		notice.JWT = ticket
	}
	return core.PublishJSON(ctx, b.bus, core.UserEnterVideoTopic(user), notice)
}

func (b *Broker) freeID() (domain.VideoSessionID, error) {
	for range maxMintAttempts {
		tok, err := b.mint()
		if err != nil {
			return "", err
		}
		id := domain.VideoSessionID(tok)
		if _, taken := b.sessions[id]; !taken && id != domain.PrivateSession {
			return id, nil
		}
	}
	return "", ErrMintExhausted
}

func (b *Broker) newSession(id domain.VideoSessionID, subject string) (*domain.VideoSession, error) {
	urlToken, err := b.mint()
	if err != nil {
		return nil, err
	}
	secret, err := b.mint()
	if err != nil {
		return nil, err
	}
	return &domain.VideoSession{
		ID:      id,
		URL:     b.signalingURL(urlToken),
		Secret:  secret,
		Subject: subject,
	}, nil
}

func (b *Broker) signalingURL(token string) string {
	if b.baseURL == "" {
		return token
	}
	return b.baseURL + "/" + token
}
