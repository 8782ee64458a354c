package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/commonroom/internal/core"
	"github.com/rs/zerolog/log"
)

// Auth resolves the connection identity against the user store.
type Auth struct {
	store core.UserStore
}

func NewAuth(store core.UserStore) *Auth { return &Auth{store: store} }

func (*Auth) Name() string { return "session.auth" }

func (a *Auth) Messages() []MessageRoute {
	return []MessageRoute{
		{Type: "authenticate", Public: true, Handle: a.authenticate},
		{Type: "logout", Handle: a.logout},
	}
}

func (*Auth) Topics() []TopicRoute { return nil }

type authenticateRequest struct {
	Email    string `json:"email"`
	Token    string `json:"token"`
	Remember bool   `json:"remember"`
}

func (a *Auth) authenticate(ctx context.Context, s *Session, payload json.RawMessage) error {
	if s.identity != nil {
		return ErrBadPayload
	}
	var req authenticateRequest
	if err := decode(payload, &req); err != nil {
		s.send("authentication-failed", nil)
		return err
	}
	if req.Email == "" || req.Token == "" {
		s.send("authentication-failed", nil)
		return nil
	}

	ident, err := a.store.Authenticate(ctx, req.Email, req.Token)
	if errors.Is(err, core.ErrInvalidCredentials) || errors.Is(err, core.ErrUserNotFound) {
		log.Info().Str("module", a.Name()).Str("sid", string(s.id)).Msg("authentication failed")
		s.send("authentication-failed", nil)
		return nil
	}
	if err != nil {
		return err
	}

	s.identity = ident
	if err := s.listen(ctx, listenUser, core.UserTopics(ident.ID)); err != nil {
		s.identity = nil
		return err
	}

	log.Info().Str("module", a.Name()).Str("sid", string(s.id)).Str("user", string(ident.ID)).Msg("authenticated")
	s.send("authenticated", req)
	return nil
}

// logout closes the transport; the adapter then runs the normal close path.
func (a *Auth) logout(_ context.Context, s *Session, _ json.RawMessage) error {
	log.Info().Str("module", a.Name()).Str("sid", string(s.id)).Str("user", string(s.self())).Msg("logout")
	s.conn.Close()
	return nil
}
