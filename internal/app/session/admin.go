package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/commonroom/internal/core"
	"github.com/dkeye/commonroom/internal/domain"
	"github.com/rs/zerolog/log"
)

const actionUIReload = "ui-reload"

// Admin carries operator controls: a fleet-wide UI reload and forced reconnects.
type Admin struct{}

func NewAdmin() *Admin { return &Admin{} }

func (*Admin) Name() string { return "session.admin" }

func (a *Admin) Messages() []MessageRoute {
	return []MessageRoute{
		{Type: "ui-reload", Handle: a.uiReload},
	}
}

func (a *Admin) Topics() []TopicRoute {
	return []TopicRoute{
		{Pattern: core.TopicAdmin, Handle: a.onAdmin},
		{Pattern: "user/+/reconnect", Handle: a.onReconnect},
	}
}

func (a *Admin) OnOpen(ctx context.Context, s *Session) error {
	return s.listen(ctx, listenAdmin, core.TopicAdmin)
}

type adminAction struct {
	Action string `json:"action"`
}

func (a *Admin) uiReload(ctx context.Context, s *Session, _ json.RawMessage) error {
	if !s.identity.HasRole(domain.RoleAdmin) {
		return fmt.Errorf("%w: ui-reload needs admin", ErrUnauthenticated)
	}
	log.Info().Str("module", a.Name()).Str("user", string(s.self())).Msg("ui reload requested")
	return core.PublishJSON(ctx, s.bus, core.TopicAdmin, adminAction{Action: actionUIReload})
}

func (a *Admin) onAdmin(_ context.Context, s *Session, m core.Message) error {
	var act adminAction
	if err := json.Unmarshal(m.Payload, &act); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if act.Action == actionUIReload {
		s.send("ui-reload", nil)
	}
	return nil
}

func (a *Admin) onReconnect(_ context.Context, s *Session, _ core.Message) error {
	log.Info().Str("module", a.Name()).Str("sid", string(s.id)).Str("user", string(s.self())).Msg("reconnect requested")
	s.conn.Close()
	return nil
}

// RequestReconnect asks every connection of user to drop and reconnect.
func RequestReconnect(ctx context.Context, b core.Bus, user domain.UserID) error {
	return core.PublishJSON(ctx, b, core.UserReconnectTopic(user), nil)
}
