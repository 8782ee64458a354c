package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/commonroom/internal/core"
	"github.com/dkeye/commonroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Presence tracks the room a connection is in and relays avatar positions.
// Membership lives on the bus: a room's members are its subscribers.
type Presence struct{}

func NewPresence() *Presence { return &Presence{} }

func (*Presence) Name() string { return "session.room" }

func (p *Presence) Messages() []MessageRoute {
	return []MessageRoute{
		{Type: "enter-room", Handle: p.enter},
		{Type: "set-avatar-location", Handle: p.setLocation},
		{Type: "leave-room", Handle: p.leave},
	}
}

func (p *Presence) Topics() []TopicRoute {
	return []TopicRoute{
		{Pattern: "room/+/set-avatar-location", Handle: p.onLocation},
		{Pattern: "room/+/leave", Handle: p.onLeave},
	}
}

type roomRequest struct {
	Room string `json:"room"`
}

type locationRequest struct {
	Room string  `json:"room"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type locationEvent struct {
	User publicUser      `json:"user"`
	Room domain.RoomName `json:"room"`
	X    float64         `json:"x"`
	Y    float64         `json:"y"`
}

type leaveEvent struct {
	User domain.UserID   `json:"user"`
	Room domain.RoomName `json:"room"`
}

func (p *Presence) enter(ctx context.Context, s *Session, payload json.RawMessage) error {
	var req roomRequest
	if err := decode(payload, &req); err != nil {
		return err
	}
	if err := domain.ValidateRoomName(req.Room); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if s.room != "" {
		return fmt.Errorf("%w: %s", ErrRoomActive, s.room)
	}

	room := domain.RoomName(req.Room)
	if err := s.listen(ctx, listenRoom, core.RoomTopics(room)); err != nil {
		return err
	}
	s.room = room
	log.Info().Str("module", p.Name()).Str("sid", string(s.id)).Str("user", string(s.self())).Str("room", req.Room).Msg("entered room")
	return nil
}

func (p *Presence) setLocation(ctx context.Context, s *Session, payload json.RawMessage) error {
	var req locationRequest
	if err := decode(payload, &req); err != nil {
		return err
	}
	if s.room == "" || domain.RoomName(req.Room) != s.room {
		log.Debug().Str("module", p.Name()).Str("sid", string(s.id)).Str("room", req.Room).Msg("location for inactive room")
		return nil
	}
	return core.PublishJSON(ctx, s.bus, core.RoomLocationTopic(s.room), locationEvent{
		User: s.asPublic(true),
		Room: s.room,
		X:    req.X,
		Y:    req.Y,
	})
}

func (p *Presence) leave(ctx context.Context, s *Session, _ json.RawMessage) error {
	if s.room == "" {
		return nil
	}
	room := s.room
	if err := p.publishLeave(ctx, s); err != nil {
		return err
	}
	s.scope.Cancel(listenRoom)
	s.room = ""
	log.Info().Str("module", p.Name()).Str("sid", string(s.id)).Str("user", string(s.self())).Str("room", string(room)).Msg("left room")
	return nil
}

func (p *Presence) OnClose(ctx context.Context, s *Session) error {
	if s.room == "" {
		return nil
	}
	err := p.publishLeave(ctx, s)
	s.room = ""
	return err
}

func (p *Presence) publishLeave(ctx context.Context, s *Session) error {
	return core.PublishJSON(ctx, s.bus, core.RoomLeaveTopic(s.room), leaveEvent{User: s.self(), Room: s.room})
}

func (p *Presence) onLocation(_ context.Context, s *Session, m core.Message) error {
	var ev struct {
		User json.RawMessage `json:"user"`
		Room domain.RoomName `json:"room"`
		X    float64         `json:"x"`
		Y    float64         `json:"y"`
	}
	if err := json.Unmarshal(m.Payload, &ev); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	var origin struct {
		ID domain.UserID `json:"id"`
	}
	if err := json.Unmarshal(ev.User, &origin); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if !p.current(s, m, ev.Room) || origin.ID == s.self() {
		return nil
	}
	s.send("update-avatar-location", ev)
	return nil
}

func (p *Presence) onLeave(_ context.Context, s *Session, m core.Message) error {
	var ev leaveEvent
	if err := json.Unmarshal(m.Payload, &ev); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if !p.current(s, m, ev.Room) || ev.User == s.self() {
		return nil
	}
	s.send("remove-avatar", map[string]domain.UserID{"user": ev.User})
	return nil
}

// current drops deliveries for a room the session no longer has active.
func (p *Presence) current(s *Session, m core.Message, room domain.RoomName) bool {
	return s.room != "" && room == s.room && core.TopicLevel(m.Topic, 1) == string(s.room)
}
