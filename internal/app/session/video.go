package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/commonroom/internal/app/rendezvous"
	"github.com/dkeye/commonroom/internal/core"
	"github.com/dkeye/commonroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Video follows the connection through rendezvous sessions. The broker owns
// membership; this side only asks and reacts to its notices.
type Video struct{}

func NewVideo() *Video { return &Video{} }

func (*Video) Name() string { return "session.video" }

func (v *Video) Messages() []MessageRoute {
	return []MessageRoute{
		{Type: "enter-jitsi-room", Handle: v.requestEnter},
		{Type: "leave-jitsi-room", Handle: v.leave},
		{Type: "get-jitsi-room-users", Handle: v.requestUsers},
	}
}

func (v *Video) Topics() []TopicRoute {
	return []TopicRoute{
		{Pattern: "user/+/enter-jitsi-room", Handle: v.onEnter},
		{Pattern: "user/+/leave_jitsi_room", Handle: v.onLeave},
		{Pattern: "jitsi-rooms/+/user-list", Handle: v.onUserList},
	}
}

type enterVideoRequest struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
}

type videoMember struct {
	User domain.UserID `json:"user"`
}

func (v *Video) requestEnter(ctx context.Context, s *Session, payload json.RawMessage) error {
	var req enterVideoRequest
	if err := decode(payload, &req); err != nil {
		return err
	}
	if err := domain.ValidateRoomName(req.Name); err != nil || domain.VideoSessionID(req.Name) == domain.PrivateSession {
		return fmt.Errorf("%w: video session name %q", ErrBadPayload, req.Name)
	}
	return core.PublishJSON(ctx, s.bus, core.VideoEnterTopic(domain.VideoSessionID(req.Name)), struct {
		User    domain.UserID `json:"user"`
		Subject string        `json:"subject"`
	}{User: s.self(), Subject: req.Subject})
}

func (v *Video) leave(ctx context.Context, s *Session, _ json.RawMessage) error {
	if s.video == "" {
		return nil
	}
	if err := v.publishLeave(ctx, s); err != nil {
		return err
	}
	v.teardown(s)
	return nil
}

func (v *Video) requestUsers(ctx context.Context, s *Session, _ json.RawMessage) error {
	if s.video == "" {
		return nil
	}
	return core.PublishJSON(ctx, s.bus, core.VideoRequestListTopic(s.video), nil)
}

func (v *Video) OnClose(ctx context.Context, s *Session) error {
	if s.video == "" {
		return nil
	}
	err := v.publishLeave(ctx, s)
	s.video = ""
	return err
}

func (v *Video) onEnter(ctx context.Context, s *Session, m core.Message) error {
	var notice rendezvous.EnterNotice
	if err := json.Unmarshal(m.Payload, &notice); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if notice.RoomName == "" {
		return fmt.Errorf("%w: enter notice without room", ErrBadPayload)
	}

	if s.video != "" && s.video != notice.RoomName {
		if err := v.publishLeave(ctx, s); err != nil {
			return err
		}
		s.scope.Cancel(listenVideo)
		s.video = ""
	}
	if s.video == "" {
		if err := s.listen(ctx, listenVideo, core.VideoUserListTopic(notice.RoomName)); err != nil {
			return err
		}
		s.video = notice.RoomName
		log.Info().Str("module", v.Name()).Str("sid", string(s.id)).Str("user", string(s.self())).
			Str("session", string(notice.RoomName)).Msg("entered video session")
	}

	s.send("open-jitsi-room", json.RawMessage(m.Payload))
	// the first roster may have been published before the subscription was live
	return core.PublishJSON(ctx, s.bus, core.VideoRequestListTopic(s.video), nil)
}

func (v *Video) onLeave(_ context.Context, s *Session, m core.Message) error {
	var notice rendezvous.LeaveNotice
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &notice); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
	}
	if s.video == "" || (notice.RoomName != "" && notice.RoomName != s.video) {
		return nil
	}
	v.teardown(s)
	return nil
}

func (v *Video) onUserList(_ context.Context, s *Session, m core.Message) error {
	if s.video == "" || core.TopicLevel(m.Topic, 1) != string(s.video) {
		return nil
	}
	var roster rendezvous.Roster
	if err := json.Unmarshal(m.Payload, &roster); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	s.send("jitsi-room-users", roster)
	return nil
}

func (v *Video) publishLeave(ctx context.Context, s *Session) error {
	return core.PublishJSON(ctx, s.bus, core.VideoLeaveTopic(s.video), videoMember{User: s.self()})
}

func (v *Video) teardown(s *Session) {
	log.Info().Str("module", v.Name()).Str("sid", string(s.id)).Str("user", string(s.self())).
		Str("session", string(s.video)).Msg("left video session")
	s.scope.Cancel(listenVideo)
	s.video = ""
	s.send("left-jitsi-room", nil)
}
