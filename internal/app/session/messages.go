package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/commonroom/internal/core"
	"github.com/dkeye/commonroom/internal/domain"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
)

// Messages relays chat: the lobby-wide broadcast, direct messages and video
// chat invitations. It also owns the block list.
type Messages struct {
	store  core.UserStore
	policy *bluemonday.Policy
}

func NewMessages(store core.UserStore) *Messages {
	p := bluemonday.NewPolicy()
	p.AllowElements("strong", "em")
	return &Messages{store: store, policy: p}
}

func (*Messages) Name() string { return "session.messages" }

func (ms *Messages) Messages() []MessageRoute {
	return []MessageRoute{
		{Type: "broadcast-message", Handle: ms.broadcast},
		{Type: "user-message", Handle: ms.direct},
		{Type: "request-video-chat-message", Handle: ms.requestVideoChat},
		{Type: "accept-video-chat-message", Handle: ms.acceptVideoChat},
		{Type: "block-user", Handle: ms.block},
		{Type: "unblock-user", Handle: ms.unblock},
		{Type: "get-user", Handle: ms.getUser},
	}
}

func (ms *Messages) Topics() []TopicRoute {
	return []TopicRoute{
		{Pattern: core.TopicBroadcast, Handle: ms.onBroadcast},
		{Pattern: "user/+/message", Handle: ms.onDirect},
		{Pattern: "user/+/request-video-chat", Handle: ms.onVideoRequest},
	}
}

func (ms *Messages) OnOpen(ctx context.Context, s *Session) error {
	return s.listen(ctx, listenBroadcast, core.TopicBroadcast)
}

// Sanitize keeps <strong> and <em> and strips every other tag.
func (ms *Messages) Sanitize(text string) string {
	return ms.policy.Sanitize(text)
}

type textMessage struct {
	Message string `json:"message"`
}

type targetRequest struct {
	User struct {
		ID domain.UserID `json:"id"`
	} `json:"user"`
	Message string `json:"message"`
}

type senderMessage struct {
	User    publicUser `json:"user"`
	Message string     `json:"message,omitempty"`
}

func decodeTarget(payload json.RawMessage) (targetRequest, error) {
	var req targetRequest
	if err := decode(payload, &req); err != nil {
		return req, err
	}
	if err := domain.ValidateUserID(req.User.ID); err != nil {
		return req, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return req, nil
}

func (ms *Messages) broadcast(ctx context.Context, s *Session, payload json.RawMessage) error {
	var req textMessage
	if err := decode(payload, &req); err != nil {
		return err
	}
	return core.PublishJSON(ctx, s.bus, core.TopicBroadcast, textMessage{Message: ms.Sanitize(req.Message)})
}

func (ms *Messages) direct(ctx context.Context, s *Session, payload json.RawMessage) error {
	req, err := decodeTarget(payload)
	if err != nil {
		return err
	}
	return core.PublishJSON(ctx, s.bus, core.UserMessageTopic(req.User.ID), senderMessage{
		User:    s.asPublic(false),
		Message: ms.Sanitize(req.Message),
	})
}

func (ms *Messages) requestVideoChat(ctx context.Context, s *Session, payload json.RawMessage) error {
	req, err := decodeTarget(payload)
	if err != nil {
		return err
	}
	return core.PublishJSON(ctx, s.bus, core.UserVideoRequestTopic(req.User.ID), senderMessage{User: s.asPublic(false)})
}

// acceptVideoChat asks the broker for a private session with the inviter.
func (ms *Messages) acceptVideoChat(ctx context.Context, s *Session, payload json.RawMessage) error {
	req, err := decodeTarget(payload)
	if err != nil {
		return err
	}
	if req.User.ID == s.self() {
		return fmt.Errorf("%w: cannot pair with self", ErrBadPayload)
	}
	return core.PublishJSON(ctx, s.bus, core.VideoEnterTopic(domain.PrivateSession), struct {
		Users []domain.UserID `json:"users"`
	}{Users: []domain.UserID{s.self(), req.User.ID}})
}

func (ms *Messages) block(ctx context.Context, s *Session, payload json.RawMessage) error {
	req, err := decodeTarget(payload)
	if err != nil {
		return err
	}
	if req.User.ID == s.self() {
		return fmt.Errorf("%w: cannot block self", ErrBadPayload)
	}
	if !s.identity.Blocks(req.User.ID) {
		if err := ms.store.BlockUser(ctx, s.identity.ID, req.User.ID); err != nil {
			return err
		}
		s.identity.Block(req.User.ID)
		log.Info().Str("module", ms.Name()).Str("user", string(s.self())).Str("blocked", string(req.User.ID)).Msg("blocked user")
	}
	s.send("user", s.ownView())
	return nil
}

func (ms *Messages) unblock(ctx context.Context, s *Session, payload json.RawMessage) error {
	req, err := decodeTarget(payload)
	if err != nil {
		return err
	}
	if s.identity.Blocks(req.User.ID) {
		if err := ms.store.UnblockUser(ctx, s.identity.ID, req.User.ID); err != nil {
			return err
		}
		s.identity.Unblock(req.User.ID)
		log.Info().Str("module", ms.Name()).Str("user", string(s.self())).Str("unblocked", string(req.User.ID)).Msg("unblocked user")
	}
	s.send("user", s.ownView())
	return nil
}

func (ms *Messages) getUser(_ context.Context, s *Session, _ json.RawMessage) error {
	s.send("user", s.ownView())
	return nil
}

func (ms *Messages) onBroadcast(_ context.Context, s *Session, m core.Message) error {
	var msg textMessage
	if err := json.Unmarshal(m.Payload, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	s.send("broadcast-message", msg)
	return nil
}

func (ms *Messages) onDirect(_ context.Context, s *Session, m core.Message) error {
	return ms.forwardUnlessBlocked(s, m, "user-message")
}

func (ms *Messages) onVideoRequest(_ context.Context, s *Session, m core.Message) error {
	return ms.forwardUnlessBlocked(s, m, "request-video-chat")
}

func (ms *Messages) forwardUnlessBlocked(s *Session, m core.Message, typ string) error {
	if s.identity == nil {
		return nil
	}
	var msg struct {
		User    json.RawMessage `json:"user"`
		Message string          `json:"message,omitempty"`
	}
	if err := json.Unmarshal(m.Payload, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	var sender struct {
		ID domain.UserID `json:"id"`
	}
	if err := json.Unmarshal(msg.User, &sender); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if s.identity.Blocks(sender.ID) {
		log.Debug().Str("module", ms.Name()).Str("user", string(s.self())).Str("from", string(sender.ID)).Msg("dropped from blocked user")
		return nil
	}
	s.send(typ, msg)
	return nil
}
