package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/commonroom/internal/core"
	"github.com/go-redis/redis/v8"
)

// Redis publishes on channels named after the topic and subscribes with
// PSUBSCRIBE. Redis globs are not level-aware, so every delivery is checked
// against the MQTT pattern again before it is handed out.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr string) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (b *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return core.ErrBusClosed
		}
		return fmt.Errorf("client.Publish: %w", err)
	}
	return nil
}

func (b *Redis) Subscribe(ctx context.Context, pattern string) (core.Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	ps := b.client.PSubscribe(ctx, toGlob(pattern))
	// Wait for the subscription confirmation so no publish after return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		if errors.Is(err, redis.ErrClosed) {
			return nil, core.ErrBusClosed
		}
		return nil, fmt.Errorf("pubsub.Receive: %w", err)
	}

	s := &redisSub{
		pattern: pattern,
		ps:      ps,
		box:     newMailbox("bus.redis", pattern),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

func (b *Redis) Close() error {
	return b.client.Close()
}

type redisSub struct {
	pattern string
	ps      *redis.PubSub
	box     *mailbox
	done    chan struct{}
	once    sync.Once
}

func (s *redisSub) Pattern() string                { return s.pattern }
func (s *redisSub) Messages() <-chan core.Message { return s.box.out }

func (s *redisSub) pump() {
	defer s.box.close()
	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			if !core.MatchTopic(s.pattern, m.Channel) {
				continue
			}
			s.box.push(core.Message{Topic: m.Channel, Payload: []byte(m.Payload)})
		}
	}
}

func (s *redisSub) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	if err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("pubsub.Close: %w", err)
	}
	return nil
}

var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)

func toGlob(pattern string) string {
	levels := strings.Split(pattern, "/")
	for i, l := range levels {
		if l == "+" || l == "#" {
			levels[i] = "*"
			continue
		}
		levels[i] = globEscaper.Replace(l)
	}
	return strings.Join(levels, "/")
}
