package bus

import (
	"context"
	"sync"

	"github.com/dkeye/commonroom/internal/core"
)

// Memory is an in-process bus. Publish never blocks: every subscriber has an
// unbounded queue, so a slow reader delays only itself.
type Memory struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[*memorySub]struct{})}
}

type memorySub struct {
	bus     *Memory
	pattern string
	box     *mailbox
	once    sync.Once
}

func (s *memorySub) Pattern() string                { return s.pattern }
func (s *memorySub) Messages() <-chan core.Message { return s.box.out }

func (s *memorySub) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		s.box.close()
	})
	return nil
}

func (b *Memory) Publish(_ context.Context, topic string, payload []byte) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return core.ErrBusClosed
	}
	for s := range b.subs {
		if !core.MatchTopic(s.pattern, topic) {
			continue
		}
		s.box.push(core.Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	}
	return nil
}

func (b *Memory) Subscribe(_ context.Context, pattern string) (core.Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, core.ErrBusClosed
	}
	s := &memorySub{bus: b, pattern: pattern, box: newMailbox("bus.memory", pattern)}
	b.subs[s] = struct{}{}
	return s, nil
}

// Close tears down every subscription.
func (b *Memory) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*memorySub, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return nil
}
