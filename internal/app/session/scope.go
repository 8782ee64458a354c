package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/commonroom/internal/core"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrScopeClosed   = errors.New("listener scope closed")
	ErrGraceExceeded = errors.New("listeners did not stop within grace period")
)

// Deliver handles one bus message for a listener.
type Deliver func(ctx context.Context, m core.Message)

type listener struct {
	sub    core.Subscription
	cancel context.CancelFunc
}

// Scope owns the bus listeners of one connection. Every listener is keyed so
// that it can be cancelled on its own, and all of them stop on Close.
type Scope struct {
	ctx context.Context
	g   *errgroup.Group

	mu        sync.Mutex
	listeners map[string]*listener
	closed    bool
}

func NewScope(parent context.Context) *Scope {
	g, ctx := errgroup.WithContext(parent)
	return &Scope{
		ctx:       ctx,
		g:         g,
		listeners: make(map[string]*listener),
	}
}

// Go starts delivering sub under key. An existing listener with the same key
// is cancelled first. The scope takes ownership of sub.
func (s *Scope) Go(key string, sub core.Subscription, fn Deliver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = sub.Unsubscribe()
		return ErrScopeClosed
	}
	if old, ok := s.listeners[key]; ok {
		old.stop()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.listeners[key] = &listener{sub: sub, cancel: cancel}

	s.g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case m, ok := <-sub.Messages():
				if !ok {
					return nil
				}
				// a delivery racing with cancellation is dropped
				if ctx.Err() != nil {
					return nil
				}
				fn(ctx, m)
			}
		}
	})
	return nil
}

// Cancel stops the listener under key without waiting for it.
func (s *Scope) Cancel(key string) {
	s.mu.Lock()
	l, ok := s.listeners[key]
	delete(s.listeners, key)
	s.mu.Unlock()
	if ok {
		l.stop()
	}
}

func (s *Scope) Active(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.listeners[key]
	return ok
}

// Close cancels every listener and waits up to grace for them to return.
func (s *Scope) Close(grace time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for key, l := range s.listeners {
		l.stop()
		delete(s.listeners, key)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = s.g.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(grace):
		log.Warn().Str("module", "session.scope").Dur("grace", grace).Msg("listeners still running after grace")
		return ErrGraceExceeded
	}
}

func (l *listener) stop() {
	l.cancel()
	if err := l.sub.Unsubscribe(); err != nil {
		log.Debug().Str("module", "session.scope").Str("pattern", l.sub.Pattern()).Err(err).Msg("unsubscribe")
	}
}
