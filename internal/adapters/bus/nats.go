package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/commonroom/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATS maps MQTT-style topics onto NATS subjects: "/" becomes ".", "+" becomes
// "*" and a trailing "#" becomes ">".
type NATS struct {
	conn *nats.Conn
}

func NewNATS(url string) (*NATS, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("commonroom"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Str("module", "bus.nats").Msg("disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("module", "bus.nats").Str("url", c.ConnectedUrl()).Msg("reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats.Connect: %w", err)
	}
	return &NATS{conn: conn}, nil
}

func (b *NATS) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return core.ErrBusClosed
	}
	if err := b.conn.Publish(toSubject(topic), payload); err != nil {
		return fmt.Errorf("conn.Publish: %w", err)
	}
	return nil
}

func (b *NATS) Subscribe(ctx context.Context, pattern string) (core.Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, core.ErrBusClosed
	}

	s := &natsSub{pattern: pattern, box: newMailbox("bus.nats", pattern)}
	sub, err := b.conn.Subscribe(toSubject(pattern), func(m *nats.Msg) {
		s.box.push(core.Message{Topic: fromSubject(m.Subject), Payload: m.Data})
	})
	if err != nil {
		s.box.close()
		return nil, fmt.Errorf("conn.Subscribe: %w", err)
	}
	s.sub = sub

	// Make sure the server registered the interest before the caller publishes.
	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.conn.FlushWithContext(flushCtx); err != nil {
		_ = s.Unsubscribe()
		return nil, fmt.Errorf("conn.Flush: %w", err)
	}
	return s, nil
}

func (b *NATS) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("conn.Drain: %w", err)
	}
	return nil
}

type natsSub struct {
	pattern string
	sub     *nats.Subscription
	box     *mailbox

	mu     sync.Mutex
	closed bool
}

func (s *natsSub) Pattern() string                { return s.pattern }
func (s *natsSub) Messages() <-chan core.Message { return s.box.out }

func (s *natsSub) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.box.close()

	if s.sub == nil {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
		return fmt.Errorf("sub.Unsubscribe: %w", err)
	}
	return nil
}

// NATS reserves ".", "*", ">" and whitespace in subjects.
var subjectEscaper = strings.NewReplacer(
	"%", "%25",
	".", "%2E",
	"*", "%2A",
	">", "%3E",
	" ", "%20",
)

var subjectUnescaper = strings.NewReplacer(
	"%2E", ".",
	"%2A", "*",
	"%3E", ">",
	"%20", " ",
	"%25", "%",
)

func toSubject(topic string) string {
	levels := strings.Split(topic, "/")
	for i, l := range levels {
		switch l {
		case "+":
			levels[i] = "*"
		case "#":
			levels[i] = ">"
		default:
			levels[i] = subjectEscaper.Replace(l)
		}
	}
	return strings.Join(levels, ".")
}

func fromSubject(subject string) string {
	levels := strings.Split(subject, ".")
	for i, l := range levels {
		levels[i] = subjectUnescaper.Replace(l)
	}
	return strings.Join(levels, "/")
}
