package bus

import (
	"sync"

	"github.com/dkeye/commonroom/internal/core"
	"github.com/rs/zerolog/log"
)

// backlogWarn is the queue length at which (and at every multiple of which)
// a slow subscriber gets logged.
const backlogWarn = 1024

// mailbox is an unbounded FIFO in front of a subscription channel. push never
// blocks and never loses a message; a pump goroutine feeds out in order.
type mailbox struct {
	module  string
	pattern string
	out     chan core.Message

	mu    sync.Mutex
	items []core.Message

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newMailbox(module, pattern string) *mailbox {
	m := &mailbox{
		module:  module,
		pattern: pattern,
		out:     make(chan core.Message),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.pump()
	return m
}

// push queues msg. Reports false once the mailbox is closed.
func (m *mailbox) push(msg core.Message) bool {
	m.mu.Lock()
	select {
	case <-m.done:
		m.mu.Unlock()
		return false
	default:
	}
	m.items = append(m.items, msg)
	n := len(m.items)
	m.mu.Unlock()

	if n%backlogWarn == 0 {
		log.Warn().Str("module", m.module).Str("pattern", m.pattern).Int("backlog", n).Msg("slow subscriber")
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) pump() {
	defer close(m.stopped)
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.items) == 0 {
			m.mu.Unlock()
			select {
			case <-m.wake:
				continue
			case <-m.done:
				return
			}
		}
		msg := m.items[0]
		m.items[0] = core.Message{}
		m.items = m.items[1:]
		m.mu.Unlock()

		select {
		case m.out <- msg:
		case <-m.done:
			return
		}
	}
}

// close discards what is still queued and waits until out is closed.
func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
	<-m.stopped
}
