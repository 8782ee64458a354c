// Package signal serves the client WebSocket: it upgrades the request, pumps
// frames in and out and hands inbound frames to the connection session.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/commonroom/internal/app"
	"github.com/dkeye/commonroom/internal/app/session"
	"github.com/dkeye/commonroom/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration
	SendBuffer   int
	RateLimit    int
	RateInterval time.Duration
}

type SignalWSController struct {
	bus      core.Bus
	disp     *session.Dispatcher
	registry *app.Registry
	policy   app.Policy
	limiter  *RateLimiter
	opts     Options
	sessOpts session.Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(
	bus core.Bus,
	disp *session.Dispatcher,
	registry *app.Registry,
	policy app.Policy,
	opts Options,
	sessOpts session.Options,
) *SignalWSController {
	if policy == nil {
		policy = app.DropPolicy{}
	}
	return &SignalWSController{
		bus:      bus,
		disp:     disp,
		registry: registry,
		policy:   policy,
		limiter:  NewRateLimiter(opts.RateLimit, opts.RateInterval),
		opts:     opts,
		sessOpts: sessOpts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type WsSignalConn struct {
	id     core.ConnID
	conn   *websocket.Conn
	send   chan core.Frame
	policy app.Policy

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
		c.mu.RUnlock()
		return nil
	default:
	}
	c.mu.RUnlock()

	switch c.policy.OnBackPressure(c.id) {
	case app.KickMember:
		log.Warn().Str("module", "signal").Str("sid", string(c.id)).Msg("send buffer full, kicking")
		c.Close()
	case app.DropFrame:
		log.Warn().Str("module", "signal").Str("sid", string(c.id)).Msg("send buffer full, dropping frame")
	case app.NoAction:
	}
	return core.ErrBackpressure
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal serves one WebSocket until it closes. It blocks for the
// lifetime of the connection.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.ConnID(uuid.NewString())
	l := log.With().Str("module", "signal").Str("sid", string(sid)).Str("client", c.GetString("client_token")).Logger()

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Error().Err(err).Msg("ws upgrade")
		return
	}
	l.Info().Msg("new WS connection")
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := &WsSignalConn{
		id:     sid,
		conn:   ws,
		send:   make(chan core.Frame, ctl.opts.SendBuffer),
		policy: ctl.policy,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := session.New(ctx, sid, conn, ctl.bus, ctl.disp, ctl.sessOpts)
	ctl.registry.Bind(sid, sess, cancel)
	defer func() {
		ctl.registry.Unbind(sid, sess)
		ctl.limiter.Forget(sid)
	}()

	go ctl.writePump(ctx, conn)

	if err := sess.Open(ctx); err != nil {
		l.Error().Err(err).Msg("session open")
	} else {
		ctl.readPump(ctx, sid, conn, sess)
	}

	conn.Close()
	closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), ctl.closeGrace())
	defer closeCancel()
	if err := sess.Close(closeCtx); err != nil {
		l.Warn().Err(err).Msg("session close")
	}
}

func (ctl *SignalWSController) closeGrace() time.Duration {
	if ctl.sessOpts.CloseGrace > 0 {
		return ctl.sessOpts.CloseGrace
	}
	return session.DefaultCloseGrace
}
