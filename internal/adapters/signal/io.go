package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/commonroom/internal/app/session"
	"github.com/dkeye/commonroom/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	pings := ctl.pingTicker()
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(c.id)).Msg("writePump ctx done")
			c.Close()
			return
		case <-pings.C:
			if err := ctl.ping(c); err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(c.id)).Msg("writePump ping failed")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("sid", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(c.id)).Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

// readPump feeds frames to the session one at a time until the socket fails.
func (ctl *SignalWSController) readPump(ctx context.Context, sid core.ConnID, c *WsSignalConn, sess *session.Session) {
	defer log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")

	if err := ctl.armLiveness(c); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("arm liveness")
		return
	}
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) || errors.Is(err, websocket.ErrCloseSent) {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump closed")
			} else {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !ctl.limiter.Allow(sid) {
			log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("rate limited, frame dropped")
			continue
		}
		sess.Handle(ctx, data)
	}
}
