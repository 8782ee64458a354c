package signal

import (
	"time"

	"github.com/gorilla/websocket"
)

// armLiveness makes the read side expire unless pongs keep arriving.
// An expired read ends the read pump, which runs the normal close path.
func (ctl *SignalWSController) armLiveness(c *WsSignalConn) error {
	if ctl.opts.PongWait <= 0 {
		return nil
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait)); err != nil {
		return err
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})
	return nil
}

func (ctl *SignalWSController) ping(c *WsSignalConn) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

type pinger struct {
	C    <-chan time.Time
	stop func()
}

func (t pinger) Stop() { t.stop() }

// pingTicker never fires when pings are disabled.
func (ctl *SignalWSController) pingTicker() pinger {
	if ctl.opts.PingPeriod <= 0 {
		return pinger{C: nil, stop: func() {}}
	}
	t := time.NewTicker(ctl.opts.PingPeriod)
	return pinger{C: t.C, stop: t.Stop}
}
