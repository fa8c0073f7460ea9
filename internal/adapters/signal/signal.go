// Package signal is the WebSocket controller surface: it accepts JSON
// commands from a local UI and streams session events back.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/lanlink/internal/app/orch"
	"github.com/dkeye/lanlink/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Options tune every controller connection.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendQueue  int
	// CommandLimit commands are allowed per CommandWindow and client.
	CommandLimit  int
	CommandWindow time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:     1 << 20,
		PingPeriod:    30 * time.Second,
		SendQueue:     64,
		CommandLimit:  50,
		CommandWindow: time.Second,
	}
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	opts    Options
	limiter *RateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	def := DefaultOptions()
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = def.PingPeriod
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = def.SendQueue
	}
	if opts.CommandLimit <= 0 {
		opts.CommandLimit = def.CommandLimit
	}
	if opts.CommandWindow <= 0 {
		opts.CommandWindow = def.CommandWindow
	}
	return &SignalWSController{
		Orch:    o,
		opts:    opts,
		limiter: NewRateLimiter(opts.CommandLimit, opts.CommandWindow),
	}
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, queue int) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, queue)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the connection until either
// side goes away or ctx ends.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	client := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("client", client).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	conn := newWsSignalConn(ws, ctl.opts.SendQueue)
	ctl.Orch.Subscribe(client, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		defer ctl.Orch.Unsubscribe(client, conn)
		ctl.readPump(ctx, client, conn)
	}()
}
