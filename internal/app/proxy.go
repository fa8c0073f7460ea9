package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dkeye/lanlink/internal/core"
	"github.com/dkeye/lanlink/internal/protocol"
)

var ErrNoFreePort = errors.New("no free port left to bind")

// ServerProxy is a local listener standing in for one LAN server of the
// remote host. OriginalPort is the remote port; actualPort is what got bound.
type ServerProxy struct {
	OriginalPort int

	mu            sync.Mutex
	actualPort    int
	listener      net.Listener
	motd          string
	lastHeartbeat time.Time
	failed        bool
	closed        bool
}

func newServerProxy(port int, motd string) *ServerProxy {
	return &ServerProxy{OriginalPort: port, motd: motd, lastHeartbeat: time.Now()}
}

// ActualPort is 0 until the listener is bound.
func (p *ServerProxy) ActualPort() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.actualPort
}

// touch refreshes the heartbeat and reports the port to re-announce, if bound.
func (p *ServerProxy) touch(motd string) (port int, bound bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastHeartbeat = time.Now()
	p.motd = motd
	return p.actualPort, p.listener != nil && !p.closed
}

func (p *ServerProxy) bind(ln net.Listener, port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.listener = ln
	p.actualPort = port
	return true
}

func (p *ServerProxy) markFailed() {
	p.mu.Lock()
	p.failed = true
	p.mu.Unlock()
}

func (p *ServerProxy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.listener != nil {
		_ = p.listener.Close()
	}
}

func (p *ServerProxy) Snapshot() core.ProxyDTO {
	p.mu.Lock()
	defer p.mu.Unlock()
	return core.ProxyDTO{OriginalPort: p.OriginalPort, ActualPort: p.actualPort, LastHeartbeat: p.lastHeartbeat}
}

// proxyFor returns the proxy for port, appending a pending one when absent.
func (s *Session) proxyFor(port int, motd string) (p *ServerProxy, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrSessionClosed
	}
	for _, p := range s.proxies {
		if p.OriginalPort == port {
			return p, false, nil
		}
	}
	p = newServerProxy(port, motd)
	s.proxies = append(s.proxies, p)
	return p, true, nil
}

// ownsPort reports whether one of the session's proxies is bound to port.
func (s *Session) ownsPort(port int) bool {
	s.mu.Lock()
	proxies := append([]*ServerProxy(nil), s.proxies...)
	s.mu.Unlock()
	for _, p := range proxies {
		if p.ActualPort() == port {
			return true
		}
	}
	return false
}

func (h *Host) handleLan(_ context.Context, s *Session, raw json.RawMessage) error {
	var p protocol.Lan
	if err := protocol.DecodePayload(raw, &p); err != nil {
		return fmt.Errorf("decode lan: %w", err)
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("lan: invalid port %d", p.Port)
	}

	proxy, created, err := s.proxyFor(p.Port, p.Motd)
	if err != nil {
		return err
	}
	if !created {
		if port, bound := proxy.touch(p.Motd); bound {
			h.broadcast(p.Motd, port)
		}
		return nil
	}
	go h.serveProxy(s, proxy, p.Motd)
	return nil
}

func (h *Host) serveProxy(s *Session, p *ServerProxy, motd string) {
	logger := s.logger.With().Int("port", p.OriginalPort).Logger()

	ln, port, err := listenFrom(s.ctx, h.proxyHost, p.OriginalPort)
	if err != nil {
		logger.Error().Err(err).Msg("proxy bind failed")
		p.markFailed()
		return
	}
	if !p.bind(ln, port) {
		_ = ln.Close()
		return
	}
	logger.Info().Int("actual", port).Str("motd", motd).Msg("proxy listening")
	h.broadcast(motd, port)

	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Debug().Err(err).Msg("proxy accept loop ended")
			return
		}
		go s.openGameChannel(conn, p.OriginalPort)
	}
}

func (h *Host) broadcast(motd string, port int) {
	if h.discovery == nil {
		return
	}
	if err := h.discovery.Broadcast(motd, port); err != nil {
		h.logger.Warn().Err(err).Int("port", port).Msg("lan broadcast failed")
	}
}

// listenFrom binds host:port, walking upward past ports already in use.
func listenFrom(ctx context.Context, host string, port int) (net.Listener, int, error) {
	var lc net.ListenConfig
	for p := port; p <= 65535; p++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err == nil {
			return ln, p, nil
		}
		if !isAddrInUse(err) {
			return nil, 0, fmt.Errorf("listen on %d: %w", p, err)
		}
	}
	return nil, 0, fmt.Errorf("from %d: %w", port, ErrNoFreePort)
}

func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "Only one usage of each socket address")
}
