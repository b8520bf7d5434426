// Package transport implements the Upgrade Endpoint: a raw TCP accept
// loop and gobwas/ws handshake that resolves each connection's client id
// before handing it to the Connection Engine (internal/session).
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"odin-db/internal/bridge"
	"odin-db/internal/broadcast"
	"odin-db/internal/config"
	"odin-db/internal/metrics"
	"odin-db/internal/session"
	"odin-db/internal/store"
)

// Server listens for TCP connections and upgrades those that target the
// configured WebSocket path.
type Server struct {
	cfg      config.Config
	logger   *zap.Logger
	metrics  *metrics.Registry
	table    *store.Table
	bus      *broadcast.Bus
	registry *broadcast.Registry
	bridge   *bridge.Mirror

	listener net.Listener
	wg       sync.WaitGroup
}

// New builds a Server wired to the shared table, bus, registry and
// optional bridge it will hand each accepted Connection.
func New(cfg config.Config, logger *zap.Logger, metricsRegistry *metrics.Registry, table *store.Table, bus *broadcast.Bus, registry *broadcast.Registry, mirror *bridge.Mirror) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  metricsRegistry,
		table:    table,
		bus:      bus,
		registry: registry,
		bridge:   mirror,
	}
}

// Start begins listening and accepting in the background. It returns once
// the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	if s.listener != nil {
		return errors.New("transport: already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}
	s.listener = ln
	s.logger.Info("upgrade endpoint listening", zap.String("addr", addr), zap.String("path", s.cfg.WebSocket.Path))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()

	return nil
}

// Stop closes the listener and waits for the accept loop and every
// per-connection goroutine it spawned to return. Those goroutines run the
// upgraded connection's Run inline, so Stop also waits for every open
// connection to finish.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("accept error", zap.Error(err))
			return
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConnection(ctx, c)
		}(conn)
	}
}

// handleConnection performs the handshake timeout, path check, client id
// resolution and upgrade, then runs the Connection Engine inline — this
// goroutine's lifetime is the connection's lifetime.
func (s *Server) handleConnection(parent context.Context, conn net.Conn) {
	defer conn.Close()

	deadline := s.cfg.Server.HandshakeTimeout
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	if err := conn.SetDeadline(time.Now().Add(deadline)); err != nil {
		s.logger.Debug("set handshake deadline failed", zap.Error(err))
	}

	var clientID string
	pathMatched := false

	upgrader := ws.Upgrader{
		OnRequest: func(uri []byte) error {
			u, err := url.Parse(string(uri))
			if err != nil {
				return fmt.Errorf("transport: parse upgrade target: %w", err)
			}
			if u.Path != s.cfg.WebSocket.Path {
				return fmt.Errorf("transport: unknown path %q", u.Path)
			}
			pathMatched = true
			clientID = u.Query().Get("client_id")
			return nil
		},
	}

	if _, err := upgrader.Upgrade(conn); err != nil {
		if s.metrics != nil {
			s.metrics.AcceptErrors.Inc()
		}
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	if !pathMatched {
		return
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear deadline failed", zap.Error(err))
	}

	if clientID == "" {
		clientID = uuid.NewString()
	}

	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
		defer s.metrics.ActiveConnections.Dec()
	}

	deps := session.Deps{
		Logger:   s.logger,
		Metrics:  s.metrics,
		Table:    s.table,
		Bus:      s.bus,
		Registry: s.registry,
		Bridge:   s.bridge,
		WS:       s.cfg.WebSocket,
	}

	session.NewConnection(clientID, conn, deps).Run(parent)
}
