// Package bridge implements an optional, fire-and-forget mirror of
// accepted broadcast envelopes onto a NATS subject, for external tooling
// to tail. It is observability, not replication: the bridge is never read
// from, a down or absent NATS server never affects client-visible
// behavior, and no table or subscription state is ever sourced from it.
package bridge

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"odin-db/internal/broadcast"
	"odin-db/internal/config"
)

// Mirror publishes broadcast envelopes to a NATS subject. A nil *Mirror is
// valid and Publish on it is a no-op, so callers need not branch on
// whether the bridge is enabled.
type Mirror struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// New connects to NATS per cfg and returns a Mirror, or nil if the bridge
// is disabled. Connection failures are logged and degrade to a disabled
// mirror rather than failing server startup — per spec.md, this bridge
// must never be load-bearing.
func New(cfg config.BridgeConfig, logger *zap.Logger) *Mirror {
	if !cfg.Enabled {
		return nil
	}

	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("bridge disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("bridge reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		logger.Warn("bridge connect failed, continuing without it", zap.Error(err))
		return nil
	}

	logger.Info("broadcast mirror connected", zap.String("url", cfg.URL), zap.String("subject", cfg.Subject))
	return &Mirror{conn: conn, subject: cfg.Subject, logger: logger}
}

// Publish mirrors e onto the configured subject. Errors are logged and
// swallowed; the caller's publish to the in-process bus has already
// succeeded regardless of this call's outcome.
func (m *Mirror) Publish(e broadcast.Envelope) {
	if m == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		m.logger.Warn("bridge marshal failed", zap.Error(err))
		return
	}
	if err := m.conn.Publish(m.subject, data); err != nil {
		m.logger.Warn("bridge publish failed", zap.Error(err))
	}
}

// Close closes the NATS connection, a no-op on a nil Mirror.
func (m *Mirror) Close() {
	if m == nil || m.conn == nil {
		return
	}
	m.conn.Close()
}
