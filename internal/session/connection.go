// Package session implements the per-connection engine: the Reader and
// Writer tasks, their supervisor, and the command-dispatch table that
// backs the wire protocol in internal/protocol.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"odin-db/internal/bridge"
	"odin-db/internal/broadcast"
	"odin-db/internal/config"
	"odin-db/internal/metrics"
	"odin-db/internal/protocol"
	"odin-db/internal/store"
)

// State is a connection's position in the Upgrading -> Handshaking ->
// Running -> Closing -> Closed lifecycle.
type State int32

const (
	StateUpgrading State = iota
	StateHandshaking
	StateRunning
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUpgrading:
		return "upgrading"
	case StateHandshaking:
		return "handshaking"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// initialPing is the transport-level liveness probe sent before the
// ClientId message, fixed by spec.md's wire format.
var initialPing = []byte{0x01, 0x02, 0x03}

// Deps bundles the shared, process-wide collaborators every connection
// reads from or publishes to. None of them are owned by a Connection.
type Deps struct {
	Logger   *zap.Logger
	Metrics  *metrics.Registry
	Table    *store.Table
	Bus      *broadcast.Bus
	Registry *broadcast.Registry
	Bridge   *bridge.Mirror
	WS       config.WebSocketConfig
}

// Connection is one accepted, upgraded WebSocket socket bound to a
// resolved client id.
type Connection struct {
	id    string
	conn  net.Conn
	deps  Deps
	state atomic.Int32

	// localSubs is read and written only from the writer task, which is
	// single-threaded by construction, so it needs no lock of its own —
	// the Registry is the source of truth shared across connections.
	localSubs map[string]broadcast.Options
}

// NewConnection builds a Connection for an already-upgraded socket. The
// connection starts in StateUpgrading: the caller has accepted the TCP
// socket and completed the ws.Upgrader handshake, but Run has not yet
// taken over.
func NewConnection(id string, conn net.Conn, deps Deps) *Connection {
	c := &Connection{id: id, conn: conn, deps: deps}
	c.state.Store(int32(StateUpgrading))
	return c
}

// State reports the connection's current position in its lifecycle. Safe
// to call concurrently with Run from, e.g., a health check or metrics
// collector.
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(logger *zap.Logger, s State) {
	c.state.Store(int32(s))
	logger.Debug("connection state transition", zap.String("state", s.String()))
}

// Run drives the connection through Handshaking, Running and Closing. It
// blocks until both the reader and writer tasks have exited, then sends a
// best-effort Close frame and returns.
func (c *Connection) Run(ctx context.Context) {
	logger := c.deps.Logger.With(zap.String("client_id", c.id))
	c.setState(logger, StateHandshaking)

	receiver, err := c.deps.Bus.Subscribe()
	if err != nil {
		logger.Warn("broadcast subscribe failed, rejecting connection", zap.Error(err))
		c.setState(logger, StateClosing)
		body := ws.NewCloseFrameBody(ws.StatusTryAgainLater, "server busy")
		if werr := wsutil.WriteServerMessage(c.conn, ws.OpClose, body); werr != nil {
			logger.Debug("close frame send failed", zap.Error(werr))
		}
		c.setState(logger, StateClosed)
		return
	}
	defer receiver.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	commandSize := c.deps.WS.CommandChannelSize
	statusSize := c.deps.WS.StatusChannelSize
	commandCh := make(chan protocol.Command, commandSize)
	statusCh := make(chan protocol.StatusMessage, statusSize)

	readerDone := make(chan struct{})
	writerDone := make(chan struct{})
	handshakeDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		c.readLoop(connCtx, logger, commandCh, statusCh)
	}()
	go func() {
		defer close(writerDone)
		c.writeLoop(connCtx, logger, commandCh, statusCh, receiver, handshakeDone)
	}()

	select {
	case <-handshakeDone:
		c.setState(logger, StateRunning)
	case <-readerDone:
	case <-writerDone:
	}

	// Whichever task finishes first, cancel the other (cooperative abort)
	// and wait for it: this is the supervisor from spec.md §4.4.
	select {
	case <-readerDone:
		cancel()
		<-writerDone
	case <-writerDone:
		cancel()
		<-readerDone
	}

	c.setState(logger, StateClosing)

	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "Goodbye")
	if err := wsutil.WriteServerMessage(c.conn, ws.OpClose, body); err != nil {
		logger.Debug("close frame send failed", zap.Error(err))
	}

	c.setState(logger, StateClosed)
}

// readLoop pulls frames off the inbound half and either forwards decoded
// commands to the writer or reports a decode failure on the status
// channel, per spec.md §4.4's per-opcode table.
func (c *Connection) readLoop(ctx context.Context, logger *zap.Logger, commandCh chan<- protocol.Command, statusCh chan<- protocol.StatusMessage) {
	reader := wsutil.NewReader(c.conn, ws.StateServerSide)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		header, err := reader.NextFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("read frame error", zap.Error(err))
			}
			return
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing:
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPong, nil); err != nil {
				logger.Debug("pong reply failed", zap.Error(err))
				return
			}
		case ws.OpPong:
			// Observed, no action.
		case ws.OpText, ws.OpBinary:
			payload := make([]byte, header.Length)
			if _, err := io.ReadFull(reader, payload); err != nil {
				logger.Debug("read message payload failed", zap.Error(err))
				return
			}

			var cmd protocol.Command
			if err := cmd.UnmarshalJSON(payload); err != nil {
				kind := "string"
				if header.OpCode == ws.OpBinary {
					kind = "binary"
				}
				logger.Debug("command decode failed", zap.String("frame", kind), zap.Error(err))
				status := protocol.Error("Could not deserialize "+kind+" message", nil)
				select {
				case statusCh <- status:
				case <-ctx.Done():
					return
				}
				continue
			}

			select {
			case commandCh <- cmd:
			case <-ctx.Done():
				return
			}
		default:
			if _, err := io.CopyN(io.Discard, reader, int64(header.Length)); err != nil {
				logger.Debug("drain frame failed", zap.Error(err))
				return
			}
		}
	}
}

// writeLoop owns the socket's outbound half. It performs the handshake
// sends, then cooperatively selects over the three input sources spec.md
// §4.4 names: the command channel, the broadcast receiver, and the status
// channel. It is the only goroutine that ever writes to c.conn or reads
// c.localSubs, so no locking is needed around either.
func (c *Connection) writeLoop(ctx context.Context, logger *zap.Logger, commandCh <-chan protocol.Command, statusCh <-chan protocol.StatusMessage, receiver *broadcast.Receiver, handshakeDone chan<- struct{}) {
	if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, initialPing); err != nil {
		logger.Debug("initial ping failed", zap.Error(err))
		return
	}

	if !c.writeMessage(logger, protocol.NewClientIDMessage(c.id)) {
		return
	}

	c.localSubs = c.deps.Registry.Get(c.id)
	close(handshakeDone)

	for {
		select {
		case <-ctx.Done():
			return

		case cmd, ok := <-commandCh:
			if !ok {
				return
			}
			if !c.dispatch(logger, cmd) {
				return
			}

		case status, ok := <-statusCh:
			if !ok {
				return
			}
			if !c.writeMessage(logger, protocol.NewStatusMessage(status)) {
				return
			}

		case <-receiver.Notify():
			for {
				envelope, lag, ok := receiver.TryRecv()
				if !ok {
					break
				}
				if lag > 0 {
					logger.Warn("broadcast receiver lagged", zap.Int("dropped", lag))
				}
				if !broadcast.ShouldDeliver(envelope, c.id, c.localSubs) {
					continue
				}
				msg := protocol.NewBroadcastMessage(protocol.BroadcastMessage{
					ClientID: envelope.ClientID,
					Channel:  envelope.Channel,
					Message:  envelope.Message,
				})
				if !c.writeMessage(logger, msg) {
					return
				}
				if c.deps.Metrics != nil {
					c.deps.Metrics.Delivered()
				}
			}
			if receiver.IsClosed() {
				return
			}
		}
	}
}

// writeMessage serializes and sends msg as a Text frame. Serialization
// failures are logged and the message is dropped; transport failures
// terminate the caller's loop (returns false).
func (c *Connection) writeMessage(logger *zap.Logger, msg protocol.Message) bool {
	data, err := msg.MarshalJSON()
	if err != nil {
		logger.Warn("message serialize failed", zap.Error(err))
		return true
	}
	if err := wsutil.WriteServerMessage(c.conn, ws.OpText, data); err != nil {
		logger.Debug("message send failed", zap.Error(err))
		return false
	}
	return true
}
