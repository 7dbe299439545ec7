package wsconn

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dnmfarrell/wsshell/internal/hub"
	"github.com/dnmfarrell/wsshell/internal/protocol"
)

// PTYWriter is the subset of ptyproc.Proc a Connection's inbound loop
// needs to funnel client keystrokes into the PTY.
type PTYWriter interface {
	WriteAll(data []byte) error
}

// Resizer is the subset of resize.Coordinator a Connection's inbound
// loop needs to hand off headless client-originated resize requests.
type Resizer interface {
	RequestClient(cols, rows uint16)
}

// Connection runs the ATTACHING -> ACTIVE -> CLOSING -> CLOSED state
// machine for one accepted transport.
type Connection struct {
	transport Transport
	hub       *hub.Hub
	ptyWriter PTYWriter
	resizer   Resizer
	logger    *slog.Logger
}

// New creates a Connection. logger may be nil.
func New(transport Transport, h *hub.Hub, ptyWriter PTYWriter, resizer Resizer, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{transport: transport, hub: h, ptyWriter: ptyWriter, resizer: resizer, logger: logger}
}

// Serve runs the connection to completion: ATTACHING, then ACTIVE
// until either sub-task ends or ctx is cancelled (session shutdown),
// then CLOSING/CLOSED. It never returns an error to the caller; all
// failures are terminal for this connection alone and are logged.
func (c *Connection) Serve(ctx context.Context) {
	// ATTACHING, step 1: subscribe before anything else can be missed.
	sub, unsubscribe := c.hub.Subscribe()
	defer unsubscribe()

	// CLOSING: the transport is closed on every exit path, including a
	// handshake that failed mid-ATTACHING.
	defer func() {
		if err := c.transport.Close("connection closing"); err != nil {
			c.logger.Debug("transport close", "err", err)
		}
	}()

	if !c.attach(ctx) {
		return
	}

	// ACTIVE: outbound and inbound sub-tasks race under a connection-
	// scoped context. Whichever finishes first cancels active, which
	// signals the other to unwind, driving CLOSING.
	active, cancelActive := context.WithCancel(ctx)
	defer cancelActive()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancelActive()
		c.outboundLoop(active, sub)
	}()
	c.inboundLoop(active)
	cancelActive()
	<-done
}

// attach executes the ATTACHING sequence. Returns false if any send
// failed, in which case the connection is already terminated.
func (c *Connection) attach(ctx context.Context) bool {
	cols, rows := c.hub.CurrentSize()

	if !c.sendEnvelope(ctx, mustWinSize(cols, rows)) {
		return false
	}
	if !c.sendEnvelope(ctx, mustReadOnly(c.hub.ReadOnly())) {
		return false
	}
	if !c.sendEnvelope(ctx, mustHeadless(c.hub.Headless())) {
		return false
	}

	if replay := c.hub.DrainReplay(); len(replay) > 0 {
		env, err := protocol.EncodeWrite(replay)
		if err != nil {
			c.logger.Error("encode replay write", "err", err)
			return false
		}
		if !c.sendEnvelope(ctx, env) {
			return false
		}
	}
	return true
}

func (c *Connection) outboundLoop(ctx context.Context, sub chan hub.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub:
			if !ok {
				return
			}
			var env protocol.Envelope
			var err error
			if frame.WinSize != nil {
				env, err = protocol.EncodeWinSize(frame.WinSize.Cols, frame.WinSize.Rows)
			} else {
				env, err = protocol.EncodeWrite(frame.Raw)
			}
			if err != nil {
				c.logger.Error("encode outbound frame", "err", err)
				return
			}
			if !c.sendEnvelope(ctx, env) {
				return
			}
		}
	}
}

func (c *Connection) inboundLoop(ctx context.Context) {
	for {
		raw, err := c.transport.ReadMessage(ctx)
		if err != nil {
			c.logClose("inbound read", err)
			return
		}

		env, err := protocol.ParseEnvelope(raw)
		if err != nil {
			c.logger.Debug("dropping malformed frame", "err", err)
			continue
		}

		switch env.Type {
		case protocol.TypeWrite:
			c.handleWrite(env)
		case protocol.TypeWinSize:
			c.handleWinSize(env)
		default:
			c.logger.Debug("dropping unrecognized frame type", "type", env.Type)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *Connection) handleWrite(env protocol.Envelope) {
	if c.hub.ReadOnly() {
		return
	}
	data, err := protocol.DecodeWrite(env)
	if err != nil {
		c.logger.Debug("dropping malformed write frame", "err", err)
		return
	}
	if err := c.ptyWriter.WriteAll(data); err != nil {
		c.logger.Error("pty write failed", "err", err)
	}
}

func (c *Connection) handleWinSize(env protocol.Envelope) {
	if !c.hub.Headless() {
		return
	}
	ws, err := protocol.DecodeWinSize(env)
	if err != nil {
		c.logger.Debug("dropping malformed winsize frame", "err", err)
		return
	}
	c.resizer.RequestClient(ws.Cols, ws.Rows)
}

func (c *Connection) sendEnvelope(ctx context.Context, env protocol.Envelope) bool {
	raw, err := protocol.Marshal(env)
	if err != nil {
		c.logger.Error("marshal outbound envelope", "err", err)
		return false
	}
	if err := c.transport.WriteMessage(ctx, raw); err != nil {
		c.logClose("outbound write", err)
		return false
	}
	return true
}

// logClose classifies a transport error as an expected disconnect
// (logged at debug) or an unexpected one (logged at error), per the
// substring matching the attach/active contract specifies. Either way
// the connection terminates.
func (c *Connection) logClose(where string, err error) {
	msg := err.Error()
	expected := strings.Contains(msg, "closed connection") ||
		strings.Contains(msg, "Connection reset") ||
		strings.Contains(msg, "Trying to work with closed connection")
	if expected {
		c.logger.Debug("connection closed", "where", where, "err", err)
		return
	}
	c.logger.Error("connection error", "where", where, "err", err)
}

func mustWinSize(cols, rows uint16) protocol.Envelope {
	env, _ := protocol.EncodeWinSize(cols, rows)
	return env
}

func mustReadOnly(v bool) protocol.Envelope {
	env, _ := protocol.EncodeReadOnly(v)
	return env
}

func mustHeadless(v bool) protocol.Envelope {
	env, _ := protocol.EncodeHeadless(v)
	return env
}
