// Package session wires the PTY Adapter, Session Hub, Resize
// Coordinator, Local Terminal Bridge, and Lifecycle/Shutdown token
// together into one running session, and exposes Attach as the single
// entry point the HTTP layer calls after a successful websocket
// upgrade.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dnmfarrell/wsshell/internal/hub"
	"github.com/dnmfarrell/wsshell/internal/lifecycle"
	"github.com/dnmfarrell/wsshell/internal/ptyproc"
	"github.com/dnmfarrell/wsshell/internal/resize"
	"github.com/dnmfarrell/wsshell/internal/termbridge"
	"github.com/dnmfarrell/wsshell/internal/wsconn"
)

// Config describes how to start a session, mirroring the host
// process's CLI surface.
type Config struct {
	ID       string // "local" or a generated identifier
	Command  string
	Args     []string
	ReadOnly bool
	Headless bool

	// HeadlessCols/HeadlessRows are the initial geometry when Headless
	// is true. Ignored otherwise (the controlling terminal's current
	// size is probed instead).
	HeadlessCols uint16
	HeadlessRows uint16

	Logger *slog.Logger
}

// Session owns one running child attached to one PTY and every
// component coordinating access to it.
type Session struct {
	id       string
	headless bool
	logger   *slog.Logger

	proc        *ptyproc.Proc
	hub         *hub.Hub
	coordinator *resize.Coordinator
	bridge      *termbridge.Bridge
	lifecycle   *lifecycle.Token
}

// New spawns the child and wires the session together. It does not yet
// run any task loops; call Run for that.
func New(cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var bridge *termbridge.Bridge
	cols, rows := cfg.HeadlessCols, cfg.HeadlessRows
	if !cfg.Headless {
		var err error
		cols, rows, err = termbridge.ProbeSize()
		if err != nil {
			return nil, fmt.Errorf("probe controlling terminal size: %w", err)
		}
	}
	if !resize.Valid(cols, rows) {
		return nil, fmt.Errorf("invalid initial size %dx%d", cols, rows)
	}

	env := map[string]string{
		"RWSHELL":         "1",
		"RWSHELL_SESSION": cfg.ID,
	}
	proc, err := ptyproc.Spawn(cfg.Command, cfg.Args, env, ptyproc.Size{Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}

	h := hub.New(cols, rows, cfg.ReadOnly, cfg.Headless)
	coordinator := resize.New(proc, h, logger)

	if !cfg.Headless {
		bridge = termbridge.New(proc, proc, coordinator, logger)
	}

	return &Session{
		id:          cfg.ID,
		headless:    cfg.Headless,
		logger:      logger,
		proc:        proc,
		hub:         h,
		coordinator: coordinator,
		bridge:      bridge,
		lifecycle:   lifecycle.New(context.Background()),
	}, nil
}

// Attach is the entry point the HTTP layer calls once a websocket
// upgrade succeeds. It blocks for the life of the connection. The
// connection observes both the request's own context and the
// session's shared shutdown token, so a session-wide shutdown (child
// exit, PTY read error) reaches every attached client exactly like
// the PTY reader, resize coordinator, and local terminal bridge do.
func (s *Session) Attach(ctx context.Context, transport wsconn.Transport) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.lifecycle.Done():
			cancel()
		case <-connCtx.Done():
		}
	}()

	conn := wsconn.New(transport, s.hub, s.proc, s.coordinator, s.logger)
	conn.Serve(connCtx)
}

// Run drives the session to completion: starts the PTY reader, the
// reaper, the resize coordinator's debounce ticker, and (if not
// headless) the Local Terminal Bridge's raw-mode lifecycle. It blocks
// until shutdown and returns the host process's exit code.
func (s *Session) Run(ctx context.Context) int {
	if s.bridge != nil {
		if err := s.bridge.Start(); err != nil {
			s.logger.Error("enter raw mode", "err", err)
		}
		defer s.bridge.Restore()
		go s.bridge.Run(s.lifecycle.Done())
		s.bridge.WatchAndForwardSignals(s.lifecycle.Done())
	} else {
		lifecycle.WatchInterrupt(s.lifecycle)
	}

	go s.coordinator.Run(s.lifecycle.Done())
	go s.readLoop()
	lifecycle.ReapChild(s.lifecycle, s.proc.Wait)

	select {
	case <-s.lifecycle.Done():
	case <-ctx.Done():
		s.lifecycle.Cancel(lifecycle.ReasonTransportClosed)
	}

	time.Sleep(lifecycle.GraceDelay)

	// Closing the master hangs up the slave side, so a child that did
	// not itself trigger the shutdown still receives SIGHUP.
	s.proc.Close()

	reason, _ := s.lifecycle.Reason()
	return reason.ExitCode()
}

// readLoop is the Session Hub's single reader task: it drains the PTY
// and publishes every chunk, mirroring to the host terminal when not
// headless. EOF ends the loop quietly (the reaper will have already
// observed or will shortly observe the same child exit); any other
// read error is a fatal PtyIoError that cancels the shutdown token.
func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.proc.ReadChunk(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			s.hub.PublishChunk(data)
			if s.bridge != nil {
				termbridge.MirrorChunk(data)
			}
		}
		if err != nil {
			if err == io.EOF {
				return
			}
			s.logger.Error("pty read error", "err", err)
			s.lifecycle.Cancel(lifecycle.ReasonPtyError)
			return
		}
	}
}

// ID returns the session's identifier ("local" or a generated uuid).
func (s *Session) ID() string { return s.id }
