// Package termbridge implements the Local Terminal Bridge: raw-mode
// setup for the host's controlling terminal, stdin forwarding into the
// PTY, a 500ms size poller feeding the Resize Coordinator, and output
// mirroring to stdout. Operative only when the session is not
// headless.
package termbridge

import (
	"bytes"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"
)

// SizePollInterval is how often the Bridge checks the controlling
// terminal's size for a local-source resize request.
const SizePollInterval = 500 * time.Millisecond

// suspendByte is ASCII SUB (Ctrl-Z), the byte stdin forwarding watches
// for to trigger shell job-control suspend instead of passing it
// through to the PTY.
const suspendByte = 0x1a

// PTYWriter is the subset of ptyproc.Proc the Bridge's stdin-forwarding
// duty needs.
type PTYWriter interface {
	WriteAll(data []byte) error
}

// PTYSignaler is the subset of ptyproc.Proc needed to forward SIGINT/
// SIGTERM to the child in interactive mode.
type PTYSignaler interface {
	Signal(sig os.Signal) error
}

// LocalResizer is the subset of resize.Coordinator the size poller
// needs.
type LocalResizer interface {
	ApplyLocal(cols, rows uint16)
}

// restoreOnce guards the process-wide terminal-restoration slot so it
// is released exactly once across every exit path.
var restoreOnce sync.Once

// Bridge owns the host terminal's raw-mode lifecycle and the three
// concurrent duties described by the Local Terminal Bridge component.
type Bridge struct {
	fd        int
	oldState  *term.State
	ptyWriter PTYWriter
	signaler  PTYSignaler
	resizer   LocalResizer
	logger    *slog.Logger

	lastCols, lastRows uint16

	// sizeFunc defaults to InitialSize; overridable in tests that have
	// no real controlling terminal to poll.
	sizeFunc func() (cols, rows uint16, err error)
}

// New creates a Bridge for the given PTY writer/signaler/resizer. It
// does not yet touch the terminal; call Start for that.
func New(ptyWriter PTYWriter, signaler PTYSignaler, resizer LocalResizer, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{fd: int(os.Stdin.Fd()), ptyWriter: ptyWriter, signaler: signaler, resizer: resizer, logger: logger}
	b.sizeFunc = b.InitialSize
	return b
}

// ProbeSize reads the controlling terminal's current size directly.
// Used by session wiring to pick the initial PTY geometry before the
// child (and hence a full Bridge) exists.
func ProbeSize() (cols, rows uint16, err error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return 0, 0, os.ErrInvalid
	}
	w, h, err := term.GetSize(fd)
	if err != nil {
		return 0, 0, err
	}
	return uint16(w), uint16(h), nil
}

// InitialSize reads the current controlling terminal size. It is the
// default size source of the poller; the session's initial PTY
// geometry is probed with ProbeSize, before the Bridge exists.
func (b *Bridge) InitialSize() (cols, rows uint16, err error) {
	return ProbeSize()
}

// Start puts the controlling terminal into raw mode and records its
// original state for restoration. Safe to call only once.
func (b *Bridge) Start() error {
	oldState, err := term.MakeRaw(b.fd)
	if err != nil {
		return err
	}
	b.oldState = oldState
	return nil
}

// Restore restores the original terminal attributes. Idempotent: only
// the first call across the process has any effect, matching the
// single-release contract for the process-wide restoration slot.
func (b *Bridge) Restore() {
	restoreOnce.Do(func() {
		if b.oldState != nil {
			term.Restore(b.fd, b.oldState)
		}
	})
}

// Run drives the three concurrent duties until done fires: stdin
// forwarding, size polling, and SIGWINCH-triggered immediate resize.
// Output mirroring is driven separately by MirrorChunk, called by the
// session's PTY reader loop for every chunk it reads.
func (b *Bridge) Run(done <-chan struct{}) {
	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(winchCh)

	go b.forwardStdin(done)

	ticker := time.NewTicker(SizePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-winchCh:
			b.pollSize()
		case <-ticker.C:
			b.pollSize()
		}
	}
}

// forwardStdin reads host stdin and writes it to the PTY, splitting on
// suspendByte (Ctrl-Z) to trigger job-control suspend instead of
// forwarding it.
func (b *Bridge) forwardStdin(done <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-done:
			return
		default:
		}
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			data := buf[:n]
			for len(data) > 0 {
				idx := bytes.IndexByte(data, suspendByte)
				if idx == -1 {
					if werr := b.ptyWriter.WriteAll(data); werr != nil {
						b.logger.Error("stdin forward failed", "err", werr)
						return
					}
					break
				}
				if idx > 0 {
					if werr := b.ptyWriter.WriteAll(data[:idx]); werr != nil {
						b.logger.Error("stdin forward failed", "err", werr)
						return
					}
				}
				b.suspend()
				data = data[idx+1:]
			}
		}
		if err != nil {
			return
		}
	}
}

// suspend stops the host process for shell job control, restoring the
// terminal first so the shell's own SIGTSTP handling takes over; on
// resume (SIGCONT, e.g. via "fg") it re-enters raw mode and resyncs
// the PTY geometry in case the terminal was resized while stopped.
func (b *Bridge) suspend() {
	if b.oldState != nil {
		term.Restore(b.fd, b.oldState)
	}

	signal.Reset(syscall.SIGTSTP)
	syscall.Kill(0, syscall.SIGTSTP)
	// Execution resumes here after SIGCONT.

	if _, err := term.MakeRaw(b.fd); err != nil {
		b.logger.Error("re-enter raw mode after resume", "err", err)
	}
	if cols, rows, err := b.sizeFunc(); err == nil {
		b.lastCols, b.lastRows = cols, rows
		b.resizer.ApplyLocal(cols, rows)
	}
}

func (b *Bridge) pollSize() {
	cols, rows, err := b.sizeFunc()
	if err != nil {
		return
	}
	if cols == b.lastCols && rows == b.lastRows {
		return
	}
	b.lastCols, b.lastRows = cols, rows
	b.resizer.ApplyLocal(cols, rows)
}

// MirrorChunk writes a chunk of PTY output to the host's standard
// output. This is the local render: the host's view of the session
// comes from this mirror, not from the child sharing the host TTY
// (the child only ever sees the PTY slave, never the host's terminal
// directly).
func MirrorChunk(data []byte) {
	os.Stdout.Write(data)
}

// ForwardSignal passes SIGINT/SIGTERM through to the child instead of
// treating them as shutdown, matching interactive mode's contract
// that host interrupts are not session shutdown triggers.
func (b *Bridge) ForwardSignal(sig os.Signal) {
	if err := b.signaler.Signal(sig); err != nil {
		b.logger.Debug("signal forward failed", "sig", sig, "err", err)
	}
}

// WatchAndForwardSignals installs SIGINT/SIGTERM handlers that forward
// to the child, for the interactive-mode case where host interrupts
// must not trigger shutdown.
func (b *Bridge) WatchAndForwardSignals(done <-chan struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-done:
				return
			case sig := <-sigCh:
				b.ForwardSignal(sig)
			}
		}
	}()
}
