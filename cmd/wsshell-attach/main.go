// Command wsshell-attach is the standalone terminal attach-client: it
// dials a running wsshell session's websocket endpoint and reproduces
// the session in the invoking terminal, reconnecting with exponential
// backoff if the connection drops.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/term"
	"nhooyr.io/websocket"

	"github.com/dnmfarrell/wsshell/internal/protocol"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: wsshell-attach ws://host:port/s/<id>/ws/")
		os.Exit(1)
	}
	url := os.Args[1]

	var attempt int
	for {
		if err := connectAndServe(url); err != nil {
			delay := backoff(attempt)
			fmt.Fprintf(os.Stderr, "wsshell-attach: disconnected (%v), reconnecting in %v\n", err, delay)
			attempt++
			time.Sleep(delay)
			continue
		}
		return
	}
}

func connectAndServe(url string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	fd := int(os.Stdin.Fd())
	var oldState *term.State
	if term.IsTerminal(fd) {
		oldState, err = term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	var readOnly atomic.Bool
	go func() {
		buf := make([]byte, 4096)
		for {
			n, rerr := os.Stdin.Read(buf)
			if n > 0 && !readOnly.Load() {
				env, eerr := protocol.EncodeWrite(buf[:n])
				if eerr == nil {
					raw, merr := protocol.Marshal(env)
					if merr == nil {
						writeCtx, writeCancel := context.WithTimeout(ctx, 5*time.Second)
						conn.Write(writeCtx, websocket.MessageText, raw)
						writeCancel()
					}
				}
			}
			if rerr != nil {
				return
			}
		}
	}()

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		env, err := protocol.ParseEnvelope(raw)
		if err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeWrite:
			if data, derr := protocol.DecodeWrite(env); derr == nil {
				os.Stdout.Write(data)
			}
		case protocol.TypeReadOnly:
			if ro, derr := protocol.DecodeReadOnly(env); derr == nil {
				readOnly.Store(ro.ReadOnly)
			}
		case protocol.TypeWinSize, protocol.TypeHeadless:
			// Geometry/headless announcements have no local renderer
			// in this minimal attach client; the browser view handles
			// them via internal/webassets' app.js.
		}
	}
}

// backoff returns a duration for the given attempt number. Exponential:
// 1s, 2s, 4s, 8s, 16s, 30s (capped) with +/-25% jitter.
func backoff(attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	base := time.Second * time.Duration(1<<uint(attempt))
	const maxDelay = 30 * time.Second
	if base > maxDelay {
		base = maxDelay
	}
	jitter := time.Duration(float64(base) * (0.5*rand.Float64() - 0.25))
	return base + jitter
}
