package session_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/dnmfarrell/wsshell/internal/httpd"
	"github.com/dnmfarrell/wsshell/internal/protocol"
	"github.com/dnmfarrell/wsshell/internal/session"
)

// newTestServer spawns a session and wraps it in an httptest.Server,
// returning the ws:// URL of its websocket endpoint and a cancel func
// that tears both down.
func newTestServer(t *testing.T, cfg session.Config) (wsURL string, cancel func()) {
	t.Helper()
	sess, err := session.New(cfg)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	mux := httpd.NewMux(sess, nil)
	srv := httptest.NewServer(mux)

	ctx, cancelRun := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(runDone)
	}()

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/s/" + cfg.ID + "/ws/"
	return wsURL, func() {
		cancelRun()
		srv.Close()
		<-runDone
	}
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) (protocol.Envelope, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, raw, err := conn.Read(ctx)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.ParseEnvelope(raw)
}

func sendWrite(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	env, err := protocol.EncodeWrite(data)
	if err != nil {
		t.Fatalf("encode write: %v", err)
	}
	raw, err := protocol.Marshal(env)
	if err != nil {
		t.Fatalf("marshal write: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func sendWinSize(t *testing.T, conn *websocket.Conn, cols, rows uint16) {
	t.Helper()
	env, err := protocol.EncodeWinSize(cols, rows)
	if err != nil {
		t.Fatalf("encode winsize: %v", err)
	}
	raw, err := protocol.Marshal(env)
	if err != nil {
		t.Fatalf("marshal winsize: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// attachHandshake reads and validates the mandatory WinSize, ReadOnly,
// Headless triple, returning the decoded ReadOnly and Headless flags.
func attachHandshake(t *testing.T, conn *websocket.Conn) (readOnly, headless bool) {
	t.Helper()
	env, err := readEnvelope(t, conn, 2*time.Second)
	if err != nil || env.Type != protocol.TypeWinSize {
		t.Fatalf("expected WinSize first, got %+v err=%v", env, err)
	}
	env, err = readEnvelope(t, conn, 2*time.Second)
	if err != nil || env.Type != protocol.TypeReadOnly {
		t.Fatalf("expected ReadOnly second, got %+v err=%v", env, err)
	}
	ro, err := protocol.DecodeReadOnly(env)
	if err != nil {
		t.Fatalf("decode readonly: %v", err)
	}
	env, err = readEnvelope(t, conn, 2*time.Second)
	if err != nil || env.Type != protocol.TypeHeadless {
		t.Fatalf("expected Headless third, got %+v err=%v", env, err)
	}
	hl, err := protocol.DecodeHeadless(env)
	if err != nil {
		t.Fatalf("decode headless: %v", err)
	}
	return ro.ReadOnly, hl.Headless
}

// TestBasicEcho covers a client writing bytes and observing them
// echoed back through the PTY.
func TestBasicEcho(t *testing.T) {
	wsURL, cancel := newTestServer(t, session.Config{
		ID: "s1", Command: "cat", Headless: true, HeadlessCols: 80, HeadlessRows: 24,
	})
	defer cancel()

	conn := dial(t, wsURL)
	defer conn.CloseNow()

	attachHandshake(t, conn)
	sendWrite(t, conn, []byte("hello\n"))

	// The PTY line discipline rewrites \n as \r\n, and the echo may be
	// split across frames, so accumulate and normalize before matching.
	var got strings.Builder
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		env, err := readEnvelope(t, conn, 3*time.Second)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if env.Type != protocol.TypeWrite {
			continue
		}
		data, err := protocol.DecodeWrite(env)
		if err != nil {
			t.Fatalf("decode write: %v", err)
		}
		got.Write(data)
		if strings.Contains(strings.ReplaceAll(got.String(), "\r\n", "\n"), "hello\n") {
			return
		}
	}
	t.Fatal("never observed echoed bytes")
}

// TestReadOnlySessionDiscardsInput covers a read-only session: client
// input never reaches the PTY, so no echo is observed, and the
// session stays open.
func TestReadOnlySessionDiscardsInput(t *testing.T) {
	wsURL, cancel := newTestServer(t, session.Config{
		ID: "s2", Command: "cat", ReadOnly: true, Headless: true, HeadlessCols: 80, HeadlessRows: 24,
	})
	defer cancel()

	conn := dial(t, wsURL)
	defer conn.CloseNow()

	ro, _ := attachHandshake(t, conn)
	if !ro {
		t.Fatal("expected ReadOnly=true")
	}
	sendWrite(t, conn, []byte("X"))

	env, err := readEnvelope(t, conn, 300*time.Millisecond)
	if err == nil && env.Type == protocol.TypeWrite {
		if data, derr := protocol.DecodeWrite(env); derr == nil && strings.Contains(string(data), "X") {
			t.Fatalf("read-only session echoed input: %q", data)
		}
	}
}

// TestHeadlessResizeBurstConverges covers a burst of client-originated
// WinSize requests settling on the last requested geometry.
func TestHeadlessResizeBurstConverges(t *testing.T) {
	wsURL, cancel := newTestServer(t, session.Config{
		ID: "s3", Command: "cat", Headless: true, HeadlessCols: 80, HeadlessRows: 24,
	})
	defer cancel()

	conn := dial(t, wsURL)
	defer conn.CloseNow()
	attachHandshake(t, conn)

	for cols := uint16(100); cols <= 111; cols++ {
		sendWinSize(t, conn, cols, 30)
		time.Sleep(4 * time.Millisecond)
	}

	var last protocol.WinSize
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		env, err := readEnvelope(t, conn, 500*time.Millisecond)
		if err != nil {
			break
		}
		if env.Type != protocol.TypeWinSize {
			continue
		}
		ws, err := protocol.DecodeWinSize(env)
		if err != nil {
			t.Fatalf("decode winsize: %v", err)
		}
		last = ws
		if last.Cols == 111 && last.Rows == 30 {
			return
		}
	}
	t.Fatalf("final announced size was %+v, want {111 30}", last)
}

// TestReplayDeliveredOnLateAttach covers a client attaching after the
// child has already emitted output with nobody subscribed: it should
// receive exactly the last 1KiB as a single Write after the handshake.
func TestReplayDeliveredOnLateAttach(t *testing.T) {
	// Emits exactly 2048 bytes (each i%10 is a single ASCII digit),
	// then sleeps so the process stays alive for the late attach.
	script := "i=1; while [ $i -le 2048 ]; do printf $((i % 10)); i=$((i + 1)); done; sleep 5"

	wsURL, cancel := newTestServer(t, session.Config{
		ID: "s4", Command: "sh", Args: []string{"-c", script},
		Headless: true, HeadlessCols: 80, HeadlessRows: 24,
	})
	defer cancel()

	// Give the child time to emit all 2048 bytes with nobody attached.
	time.Sleep(800 * time.Millisecond)

	var want strings.Builder
	for i := 1; i <= 2048; i++ {
		fmt.Fprintf(&want, "%d", i%10)
	}
	wantTail := want.String()[1024:]

	conn := dial(t, wsURL)
	defer conn.CloseNow()
	attachHandshake(t, conn)

	env, err := readEnvelope(t, conn, 2*time.Second)
	if err != nil {
		t.Fatalf("read replay: %v", err)
	}
	if env.Type != protocol.TypeWrite {
		t.Fatalf("expected Write replay, got %s", env.Type)
	}
	data, err := protocol.DecodeWrite(env)
	if err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if len(data) != 1024 {
		t.Fatalf("replay length = %d, want 1024", len(data))
	}
	if string(data) != wantTail {
		t.Fatalf("replay content mismatch:\ngot  %q\nwant %q", data, wantTail)
	}
}

// TestSecondClientUnaffectedByFirstDisconnecting covers two attached
// clients where one disconnects abruptly; the survivor keeps
// receiving bytes in order and the session does not terminate.
func TestSecondClientUnaffectedByFirstDisconnecting(t *testing.T) {
	wsURL, cancel := newTestServer(t, session.Config{
		ID: "s5", Command: "cat", Headless: true, HeadlessCols: 80, HeadlessRows: 24,
	})
	defer cancel()

	connA := dial(t, wsURL)
	attachHandshake(t, connA)
	connB := dial(t, wsURL)
	attachHandshake(t, connB)
	defer connB.CloseNow()

	connA.CloseNow()
	time.Sleep(100 * time.Millisecond)

	sendWrite(t, connB, []byte("still here\n"))

	var got strings.Builder
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		env, err := readEnvelope(t, connB, 3*time.Second)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if env.Type != protocol.TypeWrite {
			continue
		}
		data, err := protocol.DecodeWrite(env)
		if err != nil {
			t.Fatalf("decode write: %v", err)
		}
		got.Write(data)
		if strings.Contains(strings.ReplaceAll(got.String(), "\r\n", "\n"), "still here\n") {
			return
		}
	}
	t.Fatal("surviving client never observed echoed bytes")
}

// TestChildExitEndsSessionPromptly covers the child process exiting on
// its own: the session must shut down quickly with exit code 0.
func TestChildExitEndsSessionPromptly(t *testing.T) {
	sess, err := session.New(session.Config{
		ID: "s6", Command: "/bin/true", Headless: true, HeadlessCols: 80, HeadlessRows: 24,
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	code := make(chan int, 1)
	go func() {
		code <- sess.Run(context.Background())
	}()

	select {
	case got := <-code:
		if got != 0 {
			t.Fatalf("exit code = %d, want 0", got)
		}
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("session did not shut down within 1.5s of child exit")
	}
}
