// Package wsconn implements the Client Connection FSM: the
// ATTACHING/ACTIVE/CLOSING/CLOSED state machine around one transport,
// performing the exact attach handshake and then relaying Hub frames
// out while decoding inbound Write/WinSize frames.
package wsconn

import (
	"context"
	"fmt"

	"nhooyr.io/websocket"

	"github.com/dnmfarrell/wsshell/internal/wsherr"
)

// Transport is the minimal duplex text-message surface a Connection
// needs. nhooyr.io/websocket's *websocket.Conn satisfies it via
// NhooyrTransport below; tests use a fake.
type Transport interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close(reason string) error
}

// NhooyrTransport adapts *websocket.Conn to Transport.
type NhooyrTransport struct {
	Conn *websocket.Conn
}

// ReadMessage reads one text frame, matching the wire protocol's
// all-text framing.
func (t NhooyrTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	typ, data, err := t.Conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wsherr.ErrTransport, err)
	}
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("%w: unexpected message type %v", wsherr.ErrProtocol, typ)
	}
	return data, nil
}

// WriteMessage sends one text frame.
func (t NhooyrTransport) WriteMessage(ctx context.Context, data []byte) error {
	if err := t.Conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: %v", wsherr.ErrTransport, err)
	}
	return nil
}

// Close closes the connection with a normal closure status.
func (t NhooyrTransport) Close(reason string) error {
	return t.Conn.Close(websocket.StatusNormalClosure, reason)
}
