// Package protocol implements the bidirectional wire format spoken
// between the session core and every attached transport: a JSON
// envelope carrying a type tag and a base64-encoded inner payload.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/dnmfarrell/wsshell/internal/wsherr"
)

// Type names carried in an Envelope's Type field.
const (
	TypeWrite    = "Write"
	TypeWinSize  = "WinSize"
	TypeReadOnly = "ReadOnly"
	TypeHeadless = "Headless"
)

// Envelope is the outer frame exchanged over the transport. Data holds
// the base64 encoding of the JSON-marshaled inner message named by Type.
type Envelope struct {
	Type string `json:"Type"`
	Data string `json:"Data"`
}

// Write carries a chunk of raw PTY bytes. Size is redundant with
// len(Data) once decoded but is sent because the original wire format
// does, and late-joining implementations may use it to validate Data
// before decoding.
type Write struct {
	Size int    `json:"Size"`
	Data string `json:"Data"`
}

// WinSize announces or requests a terminal geometry.
type WinSize struct {
	Cols uint16 `json:"Cols"`
	Rows uint16 `json:"Rows"`
}

// ReadOnly is sent once at attach to tell the client whether it may
// send Write frames.
type ReadOnly struct {
	ReadOnly bool `json:"ReadOnly"`
}

// Headless is sent once at attach to tell the client whether its
// WinSize frames will be honored.
type Headless struct {
	Headless bool `json:"Headless"`
}

// EncodeWrite builds an Envelope wrapping raw bytes in a Write frame.
func EncodeWrite(data []byte) (Envelope, error) {
	inner := Write{Size: len(data), Data: base64.StdEncoding.EncodeToString(data)}
	return encode(TypeWrite, inner)
}

// EncodeWinSize builds an Envelope announcing or requesting a geometry.
func EncodeWinSize(cols, rows uint16) (Envelope, error) {
	return encode(TypeWinSize, WinSize{Cols: cols, Rows: rows})
}

// EncodeReadOnly builds the attach-time ReadOnly Envelope.
func EncodeReadOnly(readOnly bool) (Envelope, error) {
	return encode(TypeReadOnly, ReadOnly{ReadOnly: readOnly})
}

// EncodeHeadless builds the attach-time Headless Envelope.
func EncodeHeadless(headless bool) (Envelope, error) {
	return encode(TypeHeadless, Headless{Headless: headless})
}

func encode(typ string, inner any) (Envelope, error) {
	raw, err := json.Marshal(inner)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: marshal %s: %v", wsherr.ErrProtocol, typ, err)
	}
	return Envelope{Type: typ, Data: base64.StdEncoding.EncodeToString(raw)}, nil
}

// DecodeWrite extracts the raw bytes carried by a Write envelope.
func DecodeWrite(env Envelope) ([]byte, error) {
	var w Write
	if err := decodeInner(env, &w); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: write payload base64: %v", wsherr.ErrProtocol, err)
	}
	return data, nil
}

// DecodeWinSize extracts the geometry carried by a WinSize envelope.
func DecodeWinSize(env Envelope) (WinSize, error) {
	var w WinSize
	if err := decodeInner(env, &w); err != nil {
		return WinSize{}, err
	}
	return w, nil
}

// DecodeReadOnly extracts the flag carried by a ReadOnly envelope.
func DecodeReadOnly(env Envelope) (ReadOnly, error) {
	var r ReadOnly
	if err := decodeInner(env, &r); err != nil {
		return ReadOnly{}, err
	}
	return r, nil
}

// DecodeHeadless extracts the flag carried by a Headless envelope.
func DecodeHeadless(env Envelope) (Headless, error) {
	var h Headless
	if err := decodeInner(env, &h); err != nil {
		return Headless{}, err
	}
	return h, nil
}

func decodeInner(env Envelope, dst any) error {
	raw, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return fmt.Errorf("%w: envelope data base64: %v", wsherr.ErrProtocol, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: unmarshal %s: %v", wsherr.ErrProtocol, env.Type, err)
	}
	return nil
}

// ParseEnvelope decodes a raw text frame into an Envelope.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope: %v", wsherr.ErrProtocol, err)
	}
	return env, nil
}

// Marshal serializes an Envelope to its wire form.
func Marshal(env Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: envelope marshal: %v", wsherr.ErrProtocol, err)
	}
	return raw, nil
}
