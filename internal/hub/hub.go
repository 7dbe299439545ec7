// Package hub implements the Session Hub: the single PTY reader fans
// output out to every attached client, consulting a bounded replay
// buffer when nobody is listening. Client and host input does not pass
// through the Hub; it is written to the PTY's own serialized writer.
package hub

import (
	"sync"
)

// replayCap is the fixed size of the replay buffer in bytes. A screen
// redraw is typically well under this, so it is kept fixed rather than
// made configurable.
const replayCap = 1024

// subscriberCap bounds each subscriber's fan-out channel. A full
// channel means a slow client; its connection is force-closed rather
// than letting the PTY reader block on it.
const subscriberCap = 1024

// Frame is the element type carried on the broadcast channel: either a
// raw PTY byte chunk or a WinSize announcement, never both. This is the
// typed sum variant called for in place of a textual marker prefix.
type Frame struct {
	Raw     []byte
	WinSize *WinSize
}

// WinSize is a terminal geometry announcement.
type WinSize struct {
	Cols uint16
	Rows uint16
}

// Hub owns the broadcast fan-out, the replay buffer, and the session's
// shared Current size / ReadOnly / Headless flags that the attach
// handshake needs to read.
type Hub struct {
	readOnly bool
	headless bool

	mu          sync.Mutex
	subscribers map[chan Frame]struct{}
	replay      []byte
	curCols     uint16
	curRows     uint16
}

// New creates a Hub with the given initial geometry and session flags.
func New(cols, rows uint16, readOnly, headless bool) *Hub {
	return &Hub{
		readOnly:    readOnly,
		headless:    headless,
		subscribers: make(map[chan Frame]struct{}),
		curCols:     cols,
		curRows:     rows,
	}
}

// ReadOnly reports whether client-originated Write frames are dropped.
func (h *Hub) ReadOnly() bool { return h.readOnly }

// Headless reports whether client-originated WinSize frames are honored.
func (h *Hub) Headless() bool { return h.headless }

// CurrentSize returns the last size successfully applied to the PTY.
func (h *Hub) CurrentSize() (cols, rows uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.curCols, h.curRows
}

// setCurrentSize records a newly applied size. Called only by the
// Resize Coordinator's apply step.
func (h *Hub) setCurrentSize(cols, rows uint16) {
	h.mu.Lock()
	h.curCols, h.curRows = cols, rows
	h.mu.Unlock()
}

// Subscribe registers a new fan-out channel and returns it along with
// an unsubscribe function. Per the attach contract, Subscribe must be
// called before the replay buffer is drained, so nothing published
// afterward is missed.
func (h *Hub) Subscribe() (ch chan Frame, unsubscribe func()) {
	ch = make(chan Frame, subscriberCap)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
}

// DrainReplay returns and clears the replay buffer. Called exactly
// once per attaching client, after Subscribe and before the live
// forwarding loop starts.
func (h *Hub) DrainReplay() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.replay) == 0 {
		return nil
	}
	out := h.replay
	h.replay = nil
	return out
}

// PublishChunk is called by the PTY reader task for every chunk of
// output. When there are zero subscribers, the chunk is appended to
// the replay buffer (head-truncated at replayCap) instead of being
// published.
func (h *Hub) PublishChunk(data []byte) {
	h.mu.Lock()
	if len(h.subscribers) == 0 {
		h.appendReplayLocked(data)
		h.mu.Unlock()
		return
	}
	subs := h.subscriberListLocked()
	h.mu.Unlock()

	frame := Frame{Raw: append([]byte(nil), data...)}
	h.fanOut(subs, frame)
}

// PublishWinSize is called by the Resize Coordinator's apply step to
// announce a newly applied geometry to every attached client. Unlike
// PublishChunk, this always records the size (even with zero
// subscribers) since Current size must reflect the latest apply
// regardless of who is listening.
func (h *Hub) PublishWinSize(cols, rows uint16) {
	h.setCurrentSize(cols, rows)

	h.mu.Lock()
	subs := h.subscriberListLocked()
	h.mu.Unlock()

	h.fanOut(subs, Frame{WinSize: &WinSize{Cols: cols, Rows: rows}})
}

func (h *Hub) subscriberListLocked() []chan Frame {
	subs := make([]chan Frame, 0, len(h.subscribers))
	for ch := range h.subscribers {
		subs = append(subs, ch)
	}
	return subs
}

func (h *Hub) appendReplayLocked(data []byte) {
	h.replay = append(h.replay, data...)
	if over := len(h.replay) - replayCap; over > 0 {
		h.replay = h.replay[over:]
	}
}

// fanOut delivers frame to every subscriber without blocking. A
// subscriber whose channel is full is considered slow and is force
// closed and unsubscribed, per the overflow policy: the session makes
// progress, the slow client's sender task observes the closed channel
// and terminates its connection.
func (h *Hub) fanOut(subs []chan Frame, frame Frame) {
	for _, ch := range subs {
		select {
		case ch <- frame:
		default:
			h.mu.Lock()
			if _, ok := h.subscribers[ch]; ok {
				delete(h.subscribers, ch)
				close(ch)
			}
			h.mu.Unlock()
		}
	}
}

// SubscriberCount reports the current number of attached clients.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
