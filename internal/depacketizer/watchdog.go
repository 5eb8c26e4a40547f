package depacketizer

import (
	"log/slog"
	"time"

	"github.com/sebas/rocpipe/internal/packet"
)

// Watchdog wraps a packet.Reader and observes whether a session has
// gone silent for longer than a configured timeout. Per spec.md
// §4.4/§4.5, reporting a stalled session and tearing it down are
// separate decisions: this type only reports; the session router owns
// the actual no-playback-timeout teardown.
type Watchdog struct {
	reader  packet.Reader
	timeout time.Duration
	log     *slog.Logger

	lastReceived time.Time
	reported     bool
}

// NewWatchdog wraps reader, reporting via slog once no packet has
// arrived for longer than timeout.
func NewWatchdog(reader packet.Reader, timeout time.Duration) *Watchdog {
	return &Watchdog{
		reader:  reader,
		timeout: timeout,
		log:     slog.Default().With("component", "Watchdog"),
	}
}

// ReadPacket implements packet.Reader, tracking arrival times as a
// side effect.
func (w *Watchdog) ReadPacket() (*packet.Packet, error) {
	p, err := w.reader.ReadPacket()
	if err == nil {
		w.lastReceived = time.Now()
		w.reported = false
	}
	return p, err
}

// Check reports (via slog.Warn, once, until traffic resumes) whether
// the session has exceeded its no-playback timeout as of now. It does
// not mutate any session or reader state beyond its own report flag.
func (w *Watchdog) Check(now time.Time) (stalled bool) {
	if w.lastReceived.IsZero() {
		return false
	}
	if now.Sub(w.lastReceived) <= w.timeout {
		return false
	}
	if !w.reported {
		w.log.Warn("no packets received past timeout", "timeout", w.timeout, "since", w.lastReceived)
		w.reported = true
	}
	return true
}

// LastReceived returns the time of the most recently successfully
// read packet, or the zero time if none has arrived yet.
func (w *Watchdog) LastReceived() time.Time { return w.lastReceived }
