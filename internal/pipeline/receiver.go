package pipeline

import (
	"time"

	"github.com/sebas/rocpipe/internal/audio"
	"github.com/sebas/rocpipe/internal/session"
)

// Receiver is the receiver-side per-slot data-plane driver matching
// spec.md §2's parser → router → FEC → depacketizer → resampler →
// mapper → mixer chain: everything up to the mixer lives in each
// session; Receiver is the mixer, summing every active session's
// output into one frame for the playback device. It implements
// audio.FrameReader so a device playback thread can pull frames from
// it directly.
type Receiver struct {
	slot *session.Slot
	spec audio.SampleSpec

	mixBuf []float32
	tmp    *audio.Frame
}

// NewReceiver returns a Receiver mixing the sessions held by slot's
// router at the given output sample spec.
func NewReceiver(slot *session.Slot, spec audio.SampleSpec) *Receiver {
	return &Receiver{slot: slot, spec: spec}
}

// ReadFrame implements audio.FrameReader: it reads one frame from
// every session currently admitted into the slot and sums them,
// per spec.md §1's mixer role (out of scope to build in full, but the
// core streaming pipeline still needs to fan its N sessions into one
// output stream for the device to consume).
func (r *Receiver) ReadFrame(frame *audio.Frame) error {
	frame.Zero()

	sessions := r.slot.Router.Sessions()
	if len(sessions) == 0 {
		return nil
	}

	if cap(r.mixBuf) < len(frame.Samples) {
		r.mixBuf = make([]float32, len(frame.Samples))
	}
	mix := r.mixBuf[:len(frame.Samples)]
	for i := range mix {
		mix[i] = 0
	}

	if r.tmp == nil || len(r.tmp.Samples) != len(frame.Samples) {
		r.tmp = audio.NewFrame(len(frame.Samples))
	}

	now := time.Now()
	for _, sess := range sessions {
		r.tmp.Zero()
		if err := sess.ReadFrame(r.tmp, now); err != nil {
			continue
		}
		for i, v := range r.tmp.Samples {
			mix[i] += v
		}
		frame.Flags |= r.tmp.Flags
		if frame.CaptureTimestamp == 0 {
			frame.CaptureTimestamp = r.tmp.CaptureTimestamp
		}
	}

	copy(frame.Samples, mix)
	return nil
}
