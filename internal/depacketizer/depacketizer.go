// Package depacketizer assembles a continuous sample stream from a
// jittered, possibly-lossy packet sequence: it forwards decoded audio
// as packets arrive, fills gaps with silence, drops packets that
// arrive too late to matter, and resumes cleanly from packets that
// partially overlap what has already been delivered. Behavior is
// grounded exactly on the test cases in
// original_source/roc_audio/test_depacketizer.cpp.
package depacketizer

import (
	"log/slog"

	"github.com/sebas/rocpipe/internal/audio"
	"github.com/sebas/rocpipe/internal/packet"
)

// Depacketizer turns a packet.Reader plus an audio.FrameDecoder into
// an audio.Frame source with no gaps in its stream-timestamp axis.
type Depacketizer struct {
	reader  packet.Reader
	decoder audio.FrameDecoder
	spec    audio.SampleSpec
	log     *slog.Logger

	started bool
	nextTS  packet.StreamTimestamp

	curSamples []float32 // interleaved, all channels
	curLen     int        // per-channel frame count
	curPos     int        // per-channel frames already consumed
	curStartTS packet.StreamTimestamp
	curCTS     int64
	curHasCTS  bool

	ctsValid bool
	nextCTS  int64 // predicted capture timestamp for stream position nextTS
}

// New returns a Depacketizer reading packets from reader and decoding
// them with decoder into frames of the given sample spec.
func New(reader packet.Reader, decoder audio.FrameDecoder, spec audio.SampleSpec) *Depacketizer {
	return &Depacketizer{
		reader:  reader,
		decoder: decoder,
		spec:    spec,
		log:     slog.Default().With("component", "Depacketizer"),
	}
}

// IsStarted reports whether the depacketizer has ever received a
// packet establishing its stream-timestamp cursor.
func (d *Depacketizer) IsStarted() bool { return d.started }

// NextTimestamp returns the stream timestamp the depacketizer expects
// its next output sample to carry. Meaningless (always 0) before the
// first packet arrives.
func (d *Depacketizer) NextTimestamp() packet.StreamTimestamp { return d.nextTS }

// Read fills frame.Samples completely, advancing the stream cursor by
// exactly that many per-channel frames. It never returns an error:
// upstream failures (empty queue, transient reader errors) degrade to
// silence, per spec.md §7's propagation policy for the depacketizer.
func (d *Depacketizer) Read(frame *audio.Frame) error {
	numCh := d.spec.NumChannels()
	if numCh == 0 {
		numCh = 1
	}
	needFrames := len(frame.Samples) / numCh
	frame.Zero()

	filled := 0
	sawAudio := false
	sawSilence := false
	sawDrop := false

	frameCTSSet := false
	var frameCTS int64

	for filled < needFrames {
		if d.curSamples == nil || d.curPos >= d.curLen {
			ok, dropped := d.fetchPacket()
			if dropped {
				sawDrop = true
			}
			if !ok {
				remain := needFrames - filled
				d.emitSilence(frame, numCh, filled, remain)
				if !frameCTSSet && d.ctsValid {
					frameCTS = clampNonNeg(d.nextCTS - d.nsPerChan(filled))
					frameCTSSet = true
				}
				sawSilence = true
				d.advance(remain)
				filled = needFrames
				break
			}
		}

		curStartPos := d.curStartTS.Add(uint32(d.curPos))
		if d.started {
			gap := int(curStartPos.Diff(d.nextTS))
			if gap > 0 {
				n := gap
				if remain := needFrames - filled; n > remain {
					n = remain
				}
				d.emitSilence(frame, numCh, filled, n)
				if !frameCTSSet && d.ctsValid {
					frameCTS = clampNonNeg(d.nextCTS - d.nsPerChan(filled))
					frameCTSSet = true
				}
				sawSilence = true
				d.advance(n)
				filled += n
				continue
			}
		}

		avail := d.curLen - d.curPos
		n := avail
		if remain := needFrames - filled; n > remain {
			n = remain
		}

		if d.curHasCTS {
			chunkStartCTS := d.curCTS + d.nsPerChan(d.curPos)
			d.nextCTS = chunkStartCTS
			d.ctsValid = true
		}
		if !frameCTSSet && d.ctsValid {
			frameCTS = clampNonNeg(d.nextCTS - d.nsPerChan(filled))
			frameCTSSet = true
		}

		d.emitAudio(frame, numCh, filled, n)
		sawAudio = true

		d.curPos += n
		d.advance(n)
		filled += n
	}

	if frameCTSSet {
		frame.CaptureTimestamp = frameCTS
	} else {
		frame.CaptureTimestamp = 0
	}
	if sawAudio {
		frame.Flags |= audio.FlagNotBlank
	}
	if sawSilence {
		frame.Flags |= audio.FlagNotComplete
	}
	if sawDrop {
		frame.Flags |= audio.FlagPacketDrops
	}

	return nil
}

// nsPerChan converts a per-channel sample count into nanoseconds using
// the depacketizer's output sample rate.
func (d *Depacketizer) nsPerChan(n int) int64 {
	return int64(d.spec.SamplesPerChanToNs(uint64(n)))
}

func clampNonNeg(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// advance moves the stream-timestamp cursor forward by n per-channel
// frames. It is a no-op before the first packet establishes the
// cursor: next_timestamp() has no meaning until then.
func (d *Depacketizer) advance(n int) {
	if !d.started {
		return
	}
	d.nextTS = d.nextTS.Add(uint32(n))
	if d.ctsValid {
		d.nextCTS += d.nsPerChan(n)
	}
}

func (d *Depacketizer) emitSilence(frame *audio.Frame, numCh, offset, n int) {
	lo := offset * numCh
	hi := (offset + n) * numCh
	for i := lo; i < hi; i++ {
		frame.Samples[i] = 0
	}
}

func (d *Depacketizer) emitAudio(frame *audio.Frame, numCh, offset, n int) {
	dst := frame.Samples[offset*numCh : (offset+n)*numCh]
	src := d.curSamples[d.curPos*numCh : (d.curPos+n)*numCh]
	copy(dst, src)
}

// fetchPacket loads the next usable packet into the cursor fields.
// It drops any number of packets that end at or before the current
// stream position (late arrivals) before returning, and reports
// whether at least one was dropped. It returns ok=false when the
// reader has nothing more to offer right now (empty queue or a
// transient error) without touching any cursor state.
func (d *Depacketizer) fetchPacket() (ok bool, dropped bool) {
	numCh := d.spec.NumChannels()
	if numCh == 0 {
		numCh = 1
	}

	for {
		p, err := d.reader.ReadPacket()
		if err != nil {
			return false, dropped
		}
		if p == nil || p.RTP == nil {
			continue
		}

		buf := make([]float32, len(p.Payload)+numCh)
		n, err := d.decoder.Decode(p.Payload, buf)
		if err != nil {
			d.log.Warn("dropping packet with undecodable payload", "err", err)
			dropped = true
			continue
		}
		perChan := n / numCh
		if perChan == 0 {
			continue
		}

		startTS := p.RTP.StreamTimestamp
		endTS := startTS.Add(uint32(perChan))

		if d.started {
			if endTS.Diff(d.nextTS) <= 0 {
				dropped = true
				continue
			}
		}

		skip := 0
		if d.started {
			if s := int(d.nextTS.Diff(startTS)); s > 0 {
				skip = s
				if skip > perChan {
					skip = perChan
				}
			}
		} else {
			d.nextTS = startTS
			d.started = true
		}

		d.curSamples = buf[:n]
		d.curLen = perChan
		d.curPos = skip
		d.curStartTS = startTS
		d.curCTS = p.RTP.CaptureTS
		d.curHasCTS = p.RTP.CaptureTS != 0

		return true, dropped
	}
}
