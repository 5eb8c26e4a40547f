package session

// LossTracker extends RTP sequence numbers across 16-bit rollovers and
// derives cumulative loss, generalizing the teacher's
// media.SequenceTracker (built for a single VoIP call's RTP stream)
// into the per-session counter the router keeps for RTCP RR reporting
// and metrics.
type LossTracker struct {
	initialized bool
	lastSeq     uint16
	cycles      uint32
	received    uint64
	lost        uint64

	// jitter is the RFC 3550 §6.4.1 running interarrival jitter
	// estimate, in stream-timestamp units.
	jitter      float64
	haveLastArr bool
	lastArrTS   int64 // arrival time expressed in stream-timestamp units
	lastPktTS   int64
}

// NewLossTracker returns an empty tracker.
func NewLossTracker() *LossTracker { return &LossTracker{} }

// Update records one received packet's sequence number, returning its
// 32-bit extended form and how many packets were inferred lost since
// the last (in-order) arrival.
func (s *LossTracker) Update(seq uint16) (extended uint32, lost int) {
	s.received++

	if !s.initialized {
		s.initialized = true
		s.lastSeq = seq
		return uint32(seq), 0
	}

	udiff := seq - s.lastSeq
	diff := int16(udiff)

	if diff > 0 {
		if diff > 1 {
			lost = int(diff) - 1
			s.lost += uint64(lost)
		}
		if s.lastSeq > 0xF000 && seq < 0x1000 {
			s.cycles++
		}
		s.lastSeq = seq
	}
	// diff <= 0: a reordered or duplicate packet arriving behind the
	// current cursor; counted as received above but does not move the
	// extended-sequence cursor or count as newly lost.

	return (s.cycles << 16) | uint32(seq), lost
}

// UpdateJitter folds one packet's (stream timestamp, arrival time in
// the same units) pair into the running jitter estimate.
func (s *LossTracker) UpdateJitter(packetTS, arrivalTS int64) {
	if !s.haveLastArr {
		s.haveLastArr = true
		s.lastArrTS = arrivalTS
		s.lastPktTS = packetTS
		return
	}
	d := (arrivalTS - s.lastArrTS) - (packetTS - s.lastPktTS)
	if d < 0 {
		d = -d
	}
	s.jitter += (float64(d) - s.jitter) / 16
	s.lastArrTS = arrivalTS
	s.lastPktTS = packetTS
}

// Jitter returns the current interarrival jitter estimate.
func (s *LossTracker) Jitter() float64 { return s.jitter }

// Stats returns cumulative received/lost counts.
func (s *LossTracker) Stats() (received, lost uint64) {
	return s.received, s.lost
}

// LossRate returns the fraction of expected packets lost so far.
func (s *LossTracker) LossRate() float64 {
	total := s.received + s.lost
	if total == 0 {
		return 0
	}
	return float64(s.lost) / float64(total)
}

// Stats is the snapshot a session exposes for metrics/XR reporting.
type Stats struct {
	Received     uint64
	Lost         uint64
	LossRate     float64
	Jitter       float64
	QueueDepth   int
	Scaling      float64
	RTT          int64 // nanoseconds, 0 if never measured
	LastRecvUnix int64
}
