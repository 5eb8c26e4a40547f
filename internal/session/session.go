// Package session implements the receiver-side per-remote-sender state
// machine (spec.md §4.5): a Session tracks one sender's jitter queue,
// FEC decode state, depacketizer cursor, resampler and latency tuner,
// and statistics; a Router admits inbound packets into the right
// Session by source id or address and unifies sessions sharing an
// RTCP CNAME; a Slot groups a source/repair/control endpoint set.
package session

import (
	"log/slog"
	"math/rand"
	"net"
	"time"

	"github.com/sebas/rocpipe/internal/audio"
	"github.com/sebas/rocpipe/internal/depacketizer"
	"github.com/sebas/rocpipe/internal/fec"
	"github.com/sebas/rocpipe/internal/packet"
	"github.com/sebas/rocpipe/internal/rtcp"
)

// Config bundles the construction-time parameters a Session needs from
// the slot/router that creates it.
type Config struct {
	SourceSpec audio.SampleSpec // wire-side sample spec, from the source RTP stream
	OutputSpec audio.SampleSpec // pipeline output sample spec
	Decoder    audio.FrameDecoder
	Codec      fec.Codec // nil if this session carries no FEC
	PacketLen  int       // per-channel frames per source packet, for FEC timestamp recovery
	MaxLatency time.Duration
	Tuner      audio.TunerConfig
	QueueDepth int
	NoPlayback time.Duration
	Resampler  audio.ResamplerBackend
	ResampProf audio.ResamplerProfile
	Factory    *packet.Factory // packets this session composes (RTCP RR) come from here
}

// Session is one remote sender's receive-side state, identified by its
// RTCP CNAME/SSRC set rather than by network address (spec.md §4.5).
type Session struct {
	SSRC  uint32
	CNAME string
	Addr  *net.UDPAddr

	log *slog.Logger

	cfg Config

	queue *packet.Queue
	fecIn *fec.BlockAssembler // nil when Config.Codec is nil

	dp *depacketizer.Depacketizer
	wd *depacketizer.Watchdog

	resampler audio.Resampler
	tuner     *audio.LatencyTuner
	loss      *LossTracker

	rtcpP *rtcp.Participant

	lastRecv time.Time
	noPlay   time.Duration

	resampleBuf []float32
}

// New constructs a Session for the given source SSRC/address, admitted
// by a Router.
func New(ssrc uint32, addr *net.UDPAddr, cname string, cfg Config) (*Session, error) {
	queue := packet.NewQueue(cfg.QueueDepth)

	var fecIn *fec.BlockAssembler
	if cfg.Codec != nil {
		fecIn = fec.NewBlockAssembler(cfg.Codec, cfg.MaxLatency, cfg.PacketLen)
	}

	wd := depacketizer.NewWatchdog(queue, cfg.NoPlayback)
	dp := depacketizer.New(wd, cfg.Decoder, cfg.SourceSpec)

	resampler, err := audio.NewResampler(cfg.Resampler, cfg.ResampProf, cfg.SourceSpec.SampleRate, cfg.OutputSpec.SampleRate)
	if err != nil {
		return nil, err
	}
	tuner := audio.NewLatencyTuner(cfg.SourceSpec, cfg.Tuner)

	factory := cfg.Factory
	if factory == nil {
		factory = packet.NewFactory(0)
	}

	return &Session{
		SSRC:      ssrc,
		CNAME:     cname,
		Addr:      addr,
		log:       slog.Default().With("component", "Session", "ssrc", ssrc),
		cfg:       cfg,
		queue:     queue,
		fecIn:     fecIn,
		dp:        dp,
		wd:        wd,
		resampler: resampler,
		tuner:     tuner,
		loss:      NewLossTracker(),
		rtcpP:     rtcp.NewParticipant(rtcp.RoleReceiver, rand.Uint32(), cname, factory),
		noPlay:    cfg.NoPlayback,
	}, nil
}

// HandlePacket admits one already-parsed inbound packet into this
// session: FEC packets are routed through the block assembler first;
// everything the assembler (or, without FEC, the packet itself)
// releases lands in the jitter queue the depacketizer reads from.
func (s *Session) HandlePacket(p *packet.Packet, now time.Time) {
	s.lastRecv = now

	if p.RTP != nil {
		_, lost := s.loss.Update(p.RTP.SequenceNumber)
		if lost > 0 {
			s.log.Debug("packet loss detected", "lost", lost)
		}
		rate := int64(s.cfg.SourceSpec.SampleRate)
		arrival := now.Unix()*rate + int64(now.Nanosecond())*rate/int64(time.Second)
		s.loss.UpdateJitter(int64(p.RTP.StreamTimestamp), arrival)
	}

	if s.fecIn != nil && p.FEC != nil {
		s.fecIn.Write(p, now)
		for _, out := range s.fecIn.Read() {
			s.enqueue(out)
		}
		return
	}
	s.enqueue(p)
}

func (s *Session) enqueue(p *packet.Packet) {
	if err := s.queue.WritePacket(p); err != nil {
		s.log.Warn("dropping packet, jitter queue full", "err", err)
	}
}

// ReadFrame fills frame with this session's next block of audio at the
// output sample rate: the depacketizer supplies wire-rate samples,
// which the session's resampler and latency tuner convert to the
// pipeline's output rate.
func (s *Session) ReadFrame(frame *audio.Frame, now time.Time) error {
	numCh := s.cfg.SourceSpec.NumChannels()
	if numCh == 0 {
		numCh = 1
	}
	outCh := s.cfg.OutputSpec.NumChannels()
	if outCh == 0 {
		outCh = 1
	}

	scaling := s.tuner.Update(uint64(s.queue.Len()), now)
	if err := s.resampler.SetScaling(scaling); err != nil {
		return err
	}

	outPerChan := len(frame.Samples) / outCh
	inPerChan := outPerChan*int(s.cfg.SourceSpec.SampleRate)/max1(int(s.cfg.OutputSpec.SampleRate)) + 8

	need := inPerChan * numCh
	if cap(s.resampleBuf) < need {
		s.resampleBuf = make([]float32, need)
	}
	in := s.resampleBuf[:need]

	inFrame := &audio.Frame{Samples: in}
	if err := s.dp.Read(inFrame); err != nil {
		return err
	}
	frame.Flags |= inFrame.Flags
	if frame.CaptureTimestamp == 0 {
		frame.CaptureTimestamp = inFrame.CaptureTimestamp
	}

	n := s.resampler.Resample(frame.Samples, in, numCh)
	for i := n; i < len(frame.Samples); i++ {
		frame.Samples[i] = 0
	}

	s.wd.Check(now)
	return nil
}

func max1(v int) int {
	if v <= 0 {
		return 1
	}
	return v
}

// IngestRTCP folds a received compound RTCP payload into this
// session's participant state (the peer's last SR timing and RTT).
func (s *Session) IngestRTCP(raw []byte, now time.Time) error {
	_, err := s.rtcpP.Ingest(raw, now)
	return err
}

// ComposeRTCP builds this session's next receiver report, folding in
// current loss/jitter statistics.
func (s *Session) ComposeRTCP(now time.Time, leaving bool) (*packet.Packet, error) {
	_, lost := s.loss.Stats()
	return s.rtcpP.ComposeRecv(now, []rtcp.ReceptionStats{{
		SourceSSRC:     s.SSRC,
		CumulativeLost: uint32(lost),
		Jitter:         uint32(s.loss.Jitter()),
	}}, leaving)
}

// Expired reports whether this session's last inbound packet is older
// than its configured no-playback-timeout, per spec.md §4.5's
// destruction policy.
func (s *Session) Expired(now time.Time) bool {
	if s.lastRecv.IsZero() {
		return false
	}
	return now.Sub(s.lastRecv) > s.noPlay
}

// Stats returns a metrics snapshot of this session's current state.
func (s *Session) Stats() Stats {
	received, lost := s.loss.Stats()
	rtt, _ := s.rtcpP.RTT()
	return Stats{
		Received:     received,
		Lost:         lost,
		LossRate:     s.loss.LossRate(),
		Jitter:       s.loss.Jitter(),
		QueueDepth:   s.queue.Len(),
		Scaling:      s.tuner.Scaling(),
		RTT:          int64(rtt),
		LastRecvUnix: s.lastRecv.Unix(),
	}
}
