package pipeline

import (
	"net"
	"time"

	"github.com/sebas/rocpipe/internal/audio"
	"github.com/sebas/rocpipe/internal/fec"
	"github.com/sebas/rocpipe/internal/packet"
	"github.com/sebas/rocpipe/internal/rtcp"
	"github.com/sebas/rocpipe/internal/rtp"
)

// fecHeaderBytes mirrors the wire size of the FEC source/repair header
// (fec.headerSize, unexported): block id, encoding symbol id,
// source-block length, 2 bytes each.
const fecHeaderBytes = 6

// SenderConfig bundles the construction-time parameters a Sender needs
// from the slot that owns it.
type SenderConfig struct {
	SourceSpec  audio.SampleSpec
	Encoder     audio.FrameEncoder
	Composer    *rtp.Composer
	Codec       fec.Codec // nil disables FEC
	Factory     *packet.Factory
	PayloadType uint8
	SSRC        uint32
	PacketLen   int // frames per channel per packet
	Dest        *net.UDPAddr
}

// Sender is the sender-side per-slot data-plane driver matching
// spec.md §2's mapper → resampler → packetizer → FEC → shipper chain
// (resampling for send-side scaling happens upstream, at the caller's
// audio.FrameWriter boundary, since only one sample spec exists once
// audio reaches the sender). It implements audio.FrameWriter so a
// device capture thread can push frames into it directly.
type Sender struct {
	cfg     SenderConfig
	shipper *packet.Shipper
	fecOut  *fec.BlockWriter
	rtcpP   *rtcp.Participant

	seq       uint16
	repairSeq uint16
	ts        packet.StreamTimestamp

	packetCount uint64
	octetCount  uint64
}

// NewSender constructs a Sender writing composed packets to out
// (typically a slot's outbound packet.Queue).
func NewSender(cfg SenderConfig, out packet.Writer) *Sender {
	var fecOut *fec.BlockWriter
	if cfg.Codec != nil {
		fecOut = fec.NewBlockWriter(cfg.Codec)
	}
	return &Sender{
		cfg:     cfg,
		shipper: packet.NewShipper(cfg.Composer, out, cfg.Dest),
		fecOut:  fecOut,
		rtcpP:   rtcp.NewParticipant(rtcp.RoleSender, cfg.SSRC, "", cfg.Factory),
	}
}

// WriteFrame implements audio.FrameWriter: it splits frame into
// PacketLen-sized chunks, encodes and packetizes each, and ships the
// result (immediately for plain RTP, once per completed block for
// FEC-protected streams).
func (s *Sender) WriteFrame(frame *audio.Frame) error {
	numCh := s.cfg.SourceSpec.NumChannels()
	if numCh == 0 {
		numCh = 1
	}
	perChan := len(frame.Samples) / numCh

	offset := 0
	for offset < perChan {
		n := s.cfg.PacketLen
		if n <= 0 {
			n = perChan
		}
		if remain := perChan - offset; n > remain {
			n = remain
		}
		if err := s.sendChunk(frame, offset, n, numCh); err != nil {
			return err
		}
		offset += n
	}
	return nil
}

func (s *Sender) sendChunk(frame *audio.Frame, offset, n, numCh int) error {
	p, err := s.cfg.Factory.NewPacket()
	if err != nil {
		return err
	}
	p.RTP = &packet.RTPFacet{
		PayloadType:     s.cfg.PayloadType,
		StreamTimestamp: s.ts,
		SourceID:        s.cfg.SSRC,
		SequenceNumber:  s.seq,
	}

	headerRoom := 0
	if s.fecOut != nil {
		headerRoom = fecHeaderBytes
	}
	byteLen := s.cfg.Encoder.EncodedByteCount(n * numCh)
	if err := s.cfg.Composer.Prepare(p, headerRoom+byteLen); err != nil {
		return err
	}

	samples := frame.Samples[offset*numCh : (offset+n)*numCh]
	dst := p.Payload[12+headerRoom:]
	if _, err := s.cfg.Encoder.Encode(dst, samples); err != nil {
		return err
	}

	var toShip []*packet.Packet
	if s.fecOut != nil {
		out, err := s.fecOut.Write(p)
		if err != nil {
			return err
		}
		toShip = out
	} else {
		toShip = []*packet.Packet{p}
	}

	for _, pkt := range toShip {
		if pkt.RTP == nil {
			if err := s.wrapRepair(pkt); err != nil {
				return err
			}
		}
		if err := s.shipper.WritePacket(pkt); err != nil {
			return err
		}
	}

	s.seq++
	s.ts = s.ts.Add(uint32(n))
	s.packetCount++
	s.octetCount += uint64(byteLen)
	return nil
}

// wrapRepair gives a bare FEC repair packet (as produced by
// fec.BlockWriter.closeBlock, carrying only a FEC facet and raw shard
// payload) its own RTP header and header room, using the sender's own
// repair sequence space so loss of source packets never perturbs a
// receiver's source-stream sequence tracking.
func (s *Sender) wrapRepair(p *packet.Packet) error {
	shard := append([]byte(nil), p.Payload...)
	p.RTP = &packet.RTPFacet{
		PayloadType:    s.cfg.PayloadType,
		SourceID:       s.cfg.SSRC,
		SequenceNumber: s.repairSeq,
	}
	if err := s.cfg.Composer.Prepare(p, fecHeaderBytes+len(shard)); err != nil {
		return err
	}
	copy(p.Payload[12+fecHeaderBytes:], shard)
	s.repairSeq++
	return nil
}

// Flush closes any partially-filled FEC block, shipping a
// short-final-block repair set, per fec.BlockWriter.Flush's doc.
func (s *Sender) Flush() error {
	if s.fecOut == nil {
		return nil
	}
	out, err := s.fecOut.Flush()
	if err != nil {
		return err
	}
	for _, pkt := range out {
		if pkt.RTP == nil {
			if err := s.wrapRepair(pkt); err != nil {
				return err
			}
		}
		if err := s.shipper.WritePacket(pkt); err != nil {
			return err
		}
	}
	return nil
}

// ComposeRTCP builds this sender's next compound sender report,
// folding in the packet/octet counts accumulated since the sender was
// created.
func (s *Sender) ComposeRTCP(now time.Time, leaving bool) (*packet.Packet, error) {
	s.rtcpP.NoteSent(uint32(s.ts), now)
	return s.rtcpP.ComposeSend(now, uint32(s.packetCount), uint32(s.octetCount), nil, leaving)
}
