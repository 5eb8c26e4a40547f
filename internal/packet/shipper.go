package packet

import "net"

// Composer is the capability trait for the outer serialization stage
// (typically RTP, possibly wrapping an inner FEC composer).
type Composer interface {
	// Compose serializes p's header fields into p.Payload. It must
	// never panic on a packet the caller built correctly; malformed
	// caller state (missing facets) is a programmer error and panics,
	// consistent with the rest of the prepare/compose contract.
	Compose(p *Packet) error
}

// Shipper stamps outbound packets with the configured destination and
// hands them to the outbound writer, composing exactly once. This is
// a direct port of original_source/roc_packet/shipper.cpp: prepare and
// compose are the caller's and the wrapped Composer's job respectively;
// Shipper only adds the UDP facet and enforces the write-time
// invariants.
type Shipper struct {
	composer   Composer
	writer     Writer
	outbound   *net.UDPAddr
	hasOutAddr bool
}

// NewShipper constructs a Shipper. outboundAddr may be nil if the
// destination is set per-packet upstream (e.g. a receiver-side
// feedback shipper replying to whichever address a request arrived
// from).
func NewShipper(composer Composer, writer Writer, outboundAddr *net.UDPAddr) *Shipper {
	return &Shipper{
		composer:   composer,
		writer:     writer,
		outbound:   outboundAddr,
		hasOutAddr: outboundAddr != nil,
	}
}

// OutboundAddress returns the configured destination address, or nil
// if none was configured.
func (s *Shipper) OutboundAddress() *net.UDPAddr { return s.outbound }

// WritePacket stamps, composes (if needed) and forwards p.
func (s *Shipper) WritePacket(p *Packet) error {
	if s.hasOutAddr {
		if !p.HasFlags(FlagUDP) {
			p.UDP = &UDPFacet{}
			p.AddFlags(FlagUDP)
		}
		if p.UDP.DstAddr == nil {
			p.UDP.DstAddr = s.outbound
		}
	}

	if !p.HasFlags(FlagPrepared) {
		panic("shipper: unexpected packet: should be prepared")
	}

	if !p.HasFlags(FlagComposed) {
		if err := s.composer.Compose(p); err != nil {
			panic("shipper: can't compose packet: " + err.Error())
		}
		p.AddFlags(FlagComposed)
	}

	return s.writer.WritePacket(p)
}
