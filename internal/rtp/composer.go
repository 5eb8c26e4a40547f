// Package rtp implements the outer composer/parser layer over
// github.com/pion/rtp: translating between the RFC 3550 wire format
// and the pipeline's packet.Packet model.
package rtp

import (
	"fmt"
	"net"

	"github.com/pion/rtp"

	"github.com/sebas/rocpipe/internal/packet"
	"github.com/sebas/rocpipe/internal/status"
)

// Composer serializes a packet's RTP facet into an RTP wire frame,
// optionally wrapping an inner Composer that has already written an
// FEC header into the payload (spec.md §4.1's composer stack).
type Composer struct {
	inner packet.Composer
}

// NewComposer returns a Composer. inner may be nil for plain RTP with
// no FEC framing beneath it.
func NewComposer(inner packet.Composer) *Composer {
	return &Composer{inner: inner}
}

// Prepare reserves space for an RTP header plus payloadSize bytes of
// payload and marks the packet FlagRTP. It does not modify the RTP
// facet: the caller sets all of its fields, including the sequence
// number.
func (c *Composer) Prepare(p *packet.Packet, payloadSize int) error {
	if p.RTP == nil {
		return fmt.Errorf("rtp: prepare called on packet without RTP facet")
	}
	const headerSize = 12 // fixed RTP header, no CSRC/extension
	p.Prepare(headerSize + payloadSize)
	p.AddFlags(packet.FlagRTP)
	return nil
}

// Compose serializes the RTP header and copies the already-written
// payload region (populated by an inner composer or the caller)
// into place, satisfying packet.Composer.
func (c *Composer) Compose(p *packet.Packet) error {
	if p.RTP == nil {
		panic("rtp: compose called on packet without RTP facet")
	}

	if c.inner != nil {
		if err := c.inner.Compose(p); err != nil {
			return err
		}
	}

	payload := p.Payload[12:]
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         p.RTP.Marker,
			PayloadType:    p.RTP.PayloadType,
			SequenceNumber: p.RTP.SequenceNumber,
			Timestamp:      uint32(p.RTP.StreamTimestamp),
			SSRC:           p.RTP.SourceID,
		},
		Payload: payload,
	}

	buf, err := pkt.Marshal()
	if err != nil {
		return status.Wrap(status.BadFormat, "rtp compose", err)
	}
	if len(buf) != len(p.Payload) {
		// Marshal may add padding; keep the composed image authoritative.
		p.Payload = buf
	} else {
		copy(p.Payload, buf)
	}
	return nil
}

// Parser parses an RTP wire frame into a packet.Packet, wrapping an
// inner Parser (typically FEC) that further interprets the payload.
type Parser struct {
	inner InnerParser
}

// InnerParser is the trait an inner (FEC) parser implements: given the
// already-populated RTP facet and payload, further annotate the
// packet (e.g. with a FEC facet) or leave it untouched.
type InnerParser interface {
	Parse(p *packet.Packet) error
}

// NewParser returns a Parser. inner may be nil.
func NewParser(inner InnerParser) *Parser {
	return &Parser{inner: inner}
}

// Parse decodes raw into a new packet.Packet, allocated from factory.
// It never panics on malformed input: truncated or inconsistent
// frames return an error with status code BadFormat.
func (pr *Parser) Parse(factory *packet.Factory, raw []byte, src *net.UDPAddr) (*packet.Packet, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return nil, status.Wrap(status.BadFormat, "rtp parse", err)
	}

	p, err := factory.NewPacket()
	if err != nil {
		return nil, err
	}

	p.RTP = &packet.RTPFacet{
		PayloadType:     pkt.PayloadType,
		StreamTimestamp: packet.StreamTimestamp(pkt.Timestamp),
		SourceID:        pkt.SSRC,
		SequenceNumber:  pkt.SequenceNumber,
		Marker:          pkt.Marker,
	}
	p.UDP = &packet.UDPFacet{SrcAddr: src}
	p.Payload = pkt.Payload
	p.AddFlags(packet.FlagRTP | packet.FlagUDP | packet.FlagPrepared | packet.FlagComposed)

	if pr.inner != nil {
		if err := pr.inner.Parse(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}
