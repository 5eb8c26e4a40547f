// Package fec implements the Reed-Solomon (RS8M) and LDPC-Staircase
// block codecs and the receiver-side block windowing/reordering that
// recovers whole FEC blocks from a partially-lost packet stream, per
// spec.md §4.3.
package fec

import (
	"encoding/binary"
	"fmt"

	"github.com/sebas/rocpipe/internal/packet"
	"github.com/sebas/rocpipe/internal/status"
)

// headerSize is the wire size of the FEC source/repair header: block
// id (2), encoding symbol id (2), source-block length (2), per the
// ALC/LDPC FEC Framework field set spec.md §4.1 names. Source and
// repair packets carry the same header; the source-block length field
// echoes nbsrc so a decoder can tell repair (esi >= nbsrc) from source
// and validate block shape without out-of-band signaling.
const headerSize = 6

// Composer writes the FEC header ahead of the RTP payload. It is
// wrapped by an outer rtp.Composer per the composer stack in spec.md
// §4.1: FEC writes its header first, then RTP wraps the whole thing.
type Composer struct{}

// NewComposer returns a FEC header composer.
func NewComposer() *Composer { return &Composer{} }

// Compose writes the FEC facet's fields into the front of p.Payload.
// The caller is responsible for having reserved headerSize bytes
// there via Prepare.
func (c *Composer) Compose(p *packet.Packet) error {
	if p.FEC == nil {
		return fmt.Errorf("fec: compose called on packet without FEC facet")
	}
	if len(p.Payload) < 12+headerSize {
		return fmt.Errorf("fec: payload too small for header")
	}
	// The RTP composer reserves 12 bytes for its own header ahead of
	// this one; the FEC header occupies the next headerSize bytes of
	// the RTP payload region.
	buf := p.Payload[12 : 12+headerSize]
	binary.BigEndian.PutUint16(buf[0:2], uint16(p.FEC.BlockID))
	binary.BigEndian.PutUint16(buf[2:4], p.FEC.EncodingSymID)
	binary.BigEndian.PutUint16(buf[4:6], p.FEC.SourceBlkLen)
	return nil
}

// Parser reads the FEC header from the front of an already-RTP-parsed
// packet's payload and attaches a FEC facet. It never panics on
// truncated input.
type Parser struct {
	nbsrc uint16
}

// NewParser returns a FEC header parser. nbsrc is the configured
// source-block length; Parse classifies each packet by the
// source-block length carried in its own header instead (esi below
// it is source, esi at or above it is repair).
func NewParser(nbsrc uint16) *Parser {
	return &Parser{nbsrc: nbsrc}
}

// Parse implements rtp.InnerParser.
func (pr *Parser) Parse(p *packet.Packet) error {
	if len(p.Payload) < headerSize {
		return status.Wrap(status.BadFormat, "fec parse", fmt.Errorf("payload too short: %d bytes", len(p.Payload)))
	}
	buf := p.Payload[:headerSize]
	facet := &packet.FECFacet{
		BlockID:       packet.BlockID(binary.BigEndian.Uint16(buf[0:2])),
		EncodingSymID: binary.BigEndian.Uint16(buf[2:4]),
		SourceBlkLen:  binary.BigEndian.Uint16(buf[4:6]),
	}
	if facet.EncodingSymID >= facet.SourceBlkLen {
		facet.Role = packet.FECRoleRepair
	} else {
		facet.Role = packet.FECRoleSource
	}
	p.FEC = facet
	p.Payload = p.Payload[headerSize:]
	p.AddFlags(packet.FlagFEC)
	return nil
}
