// Package packet defines the wire-agnostic packet model shared by the
// composer/parser stack, the FEC engine, and the session router:
// an owned object composed of optional facets (RTP, UDP, FEC, RTCP),
// reference-counted, carrying stream timestamp, capture timestamp and
// flags. See original_source/roc_packet/shipper.cpp for the invariant
// this package's Compose enforces.
package packet

import (
	"net"
	"sync/atomic"
)

// Flags describes which facets a Packet carries and where it stands
// in the prepare/compose lifecycle.
type Flags uint

const (
	FlagPrepared Flags = 1 << iota
	FlagComposed
	FlagRTP
	FlagUDP
	FlagFEC
	FlagRTCP
)

// Has reports whether all bits in f are set.
func (fl Flags) Has(f Flags) bool { return fl&f == f }

// RTPFacet carries RFC 3550 header fields relevant to the pipeline.
type RTPFacet struct {
	PayloadType     uint8
	StreamTimestamp StreamTimestamp
	Duration        uint32 // in source samples
	CaptureTS       int64  // nanoseconds, 0 = unknown
	SourceID        uint32 // RTP SSRC
	SequenceNumber  uint16
	Marker          bool
}

// UDPFacet carries the transport addressing for a packet.
type UDPFacet struct {
	SrcAddr *net.UDPAddr
	DstAddr *net.UDPAddr
}

// FECRole distinguishes source packets (carrying real payload) from
// repair packets (carrying recovery symbols) within an FEC block.
type FECRole int

const (
	FECRoleSource FECRole = iota
	FECRoleRepair
)

// FECFacet carries the ALC/LDPC FEC Framework header fields.
type FECFacet struct {
	BlockID       BlockID
	EncodingSymID uint16 // index within the block (esi)
	SourceBlkLen  uint16 // nbsrc, echoed in repair packets
	Role          FECRole
}

// RTCPFacet marks a packet as carrying an RTCP compound payload; the
// decoded report contents live in the rtcp package to avoid an import
// cycle, keyed by this packet's Payload bytes.
type RTCPFacet struct{}

// Packet is the owned, reference-counted unit exchanged between every
// pipeline stage.
type Packet struct {
	Flags Flags

	RTP  *RTPFacet
	UDP  *UDPFacet
	FEC  *FECFacet
	RTCP *RTCPFacet

	// Payload is the packet's raw bytes: the wire image once Composed,
	// or the region reserved by Prepare beforehand.
	Payload []byte

	refs    atomic.Int32
	factory *Factory
}

// AddFlags sets the given bits.
func (p *Packet) AddFlags(f Flags) { p.Flags |= f }

// HasFlags reports whether all bits in f are set.
func (p *Packet) HasFlags(f Flags) bool { return p.Flags.Has(f) }

// Prepare reserves payloadSize bytes for the packet and marks it
// FlagPrepared. Composers call this before writing header fields.
func (p *Packet) Prepare(payloadSize int) {
	if cap(p.Payload) < payloadSize {
		p.Payload = make([]byte, payloadSize)
	} else {
		p.Payload = p.Payload[:payloadSize]
	}
	p.AddFlags(FlagPrepared)
}

// Compose marks the packet composed. It panics if the packet was
// never prepared (a programmer error, per spec.md §7: invariant
// violations driven by internal misuse, not by network input, halt
// the process) and is a no-op if already composed, matching
// shipper.cpp's idempotency guard.
func (p *Packet) Compose() {
	if !p.HasFlags(FlagPrepared) {
		panic("packet: compose called before prepare")
	}
	if p.HasFlags(FlagComposed) {
		return
	}
	p.AddFlags(FlagComposed)
}

// Ref increments the reference count. Every caller that retains a
// pointer to the packet beyond the current call frame must Ref it
// first and Release it exactly once when done.
func (p *Packet) Ref() {
	p.refs.Add(1)
}

// Release decrements the reference count, returning the packet to its
// owning factory's pool once it drops to zero.
func (p *Packet) Release() {
	if p.refs.Add(-1) <= 0 {
		if p.factory != nil {
			p.factory.put(p)
		}
	}
}
