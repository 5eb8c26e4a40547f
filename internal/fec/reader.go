package fec

import (
	"log/slog"
	"time"

	"github.com/sebas/rocpipe/internal/packet"
)

// BlockAssembler implements the receiver-side block windowing and
// reordering behavior of spec.md §4.3: source packets are forwarded
// downstream in esi order as soon as they are contiguous, repair
// packets are buffered, and a block is decoded once enough shards of
// either kind have arrived and the block becomes "closeable".
type BlockAssembler struct {
	codec Codec
	nbsrc int
	nbrpr int

	log *slog.Logger

	maxLatency time.Duration
	packetLen  uint32 // per-channel frames per source packet, for stamping recovered timestamps

	cur        packet.BlockID
	curValid   bool
	source     map[uint16]*packet.Packet
	repair     map[uint16]*packet.Packet
	nextEsi    uint16
	oldestSeen time.Time

	haveBase    bool
	baseTS      packet.StreamTimestamp
	payloadType uint8
	ssrc        uint32

	out []*packet.Packet
}

// NewBlockAssembler returns a block assembler for the given codec and
// window bound. packetLen is the per-channel frame count of each
// source packet, used to derive the stream timestamp of a source
// packet reconstructed from repair shards (spec.md §4.3).
func NewBlockAssembler(codec Codec, maxLatency time.Duration, packetLen int) *BlockAssembler {
	return &BlockAssembler{
		codec:      codec,
		nbsrc:      codec.NumSource(),
		nbrpr:      codec.NumRepair(),
		log:        slog.Default().With("component", "FECBlockAssembler"),
		maxLatency: maxLatency,
		packetLen:  uint32(packetLen),
		source:     make(map[uint16]*packet.Packet),
		repair:     make(map[uint16]*packet.Packet),
	}
}

// Write feeds one received packet (source or repair) into the
// assembler. Packets belonging to a strictly greater block id
// (accounting for 16-bit wrap) close the current block first.
func (a *BlockAssembler) Write(p *packet.Packet, now time.Time) {
	if p.FEC == nil {
		return
	}
	blk := p.FEC.BlockID

	if !a.curValid {
		a.startBlock(blk, now)
	} else if blk != a.cur {
		if a.cur.Before(blk) {
			a.finalize()
			a.startBlock(blk, now)
		} else {
			// Packet belongs to an already-closed or out-of-window
			// block; a late arrival, dropped per spec.md §5 ordering
			// guarantees (late packets are dropped, not reordered in).
			return
		}
	}

	esi := p.FEC.EncodingSymID
	if p.FEC.Role == packet.FECRoleRepair {
		a.repair[esi] = p
	} else {
		a.source[esi] = p
		if !a.haveBase && p.RTP != nil {
			a.baseTS = p.RTP.StreamTimestamp - packet.StreamTimestamp(uint32(esi)*a.packetLen)
			a.payloadType = p.RTP.PayloadType
			a.ssrc = p.RTP.SourceID
			a.haveBase = true
		}
	}

	a.flushContiguous()
	a.maybeCloseByWindow(now)
}

// Read drains packets the assembler has decided are ready for
// downstream delivery, in order.
func (a *BlockAssembler) Read() []*packet.Packet {
	if len(a.out) == 0 {
		return nil
	}
	out := a.out
	a.out = nil
	return out
}

func (a *BlockAssembler) startBlock(blk packet.BlockID, now time.Time) {
	a.cur = blk
	a.curValid = true
	a.nextEsi = 0
	a.oldestSeen = now
	a.source = make(map[uint16]*packet.Packet)
	a.repair = make(map[uint16]*packet.Packet)
	a.haveBase = false
	a.payloadType = 0
	a.ssrc = 0
}

// flushContiguous forwards source packets downstream in esi order as
// soon as the run is unbroken from nextEsi. Forwarded packets stay in
// a.source so finalize can still use them as decode shards.
func (a *BlockAssembler) flushContiguous() {
	for {
		p, ok := a.source[a.nextEsi]
		if !ok {
			return
		}
		a.out = append(a.out, p)
		a.nextEsi++
		if int(a.nextEsi) >= a.nbsrc {
			return
		}
	}
}

// maybeCloseByWindow finalizes the current block early if its oldest
// packet has aged past max-latency, per spec.md §4.3's window bound.
func (a *BlockAssembler) maybeCloseByWindow(now time.Time) {
	if !a.curValid {
		return
	}
	if now.Sub(a.oldestSeen) > a.maxLatency {
		a.log.Warn("block window exceeded max latency, dropping", "block_id", a.cur)
		a.finalize()
	}
}

// finalize attempts a decode of the current block if enough shards
// were received, injects recovered source packets in order, and fills
// any remaining gap with nothing (silence downstream is the
// depacketizer's responsibility, not the assembler's).
func (a *BlockAssembler) finalize() {
	defer func() {
		a.curValid = false
		a.source = nil
		a.repair = nil
	}()

	received := len(a.source) + len(a.repair)
	if int(a.nextEsi) >= a.nbsrc {
		return // already fully delivered via flushContiguous
	}
	if received == 0 {
		return
	}

	shards := make([][]byte, a.nbsrc+a.nbrpr)
	present := make([]bool, a.nbsrc+a.nbrpr)
	for esi, p := range a.source {
		if int(esi) < a.nbsrc {
			shards[esi] = PayloadOf(p)
			present[esi] = true
		}
	}
	for esi, p := range a.repair {
		idx := a.nbsrc + (int(esi) - a.nbsrc)
		if idx >= 0 && idx < len(shards) {
			shards[idx] = PayloadOf(p)
			present[idx] = true
		}
	}

	recovered, err := a.codec.Decode(shards, present)
	if err != nil {
		a.log.Debug("block unrecoverable", "block_id", a.cur, "received", received, "err", err)
		return
	}

	for esi := int(a.nextEsi); esi < a.nbsrc; esi++ {
		if p, ok := a.source[uint16(esi)]; ok {
			// Received but stranded behind an earlier gap; deliver the
			// original packet rather than its FEC-derived rebuild.
			a.out = append(a.out, p)
			continue
		}
		rp := &packet.Packet{
			Flags:   packet.FlagFEC | packet.FlagRTP | packet.FlagPrepared | packet.FlagComposed,
			Payload: recovered[esi],
			FEC: &packet.FECFacet{
				BlockID:       a.cur,
				EncodingSymID: uint16(esi),
				SourceBlkLen:  uint16(a.nbsrc),
				Role:          packet.FECRoleSource,
			},
			RTP: &packet.RTPFacet{
				PayloadType: a.payloadType,
				SourceID:    a.ssrc,
				// esi's are contiguous per-packet chunks, so the lost
				// packet's stream position is the block base plus its
				// offset in packetLen units (spec.md §4.3).
				StreamTimestamp: a.baseTS.Add(uint32(esi) * a.packetLen),
			},
		}
		a.out = append(a.out, rp)
	}
}
