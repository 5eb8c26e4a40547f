package fec

import (
	"log/slog"

	"github.com/sebas/rocpipe/internal/packet"
)

// BlockWriter is the sender-side counterpart to BlockAssembler: it
// accumulates outgoing source packets into blocks of nbsrc, computes
// repair packets once a block fills, and hands both back to the
// caller for shipping. It owns the block-id counter (wrap-safe per
// packet.BlockID) and stamps the FEC facet on every packet it emits.
type BlockWriter struct {
	codec Codec
	nbsrc int
	nbrpr int

	log *slog.Logger

	blockID packet.BlockID
	pending []*packet.Packet
}

// NewBlockWriter returns a block writer for the given codec.
func NewBlockWriter(codec Codec) *BlockWriter {
	return &BlockWriter{
		codec: codec,
		nbsrc: codec.NumSource(),
		nbrpr: codec.NumRepair(),
		log:   slog.Default().With("component", "FECBlockWriter"),
	}
}

// Write stamps p as the next source packet in the current block and
// buffers it. Once the block reaches nbsrc packets, it computes repair
// packets and returns the full set (source packets first, then
// repair, all already carrying their FEC facet); otherwise it returns
// nil and holds the packet until the block fills.
func (w *BlockWriter) Write(p *packet.Packet) ([]*packet.Packet, error) {
	esi := uint16(len(w.pending))
	p.FEC = &packet.FECFacet{
		BlockID:       w.blockID,
		EncodingSymID: esi,
		SourceBlkLen:  uint16(w.nbsrc),
		Role:          packet.FECRoleSource,
	}
	p.AddFlags(packet.FlagFEC)
	w.pending = append(w.pending, p)

	if len(w.pending) < w.nbsrc {
		return nil, nil
	}
	return w.closeBlock()
}

// Flush forces the current (possibly partial) block closed, e.g. on
// session teardown. A short final block still gets FEC-protected;
// the codec pads missing source shards internally.
func (w *BlockWriter) Flush() ([]*packet.Packet, error) {
	if len(w.pending) == 0 {
		return nil, nil
	}
	return w.closeBlock()
}

func (w *BlockWriter) closeBlock() ([]*packet.Packet, error) {
	payloads := make([][]byte, w.nbsrc)
	for i := 0; i < w.nbsrc; i++ {
		if i < len(w.pending) {
			payloads[i] = PayloadOf(w.pending[i])
		} else {
			payloads[i] = nil
		}
	}

	repairPayloads, err := w.codec.Encode(payloads)
	if err != nil {
		return nil, err
	}

	out := make([]*packet.Packet, 0, len(w.pending)+w.nbrpr)
	out = append(out, w.pending...)

	for i, rp := range repairPayloads {
		out = append(out, &packet.Packet{
			Flags:   packet.FlagFEC,
			Payload: rp,
			FEC: &packet.FECFacet{
				BlockID:       w.blockID,
				EncodingSymID: uint16(w.nbsrc + i),
				SourceBlkLen:  uint16(w.nbsrc),
				Role:          packet.FECRoleRepair,
			},
		})
	}

	w.log.Debug("closed block", "block_id", w.blockID, "source", len(w.pending), "repair", w.nbrpr)

	w.pending = nil
	w.blockID = w.blockID.Add(1)
	return out, nil
}
