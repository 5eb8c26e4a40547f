package fec

import "github.com/sebas/rocpipe/internal/packet"

// Codec is the shared interface RS8M and LDPCStaircase implement,
// per spec.md §4.3.
type Codec interface {
	// Encode produces nbrpr repair payloads for a full block of nbsrc
	// source payloads, all the same length.
	Encode(sourcePayloads [][]byte) (repairPayloads [][]byte, err error)
	// Decode reconstructs any missing source payloads given whatever
	// source and repair payloads were actually received. present[i]
	// is true if sourcePayloads[i] (or, for i>=nbsrc, the
	// corresponding repair shard) was received; missing slots may be
	// nil. It returns the full nbsrc-length source payload set.
	Decode(shards [][]byte, present []bool) ([][]byte, error)
	// NumSource and NumRepair return the block shape this codec
	// instance was constructed for.
	NumSource() int
	NumRepair() int
}

// PayloadOf is a small helper letting the block assembler pull a
// codec-ready payload slice out of a packet, independent of which
// facets it carries.
func PayloadOf(p *packet.Packet) []byte {
	if p == nil {
		return nil
	}
	return p.Payload
}
