package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// RS8M implements the Reed-Solomon (m=8) FEC codec named in spec.md
// §2 and §4.3, backed by klauspost/reedsolomon's GF(2^8) Vandermonde
// implementation. "m=8" refers to the symbol size (one byte), which
// is exactly what reedsolomon.New's default Galois field operates
// over; no additional configuration is needed to match it.
type RS8M struct {
	enc        reedsolomon.Encoder
	nbsrc      int
	nbrpr      int
	shardBytes int
}

// NewRS8M constructs an RS8M codec for a block of nbsrc source and
// nbrpr repair packets, each shardBytes long (payloads shorter than
// shardBytes are handled by zero-padding — see Encode/Decode).
func NewRS8M(nbsrc, nbrpr, shardBytes int) (*RS8M, error) {
	if nbsrc <= 0 || nbrpr < 0 {
		return nil, fmt.Errorf("rs8m: invalid block shape nbsrc=%d nbrpr=%d", nbsrc, nbrpr)
	}
	enc, err := reedsolomon.New(nbsrc, nbrpr)
	if err != nil {
		return nil, fmt.Errorf("rs8m: %w", err)
	}
	return &RS8M{enc: enc, nbsrc: nbsrc, nbrpr: nbrpr, shardBytes: shardBytes}, nil
}

func (c *RS8M) NumSource() int { return c.nbsrc }
func (c *RS8M) NumRepair() int { return c.nbrpr }

func (c *RS8M) Encode(sourcePayloads [][]byte) ([][]byte, error) {
	if len(sourcePayloads) != c.nbsrc {
		return nil, fmt.Errorf("rs8m: encode expects %d source shards, got %d", c.nbsrc, len(sourcePayloads))
	}
	shards := make([][]byte, c.nbsrc+c.nbrpr)
	for i, p := range sourcePayloads {
		shards[i] = padTo(p, c.shardBytes)
	}
	for i := c.nbsrc; i < len(shards); i++ {
		shards[i] = make([]byte, c.shardBytes)
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("rs8m: encode: %w", err)
	}
	return shards[c.nbsrc:], nil
}

func (c *RS8M) Decode(shards [][]byte, present []bool) ([][]byte, error) {
	if len(shards) != c.nbsrc+c.nbrpr || len(present) != len(shards) {
		return nil, fmt.Errorf("rs8m: decode expects %d shards", c.nbsrc+c.nbrpr)
	}
	work := make([][]byte, len(shards))
	missing := false
	for i, s := range shards {
		if present[i] {
			work[i] = padTo(s, c.shardBytes)
		} else {
			missing = true
			// nil entries signal missing shards to reedsolomon.Reconstruct.
		}
	}
	if missing {
		if err := c.enc.Reconstruct(work); err != nil {
			return nil, fmt.Errorf("rs8m: reconstruct: %w", err)
		}
	}
	return work[:c.nbsrc], nil
}

func padTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
