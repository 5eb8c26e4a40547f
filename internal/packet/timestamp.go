package packet

// StreamTimestamp is an unsigned 32-bit modular counter in source
// samples, the canonical intra-stream ordering axis. Ordering compares
// differences as signed 32-bit so it stays correct across wraparound.
type StreamTimestamp uint32

// Diff returns a-b as a signed 32-bit difference: negative if a is
// before b, positive if a is after b, wrap-safe.
func (a StreamTimestamp) Diff(b StreamTimestamp) int32 {
	return int32(a - b)
}

// Before reports whether a strictly precedes b.
func (a StreamTimestamp) Before(b StreamTimestamp) bool {
	return a.Diff(b) < 0
}

// After reports whether a strictly follows b.
func (a StreamTimestamp) After(b StreamTimestamp) bool {
	return a.Diff(b) > 0
}

// Add returns a advanced by n samples (wrapping is implicit in the
// unsigned representation).
func (a StreamTimestamp) Add(n uint32) StreamTimestamp {
	return a + StreamTimestamp(n)
}

// BlockID is a 16-bit modular counter identifying an FEC block. Its
// ordering follows the same wrap-safe signed-difference rule as
// StreamTimestamp, scoped to 16 bits.
type BlockID uint16

// Diff returns a-b as a signed 16-bit difference.
func (a BlockID) Diff(b BlockID) int16 {
	return int16(a - b)
}

// Before reports whether a strictly precedes b.
func (a BlockID) Before(b BlockID) bool {
	return a.Diff(b) < 0
}

// Add returns a advanced by n blocks (wrapping is implicit in the
// unsigned representation).
func (a BlockID) Add(n uint16) BlockID {
	return a + BlockID(n)
}
