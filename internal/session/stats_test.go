package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLossTrackerUpdateJitterStaysZeroOnUniformSpacing(t *testing.T) {
	tr := NewLossTracker()
	// Packet timestamps and arrival times advance in lockstep: no
	// deviation from the expected interarrival spacing, so jitter
	// should stay at zero.
	for i := int64(0); i < 5; i++ {
		tr.UpdateJitter(i*160, i*160)
	}
	assert.Zero(t, tr.Jitter())
}

func TestLossTrackerUpdateJitterGrowsOnIrregularArrival(t *testing.T) {
	cases := []struct {
		packetTS  int64
		arrivalTS int64
	}{
		{0, 0},
		{160, 160}, // on time
		{320, 340}, // arrived 20 units late relative to packet spacing
		{480, 470}, // arrived 30 units early
		{640, 700}, // arrived 70 units late
	}

	tr := NewLossTracker()
	for _, c := range cases {
		tr.UpdateJitter(c.packetTS, c.arrivalTS)
	}
	assert.Greater(t, tr.Jitter(), 0.0, "irregular interarrival spacing must move the jitter estimate off zero")
}
