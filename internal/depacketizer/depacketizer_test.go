package depacketizer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/rocpipe/internal/audio"
	"github.com/sebas/rocpipe/internal/packet"
)

const (
	testSamplesPerPacket = 200
	testSampleRate       = 100
	testNumCh            = 2
	testChMask           = 0x3
)

var testFrameSpec = audio.SampleSpec{SampleRate: testSampleRate, Format: audio.FormatRaw, ChannelMask: testChMask}

var testNsPerPacket = testFrameSpec.SamplesPerChanToNs(testSamplesPerPacket)

const testNow = int64(1691499037871419405)

// identityDecoder treats the payload as already-decoded float32
// samples, avoiding a real wire codec in these cursor/timing tests.
type identityDecoder struct{}

func (identityDecoder) Decode(payload []byte, samples []float32) (int, error) {
	n := len(payload) / 4
	if n > len(samples) {
		n = len(samples)
	}
	for i := 0; i < n; i++ {
		bits := uint32(payload[i*4]) | uint32(payload[i*4+1])<<8 | uint32(payload[i*4+2])<<16 | uint32(payload[i*4+3])<<24
		samples[i] = math.Float32frombits(bits)
	}
	return n, nil
}

func newTestPacket(streamTS packet.StreamTimestamp, value float32, captureTS int64) *packet.Packet {
	payload := make([]byte, testSamplesPerPacket*testNumCh*4)
	bits := math.Float32bits(value)
	for i := 0; i < testSamplesPerPacket*testNumCh; i++ {
		payload[i*4] = byte(bits)
		payload[i*4+1] = byte(bits >> 8)
		payload[i*4+2] = byte(bits >> 16)
		payload[i*4+3] = byte(bits >> 24)
	}
	return &packet.Packet{
		Flags:   packet.FlagRTP | packet.FlagPrepared | packet.FlagComposed,
		Payload: payload,
		RTP: &packet.RTPFacet{
			StreamTimestamp: streamTS,
			Duration:        testSamplesPerPacket,
			CaptureTS:       captureTS,
		},
	}
}

func newTestFrame(perChanFrames int) *audio.Frame {
	return audio.NewFrame(perChanFrames * testNumCh)
}

func expectOutput(t *testing.T, dp *Depacketizer, sz int, value float32, captureTS int64) {
	t.Helper()
	frame := newTestFrame(sz)
	require.NoError(t, dp.Read(frame))
	assert.InDelta(t, captureTS, frame.CaptureTimestamp, float64(time.Microsecond))
	for _, s := range frame.Samples {
		assert.InDelta(t, value, s, 0.0001)
	}
}

func TestDepacketizerOnePacketOneRead(t *testing.T) {
	q := packet.NewQueue(16)
	dp := New(q, identityDecoder{}, testFrameSpec)

	require.NoError(t, q.WritePacket(newTestPacket(0, 0.11, testNow)))
	expectOutput(t, dp, testSamplesPerPacket, 0.11, testNow)
}

func TestDepacketizerOnePacketMultipleReads(t *testing.T) {
	q := packet.NewQueue(16)
	dp := New(q, identityDecoder{}, testFrameSpec)

	require.NoError(t, q.WritePacket(newTestPacket(0, 0.11, testNow)))

	ts := testNow
	for n := 0; n < testSamplesPerPacket; n++ {
		expectOutput(t, dp, 1, 0.11, ts)
		ts += int64(testFrameSpec.SamplesPerChanToNs(1))
	}
}

func TestDepacketizerMultiplePacketsOneRead(t *testing.T) {
	const numPackets = 10
	q := packet.NewQueue(32)
	dp := New(q, identityDecoder{}, testFrameSpec)

	ts := testNow
	for n := 0; n < numPackets; n++ {
		require.NoError(t, q.WritePacket(newTestPacket(packet.StreamTimestamp(n*testSamplesPerPacket), 0.11, ts)))
		ts += int64(testNsPerPacket)
	}

	expectOutput(t, dp, numPackets*testSamplesPerPacket, 0.11, testNow)
}

func TestDepacketizerDropLatePackets(t *testing.T) {
	q := packet.NewQueue(16)
	dp := New(q, identityDecoder{}, testFrameSpec)

	ts1 := packet.StreamTimestamp(testSamplesPerPacket * 2)
	ts2 := packet.StreamTimestamp(testSamplesPerPacket * 1)
	ts3 := packet.StreamTimestamp(testSamplesPerPacket * 3)
	captTS1 := testNow + int64(testNsPerPacket)
	captTS3 := testNow + int64(testNsPerPacket)*2

	require.NoError(t, q.WritePacket(newTestPacket(ts1, 0.11, captTS1)))
	require.NoError(t, q.WritePacket(newTestPacket(ts2, 0.22, testNow)))
	require.NoError(t, q.WritePacket(newTestPacket(ts3, 0.33, captTS3)))

	expectOutput(t, dp, testSamplesPerPacket, 0.11, captTS1)
	frame := newTestFrame(testSamplesPerPacket)
	require.NoError(t, dp.Read(frame))
	assert.True(t, frame.HasFlag(audio.FlagPacketDrops))
	for _, s := range frame.Samples {
		assert.InDelta(t, 0.33, s, 0.0001)
	}
}

func TestDepacketizerZerosNoPackets(t *testing.T) {
	q := packet.NewQueue(16)
	dp := New(q, identityDecoder{}, testFrameSpec)
	expectOutput(t, dp, testSamplesPerPacket, 0.0, 0)
	assert.False(t, dp.IsStarted())
	assert.EqualValues(t, 0, dp.NextTimestamp())
}

func TestDepacketizerZerosNoNextPacket(t *testing.T) {
	q := packet.NewQueue(16)
	dp := New(q, identityDecoder{}, testFrameSpec)

	require.NoError(t, q.WritePacket(newTestPacket(0, 0.11, 0)))

	expectOutput(t, dp, testSamplesPerPacket, 0.11, 0)
	expectOutput(t, dp, testSamplesPerPacket, 0.0, 0)
}

func TestDepacketizerZerosBetweenPackets(t *testing.T) {
	q := packet.NewQueue(16)
	dp := New(q, identityDecoder{}, testFrameSpec)

	captTS1 := testNow
	captTS2 := testNow + int64(testNsPerPacket)*2

	require.NoError(t, q.WritePacket(newTestPacket(packet.StreamTimestamp(testSamplesPerPacket), 0.11, captTS1)))
	require.NoError(t, q.WritePacket(newTestPacket(packet.StreamTimestamp(testSamplesPerPacket*3), 0.33, captTS2)))

	expectOutput(t, dp, testSamplesPerPacket, 0.11, testNow)
	expectOutput(t, dp, testSamplesPerPacket, 0.0, testNow+int64(testNsPerPacket))
	expectOutput(t, dp, testSamplesPerPacket, 0.33, testNow+int64(testNsPerPacket)*2)
}

func TestDepacketizerOverlappingPackets(t *testing.T) {
	q := packet.NewQueue(16)
	dp := New(q, identityDecoder{}, testFrameSpec)

	ts1 := packet.StreamTimestamp(0)
	ts2 := packet.StreamTimestamp(testSamplesPerPacket / 2)
	ts3 := packet.StreamTimestamp(testSamplesPerPacket)

	captTS1 := testNow
	captTS2 := testNow + int64(testNsPerPacket)/2
	captTS3 := testNow + int64(testNsPerPacket)

	require.NoError(t, q.WritePacket(newTestPacket(ts1, 0.11, captTS1)))
	require.NoError(t, q.WritePacket(newTestPacket(ts2, 0.22, captTS2)))
	require.NoError(t, q.WritePacket(newTestPacket(ts3, 0.33, captTS3)))

	expectOutput(t, dp, testSamplesPerPacket, 0.11, testNow)
	expectOutput(t, dp, testSamplesPerPacket/2, 0.22, testNow+int64(testNsPerPacket))
	expectOutput(t, dp, testSamplesPerPacket/2, 0.33, testNow+int64(testNsPerPacket)*3/2)
}

func TestDepacketizerFrameFlagsDrops(t *testing.T) {
	q := packet.NewQueue(32)
	dp := New(q, identityDecoder{}, testFrameSpec)

	order := []int{4, 1, 2, 5, 6, 3, 8}
	for _, n := range order {
		require.NoError(t, q.WritePacket(newTestPacket(packet.StreamTimestamp(n*testSamplesPerPacket), 0.11, 0)))
	}

	expectFlags := []audio.FrameFlags{
		audio.FlagNotBlank,
		audio.FlagNotBlank | audio.FlagPacketDrops,
		audio.FlagNotBlank,
		audio.FlagNotComplete | audio.FlagPacketDrops,
		audio.FlagNotBlank,
	}
	for _, want := range expectFlags {
		frame := newTestFrame(testSamplesPerPacket)
		require.NoError(t, dp.Read(frame))
		assert.Equal(t, want, frame.Flags)
	}
}

// TestDepacketizerStreamTimestampWrap feeds three contiguous packets
// straddling the 32-bit stream-timestamp wraparound (ts = 2^32-P, 0,
// +P) and checks the depacketizer treats them as one unbroken run,
// not a forward gap followed by a backward-looking late drop.
func TestDepacketizerStreamTimestampWrap(t *testing.T) {
	q := packet.NewQueue(16)
	dp := New(q, identityDecoder{}, testFrameSpec)

	preWrap := packet.StreamTimestamp(0).Add(^uint32(0) - testSamplesPerPacket + 1) // 2^32 - P
	atWrap := preWrap.Add(testSamplesPerPacket)                                     // wraps to 0
	postWrap := atWrap.Add(testSamplesPerPacket)                                    // P
	require.EqualValues(t, 0, atWrap)
	require.EqualValues(t, testSamplesPerPacket, postWrap)

	require.NoError(t, q.WritePacket(newTestPacket(preWrap, 0.1, 0)))
	require.NoError(t, q.WritePacket(newTestPacket(atWrap, 0.2, 0)))
	require.NoError(t, q.WritePacket(newTestPacket(postWrap, 0.3, 0)))

	for _, value := range []float32{0.1, 0.2, 0.3} {
		frame := newTestFrame(testSamplesPerPacket)
		require.NoError(t, dp.Read(frame))
		assert.Equal(t, audio.FlagNotBlank, frame.Flags, "wrap-adjacent packets must not read as a gap or a late drop")
		for _, s := range frame.Samples {
			assert.InDelta(t, value, s, 0.0001)
		}
	}

	assert.EqualValues(t, postWrap.Add(testSamplesPerPacket), dp.NextTimestamp())
}

func TestDepacketizerSmallNonZeroCaptureTimestamp(t *testing.T) {
	const startTS = 1000
	const startCts = 5
	const packetsPerFrame = 10

	q := packet.NewQueue(64)
	dp := New(q, identityDecoder{}, testFrameSpec)

	streamTS := packet.StreamTimestamp(startTS)
	require.NoError(t, q.WritePacket(newTestPacket(streamTS, 0.1, 0)))
	streamTS = streamTS.Add(testSamplesPerPacket)

	captTS := int64(startCts)
	for n := 1; n < packetsPerFrame; n++ {
		require.NoError(t, q.WritePacket(newTestPacket(streamTS, 0.1, captTS)))
		streamTS = streamTS.Add(testSamplesPerPacket)
		captTS += int64(testNsPerPacket)
	}
	secondFrameCaptTS := captTS

	for n := 0; n < packetsPerFrame; n++ {
		require.NoError(t, q.WritePacket(newTestPacket(streamTS, 0.2, captTS)))
		streamTS = streamTS.Add(testSamplesPerPacket)
		captTS += int64(testNsPerPacket)
	}

	expectOutput(t, dp, testSamplesPerPacket*packetsPerFrame, 0.1, 0)
	expectOutput(t, dp, testSamplesPerPacket*packetsPerFrame, 0.2, secondFrameCaptTS)
}
