package session

import (
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/rocpipe/internal/audio"
	"github.com/sebas/rocpipe/internal/packet"
)

type constDecoder struct{}

func (constDecoder) Decode(payload []byte, samples []float32) (int, error) {
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

func newConstPacket(seq uint16, ts packet.StreamTimestamp, ssrc uint32, value float32, frames, numCh int) *packet.Packet {
	payload := make([]byte, frames*numCh*4)
	bits := math.Float32bits(value)
	for i := 0; i < frames*numCh; i++ {
		payload[i*4] = byte(bits)
		payload[i*4+1] = byte(bits >> 8)
		payload[i*4+2] = byte(bits >> 16)
		payload[i*4+3] = byte(bits >> 24)
	}
	return &packet.Packet{
		Flags:   packet.FlagRTP | packet.FlagPrepared | packet.FlagComposed,
		Payload: payload,
		RTP: &packet.RTPFacet{
			SourceID:        ssrc,
			SequenceNumber:  seq,
			StreamTimestamp: ts,
			CaptureTS:       0,
		},
	}
}

func testConfig(spec audio.SampleSpec) Config {
	return Config{
		SourceSpec: spec,
		OutputSpec: spec,
		Decoder:    constDecoder{},
		QueueDepth: 64,
		NoPlayback: time.Second,
		Tuner: audio.TunerConfig{
			Profile:       audio.ProfileIntact,
			TargetLatency: 20 * time.Millisecond,
			MinLatency:    5 * time.Millisecond,
			MaxLatency:    200 * time.Millisecond,
			GracePeriod:   time.Second,
		},
	}
}

func TestSessionDeliversAudioAcrossPackets(t *testing.T) {
	spec := audio.SampleSpec{SampleRate: 8000, Format: audio.FormatRaw, ChannelMask: 0x1}
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}
	s, err := New(0x1, addr, "", testConfig(spec))
	require.NoError(t, err)

	now := time.Now()
	const frames = 200
	for i := 0; i < 4; i++ {
		p := newConstPacket(uint16(i), packet.StreamTimestamp(i*frames), 0x1, 0.5, frames, 1)
		s.HandlePacket(p, now)
	}

	frame := audio.NewFrame(frames)
	require.NoError(t, s.ReadFrame(frame, now))
	assert.True(t, frame.HasFlag(audio.FlagNotBlank))

	stats := s.Stats()
	assert.EqualValues(t, 4, stats.Received)
	assert.EqualValues(t, 0, stats.Lost)
}

func TestSessionHandlePacketTracksJitterFromArrivalSpacing(t *testing.T) {
	spec := audio.SampleSpec{SampleRate: 8000, Format: audio.FormatRaw, ChannelMask: 0x1}
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}
	s, err := New(0x1, addr, "", testConfig(spec))
	require.NoError(t, err)

	const frames = 200
	base := time.Now()
	// Packet timestamps advance in perfectly even 200-frame steps, but
	// arrival times jitter around the expected 25ms (200 frames @
	// 8kHz) spacing, so the running jitter estimate must move off zero.
	arrivals := []time.Duration{0, 25 * time.Millisecond, 60 * time.Millisecond, 70 * time.Millisecond}
	for i, d := range arrivals {
		p := newConstPacket(uint16(i), packet.StreamTimestamp(i*frames), 0x1, 0.5, frames, 1)
		s.HandlePacket(p, base.Add(d))
	}

	stats := s.Stats()
	assert.Greater(t, stats.Jitter, 0.0, "irregular arrival spacing must be reflected in the session's jitter stat")
}

func TestSessionExpiresAfterNoPlaybackTimeout(t *testing.T) {
	spec := audio.SampleSpec{SampleRate: 8000, Format: audio.FormatRaw, ChannelMask: 0x1}
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}
	cfg := testConfig(spec)
	cfg.NoPlayback = 50 * time.Millisecond
	s, err := New(0x1, addr, "", cfg)
	require.NoError(t, err)

	now := time.Now()
	s.HandlePacket(newConstPacket(0, 0, 0x1, 0.1, 200, 1), now)

	assert.False(t, s.Expired(now.Add(10*time.Millisecond)))
	assert.True(t, s.Expired(now.Add(100*time.Millisecond)))
}

func newRouterFactory(spec audio.SampleSpec) func(ssrc uint32, addr *net.UDPAddr, cname string) (*Session, error) {
	return func(ssrc uint32, addr *net.UDPAddr, cname string) (*Session, error) {
		return New(ssrc, addr, cname, testConfig(spec))
	}
}

func TestRouterAdmitsBySourceIDThenAddress(t *testing.T) {
	spec := audio.SampleSpec{SampleRate: 8000, Format: audio.FormatRaw, ChannelMask: 0x1}
	r := NewRouter(4, newRouterFactory(spec))

	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}
	now := time.Now()

	p1 := newConstPacket(0, 0, 0xAAAA, 0.1, 200, 1)
	s1, err := r.Route(p1, addr, now)
	require.NoError(t, err)
	require.NotNil(t, s1)

	// Same SSRC, later packet: routed to the same session.
	p2 := newConstPacket(1, 200, 0xAAAA, 0.1, 200, 1)
	s2, err := r.Route(p2, addr, now)
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	// New SSRC from the same address: first-bind rule attaches it to
	// the existing session rather than creating a second one.
	p3 := newConstPacket(0, 0, 0xBBBB, 0.1, 200, 1)
	s3, err := r.Route(p3, addr, now)
	require.NoError(t, err)
	assert.Same(t, s1, s3)
}

func TestRouterEnforcesSessionCap(t *testing.T) {
	spec := audio.SampleSpec{SampleRate: 8000, Format: audio.FormatRaw, ChannelMask: 0x1}
	r := NewRouter(1, newRouterFactory(spec))
	now := time.Now()

	addr1 := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}
	addr2 := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5000}

	s1, err := r.Route(newConstPacket(0, 0, 1, 0.1, 200, 1), addr1, now)
	require.NoError(t, err)
	require.NotNil(t, s1)

	s2, err := r.Route(newConstPacket(0, 0, 2, 0.1, 200, 1), addr2, now)
	require.NoError(t, err)
	assert.Nil(t, s2, "session cap should have dropped the second source")
}

func TestRouterSweepRemovesExpiredSessions(t *testing.T) {
	spec := audio.SampleSpec{SampleRate: 8000, Format: audio.FormatRaw, ChannelMask: 0x1}
	r := NewRouter(4, func(ssrc uint32, addr *net.UDPAddr, cname string) (*Session, error) {
		cfg := testConfig(spec)
		cfg.NoPlayback = 20 * time.Millisecond
		return New(ssrc, addr, cname, cfg)
	})

	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}
	now := time.Now()
	_, err := r.Route(newConstPacket(0, 0, 1, 0.1, 200, 1), addr, now)
	require.NoError(t, err)

	require.Len(t, r.Sessions(), 1)
	removed := r.Sweep(now.Add(100*time.Millisecond), 20*time.Millisecond)
	assert.Len(t, removed, 1)
	assert.Empty(t, r.Sessions())
}

func TestRouterUnifiesCNAMEOnSameAddress(t *testing.T) {
	spec := audio.SampleSpec{SampleRate: 8000, Format: audio.FormatRaw, ChannelMask: 0x1}
	r := NewRouter(4, newRouterFactory(spec))
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}
	now := time.Now()

	s1, err := r.Route(newConstPacket(0, 0, 1, 0.1, 200, 1), addr, now)
	require.NoError(t, err)

	r.UnifyCNAME(1, "cname-a", addr)
	r.UnifyCNAME(2, "cname-a", addr)

	r.mu.Lock()
	aliased := r.bySourceID[2]
	r.mu.Unlock()
	assert.Same(t, s1, aliased)
}
