package pipeline

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/rocpipe/internal/audio"
	"github.com/sebas/rocpipe/internal/endpoint"
	"github.com/sebas/rocpipe/internal/fec"
	"github.com/sebas/rocpipe/internal/packet"
	"github.com/sebas/rocpipe/internal/rtp"
	"github.com/sebas/rocpipe/internal/session"
)

// rawFloatCodec is a trivial FrameEncoder/FrameDecoder pair encoding
// each float32 sample as its raw 4-byte bit pattern, used by tests
// standing in for a real PCM/G.711 mapper.
type rawFloatCodec struct{}

func (rawFloatCodec) EncodedByteCount(numSamples int) int { return numSamples * 4 }

func (rawFloatCodec) Encode(payload []byte, samples []float32) (int, error) {
	n := len(payload) / 4
	if n > len(samples) {
		n = len(samples)
	}
	for i := 0; i < n; i++ {
		bits := math.Float32bits(samples[i])
		payload[i*4] = byte(bits)
		payload[i*4+1] = byte(bits >> 8)
		payload[i*4+2] = byte(bits >> 16)
		payload[i*4+3] = byte(bits >> 24)
	}
	return n, nil
}

func (rawFloatCodec) Decode(payload []byte, samples []float32) (int, error) {
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

type capturingWriter struct {
	packets []*packet.Packet
}

func (w *capturingWriter) WritePacket(p *packet.Packet) error {
	w.packets = append(w.packets, p)
	return nil
}

func TestSenderSplitsFrameIntoPackets(t *testing.T) {
	spec := audio.SampleSpec{SampleRate: 8000, Format: audio.FormatRaw, ChannelMask: 0x1}
	out := &capturingWriter{}
	factory := packet.NewFactory(0)

	sender := NewSender(SenderConfig{
		SourceSpec:  spec,
		Encoder:     rawFloatCodec{},
		Composer:    rtp.NewComposer(nil),
		Factory:     factory,
		PayloadType: 96,
		SSRC:        0x1234,
		PacketLen:   100,
		Dest:        &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000},
	}, out)

	frame := audio.NewFrame(250)
	for i := range frame.Samples {
		frame.Samples[i] = 0.25
	}
	require.NoError(t, sender.WriteFrame(frame))

	// 250 frames at 100 frames/packet: 100, 100, 50.
	require.Len(t, out.packets, 3)
	assert.EqualValues(t, 0, out.packets[0].RTP.SequenceNumber)
	assert.EqualValues(t, 1, out.packets[1].RTP.SequenceNumber)
	assert.EqualValues(t, 100, out.packets[1].RTP.StreamTimestamp)
	assert.True(t, out.packets[0].HasFlags(packet.FlagComposed))
}

func TestSenderWithFECShipsSourceThenRepairOncePerBlock(t *testing.T) {
	spec := audio.SampleSpec{SampleRate: 8000, Format: audio.FormatRaw, ChannelMask: 0x1}
	out := &capturingWriter{}
	factory := packet.NewFactory(0)

	codec, err := fec.NewRS8M(4, 2, 40)
	require.NoError(t, err)

	sender := NewSender(SenderConfig{
		SourceSpec:  spec,
		Encoder:     rawFloatCodec{},
		Composer:    rtp.NewComposer(fec.NewComposer()),
		Codec:       codec,
		Factory:     factory,
		PayloadType: 96,
		SSRC:        0x1234,
		PacketLen:   10,
		Dest:        &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000},
	}, out)

	for i := 0; i < 4; i++ {
		frame := audio.NewFrame(10)
		for j := range frame.Samples {
			frame.Samples[j] = float32(i)
		}
		require.NoError(t, sender.WriteFrame(frame))
	}

	// Fourth packet completes the 4-source block: 4 source + 2 repair.
	require.Len(t, out.packets, 6)
	for _, p := range out.packets {
		require.NotNil(t, p.RTP)
		require.NotNil(t, p.FEC)
	}
	assert.Equal(t, packet.FECRoleRepair, out.packets[4].FEC.Role)
	assert.Equal(t, packet.FECRoleRepair, out.packets[5].FEC.Role)
}

func TestLoopScheduleAndWaitRunsOnLoopGoroutine(t *testing.T) {
	loop := NewLoop(50 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	v, err := loop.ScheduleAndWait(func() (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestLoopRefreshesTrackedSlotOnDeadline(t *testing.T) {
	loop := NewLoop(20 * time.Millisecond)

	spec := audio.SampleSpec{SampleRate: 8000, Format: audio.FormatRaw, ChannelMask: 0x1}
	uri := mustParseSourceURI(t)
	slot, err := session.NewSlot("test", uri, nil, nil, 4, func(ssrc uint32, addr *net.UDPAddr, cname string) (*session.Session, error) {
		return session.New(ssrc, addr, cname, session.Config{
			SourceSpec: spec, OutputSpec: spec, Decoder: rawFloatCodec{},
			QueueDepth: 8, NoPlayback: 10 * time.Millisecond,
		})
	})
	require.NoError(t, err)

	// A session whose last packet is already older than its 10ms
	// no-playback timeout: the first refresh of the slot must sweep it.
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 6000}
	_, err = slot.Router.Route(newRawPacket(0, 0, 1, 0.1, 80), addr, time.Now().Add(-time.Second))
	require.NoError(t, err)
	require.Len(t, slot.Router.Sessions(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop.Track(slot)
	go loop.Run(ctx)

	_, err = loop.ScheduleAndWait(func() (any, error) { return nil, nil })
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, slot.Router.Sessions())
}

func TestReceiverMixesActiveSessions(t *testing.T) {
	spec := audio.SampleSpec{SampleRate: 8000, Format: audio.FormatRaw, ChannelMask: 0x1}
	uri := mustParseSourceURI(t)
	slot, err := session.NewSlot("recv", uri, nil, nil, 4, func(ssrc uint32, addr *net.UDPAddr, cname string) (*session.Session, error) {
		return session.New(ssrc, addr, cname, session.Config{
			SourceSpec: spec, OutputSpec: spec, Decoder: rawFloatCodec{},
			QueueDepth: 64, NoPlayback: time.Second,
			Tuner: audio.TunerConfig{Profile: audio.ProfileIntact},
		})
	})
	require.NoError(t, err)

	addr1 := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 6000}
	addr2 := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 6000}
	now := time.Now()

	for i := 0; i < 4; i++ {
		p1 := newRawPacket(uint16(i), packet.StreamTimestamp(i*200), 1, 0.1, 200)
		_, err := slot.Router.Route(p1, addr1, now)
		require.NoError(t, err)
		p2 := newRawPacket(uint16(i), packet.StreamTimestamp(i*200), 2, 0.1, 200)
		_, err = slot.Router.Route(p2, addr2, now)
		require.NoError(t, err)
	}

	receiver := NewReceiver(slot, spec)
	frame := audio.NewFrame(200)
	require.NoError(t, receiver.ReadFrame(frame))
	assert.True(t, frame.HasFlag(audio.FlagNotBlank))
}

func mustParseSourceURI(t *testing.T) endpoint.URI {
	t.Helper()
	u, err := endpoint.Parse("rtp://127.0.0.1:10000")
	require.NoError(t, err)
	return u
}

func newRawPacket(seq uint16, ts packet.StreamTimestamp, ssrc uint32, value float32, frames int) *packet.Packet {
	payload := make([]byte, frames*4)
	bits := math.Float32bits(value)
	for i := 0; i < frames; i++ {
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
		},
	}
}
