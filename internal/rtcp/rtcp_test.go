package rtcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/rocpipe/internal/packet"
)

func TestNTPRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 6, 12, 0, 0, 250_000_000, time.UTC)
	back := FromNTP(ToNTP(now))
	assert.WithinDuration(t, now, back, time.Millisecond)
}

func TestComposeSenderThenParseRoundTrip(t *testing.T) {
	factory := packet.NewFactory(0)
	c := NewComposer(factory)
	p := NewParser()

	now := time.Now()
	out, err := c.ComposeSender(SendReport{
		SSRC:        0x1234,
		CNAME:       "sender-cname",
		NTPTime:     now,
		RTPTime:     44100,
		PacketCount: 10,
		OctetCount:  2000,
	}, false)
	require.NoError(t, err)
	require.True(t, out.HasFlags(packet.FlagRTCP|packet.FlagComposed))

	report, err := p.Parse(out.Payload)
	require.NoError(t, err)
	require.Len(t, report.SenderReports, 1)
	assert.EqualValues(t, 0x1234, report.SenderReports[0].SSRC)
	assert.EqualValues(t, 44100, report.SenderReports[0].RTPTime)
	assert.Equal(t, "sender-cname", report.CNAMEs[0x1234])
}

func TestComposeReceiverEchoesXROnlyAfterSRSeen(t *testing.T) {
	factory := packet.NewFactory(0)
	c := NewComposer(factory)
	p := NewParser()

	out, err := c.ComposeReceiver(RecvReport{SSRC: 0xaaaa, CNAME: "recv-cname"}, time.Now(), false)
	require.NoError(t, err)
	report, err := p.Parse(out.Payload)
	require.NoError(t, err)
	assert.Empty(t, report.DLRR)
	assert.Empty(t, report.ReceiverRefTime)

	out2, err := c.ComposeReceiver(RecvReport{
		SSRC:              0xaaaa,
		CNAME:             "recv-cname",
		LastSRSeen:        time.Now().Add(-100 * time.Millisecond),
		LastSRCompactNTP:  0x1000,
		ReceiverRefTimeOf: 0xbbbb,
	}, time.Now(), false)
	require.NoError(t, err)
	report2, err := p.Parse(out2.Payload)
	require.NoError(t, err)
	require.Len(t, report2.DLRR, 1)
	assert.EqualValues(t, 0xbbbb, report2.DLRR[0].OfSSRC)
	assert.EqualValues(t, 0x1000, report2.DLRR[0].LastRR)
	assert.NotZero(t, report2.ReceiverRefTime[0xaaaa])
}

func TestComposeGoodbyeIncludesSourceSSRC(t *testing.T) {
	factory := packet.NewFactory(0)
	c := NewComposer(factory)
	p := NewParser()

	out, err := c.ComposeSender(SendReport{SSRC: 7, CNAME: "x"}, true)
	require.NoError(t, err)
	report, err := p.Parse(out.Payload)
	require.NoError(t, err)
	assert.Contains(t, report.GoodbyeSSRCs, uint32(7))
}

func TestParticipantMeasuresRTTFromDLRREcho(t *testing.T) {
	factory := packet.NewFactory(0)
	local := NewParticipant(RoleReceiver, 0x1, "", factory)
	remote := NewParticipant(RoleSender, 0x2, "", factory)

	base := time.Now()
	local.NoteSent(0, base)
	sr, err := local.ComposeSend(base, 1, 100, nil, false)
	require.NoError(t, err)

	_, err = remote.Ingest(sr.Payload, base.Add(20*time.Millisecond))
	require.NoError(t, err)

	rr, err := remote.ComposeRecv(base.Add(30*time.Millisecond), nil, false)
	require.NoError(t, err)

	_, err = local.Ingest(rr.Payload, base.Add(50*time.Millisecond))
	require.NoError(t, err)

	rtt, ok := local.RTT()
	require.True(t, ok)
	assert.InDelta(t, 40*time.Millisecond, rtt, float64(5*time.Millisecond))
}

func TestParticipantGeneratesCNAMEWhenEmpty(t *testing.T) {
	factory := packet.NewFactory(0)
	p1 := NewParticipant(RoleSender, 1, "", factory)
	p2 := NewParticipant(RoleSender, 2, "", factory)
	assert.NotEmpty(t, p1.CNAME())
	assert.NotEqual(t, p1.CNAME(), p2.CNAME())
}
