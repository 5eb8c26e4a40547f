package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidURI(t *testing.T) {
	u, err := Parse("rtp+rs8m://192.168.1.10:10001/stream?param=1")
	require.NoError(t, err)
	assert.Equal(t, ProtoRTPRS8M, u.Protocol)
	assert.Equal(t, "192.168.1.10", u.Host)
	assert.Equal(t, 10001, u.Port)
	assert.Equal(t, "stream", u.Path)
	assert.Equal(t, "1", u.Query.Get("param"))
}

func TestParseRejectsUnknownProtocol(t *testing.T) {
	_, err := Parse("sip://host:5060")
	assert.Error(t, err)
}

func TestParseRejectsMissingHost(t *testing.T) {
	_, err := Parse("rtp:///path")
	assert.Error(t, err)
}

func TestValidatePairRequiresRepairForFEC(t *testing.T) {
	source, err := Parse("rtp+rs8m://host:10001")
	require.NoError(t, err)
	assert.Error(t, ValidatePair(source, nil))

	repair, err := Parse("rs8m://host:10002")
	require.NoError(t, err)
	assert.NoError(t, ValidatePair(source, &repair))
}

func TestValidatePairRejectsFamilyMismatch(t *testing.T) {
	source, err := Parse("rtp+rs8m://host:10001")
	require.NoError(t, err)
	repair, err := Parse("ldpc://host:10002")
	require.NoError(t, err)
	assert.Error(t, ValidatePair(source, &repair))
}

func TestValidatePairRejectsRepairOnBareRTP(t *testing.T) {
	source, err := Parse("rtp://host:10001")
	require.NoError(t, err)
	repair, err := Parse("rs8m://host:10002")
	require.NoError(t, err)
	assert.Error(t, ValidatePair(source, &repair))
}

func TestPortPoolAllocatesEvenOddPairs(t *testing.T) {
	pool := NewPortPool(10000, 10010)
	rtp, rtcp, err := pool.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 0, rtp%2)
	assert.Equal(t, rtp+1, rtcp)
	assert.Equal(t, 1, pool.Allocated())

	pool.Release(rtp)
	assert.Equal(t, 0, pool.Allocated())
}

func TestPortPoolExhaustion(t *testing.T) {
	pool := NewPortPool(10000, 10004)
	_, _, err := pool.Allocate()
	require.NoError(t, err)
	_, _, err = pool.Allocate()
	require.NoError(t, err)
	_, _, err = pool.Allocate()
	assert.Error(t, err)
}

func TestBuildAndParseDescriptionRoundTrip(t *testing.T) {
	raw, err := BuildDescription("10.0.0.1", 40000, Capability{PayloadType: 98, SampleRate: 48000, NumChannels: 2})
	require.NoError(t, err)

	cap, err := ParseDescription(raw)
	require.NoError(t, err)
	assert.EqualValues(t, 98, cap.PayloadType)
	assert.EqualValues(t, 48000, cap.SampleRate)
	assert.Equal(t, 2, cap.NumChannels)
}
