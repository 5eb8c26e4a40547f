package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/zaf/g711"
)

// FrameEncoder converts raw float32 samples into a wire payload of a
// given Format.
type FrameEncoder interface {
	// EncodedByteCount returns the payload size in bytes for
	// numSamples samples (spanning all channels).
	EncodedByteCount(numSamples int) int
	// Encode writes samples into payload and returns the number of
	// samples actually consumed.
	Encode(payload []byte, samples []float32) (int, error)
}

// FrameDecoder converts a wire payload into raw float32 samples.
type FrameDecoder interface {
	// Decode fills samples from payload and returns the number of
	// samples actually produced.
	Decode(payload []byte, samples []float32) (int, error)
}

// PCMMapper implements FrameEncoder/FrameDecoder for the payload
// formats the pipeline statically registers: 16-bit linear PCM
// (little and big endian) and, via zaf/g711, PCMU/PCMA.
type PCMMapper struct {
	spec SampleSpec
}

// NewPCMMapper returns a mapper for the given wire format.
func NewPCMMapper(spec SampleSpec) *PCMMapper {
	return &PCMMapper{spec: spec}
}

const pcm16Scale = 32767.0

func (m *PCMMapper) EncodedByteCount(numSamples int) int {
	return numSamples * m.spec.Format.BytesPerSample()
}

func (m *PCMMapper) Encode(payload []byte, samples []float32) (int, error) {
	switch m.spec.Format {
	case FormatPCMSInt16LE, FormatPCMSInt16BE:
		return m.encodePCM16(payload, samples)
	case FormatPCMU:
		pcm := make([]byte, len(samples)*2)
		if _, err := m.encodePCM16Into(pcm, samples, binary.LittleEndian); err != nil {
			return 0, err
		}
		enc := g711.EncodeUlaw(pcm)
		n := copy(payload, enc)
		return n, nil
	case FormatPCMA:
		pcm := make([]byte, len(samples)*2)
		if _, err := m.encodePCM16Into(pcm, samples, binary.LittleEndian); err != nil {
			return 0, err
		}
		enc := g711.EncodeAlaw(pcm)
		n := copy(payload, enc)
		return n, nil
	default:
		return 0, fmt.Errorf("pcm mapper: unsupported encode format %v", m.spec.Format)
	}
}

func (m *PCMMapper) Decode(payload []byte, samples []float32) (int, error) {
	switch m.spec.Format {
	case FormatPCMSInt16LE, FormatPCMSInt16BE:
		return m.decodePCM16(payload, samples)
	case FormatPCMU:
		pcm := g711.DecodeUlaw(payload)
		return m.decodePCM16Bytes(pcm, samples, binary.LittleEndian)
	case FormatPCMA:
		pcm := g711.DecodeAlaw(payload)
		return m.decodePCM16Bytes(pcm, samples, binary.LittleEndian)
	default:
		return 0, fmt.Errorf("pcm mapper: unsupported decode format %v", m.spec.Format)
	}
}

func (m *PCMMapper) byteOrder() binary.ByteOrder {
	if m.spec.Format == FormatPCMSInt16BE {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (m *PCMMapper) encodePCM16(payload []byte, samples []float32) (int, error) {
	return m.encodePCM16Into(payload, samples, m.byteOrder())
}

func (m *PCMMapper) encodePCM16Into(payload []byte, samples []float32, order binary.ByteOrder) (int, error) {
	need := len(samples) * 2
	if len(payload) < need {
		return 0, fmt.Errorf("pcm mapper: payload too small: have %d need %d", len(payload), need)
	}
	for i, s := range samples {
		v := clampS16(s)
		order.PutUint16(payload[i*2:], uint16(v))
	}
	return len(samples), nil
}

func (m *PCMMapper) decodePCM16(payload []byte, samples []float32) (int, error) {
	return m.decodePCM16Bytes(payload, samples, m.byteOrder())
}

func (m *PCMMapper) decodePCM16Bytes(payload []byte, samples []float32, order binary.ByteOrder) (int, error) {
	n := len(payload) / 2
	if n > len(samples) {
		n = len(samples)
	}
	for i := 0; i < n; i++ {
		v := int16(order.Uint16(payload[i*2:]))
		samples[i] = float32(v) / pcm16Scale
	}
	return n, nil
}

func clampS16(s float32) int16 {
	v := s * pcm16Scale
	if v > pcm16Scale {
		v = pcm16Scale
	}
	if v < -pcm16Scale-1 {
		v = -pcm16Scale - 1
	}
	return int16(v)
}
