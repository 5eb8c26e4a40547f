// Package audio declares channel layout, sample format, frame metadata,
// PCM format conversion and variable-ratio resampling, and the latency
// tuner that drives the resampler's scaling factor.
package audio

import "time"

// Format identifies how a single sample is represented on the wire or
// in a decoded frame.
type Format int

const (
	// FormatRaw is the pipeline-internal float32 sample format used by
	// every Frame. It never appears on the wire.
	FormatRaw Format = iota
	// FormatPCMSInt16LE is 16-bit signed little-endian linear PCM.
	FormatPCMSInt16LE
	// FormatPCMSInt16BE is 16-bit signed big-endian linear PCM.
	FormatPCMSInt16BE
	// FormatPCMU is G.711 mu-law.
	FormatPCMU
	// FormatPCMA is G.711 A-law.
	FormatPCMA
)

// SampleSpec declares the channel layout and sample format of a
// stream. It is the unit conversion table between sample counts and
// nanoseconds used throughout the pipeline.
type SampleSpec struct {
	SampleRate  uint32
	Format      Format
	ChannelMask uint64
}

// NumChannels returns the number of set bits in ChannelMask.
func (s SampleSpec) NumChannels() int {
	n := 0
	for m := s.ChannelMask; m != 0; m &= m - 1 {
		n++
	}
	return n
}

// SamplesOverallToNs converts a sample count spanning all channels
// (i.e. len(Frame.Samples)) into a duration.
func (s SampleSpec) SamplesOverallToNs(numSamples uint64) time.Duration {
	ch := uint64(s.NumChannels())
	if ch == 0 || s.SampleRate == 0 {
		return 0
	}
	perChan := numSamples / ch
	return s.SamplesPerChanToNs(perChan)
}

// SamplesPerChanToNs converts a per-channel sample count into a
// duration.
func (s SampleSpec) SamplesPerChanToNs(numSamples uint64) time.Duration {
	if s.SampleRate == 0 {
		return 0
	}
	return time.Duration(numSamples) * time.Second / time.Duration(s.SampleRate)
}

// NsToSamplesPerChan converts a duration into a per-channel sample
// count, rounding to the nearest sample.
func (s SampleSpec) NsToSamplesPerChan(d time.Duration) uint64 {
	if s.SampleRate == 0 {
		return 0
	}
	num := int64(d) * int64(s.SampleRate)
	den := int64(time.Second)
	// round to nearest instead of truncating
	return uint64((num + den/2) / den)
}

// NsToSamplesOverall converts a duration into a sample count spanning
// all channels.
func (s SampleSpec) NsToSamplesOverall(d time.Duration) uint64 {
	return s.NsToSamplesPerChan(d) * uint64(s.NumChannels())
}

// BytesPerSample returns the wire size of one sample in Format.
func (f Format) BytesPerSample() int {
	switch f {
	case FormatPCMSInt16LE, FormatPCMSInt16BE:
		return 2
	case FormatPCMU, FormatPCMA:
		return 1
	case FormatRaw:
		return 4
	default:
		return 0
	}
}
