package audio

import "fmt"

// ResamplerBackend selects the resampling implementation.
type ResamplerBackend int

const (
	// BackendDefault defers backend selection to construction time,
	// per spec.md's open question: for a fractional ratio near 1.0,
	// the default backend is builtin.
	BackendDefault ResamplerBackend = iota
	BackendBuiltin
	BackendSpeex
	BackendSpeexDecoupled
)

// ResamplerProfile selects the interpolation kernel length, trading
// CPU cost for quality.
type ResamplerProfile int

const (
	ProfileLow ResamplerProfile = iota
	ProfileMedium
	ProfileHigh
)

// kernelHalfWidth returns half the number of input samples consulted
// on each side of the interpolation point.
func (p ResamplerProfile) kernelHalfWidth() int {
	switch p {
	case ProfileLow:
		return 1
	case ProfileHigh:
		return 8
	default:
		return 4
	}
}

// Resampler maps an input sample stream to an output sample stream at
// a ratio base_ratio*scaling, where base_ratio = out_rate/in_rate and
// scaling is driven externally (typically by a LatencyTuner).
type Resampler interface {
	// SetScaling adjusts the multiplier applied on top of the fixed
	// input/output rate ratio.
	SetScaling(scaling float64) error
	// Resample consumes from in and produces into out, returning the
	// number of output samples written. Channels are resampled in
	// lock-step (interleaved).
	Resample(out, in []float32, numChannels int) int
}

// NewResampler constructs a resampler for the given backend/profile.
// Only BackendBuiltin (and BackendDefault, which resolves to it) is
// implemented: no cgo Speex binding exists anywhere in the retrieved
// corpus, so BackendSpeex/BackendSpeexDecoupled are declared for API
// completeness but rejected at construction time.
func NewResampler(backend ResamplerBackend, profile ResamplerProfile, inRate, outRate uint32) (Resampler, error) {
	switch backend {
	case BackendDefault, BackendBuiltin:
		return newBuiltinResampler(profile, inRate, outRate), nil
	default:
		return nil, fmt.Errorf("resampler: backend %v not available (no Speex binding in build)", backend)
	}
}

// builtinResampler implements a windowed-sinc-free linear/cubic
// hybrid: for ProfileLow it behaves like plain linear interpolation
// (generalizing the teacher's ResampleAudio); higher profiles widen
// the window to a weighted average for smoother output.
type builtinResampler struct {
	profile  ResamplerProfile
	baseRate float64
	scaling  float64
	// pos tracks the fractional read position in the input stream
	// across calls so consecutive Resample calls behave as one
	// continuous stream.
	pos float64
}

func newBuiltinResampler(profile ResamplerProfile, inRate, outRate uint32) *builtinResampler {
	base := 1.0
	if inRate != 0 {
		base = float64(outRate) / float64(inRate)
	}
	return &builtinResampler{profile: profile, baseRate: base, scaling: 1.0}
}

func (r *builtinResampler) SetScaling(scaling float64) error {
	if scaling <= 0 {
		return fmt.Errorf("resampler: invalid scaling %v", scaling)
	}
	r.scaling = scaling
	return nil
}

func (r *builtinResampler) Resample(out, in []float32, numChannels int) int {
	if numChannels <= 0 {
		return 0
	}
	ratio := r.baseRate * r.scaling
	if ratio <= 0 {
		return 0
	}
	inFrames := len(in) / numChannels
	outFrames := len(out) / numChannels
	half := r.profile.kernelHalfWidth()

	step := 1.0 / ratio
	written := 0
	for written < outFrames {
		srcPos := r.pos
		srcIdx := int(srcPos)
		if srcIdx+half >= inFrames {
			break
		}
		frac := srcPos - float64(srcIdx)

		for ch := 0; ch < numChannels; ch++ {
			out[written*numChannels+ch] = interpolate(in, srcIdx, ch, numChannels, frac, half)
		}
		written++
		r.pos += step
	}
	// carry the fractional remainder forward, rebasing against
	// consumed whole frames so pos never grows unbounded.
	consumed := int(r.pos)
	if consumed > 0 {
		if consumed > inFrames {
			consumed = inFrames
		}
		r.pos -= float64(consumed)
	}
	return written * numChannels
}

// interpolate performs a weighted average over 2*half neighboring
// samples of channel ch, centered on the fractional position
// srcIdx+frac.
func interpolate(in []float32, srcIdx, ch, numChannels int, frac float64, half int) float32 {
	if half <= 1 {
		s0 := sampleAt(in, srcIdx, ch, numChannels)
		s1 := sampleAt(in, srcIdx+1, ch, numChannels)
		return float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	var sum, weightSum float64
	for k := -half + 1; k <= half; k++ {
		idx := srcIdx + k
		w := triangularWeight(float64(k)-frac, half)
		if w == 0 {
			continue
		}
		sum += float64(sampleAt(in, idx, ch, numChannels)) * w
		weightSum += w
	}
	if weightSum == 0 {
		return sampleAt(in, srcIdx, ch, numChannels)
	}
	return float32(sum / weightSum)
}

func triangularWeight(x float64, half int) float64 {
	w := float64(half) - abs(x)
	if w < 0 {
		return 0
	}
	return w
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func sampleAt(in []float32, frame, ch, numChannels int) float32 {
	if frame < 0 || frame*numChannels+ch >= len(in) {
		return 0
	}
	return in[frame*numChannels+ch]
}
