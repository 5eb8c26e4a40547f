package audio

import (
	"log/slog"
	"time"
)

// LatencyBackend selects the signal the tuner observes.
type LatencyBackend int

const (
	// BackendNIQ observes the number of samples resident in the
	// pipeline's network-incoming queue. It is the only backend named
	// in spec.md that is implemented; the interface leaves room for
	// others without committing to them.
	BackendNIQ LatencyBackend = iota
)

// TunerProfile selects the tuner's control-loop bandwidth.
type TunerProfile int

const (
	// ProfileResponsive uses a high-bandwidth PI controller: fast
	// convergence, audible pitch variation tolerated.
	ProfileResponsive TunerProfile = iota
	// ProfileGradual uses a low-bandwidth PI controller: imperceptible
	// correction, slow convergence.
	ProfileGradual
	// ProfileIntact disables scaling; the tuner still tracks queue
	// depth for metrics/watchdog purposes but never drives a
	// resampler (used when tuning runs on the remote peer instead).
	ProfileIntact
)

// TunerConfig bundles the target/bounds and profile a LatencyTuner is
// constructed with.
type TunerConfig struct {
	Backend       LatencyBackend
	Profile       TunerProfile
	TargetLatency time.Duration
	MinLatency    time.Duration
	MaxLatency    time.Duration
	// GracePeriod is how long an out-of-bounds latency must persist
	// before the watchdog report fires.
	GracePeriod time.Duration
}

// gains per profile: (Kp, Ki) of a discrete PI controller acting on
// the normalized latency error (queue_depth - target)/target.
func (c TunerConfig) gains() (kp, ki, delta float64) {
	switch c.Profile {
	case ProfileResponsive:
		return 0.05, 0.01, 0.10
	case ProfileIntact:
		return 0, 0, 0
	default: // ProfileGradual
		return 0.005, 0.0005, 0.02
	}
}

// LatencyTuner observes queue depth and drives a Resampler's scaling
// factor to hold it near TargetLatency, per spec.md §4.4.
type LatencyTuner struct {
	cfg   TunerConfig
	spec  SampleSpec
	kp    float64
	ki    float64
	delta float64

	integral float64
	scaling  float64

	violationSince time.Time
	violating      bool
}

// NewLatencyTuner constructs a tuner for the given spec and config.
func NewLatencyTuner(spec SampleSpec, cfg TunerConfig) *LatencyTuner {
	kp, ki, delta := cfg.gains()
	return &LatencyTuner{
		cfg:     cfg,
		spec:    spec,
		kp:      kp,
		ki:      ki,
		delta:   delta,
		scaling: 1.0,
	}
}

// Update reports the current queue depth (in samples per channel) and
// returns the scaling factor the caller should apply to its
// resampler. now is the caller's monotonic clock reading, used to
// track how long the latency has been out of bounds.
func (t *LatencyTuner) Update(queueDepth uint64, now time.Time) float64 {
	if t.cfg.Profile == ProfileIntact {
		t.trackBounds(queueDepth, now)
		return 1.0
	}

	target := t.spec.NsToSamplesPerChan(t.cfg.TargetLatency)
	if target == 0 {
		return t.scaling
	}

	err := (float64(queueDepth) - float64(target)) / float64(target)
	t.integral += err
	control := t.kp*err + t.ki*t.integral

	// Positive error (queue too deep, receiver is behind) means the
	// resampler should play out faster: scaling > 1 shortens output
	// relative to input for the sender's ratio, and for a receiver
	// pulling audio it means consuming input faster. Either direction
	// uses the same sign convention: increase scaling to drain, decrease
	// to accumulate.
	scaling := 1.0 + control
	scaling = clip(scaling, 1-t.delta, 1+t.delta)
	t.scaling = scaling

	t.trackBounds(queueDepth, now)
	return scaling
}

func (t *LatencyTuner) trackBounds(queueDepth uint64, now time.Time) {
	minS := t.spec.NsToSamplesPerChan(t.cfg.MinLatency)
	maxS := t.spec.NsToSamplesPerChan(t.cfg.MaxLatency)

	outOfBounds := queueDepth < minS || (maxS > 0 && queueDepth > maxS)
	if !outOfBounds {
		t.violating = false
		return
	}
	if !t.violating {
		t.violating = true
		t.violationSince = now
		return
	}
	if now.Sub(t.violationSince) >= t.cfg.GracePeriod {
		slog.Warn("[LatencyTuner] latency out of bounds past grace period",
			"queue_depth", queueDepth, "min", minS, "max", maxS)
	}
}

// Scaling returns the last computed scaling factor without observing
// a new sample.
func (t *LatencyTuner) Scaling() float64 { return t.scaling }

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
