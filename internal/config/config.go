// Package config loads the pipeline's tunables from command line flags
// and environment variable overrides, following
// internal/rtpmanager/config.Load()'s exact pattern: flags provide
// defaults, ROCPIPE_* environment variables override them.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sebas/rocpipe/internal/audio"
)

// Config holds every tunable named in the endpoint/latency/FEC option
// surface: latency bounds, packet/frame sizing, latency tuner and
// resampler backend/profile selection, FEC block shape, and the two
// transport toggles (packet-interleaving, reuseaddr).
type Config struct {
	TargetLatency time.Duration
	MinLatency    time.Duration
	MaxLatency    time.Duration
	IOLatency     time.Duration

	PacketLen     int // frames per channel per packet
	FrameLen      int // frames per channel per pipeline tick
	MaxPacketSize int // bytes
	MaxFrameSize  int // bytes

	SampleRate uint32

	LatencyBackend  audio.LatencyBackend
	LatencyProfile  audio.TunerProfile
	ResamplerBackend audio.ResamplerBackend
	ResamplerProfile audio.ResamplerProfile

	FECNumSource int
	FECNumRepair int

	PacketInterleaving bool
	ReuseAddr          bool

	LogLevel string // debug, info, warn, error
}

// Load parses flags (registering them on flag.CommandLine, so it must
// be called at most once per process) then applies ROCPIPE_*
// environment variable overrides, and returns the resolved Config.
func Load() (*Config, error) {
	cfg := &Config{}

	targetLatency := flag.Duration("target-latency", 200*time.Millisecond, "target end-to-end latency")
	minLatency := flag.Duration("min-latency", 40*time.Millisecond, "minimum tolerated latency before the tuner reports underrun")
	maxLatency := flag.Duration("max-latency", 400*time.Millisecond, "maximum tolerated latency before the tuner reports overrun")
	ioLatency := flag.Duration("io-latency", 20*time.Millisecond, "device I/O buffering latency, added to the end-to-end budget")

	packetLen := flag.Int("packet-len", 320, "frames per channel carried by one outgoing packet")
	frameLen := flag.Int("frame-len", 160, "frames per channel processed by one pipeline tick")
	maxPacketSize := flag.Int("max-packet-size", 1500, "maximum outgoing packet size in bytes")
	maxFrameSize := flag.Int("max-frame-size", 65536, "maximum frame buffer size in bytes")

	sampleRate := flag.Uint("sample-rate", 44100, "pipeline output sample rate in Hz")

	latencyBackend := flag.String("latency-backend", "niq", "latency tuner observation backend (niq)")
	latencyProfile := flag.String("latency-profile", "gradual", "latency tuner control-loop profile (responsive, gradual, intact)")
	resamplerBackend := flag.String("resampler-backend", "builtin", "resampler implementation (builtin)")
	resamplerProfile := flag.String("resampler-profile", "medium", "resampler interpolation kernel width (low, medium, high)")

	fecNumSource := flag.Int("fec-nbsrc", 20, "FEC source-block length")
	fecNumRepair := flag.Int("fec-nbrpr", 10, "FEC repair-block length")

	packetInterleaving := flag.Bool("packet-interleaving", false, "randomize outgoing packet order to spread bursty loss")
	reuseAddr := flag.Bool("reuseaddr", false, "set SO_REUSEADDR on bound sockets")

	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")

	flag.Parse()

	cfg.TargetLatency = *targetLatency
	cfg.MinLatency = *minLatency
	cfg.MaxLatency = *maxLatency
	cfg.IOLatency = *ioLatency
	cfg.PacketLen = *packetLen
	cfg.FrameLen = *frameLen
	cfg.MaxPacketSize = *maxPacketSize
	cfg.MaxFrameSize = *maxFrameSize
	cfg.SampleRate = uint32(*sampleRate)
	cfg.FECNumSource = *fecNumSource
	cfg.FECNumRepair = *fecNumRepair
	cfg.PacketInterleaving = *packetInterleaving
	cfg.ReuseAddr = *reuseAddr
	cfg.LogLevel = *logLevel

	var err error
	if cfg.LatencyBackend, err = parseLatencyBackend(*latencyBackend); err != nil {
		return nil, err
	}
	if cfg.LatencyProfile, err = parseLatencyProfile(*latencyProfile); err != nil {
		return nil, err
	}
	if cfg.ResamplerBackend, err = parseResamplerBackend(*resamplerBackend); err != nil {
		return nil, err
	}
	if cfg.ResamplerProfile, err = parseResamplerProfile(*resamplerProfile); err != nil {
		return nil, err
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("ROCPIPE_TARGET_LATENCY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ROCPIPE_TARGET_LATENCY: %w", err)
		}
		c.TargetLatency = d
	}
	if v := os.Getenv("ROCPIPE_MIN_LATENCY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ROCPIPE_MIN_LATENCY: %w", err)
		}
		c.MinLatency = d
	}
	if v := os.Getenv("ROCPIPE_MAX_LATENCY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ROCPIPE_MAX_LATENCY: %w", err)
		}
		c.MaxLatency = d
	}
	if v := os.Getenv("ROCPIPE_IO_LATENCY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ROCPIPE_IO_LATENCY: %w", err)
		}
		c.IOLatency = d
	}
	if v := os.Getenv("ROCPIPE_PACKET_LEN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ROCPIPE_PACKET_LEN: %w", err)
		}
		c.PacketLen = n
	}
	if v := os.Getenv("ROCPIPE_FRAME_LEN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ROCPIPE_FRAME_LEN: %w", err)
		}
		c.FrameLen = n
	}
	if v := os.Getenv("ROCPIPE_MAX_PACKET_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ROCPIPE_MAX_PACKET_SIZE: %w", err)
		}
		c.MaxPacketSize = n
	}
	if v := os.Getenv("ROCPIPE_MAX_FRAME_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ROCPIPE_MAX_FRAME_SIZE: %w", err)
		}
		c.MaxFrameSize = n
	}
	if v := os.Getenv("ROCPIPE_SAMPLE_RATE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("ROCPIPE_SAMPLE_RATE: %w", err)
		}
		c.SampleRate = uint32(n)
	}
	if v := os.Getenv("ROCPIPE_LATENCY_BACKEND"); v != "" {
		b, err := parseLatencyBackend(v)
		if err != nil {
			return err
		}
		c.LatencyBackend = b
	}
	if v := os.Getenv("ROCPIPE_LATENCY_PROFILE"); v != "" {
		p, err := parseLatencyProfile(v)
		if err != nil {
			return err
		}
		c.LatencyProfile = p
	}
	if v := os.Getenv("ROCPIPE_RESAMPLER_BACKEND"); v != "" {
		b, err := parseResamplerBackend(v)
		if err != nil {
			return err
		}
		c.ResamplerBackend = b
	}
	if v := os.Getenv("ROCPIPE_RESAMPLER_PROFILE"); v != "" {
		p, err := parseResamplerProfile(v)
		if err != nil {
			return err
		}
		c.ResamplerProfile = p
	}
	if v := os.Getenv("ROCPIPE_FEC_NBSRC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ROCPIPE_FEC_NBSRC: %w", err)
		}
		c.FECNumSource = n
	}
	if v := os.Getenv("ROCPIPE_FEC_NBRPR"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ROCPIPE_FEC_NBRPR: %w", err)
		}
		c.FECNumRepair = n
	}
	if v := os.Getenv("ROCPIPE_PACKET_INTERLEAVING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ROCPIPE_PACKET_INTERLEAVING: %w", err)
		}
		c.PacketInterleaving = b
	}
	if v := os.Getenv("ROCPIPE_REUSEADDR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ROCPIPE_REUSEADDR: %w", err)
		}
		c.ReuseAddr = b
	}
	if v := os.Getenv("ROCPIPE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

func parseLatencyBackend(s string) (audio.LatencyBackend, error) {
	switch s {
	case "niq", "":
		return audio.BackendNIQ, nil
	default:
		return 0, fmt.Errorf("unknown latency-backend %q", s)
	}
}

func parseLatencyProfile(s string) (audio.TunerProfile, error) {
	switch s {
	case "responsive":
		return audio.ProfileResponsive, nil
	case "gradual", "":
		return audio.ProfileGradual, nil
	case "intact":
		return audio.ProfileIntact, nil
	default:
		return 0, fmt.Errorf("unknown latency-profile %q", s)
	}
}

func parseResamplerBackend(s string) (audio.ResamplerBackend, error) {
	switch s {
	case "builtin", "":
		return audio.BackendDefault, nil
	default:
		return 0, fmt.Errorf("unknown resampler-backend %q", s)
	}
}

func parseResamplerProfile(s string) (audio.ResamplerProfile, error) {
	switch s {
	case "low":
		return audio.ProfileLow, nil
	case "medium", "":
		return audio.ProfileMedium, nil
	case "high":
		return audio.ProfileHigh, nil
	default:
		return 0, fmt.Errorf("unknown resampler-profile %q", s)
	}
}
