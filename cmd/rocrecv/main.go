// Command rocrecv binds a source (and optional repair/control)
// endpoint, admits inbound senders into sessions, mixes their decoded
// audio, and writes raw interleaved PCM to stdout (or a file),
// following spec.md §2's receiver chain: parser → router → FEC →
// depacketizer → resampler → mapper → mixer.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/bits"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebas/rocpipe/internal/audio"
	"github.com/sebas/rocpipe/internal/config"
	"github.com/sebas/rocpipe/internal/endpoint"
	"github.com/sebas/rocpipe/internal/fec"
	"github.com/sebas/rocpipe/internal/logger"
	"github.com/sebas/rocpipe/internal/packet"
	"github.com/sebas/rocpipe/internal/pipeline"
	"github.com/sebas/rocpipe/internal/rtp"
	"github.com/sebas/rocpipe/internal/session"
)

func main() {
	sourceURIFlag := flag.String("source", "", "local source endpoint URI to bind, e.g. rtp+rs8m://0.0.0.0:10001")
	repairURIFlag := flag.String("repair", "", "local repair endpoint URI to bind, required when source carries FEC")
	outputPath := flag.String("output", "-", "raw PCM output file, - for stdout")
	channels := flag.Uint("channels", 2, "number of interleaved output channels")
	maxSessions := flag.Int("max-sessions", 8, "maximum concurrently admitted senders")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "rocrecv:", err)
		os.Exit(1)
	}

	logger.InitLogger(os.Stderr)
	logger.SetLevel(cfg.LogLevel)

	if *sourceURIFlag == "" {
		slog.Error("rocrecv: -source is required")
		os.Exit(1)
	}
	sourceURI, err := endpoint.Parse(*sourceURIFlag)
	if err != nil {
		slog.Error("rocrecv: invalid source endpoint", "err", err)
		os.Exit(1)
	}
	var repairURI *endpoint.URI
	if *repairURIFlag != "" {
		u, err := endpoint.Parse(*repairURIFlag)
		if err != nil {
			slog.Error("rocrecv: invalid repair endpoint", "err", err)
			os.Exit(1)
		}
		repairURI = &u
	}
	if err := endpoint.ValidatePair(sourceURI, repairURI); err != nil {
		slog.Error("rocrecv: endpoint pairing", "err", err)
		os.Exit(1)
	}

	sourceConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(sourceURI.Host), Port: sourceURI.Port})
	if err != nil {
		slog.Error("rocrecv: bind source endpoint", "err", err)
		os.Exit(1)
	}
	defer sourceConn.Close()

	var repairConn *net.UDPConn
	if repairURI != nil {
		repairConn, err = net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(repairURI.Host), Port: repairURI.Port})
		if err != nil {
			slog.Error("rocrecv: bind repair endpoint", "err", err)
			os.Exit(1)
		}
		defer repairConn.Close()
	}

	spec := audio.SampleSpec{
		SampleRate:  cfg.SampleRate,
		Format:      audio.FormatRaw,
		ChannelMask: 1<<*channels - 1,
	}
	numCh := bits.OnesCount64(spec.ChannelMask)

	factory := packet.NewFactory(0)
	decodeMapper := audio.NewPCMMapper(audio.SampleSpec{SampleRate: spec.SampleRate, Format: audio.FormatPCMSInt16LE, ChannelMask: spec.ChannelMask})

	var codecInner rtp.InnerParser
	if sourceURI.IsFEC() {
		codecInner = fec.NewParser(uint16(cfg.FECNumSource))
	}
	rtpParser := rtp.NewParser(codecInner)

	newSession := func(ssrc uint32, addr *net.UDPAddr, cname string) (*session.Session, error) {
		var codec fec.Codec
		if sourceURI.IsFEC() {
			shardBytes := decodeMapper.EncodedByteCount(cfg.PacketLen * numCh)
			var err error
			switch sourceURI.Protocol {
			case endpoint.ProtoRTPRS8M:
				codec, err = fec.NewRS8M(cfg.FECNumSource, cfg.FECNumRepair, shardBytes)
			case endpoint.ProtoRTPLDPC:
				codec, err = fec.NewLDPCStaircase(cfg.FECNumSource, cfg.FECNumRepair, shardBytes)
			}
			if err != nil {
				return nil, err
			}
		}
		return session.New(ssrc, addr, cname, session.Config{
			SourceSpec: spec,
			OutputSpec: spec,
			Decoder:    decodeMapper,
			Codec:      codec,
			PacketLen:  cfg.PacketLen,
			MaxLatency: cfg.MaxLatency,
			Tuner: audio.TunerConfig{
				Profile:       cfg.LatencyProfile,
				TargetLatency: cfg.TargetLatency,
				MinLatency:    cfg.MinLatency,
				MaxLatency:    cfg.MaxLatency,
			},
			QueueDepth: 256,
			NoPlayback: 2 * time.Second,
			Resampler:  cfg.ResamplerBackend,
			ResampProf: cfg.ResamplerProfile,
			Factory:    factory,
		})
	}

	slot, err := session.NewSlot("rocrecv", sourceURI, repairURI, nil, *maxSessions, newSession)
	if err != nil {
		slog.Error("rocrecv: build slot", "err", err)
		os.Exit(1)
	}
	slot.Bind(sourceConn, repairConn, nil)

	loop := pipeline.NewLoop(cfg.IOLatency)
	loop.Track(slot)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go loop.Run(ctx)

	go receiveLoop(ctx, sourceConn, rtpParser, factory, slot)
	if repairConn != nil {
		go receiveLoop(ctx, repairConn, rtpParser, factory, slot)
	}

	var out io.Writer = os.Stdout
	if *outputPath != "-" {
		f, err := os.Create(*outputPath)
		if err != nil {
			slog.Error("rocrecv: create output", "err", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	writer := bufio.NewWriterSize(out, 1<<16)
	defer writer.Flush()

	receiver := pipeline.NewReceiver(slot, spec)
	frameFrames := cfg.FrameLen
	frame := audio.NewFrame(frameFrames * numCh)
	pcmBuf := make([]byte, frameFrames*numCh*2)

	slog.Info("rocrecv: listening",
		"source", sourceURI.String(),
		"repair", repairURIString(repairURI),
		"sample_rate", spec.SampleRate,
		"channels", numCh,
	)

	tickInterval := spec.SamplesPerChanToNs(uint64(frameFrames))
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("rocrecv: shutting down")
			closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = slot.Close(closeCtx)
			return
		case <-ticker.C:
			if err := receiver.ReadFrame(frame); err != nil {
				slog.Error("rocrecv: read frame", "err", err)
				continue
			}
			if _, err := decodeMapper.Encode(pcmBuf, frame.Samples); err != nil {
				slog.Error("rocrecv: encode output frame", "err", err)
				continue
			}
			if _, err := writer.Write(pcmBuf); err != nil {
				slog.Error("rocrecv: write output", "err", err)
				return
			}
		}
	}
}

// receiveLoop reads raw UDP datagrams off conn, parses each as RTP
// (with FEC framing if configured), and routes it into slot's router.
func receiveLoop(ctx context.Context, conn *net.UDPConn, parser *rtp.Parser, factory *packet.Factory, slot *session.Slot) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			slog.Warn("rocrecv: read datagram", "err", err)
			continue
		}
		p, err := parser.Parse(factory, buf[:n], addr)
		if err != nil {
			slog.Warn("rocrecv: drop malformed datagram", "err", err)
			continue
		}
		if _, err := slot.Router.Route(p, addr, time.Now()); err != nil {
			slog.Warn("rocrecv: drop unroutable packet", "err", err)
		}
	}
}

func repairURIString(u *endpoint.URI) string {
	if u == nil {
		return "(none)"
	}
	return u.String()
}
