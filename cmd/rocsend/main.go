// Command rocsend reads raw interleaved PCM audio from stdin (or a
// file) and streams it as RTP, optionally protected by FEC, to a
// receiver endpoint pair, following spec.md §2's sender chain: mapper
// (upstream, sample format is fixed at capture) → packetizer → FEC →
// shipper.
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

	"github.com/google/uuid"

	"github.com/sebas/rocpipe/internal/audio"
	"github.com/sebas/rocpipe/internal/banner"
	"github.com/sebas/rocpipe/internal/config"
	"github.com/sebas/rocpipe/internal/endpoint"
	"github.com/sebas/rocpipe/internal/fec"
	"github.com/sebas/rocpipe/internal/logger"
	"github.com/sebas/rocpipe/internal/packet"
	"github.com/sebas/rocpipe/internal/pipeline"
	"github.com/sebas/rocpipe/internal/rtp"
)

func main() {
	sourceURIFlag := flag.String("source", "", "destination source endpoint URI, e.g. rtp+rs8m://127.0.0.1:10001")
	repairURIFlag := flag.String("repair", "", "destination repair endpoint URI, required when source carries FEC")
	inputPath := flag.String("input", "-", "raw PCM input file, - for stdin")
	channels := flag.Uint("channels", 2, "number of interleaved input channels")
	ssrcFlag := flag.Uint("ssrc", 0, "RTP source id, 0 picks a random one")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "rocsend:", err)
		os.Exit(1)
	}

	logger.InitLogger(os.Stderr)
	logger.SetLevel(cfg.LogLevel)

	if *sourceURIFlag == "" {
		slog.Error("rocsend: -source is required")
		os.Exit(1)
	}
	sourceURI, err := endpoint.Parse(*sourceURIFlag)
	if err != nil {
		slog.Error("rocsend: invalid source endpoint", "err", err)
		os.Exit(1)
	}
	var repairURI *endpoint.URI
	if *repairURIFlag != "" {
		u, err := endpoint.Parse(*repairURIFlag)
		if err != nil {
			slog.Error("rocsend: invalid repair endpoint", "err", err)
			os.Exit(1)
		}
		repairURI = &u
	}
	if err := endpoint.ValidatePair(sourceURI, repairURI); err != nil {
		slog.Error("rocsend: endpoint pairing", "err", err)
		os.Exit(1)
	}

	sourceConn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP(sourceURI.Host), Port: sourceURI.Port})
	if err != nil {
		slog.Error("rocsend: dial source endpoint", "err", err)
		os.Exit(1)
	}
	defer sourceConn.Close()

	var repairConn *net.UDPConn
	if repairURI != nil {
		repairConn, err = net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP(repairURI.Host), Port: repairURI.Port})
		if err != nil {
			slog.Error("rocsend: dial repair endpoint", "err", err)
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

	ssrc := uint32(*ssrcFlag)
	if ssrc == 0 {
		id := uuid.New()
		ssrc = uint32(id[0])<<24 | uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3])
	}

	factory := packet.NewFactory(0)
	mapper := audio.NewPCMMapper(audio.SampleSpec{SampleRate: spec.SampleRate, Format: audio.FormatPCMSInt16LE, ChannelMask: spec.ChannelMask})

	var codec fec.Codec
	if sourceURI.IsFEC() {
		shardBytes := mapper.EncodedByteCount(cfg.PacketLen * numCh)
		switch sourceURI.Protocol {
		case endpoint.ProtoRTPRS8M:
			codec, err = fec.NewRS8M(cfg.FECNumSource, cfg.FECNumRepair, shardBytes)
		case endpoint.ProtoRTPLDPC:
			codec, err = fec.NewLDPCStaircase(cfg.FECNumSource, cfg.FECNumRepair, shardBytes)
		}
		if err != nil {
			slog.Error("rocsend: build FEC codec", "err", err)
			os.Exit(1)
		}
	}

	var composerInner packet.Composer
	if codec != nil {
		composerInner = fec.NewComposer()
	}

	sender := pipeline.NewSender(pipeline.SenderConfig{
		SourceSpec:  spec,
		Encoder:     mapper,
		Composer:    rtp.NewComposer(composerInner),
		Codec:       codec,
		Factory:     factory,
		PayloadType: 96,
		SSRC:        ssrc,
		PacketLen:   cfg.PacketLen,
	}, &demuxWriter{source: sourceConn, repair: repairConn})

	banner.Print("ROCSEND", []banner.ConfigLine{
		{Label: "Source", Value: sourceURI.String()},
		{Label: "Repair", Value: repairURIString(repairURI)},
		{Label: "Sample Rate", Value: fmt.Sprintf("%d", spec.SampleRate)},
		{Label: "Channels", Value: fmt.Sprintf("%d", numCh)},
		{Label: "SSRC", Value: fmt.Sprintf("0x%08x", ssrc)},
	})

	var in io.Reader = os.Stdin
	if *inputPath != "-" {
		f, err := os.Open(*inputPath)
		if err != nil {
			slog.Error("rocsend: open input", "err", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}
	reader := bufio.NewReaderSize(in, 1<<16)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	frameFrames := cfg.FrameLen
	pcmBuf := make([]byte, frameFrames*numCh*2)
	frame := audio.NewFrame(frameFrames * numCh)

	slog.Info("rocsend: streaming")
	for {
		select {
		case <-ctx.Done():
			slog.Info("rocsend: shutting down")
			_ = sender.Flush()
			return
		default:
		}

		if _, err := io.ReadFull(reader, pcmBuf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				slog.Info("rocsend: input exhausted")
			} else {
				slog.Error("rocsend: read input", "err", err)
			}
			_ = sender.Flush()
			return
		}
		if _, err := mapper.Decode(pcmBuf, frame.Samples); err != nil {
			slog.Error("rocsend: decode input frame", "err", err)
			return
		}
		if err := sender.WriteFrame(frame); err != nil {
			slog.Error("rocsend: write frame", "err", err)
			return
		}
	}
}

// repairURIString renders u for the startup banner, empty when unset
// so banner.Print drops the line instead of showing a placeholder.
func repairURIString(u *endpoint.URI) string {
	if u == nil {
		return ""
	}
	return u.String()
}

// demuxWriter routes composed packets to the source or repair socket
// by FEC role, since the two travel to distinct ports (spec.md §6).
type demuxWriter struct {
	source *net.UDPConn
	repair *net.UDPConn
}

func (w *demuxWriter) WritePacket(p *packet.Packet) error {
	conn := w.source
	if p.FEC != nil && p.FEC.Role == packet.FECRoleRepair && w.repair != nil {
		conn = w.repair
	}
	_, err := conn.Write(p.Payload)
	return err
}
