// Package rtcp builds and parses RFC 3550/3611 compound control
// packets on top of github.com/pion/rtcp, and drives the per-session
// participant state machine that schedules them (spec.md §4.6).
package rtcp

import (
	"time"

	"github.com/pion/rtcp"

	"github.com/sebas/rocpipe/internal/packet"
)

// SendReport carries the fields a sender-side participant contributes
// to a compound packet: its own SR plus reception stats for any
// streams it also receives (bidirectional endpoints).
type SendReport struct {
	SSRC        uint32
	CNAME       string
	NTPTime     time.Time
	RTPTime     uint32
	PacketCount uint32
	OctetCount  uint32
	Receptions  []ReceptionStats
}

// RecvReport carries the fields a receiver-side participant
// contributes: an RR plus, when the peer's SR/XR has been seen, an XR
// echoing DLRR and receiver-reference-time back for RTT measurement.
type RecvReport struct {
	SSRC              uint32
	CNAME             string
	Receptions        []ReceptionStats
	LastSRSeen        time.Time
	LastSRCompactNTP  uint32
	ReceiverRefTimeOf uint32 // SSRC the DLRR sub-block is addressed to (the peer whose SR is echoed)
}

// ReceptionStats mirrors an RFC 3550 reception report block.
type ReceptionStats struct {
	SourceSSRC       uint32
	FractionLost     uint8
	CumulativeLost   uint32
	HighestSeqNum    uint32
	Jitter           uint32
	LastSRCompactNTP uint32
	DelaySinceLastSR uint32 // in 1/65536 second units
}

// Composer builds compound RTCP packets and marshals them into
// packet.Packet objects with the RTCP facet set, per packet.go's
// convention of keying decoded content off Payload rather than a
// dedicated struct (avoiding an import cycle with this package).
type Composer struct {
	factory *packet.Factory
}

// NewComposer returns a Composer allocating output packets from
// factory.
func NewComposer(factory *packet.Factory) *Composer {
	return &Composer{factory: factory}
}

// ComposeSender builds a compound packet for a sending participant: SR
// first (as RFC 3550 §6.1 requires when present), then SDES CNAME,
// then a BYE if leaving is true.
func (c *Composer) ComposeSender(r SendReport, leaving bool) (*packet.Packet, error) {
	reports := make([]rtcp.ReceptionReport, 0, len(r.Receptions))
	for _, rr := range r.Receptions {
		reports = append(reports, toReceptionReport(rr))
	}

	pkts := []rtcp.Packet{
		&rtcp.SenderReport{
			SSRC:        r.SSRC,
			NTPTime:     ToNTP(r.NTPTime),
			RTPTime:     r.RTPTime,
			PacketCount: r.PacketCount,
			OctetCount:  r.OctetCount,
			Reports:     reports,
		},
		cnameChunk(r.SSRC, r.CNAME),
	}
	if leaving {
		pkts = append(pkts, &rtcp.Goodbye{Sources: []uint32{r.SSRC}})
	}
	return c.marshal(pkts)
}

// ComposeReceiver builds a compound packet for a receiving
// participant: RR, SDES CNAME, and (when the peer's SR has been
// observed) an XR block carrying DLRR and receiver-reference-time for
// end-to-end latency measurement per spec.md §4.6.
func (c *Composer) ComposeReceiver(r RecvReport, now time.Time, leaving bool) (*packet.Packet, error) {
	reports := make([]rtcp.ReceptionReport, 0, len(r.Receptions))
	for _, rr := range r.Receptions {
		reports = append(reports, toReceptionReport(rr))
	}

	pkts := []rtcp.Packet{
		&rtcp.ReceiverReport{SSRC: r.SSRC, Reports: reports},
		cnameChunk(r.SSRC, r.CNAME),
	}

	if !r.LastSRSeen.IsZero() {
		delay := uint32(now.Sub(r.LastSRSeen).Seconds() * (1 << 16))
		xrBlocks := []rtcp.ReportBlock{
			&rtcp.DLRRReportBlock{
				Reports: []rtcp.DLRRReport{{
					SSRC:   r.ReceiverRefTimeOf,
					LastRR: r.LastSRCompactNTP,
					DLRR:   delay,
				}},
			},
			&rtcp.ReceiverReferenceTimeReportBlock{NTPTimestamp: ToNTP(now)},
		}
		pkts = append(pkts, &rtcp.ExtendedReport{SenderSSRC: r.SSRC, Reports: xrBlocks})
	}
	if leaving {
		pkts = append(pkts, &rtcp.Goodbye{Sources: []uint32{r.SSRC}})
	}
	return c.marshal(pkts)
}

func (c *Composer) marshal(pkts []rtcp.Packet) (*packet.Packet, error) {
	buf, err := rtcp.Marshal(pkts)
	if err != nil {
		return nil, err
	}
	p, err := c.factory.NewPacket()
	if err != nil {
		return nil, err
	}
	p.Payload = buf
	p.RTCP = &packet.RTCPFacet{}
	p.AddFlags(packet.FlagRTCP | packet.FlagPrepared | packet.FlagComposed)
	return p, nil
}

func toReceptionReport(rr ReceptionStats) rtcp.ReceptionReport {
	return rtcp.ReceptionReport{
		SSRC:               rr.SourceSSRC,
		FractionLost:       rr.FractionLost,
		TotalLost:          rr.CumulativeLost,
		LastSequenceNumber: rr.HighestSeqNum,
		Jitter:             rr.Jitter,
		LastSenderReport:   rr.LastSRCompactNTP,
		Delay:              rr.DelaySinceLastSR,
	}
}

func cnameChunk(ssrc uint32, cname string) *rtcp.SourceDescription {
	return &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{{
			Source: ssrc,
			Items: []rtcp.SourceDescriptionItem{{
				Type: rtcp.SDESCNAME,
				Text: cname,
			}},
		}},
	}
}
