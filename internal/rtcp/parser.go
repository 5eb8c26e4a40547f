package rtcp

import (
	"github.com/pion/rtcp"

	"github.com/sebas/rocpipe/internal/status"
)

// Report is the decoded content of one compound RTCP packet, flattened
// across whichever of SR/RR/SDES/XR/BYE it carried. Fields are zero
// when the corresponding packet type was absent, matching the
// switch-on-type pattern used to read compound RTCP elsewhere in the
// ecosystem.
type Report struct {
	SenderReports   []SenderReportInfo
	ReceiverReports []ReceiverReportInfo
	CNAMEs          map[uint32]string
	DLRR            []DLRRInfo
	ReceiverRefTime map[uint32]uint64 // sender SSRC -> NTP timestamp
	GoodbyeSSRCs    []uint32
}

// SenderReportInfo mirrors the fields of an RFC 3550 SR needed to
// recover capture-clock mapping and reception stats.
type SenderReportInfo struct {
	SSRC        uint32
	NTPTime     uint64
	RTPTime     uint32
	PacketCount uint32
	OctetCount  uint32
	Receptions  []ReceptionStats
}

// ReceiverReportInfo mirrors the fields of an RFC 3550 RR.
type ReceiverReportInfo struct {
	SSRC       uint32
	Receptions []ReceptionStats
}

// DLRRInfo mirrors one RFC 3611 DLRR sub-block: the reporter (carried
// in the enclosing XR's SenderSSRC) is telling us how long it held our
// SR before replying.
type DLRRInfo struct {
	ReporterSSRC uint32
	OfSSRC       uint32
	LastRR       uint32
	DLRR         uint32
}

// Parser decodes a raw compound RTCP payload.
type Parser struct{}

// NewParser returns a Parser. It carries no state: RTCP packets are
// self-contained on the wire, unlike RTP/FEC framing.
func NewParser() *Parser { return &Parser{} }

// Parse decodes raw into a Report. It never panics on malformed input:
// truncated or inconsistent compound packets return an error with
// status code BadFormat.
func (pr *Parser) Parse(raw []byte) (Report, error) {
	pkts, err := rtcp.Unmarshal(raw)
	if err != nil {
		return Report{}, status.Wrap(status.BadFormat, "rtcp parse", err)
	}

	report := Report{CNAMEs: map[uint32]string{}, ReceiverRefTime: map[uint32]uint64{}}
	for _, pkt := range pkts {
		switch v := pkt.(type) {
		case *rtcp.SenderReport:
			report.SenderReports = append(report.SenderReports, SenderReportInfo{
				SSRC:        v.SSRC,
				NTPTime:     v.NTPTime,
				RTPTime:     v.RTPTime,
				PacketCount: v.PacketCount,
				OctetCount:  v.OctetCount,
				Receptions:  fromReceptionReports(v.Reports),
			})
		case *rtcp.ReceiverReport:
			report.ReceiverReports = append(report.ReceiverReports, ReceiverReportInfo{
				SSRC:       v.SSRC,
				Receptions: fromReceptionReports(v.Reports),
			})
		case *rtcp.SourceDescription:
			for _, chunk := range v.Chunks {
				for _, item := range chunk.Items {
					if item.Type == rtcp.SDESCNAME {
						report.CNAMEs[chunk.Source] = item.Text
					}
				}
			}
		case *rtcp.ExtendedReport:
			for _, block := range v.Reports {
				switch b := block.(type) {
				case *rtcp.DLRRReportBlock:
					for _, d := range b.Reports {
						report.DLRR = append(report.DLRR, DLRRInfo{
							ReporterSSRC: v.SenderSSRC,
							OfSSRC:       d.SSRC,
							LastRR:       d.LastRR,
							DLRR:         d.DLRR,
						})
					}
				case *rtcp.ReceiverReferenceTimeReportBlock:
					report.ReceiverRefTime[v.SenderSSRC] = b.NTPTimestamp
				}
			}
		case *rtcp.Goodbye:
			report.GoodbyeSSRCs = append(report.GoodbyeSSRCs, v.Sources...)
		}
	}
	return report, nil
}

func fromReceptionReports(rr []rtcp.ReceptionReport) []ReceptionStats {
	out := make([]ReceptionStats, 0, len(rr))
	for _, r := range rr {
		out = append(out, ReceptionStats{
			SourceSSRC:       r.SSRC,
			FractionLost:     r.FractionLost,
			CumulativeLost:   r.TotalLost,
			HighestSeqNum:    r.LastSequenceNumber,
			Jitter:           r.Jitter,
			LastSRCompactNTP: r.LastSenderReport,
			DelaySinceLastSR: r.Delay,
		})
	}
	return out
}
