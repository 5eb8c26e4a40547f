package rtcp

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/rocpipe/internal/packet"
)

const (
	minReportInterval = 1 * time.Second
	// bandwidthFraction approximates RFC 3550's "RTCP is 5% of session
	// bandwidth" rule of thumb. It does not enter the interval: reports
	// are scheduled every minReportInterval unless SetInterval is called,
	// and nothing derives the interval from packet size or session count.
	bandwidthFraction = 0.05
)

// Role distinguishes the two RFC 3550 report shapes a participant may
// emit; a bidirectional endpoint (rare in this pipeline, common on a
// duplex device) is represented by two Participants sharing an SSRC.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

// Participant runs one endpoint's half of the RTCP dialogue: it
// schedules compound packets, remembers what it last told the peer,
// and folds the peer's reports back into RTT/clock-sync state (spec.md
// §4.6).
type Participant struct {
	role  Role
	ssrc  uint32
	cname string

	composer *Composer
	parser   *Parser
	log      *slog.Logger

	interval time.Duration
	nextDue  time.Time

	// sender-side clock mapping, refreshed on each SR we compose
	lastRTPTime uint32
	lastNTPTime time.Time

	// receiver-side state carried from the last SR we saw, needed to
	// build the DLRR echo in our next RR/XR
	peerSSRC         uint32
	lastSRSeen       time.Time
	lastSRCompactNTP uint32

	rtt      time.Duration
	rttValid bool
}

// NewParticipant returns a Participant for one local SSRC. cname is
// generated from a random UUID when empty, matching RFC 3550 §6.5.1's
// requirement that CNAME be persistent and collision-resistant across
// the session's lifetime.
func NewParticipant(role Role, ssrc uint32, cname string, factory *packet.Factory) *Participant {
	if cname == "" {
		cname = uuid.NewString()
	}
	return &Participant{
		role:     role,
		ssrc:     ssrc,
		cname:    cname,
		composer: NewComposer(factory),
		parser:   NewParser(),
		log:      slog.Default().With("component", "RTCPParticipant"),
		interval: minReportInterval,
	}
}

// CNAME returns this participant's canonical name.
func (p *Participant) CNAME() string { return p.cname }

// NextDeadline returns when this participant should next emit a
// compound packet, for the pipeline loop's refresh-tick scheduling
// (spec.md §4.7).
func (p *Participant) NextDeadline() time.Time { return p.nextDue }

// SetInterval adjusts the report interval, e.g. as average packet size
// or bandwidth share estimates change; clamped to minReportInterval.
func (p *Participant) SetInterval(d time.Duration) {
	if d < minReportInterval {
		d = minReportInterval
	}
	p.interval = d
}

// RTT returns the most recently measured round-trip time and whether
// one has ever been measured.
func (p *Participant) RTT() (time.Duration, bool) { return p.rtt, p.rttValid }

// NoteSent records that a packet with the given RTP timestamp was
// composed at ntpTime, establishing the SR clock mapping a subsequent
// Compose call will advertise.
func (p *Participant) NoteSent(rtpTime uint32, ntpTime time.Time) {
	p.lastRTPTime = rtpTime
	p.lastNTPTime = ntpTime
}

// ComposeSend builds this sender's next compound packet (SR + SDES,
// BYE if leaving) and advances the schedule.
func (p *Participant) ComposeSend(now time.Time, packetCount, octetCount uint32, receptions []ReceptionStats, leaving bool) (*packet.Packet, error) {
	out, err := p.composer.ComposeSender(SendReport{
		SSRC:        p.ssrc,
		CNAME:       p.cname,
		NTPTime:     p.lastNTPTime,
		RTPTime:     p.lastRTPTime,
		PacketCount: packetCount,
		OctetCount:  octetCount,
		Receptions:  receptions,
	}, leaving)
	if err != nil {
		return nil, err
	}
	p.nextDue = now.Add(p.interval)
	return out, nil
}

// ComposeRecv builds this receiver's next compound packet (RR + SDES,
// plus an XR DLRR/receiver-reference-time echo once a peer SR has been
// observed) and advances the schedule.
func (p *Participant) ComposeRecv(now time.Time, receptions []ReceptionStats, leaving bool) (*packet.Packet, error) {
	out, err := p.composer.ComposeReceiver(RecvReport{
		SSRC:              p.ssrc,
		CNAME:             p.cname,
		Receptions:        receptions,
		LastSRSeen:        p.lastSRSeen,
		LastSRCompactNTP:  p.lastSRCompactNTP,
		ReceiverRefTimeOf: p.peerSSRC,
	}, now, leaving)
	if err != nil {
		return nil, err
	}
	p.nextDue = now.Add(p.interval)
	return out, nil
}

// Ingest decodes a raw compound RTCP payload from the peer and folds
// it into this participant's clock/RTT state. It returns the decoded
// Report so the caller (typically the session) can update jitter/loss
// metrics from the reception blocks.
func (p *Participant) Ingest(raw []byte, now time.Time) (Report, error) {
	report, err := p.parser.Parse(raw)
	if err != nil {
		return Report{}, err
	}

	for _, sr := range report.SenderReports {
		p.peerSSRC = sr.SSRC
		p.lastSRSeen = now
		p.lastSRCompactNTP = CompactNTP(sr.NTPTime)
	}

	for _, d := range report.DLRR {
		if d.OfSSRC != p.ssrc {
			continue
		}
		rtt := RTTFromCompact(now, d.LastRR, d.DLRR)
		if rtt > 0 {
			p.rtt = rtt
			p.rttValid = true
			p.log.Debug("rtt updated", "rtt", rtt, "peer_ssrc", d.ReporterSSRC)
		}
	}

	return report, nil
}
