package endpoint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// defaultSampleRate is assumed when a peer's rtpmap attribute omits
// the clock rate, which never happens for a well-formed L16 rtpmap but
// keeps ParseDescription total over adversarial input.
const defaultSampleRate = 44100

// Capability is the negotiated media shape an rtsp control endpoint
// advertises or accepts: payload type, sample rate, and channel count.
type Capability struct {
	PayloadType uint8
	SampleRate  uint32
	NumChannels int
}

// BuildDescription composes a minimal SDP session description
// advertising cap on host:port, the way the rtsp endpoint protocol
// carries capability negotiation per spec.md §6. Grounded on the
// teacher's SDP response builder, generalized from a fixed VoIP codec
// table to the pipeline's own payload-type/sample-rate pair.
func BuildDescription(host string, port int, cap Capability) ([]byte, error) {
	format := fmt.Sprintf("%d", cap.PayloadType)
	rtpmap := fmt.Sprintf("%d L16/%d/%d", cap.PayloadType, cap.SampleRate, cap.NumChannels)

	sess := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: host,
		},
		SessionName: "rocpipe stream",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: host},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{format},
			},
			Attributes: []sdp.Attribute{
				{Key: "rtpmap", Value: rtpmap},
				{Key: "sendrecv"},
			},
		}},
	}

	return sess.Marshal()
}

// ParseDescription extracts the negotiated Capability from a received
// SDP session description's first audio media section.
func ParseDescription(raw []byte) (Capability, error) {
	var sess sdp.SessionDescription
	if err := sess.Unmarshal(raw); err != nil {
		return Capability{}, fmt.Errorf("endpoint: parse sdp: %w", err)
	}
	for _, md := range sess.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		if len(md.MediaName.Formats) == 0 {
			continue
		}
		var pt uint8
		if _, err := fmt.Sscanf(md.MediaName.Formats[0], "%d", &pt); err != nil {
			continue
		}
		cap := Capability{PayloadType: pt, SampleRate: defaultSampleRate, NumChannels: 1}
		for _, attr := range md.Attributes {
			if attr.Key != "rtpmap" {
				continue
			}
			// attr.Value is "<pt> <encoding>/<rate>[/<channels>]".
			fields := strings.Fields(attr.Value)
			if len(fields) < 2 {
				continue
			}
			parts := strings.Split(fields[1], "/")
			if len(parts) >= 2 {
				if rate, err := strconv.ParseUint(parts[1], 10, 32); err == nil {
					cap.SampleRate = uint32(rate)
				}
			}
			if len(parts) >= 3 {
				if ch, err := strconv.Atoi(parts[2]); err == nil && ch > 0 {
					cap.NumChannels = ch
				}
			}
		}
		return cap, nil
	}
	return Capability{}, fmt.Errorf("endpoint: sdp has no audio media section")
}
