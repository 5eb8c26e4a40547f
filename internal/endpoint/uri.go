// Package endpoint parses and validates the URI form the pipeline uses
// to name a network endpoint (spec.md §6), allocates the port pairs
// they bind to, and composes the minimal SDP capability description
// the rtsp protocol variant carries.
package endpoint

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Protocol identifies one of the endpoint URI schemes spec.md §6
// names.
type Protocol string

const (
	ProtoRTP     Protocol = "rtp"
	ProtoRTPRS8M Protocol = "rtp+rs8m"
	ProtoRS8M    Protocol = "rs8m"
	ProtoRTPLDPC Protocol = "rtp+ldpc"
	ProtoLDPC    Protocol = "ldpc"
	ProtoRTCP    Protocol = "rtcp"
	ProtoRTSP    Protocol = "rtsp"
)

// role classifies whether a protocol carries source (audio) data, FEC
// repair data, or control traffic, which is what the pairing
// constraint below actually checks.
type role int

const (
	roleSource role = iota
	roleRepair
	roleControl
)

var protocolTable = map[Protocol]role{
	ProtoRTP:     roleSource,
	ProtoRTPRS8M: roleSource,
	ProtoRS8M:    roleRepair,
	ProtoRTPLDPC: roleSource,
	ProtoLDPC:    roleRepair,
	ProtoRTCP:    roleControl,
	ProtoRTSP:    roleControl,
}

// fecFamily reports the FEC codec a source protocol requires a paired
// repair endpoint from, or "" if the protocol carries no FEC.
func (p Protocol) fecFamily() string {
	switch p {
	case ProtoRTPRS8M:
		return "rs8m"
	case ProtoRTPLDPC:
		return "ldpc"
	default:
		return ""
	}
}

func (p Protocol) matchesRepairFamily(repair Protocol) bool {
	switch repair {
	case ProtoRS8M:
		return p.fecFamily() == "rs8m"
	case ProtoLDPC:
		return p.fecFamily() == "ldpc"
	default:
		return false
	}
}

// URI is a parsed endpoint address: proto://host[:port][/path][?query].
type URI struct {
	Protocol Protocol
	Host     string
	Port     int // 0 = unspecified, caller/portpool assigns one
	Path     string
	Query    url.Values
}

// Parse validates and decomposes a raw endpoint URI string.
func Parse(raw string) (URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, fmt.Errorf("endpoint: invalid uri %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return URI{}, fmt.Errorf("endpoint: uri %q has no protocol", raw)
	}
	proto := Protocol(u.Scheme)
	if _, ok := protocolTable[proto]; !ok {
		return URI{}, fmt.Errorf("endpoint: unknown protocol %q", u.Scheme)
	}
	if u.Host == "" {
		return URI{}, fmt.Errorf("endpoint: uri %q has no host", raw)
	}

	host := u.Hostname()
	port := 0
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return URI{}, fmt.Errorf("endpoint: invalid port %q in %q", p, raw)
		}
		port = n
	}

	return URI{
		Protocol: proto,
		Host:     host,
		Port:     port,
		Path:     strings.TrimPrefix(u.Path, "/"),
		Query:    u.Query(),
	}, nil
}

// String reassembles the URI in canonical form.
func (u URI) String() string {
	var sb strings.Builder
	sb.WriteString(string(u.Protocol))
	sb.WriteString("://")
	sb.WriteString(u.Host)
	if u.Port != 0 {
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(u.Port))
	}
	if u.Path != "" {
		sb.WriteString("/")
		sb.WriteString(u.Path)
	}
	if len(u.Query) > 0 {
		sb.WriteString("?")
		sb.WriteString(u.Query.Encode())
	}
	return sb.String()
}

// IsFEC reports whether this URI's protocol requires a paired repair
// endpoint.
func (u URI) IsFEC() bool { return u.Protocol.fecFamily() != "" }

// ValidatePair checks the pairing constraint spec.md §6 states: a
// source endpoint using an FEC-carrying protocol must be paired with a
// repair endpoint of a compatible codec family; a bare rtp source
// endpoint must not have one.
func ValidatePair(source URI, repair *URI) error {
	if _, ok := protocolTable[source.Protocol]; !ok || protocolTable[source.Protocol] != roleSource {
		return fmt.Errorf("endpoint: %q is not a source protocol", source.Protocol)
	}

	if !source.IsFEC() {
		if repair != nil {
			return fmt.Errorf("endpoint: protocol %q carries no FEC, repair endpoint not allowed", source.Protocol)
		}
		return nil
	}

	if repair == nil {
		return fmt.Errorf("endpoint: protocol %q requires a repair endpoint", source.Protocol)
	}
	if protocolTable[repair.Protocol] != roleRepair {
		return fmt.Errorf("endpoint: %q is not a repair protocol", repair.Protocol)
	}
	if !source.Protocol.matchesRepairFamily(repair.Protocol) {
		return fmt.Errorf("endpoint: repair protocol %q does not match source protocol %q's FEC family", repair.Protocol, source.Protocol)
	}
	return nil
}

// IsControl reports whether the protocol is rtcp or rtsp.
func (u URI) IsControl() bool { return protocolTable[u.Protocol] == roleControl }
