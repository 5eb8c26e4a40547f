package rtcp

import "time"

// NTP epoch (1900-01-01) offset from the Unix epoch, in seconds.
const ntpEpochOffset = 2208988800

// ToNTP converts a wall-clock instant into the 64-bit fixed-point NTP
// timestamp format carried by RTCP sender reports and XR
// receiver-reference-time blocks.
func ToNTP(t time.Time) uint64 {
	sec := uint64(t.Unix()+ntpEpochOffset) << 32
	frac := (uint64(t.Nanosecond()) << 32) / 1e9
	return sec | frac
}

// FromNTP converts a 64-bit NTP timestamp back into a wall-clock
// instant.
func FromNTP(ntp uint64) time.Time {
	sec := int64(ntp>>32) - ntpEpochOffset
	frac := ntp & 0xFFFFFFFF
	nsec := (frac * 1e9) >> 32
	return time.Unix(sec, int64(nsec))
}

// CompactNTP truncates a 64-bit NTP timestamp to the 32-bit "middle
// 32 bits" form used by SR last-sender-report and XR DLRR fields.
func CompactNTP(ntp uint64) uint32 {
	return uint32(ntp >> 16)
}

// RTTFromCompact computes a round trip time from a compact-NTP
// timestamp pair the way an SR/RR LastSenderReport+Delay pair or an XR
// DLRR LastRR+DLRR pair encode it: the peer echoes back when it saw
// our timestamp (lastRR) and how long it sat before replying (delay),
// both in 1/65536-second compact-NTP units, and RTT is what elapsed on
// our side minus that hold time.
func RTTFromCompact(now time.Time, lastRR, delay uint32) time.Duration {
	if lastRR == 0 {
		return 0
	}
	nowCompact := CompactNTP(ToNTP(now))
	elapsed := nowCompact - lastRR
	if elapsed < delay {
		return 0
	}
	return time.Duration(elapsed-delay) * time.Second / (1 << 16)
}
