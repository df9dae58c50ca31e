package frame

import "time"

const (
	// DurationUnknown is reported by nodes that cannot estimate how long a
	// transition will take; 0xff carries the same meaning and doubles as
	// "use the factory default" on Set commands.
	DurationUnknown uint8 = 0xfe
	DurationDefault uint8 = 0xff

	durationSecondsMax   = 0x7f
	durationMinutesMax   = 0xfd
	durationMinutesPivot = 0x7f
)

// ParseDuration decodes a duration byte: 0 is immediate, 0x01-0x7f is that
// many seconds, 0x80-0xfd is (value - 0x7f) minutes and 0xfe/0xff mean the
// node does not know. The second return is false for the unknown values;
// the mapping is total and never fails.
func ParseDuration(b uint8) (time.Duration, bool) {
	switch {
	case b <= durationSecondsMax:
		return time.Duration(b) * time.Second, true
	case b <= durationMinutesMax:
		return time.Duration(b-durationMinutesPivot) * time.Minute, true
	default:
		return 0, false
	}
}

// EncodeDuration performs the inverse mapping, rounding to the coarsest
// resolution the wire form supports. Durations beyond 126 minutes are
// clamped; negative durations encode as immediate.
func EncodeDuration(d time.Duration) uint8 {
	if d <= 0 {
		return 0
	}

	if secs := d.Round(time.Second) / time.Second; secs <= durationSecondsMax {
		return uint8(secs)
	}

	mins := d.Round(time.Minute) / time.Minute
	if mins < 1 {
		mins = 1
	}

	if mins > durationMinutesMax-durationMinutesPivot {
		mins = durationMinutesMax - durationMinutesPivot
	}

	return uint8(mins) + durationMinutesPivot
}
