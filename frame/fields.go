package frame

import "encoding/binary"

// Boolean-as-byte: 0x00 is false, 0xff is true, anything else is treated as
// unknown by ParseBool.

const (
	BoolFalse uint8 = 0x00
	BoolTrue  uint8 = 0xff
)

func ParseBool(b uint8) (bool, bool) {
	switch b {
	case BoolFalse:
		return false, true
	case BoolTrue:
		return true, true
	default:
		return false, false
	}
}

func EncodeBool(v bool) uint8 {
	if v {
		return BoolTrue
	}

	return BoolFalse
}

// ParseCount reads a count field whose width is version gated: a single
// byte on early versions, two bytes big-endian once wide. Returns the count
// and the number of bytes consumed; ok is false if data is too short.
func ParseCount(data []byte, wide bool) (count uint16, consumed int, ok bool) {
	if wide {
		if len(data) < 2 {
			return 0, 0, false
		}

		return binary.BigEndian.Uint16(data), 2, true
	}

	if len(data) < 1 {
		return 0, 0, false
	}

	return uint16(data[0]), 1, true
}

// EncodeCount appends the version gated wire form of count to data. Narrow
// counts above 255 saturate at 255.
func EncodeCount(data []byte, count uint16, wide bool) []byte {
	if wide {
		return binary.BigEndian.AppendUint16(data, count)
	}

	if count > 0xff {
		count = 0xff
	}

	return append(data, uint8(count))
}

// Packed day/time byte pair: the first byte carries the day of week (1-7,
// 0 unknown) in its top three bits and the hour (0-23) in the bottom five,
// the second byte is the minute (0-59).

func ParseDayTime(b0 uint8, b1 uint8) (weekday uint8, hour uint8, minute uint8, ok bool) {
	weekday = (b0 >> 5) & 0x07
	hour = b0 & 0x1f
	minute = b1

	return weekday, hour, minute, hour <= 23 && minute <= 59
}

func EncodeDayTime(weekday uint8, hour uint8, minute uint8) (uint8, uint8) {
	return ((weekday & 0x07) << 5) | (hour & 0x1f), minute
}
