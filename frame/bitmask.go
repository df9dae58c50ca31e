package frame

import "sort"

// ParseBitmask expands consecutive mask bytes into the set of enumerated
// values whose bit is set: bit b of byte n is value n*8 + b. The result is
// in ascending order.
func ParseBitmask(data []byte) []uint {
	var values []uint

	for n, b := range data {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				values = append(values, uint(n*8+bit))
			}
		}
	}

	return values
}

// EncodeBitmask packs a set of enumerated values into mask bytes, the
// inverse of ParseBitmask. The result is at least length bytes long,
// growing as needed to hold the largest value.
func EncodeBitmask(values []uint, length int) []byte {
	data := make([]byte, length)

	for _, v := range values {
		n := int(v / 8)

		for n >= len(data) {
			data = append(data, 0)
		}

		data[n] |= 1 << (v % 8)
	}

	return data
}

// BitmaskContains reports whether value is present in an ascending set, as
// produced by ParseBitmask.
func BitmaskContains(values []uint, value uint) bool {
	i := sort.Search(len(values), func(i int) bool { return values[i] >= value })
	return i < len(values) && values[i] == value
}
