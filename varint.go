// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import "fmt"

// putUvarint appends the unsigned LEB128 encoding of v to buf, 7 payload
// bits per byte, MSB set on every byte but the last.
func putUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// takeUvarint reads an unsigned LEB128 value starting at buf[pos],
// returning the value and the position just past it. It fails with
// ErrCorruptedData on truncation or if more than 63 bits of shift would
// be needed (a malformed, arbitrarily long continuation run).
func takeUvarint(buf []byte, pos int) (uint64, int, error) {
	var v uint64
	var shift uint
	for {
		if pos >= len(buf) {
			return 0, 0, fmt.Errorf("%w: truncated varint", ErrCorruptedData)
		}
		b := buf[pos]
		pos++
		if shift >= 63 && b > 1 {
			return 0, 0, fmt.Errorf("%w: varint overflow", ErrCorruptedData)
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, pos, nil
		}
		shift += 7
	}
}

// zigzagEncode maps a signed integer onto an unsigned one so that small
// magnitudes (positive or negative) stay small: (n<<1) XOR (n>>63).
func zigzagEncode(n int64) uint64 {
	return (uint64(n) << 1) ^ uint64(n>>63)
}

// zigzagDecode reverses zigzagEncode.
func zigzagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

func putVarint(buf []byte, n int64) []byte {
	return putUvarint(buf, zigzagEncode(n))
}

func takeVarint(buf []byte, pos int) (int64, int, error) {
	u, next, err := takeUvarint(buf, pos)
	if err != nil {
		return 0, 0, err
	}
	return zigzagDecode(u), next, nil
}
