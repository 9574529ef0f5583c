// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"fmt"
	"sort"
)

// Entropy codec constants.
const (
	entropyMagic      = 0xE7
	entropyFlagNibble = 0
	entropyFlagSingle = 1
	entropyFlagRaw    = 2
	entropyEscape     = 15
)

// EntropyCompress counts byte frequencies, ranks symbols by descending
// frequency, and nibble-codes the input against that ranking. It
// always picks the cheapest of the three container forms: single-
// symbol, nibble, or raw pass-through.
func EntropyCompress(input []byte) []byte {
	out := make([]byte, 0, len(input)+6)
	out = append(out, entropyMagic)
	out = appendUint32(out, uint32(len(input)))

	if len(input) == 0 {
		return append(out, entropyFlagRaw)
	}

	freq := [256]int{}
	for _, b := range input {
		freq[b]++
	}
	distinct := 0
	var only byte
	for sym, c := range freq {
		if c > 0 {
			distinct++
			only = byte(sym)
		}
	}
	if distinct == 1 {
		out = append(out, entropyFlagSingle)
		return append(out, only)
	}

	rank := rankSymbols(freq)
	nibbleForm := encodeNibbles(input, rank)

	// The nibble body also carries the count byte and the symbol table.
	if 1+len(rank)+len(nibbleForm) >= len(input) {
		out = append(out, entropyFlagRaw)
		return append(out, input...)
	}

	out = append(out, entropyFlagNibble)
	// Symbol count is stored as (count-1) so the full 1..256 range of
	// distinct byte values fits in one byte (256 itself would overflow
	// a raw byte(count)).
	out = append(out, byte(len(rank)-1))
	out = append(out, rank...)
	out = append(out, nibbleForm...)
	return out
}

// rankSymbols returns the distinct symbols present in freq sorted by
// descending frequency, breaking ties by ascending symbol value for
// determinism.
func rankSymbols(freq [256]int) []byte {
	var symbols []byte
	for sym, c := range freq {
		if c > 0 {
			symbols = append(symbols, byte(sym))
		}
	}
	sort.Slice(symbols, func(i, j int) bool {
		if freq[symbols[i]] != freq[symbols[j]] {
			return freq[symbols[i]] > freq[symbols[j]]
		}
		return symbols[i] < symbols[j]
	})
	return symbols
}

// encodeNibbles writes, per input byte, rank 0-14 as one nibble or
// nibble 15 (escape) followed by the 8-bit rank as two nibbles, then
// packs the nibble stream big-nibble-first into bytes.
func encodeNibbles(input []byte, rank []byte) []byte {
	rankOf := make(map[byte]int, len(rank))
	for i, s := range rank {
		rankOf[s] = i
	}

	var nibbles []byte
	for _, b := range input {
		r := rankOf[b]
		if r < entropyEscape {
			nibbles = append(nibbles, byte(r))
		} else {
			nibbles = append(nibbles, entropyEscape, byte(r>>4), byte(r&0x0F))
		}
	}

	out := make([]byte, 0, (len(nibbles)+1)/2)
	for i := 0; i < len(nibbles); i += 2 {
		hi := nibbles[i]
		lo := byte(0)
		if i+1 < len(nibbles) {
			lo = nibbles[i+1]
		}
		out = append(out, hi<<4|lo)
	}
	return out
}

// EntropyDecompress reverses EntropyCompress.
func EntropyDecompress(buf []byte) ([]byte, error) {
	if len(buf) < 6 {
		return nil, fmt.Errorf("%w: entropy container truncated", ErrBufferTooSmall)
	}
	if buf[0] != entropyMagic {
		return nil, fmt.Errorf("%w: bad entropy magic", ErrInvalidBlock)
	}
	origLen := int(readUint32(buf, 1))
	flag := buf[5]
	body := buf[6:]

	switch flag {
	case entropyFlagRaw:
		if len(body) != origLen {
			return nil, fmt.Errorf("%w: raw entropy length mismatch", ErrCorruptedData)
		}
		out := make([]byte, origLen)
		copy(out, body)
		return out, nil

	case entropyFlagSingle:
		if origLen > 0 && len(body) < 1 {
			return nil, fmt.Errorf("%w: single-symbol entropy truncated", ErrCorruptedData)
		}
		out := make([]byte, origLen)
		if origLen > 0 {
			sym := body[0]
			for i := range out {
				out[i] = sym
			}
		}
		return out, nil

	case entropyFlagNibble:
		if len(body) < 1 {
			return nil, fmt.Errorf("%w: nibble entropy truncated", ErrCorruptedData)
		}
		symCount := int(body[0]) + 1
		pos := 1
		if pos+symCount > len(body) {
			return nil, fmt.Errorf("%w: nibble symbol table truncated", ErrCorruptedData)
		}
		symbols := body[pos : pos+symCount]
		pos += symCount
		packed := body[pos:]

		out := make([]byte, 0, origLen)
		cursor := 0 // nibble index
		for len(out) < origLen {
			r, next, err := readNibbleRank(packed, cursor, symCount)
			if err != nil {
				return nil, err
			}
			cursor = next
			if r < 0 || r >= len(symbols) {
				return nil, fmt.Errorf("%w: nibble rank out of range", ErrDecodeError)
			}
			out = append(out, symbols[r])
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown entropy flag %d", ErrInvalidBlock, flag)
	}
}

// readNibbleRank reads one symbol rank starting at nibble index
// cursor, returning the rank and the next nibble index.
func readNibbleRank(packed []byte, cursor int, symCount int) (int, int, error) {
	hi, err := readNibble(packed, cursor)
	if err != nil {
		return 0, 0, err
	}
	if hi != entropyEscape {
		return int(hi), cursor + 1, nil
	}
	a, err := readNibble(packed, cursor+1)
	if err != nil {
		return 0, 0, err
	}
	b, err := readNibble(packed, cursor+2)
	if err != nil {
		return 0, 0, err
	}
	rank := int(a)<<4 | int(b)
	if rank >= symCount {
		return 0, 0, fmt.Errorf("%w: escaped rank exceeds symbol count", ErrDecodeError)
	}
	return rank, cursor + 3, nil
}

func readNibble(packed []byte, cursor int) (byte, error) {
	byteIdx := cursor / 2
	if byteIdx >= len(packed) {
		return 0, fmt.Errorf("%w: truncated nibble stream", ErrCorruptedData)
	}
	if cursor%2 == 0 {
		return packed[byteIdx] >> 4, nil
	}
	return packed[byteIdx] & 0x0F, nil
}
