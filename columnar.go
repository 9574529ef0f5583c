// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"fmt"
	"math/bits"
)

// ColumnEncoding is the per-column wire tag chosen by the columnar
// analyzer.
type ColumnEncoding byte

const (
	ColumnRaw        ColumnEncoding = 0
	ColumnVarint     ColumnEncoding = 1
	ColumnDelta      ColumnEncoding = 2
	ColumnDictionary ColumnEncoding = 3
	ColumnRunLength  ColumnEncoding = 4
	ColumnBitPacked  ColumnEncoding = 5
)

// EncodeColumnar transposes a homogeneous array of objects into the
// columnar block format: row_count, column_count, then per column a
// name, encoding tag, optional null bitmap, and encoded data.
func EncodeColumnar(elemType FieldType, rows []map[string]interface{}) ([]byte, error) {
	if elemType.ID != TypeObject {
		return nil, fmt.Errorf("%w: columnar requires an object element type", ErrEncodeError)
	}
	buf := putUvarint(nil, uint64(len(rows)))
	buf = putUvarint(buf, uint64(len(elemType.Fields)))

	for _, f := range elemType.Fields {
		col := extractColumn(rows, f.Name)
		var err error
		buf, err = encodeColumn(buf, f, col)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

type columnValue struct {
	v       interface{}
	nonnull bool
}

func extractColumn(rows []map[string]interface{}, name string) []columnValue {
	out := make([]columnValue, len(rows))
	for i, row := range rows {
		v, ok := row[name]
		out[i] = columnValue{v: v, nonnull: ok && v != nil}
	}
	return out
}

func encodeColumn(buf []byte, f FieldDef, col []columnValue) ([]byte, error) {
	buf = encodeLenPrefixed(buf, []byte(f.Name))

	hasNull := false
	for _, c := range col {
		if !c.nonnull {
			hasNull = true
			break
		}
	}

	nonnull := make([]columnValue, 0, len(col))
	for _, c := range col {
		if c.nonnull {
			nonnull = append(nonnull, c)
		}
	}

	encoding, intVals := chooseEncoding(f.Type, nonnull)

	buf = append(buf, byte(encoding))
	if hasNull {
		buf = append(buf, 1)
		bitmap := packNullBitmap(col)
		buf = putUvarint(buf, uint64(len(bitmap)))
		buf = append(buf, bitmap...)
	} else {
		buf = append(buf, 0)
	}

	data, err := encodeColumnData(f.Type, encoding, nonnull, intVals)
	if err != nil {
		return nil, err
	}
	buf = putUvarint(buf, uint64(len(data)))
	buf = append(buf, data...)
	return buf, nil
}

// packNullBitmap writes one bit per row (1 = present), little-endian
// bit order within each byte, sized to the smallest byte count.
func packNullBitmap(col []columnValue) []byte {
	out := make([]byte, (len(col)+7)/8)
	for i, c := range col {
		if c.nonnull {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// chooseEncoding runs the integer-column cost analysis or
// picks Dictionary for low-cardinality strings, else Raw.
func chooseEncoding(ft FieldType, nonnull []columnValue) (ColumnEncoding, []int64) {
	if ft.ID.isInteger() && len(nonnull) > 0 {
		vals := make([]int64, 0, len(nonnull))
		ok := true
		for _, c := range nonnull {
			n, err := toInt64(c.v)
			if err != nil {
				ok = false
				break
			}
			vals = append(vals, n)
		}
		if ok {
			return chooseIntEncoding(vals), vals
		}
	}
	if ft.ID == TypeString && len(nonnull) > 0 {
		distinct := map[string]bool{}
		for _, c := range nonnull {
			if s, ok := c.v.(string); ok {
				distinct[s] = true
			}
		}
		if len(distinct) > 0 && len(distinct)*2 < len(nonnull) {
			return ColumnDictionary, nil
		}
	}
	return ColumnRaw, nil
}

// chooseIntEncoding picks the cheapest of Varint, Delta, BitPacked by
// estimated encoded size, requiring at least 4 values to consider
// bit-packing.
func chooseIntEncoding(vals []int64) ColumnEncoding {
	rawCost := 0
	for _, v := range vals {
		rawCost += varintLen(zigzagEncode(v))
	}

	deltaCost := varintLen(zigzagEncode(vals[0]))
	for i := 1; i < len(vals); i++ {
		deltaCost += varintLen(zigzagEncode(vals[i] - vals[i-1]))
	}

	bitCost := -1
	if len(vals) >= 4 {
		min, max := vals[0], vals[0]
		for _, v := range vals {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		span := uint64(max - min + 1)
		nbits := 1
		if span > 1 {
			nbits = bits.Len64(span - 1)
			if nbits == 0 {
				nbits = 1
			}
		}
		bitCost = (nbits*len(vals) + 7) / 8
	}

	best := ColumnVarint
	bestCost := rawCost
	if deltaCost < bestCost {
		best = ColumnDelta
		bestCost = deltaCost
	}
	if bitCost >= 0 && bitCost < bestCost {
		best = ColumnBitPacked
	}
	return best
}

func varintLen(u uint64) int {
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

func encodeColumnData(ft FieldType, enc ColumnEncoding, nonnull []columnValue, intVals []int64) ([]byte, error) {
	var buf []byte
	buf = putUvarint(buf, uint64(len(nonnull)))

	switch enc {
	case ColumnVarint:
		for _, v := range intVals {
			buf = putVarint(buf, v)
		}
		return buf, nil

	case ColumnDelta:
		if len(intVals) > 0 {
			buf = putVarint(buf, intVals[0])
			for i := 1; i < len(intVals); i++ {
				buf = putVarint(buf, intVals[i]-intVals[i-1])
			}
		}
		return buf, nil

	case ColumnBitPacked:
		min := intVals[0]
		max := intVals[0]
		for _, v := range intVals {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		span := uint64(max - min + 1)
		nbits := 1
		if span > 1 {
			nbits = bits.Len64(span - 1)
		}
		buf = append(buf, byte(nbits))
		buf = putVarint(buf, min)
		packed := packBits(intVals, min, nbits)
		buf = append(buf, packed...)
		return buf, nil

	case ColumnDictionary:
		dict := make([]string, 0)
		index := make(map[string]int)
		for _, c := range nonnull {
			s, _ := c.v.(string)
			if _, ok := index[s]; !ok {
				index[s] = len(dict)
				dict = append(dict, s)
			}
		}
		buf = putUvarint(buf, uint64(len(dict)))
		for _, s := range dict {
			buf = encodeLenPrefixed(buf, []byte(s))
		}
		for _, c := range nonnull {
			s, _ := c.v.(string)
			buf = putUvarint(buf, uint64(index[s]))
		}
		return buf, nil

	case ColumnRunLength:
		// Reserved: tag is emitted, data is undefined in this version.
		return buf, nil

	default: // ColumnRaw
		var err error
		for _, c := range nonnull {
			buf, err = encodeValue(buf, ft, c.v)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	}
}

// packBits bit-packs (v-min) for each v into nbits-wide little-endian
// fields, LSB-first within the byte stream.
func packBits(vals []int64, min int64, nbits int) []byte {
	total := nbits * len(vals)
	out := make([]byte, (total+7)/8)
	bitpos := 0
	for _, v := range vals {
		u := uint64(v - min)
		for b := 0; b < nbits; b++ {
			if u&(1<<uint(b)) != 0 {
				out[bitpos/8] |= 1 << uint(bitpos%8)
			}
			bitpos++
		}
	}
	return out
}

func unpackBits(data []byte, count, nbits int) []uint64 {
	out := make([]uint64, count)
	bitpos := 0
	for i := 0; i < count; i++ {
		var u uint64
		for b := 0; b < nbits; b++ {
			idx := bitpos / 8
			if idx < len(data) && data[idx]&(1<<uint(bitpos%8)) != 0 {
				u |= 1 << uint(b)
			}
			bitpos++
		}
		out[i] = u
	}
	return out
}

// DecodeColumnar reverses EncodeColumnar, reconstructing the row slice.
func DecodeColumnar(elemType FieldType, buf []byte) ([]map[string]interface{}, int, error) {
	if elemType.ID != TypeObject {
		return nil, 0, fmt.Errorf("%w: columnar requires an object element type", ErrDecodeError)
	}
	rowCount, pos, err := takeUvarint(buf, 0)
	if err != nil {
		return nil, 0, err
	}
	colCount, pos2, err := takeUvarint(buf, pos)
	if err != nil {
		return nil, 0, err
	}
	pos = pos2

	rows := make([]map[string]interface{}, rowCount)
	for i := range rows {
		rows[i] = make(map[string]interface{}, colCount)
	}

	fieldByName := make(map[string]FieldDef, len(elemType.Fields))
	for _, f := range elemType.Fields {
		fieldByName[f.Name] = f
	}

	for c := uint64(0); c < colCount; c++ {
		name, next, err := decodeLenPrefixed(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		pos = next
		if pos >= len(buf) {
			return nil, 0, fmt.Errorf("%w: truncated column encoding tag", ErrDecodeError)
		}
		enc := ColumnEncoding(buf[pos])
		pos++
		if pos >= len(buf) {
			return nil, 0, fmt.Errorf("%w: truncated null-bitmap flag", ErrDecodeError)
		}
		hasBitmap := buf[pos] != 0
		pos++

		var bitmap []byte
		if hasBitmap {
			bmLen, next, err := takeUvarint(buf, pos)
			if err != nil {
				return nil, 0, err
			}
			pos = next
			if pos+int(bmLen) > len(buf) {
				return nil, 0, fmt.Errorf("%w: truncated null bitmap", ErrDecodeError)
			}
			bitmap = buf[pos : pos+int(bmLen)]
			pos += int(bmLen)
		}

		dataLen, next, err := takeUvarint(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		pos = next
		if pos+int(dataLen) > len(buf) {
			return nil, 0, fmt.Errorf("%w: truncated column data", ErrDecodeError)
		}
		data := buf[pos : pos+int(dataLen)]
		pos += int(dataLen)

		f, ok := fieldByName[string(name)]
		if !ok {
			f = FieldDef{Name: string(name), Type: StringType}
		}

		values, err := decodeColumnData(f.Type, enc, data, int(rowCount), bitmap, hasBitmap)
		if err != nil {
			return nil, 0, err
		}
		for i := 0; i < int(rowCount); i++ {
			if values[i] != absentMarker {
				rows[i][f.Name] = values[i]
			}
		}
	}

	return rows, pos, nil
}

func bitSet(bitmap []byte, i int) bool {
	if bitmap == nil {
		return true
	}
	idx := i / 8
	if idx >= len(bitmap) {
		return false
	}
	return bitmap[idx]&(1<<uint(i%8)) != 0
}

func decodeColumnData(ft FieldType, enc ColumnEncoding, data []byte, rowCount int, bitmap []byte, hasBitmap bool) ([]interface{}, error) {
	nonnullCount, pos, err := takeUvarint(data, 0)
	if err != nil {
		return nil, err
	}

	var nonnullValues []interface{}

	switch enc {
	case ColumnVarint:
		nonnullValues = make([]interface{}, nonnullCount)
		for i := range nonnullValues {
			n, next, err := takeVarint(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			nonnullValues[i] = n
		}

	case ColumnDelta:
		nonnullValues = make([]interface{}, nonnullCount)
		var prev int64
		for i := uint64(0); i < nonnullCount; i++ {
			n, next, err := takeVarint(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			if i == 0 {
				prev = n
			} else {
				prev += n
			}
			nonnullValues[i] = prev
		}

	case ColumnBitPacked:
		if pos >= len(data) {
			return nil, fmt.Errorf("%w: truncated bit-packed width", ErrDecodeError)
		}
		nbits := int(data[pos])
		pos++
		min, next, err := takeVarint(data, pos)
		if err != nil {
			return nil, err
		}
		pos = next
		raw := unpackBits(data[pos:], int(nonnullCount), nbits)
		nonnullValues = make([]interface{}, nonnullCount)
		for i, u := range raw {
			nonnullValues[i] = min + int64(u)
		}

	case ColumnDictionary:
		dictCount, next, err := takeUvarint(data, pos)
		if err != nil {
			return nil, err
		}
		pos = next
		dict := make([]string, dictCount)
		for i := range dict {
			raw, n, err := decodeLenPrefixed(data, pos)
			if err != nil {
				return nil, err
			}
			pos = n
			dict[i] = string(raw)
		}
		nonnullValues = make([]interface{}, nonnullCount)
		for i := range nonnullValues {
			idx, next, err := takeUvarint(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			if int(idx) >= len(dict) {
				return nil, fmt.Errorf("%w: dictionary index out of range", ErrDecodeError)
			}
			nonnullValues[i] = dict[idx]
		}

	case ColumnRunLength:
		nonnullValues = make([]interface{}, nonnullCount)

	default: // ColumnRaw
		nonnullValues = make([]interface{}, nonnullCount)
		for i := range nonnullValues {
			v, next, err := decodeValue(data, pos, ft)
			if err != nil {
				return nil, err
			}
			pos = next
			nonnullValues[i] = v
		}
	}

	out := make([]interface{}, rowCount)
	ni := 0
	for i := 0; i < rowCount; i++ {
		if bitSet(bitmap, i) || !hasBitmap {
			if ni < len(nonnullValues) {
				out[i] = nonnullValues[ni]
				ni++
			} else {
				out[i] = absentMarker
			}
		} else {
			out[i] = absentMarker
		}
	}
	return out, nil
}
