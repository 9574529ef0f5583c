// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EncodeObject writes obj field-by-field in schema order, omitting
// field names from the wire.
func EncodeObject(schema *Schema, obj map[string]interface{}) ([]byte, error) {
	buf := make([]byte, 0, 64)
	var err error
	for _, f := range schema.Fields {
		buf, err = encodeFieldDef(buf, f, obj)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DecodeObject reconstructs a generic JSON-shaped value from buf under
// schema, returning the number of bytes consumed.
func DecodeObject(schema *Schema, buf []byte) (map[string]interface{}, int, error) {
	out := make(map[string]interface{}, len(schema.Fields))
	pos := 0
	for _, f := range schema.Fields {
		v, next, err := decodeFieldDef(buf, pos, f)
		if err != nil {
			return nil, 0, err
		}
		pos = next
		if v != absentMarker {
			out[f.Name] = v
		}
	}
	return out, pos, nil
}

// absentMarker distinguishes "field legitimately decoded as JSON null"
// from "field was structurally absent", since both travel through the
// same interface{} return type.
var absentMarker = struct{}{}

func encodeFieldDef(buf []byte, f FieldDef, obj map[string]interface{}) ([]byte, error) {
	v, present := obj[f.Name]
	if f.Nullable {
		if !present {
			return append(buf, 0), nil
		}
		buf = append(buf, 1)
		return encodeValue(buf, f.Type, v)
	}
	if !present {
		return nil, fmt.Errorf("%w: missing required field %q", ErrEncodeError, f.Name)
	}
	return encodeValue(buf, f.Type, v)
}

func decodeFieldDef(buf []byte, pos int, f FieldDef) (interface{}, int, error) {
	if f.Nullable {
		if pos >= len(buf) {
			return nil, 0, fmt.Errorf("%w: truncated presence byte for %q", ErrDecodeError, f.Name)
		}
		present := buf[pos]
		pos++
		if present == 0 {
			return absentMarker, pos, nil
		}
	}
	return decodeValue(buf, pos, f.Type)
}

func encodeValue(buf []byte, ft FieldType, v interface{}) ([]byte, error) {
	switch ft.ID {
	case TypeNull:
		return buf, nil

	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: expected bool, got %T", ErrEncodeError, v)
		}
		if b {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil

	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return appendFixedInt(buf, ft.ID, n), nil

	case TypeIntVar:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return putVarint(buf, n), nil

	case TypeFloat32:
		f, err := toFloat64(v)
		if err != nil {
			return nil, err
		}
		bits := math.Float32bits(float32(f))
		return append(buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)), nil

	case TypeFloat64:
		f, err := toFloat64(v)
		if err != nil {
			return nil, err
		}
		bits := math.Float64bits(f)
		return appendUint64(buf, bits), nil

	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected string, got %T", ErrEncodeError, v)
		}
		return encodeLenPrefixed(buf, []byte(s)), nil

	case TypeBinary:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected hex string for binary, got %T", ErrEncodeError, v)
		}
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid hex in binary field: %v", ErrEncodeError, err)
		}
		return encodeLenPrefixed(buf, raw), nil

	case TypeArray:
		arr, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: expected array, got %T", ErrEncodeError, v)
		}
		buf = putUvarint(buf, uint64(len(arr)))
		var err error
		for _, elem := range arr {
			buf, err = encodeValue(buf, *ft.Elem, elem)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil

	case TypeObject:
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: expected object, got %T", ErrEncodeError, v)
		}
		var err error
		for _, f := range ft.Fields {
			buf, err = encodeFieldDef(buf, f, obj)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil

	case TypeUnion:
		idx := selectUnionMember(ft.Members, v)
		if idx < 0 {
			return nil, fmt.Errorf("%w: no union member accepts %T", ErrEncodeError, v)
		}
		buf = append(buf, byte(idx))
		return encodeValue(buf, ft.Members[idx], v)

	case TypeTimestamp:
		s, ok := v.(string)
		if ok {
			if millis, parsed := parseTimestampMillis(s); parsed && looksLikeISO8601(s) {
				buf = append(buf, 1)
				u := uint64(millis)
				return appendUint64(buf, u), nil
			}
			buf = append(buf, 0)
			return encodeLenPrefixed(buf, []byte(s)), nil
		}
		return nil, fmt.Errorf("%w: expected timestamp string, got %T", ErrEncodeError, v)

	case TypeUUID:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected uuid string, got %T", ErrEncodeError, v)
		}
		if id, err := uuid.Parse(s); err == nil {
			buf = append(buf, 1)
			raw := id[:]
			return append(buf, raw...), nil
		}
		buf = append(buf, 0)
		return encodeLenPrefixed(buf, []byte(s)), nil

	case TypeDecimal:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected decimal string, got %T", ErrEncodeError, v)
		}
		if _, err := decimal.NewFromString(s); err != nil {
			return nil, fmt.Errorf("%w: invalid decimal literal %q", ErrEncodeError, s)
		}
		return encodeLenPrefixed(buf, []byte(s)), nil

	default:
		return nil, fmt.Errorf("%w: unknown type id %#x", ErrEncodeError, byte(ft.ID))
	}
}

func decodeValue(buf []byte, pos int, ft FieldType) (interface{}, int, error) {
	switch ft.ID {
	case TypeNull:
		return nil, pos, nil

	case TypeBool:
		if pos >= len(buf) {
			return nil, 0, fmt.Errorf("%w: truncated bool", ErrDecodeError)
		}
		return buf[pos] != 0, pos + 1, nil

	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		n, next, err := readFixedInt(buf, pos, ft.ID)
		if err != nil {
			return nil, 0, err
		}
		return n, next, nil

	case TypeIntVar:
		n, next, err := takeVarint(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		return n, next, nil

	case TypeFloat32:
		if pos+4 > len(buf) {
			return nil, 0, fmt.Errorf("%w: truncated float32", ErrDecodeError)
		}
		bits := uint32(buf[pos]) | uint32(buf[pos+1])<<8 | uint32(buf[pos+2])<<16 | uint32(buf[pos+3])<<24
		return float64(math.Float32frombits(bits)), pos + 4, nil

	case TypeFloat64:
		if pos+8 > len(buf) {
			return nil, 0, fmt.Errorf("%w: truncated float64", ErrDecodeError)
		}
		return math.Float64frombits(readUint64(buf, pos)), pos + 8, nil

	case TypeString:
		raw, next, err := decodeLenPrefixed(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		if !utf8.Valid(raw) {
			return nil, 0, fmt.Errorf("%w: invalid UTF-8 in string", ErrDecodeError)
		}
		return string(raw), next, nil

	case TypeBinary:
		raw, next, err := decodeLenPrefixed(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		return hex.EncodeToString(raw), next, nil

	case TypeArray:
		count, next, err := takeUvarint(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		pos = next
		out := make([]interface{}, 0, count)
		for i := uint64(0); i < count; i++ {
			v, n, err := decodeValue(buf, pos, *ft.Elem)
			if err != nil {
				return nil, 0, err
			}
			pos = n
			out = append(out, v)
		}
		return out, pos, nil

	case TypeObject:
		out := make(map[string]interface{}, len(ft.Fields))
		for _, f := range ft.Fields {
			v, next, err := decodeFieldDef(buf, pos, f)
			if err != nil {
				return nil, 0, err
			}
			pos = next
			if v != absentMarker {
				out[f.Name] = v
			}
		}
		return out, pos, nil

	case TypeUnion:
		if pos >= len(buf) {
			return nil, 0, fmt.Errorf("%w: truncated union discriminator", ErrDecodeError)
		}
		idx := int(buf[pos])
		pos++
		if idx < 0 || idx >= len(ft.Members) {
			return nil, 0, fmt.Errorf("%w: bad union index %d", ErrDecodeError, idx)
		}
		return decodeValue(buf, pos, ft.Members[idx])

	case TypeTimestamp:
		if pos >= len(buf) {
			return nil, 0, fmt.Errorf("%w: truncated timestamp flag", ErrDecodeError)
		}
		flag := buf[pos]
		pos++
		if flag == 1 {
			if pos+8 > len(buf) {
				return nil, 0, fmt.Errorf("%w: truncated timestamp millis", ErrDecodeError)
			}
			millis := int64(readUint64(buf, pos))
			return formatTimestampMillis(millis), pos + 8, nil
		}
		raw, next, err := decodeLenPrefixed(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		return string(raw), next, nil

	case TypeUUID:
		if pos >= len(buf) {
			return nil, 0, fmt.Errorf("%w: truncated uuid flag", ErrDecodeError)
		}
		flag := buf[pos]
		pos++
		if flag == 1 {
			if pos+16 > len(buf) {
				return nil, 0, fmt.Errorf("%w: truncated uuid bytes", ErrDecodeError)
			}
			var id uuid.UUID
			copy(id[:], buf[pos:pos+16])
			return id.String(), pos + 16, nil
		}
		raw, next, err := decodeLenPrefixed(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		return string(raw), next, nil

	case TypeDecimal:
		raw, next, err := decodeLenPrefixed(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		return string(raw), next, nil

	default:
		return nil, 0, fmt.Errorf("%w: unknown type id %#x", ErrDecodeError, byte(ft.ID))
	}
}

func encodeLenPrefixed(buf []byte, raw []byte) []byte {
	buf = putUvarint(buf, uint64(len(raw)))
	return append(buf, raw...)
}

func decodeLenPrefixed(buf []byte, pos int) ([]byte, int, error) {
	n, next, err := takeUvarint(buf, pos)
	if err != nil {
		return nil, 0, err
	}
	if next+int(n) > len(buf) {
		return nil, 0, fmt.Errorf("%w: length-prefixed value truncated", ErrDecodeError)
	}
	return buf[next : next+int(n)], next + int(n), nil
}

func appendFixedInt(buf []byte, id TypeID, n int64) []byte {
	switch id {
	case TypeInt8:
		return append(buf, byte(n))
	case TypeInt16:
		u := uint16(n)
		return append(buf, byte(u), byte(u>>8))
	case TypeInt32:
		u := uint32(n)
		return appendUint32(buf, u)
	default: // TypeInt64
		return appendUint64(buf, uint64(n))
	}
}

func readFixedInt(buf []byte, pos int, id TypeID) (int64, int, error) {
	switch id {
	case TypeInt8:
		if pos >= len(buf) {
			return 0, 0, fmt.Errorf("%w: truncated int8", ErrDecodeError)
		}
		return int64(int8(buf[pos])), pos + 1, nil
	case TypeInt16:
		if pos+2 > len(buf) {
			return 0, 0, fmt.Errorf("%w: truncated int16", ErrDecodeError)
		}
		return int64(int16(readUint16(buf, pos))), pos + 2, nil
	case TypeInt32:
		if pos+4 > len(buf) {
			return 0, 0, fmt.Errorf("%w: truncated int32", ErrDecodeError)
		}
		return int64(int32(readUint32(buf, pos))), pos + 4, nil
	default: // TypeInt64
		if pos+8 > len(buf) {
			return 0, 0, fmt.Errorf("%w: truncated int64", ErrDecodeError)
		}
		return int64(readUint64(buf, pos)), pos + 8, nil
	}
}

func toInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		n, err := strconv.ParseInt(string(x), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(string(x), 64)
			if ferr != nil {
				return 0, fmt.Errorf("%w: %q is not an integer", ErrEncodeError, string(x))
			}
			return int64(f), nil
		}
		return n, nil
	case float64:
		return int64(x), nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("%w: expected number, got %T", ErrEncodeError, v)
	}
}

func toFloat64(v interface{}) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a float", ErrEncodeError, string(x))
		}
		return f, nil
	case float64:
		return x, nil
	default:
		return 0, fmt.Errorf("%w: expected number, got %T", ErrEncodeError, v)
	}
}

// selectUnionMember finds the first member type able to encode v,
// returning its index or -1 if none accepts.
func selectUnionMember(members []FieldType, v interface{}) int {
	for i, m := range members {
		if canEncode(m, v) {
			return i
		}
	}
	return -1
}

func canEncode(ft FieldType, v interface{}) bool {
	switch ft.ID {
	case TypeNull:
		return v == nil
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64, TypeIntVar:
		_, err := toInt64(v)
		return err == nil
	case TypeFloat32, TypeFloat64:
		_, err := toFloat64(v)
		return err == nil
	case TypeString, TypeBinary, TypeTimestamp, TypeUUID, TypeDecimal:
		_, ok := v.(string)
		return ok
	case TypeArray:
		_, ok := v.([]interface{})
		return ok
	case TypeObject:
		_, ok := v.(map[string]interface{})
		return ok
	case TypeUnion:
		return selectUnionMember(ft.Members, v) >= 0
	default:
		return false
	}
}
