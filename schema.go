// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"fmt"
	"hash/fnv"
)

// Schema is an ordered list of named typed fields plus a structural
// fingerprint. Two schemas are interchangeable iff their fingerprints
// match. IsArray distinguishes a schema registered for a
// top-level array of rows (candidate for the columnar sub-mode) from
// one registered for a single top-level object with the same field
// set; it is required to know, on decode, whether the payload is one
// row or many without an extra frame flag (see DESIGN.md).
type Schema struct {
	ID          uint32
	Version     uint16
	Fingerprint uint64
	Fields      []FieldDef
	IsArray     bool
}

// NewSchema computes a schema's fingerprint from its fields. ID is left
// zero; it is stamped by SchemaCache.Register.
func NewSchema(fields []FieldDef) *Schema {
	return NewArraySchema(fields, false)
}

// NewArraySchema is NewSchema plus the isArray marker described above.
func NewArraySchema(fields []FieldDef, isArray bool) *Schema {
	s := &Schema{Fields: fields, IsArray: isArray}
	s.Fingerprint = fingerprintFields(fields, isArray)
	return s
}

// fingerprintFields is the 64-bit FNV-1a over (name, type id, nullable)
// triples in field order, with the isArray marker
// folded in last so array-mode and object-mode schemas over the same
// fields never collide in the cache.
func fingerprintFields(fields []FieldDef, isArray bool) uint64 {
	h := fnv.New64a()
	for _, f := range fields {
		h.Write([]byte(f.Name))
		h.Write([]byte{byte(f.Type.ID)})
		if f.Nullable {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	if isArray {
		h.Write([]byte{1})
	}
	return h.Sum64()
}

// schemaIsArrayBit is stashed in the version field's top bit: Version
// is otherwise reserved for future evolution, and borrowing one bit
// avoids widening the fixed embedded-schema header.
const schemaIsArrayBit uint16 = 0x8000

// MarshalBinary writes the full recursive embedded-schema form:
// 4-byte id, 2-byte version, 8-byte fingerprint, 1-byte field count,
// then per field: 1-byte name length, name bytes, recursively
// serialized type.
func (s *Schema) MarshalBinary() []byte {
	buf := make([]byte, 0, 32+len(s.Fields)*16)
	buf = appendUint32(buf, s.ID)
	version := s.Version
	if s.IsArray {
		version |= schemaIsArrayBit
	}
	buf = appendUint16(buf, version)
	buf = appendUint64(buf, s.Fingerprint)
	buf = append(buf, byte(len(s.Fields)))
	for _, f := range s.Fields {
		buf = append(buf, byte(len(f.Name)))
		buf = append(buf, []byte(f.Name)...)
		flags := byte(0)
		if f.Nullable {
			flags |= 1
		}
		buf = appendTypeFull(buf, f.Type, flags)
	}
	return buf
}

// appendTypeFull writes a type id byte, a flags byte (bit 0 = nullable,
// set for top-level and nested object fields; array elements and union
// members always write 0), then any recursive payload the variant
// requires.
func appendTypeFull(buf []byte, t FieldType, flags byte) []byte {
	buf = append(buf, byte(t.ID), flags)
	switch t.ID {
	case TypeArray:
		buf = appendTypeFull(buf, *t.Elem, 0)
	case TypeObject:
		buf = append(buf, byte(len(t.Fields)))
		for _, f := range t.Fields {
			buf = append(buf, byte(len(f.Name)))
			buf = append(buf, []byte(f.Name)...)
			ff := byte(0)
			if f.Nullable {
				ff |= 1
			}
			buf = appendTypeFull(buf, f.Type, ff)
		}
	case TypeUnion:
		buf = append(buf, byte(len(t.Members)))
		for _, m := range t.Members {
			buf = appendTypeFull(buf, m, 0)
		}
	}
	return buf
}

// UnmarshalSchema parses an embedded schema block. It first tries the
// full recursive form this package always writes; callers always pass
// exactly one schema block (never a buffer with trailing data), so a
// successful parse must also consume every byte of buf. If the parse
// errors, or succeeds but leaves bytes unconsumed (a sign that a
// composite field's recursive payload was misread as covering what is
// actually the legacy form's flat field list), buf is re-read as the
// shortened legacy form that records only a top-level type id per
// field; composite fields then come back as the placeholder shells
// described on unmarshalSchemaLegacy.
func UnmarshalSchema(buf []byte) (*Schema, int, error) {
	if s, n, err := unmarshalSchemaFull(buf); err == nil && n == len(buf) {
		return s, n, nil
	}
	return unmarshalSchemaLegacy(buf)
}

func unmarshalSchemaFull(buf []byte) (*Schema, int, error) {
	if len(buf) < 4+2+8+1 {
		return nil, 0, fmt.Errorf("%w: embedded schema truncated", ErrCorruptedData)
	}
	pos := 0
	id := readUint32(buf, pos)
	pos += 4
	version := readUint16(buf, pos)
	pos += 2
	fp := readUint64(buf, pos)
	pos += 8
	fieldCount := int(buf[pos])
	pos++

	fields := make([]FieldDef, 0, fieldCount)
	for i := 0; i < fieldCount; i++ {
		if pos >= len(buf) {
			return nil, 0, fmt.Errorf("%w: embedded schema field truncated", ErrCorruptedData)
		}
		nameLen := int(buf[pos])
		pos++
		if pos+nameLen > len(buf) {
			return nil, 0, fmt.Errorf("%w: embedded schema field name truncated", ErrCorruptedData)
		}
		name := string(buf[pos : pos+nameLen])
		pos += nameLen

		ft, nullable, next, err := readTypeFull(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		pos = next
		fields = append(fields, FieldDef{Name: name, Type: ft, Nullable: nullable})
	}

	isArray := version&schemaIsArrayBit != 0
	return &Schema{ID: id, Version: version &^ schemaIsArrayBit, Fingerprint: fp, Fields: fields, IsArray: isArray}, pos, nil
}

// unmarshalSchemaLegacy reads the shortened form: per field, only a
// bare type id byte and a flags byte follow the name, with no
// recursive payload for Array/Object/Union. Those composite fields
// are reconstructed as an empty shell (Array of Union(), Object with
// no fields, Union with no members). The value codec decodes values
// under these shells as they stand; their structure is not re-inferred.
func unmarshalSchemaLegacy(buf []byte) (*Schema, int, error) {
	if len(buf) < 4+2+8+1 {
		return nil, 0, fmt.Errorf("%w: legacy schema truncated", ErrCorruptedData)
	}
	pos := 0
	id := readUint32(buf, pos)
	pos += 4
	version := readUint16(buf, pos)
	pos += 2
	fp := readUint64(buf, pos)
	pos += 8
	fieldCount := int(buf[pos])
	pos++

	fields := make([]FieldDef, 0, fieldCount)
	for i := 0; i < fieldCount; i++ {
		if pos+2 > len(buf) {
			return nil, 0, fmt.Errorf("%w: legacy schema field truncated", ErrCorruptedData)
		}
		nameLen := int(buf[pos])
		pos++
		if pos+nameLen+2 > len(buf) {
			return nil, 0, fmt.Errorf("%w: legacy schema field name truncated", ErrCorruptedData)
		}
		name := string(buf[pos : pos+nameLen])
		pos += nameLen
		typeID := TypeID(buf[pos])
		flags := buf[pos+1]
		pos += 2

		var ft FieldType
		switch typeID {
		case TypeArray:
			ft = ArrayType(UnionType())
		case TypeObject:
			ft = ObjectType(nil)
		default:
			ft = FieldType{ID: typeID}
		}
		fields = append(fields, FieldDef{Name: name, Type: ft, Nullable: flags&1 != 0})
	}

	isArray := version&schemaIsArrayBit != 0
	return &Schema{ID: id, Version: version &^ schemaIsArrayBit, Fingerprint: fp, Fields: fields, IsArray: isArray}, pos, nil
}

func readTypeFull(buf []byte, pos int) (FieldType, bool, int, error) {
	if pos+2 > len(buf) {
		return FieldType{}, false, 0, fmt.Errorf("%w: type tag truncated", ErrCorruptedData)
	}
	id := TypeID(buf[pos])
	flags := buf[pos+1]
	pos += 2
	nullable := flags&1 != 0

	switch id {
	case TypeArray:
		elem, _, next, err := readTypeFull(buf, pos)
		if err != nil {
			return FieldType{}, false, 0, err
		}
		return ArrayType(elem), nullable, next, nil

	case TypeObject:
		if pos >= len(buf) {
			return FieldType{}, false, 0, fmt.Errorf("%w: object field count truncated", ErrCorruptedData)
		}
		count := int(buf[pos])
		pos++
		fields := make([]FieldDef, 0, count)
		for i := 0; i < count; i++ {
			if pos >= len(buf) {
				return FieldType{}, false, 0, fmt.Errorf("%w: nested field truncated", ErrCorruptedData)
			}
			nameLen := int(buf[pos])
			pos++
			if pos+nameLen > len(buf) {
				return FieldType{}, false, 0, fmt.Errorf("%w: nested field name truncated", ErrCorruptedData)
			}
			name := string(buf[pos : pos+nameLen])
			pos += nameLen
			ft, fNullable, next, err := readTypeFull(buf, pos)
			if err != nil {
				return FieldType{}, false, 0, err
			}
			pos = next
			fields = append(fields, FieldDef{Name: name, Type: ft, Nullable: fNullable})
		}
		return ObjectType(fields), nullable, pos, nil

	case TypeUnion:
		if pos >= len(buf) {
			return FieldType{}, false, 0, fmt.Errorf("%w: union member count truncated", ErrCorruptedData)
		}
		count := int(buf[pos])
		pos++
		members := make([]FieldType, 0, count)
		for i := 0; i < count; i++ {
			m, _, next, err := readTypeFull(buf, pos)
			if err != nil {
				return FieldType{}, false, 0, err
			}
			pos = next
			members = append(members, m)
		}
		return FieldType{ID: TypeUnion, Members: members}, nullable, pos, nil

	default:
		return FieldType{ID: id}, nullable, pos, nil
	}
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}
func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
func appendUint64(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func readUint16(buf []byte, pos int) uint16 {
	return uint16(buf[pos]) | uint16(buf[pos+1])<<8
}
func readUint32(buf []byte, pos int) uint32 {
	return uint32(buf[pos]) | uint32(buf[pos+1])<<8 | uint32(buf[pos+2])<<16 | uint32(buf[pos+3])<<24
}
func readUint64(buf []byte, pos int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[pos+i]) << (8 * i)
	}
	return v
}
