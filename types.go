// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"fmt"
	"sort"
)

// TypeID is the one-byte wire tag for a FieldType variant.
type TypeID byte

// Type ids, fixed by the wire format.
const (
	TypeNull TypeID = 0x00
	TypeBool TypeID = 0x01

	// Integer widths occupy a contiguous id range so that a single
	// range check distinguishes "some integer" during decode.
	TypeInt8   TypeID = 0x02
	TypeInt16  TypeID = 0x03
	TypeInt32  TypeID = 0x04
	TypeInt64  TypeID = 0x05
	TypeIntVar TypeID = 0x06

	TypeFloat32 TypeID = 0x07
	TypeFloat64 TypeID = 0x08

	TypeString TypeID = 0x09
	TypeBinary TypeID = 0x0A
	TypeArray  TypeID = 0x0B
	TypeObject TypeID = 0x0C
	TypeUnion  TypeID = 0x0D

	TypeTimestamp TypeID = 0x10
	TypeUUID      TypeID = 0x11
	TypeDecimal   TypeID = 0x12
)

func (t TypeID) isInteger() bool {
	return t >= TypeInt8 && t <= TypeIntVar
}

func (t TypeID) isFloat() bool {
	return t == TypeFloat32 || t == TypeFloat64
}

// FieldType is the recursive tagged sum describing a value's shape.
// Composite variants reference their children through the Elem pointer
// or the Fields/Members slices: FieldType is a small, bounded-depth tree
// in practice (JSON nesting depth), so a plain recursive struct is used
// rather than an arena or a flattened token stream.
type FieldType struct {
	ID TypeID

	// Elem is populated when ID == TypeArray.
	Elem *FieldType

	// Fields is populated when ID == TypeObject, in wire order.
	Fields []FieldDef

	// Members is populated when ID == TypeUnion.
	Members []FieldType

	// Precision/Scale are populated when ID == TypeDecimal. Reserved:
	// not currently validated against the string payload's digit count.
	Precision int
	Scale     int
}

// FieldDef is a named, typed, nullable field within an Object.
type FieldDef struct {
	Name     string
	Type     FieldType
	Nullable bool
}

func newScalar(id TypeID) FieldType { return FieldType{ID: id} }

// NullType, BoolType, etc. are convenience constructors mirroring the
// scalar variants of FieldType.
var (
	NullType      = newScalar(TypeNull)
	BoolType      = newScalar(TypeBool)
	Int8Type      = newScalar(TypeInt8)
	Int16Type     = newScalar(TypeInt16)
	Int32Type     = newScalar(TypeInt32)
	Int64Type     = newScalar(TypeInt64)
	IntVarType    = newScalar(TypeIntVar)
	Float32Type   = newScalar(TypeFloat32)
	Float64Type   = newScalar(TypeFloat64)
	StringType    = newScalar(TypeString)
	BinaryType    = newScalar(TypeBinary)
	TimestampType = newScalar(TypeTimestamp)
	UUIDType      = newScalar(TypeUUID)
)

// ArrayType builds an Array(elem) FieldType.
func ArrayType(elem FieldType) FieldType {
	e := elem
	return FieldType{ID: TypeArray, Elem: &e}
}

// ObjectType builds an Object(fields) FieldType.
func ObjectType(fields []FieldDef) FieldType {
	return FieldType{ID: TypeObject, Fields: fields}
}

// UnionType builds a Union(members) FieldType, flattening nested unions
// and deduplicating identical members so repeated merges stay bounded.
// Members are kept in ascending type-id order (members sharing an id
// keep their argument order).
func UnionType(members ...FieldType) FieldType {
	var flat []FieldType
	for _, m := range members {
		if m.ID == TypeUnion {
			flat = append(flat, m.Members...)
		} else {
			flat = append(flat, m)
		}
	}
	var out []FieldType
	for _, m := range flat {
		dup := false
		for _, o := range out {
			if typesEqual(m, o) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, m)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return FieldType{ID: TypeUnion, Members: out}
}

func typesEqual(a, b FieldType) bool {
	if a.ID != b.ID {
		return false
	}
	switch a.ID {
	case TypeArray:
		return typesEqual(*a.Elem, *b.Elem)
	case TypeObject:
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if a.Fields[i].Name != b.Fields[i].Name ||
				a.Fields[i].Nullable != b.Fields[i].Nullable ||
				!typesEqual(a.Fields[i].Type, b.Fields[i].Type) {
				return false
			}
		}
		return true
	case TypeUnion:
		if len(a.Members) != len(b.Members) {
			return false
		}
		for i := range a.Members {
			if !typesEqual(a.Members[i], b.Members[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// nullableUnion builds Union(Null, t), collapsing an already-nullable t
// instead of nesting Null twice.
func nullableUnion(t FieldType) FieldType {
	return UnionType(t, NullType)
}

func isNullableUnion(t FieldType) (FieldType, bool) {
	if t.ID != TypeUnion {
		return FieldType{}, false
	}
	var rest []FieldType
	hasNull := false
	for _, m := range t.Members {
		if m.ID == TypeNull {
			hasNull = true
			continue
		}
		rest = append(rest, m)
	}
	if !hasNull {
		return FieldType{}, false
	}
	if len(rest) == 1 {
		return rest[0], true
	}
	return FieldType{ID: TypeUnion, Members: rest}, true
}

// intWidthRank orders fixed integer widths from narrowest to widest;
// Varint is treated as the widest. The inferrer itself only produces
// fixed widths.
func intWidthRank(id TypeID) int {
	switch id {
	case TypeInt8:
		return 0
	case TypeInt16:
		return 1
	case TypeInt32:
		return 2
	case TypeInt64:
		return 3
	case TypeIntVar:
		return 4
	}
	return -1
}

// Merge computes the narrowest common FieldType accepting every value
// either a or b accepts. Merge is idempotent, and commutative because
// union members are kept in type-id order and merged object fields in
// name order (see UnionType for members sharing a type id).
func Merge(a, b FieldType) FieldType {
	if typesEqual(a, b) {
		return a
	}
	if a.ID == TypeNull {
		return nullableUnion(b)
	}
	if b.ID == TypeNull {
		return nullableUnion(a)
	}

	// Unwrap "T | Null" on either side so merging nullable types widens
	// the non-null member instead of accumulating nested unions.
	if inner, ok := isNullableUnion(a); ok {
		return nullableUnion(Merge(inner, b))
	}
	if inner, ok := isNullableUnion(b); ok {
		return nullableUnion(Merge(a, inner))
	}

	switch {
	case a.ID.isInteger() && b.ID.isInteger():
		ra, rb := intWidthRank(a.ID), intWidthRank(b.ID)
		if ra >= rb {
			return a
		}
		return b

	case a.ID.isInteger() && b.ID.isFloat():
		return b
	case a.ID.isFloat() && b.ID.isInteger():
		return a

	case a.ID.isFloat() && b.ID.isFloat():
		if a.ID == TypeFloat64 || b.ID == TypeFloat64 {
			return Float64Type
		}
		return a

	case a.ID == TypeArray && b.ID == TypeArray:
		elem := Merge(*a.Elem, *b.Elem)
		return ArrayType(elem)

	case a.ID == TypeObject && b.ID == TypeObject:
		return mergeObjects(a, b)

	default:
		return UnionType(a, b)
	}
}

func mergeObjects(a, b FieldType) FieldType {
	idx := make(map[string]int, len(a.Fields))
	for i, f := range a.Fields {
		idx[f.Name] = i
	}
	seen := make(map[string]bool, len(a.Fields)+len(b.Fields))
	var out []FieldDef

	for _, fa := range a.Fields {
		seen[fa.Name] = true
		if j := indexByName(b.Fields, fa.Name); j >= 0 {
			fb := b.Fields[j]
			out = append(out, FieldDef{
				Name:     fa.Name,
				Type:     Merge(fa.Type, fb.Type),
				Nullable: fa.Nullable || fb.Nullable,
			})
		} else {
			out = append(out, FieldDef{Name: fa.Name, Type: fa.Type, Nullable: true})
		}
	}
	for _, fb := range b.Fields {
		if seen[fb.Name] {
			continue
		}
		out = append(out, FieldDef{Name: fb.Name, Type: fb.Type, Nullable: true})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return ObjectType(out)
}

func indexByName(fields []FieldDef, name string) int {
	for i, f := range fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (t FieldType) String() string {
	switch t.ID {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64, TypeIntVar:
		return fmt.Sprintf("int(id=%#x)", byte(t.ID))
	case TypeFloat32, TypeFloat64:
		return fmt.Sprintf("float(id=%#x)", byte(t.ID))
	case TypeString:
		return "string"
	case TypeBinary:
		return "binary"
	case TypeArray:
		return fmt.Sprintf("array(%s)", t.Elem.String())
	case TypeObject:
		return fmt.Sprintf("object(%d fields)", len(t.Fields))
	case TypeUnion:
		return fmt.Sprintf("union(%d members)", len(t.Members))
	case TypeTimestamp:
		return "timestamp"
	case TypeUUID:
		return "uuid"
	case TypeDecimal:
		return "decimal"
	default:
		return fmt.Sprintf("unknown(id=%#x)", byte(t.ID))
	}
}
