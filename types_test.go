// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import "testing"

func TestMergeCommutative(t *testing.T) {
	tests := []struct {
		name string
		a, b FieldType
	}{
		{"int widths", Int8Type, Int32Type},
		{"int and float", Int32Type, Float64Type},
		{"null and string", NullType, StringType},
		{"disjoint scalars", BoolType, StringType},
		{"arrays", ArrayType(Int8Type), ArrayType(Int64Type)},
		{
			"objects",
			ObjectType([]FieldDef{{Name: "a", Type: Int8Type}}),
			ObjectType([]FieldDef{{Name: "b", Type: StringType}}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ab := Merge(tt.a, tt.b)
			ba := Merge(tt.b, tt.a)
			if !typesEqual(ab, ba) {
				t.Errorf("Merge(a,b)=%s != Merge(b,a)=%s", ab, ba)
			}
		})
	}
}

func TestMergeIdempotent(t *testing.T) {
	tests := []FieldType{
		Int8Type, Float64Type, StringType,
		ArrayType(StringType),
		ObjectType([]FieldDef{{Name: "x", Type: BoolType}}),
		UnionType(Int8Type, StringType),
	}

	for _, tt := range tests {
		got := Merge(tt, tt)
		if !typesEqual(got, tt) {
			t.Errorf("Merge(%s, %s) = %s, want unchanged", tt, tt, got)
		}
	}
}

func TestMergeIntWidening(t *testing.T) {
	got := Merge(Int8Type, Int32Type)
	if got.ID != TypeInt32 {
		t.Errorf("Merge(int8, int32).ID = %#x, want int32", byte(got.ID))
	}
}

func TestMergeIntFloat(t *testing.T) {
	got := Merge(Int32Type, Float64Type)
	if got.ID != TypeFloat64 {
		t.Errorf("Merge(int32, float64).ID = %#x, want float64", byte(got.ID))
	}
}

func TestMergeNullMakesNullable(t *testing.T) {
	got := Merge(NullType, StringType)
	inner, ok := isNullableUnion(got)
	if !ok {
		t.Fatalf("Merge(null, string) = %s, want a nullable union", got)
	}
	if inner.ID != TypeString {
		t.Errorf("nullable union wraps %s, want string", inner)
	}
}

func TestMergeObjectFieldBecomesNullableOnAbsence(t *testing.T) {
	a := ObjectType([]FieldDef{{Name: "id", Type: Int8Type}})
	b := ObjectType([]FieldDef{
		{Name: "id", Type: Int8Type},
		{Name: "extra", Type: StringType},
	})

	merged := Merge(a, b)
	idx := indexByName(merged.Fields, "extra")
	if idx < 0 {
		t.Fatal("merged object missing field present in only one sample")
	}
	if !merged.Fields[idx].Nullable {
		t.Error("field absent from one sample must be nullable in the merge")
	}
}

func TestMergeDisjointScalarsUnion(t *testing.T) {
	got := Merge(BoolType, StringType)
	if got.ID != TypeUnion {
		t.Errorf("Merge(bool, string).ID = %#x, want union", byte(got.ID))
	}
	if len(got.Members) != 2 {
		t.Errorf("union has %d members, want 2", len(got.Members))
	}
}

func TestUnionTypeDedup(t *testing.T) {
	got := UnionType(Int8Type, Int8Type, StringType)
	if got.ID != TypeUnion {
		t.Fatalf("UnionType with 2 distinct members collapsed to %s", got)
	}
	if len(got.Members) != 2 {
		t.Errorf("UnionType has %d members, want 2 (deduped)", len(got.Members))
	}
}

func TestUnionTypeSingleCollapses(t *testing.T) {
	got := UnionType(Int8Type, Int8Type)
	if got.ID == TypeUnion {
		t.Error("UnionType of one distinct member should collapse to a scalar")
	}
}
