// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"testing"

	json "github.com/goccy/go-json"
)

func decodeSample(t *testing.T, js string) interface{} {
	t.Helper()
	v, err := decodeJSONGeneric([]byte(js))
	if err != nil {
		t.Fatalf("decoding sample %q: %v", js, err)
	}
	return v
}

func TestInferrerMergesAcrossSamples(t *testing.T) {
	inf := NewInferrer()
	inf.Observe(decodeSample(t, `{"id":1,"name":"a"}`))
	inf.Observe(decodeSample(t, `{"id":300,"name":"b","extra":true}`))

	schema, err := inf.Schema()
	if err != nil {
		t.Fatalf("Schema() failed: %v", err)
	}

	id := indexByName(schema.Fields, "id")
	if id < 0 {
		t.Fatal("missing id field")
	}
	// 300 doesn't fit in int8, so the merged width must widen to int16.
	if schema.Fields[id].Type.ID != TypeInt16 {
		t.Errorf("id field widened to %#x, want int16", byte(schema.Fields[id].Type.ID))
	}

	extra := indexByName(schema.Fields, "extra")
	if extra < 0 {
		t.Fatal("missing extra field")
	}
	if !schema.Fields[extra].Nullable {
		t.Error("field absent from the first sample must be nullable in the merge")
	}
}

func TestInferrerTopLevelArrayOfObjects(t *testing.T) {
	inf := NewInferrer()
	inf.Observe(decodeSample(t, `[{"id":1},{"id":2}]`))

	schema, err := inf.Schema()
	if err != nil {
		t.Fatalf("Schema() failed: %v", err)
	}
	if !schema.IsArray {
		t.Error("top-level array of objects must set Schema.IsArray")
	}
}

func TestInferrerRejectsScalarTopLevel(t *testing.T) {
	inf := NewInferrer()
	inf.Observe(decodeSample(t, `42`))
	if _, err := inf.Schema(); err == nil {
		t.Error("a top-level scalar should not produce a schema")
	}
}

func TestInferStringDetectsTimestampAndUUID(t *testing.T) {
	ts := inferValue(json.Number("0"))
	_ = ts // silence unused in case of future refactors

	tests := []struct {
		in   string
		want TypeID
	}{
		{"2024-07-31T12:00:00.000Z", TypeTimestamp},
		{"550e8400-e29b-41d4-a716-446655440000", TypeUUID},
		{"just a string", TypeString},
	}
	for _, tt := range tests {
		got := inferString(tt.in)
		if got.ID != tt.want {
			t.Errorf("inferString(%q).ID = %#x, want %#x", tt.in, byte(got.ID), byte(tt.want))
		}
	}
}

func TestNarrowestIntType(t *testing.T) {
	tests := []struct {
		n    int64
		want TypeID
	}{
		{0, TypeInt8},
		{127, TypeInt8},
		{128, TypeInt16},
		{40000, TypeInt32},
		{1 << 40, TypeInt64},
	}
	for _, tt := range tests {
		got := narrowestIntType(tt.n)
		if got.ID != tt.want {
			t.Errorf("narrowestIntType(%d).ID = %#x, want %#x", tt.n, byte(got.ID), byte(tt.want))
		}
	}
}
