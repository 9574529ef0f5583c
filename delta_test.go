// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"reflect"
	"testing"

	json "github.com/goccy/go-json"
)

func mustDecode(t *testing.T, js string) interface{} {
	t.Helper()
	v, err := decodeJSONGeneric([]byte(js))
	if err != nil {
		t.Fatalf("decoding %q: %v", js, err)
	}
	return v
}

func TestComputeApplyDeltaInvariant(t *testing.T) {
	tests := []struct {
		name        string
		prev, curr string
	}{
		{"identical", `{"a":1}`, `{"a":1}`},
		{"field added", `{"a":1}`, `{"a":1,"b":2}`},
		{"field removed", `{"a":1,"b":2}`, `{"a":1}`},
		{"field modified", `{"a":1}`, `{"a":2}`},
		{"array element replaced", `[1,2,3]`, `[1,9,3]`},
		{"array grown", `[1,2,3]`, `[1,2,3,4,5]`},
		{"array shrunk", `[1,2,3,4,5]`, `[1,2]`},
		{"array equal run preserved", `[1,2,3,4]`, `[1,2,9,4]`},
		{"nested object modified", `{"a":{"x":1,"y":2}}`, `{"a":{"x":1,"y":9}}`},
		{"type change scalar to object", `{"a":1}`, `{"a":{"x":1}}`},
		{"top-level scalar change", `1`, `2`},
		{"top-level scalar unchanged", `"x"`, `"x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := mustDecode(t, tt.prev)
			curr := mustDecode(t, tt.curr)

			op := ComputeDelta(prev, curr)
			got := ApplyDelta(prev, op)

			if !jsonEqual(got, curr) {
				gotJSON, _ := json.Marshal(got)
				t.Errorf("ApplyDelta(prev, ComputeDelta(prev, curr)) = %s, want %s", gotJSON, tt.curr)
			}
		})
	}
}

func TestComputeDeltaUnchangedIsCheap(t *testing.T) {
	v := mustDecode(t, `{"a":1,"b":[1,2,3],"c":{"d":"e"}}`)
	op := ComputeDelta(v, v)
	if op.Kind != DeltaUnchanged {
		t.Errorf("ComputeDelta(v, v).Kind = %v, want DeltaUnchanged", op.Kind)
	}
}

func TestSerializeDeserializeDeltaRoundTrip(t *testing.T) {
	prev := mustDecode(t, `{"a":1,"b":[1,2,3],"tags":["x","y"]}`)
	curr := mustDecode(t, `{"a":2,"b":[1,9,3,4],"tags":["x","y","z"]}`)

	op := ComputeDelta(prev, curr)
	buf := SerializeDelta(op)
	got, n, err := DeserializeDelta(buf)
	if err != nil {
		t.Fatalf("DeserializeDelta failed: %v", err)
	}
	if n != len(buf) {
		t.Errorf("consumed %d bytes, want %d", n, len(buf))
	}

	applied := ApplyDelta(prev, got)
	if !jsonEqual(applied, curr) {
		t.Errorf("ApplyDelta after deserialize = %#v, want equivalent to %#v", applied, curr)
	}
}

func TestFirstMessageIsAlwaysAdd(t *testing.T) {
	curr := mustDecode(t, `{"a":1}`)
	op := DeltaOp{Kind: DeltaAdd, Value: curr}
	got := ApplyDelta(nil, op)
	if !jsonEqual(got, curr) {
		t.Errorf("ApplyDelta(nil, Add(curr)) = %#v, want %#v", got, curr)
	}
}

func TestEncodeDecodeGenericValueRoundTrip(t *testing.T) {
	tests := []interface{}{
		nil, true, false,
		int64(0), int64(-1), int64(1 << 40),
		3.14159,
		"hello",
		[]interface{}{int64(1), "two", nil},
		map[string]interface{}{"a": int64(1), "b": "two"},
	}

	for _, v := range tests {
		buf := encodeGenericValue(nil, v)
		got, n, err := decodeGenericValue(buf, 0)
		if err != nil {
			t.Fatalf("decodeGenericValue(%#v) failed: %v", v, err)
		}
		if n != len(buf) {
			t.Errorf("decodeGenericValue consumed %d bytes, want %d", n, len(buf))
		}
		if !reflect.DeepEqual(got, v) {
			t.Errorf("roundtrip got %#v, want %#v", got, v)
		}
	}
}
