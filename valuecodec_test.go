// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeObjectRoundTrip(t *testing.T) {
	schema := NewSchema([]FieldDef{
		{Name: "id", Type: Int32Type},
		{Name: "name", Type: StringType},
		{Name: "active", Type: BoolType},
		{Name: "nickname", Type: StringType, Nullable: true},
	})

	tests := []map[string]interface{}{
		{"id": int64(1), "name": "alice", "active": true, "nickname": "al"},
		{"id": int64(2), "name": "bob", "active": false},
	}

	for _, obj := range tests {
		buf, err := EncodeObject(schema, obj)
		if err != nil {
			t.Fatalf("EncodeObject(%v) failed: %v", obj, err)
		}
		got, _, err := DecodeObject(schema, buf)
		if err != nil {
			t.Fatalf("DecodeObject failed: %v", err)
		}
		if !reflect.DeepEqual(got, obj) {
			t.Errorf("roundtrip got %#v, want %#v", got, obj)
		}
	}
}

func TestEncodeValueUnion(t *testing.T) {
	ft := UnionType(Int8Type, StringType)

	buf, err := encodeValue(nil, ft, "hello")
	if err != nil {
		t.Fatalf("encodeValue(union, string) failed: %v", err)
	}
	got, _, err := decodeValue(buf, 0, ft)
	if err != nil {
		t.Fatalf("decodeValue(union) failed: %v", err)
	}
	if got != "hello" {
		t.Errorf("union roundtrip got %v, want %q", got, "hello")
	}
}

func TestEncodeValueArray(t *testing.T) {
	ft := ArrayType(Int8Type)
	in := []interface{}{int64(1), int64(2), int64(3)}

	buf, err := encodeValue(nil, ft, in)
	if err != nil {
		t.Fatalf("encodeValue(array) failed: %v", err)
	}
	got, _, err := decodeValue(buf, 0, ft)
	if err != nil {
		t.Fatalf("decodeValue(array) failed: %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Errorf("array roundtrip got %#v, want %#v", got, in)
	}
}

func TestEncodeObjectMissingRequiredField(t *testing.T) {
	schema := NewSchema([]FieldDef{{Name: "id", Type: Int8Type}})
	_, err := EncodeObject(schema, map[string]interface{}{})
	if err == nil {
		t.Error("EncodeObject with a missing required field: want error, got nil")
	}
}

func TestDecodeLenPrefixedTruncated(t *testing.T) {
	buf := putUvarint(nil, 10)
	_, _, err := decodeLenPrefixed(buf, 0)
	if err == nil {
		t.Error("decodeLenPrefixed on a declared-but-missing payload: want error, got nil")
	}
}
