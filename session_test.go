// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"encoding/json"
	"errors"
	"testing"
)

func jsonEqualBytes(t *testing.T, got, want []byte) bool {
	t.Helper()
	var gv, wv interface{}
	if err := json.Unmarshal(got, &gv); err != nil {
		t.Fatalf("unmarshal got: %v", err)
	}
	if err := json.Unmarshal(want, &wv); err != nil {
		t.Fatalf("unmarshal want: %v", err)
	}
	return jsonEqualStd(gv, wv)
}

// jsonEqualStd compares values produced by encoding/json (float64-typed
// numbers), distinct from jsonEqual in delta.go which also handles
// json.Number from goccy/go-json.
func jsonEqualStd(a, b interface{}) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !jsonEqualStd(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bv2, ok2 := bv[k]
			if !ok2 || !jsonEqualStd(v, bv2) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func TestSessionCompressDecompressObject(t *testing.T) {
	s := NewSession(nil)
	input := []byte(`{"id":1,"name":"alice","active":true}`)

	frame, err := s.Compress(input)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	out, err := s.Decompress(frame)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !jsonEqualBytes(t, out, input) {
		t.Errorf("roundtrip mismatch: got %s, want %s", out, input)
	}
}

func TestSessionCompressDecompressArrayOfObjects(t *testing.T) {
	s := NewSession(nil)
	input := []byte(`[{"id":1,"name":"a"},{"id":2,"name":"b"},{"id":3,"name":"c"}]`)

	frame, err := s.Compress(input)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	out, err := s.Decompress(frame)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !jsonEqualBytes(t, out, input) {
		t.Errorf("roundtrip mismatch: got %s, want %s", out, input)
	}
}

func TestSessionSecondMessageOmitsSchema(t *testing.T) {
	s := NewSession(nil)
	first := []byte(`{"id":1,"name":"a"}`)
	second := []byte(`{"id":2,"name":"b"}`)

	f1, err := s.Compress(first)
	if err != nil {
		t.Fatalf("Compress(first) failed: %v", err)
	}
	h1, _, err := readFrameHeader(f1)
	if err != nil {
		t.Fatalf("readFrameHeader(f1) failed: %v", err)
	}
	if !hasFlag(h1.flags, FlagSchemaIncluded) {
		t.Error("first message of a new shape must include its schema")
	}

	f2, err := s.Compress(second)
	if err != nil {
		t.Fatalf("Compress(second) failed: %v", err)
	}
	h2, _, err := readFrameHeader(f2)
	if err != nil {
		t.Fatalf("readFrameHeader(f2) failed: %v", err)
	}
	if hasFlag(h2.flags, FlagSchemaIncluded) {
		t.Error("a repeated shape must not re-embed its schema")
	}
	if h1.schemaID != h2.schemaID {
		t.Errorf("identical shapes got different schema ids: %d vs %d", h1.schemaID, h2.schemaID)
	}

	out2, err := s.Decompress(f2)
	if err != nil {
		t.Fatalf("Decompress(f2) failed: %v", err)
	}
	if !jsonEqualBytes(t, out2, second) {
		t.Errorf("roundtrip mismatch: got %s, want %s", out2, second)
	}
}

func TestSessionDecompressUnknownSchemaID(t *testing.T) {
	s := NewSession(nil)
	if _, err := s.Compress([]byte(`{"id":1}`)); err != nil {
		t.Fatalf("Compress(first) failed: %v", err)
	}
	frame, err := s.Compress([]byte(`{"id":2}`))
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	other := NewSession(nil)
	_, err = other.Decompress(frame)
	if err == nil {
		t.Fatal("decompressing a non-first frame against a fresh session should fail")
	}
	var notFound *SchemaNotFoundError
	if !errorsAs(err, &notFound) {
		t.Errorf("expected a SchemaNotFoundError, got %v", err)
	}
}

func errorsAs(err error, target **SchemaNotFoundError) bool {
	e, ok := err.(*SchemaNotFoundError)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestSessionChecksumVerification(t *testing.T) {
	s := NewSession(&Options{EnableChecksum: true, VerifyChecksum: true})
	frame, err := s.Compress([]byte(`{"id":1}`))
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	h, _, err := readFrameHeader(frame)
	if err != nil {
		t.Fatalf("readFrameHeader failed: %v", err)
	}
	if !hasFlag(h.flags, FlagChecksumPresent) {
		t.Fatal("EnableChecksum should set FlagChecksumPresent")
	}

	out, err := s.Decompress(frame)
	if err != nil {
		t.Fatalf("Decompress of a valid checksummed frame failed: %v", err)
	}
	if !jsonEqualBytes(t, out, []byte(`{"id":1}`)) {
		t.Errorf("roundtrip mismatch: got %s", out)
	}
}

func TestSessionVerifyChecksumRejectsCorruptedFrame(t *testing.T) {
	s := NewSession(&Options{EnableChecksum: true})
	frame, err := s.Compress([]byte(`{"id":1}`))
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	frame[len(frame)-1] ^= 0xFF

	strict := NewSession(&Options{EnableChecksum: true, VerifyChecksum: true})
	if _, err := strict.Decompress(frame); err == nil {
		t.Fatal("Decompress with VerifyChecksum should reject a frame whose CRC32C no longer matches")
	} else if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestSessionResetClearsCache(t *testing.T) {
	s := NewSession(nil)
	s.Compress([]byte(`{"id":1}`))
	if s.Stats().SchemasCached == 0 {
		t.Fatal("expected at least one cached schema before Reset")
	}
	s.Reset()
	if s.Stats().SchemasCached != 0 {
		t.Error("Reset should clear the schema cache")
	}
}

func TestDecodeJSONGenericUsesNumber(t *testing.T) {
	v, err := decodeJSONGeneric([]byte(`{"n":1}`))
	if err != nil {
		t.Fatalf("decodeJSONGeneric failed: %v", err)
	}
	m := v.(map[string]interface{})
	if _, isFloat := m["n"].(float64); isFloat {
		t.Error("decodeJSONGeneric should decode numbers as json.Number, not float64")
	}
}
