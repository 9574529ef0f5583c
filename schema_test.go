// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import "testing"

func TestSchemaMarshalRoundTrip(t *testing.T) {
	s := NewSchema([]FieldDef{
		{Name: "id", Type: Int32Type},
		{Name: "tags", Type: ArrayType(StringType)},
		{Name: "meta", Type: ObjectType([]FieldDef{{Name: "k", Type: StringType}})},
		{Name: "nick", Type: StringType, Nullable: true},
	})
	s.ID = 7

	buf := s.MarshalBinary()
	got, n, err := UnmarshalSchema(buf)
	if err != nil {
		t.Fatalf("UnmarshalSchema failed: %v", err)
	}
	if n != len(buf) {
		t.Errorf("consumed %d bytes, want %d", n, len(buf))
	}
	if got.ID != s.ID || got.Fingerprint != s.Fingerprint || got.IsArray != s.IsArray {
		t.Errorf("header mismatch: got %+v", got)
	}
	if len(got.Fields) != len(s.Fields) {
		t.Fatalf("got %d fields, want %d", len(got.Fields), len(s.Fields))
	}
	for i, f := range s.Fields {
		gf := got.Fields[i]
		if gf.Name != f.Name || gf.Nullable != f.Nullable || !typesEqual(gf.Type, f.Type) {
			t.Errorf("field %d mismatch: got %+v, want %+v", i, gf, f)
		}
	}
}

func TestSchemaArrayBitSurvivesMarshal(t *testing.T) {
	rowSchema := NewArraySchema([]FieldDef{{Name: "x", Type: Int8Type}}, true)
	rowSchema.ID = 1

	buf := rowSchema.MarshalBinary()
	got, _, err := UnmarshalSchema(buf)
	if err != nil {
		t.Fatalf("UnmarshalSchema failed: %v", err)
	}
	if !got.IsArray {
		t.Error("IsArray did not survive marshal/unmarshal")
	}
}

func TestFingerprintDistinguishesArrayFromObject(t *testing.T) {
	fields := []FieldDef{{Name: "x", Type: Int8Type}}
	obj := NewArraySchema(fields, false)
	arr := NewArraySchema(fields, true)
	if obj.Fingerprint == arr.Fingerprint {
		t.Error("object-mode and array-mode schemas over identical fields must not collide")
	}
}

func TestFingerprintStableAcrossFieldOrderDependentNaming(t *testing.T) {
	a := NewSchema([]FieldDef{{Name: "a", Type: Int8Type}, {Name: "b", Type: StringType}})
	b := NewSchema([]FieldDef{{Name: "a", Type: Int8Type}, {Name: "b", Type: StringType}})
	if a.Fingerprint != b.Fingerprint {
		t.Error("identical field sets in the same order must fingerprint identically")
	}
}

func TestUnmarshalSchemaLegacyForm(t *testing.T) {
	// Hand-build the shortened legacy form: id, version, fingerprint,
	// field count, then (nameLen, name, typeID, flags) per field with
	// no recursive payload.
	var buf []byte
	buf = appendUint32(buf, 3)
	buf = appendUint16(buf, 0)
	buf = appendUint64(buf, 0xdeadbeef)
	buf = append(buf, 1)
	buf = append(buf, byte(len("n")))
	buf = append(buf, "n"...)
	buf = append(buf, byte(TypeString), 0)

	got, _, err := UnmarshalSchema(buf)
	if err != nil {
		t.Fatalf("UnmarshalSchema(legacy) failed: %v", err)
	}
	if len(got.Fields) != 1 || got.Fields[0].Name != "n" || got.Fields[0].Type.ID != TypeString {
		t.Errorf("legacy unmarshal got %+v", got)
	}
}

// TestUnmarshalSchemaLegacyFormNonTrailingComposite hand-builds a legacy
// buffer whose first field is a composite type (Array) followed by
// another field, with trailing bytes chosen so that misreading it under
// the full-form grammar (which expects a recursive payload Array/Object
// never carry in the legacy encoding) succeeds without error yet leaves
// a byte unconsumed. This exercises UnmarshalSchema's fallback for a
// composite field that is not the legacy buffer's last field.
func TestUnmarshalSchemaLegacyFormNonTrailingComposite(t *testing.T) {
	var buf []byte
	buf = appendUint32(buf, 5)
	buf = appendUint16(buf, 0)
	buf = appendUint64(buf, 0xcafebabe)
	buf = append(buf, 2) // field count

	// Field 0: name "o", type Array, not nullable. Legacy form carries no
	// element type payload.
	buf = append(buf, 1, 'o', byte(TypeArray), 0)
	// Field 1: empty name, type String, not nullable.
	buf = append(buf, 0, byte(TypeString), 0)
	// Trailing bytes a full-form misparse of field 0's "element type"
	// walks into and past; present so the misparse doesn't hit a bounds
	// error first, masking the bug this test targets.
	buf = append(buf, 0, 0, 0)

	got, _, err := UnmarshalSchema(buf)
	if err != nil {
		t.Fatalf("UnmarshalSchema(legacy, non-trailing composite) failed: %v", err)
	}
	if len(got.Fields) != 2 {
		t.Fatalf("got %d fields, want 2: %+v", len(got.Fields), got.Fields)
	}
	if got.Fields[0].Name != "o" || got.Fields[0].Type.ID != TypeArray {
		t.Errorf("field 0 = %+v, want Array field named %q", got.Fields[0], "o")
	}
	if got.Fields[0].Type.Elem == nil || got.Fields[0].Type.Elem.ID != TypeUnion {
		t.Errorf("field 0 element type = %+v, want the legacy Union() placeholder", got.Fields[0].Type.Elem)
	}
	if got.Fields[1].Name != "" || got.Fields[1].Type.ID != TypeString {
		t.Errorf("field 1 = %+v, want an empty-named String field", got.Fields[1])
	}
}
