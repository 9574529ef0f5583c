// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"strconv"

	json "github.com/goccy/go-json"
)

// maxInferenceSamples bounds how many samples the cross-sample merge
// folds before a caller is expected to treat the schema as settled.
const maxInferenceSamples = 100

// Inferrer folds successive JSON samples into a single merged Schema.
// It is not safe for concurrent use, matching the single-threaded
// cooperative model of the rest of this package.
type Inferrer struct {
	merged  *FieldType
	samples int
}

// NewInferrer returns an empty Inferrer.
func NewInferrer() *Inferrer {
	return &Inferrer{}
}

// Observe folds one decoded JSON value into the running merge. Once
// maxInferenceSamples samples have been folded, further calls are
// no-ops: the schema is considered stable.
func (inf *Inferrer) Observe(v interface{}) {
	if inf.samples >= maxInferenceSamples {
		return
	}
	t := inferValue(v)
	if inf.merged == nil {
		inf.merged = &t
	} else {
		m := Merge(*inf.merged, t)
		inf.merged = &m
	}
	inf.samples++
}

// Schema materializes the current merge as a Schema. The caller must
// have observed either a top-level JSON object, or a top-level array
// of uniformly shaped objects (the columnar sub-mode's input shape);
// anything else is reported as ErrUnsupportedType since FLUX's schema
// cache is keyed on object field sets.
func (inf *Inferrer) Schema() (*Schema, error) {
	if inf.merged == nil {
		return nil, ErrUnsupportedType
	}
	if inf.merged.ID == TypeObject {
		return NewArraySchema(inf.merged.Fields, false), nil
	}
	if inf.merged.ID == TypeArray && inf.merged.Elem.ID == TypeObject {
		return NewArraySchema(inf.merged.Elem.Fields, true), nil
	}
	return nil, ErrUnsupportedType
}

// inferValue computes the FieldType of a single decoded JSON value.
// Numbers arrive as json.Number (callers decode with UseNumber) so
// integer vs float can be told apart, and strings are probed for the
// Timestamp and Uuid refined shapes before falling back to String.
func inferValue(v interface{}) FieldType {
	switch x := v.(type) {
	case nil:
		return NullType
	case bool:
		return BoolType
	case json.Number:
		return inferNumber(string(x))
	case float64:
		return inferNumber(strconv.FormatFloat(x, 'g', -1, 64))
	case string:
		return inferString(x)
	case []interface{}:
		return inferArray(x)
	case map[string]interface{}:
		return inferObject(x)
	default:
		return UnionType()
	}
}

func inferNumber(s string) FieldType {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return narrowestIntType(n)
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return Float64Type
	}
	return StringType
}

// narrowestIntType picks the smallest signed fixed width containing n.
func narrowestIntType(n int64) FieldType {
	switch {
	case n >= -1<<7 && n <= 1<<7-1:
		return Int8Type
	case n >= -1<<15 && n <= 1<<15-1:
		return Int16Type
	case n >= -1<<31 && n <= 1<<31-1:
		return Int32Type
	default:
		return Int64Type
	}
}

func inferString(s string) FieldType {
	if _, ok := parseTimestampMillis(s); ok && looksLikeISO8601(s) {
		return TimestampType
	}
	if looksLikeUUID(s) {
		return UUIDType
	}
	return StringType
}

// looksLikeISO8601 guards parseTimestampMillis's loose positional parse
// with a length window for the Timestamp shape (10-30 chars), so that
// arbitrary numeric-looking strings outside that window don't get
// misclassified.
func looksLikeISO8601(s string) bool {
	return len(s) >= 10 && len(s) <= 30
}

// looksLikeUUID checks the canonical 8-4-4-4-12 hyphenated hex shape,
// exactly 36 characters.
func looksLikeUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, c := range s {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !isHexDigit(byte(c)) {
				return false
			}
		}
	}
	return true
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func inferArray(a []interface{}) FieldType {
	if len(a) == 0 {
		return ArrayType(UnionType())
	}
	elem := inferValue(a[0])
	for _, v := range a[1:] {
		elem = Merge(elem, inferValue(v))
	}
	return ArrayType(elem)
}

func inferObject(o map[string]interface{}, _ ...string) FieldType {
	keys := orderedKeys(o)
	fields := make([]FieldDef, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, FieldDef{Name: k, Type: inferValue(o[k])})
	}
	return ObjectType(fields)
}

// orderedKeys returns a deterministic key order for a decoded object.
// Insertion order from the JSON decoder isn't relied upon here, since
// key order isn't guaranteed across JSON parsers; schema field order
// is instead a stable lexical order so two sessions observing the same
// field set converge on the same fingerprint regardless of decoder.
func orderedKeys(o map[string]interface{}) []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	insertionSortStrings(keys)
	return keys
}

func insertionSortStrings(keys []string) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
}
