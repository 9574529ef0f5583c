// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
)

// DeltaKind is the one-byte tag for a DeltaOp variant.
type DeltaKind byte

const (
	DeltaUnchanged DeltaKind = 0
	DeltaAdd       DeltaKind = 1
	DeltaRemove    DeltaKind = 2
	DeltaModify    DeltaKind = 3
	DeltaArrayOps  DeltaKind = 4
	DeltaObjectOps DeltaKind = 5
)

// ArrayOpKind is the one-byte tag for an ArrayOp variant.
type ArrayOpKind byte

const (
	ArrayKeep    ArrayOpKind = 0
	ArrayInsert  ArrayOpKind = 1
	ArrayDelete  ArrayOpKind = 2
	ArrayReplace ArrayOpKind = 3
)

// ObjectOpKind is the one-byte tag for an ObjectOp variant.
type ObjectOpKind byte

const (
	ObjectKeep   ObjectOpKind = 0
	ObjectAdd    ObjectOpKind = 1
	ObjectRemove ObjectOpKind = 2
	ObjectModify ObjectOpKind = 3
)

// DeltaOp is the recursive structural-diff tagged sum.
type DeltaOp struct {
	Kind      DeltaKind
	Value     interface{} // Add, Modify
	ArrayOps  []ArrayOp   // ArrayOps
	ObjectOps []ObjectOp  // ObjectOps
}

// ArrayOp is one element of an ArrayOps delta.
type ArrayOp struct {
	Kind   ArrayOpKind
	N      int           // Keep, Delete
	Values []interface{} // Insert
	Value  interface{}   // Replace
}

// ObjectOp is one element of an ObjectOps delta.
type ObjectOp struct {
	Kind  ObjectOpKind
	Key   string
	Value interface{} // Add
	Delta *DeltaOp    // Modify
}

// ComputeDelta computes the recursive structural diff between prev and
// current.
func ComputeDelta(prev, current interface{}) DeltaOp {
	if jsonEqual(prev, current) {
		return DeltaOp{Kind: DeltaUnchanged}
	}
	pm, pOk := prev.(map[string]interface{})
	cm, cOk := current.(map[string]interface{})
	if pOk && cOk {
		return computeObjectDelta(pm, cm)
	}
	pa, paOk := prev.([]interface{})
	ca, caOk := current.([]interface{})
	if paOk && caOk {
		return computeArrayDelta(pa, ca)
	}
	return DeltaOp{Kind: DeltaModify, Value: current}
}

func computeObjectDelta(prev, current map[string]interface{}) DeltaOp {
	keys := make([]string, 0, len(current))
	for k := range current {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var ops []ObjectOp
	for _, k := range keys {
		cv := current[k]
		if pv, ok := prev[k]; ok {
			sub := ComputeDelta(pv, cv)
			if sub.Kind == DeltaUnchanged {
				ops = append(ops, ObjectOp{Kind: ObjectKeep, Key: k})
			} else {
				ops = append(ops, ObjectOp{Kind: ObjectModify, Key: k, Delta: &sub})
			}
		} else {
			ops = append(ops, ObjectOp{Kind: ObjectAdd, Key: k, Value: cv})
		}
	}

	removedKeys := make([]string, 0)
	for k := range prev {
		if _, ok := current[k]; !ok {
			removedKeys = append(removedKeys, k)
		}
	}
	sort.Strings(removedKeys)
	for _, k := range removedKeys {
		ops = append(ops, ObjectOp{Kind: ObjectRemove, Key: k})
	}

	return DeltaOp{Kind: DeltaObjectOps, ObjectOps: ops}
}

func computeArrayDelta(prev, current []interface{}) DeltaOp {
	var ops []ArrayOp
	i, j := 0, 0
	for i < len(prev) && j < len(current) {
		if jsonEqual(prev[i], current[j]) {
			n := 0
			for i < len(prev) && j < len(current) && jsonEqual(prev[i], current[j]) {
				n++
				i++
				j++
			}
			ops = append(ops, ArrayOp{Kind: ArrayKeep, N: n})
			continue
		}
		ops = append(ops, ArrayOp{Kind: ArrayReplace, Value: current[j]})
		i++
		j++
	}
	if i < len(prev) {
		ops = append(ops, ArrayOp{Kind: ArrayDelete, N: len(prev) - i})
	}
	if j < len(current) {
		ops = append(ops, ArrayOp{Kind: ArrayInsert, Values: append([]interface{}{}, current[j:]...)})
	}
	return DeltaOp{Kind: DeltaArrayOps, ArrayOps: ops}
}

// ApplyDelta reconstructs current from prev and op. Required invariant
//: ApplyDelta(prev, ComputeDelta(prev, current)) == current
// up to JSON equality.
func ApplyDelta(prev interface{}, op DeltaOp) interface{} {
	switch op.Kind {
	case DeltaUnchanged:
		return prev
	case DeltaAdd, DeltaModify:
		return op.Value
	case DeltaRemove:
		return nil
	case DeltaArrayOps:
		pa, _ := prev.([]interface{})
		return applyArrayOps(pa, op.ArrayOps)
	case DeltaObjectOps:
		pm, _ := prev.(map[string]interface{})
		return applyObjectOps(pm, op.ObjectOps)
	default:
		return prev
	}
}

func applyArrayOps(prev []interface{}, ops []ArrayOp) []interface{} {
	out := make([]interface{}, 0, len(prev))
	pi := 0
	for _, op := range ops {
		switch op.Kind {
		case ArrayKeep:
			out = append(out, prev[pi:pi+op.N]...)
			pi += op.N
		case ArrayReplace:
			out = append(out, op.Value)
			pi++
		case ArrayDelete:
			pi += op.N
		case ArrayInsert:
			out = append(out, op.Values...)
		}
	}
	return out
}

func applyObjectOps(prev map[string]interface{}, ops []ObjectOp) map[string]interface{} {
	out := make(map[string]interface{}, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case ObjectKeep:
			out[op.Key] = prev[op.Key]
		case ObjectAdd:
			out[op.Key] = op.Value
		case ObjectRemove:
			// omitted from out
		case ObjectModify:
			out[op.Key] = ApplyDelta(prev[op.Key], *op.Delta)
		}
	}
	return out
}

// SerializeDelta writes the binary form of op. The
// delta payload never references a schema cache.
func SerializeDelta(op DeltaOp) []byte {
	return appendDeltaOp(nil, op)
}

func appendDeltaOp(buf []byte, op DeltaOp) []byte {
	buf = append(buf, byte(op.Kind))
	switch op.Kind {
	case DeltaUnchanged, DeltaRemove:
		// no payload
	case DeltaAdd, DeltaModify:
		buf = encodeGenericValue(buf, op.Value)
	case DeltaArrayOps:
		buf = putUvarint(buf, uint64(len(op.ArrayOps)))
		for _, a := range op.ArrayOps {
			buf = appendArrayOp(buf, a)
		}
	case DeltaObjectOps:
		buf = putUvarint(buf, uint64(len(op.ObjectOps)))
		for _, o := range op.ObjectOps {
			buf = appendObjectOp(buf, o)
		}
	}
	return buf
}

func appendArrayOp(buf []byte, op ArrayOp) []byte {
	buf = append(buf, byte(op.Kind))
	switch op.Kind {
	case ArrayKeep, ArrayDelete:
		buf = putUvarint(buf, uint64(op.N))
	case ArrayInsert:
		buf = putUvarint(buf, uint64(len(op.Values)))
		for _, v := range op.Values {
			buf = encodeGenericValue(buf, v)
		}
	case ArrayReplace:
		buf = encodeGenericValue(buf, op.Value)
	}
	return buf
}

func appendObjectOp(buf []byte, op ObjectOp) []byte {
	buf = append(buf, byte(op.Kind))
	switch op.Kind {
	case ObjectKeep, ObjectRemove:
		buf = encodeLenPrefixed(buf, []byte(op.Key))
	case ObjectAdd:
		buf = encodeLenPrefixed(buf, []byte(op.Key))
		buf = encodeGenericValue(buf, op.Value)
	case ObjectModify:
		buf = encodeLenPrefixed(buf, []byte(op.Key))
		buf = appendDeltaOp(buf, *op.Delta)
	}
	return buf
}

// DeserializeDelta reverses SerializeDelta.
func DeserializeDelta(buf []byte) (DeltaOp, int, error) {
	return readDeltaOp(buf, 0)
}

func readDeltaOp(buf []byte, pos int) (DeltaOp, int, error) {
	if pos >= len(buf) {
		return DeltaOp{}, 0, fmt.Errorf("%w: truncated delta tag", ErrDecodeError)
	}
	kind := DeltaKind(buf[pos])
	pos++

	switch kind {
	case DeltaUnchanged, DeltaRemove:
		return DeltaOp{Kind: kind}, pos, nil

	case DeltaAdd, DeltaModify:
		v, next, err := decodeGenericValue(buf, pos)
		if err != nil {
			return DeltaOp{}, 0, err
		}
		return DeltaOp{Kind: kind, Value: v}, next, nil

	case DeltaArrayOps:
		count, next, err := takeUvarint(buf, pos)
		if err != nil {
			return DeltaOp{}, 0, err
		}
		pos = next
		ops := make([]ArrayOp, 0, count)
		for i := uint64(0); i < count; i++ {
			op, n, err := readArrayOp(buf, pos)
			if err != nil {
				return DeltaOp{}, 0, err
			}
			pos = n
			ops = append(ops, op)
		}
		return DeltaOp{Kind: kind, ArrayOps: ops}, pos, nil

	case DeltaObjectOps:
		count, next, err := takeUvarint(buf, pos)
		if err != nil {
			return DeltaOp{}, 0, err
		}
		pos = next
		ops := make([]ObjectOp, 0, count)
		for i := uint64(0); i < count; i++ {
			op, n, err := readObjectOp(buf, pos)
			if err != nil {
				return DeltaOp{}, 0, err
			}
			pos = n
			ops = append(ops, op)
		}
		return DeltaOp{Kind: kind, ObjectOps: ops}, pos, nil

	default:
		return DeltaOp{}, 0, fmt.Errorf("%w: unknown delta tag %d", ErrDecodeError, kind)
	}
}

func readArrayOp(buf []byte, pos int) (ArrayOp, int, error) {
	if pos >= len(buf) {
		return ArrayOp{}, 0, fmt.Errorf("%w: truncated array-op tag", ErrDecodeError)
	}
	kind := ArrayOpKind(buf[pos])
	pos++
	switch kind {
	case ArrayKeep, ArrayDelete:
		n, next, err := takeUvarint(buf, pos)
		if err != nil {
			return ArrayOp{}, 0, err
		}
		return ArrayOp{Kind: kind, N: int(n)}, next, nil
	case ArrayInsert:
		count, next, err := takeUvarint(buf, pos)
		if err != nil {
			return ArrayOp{}, 0, err
		}
		pos = next
		vals := make([]interface{}, 0, count)
		for i := uint64(0); i < count; i++ {
			v, n, err := decodeGenericValue(buf, pos)
			if err != nil {
				return ArrayOp{}, 0, err
			}
			pos = n
			vals = append(vals, v)
		}
		return ArrayOp{Kind: kind, Values: vals}, pos, nil
	case ArrayReplace:
		v, next, err := decodeGenericValue(buf, pos)
		if err != nil {
			return ArrayOp{}, 0, err
		}
		return ArrayOp{Kind: kind, Value: v}, next, nil
	default:
		return ArrayOp{}, 0, fmt.Errorf("%w: unknown array-op tag %d", ErrDecodeError, kind)
	}
}

func readObjectOp(buf []byte, pos int) (ObjectOp, int, error) {
	if pos >= len(buf) {
		return ObjectOp{}, 0, fmt.Errorf("%w: truncated object-op tag", ErrDecodeError)
	}
	kind := ObjectOpKind(buf[pos])
	pos++
	switch kind {
	case ObjectKeep, ObjectRemove:
		key, next, err := decodeLenPrefixed(buf, pos)
		if err != nil {
			return ObjectOp{}, 0, err
		}
		return ObjectOp{Kind: kind, Key: string(key)}, next, nil
	case ObjectAdd:
		key, next, err := decodeLenPrefixed(buf, pos)
		if err != nil {
			return ObjectOp{}, 0, err
		}
		v, next2, err := decodeGenericValue(buf, next)
		if err != nil {
			return ObjectOp{}, 0, err
		}
		return ObjectOp{Kind: kind, Key: string(key), Value: v}, next2, nil
	case ObjectModify:
		key, next, err := decodeLenPrefixed(buf, pos)
		if err != nil {
			return ObjectOp{}, 0, err
		}
		sub, next2, err := readDeltaOp(buf, next)
		if err != nil {
			return ObjectOp{}, 0, err
		}
		return ObjectOp{Kind: kind, Key: string(key), Delta: &sub}, next2, nil
	default:
		return ObjectOp{}, 0, fmt.Errorf("%w: unknown object-op tag %d", ErrDecodeError, kind)
	}
}

// Generic JSON-kind tags for the delta codec's self-describing value
// encoding; independent of the schema-directed type ids
// in types.go.
const (
	genericNull   = 0
	genericTrue   = 1
	genericFalse  = 2
	genericInt    = 3
	genericFloat  = 4
	genericString = 5
	genericArray  = 6
	genericObject = 7
)

func encodeGenericValue(buf []byte, v interface{}) []byte {
	switch x := v.(type) {
	case nil:
		return append(buf, genericNull)
	case bool:
		if x {
			return append(buf, genericTrue)
		}
		return append(buf, genericFalse)
	case json.Number:
		if n, err := strconv.ParseInt(string(x), 10, 64); err == nil {
			buf = append(buf, genericInt)
			return putVarint(buf, n)
		}
		f, _ := strconv.ParseFloat(string(x), 64)
		buf = append(buf, genericFloat)
		return appendFloat64Bits(buf, f)
	case int64:
		buf = append(buf, genericInt)
		return putVarint(buf, x)
	case float64:
		buf = append(buf, genericFloat)
		return appendFloat64Bits(buf, x)
	case string:
		buf = append(buf, genericString)
		return encodeLenPrefixed(buf, []byte(x))
	case []interface{}:
		buf = append(buf, genericArray)
		buf = putUvarint(buf, uint64(len(x)))
		for _, e := range x {
			buf = encodeGenericValue(buf, e)
		}
		return buf
	case map[string]interface{}:
		buf = append(buf, genericObject)
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = putUvarint(buf, uint64(len(keys)))
		for _, k := range keys {
			buf = encodeLenPrefixed(buf, []byte(k))
			buf = encodeGenericValue(buf, x[k])
		}
		return buf
	default:
		buf = append(buf, genericNull)
		return buf
	}
}

func decodeGenericValue(buf []byte, pos int) (interface{}, int, error) {
	if pos >= len(buf) {
		return nil, 0, fmt.Errorf("%w: truncated generic value tag", ErrDecodeError)
	}
	kind := buf[pos]
	pos++
	switch kind {
	case genericNull:
		return nil, pos, nil
	case genericTrue:
		return true, pos, nil
	case genericFalse:
		return false, pos, nil
	case genericInt:
		n, next, err := takeVarint(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		return n, next, nil
	case genericFloat:
		if pos+8 > len(buf) {
			return nil, 0, fmt.Errorf("%w: truncated generic float", ErrDecodeError)
		}
		return readFloat64Bits(buf, pos), pos + 8, nil
	case genericString:
		raw, next, err := decodeLenPrefixed(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		return string(raw), next, nil
	case genericArray:
		count, next, err := takeUvarint(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		pos = next
		out := make([]interface{}, 0, count)
		for i := uint64(0); i < count; i++ {
			v, n, err := decodeGenericValue(buf, pos)
			if err != nil {
				return nil, 0, err
			}
			pos = n
			out = append(out, v)
		}
		return out, pos, nil
	case genericObject:
		count, next, err := takeUvarint(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		pos = next
		out := make(map[string]interface{}, count)
		for i := uint64(0); i < count; i++ {
			k, n, err := decodeLenPrefixed(buf, pos)
			if err != nil {
				return nil, 0, err
			}
			pos = n
			v, n2, err := decodeGenericValue(buf, pos)
			if err != nil {
				return nil, 0, err
			}
			pos = n2
			out[string(k)] = v
		}
		return out, pos, nil
	default:
		return nil, 0, fmt.Errorf("%w: unknown generic value tag %d", ErrDecodeError, kind)
	}
}

func appendFloat64Bits(buf []byte, f float64) []byte {
	return appendUint64(buf, math.Float64bits(f))
}

func readFloat64Bits(buf []byte, pos int) float64 {
	return math.Float64frombits(readUint64(buf, pos))
}

// jsonEqual compares two decoded JSON values for structural equality,
// treating numeric representations (json.Number, int64, float64)
// uniformly so a value round-tripped through either the schema codec
// or the generic delta codec compares equal to its source: equality
// up to JSON value semantics, not up to key order.
func jsonEqual(a, b interface{}) bool {
	if af, aok := asNumber(a); aok {
		if bf, bok := asNumber(b); bok {
			return af == bf
		}
		return false
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
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
			if !jsonEqual(av[i], bv[i]) {
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
			if !ok2 || !jsonEqual(v, bv2) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(string(x), 64)
		return f, err == nil
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
