// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"bytes"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	json "github.com/goccy/go-json"
)

// Options configures a Session or StreamSession. A nil *Options
// resolves to the defaults (columnar and entropy enabled, checksum off)
// inside the constructors; a non-nil Options is used as given, except
// that a nil Logger falls back to the default logger.
type Options struct {
	// Logger receives structured diagnostics; nil uses an
	// error-level-filtered stdout logger.
	Logger log.Logger

	// EnableColumnar permits transposing a top-level array of uniform
	// objects into the columnar sub-mode. COLUMNAR is
	// advisory: disabling it only means this session always encodes
	// row-oriented, not that it can't decode columnar frames from a
	// peer.
	EnableColumnar bool

	// EnableEntropy runs the nibble-rank entropy coder over the
	// LZ-compressed (or raw) payload before framing.
	EnableEntropy bool

	// EnableChecksum writes a CRC32C into the checksum field of each
	// produced frame's header.
	EnableChecksum bool

	// VerifyChecksum additionally verifies CHECKSUM_PRESENT frames on
	// decode. A mismatch is not fatal by default; set this to opt into
	// the stricter behavior.
	VerifyChecksum bool
}

func (o *Options) withDefaults() Options {
	if o == nil {
		return Options{EnableColumnar: true, EnableEntropy: true}
	}
	return *o
}

// Stats mirrors the per-session counters of the binding surface.
type Stats struct {
	MessagesProcessed uint64
	BytesIn           uint64
	BytesOut          uint64
	SchemasCached     uint32
	CacheHits         uint64
	CacheMisses       uint64
}

// CompressionRatio reports BytesOut/BytesIn, 0 when nothing has been
// processed yet.
func (s Stats) CompressionRatio() float64 {
	if s.BytesIn == 0 {
		return 0
	}
	return float64(s.BytesOut) / float64(s.BytesIn)
}

// Session orchestrates one producer/consumer conversation: JSON parse,
// schema inference and caching, value encoding, and the LZ/entropy/
// frame pipeline.
type Session struct {
	cache    *SchemaCache
	inferrer *Inferrer
	opts     Options
	stats    Stats
	log      *log.Helper
}

// NewSession constructs a Session. A nil opts uses the defaults
// (columnar and entropy enabled, checksum off).
func NewSession(opts *Options) *Session {
	o := opts.withDefaults()
	return &Session{
		cache:    NewSchemaCache(),
		inferrer: NewInferrer(),
		opts:     o,
		log:      helperOrDefault(o.Logger),
	}
}

// Stats returns a snapshot of the session's counters.
func (s *Session) Stats() Stats {
	s.stats.SchemasCached = uint32(s.cache.Len())
	return s.stats
}

// Reset clears the schema cache and inference state and zeroes stats,
// matching the consumer-facing `session_reset` operation.
func (s *Session) Reset() {
	s.cache.Reset()
	s.inferrer = NewInferrer()
	s.stats = Stats{}
}

// Compress runs parse -> infer+merge -> schema cache lookup -> encode
// -> LZ -> entropy -> frame.
func (s *Session) Compress(input []byte) ([]byte, error) {
	v, err := decodeJSONGeneric(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseError, err)
	}

	s.inferrer.Observe(v)
	schema, err := s.inferrer.Schema()
	if err != nil {
		return nil, err
	}

	id, miss := s.cache.Register(schema)
	if miss {
		s.stats.CacheMisses++
		s.log.Debugf("flux: schema cache miss, registered id=%d fingerprint=%d", id, schema.Fingerprint)
	} else {
		s.stats.CacheHits++
		schema, _ = s.cache.Lookup(id)
	}

	var payload []byte
	flags := byte(0)

	if schema.IsArray {
		rows, ok := toObjectRows(v)
		if !ok {
			return nil, fmt.Errorf("%w: expected array of objects", ErrEncodeError)
		}
		if s.opts.EnableColumnar {
			payload, err = EncodeColumnar(ObjectType(schema.Fields), rows)
			if err != nil {
				return nil, err
			}
			flags |= byte(FlagColumnar)
		} else {
			payload, err = encodeValue(nil, ArrayType(ObjectType(schema.Fields)), toInterfaceSlice(rows))
			if err != nil {
				return nil, err
			}
		}
	} else {
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: expected object", ErrEncodeError)
		}
		payload, err = EncodeObject(schema, obj)
		if err != nil {
			return nil, err
		}
	}

	payload = LZCompress(payload)
	if s.opts.EnableEntropy {
		payload = EntropyCompress(payload)
		flags |= byte(FlagEntropyCompressed)
	}

	var schemaBlock []byte
	if miss {
		flags |= byte(FlagSchemaIncluded)
		schemaBlock = schema.MarshalBinary()
	}

	if s.opts.EnableChecksum {
		flags |= byte(FlagChecksumPresent)
	}

	h := frameHeader{
		magic:      magicFLUX,
		version:    versionFLUX,
		flags:      flags,
		schemaID:   id,
		payloadLen: uint32(len(payload)),
	}

	var out []byte
	out = append(out, h.magic[:]...)
	out = append(out, h.version, h.flags)
	out = appendUint32(out, h.schemaID)
	out = appendUint32(out, h.payloadLen)
	checksumPos := len(out)
	if s.opts.EnableChecksum {
		out = appendUint32(out, 0) // placeholder, patched below
	}
	if miss {
		out = putUvarint(out, uint64(len(schemaBlock)))
		out = append(out, schemaBlock...)
	}
	out = append(out, payload...)

	if s.opts.EnableChecksum {
		// CRC32C over everything after the magic, excluding the
		// checksum field's own 4 bytes.
		tail := make([]byte, 0, len(out)-checksumPos-4+checksumPos-4)
		tail = append(tail, out[4:checksumPos]...)
		tail = append(tail, out[checksumPos+4:]...)
		sum := crc32cChecksum(tail)
		out[checksumPos+0] = byte(sum)
		out[checksumPos+1] = byte(sum >> 8)
		out[checksumPos+2] = byte(sum >> 16)
		out[checksumPos+3] = byte(sum >> 24)
	}

	s.stats.MessagesProcessed++
	s.stats.BytesIn += uint64(len(input))
	s.stats.BytesOut += uint64(len(out))
	return out, nil
}

// Decompress reverses Compress. LZ presence is detected independently
// of any frame flag by the 0x4C payload magic, so legacy frames
// without the bit still decode.
func (s *Session) Decompress(frame []byte) ([]byte, error) {
	h, pos, err := readFrameHeader(frame)
	if err != nil {
		return nil, err
	}
	uf := unknownFlags(h.flags)

	if hasFlag(h.flags, FlagChecksumPresent) && s.opts.VerifyChecksum && !verifyChecksum(frame, h, pos) {
		s.log.Warnf("flux: checksum mismatch decoding frame for schema id=%d", h.schemaID)
		return nil, wrapUnknownFlags(fmt.Errorf("%w: schema id=%d", ErrChecksumMismatch, h.schemaID), uf)
	}

	var schema *Schema
	if hasFlag(h.flags, FlagSchemaIncluded) {
		n, next, err := takeUvarint(frame, pos)
		if err != nil {
			return nil, wrapUnknownFlags(err, uf)
		}
		pos = next
		if pos+int(n) > len(frame) {
			return nil, wrapUnknownFlags(fmt.Errorf("%w: embedded schema block truncated", ErrCorruptedData), uf)
		}
		schema, _, err = UnmarshalSchema(frame[pos : pos+int(n)])
		if err != nil {
			return nil, wrapUnknownFlags(err, uf)
		}
		pos += int(n)
		schema.ID = h.schemaID
		s.cache.Adopt(schema)
		s.log.Debugf("flux: adopted embedded schema id=%d fingerprint=%d", schema.ID, schema.Fingerprint)
	} else {
		var ok bool
		schema, ok = s.cache.Lookup(h.schemaID)
		if !ok {
			s.log.Warnf("flux: schema id=%d not found in cache", h.schemaID)
			return nil, wrapUnknownFlags(&SchemaNotFoundError{ID: h.schemaID}, uf)
		}
	}

	payload := frame[pos:]
	if int(h.payloadLen) <= len(payload) {
		payload = payload[:h.payloadLen]
	}

	if hasFlag(h.flags, FlagEntropyCompressed) {
		payload, err = EntropyDecompress(payload)
		if err != nil {
			return nil, wrapUnknownFlags(err, uf)
		}
	}
	if len(payload) > 0 && payload[0] == lzMagic {
		payload, err = LZDecompress(payload)
		if err != nil {
			return nil, wrapUnknownFlags(err, uf)
		}
	}

	var v interface{}
	if hasFlag(h.flags, FlagColumnar) {
		rows, _, err := DecodeColumnar(ObjectType(schema.Fields), payload)
		if err != nil {
			return nil, wrapUnknownFlags(err, uf)
		}
		v = toInterfaceSlice(rows)
	} else if schema.IsArray {
		decoded, _, err := decodeValue(payload, 0, ArrayType(ObjectType(schema.Fields)))
		if err != nil {
			return nil, wrapUnknownFlags(err, uf)
		}
		v = decoded
	} else {
		obj, _, err := DecodeObject(schema, payload)
		if err != nil {
			return nil, wrapUnknownFlags(err, uf)
		}
		v = obj
	}

	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeError, err)
	}
	s.stats.MessagesProcessed++
	s.stats.BytesIn += uint64(len(frame))
	s.stats.BytesOut += uint64(len(out))
	return out, nil
}

// decodeJSONGeneric parses input with UseNumber so the inferrer can
// distinguish integer and float literals.
func decodeJSONGeneric(input []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func toObjectRows(v interface{}) ([]map[string]interface{}, bool) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	rows := make([]map[string]interface{}, len(arr))
	for i, e := range arr {
		obj, ok := e.(map[string]interface{})
		if !ok {
			return nil, false
		}
		rows[i] = obj
	}
	return rows, true
}

func toInterfaceSlice(rows []map[string]interface{}) []interface{} {
	out := make([]interface{}, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}
