// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	json "github.com/goccy/go-json"
)

// StreamStats mirrors the delta-mode counters of the binding surface:
// how many updates were sent as a full Add versus a structural delta,
// and the resulting byte totals.
type StreamStats struct {
	UpdatesSent uint64
	FullSends   uint64
	DeltaSends  uint64
	BytesFull   uint64
	BytesDelta  uint64
}

// DeltaEfficiency reports the fractional byte savings of the average
// delta send relative to the average full send, 0 before either side
// has enough samples to compare.
func (s StreamStats) DeltaEfficiency() float64 {
	if s.FullSends == 0 || s.DeltaSends == 0 {
		return 0
	}
	avgFull := float64(s.BytesFull) / float64(s.FullSends)
	avgDelta := float64(s.BytesDelta) / float64(s.DeltaSends)
	if avgFull == 0 {
		return 0
	}
	return 1 - avgDelta/avgFull
}

// StreamSession tracks one side of a delta-mode conversation: the last
// JSON value observed and the counters above. Unlike Session, it never
// touches the schema cache — delta payloads are self-describing — so a
// StreamSession has no SchemaNotFoundError case. The first message of
// a conversation (or the first after Reset) must always be a DeltaAdd;
// Receive rejects anything else with ErrDecodeError since there is no
// prior value to apply a structural op against.
type StreamSession struct {
	opts     Options
	prev     interface{}
	hasState bool
	stats    StreamStats
	log      *log.Helper
}

// NewStreamSession constructs a StreamSession. A nil opts uses the
// same defaults as NewSession.
func NewStreamSession(opts *Options) *StreamSession {
	o := opts.withDefaults()
	return &StreamSession{
		opts: o,
		log:  helperOrDefault(o.Logger),
	}
}

// Stats returns a snapshot of the session's counters.
func (ss *StreamSession) Stats() StreamStats {
	return ss.stats
}

// Reset forgets the previous value, so the next Update is sent as a
// full Add.
func (ss *StreamSession) Reset() {
	ss.prev = nil
	ss.hasState = false
	ss.stats = StreamStats{}
}

// Update computes the delta between the session's remembered value and
// input, frames it, and advances the remembered value to input. The
// very first Update of a session (or after Reset) has nothing to diff
// against and is always sent as DeltaAdd carrying the whole value.
func (ss *StreamSession) Update(input []byte) ([]byte, error) {
	v, err := decodeJSONGeneric(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseError, err)
	}

	isFull := !ss.hasState
	var op DeltaOp
	if isFull {
		op = DeltaOp{Kind: DeltaAdd, Value: v}
	} else {
		op = ComputeDelta(ss.prev, v)
	}

	payload := SerializeDelta(op)
	payload = LZCompress(payload)

	flags := byte(FlagDeltaMessage) | byte(FlagStreaming)
	if ss.opts.EnableEntropy {
		payload = EntropyCompress(payload)
		flags |= byte(FlagEntropyCompressed)
	}
	if ss.opts.EnableChecksum {
		flags |= byte(FlagChecksumPresent)
	}

	out := append([]byte{}, magicFLUX[:]...)
	out = append(out, versionFLUX, flags)
	out = appendUint32(out, 0) // schema_id is unused in delta mode
	out = appendUint32(out, uint32(len(payload)))
	checksumPos := len(out)
	if ss.opts.EnableChecksum {
		out = appendUint32(out, 0)
	}
	out = append(out, payload...)

	if ss.opts.EnableChecksum {
		tail := append(append([]byte{}, out[4:checksumPos]...), out[checksumPos+4:]...)
		sum := crc32cChecksum(tail)
		out[checksumPos+0] = byte(sum)
		out[checksumPos+1] = byte(sum >> 8)
		out[checksumPos+2] = byte(sum >> 16)
		out[checksumPos+3] = byte(sum >> 24)
	}

	ss.prev = v
	ss.hasState = true
	ss.stats.UpdatesSent++
	if isFull {
		ss.stats.FullSends++
		ss.stats.BytesFull += uint64(len(out))
	} else {
		ss.stats.DeltaSends++
		ss.stats.BytesDelta += uint64(len(out))
	}
	return out, nil
}

// Receive reverses Update, applying the decoded delta against the
// session's remembered value and advancing it to the result.
func (ss *StreamSession) Receive(frame []byte) ([]byte, error) {
	h, pos, err := readFrameHeader(frame)
	if err != nil {
		return nil, err
	}
	uf := unknownFlags(h.flags)

	if hasFlag(h.flags, FlagChecksumPresent) && ss.opts.VerifyChecksum && !verifyChecksum(frame, h, pos) {
		ss.log.Warnf("flux: checksum mismatch decoding stream frame")
		return nil, wrapUnknownFlags(ErrChecksumMismatch, uf)
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

	op, _, err := DeserializeDelta(payload)
	if err != nil {
		return nil, wrapUnknownFlags(err, uf)
	}
	if !ss.hasState && op.Kind != DeltaAdd {
		ss.log.Warnf("flux: rejecting non-Add first stream message")
		return nil, wrapUnknownFlags(fmt.Errorf("%w: first stream message must be Add", ErrDecodeError), uf)
	}

	v := ApplyDelta(ss.prev, op)
	ss.prev = v
	ss.hasState = true

	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeError, err)
	}
	return out, nil
}
