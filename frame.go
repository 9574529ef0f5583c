// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"fmt"
	"hash/crc32"
)

// Frame flag bits.
const (
	FlagSchemaIncluded    uint16 = 1 << 0
	FlagColumnar          uint16 = 1 << 1
	FlagEntropyCompressed uint16 = 1 << 2
	FlagDeltaMessage      uint16 = 1 << 3
	FlagChecksumPresent   uint16 = 1 << 4
	FlagDictionaryUpdate  uint16 = 1 << 5
	FlagStreaming         uint16 = 1 << 6
)

// Frame magics and versions. This package always writes the
// FLUX variant; APEX/FPCK are recognized on decode for interop with
// other variant encoders sharing the same header shape.
var (
	magicFLUX = [4]byte{'F', 'L', 'U', 'X'}
	magicAPEX = [4]byte{'A', 'P', 'E', 'X'}
	magicFPCK = [4]byte{'F', 'P', 'C', 'K'}
)

const (
	versionFLUX = 0x20
	versionAPEX = 0x01
	versionFPCK = 0x01
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// frameHeader mirrors the fixed leading fields of a frame.
// flags holds the one-byte wire field as read; bits beyond
// FlagStreaming are preserved (not masked) for round-tripping unknown
// future bits through error messages.
type frameHeader struct {
	magic     [4]byte
	version   byte
	flags     byte
	schemaID  uint32
	payloadLen uint32
	checksum  uint32
}

// writeFrameHeader appends a FLUX-variant header to buf.
func writeFrameHeader(buf []byte, h frameHeader) []byte {
	buf = append(buf, h.magic[:]...)
	buf = append(buf, h.version, h.flags)
	buf = appendUint32(buf, h.schemaID)
	buf = appendUint32(buf, h.payloadLen)
	if h.flags&byte(FlagChecksumPresent) != 0 {
		buf = appendUint32(buf, h.checksum)
	}
	return buf
}

// readFrameHeader parses the fixed leading fields, validating magic
// and version, and returns the header plus the position just past it.
func readFrameHeader(buf []byte) (frameHeader, int, error) {
	if len(buf) < 14 {
		return frameHeader{}, 0, fmt.Errorf("%w: frame header truncated", ErrBufferTooSmall)
	}
	var h frameHeader
	copy(h.magic[:], buf[0:4])
	if !validMagic(h.magic) {
		return frameHeader{}, 0, fmt.Errorf("%w: %q", ErrInvalidMagic, h.magic[:])
	}
	h.version = buf[4]
	if !validVersion(h.magic, h.version) {
		return frameHeader{}, 0, fmt.Errorf("%w: magic %q version %#x", ErrUnsupportedVersion, h.magic[:], h.version)
	}
	h.flags = buf[5]
	h.schemaID = readUint32(buf, 6)
	h.payloadLen = readUint32(buf, 10)
	pos := 14

	if h.flags&byte(FlagChecksumPresent) != 0 {
		if pos+4 > len(buf) {
			return frameHeader{}, 0, fmt.Errorf("%w: checksum field truncated", ErrBufferTooSmall)
		}
		h.checksum = readUint32(buf, pos)
		pos += 4
	}
	return h, pos, nil
}

// FrameHeaderInfo is the decoded form of a frame's fixed leading fields,
// exposed for tooling that wants to inspect a frame without running the
// schema cache, LZ/entropy, or value codec stages.
type FrameHeaderInfo struct {
	Magic      string
	Version    byte
	Flags      byte
	FlagNames  []string
	SchemaID   uint32
	PayloadLen uint32
}

// InspectFrameHeader parses buf's fixed header fields only.
func InspectFrameHeader(buf []byte) (FrameHeaderInfo, error) {
	h, _, err := readFrameHeader(buf)
	if err != nil {
		return FrameHeaderInfo{}, err
	}
	return FrameHeaderInfo{
		Magic:      string(h.magic[:]),
		Version:    h.version,
		Flags:      h.flags,
		FlagNames:  flagNames(h.flags),
		SchemaID:   h.schemaID,
		PayloadLen: h.payloadLen,
	}, nil
}

var namedFlags = []struct {
	bit  uint16
	name string
}{
	{FlagSchemaIncluded, "schema-included"},
	{FlagColumnar, "columnar"},
	{FlagEntropyCompressed, "entropy-compressed"},
	{FlagDeltaMessage, "delta-message"},
	{FlagChecksumPresent, "checksum-present"},
	{FlagDictionaryUpdate, "dictionary-update"},
	{FlagStreaming, "streaming"},
}

// flagNames renders a header's flag byte as the set of recognized flag
// names it carries, plus a synthetic "unknown(0xNN)" entry when bits
// outside knownFlagsMask are set.
func flagNames(flags byte) []string {
	var names []string
	for _, nf := range namedFlags {
		if hasFlag(flags, nf.bit) {
			names = append(names, nf.name)
		}
	}
	if uf := unknownFlags(flags); uf != 0 {
		names = append(names, fmt.Sprintf("unknown(%#02x)", uf))
	}
	return names
}

func validMagic(m [4]byte) bool {
	return m == magicFLUX || m == magicAPEX || m == magicFPCK
}

func validVersion(m [4]byte, v byte) bool {
	switch m {
	case magicFLUX:
		return v == versionFLUX
	case magicAPEX:
		return v == versionAPEX
	case magicFPCK:
		return v == versionFPCK
	}
	return false
}

// crc32cChecksum computes CRC32C (Castagnoli) over data, the algorithm
// used for the optional frame checksum carried in the header.
func crc32cChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// hasFlag reports whether bit is set in a one-byte flags field.
func hasFlag(flags byte, bit uint16) bool {
	return flags&byte(bit) != 0
}

const knownFlagsMask = byte(FlagSchemaIncluded | FlagColumnar | FlagEntropyCompressed |
	FlagDeltaMessage | FlagChecksumPresent | FlagDictionaryUpdate | FlagStreaming)

// unknownFlags returns any bits of flags outside the set this build
// recognizes. Readers ignore these bits when deciding how to decode a
// frame; callers fold the result into an error message so a peer
// running a newer build's unrecognized flags are visible for
// diagnosis instead of silently discarded.
func unknownFlags(flags byte) byte {
	return flags &^ knownFlagsMask
}

// wrapUnknownFlags folds any unrecognized header flag bits into err's
// message when present, so a peer running a newer build's flags are
// visible in the failure even though readFrameHeader otherwise ignores
// them. err is returned unchanged when uf is zero.
func wrapUnknownFlags(err error, uf byte) error {
	if err == nil || uf == 0 {
		return err
	}
	return fmt.Errorf("%w (unknown frame flags: %#02x)", err, uf)
}

// verifyChecksum recomputes the CRC32C over a frame's payload-bearing
// bytes (everything after the magic, excluding the checksum field
// itself) and compares it against the value the header carried. pos is
// the offset readFrameHeader returned, i.e. just past the checksum
// field when FlagChecksumPresent is set.
func verifyChecksum(frame []byte, h frameHeader, pos int) bool {
	checksumPos := pos - 4
	tail := make([]byte, 0, len(frame)-8)
	tail = append(tail, frame[4:checksumPos]...)
	tail = append(tail, frame[pos:]...)
	return crc32cChecksum(tail) == h.checksum
}
