// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import (
	"bytes"
	"strings"
	"testing"
)

func TestLZRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", []byte{}},
		{"short literal", []byte("hi")},
		{"no repetition", []byte("the quick brown fox")},
		{"repeated run", bytes.Repeat([]byte("ab"), 200)},
		{"json-ish", []byte(`{"a":1,"b":2,"c":[1,2,3],"d":null,"e":true,"f":false}`)},
		{"long repeated json", []byte(strings.Repeat(`{"id":1,"name":"x"},`, 50))},
		{"single byte repeated", bytes.Repeat([]byte{0x41}, 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed := LZCompress(tt.input)
			got, err := LZDecompress(compressed)
			if err != nil {
				t.Fatalf("LZDecompress failed: %v", err)
			}
			if !bytes.Equal(got, tt.input) {
				t.Errorf("roundtrip mismatch: got %q, want %q", got, tt.input)
			}
		})
	}
}

func TestLZDecompressRejectsBadMagic(t *testing.T) {
	_, err := LZDecompress([]byte{0x00, 0, 0, 0, 0, 0})
	if err == nil {
		t.Error("LZDecompress with bad magic: want error, got nil")
	}
}

func TestLZDecompressRejectsTruncated(t *testing.T) {
	_, err := LZDecompress([]byte{lzMagic, 1, 2})
	if err == nil {
		t.Error("LZDecompress with truncated container: want error, got nil")
	}
}

func TestLZDecompressRejectsBadOffset(t *testing.T) {
	// Well-formed container header, LZ mode, one token whose offset
	// points before the start of the buffer.
	body := []byte{0x00, 0xFF, 0xFF} // litLen=0, matchLen=0 (real length 4), offset=65535
	buf := []byte{lzMagic}
	buf = appendUint32(buf, 1)
	buf = append(buf, lzModeLZ)
	buf = append(buf, body...)
	_, err := LZDecompress(buf)
	if err == nil {
		t.Error("LZDecompress with out-of-range offset: want error, got nil")
	}
}
