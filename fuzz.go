// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

// Fuzz feeds arbitrary bytes into Session.Decompress. It never panics
// on malformed input; every failure mode is expected to surface as a
// plain error.
func Fuzz(data []byte) int {
	s := NewSession(nil)
	out, err := s.Decompress(data)
	if err != nil {
		return 0
	}
	if len(out) == 0 {
		return 0
	}
	return 1
}
