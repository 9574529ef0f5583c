// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

import "math"

// moduleVersion is the user-visible version string returned by
// Version(), independent of the wire frame version byte.
const moduleVersion = "0.1.0"

// Version returns the module's user-visible version string.
func Version() string {
	return moduleVersion
}

// IsJSON skips leading whitespace and reports whether the first
// non-space byte is '{' or '['. It does not attempt a full
// parse.
func IsJSON(data []byte) bool {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
	return false
}

// AnalyzeResult is the summary returned by Analyze, used to steer
// callers between one-shot and session modes.
type AnalyzeResult struct {
	InputSize      int
	IsJSON         bool
	UniqueSymbols  int
	EntropyBits    float64
	EstimatedRatio float64
	Recommended    string
}

// Analyze computes a cheap statistical summary of data without
// running the full compression pipeline.
func Analyze(data []byte) AnalyzeResult {
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	unique := 0
	var entropy float64
	n := float64(len(data))
	for _, c := range freq {
		if c == 0 {
			continue
		}
		unique++
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}

	isJSON := IsJSON(data)
	recommended := "session"
	if !isJSON {
		recommended = "raw"
	} else if len(data) < 256 {
		recommended = "oneshot"
	}

	estimatedRatio := 1.0
	if len(data) > 0 {
		estimatedRatio = (entropy * n / 8) / n
		if estimatedRatio <= 0 {
			estimatedRatio = 0.01
		}
	}

	return AnalyzeResult{
		InputSize:      len(data),
		IsJSON:         isJSON,
		UniqueSymbols:  unique,
		EntropyBits:    entropy,
		EstimatedRatio: estimatedRatio,
		Recommended:    recommended,
	}
}
