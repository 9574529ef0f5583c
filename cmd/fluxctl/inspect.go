// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"

	flux "go.fluxcodec.dev/flux"
)

// runInspect is a flag-based quick dumper: unlike the compress/decompress/
// analyze cobra commands, it reads only a frame's fixed header fields and
// prints them without running the schema cache or the LZ/entropy/value
// codec pipeline, for fast sanity-checking of a frame on disk.
func runInspect(args []string) {
	inspectCmd := flag.NewFlagSet("inspect", flag.ExitOnError)
	wantRaw := inspectCmd.Bool("raw", false, "print the flags byte as raw hex instead of flag names")
	inspectCmd.Parse(args)

	rest := inspectCmd.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: fluxctl inspect [-raw] <file>")
		os.Exit(1)
	}

	data, cleanup, err := readInput(rest[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	h, err := flux.InspectFrameHeader(data)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("magic=%s version=%#x schema_id=%d payload_len=%d\n", h.Magic, h.Version, h.SchemaID, h.PayloadLen)
	if *wantRaw {
		fmt.Printf("flags=%#02x\n", h.Flags)
		return
	}
	if len(h.FlagNames) == 0 {
		fmt.Println("flags: (none)")
		return
	}
	for _, name := range h.FlagNames {
		fmt.Println("flag:", name)
	}
}
