// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "inspect" {
		runInspect(os.Args[2:])
		return
	}
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Print(
		`
┌─┐┬  ┬ ┬─┐ ┬
├┤ │  │ ┌┴┬┘
└  ┴─┘└─┘ └─

	A schema-aware JSON compression engine.
`)
}
