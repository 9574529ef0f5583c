// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/spf13/cobra"

	flux "go.fluxcodec.dev/flux"
)

var (
	outPath       string
	wantColumnar  bool
	wantEntropy   bool
	wantChecksum  bool
	wantVerifyCRC bool
)

// readInput mmaps path read-only; the core package itself only works
// on in-memory byte slices.
func readInput(path string) ([]byte, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return data, func() {
		data.Unmap()
		f.Close()
	}, nil
}

func writeOutput(data []byte) error {
	if outPath == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

func runCompress(cmd *cobra.Command, args []string) error {
	data, cleanup, err := readInput(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	defer cleanup()

	s := flux.NewSession(&flux.Options{
		EnableColumnar: wantColumnar,
		EnableEntropy:  wantEntropy,
		EnableChecksum: wantChecksum,
	})
	out, err := s.Compress(data)
	if err != nil {
		return fmt.Errorf("compressing %s: %w", args[0], err)
	}

	log.Printf("compressed %d bytes -> %d bytes (ratio %.3f)",
		len(data), len(out), s.Stats().CompressionRatio())
	return writeOutput(out)
}

func runDecompress(cmd *cobra.Command, args []string) error {
	data, cleanup, err := readInput(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	defer cleanup()

	s := flux.NewSession(&flux.Options{VerifyChecksum: wantVerifyCRC})
	out, err := s.Decompress(data)
	if err != nil {
		return fmt.Errorf("decompressing %s: %w", args[0], err)
	}
	return writeOutput(out)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		var cleanup func()
		data, cleanup, err = readInput(args[0])
		if cleanup != nil {
			defer cleanup()
		}
	}
	if err != nil {
		return err
	}

	result := flux.Analyze(data)
	enc, err := json.MarshalIndent(result, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fluxctl",
		Short: "A schema-aware JSON compression engine",
		Long:  "fluxctl compresses and decompresses JSON with flux's schema-directed binary codec",
		Run: func(cmd *cobra.Command, args []string) {
			showHelp()
		},
	}

	compressCmd := &cobra.Command{
		Use:   "compress <file>",
		Short: "Compress a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE:  runCompress,
	}
	compressCmd.Flags().StringVarP(&outPath, "output", "o", "", "output path (default stdout)")
	compressCmd.Flags().BoolVar(&wantColumnar, "columnar", true, "enable columnar encoding for arrays of objects")
	compressCmd.Flags().BoolVar(&wantEntropy, "entropy", true, "enable the entropy coding stage")
	compressCmd.Flags().BoolVar(&wantChecksum, "checksum", false, "write a CRC32C into the frame header")

	decompressCmd := &cobra.Command{
		Use:   "decompress <file>",
		Short: "Decompress a flux frame back to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecompress,
	}
	decompressCmd.Flags().StringVarP(&outPath, "output", "o", "", "output path (default stdout)")
	decompressCmd.Flags().BoolVar(&wantVerifyCRC, "verify-checksum", false, "reject frames whose CRC32C does not match")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Print a statistical summary of a file without compressing it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runAnalyze,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("fluxctl", flux.Version())
		},
	}

	root.AddCommand(compressCmd, decompressCmd, analyzeCmd, versionCmd)
	return root
}
