package main

import (
	"context"
	"flag"
	"fmt"
	"hash/crc32"
	"os"
)

func verifyCommand(cfg config, args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	var (
		filename string
		addrStr  string
	)
	fs.StringVar(&filename, "file", "", "file to verify against")
	fs.StringVar(&addrStr, "address", "0", "start address (decimal or 0x hex)")
	fs.Parse(args)

	if filename == "" {
		fatalUsage("verify requires --file")
	}
	addr, err := parseNum(addrStr)
	if err != nil {
		fatalUsage("bad address %q: %v", addrStr, err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		fatalf("failed to read file: %v", err)
	}

	c, closePort := openCommander(cfg)
	defer closePort()

	want := crc32.ChecksumIEEE(data)
	equal, actual, err := c.VerifyCRC(context.Background(), addr, uint32(len(data)), want)
	if err != nil {
		fatalf("verify failed: %v", err)
	}
	if !equal {
		fatalf("mismatch: file CRC 0x%08X, flash CRC 0x%08X", want, actual)
	}
	fmt.Printf("verified %d bytes at 0x%06X (CRC 0x%08X)\n", len(data), addr, want)
}
