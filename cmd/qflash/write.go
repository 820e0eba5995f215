package main

import (
	"context"
	"flag"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/gentam/qflash/host"
)

func writeCommand(cfg config, args []string) {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	var (
		filename string
		addrStr  string
		erase    bool
		verify   bool
		basic    bool
	)
	fs.StringVar(&filename, "file", "", "input file")
	fs.StringVar(&addrStr, "address", "0", "start address (decimal or 0x hex)")
	fs.BoolVar(&erase, "erase", false, "erase the range before writing")
	fs.BoolVar(&verify, "verify", false, "verify after writing")
	fs.BoolVar(&basic, "basic", false, "per-frame acknowledged writes instead of streaming")
	fs.Parse(args)

	if filename == "" {
		fatalUsage("input file is required (--file)")
	}
	addr, err := parseNum(addrStr)
	if err != nil {
		fatalUsage("bad address %q: %v", addrStr, err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		fatalf("failed to read file: %v", err)
	}
	if len(data) == 0 {
		fatalf("%s is empty", filename)
	}

	c, closePort := openCommander(cfg, host.WithProgress(progressLine))
	defer closePort()
	ctx := context.Background()

	if erase {
		if err := c.Erase(ctx, addr, uint32(len(data))); err != nil {
			fatalf("erase failed: %v", err)
		}
	}

	if basic {
		if err := c.WriteBasic(ctx, addr, data); err != nil {
			fatalf("write failed: %v", err)
		}
		if verify {
			want := crc32.ChecksumIEEE(data)
			equal, actual, err := c.VerifyCRC(ctx, addr, uint32(len(data)), want)
			if err != nil {
				fatalf("verify failed: %v", err)
			}
			if !equal {
				fatalf("verify mismatch: expected CRC 0x%08X, device has 0x%08X", want, actual)
			}
		}
	} else {
		// Streaming writes always close with a whole-range CRC check.
		if err := c.Write(ctx, addr, data); err != nil {
			fatalf("write failed: %v", err)
		}
	}

	fmt.Printf("wrote %d bytes to 0x%06X\n", len(data), addr)
}
