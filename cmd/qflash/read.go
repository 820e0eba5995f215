package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/gentam/qflash/host"
)

func readCommand(cfg config, args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	var (
		filename string
		addrStr  string
		sizeStr  string
	)
	fs.StringVar(&filename, "file", "", "output file (default: hexdump)")
	fs.StringVar(&addrStr, "address", "0", "start address (decimal or 0x hex)")
	fs.StringVar(&sizeStr, "size", "", "number of bytes to read")
	fs.Parse(args)

	if sizeStr == "" {
		fatalUsage("read requires --size")
	}
	addr, err := parseNum(addrStr)
	if err != nil {
		fatalUsage("bad address %q: %v", addrStr, err)
	}
	size, err := parseNum(sizeStr)
	if err != nil {
		fatalUsage("bad size %q: %v", sizeStr, err)
	}

	opts := []host.Option{}
	if filename != "" {
		opts = append(opts, host.WithProgress(progressLine))
	}
	c, closePort := openCommander(cfg, opts...)
	defer closePort()

	data, err := c.Read(context.Background(), addr, size)
	if err != nil {
		fatalf("read failed: %v", err)
	}

	if filename == "" {
		fmt.Println(hex.Dump(data))
		return
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		fatalf("write file failed: %v", err)
	}
	fmt.Printf("read %d bytes from 0x%06X to %s\n", len(data), addr, filename)
}
