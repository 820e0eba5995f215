package main

import (
	"context"
	"flag"
	"fmt"
)

func eraseCommand(cfg config, args []string) {
	fs := flag.NewFlagSet("erase", flag.ExitOnError)
	var (
		addrStr string
		sizeStr string
	)
	fs.StringVar(&addrStr, "address", "", "start address (decimal or 0x hex)")
	fs.StringVar(&sizeStr, "size", "", "size in bytes (decimal or 0x hex)")
	fs.Parse(args)

	if addrStr == "" || sizeStr == "" {
		fatalUsage("erase requires --address and --size")
	}
	addr, err := parseNum(addrStr)
	if err != nil {
		fatalUsage("bad address %q: %v", addrStr, err)
	}
	size, err := parseNum(sizeStr)
	if err != nil {
		fatalUsage("bad size %q: %v", sizeStr, err)
	}

	c, closePort := openCommander(cfg)
	defer closePort()

	if err := c.Erase(context.Background(), addr, size); err != nil {
		fatalf("erase failed: %v", err)
	}
	fmt.Printf("erased [0x%06X, 0x%06X) (sector-rounded)\n", addr, addr+size)
}
