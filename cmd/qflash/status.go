package main

import (
	"context"
	"fmt"
)

func statusCommand(cfg config) {
	c, closePort := openCommander(cfg)
	defer closePort()

	sr, faultAddr, err := c.Status(context.Background())
	if err != nil {
		fatalf("status failed: %v", err)
	}

	fmt.Println(sr)
	if faultAddr != 0 {
		fmt.Printf("last fault at 0x%06X\n", faultAddr)
	}
}
