package main

import (
	"context"
	"fmt"
)

func infoCommand(cfg config) {
	c, closePort := openCommander(cfg)
	defer closePort()

	info, err := c.Info(context.Background())
	if err != nil {
		fatalf("info failed: %v", err)
	}

	fmt.Printf("JEDEC ID:     %X\n", info.JEDECID)
	fmt.Printf("Total size:   %d bytes (%d MB)\n", info.TotalSize, info.TotalSize>>20)
	fmt.Printf("Page size:    %d bytes\n", info.PageSize)
	fmt.Printf("Sector size:  %d bytes\n", info.SectorSize)
}
