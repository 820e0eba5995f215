package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/gentam/qflash/host"
)

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func fatalUsage(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(2)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
	qflash --port <path> [--timeout <secs>] <command> [arguments]

Commands:
	info	 print flash identification and geometry
	status	 print the flash status register
	erase	 erase a flash range
	write	 write a file to flash
	read	 read flash to a file
	verify	 verify flash contents against a file
`)
	os.Exit(2)
}

var (
	portFlag    = flag.String("port", "", "serial port path")
	timeoutFlag = flag.Int("timeout", 0, "response timeout in seconds")
	verbose     = flag.Bool("v", false, "verbose diagnostics")
)

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
	}

	cfg := loadConfig()
	if *portFlag != "" {
		cfg.Port = *portFlag
	}
	if *timeoutFlag > 0 {
		cfg.Timeout = *timeoutFlag
	}

	switch cmd := flag.Arg(0); cmd {
	case "info":
		infoCommand(cfg)
	case "status":
		statusCommand(cfg)
	case "erase":
		eraseCommand(cfg, flag.Args()[1:])
	case "write":
		writeCommand(cfg, flag.Args()[1:])
	case "read":
		readCommand(cfg, flag.Args()[1:])
	case "verify":
		verifyCommand(cfg, flag.Args()[1:])
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %q\n", cmd)
		usage()
	}
}

// parseNum accepts decimal or 0x-prefixed hex.
func parseNum(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	return uint32(n), err
}

func openCommander(cfg config, opts ...host.Option) (*host.Commander, func()) {
	if cfg.Port == "" {
		fatalUsage("serial port is required (--port)")
	}

	mode := &serial.Mode{BaudRate: 115200} // ignored for USB CDC
	p, err := serial.Open(cfg.Port, mode)
	if err != nil {
		fatalf("failed to open %s: %v", cfg.Port, err)
	}
	if err := p.SetReadTimeout(100 * time.Millisecond); err != nil {
		p.Close()
		fatalf("failed to set read timeout: %v", err)
	}

	logger := zerolog.Nop()
	if *verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}

	opts = append(opts,
		host.WithTimeout(time.Duration(cfg.Timeout)*time.Second),
		host.WithLogger(logger),
	)
	if cfg.PayloadCap > 0 {
		opts = append(opts, host.WithPayloadCap(cfg.PayloadCap))
	}

	return host.New(p, opts...), func() { p.Close() }
}

// progressLine renders bulk-flow progress on one terminal line.
func progressLine(p host.Progress) {
	pct := 0
	if p.Total > 0 {
		pct = 100 * p.Done / p.Total
	}
	fmt.Printf("\r%s: %d/%d bytes (%d%%)", p.Phase, p.Done, p.Total, pct)
	if p.Done == p.Total {
		fmt.Println()
	}
}
