// qflashd runs the flash engine on the device: it opens the SPI bus to
// the external W25Q128 and the USB gadget serial port to the host, then
// services one protocol session per link.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/gentam/qflash"
	"github.com/gentam/qflash/engine"
)

func main() {
	var (
		portPath = flag.String("port", "/dev/ttyGS0", "serial port to the host")
		spiDev   = flag.String("spi", "", "SPI port name (default: first registered)")
		csName   = flag.String("cs", "GPIO8", "chip select GPIO name")
		fastRead = flag.Bool("fast-read", false, "use the Fast-Read opcode")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("app", "qflashd").Logger()
	if !*verbose {
		logger = logger.Level(zerolog.InfoLevel)
	}

	if err := run(logger, *portPath, *spiDev, *csName, *fastRead); err != nil {
		logger.Fatal().Err(err).Msg("qflashd failed")
	}
}

func run(logger zerolog.Logger, portPath, spiDev, csName string, fastRead bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flash, closeSPI, err := openFlash(spiDev, csName, fastRead)
	if err != nil {
		return err
	}
	defer closeSPI()

	if err := flash.PowerUp(); err != nil {
		return fmt.Errorf("flash power up: %w", err)
	}
	defer flash.PowerDown()

	id, name, err := flash.ReadID()
	if err != nil {
		return fmt.Errorf("read flash ID: %w", err)
	}
	if name == "" {
		logger.Warn().Hex("jedec", id[:]).Msg("unknown flash ID, using conservative timings")
	} else {
		logger.Info().Hex("jedec", id[:]).Str("chip", name).Msg("flash identified")
	}

	port, err := serial.Open(portPath, &serial.Mode{BaudRate: 115200})
	if err != nil {
		return fmt.Errorf("open %s: %w", portPath, err)
	}
	defer port.Close()
	if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}

	logger.Info().Str("port", portPath).Msg("serving")

	// One engine session per link; a truncated or closed link starts a
	// fresh session with clean state.
	for ctx.Err() == nil {
		eng := engine.New(port, flash, engine.WithLogger(logger))
		err := eng.Run(ctx)
		switch {
		case err == nil:
			logger.Info().Msg("link closed")
		case errors.Is(err, context.Canceled):
			return nil
		default:
			logger.Warn().Err(err).Msg("session terminated")
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

func openFlash(spiDev, csName string, fastRead bool) (*qflash.Flash, func(), error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("host initialization failed: %w", err)
	}

	sp, err := spireg.Open(spiDev)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open SPI port: %w", err)
	}

	// [W25Q128|9.6] supports up to 133MHz; stay well under the bus limit.
	conn, err := sp.Connect(8*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		sp.Close()
		return nil, nil, err
	}

	cs := gpioreg.ByName(csName)
	if cs == nil {
		sp.Close()
		return nil, nil, fmt.Errorf("chip select pin %q not found", csName)
	}
	if err := cs.Out(gpio.High); err != nil {
		sp.Close()
		return nil, nil, err
	}

	f := qflash.NewFlash(conn, cs)
	f.SetFastRead(fastRead)
	return f, func() { sp.Close() }, nil
}
