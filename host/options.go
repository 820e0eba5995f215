package host

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/gentam/qflash/protocol"
)

// Phase identifies which flow a progress report belongs to.
type Phase string

const (
	PhaseWrite  Phase = "write"
	PhaseRead   Phase = "read"
	PhaseVerify Phase = "verify"
)

// Progress is one progress report during a bulk flow.
type Progress struct {
	Phase Phase
	Done  int
	Total int
}

// ProgressFunc receives progress reports (optional).
type ProgressFunc func(Progress)

// Config holds the commander configuration.
type Config struct {
	// Timeout bounds the wait for each response frame.
	Timeout time.Duration

	// PayloadCap is the data carried per frame. Must not exceed the
	// device's staging headroom.
	PayloadCap int

	// Window is the number of stream-write frames written to the
	// transport in one burst.
	Window int

	// Retries bounds retransmissions after request CRC errors.
	Retries int

	Progress ProgressFunc
	Logger   zerolog.Logger
}

func defaultConfig() Config {
	return Config{
		Timeout:    10 * time.Second,
		PayloadCap: protocol.PayloadCap,
		Window:     16,
		Retries:    3,
		Logger:     zerolog.Nop(),
	}
}

// Option is a functional option for configuring the Commander.
type Option func(*Config)

// WithTimeout sets the per-response timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithPayloadCap lowers the data carried per frame.
func WithPayloadCap(n int) Option {
	return func(c *Config) {
		if n > 0 && n <= protocol.PayloadCap {
			c.PayloadCap = n
		}
	}
}

// WithWindow sets the stream-write burst size in frames.
func WithWindow(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Window = n
		}
	}
}

// WithRetries bounds retransmissions after request CRC errors.
func WithRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.Retries = n
		}
	}
}

// WithProgress sets a callback for bulk-flow progress reports.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Config) { c.Progress = fn }
}

// WithLogger routes commander diagnostics to l.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
