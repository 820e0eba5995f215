// Package engine implements the device-side protocol engine: it bridges
// the byte-oriented serial transport to the SPI flash operator.
//
// The engine is single-threaded cooperative. One loop drains the
// transport into the streaming decoder, dispatches each decoded request
// in arrival order, and writes responses back. Responses are therefore
// emitted in strict request order; the decoder's event batch is the
// FIFO queue between the transport reader and the dispatcher.
package engine

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/gentam/qflash"
	"github.com/gentam/qflash/protocol"
)

// Flash is the operator the dispatcher drives. *qflash.Flash implements
// it; tests substitute an in-memory model.
type Flash interface {
	Info() (qflash.Info, error)
	Read(addr, n int) ([]byte, error)
	Write(addr int, data []byte) error
	EraseRange(addr, size int) error
	ReadStatusRegister() (qflash.StatusRegister, error)
}

// Engine runs one session over a transport. Create one per link-up.
type Engine struct {
	transport io.ReadWriter
	flash     Flash
	log       zerolog.Logger

	dec        *protocol.Decoder
	ses        *session
	staging    *staging
	payloadCap int
	flashSize  int
}

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithPayloadCap lowers the accepted request payload size.
func WithPayloadCap(n int) Option {
	return func(e *Engine) {
		if n > 0 && n <= protocol.PayloadCap {
			e.payloadCap = n
		}
	}
}

func New(transport io.ReadWriter, flash Flash, opts ...Option) *Engine {
	e := &Engine{
		transport:  transport,
		flash:      flash,
		log:        zerolog.Nop(),
		dec:        protocol.NewDecoder(protocol.RequestMagic),
		ses:        newSession(),
		staging:    newStaging(),
		payloadCap: protocol.PayloadCap,
		flashSize:  protocol.FlashTotalSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dec.SetMaxPayload(e.payloadCap)
	return e
}

// Run services the session until the transport closes or ctx is
// cancelled. A transport that closes mid-frame returns ErrTruncated; a
// clean close between frames returns nil.
func (e *Engine) Run(ctx context.Context) error {
	buf := make([]byte, 512)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := e.transport.Read(buf)
		if n > 0 {
			for _, ev := range e.dec.Feed(buf[:n]) {
				if werr := e.process(ev); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if e.dec.Pending() {
					return protocol.ErrTruncated
				}
				return nil
			}
			return err
		}
	}
}

func (e *Engine) process(ev protocol.Event) error {
	var resp *protocol.Response

	switch {
	case ev.Frame != nil:
		e.ses.lastSeq = ev.Frame.Seq
		resp = e.dispatch(ev.Frame)
	case errors.Is(ev.Err, protocol.ErrChecksum):
		// Recoverable: drop the frame, tell the host to retransmit.
		e.log.Warn().Uint8("seq", ev.Seq).Msg("request checksum mismatch")
		resp = &protocol.Response{Seq: ev.Seq, Status: protocol.StatusCRCError}
	case errors.Is(ev.Err, protocol.ErrOversized):
		e.log.Warn().Uint8("seq", ev.Seq).Msg("request exceeds payload cap")
		resp = &protocol.Response{Seq: ev.Seq, Status: protocol.StatusBufferOverflow}
	default:
		e.log.Error().Err(ev.Err).Msg("decoder fault")
		resp = &protocol.Response{Seq: e.ses.lastSeq, Status: protocol.StatusInvalidCommand}
	}

	if resp == nil {
		return nil // stream frames are not individually acknowledged
	}
	return e.send(resp)
}

func (e *Engine) send(resp *protocol.Response) error {
	buf, err := resp.Encode()
	if err != nil {
		return err
	}
	_, err = e.transport.Write(buf)
	return err
}

// statusFor maps an operator failure onto the wire taxonomy.
func statusFor(err error) protocol.Status {
	if errors.Is(err, qflash.ErrBusyTimeout) {
		return protocol.StatusTimeout
	}
	return protocol.StatusFlashError
}
