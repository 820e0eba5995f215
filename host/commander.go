// Package host drives the flash engine over a serial link: it frames
// requests, pipelines stream writes, and verifies integrity end to end.
package host

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"time"

	"github.com/gentam/qflash"
	"github.com/gentam/qflash/protocol"
)

// FlashInfo is the geometry reported by the device.
type FlashInfo struct {
	JEDECID    [3]byte
	TotalSize  uint32
	PageSize   uint32
	SectorSize uint32
}

// Commander issues one logical operation at a time over rw. It is not
// safe for concurrent use; the wire protocol is strictly ordered.
type Commander struct {
	rw  io.ReadWriter
	cfg Config
	dec *protocol.Decoder
	seq byte
}

// New creates a Commander over the given transport, typically an open
// serial port whose read timeout is configured so Read returns (0, nil)
// periodically; the commander turns that into its response deadline.
func New(rw io.ReadWriter, opts ...Option) *Commander {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Commander{rw: rw, cfg: cfg, dec: protocol.NewDecoder(protocol.ResponseMagic)}
	return c
}

func (c *Commander) nextSeq() byte {
	c.seq++ // wraps mod 256
	return c.seq
}

// transact sends one request and waits for its response, applying the
// retry policy: retransmit on request CRC errors, one retry on flash
// faults and device timeouts.
func (c *Commander) transact(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	buf, err := req.Encode()
	if err != nil {
		return nil, err
	}

	crcRetries := c.cfg.Retries
	faultRetried := false
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := c.rw.Write(buf); err != nil {
			return nil, err
		}

		resp, err := c.readResponse(req.Seq)
		if errors.Is(err, ErrResponseCorrupt) && crcRetries > 0 {
			crcRetries--
			continue
		}
		if err != nil {
			return nil, err
		}

		switch resp.Status {
		case protocol.StatusSuccess:
			return resp, nil
		case protocol.StatusCRCError:
			if crcRetries > 0 {
				crcRetries--
				c.cfg.Logger.Warn().Uint8("seq", req.Seq).Msg("request corrupted, retransmitting")
				continue
			}
		case protocol.StatusFlashError, protocol.StatusTimeout:
			if !faultRetried {
				faultRetried = true
				c.cfg.Logger.Warn().Stringer("status", resp.Status).Msg("device fault, retrying once")
				continue
			}
		}
		return nil, &protocol.StatusError{Status: resp.Status, Addr: resp.Addr}
	}
}

// readResponse decodes frames until one matches seq. Responses for other
// sequence numbers are stale (spontaneous error frames, dropped stream
// frames) and are skipped.
func (c *Commander) readResponse(seq byte) (*protocol.Response, error) {
	deadline := time.Now().Add(c.cfg.Timeout)
	buf := make([]byte, 256)
	for {
		n, err := c.rw.Read(buf)
		if n > 0 {
			for _, ev := range c.dec.Feed(buf[:n]) {
				if ev.Err != nil {
					return nil, ErrResponseCorrupt
				}
				resp := ev.Frame.Response()
				if resp.Seq == seq {
					return resp, nil
				}
				c.cfg.Logger.Debug().Uint8("seq", resp.Seq).Stringer("status", resp.Status).
					Msg("skipping stale response")
			}
		}
		if err != nil {
			return nil, err
		}
		if n == 0 && time.Now().After(deadline) {
			return nil, ErrResponseTimeout
		}
	}
}

// Info queries the chip identification and geometry.
func (c *Commander) Info(ctx context.Context) (*FlashInfo, error) {
	resp, err := c.transact(ctx, &protocol.Request{Seq: c.nextSeq(), Cmd: protocol.CmdInfo})
	if err != nil {
		return nil, err
	}
	if len(resp.Payload) != 15 {
		return nil, ErrResponseCorrupt
	}
	info := &FlashInfo{
		TotalSize:  binary.LittleEndian.Uint32(resp.Payload[3:7]),
		PageSize:   binary.LittleEndian.Uint32(resp.Payload[7:11]),
		SectorSize: binary.LittleEndian.Uint32(resp.Payload[11:15]),
	}
	copy(info.JEDECID[:], resp.Payload[0:3])
	return info, nil
}

// Status reads the device status register. The returned address is the
// device's latched fault address; the query clears the latch.
func (c *Commander) Status(ctx context.Context) (qflash.StatusRegister, uint32, error) {
	resp, err := c.transact(ctx, &protocol.Request{Seq: c.nextSeq(), Cmd: protocol.CmdStatus})
	if err != nil {
		return 0, 0, err
	}
	if len(resp.Payload) != 1 {
		return 0, 0, ErrResponseCorrupt
	}
	return qflash.StatusRegister(resp.Payload[0]), resp.Addr, nil
}

// Erase erases every sector overlapping [addr, addr+size).
func (c *Commander) Erase(ctx context.Context, addr, size uint32) error {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, size)
	_, err := c.transact(ctx, &protocol.Request{
		Seq: c.nextSeq(), Cmd: protocol.CmdErase, Addr: addr, Payload: payload,
	})
	return err
}

// WriteBasic programs data with one acknowledged Write frame per chunk.
func (c *Commander) WriteBasic(ctx context.Context, addr uint32, data []byte) error {
	total := len(data)
	for off := 0; off < total; off += c.cfg.PayloadCap {
		n := min(c.cfg.PayloadCap, total-off)
		_, err := c.transact(ctx, &protocol.Request{
			Seq: c.nextSeq(), Cmd: protocol.CmdWrite, Addr: addr + uint32(off),
			Payload: data[off : off+n],
		})
		if err != nil {
			return err
		}
		c.report(PhaseWrite, off+n, total)
	}
	return nil
}

// Write streams data with pipelined, unacknowledged frames, then closes
// the stream with a VerifyCRC that must match the local checksum. Frames
// are sent in windows of cfg.Window to bound transport buffering.
func (c *Commander) Write(ctx context.Context, addr uint32, data []byte) error {
	total := len(data)
	var window []byte
	inFlight := 0

	flush := func() error {
		if len(window) == 0 {
			return nil
		}
		_, err := c.rw.Write(window)
		window = window[:0]
		inFlight = 0
		return err
	}

	first := true
	for off := 0; off < total; off += c.cfg.PayloadCap {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(c.cfg.PayloadCap, total-off)
		req := &protocol.Request{Seq: c.nextSeq(), Cmd: protocol.CmdStreamWrite, Payload: data[off : off+n]}
		if first {
			req.Addr = addr
			first = false
		}
		buf, err := req.Encode()
		if err != nil {
			return err
		}
		window = append(window, buf...)
		if inFlight++; inFlight >= c.cfg.Window {
			if err := flush(); err != nil {
				return err
			}
			c.report(PhaseWrite, off+n, total)
		}
	}
	if err := flush(); err != nil {
		return err
	}
	c.report(PhaseWrite, total, total)

	want := crc32.ChecksumIEEE(data)
	equal, actual, err := c.VerifyCRC(ctx, addr, uint32(total), want)
	if err != nil {
		return err
	}
	if !equal {
		return &CRCMismatchError{Addr: addr, Size: uint32(total), Expected: want, Actual: actual}
	}
	return nil
}

// Read fetches [addr, addr+size), one capped frame at a time. Reads past
// the flash end return short.
func (c *Commander) Read(ctx context.Context, addr, size uint32) ([]byte, error) {
	out := make([]byte, 0, size)
	for uint32(len(out)) < size {
		if len(out) > 0 && addr+uint32(len(out)) >= protocol.FlashTotalSize {
			break // previous chunk ended at the flash end
		}
		n := min(uint32(c.cfg.PayloadCap), size-uint32(len(out)))
		resp, err := c.transact(ctx, &protocol.Request{
			Seq: c.nextSeq(), Cmd: protocol.CmdRead, Addr: addr + uint32(len(out)),
			Payload: []byte{byte(n)},
		})
		if err != nil {
			return out, err
		}
		if len(resp.Payload) == 0 {
			break // flash end
		}
		out = append(out, resp.Payload...)
		c.report(PhaseRead, len(out), int(size))
		if len(resp.Payload) < int(n) {
			break // truncated at flash end
		}
	}
	return out, nil
}

// Verify compares data against flash contents on the device, chunk by
// chunk. The first differing chunk fails with VerifyMismatchError.
func (c *Commander) Verify(ctx context.Context, addr uint32, data []byte) error {
	total := len(data)
	for off := 0; off < total; off += c.cfg.PayloadCap {
		n := min(c.cfg.PayloadCap, total-off)
		resp, err := c.transact(ctx, &protocol.Request{
			Seq: c.nextSeq(), Cmd: protocol.CmdVerify, Addr: addr + uint32(off),
			Payload: data[off : off+n],
		})
		if err != nil {
			return err
		}
		if len(resp.Payload) < 1 || resp.Payload[0] != 1 {
			return &VerifyMismatchError{Addr: addr + uint32(off)}
		}
		c.report(PhaseVerify, off+n, total)
	}
	return nil
}

// VerifyCRC asks the device for the CRC32 of [addr, addr+size) and
// compares it to expected.
func (c *Commander) VerifyCRC(ctx context.Context, addr, size, expected uint32) (equal bool, actual uint32, err error) {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], size)
	binary.LittleEndian.PutUint32(payload[4:8], expected)

	resp, err := c.transact(ctx, &protocol.Request{
		Seq: c.nextSeq(), Cmd: protocol.CmdVerifyCRC, Addr: addr, Payload: payload,
	})
	if err != nil {
		return false, 0, err
	}
	if len(resp.Payload) != 5 {
		return false, 0, ErrResponseCorrupt
	}
	return resp.Payload[0] == 1, binary.LittleEndian.Uint32(resp.Payload[1:5]), nil
}

func (c *Commander) report(phase Phase, done, total int) {
	if c.cfg.Progress != nil {
		c.cfg.Progress(Progress{Phase: phase, Done: done, Total: total})
	}
}
