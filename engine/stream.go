package engine

import (
	"hash/crc32"

	"github.com/gentam/qflash/protocol"
)

// handleStreamWrite appends one pipelined frame to the open stream. The
// first frame after Idle opens the stream at its Address field; later
// frames ignore Address and advance the cursor by their payload length.
// Stream frames are never individually acknowledged.
func (e *Engine) handleStreamWrite(f *protocol.Frame) *protocol.Response {
	st := e.ses.stream
	if st == nil {
		st = &stream{start: f.Addr, cursor: f.Addr}
		e.ses.stream = st
		e.ses.done = nil
		e.staging.reset(int(f.Addr))

		if int(f.Addr) >= e.flashSize {
			e.streamFail(st, protocol.StatusInvalidAddress, f.Addr)
		}
	}

	if st.failed {
		return nil // drain and discard until the stream terminates
	}

	if int(st.cursor)+len(f.Payload) > e.flashSize {
		e.streamFail(st, protocol.StatusInvalidAddress, st.cursor)
		return nil
	}

	if err := e.staging.push(f.Payload, e.flushFunc(st)); err != nil {
		e.streamFail(st, statusFor(err), st.cursor)
		return nil
	}
	st.cursor += uint32(len(f.Payload))
	return nil
}

// endStream flushes the staging remainder and closes the stream. A
// cleanly closed stream is kept for progressive CRC verification.
func (e *Engine) endStream() *stream {
	st := e.ses.stream
	e.ses.stream = nil

	if !st.failed {
		if err := e.staging.drain(e.flushFunc(st)); err != nil {
			e.streamFail(st, statusFor(err), st.cursor)
		}
	}
	if !st.failed {
		e.ses.done = st
		e.log.Debug().Uint32("start", st.start).
			Uint32("bytes", st.cursor-st.start).Msg("stream closed")
	}
	return st
}

// flushFunc programs one staging half and folds it into the stream's
// progressive CRC32.
func (e *Engine) flushFunc(st *stream) func(addr int, data []byte) error {
	return func(addr int, data []byte) error {
		if err := e.flash.Write(addr, data); err != nil {
			return err
		}
		st.crc = crc32.Update(st.crc, crc32.IEEETable, data)
		return nil
	}
}

func (e *Engine) streamFail(st *stream, status protocol.Status, addr uint32) {
	st.failed = true
	st.status = status
	e.ses.latch(status, addr)
	e.log.Error().Stringer("status", status).Uint32("addr", addr).
		Msg("stream write fault, draining")
}
