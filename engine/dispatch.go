package engine

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/gentam/qflash/protocol"
)

// dispatch validates a decoded request and runs its handler. A nil
// return means no response is emitted (stream-write frames).
func (e *Engine) dispatch(f *protocol.Frame) *protocol.Response {
	cmd := protocol.Command(f.Type)

	// Any non-stream frame closes an open stream. If the stream failed
	// the terminating frame is not executed; it is answered with the
	// latched status instead.
	if e.ses.stream != nil && cmd != protocol.CmdStreamWrite {
		if st := e.endStream(); st.failed {
			return &protocol.Response{Seq: f.Seq, Status: st.status, Addr: f.Addr}
		}
	}

	if !cmd.Valid() {
		e.log.Warn().Uint8("opcode", f.Type).Msg("unknown opcode")
		return &protocol.Response{Seq: f.Seq, Status: protocol.StatusInvalidCommand, Addr: f.Addr}
	}

	e.log.Debug().Stringer("cmd", cmd).Uint32("addr", f.Addr).
		Int("len", len(f.Payload)).Msg("request")

	switch cmd {
	case protocol.CmdInfo:
		return e.handleInfo(f)
	case protocol.CmdErase:
		return e.handleErase(f)
	case protocol.CmdWrite:
		return e.handleWrite(f)
	case protocol.CmdRead:
		return e.handleRead(f)
	case protocol.CmdVerify:
		return e.handleVerify(f)
	case protocol.CmdStatus:
		return e.handleStatus(f)
	case protocol.CmdStreamWrite:
		return e.handleStreamWrite(f)
	default:
		return e.handleVerifyCRC(f)
	}
}

func (e *Engine) fail(f *protocol.Frame, err error) *protocol.Response {
	status := statusFor(err)
	e.ses.latch(status, f.Addr)
	e.log.Error().Err(err).Stringer("cmd", protocol.Command(f.Type)).
		Uint32("addr", f.Addr).Msg("handler fault")
	return &protocol.Response{Seq: f.Seq, Status: status, Addr: f.Addr}
}

func (e *Engine) ok(f *protocol.Frame, payload []byte) *protocol.Response {
	return &protocol.Response{Seq: f.Seq, Status: protocol.StatusSuccess, Addr: f.Addr, Payload: payload}
}

func (e *Engine) handleInfo(f *protocol.Frame) *protocol.Response {
	info, err := e.flash.Info()
	if err != nil {
		return e.fail(f, err)
	}

	payload := make([]byte, 15)
	copy(payload[0:3], info.JEDECID[:])
	binary.LittleEndian.PutUint32(payload[3:7], info.TotalSize)
	binary.LittleEndian.PutUint32(payload[7:11], info.PageSize)
	binary.LittleEndian.PutUint32(payload[11:15], info.SectorSize)
	return e.ok(f, payload)
}

func (e *Engine) handleErase(f *protocol.Frame) *protocol.Response {
	if len(f.Payload) != 4 {
		return &protocol.Response{Seq: f.Seq, Status: protocol.StatusInvalidCommand, Addr: f.Addr}
	}
	if int(f.Addr) >= e.flashSize {
		return &protocol.Response{Seq: f.Seq, Status: protocol.StatusInvalidAddress, Addr: f.Addr}
	}

	size := binary.LittleEndian.Uint32(f.Payload)
	if size == 0 {
		return e.ok(f, nil)
	}
	// Oversized ranges truncate to the flash end inside the operator.
	if err := e.flash.EraseRange(int(f.Addr), int(size)); err != nil {
		return e.fail(f, err)
	}
	return e.ok(f, nil)
}

func (e *Engine) handleWrite(f *protocol.Frame) *protocol.Response {
	if len(f.Payload) == 0 {
		return e.ok(f, nil)
	}
	if int(f.Addr)+len(f.Payload) > e.flashSize {
		return &protocol.Response{Seq: f.Seq, Status: protocol.StatusInvalidAddress, Addr: f.Addr}
	}
	if err := e.flash.Write(int(f.Addr), f.Payload); err != nil {
		return e.fail(f, err)
	}
	return e.ok(f, nil)
}

func (e *Engine) handleRead(f *protocol.Frame) *protocol.Response {
	if len(f.Payload) != 1 || f.Payload[0] == 0 {
		return &protocol.Response{Seq: f.Seq, Status: protocol.StatusInvalidCommand, Addr: f.Addr}
	}
	n := int(f.Payload[0])
	if n > e.payloadCap {
		return &protocol.Response{Seq: f.Seq, Status: protocol.StatusBufferOverflow, Addr: f.Addr}
	}
	if int(f.Addr) >= e.flashSize {
		return &protocol.Response{Seq: f.Seq, Status: protocol.StatusInvalidAddress, Addr: f.Addr}
	}

	// Reads near the flash end truncate to the available bytes.
	n = min(n, e.flashSize-int(f.Addr))
	data, err := e.flash.Read(int(f.Addr), n)
	if err != nil {
		return e.fail(f, err)
	}
	return e.ok(f, data)
}

func (e *Engine) handleVerify(f *protocol.Frame) *protocol.Response {
	n := len(f.Payload)
	if n == 0 {
		return &protocol.Response{Seq: f.Seq, Status: protocol.StatusInvalidCommand, Addr: f.Addr}
	}
	if int(f.Addr)+n > e.flashSize {
		return &protocol.Response{Seq: f.Seq, Status: protocol.StatusInvalidAddress, Addr: f.Addr}
	}

	data, err := e.flash.Read(int(f.Addr), n)
	if err != nil {
		return e.fail(f, err)
	}

	payload := make([]byte, 5)
	if bytes.Equal(data, f.Payload) {
		payload[0] = 1
	}
	binary.LittleEndian.PutUint32(payload[1:], crc32.ChecksumIEEE(data))
	return e.ok(f, payload)
}

// handleStatus is always serviceable. It reports the status register,
// echoes the latched fault address, and clears the error latch.
func (e *Engine) handleStatus(f *protocol.Frame) *protocol.Response {
	sr, err := e.flash.ReadStatusRegister()
	if err != nil {
		return e.fail(f, err)
	}

	addr := e.ses.errAddr
	e.ses.clearLatch()
	return &protocol.Response{
		Seq:     f.Seq,
		Status:  protocol.StatusSuccess,
		Addr:    addr,
		Payload: []byte{byte(sr)},
	}
}

func (e *Engine) handleVerifyCRC(f *protocol.Frame) *protocol.Response {
	if len(f.Payload) != 8 {
		return &protocol.Response{Seq: f.Seq, Status: protocol.StatusInvalidCommand, Addr: f.Addr}
	}
	size := binary.LittleEndian.Uint32(f.Payload[0:4])
	expected := binary.LittleEndian.Uint32(f.Payload[4:8])
	if int(f.Addr)+int(size) > e.flashSize {
		return &protocol.Response{Seq: f.Seq, Status: protocol.StatusInvalidAddress, Addr: f.Addr}
	}

	actual, hit, err := e.rangeCRC(f.Addr, size, expected)
	if err != nil {
		return e.fail(f, err)
	}
	if hit {
		e.log.Debug().Msg("verify-crc served from progressive checksum")
	}

	payload := make([]byte, 5)
	if actual == expected {
		payload[0] = 1
	}
	binary.LittleEndian.PutUint32(payload[1:], actual)
	return e.ok(f, payload)
}

// rangeCRC returns the CRC32 of [addr, addr+size). When the range matches
// the just-completed stream and the progressive checksum equals the
// expected value, that value is returned without touching the flash; any
// mismatch falls back to reading the range back.
func (e *Engine) rangeCRC(addr, size, expected uint32) (crc uint32, progressive bool, err error) {
	if st := e.ses.done; st != nil && st.start == addr && st.cursor-st.start == size && st.crc == expected {
		return st.crc, true, nil
	}

	const chunk = 64 << 10
	for off := 0; off < int(size); off += chunk {
		n := min(chunk, int(size)-off)
		data, err := e.flash.Read(int(addr)+off, n)
		if err != nil {
			return 0, false, err
		}
		crc = crc32.Update(crc, crc32.IEEETable, data)
	}
	return crc, false, nil
}
