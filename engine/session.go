package engine

import "github.com/gentam/qflash/protocol"

// session is the per-link device state. It is created at link-up,
// destroyed at link-down, and touched only by the dispatcher.
type session struct {
	lastSeq byte

	// Sticky error latch: the status and flash address of the last
	// handler fault, cleared by the next Status command.
	errStatus protocol.Status
	errAddr   uint32

	// Open stream-write cursor, nil outside a stream. done keeps the
	// most recently completed stream so VerifyCRC can use its
	// progressive CRC without re-reading the flash.
	stream *stream
	done   *stream
}

// stream tracks one stream-write: start address, write cursor, and the
// CRC32 folded over every byte in arrival order.
type stream struct {
	start  uint32
	cursor uint32
	crc    uint32

	// failed latches the first fault; the rest of the stream is drained
	// and discarded, and the terminating frame is answered with the
	// latched status.
	failed bool
	status protocol.Status
}

func newSession() *session {
	return &session{}
}

func (s *session) latch(status protocol.Status, addr uint32) {
	s.errStatus = status
	s.errAddr = addr
}

func (s *session) clearLatch() {
	s.errStatus = protocol.StatusSuccess
	s.errAddr = 0
}
