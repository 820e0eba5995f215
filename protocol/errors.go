package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrChecksum reports a frame whose trailing CRC-16 did not match.
	// The decoder drops the frame and resynchronises.
	ErrChecksum = errors.New("protocol: frame checksum mismatch")

	// ErrOversized reports a Length byte exceeding the decoder's payload
	// capacity. Structural: the sender is misconfigured.
	ErrOversized = errors.New("protocol: payload length exceeds capacity")

	// ErrTruncated reports a byte stream that closed mid-frame. Fatal for
	// the session.
	ErrTruncated = errors.New("protocol: stream closed mid-frame")

	// ErrPayloadTooLarge reports an attempt to encode a frame with more
	// than MaxPayload payload bytes.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")

	// ErrAddressRange reports an address outside the 24-bit space.
	ErrAddressRange = errors.New("protocol: address out of 24-bit range")
)

// StatusError is a non-success status carried by a response frame.
type StatusError struct {
	Status Status
	Addr   uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device reported %s at 0x%06X", e.Status, e.Addr)
}
