package protocol

import (
	"encoding/binary"
)

// Request is a host-to-device frame.
type Request struct {
	Seq     byte
	Cmd     Command
	Addr    uint32
	Payload []byte
}

// Response is a device-to-host frame. Addr echoes the request address.
type Response struct {
	Seq     byte
	Status  Status
	Addr    uint32
	Payload []byte
}

// Encode serialises the request, computing the trailing CRC-16.
func (r *Request) Encode() ([]byte, error) {
	return encodeFrame(RequestMagic, r.Seq, byte(r.Cmd), r.Addr, r.Payload)
}

// Encode serialises the response, computing the trailing CRC-16.
func (r *Response) Encode() ([]byte, error) {
	return encodeFrame(ResponseMagic, r.Seq, byte(r.Status), r.Addr, r.Payload)
}

func encodeFrame(magic uint16, seq, typ byte, addr uint32, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	if addr > MaxAddress {
		return nil, ErrAddressRange
	}

	buf := make([]byte, HeaderSize+len(payload)+ChecksumSize)
	binary.BigEndian.PutUint16(buf[0:2], magic)
	buf[2] = seq
	buf[3] = typ
	buf[4] = byte(addr >> 16)
	buf[5] = byte(addr >> 8)
	buf[6] = byte(addr)
	buf[7] = byte(len(payload))
	copy(buf[HeaderSize:], payload)

	crc := CRC16(buf[2 : HeaderSize+len(payload)])
	binary.BigEndian.PutUint16(buf[HeaderSize+len(payload):], crc)
	return buf, nil
}

// Frame is a decoded frame of either direction. Type holds the command
// opcode for requests and the status code for responses.
type Frame struct {
	Seq     byte
	Type    byte
	Addr    uint32
	Payload []byte
}

// Request converts a decoded request frame into its typed form.
func (f *Frame) Request() *Request {
	return &Request{Seq: f.Seq, Cmd: Command(f.Type), Addr: f.Addr, Payload: f.Payload}
}

// Response converts a decoded response frame into its typed form.
func (f *Frame) Response() *Response {
	return &Response{Seq: f.Seq, Status: Status(f.Type), Addr: f.Addr, Payload: f.Payload}
}
