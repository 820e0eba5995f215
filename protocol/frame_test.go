package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestRequestEncodeLayout(t *testing.T) {
	req := &Request{Seq: 0x01, Cmd: CmdInfo, Addr: 0}
	buf, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	wantPrefix := []byte{0xAB, 0xCD, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(buf[:HeaderSize], wantPrefix) {
		t.Errorf("prefix = % X, want % X", buf[:HeaderSize], wantPrefix)
	}
	if len(buf) != MinFrameSize {
		t.Errorf("frame length = %d, want %d", len(buf), MinFrameSize)
	}

	crc := binary.BigEndian.Uint16(buf[HeaderSize:])
	if want := CRC16(buf[2:HeaderSize]); crc != want {
		t.Errorf("checksum = 0x%04X, want 0x%04X", crc, want)
	}
}

func TestRequestEncodeAddress(t *testing.T) {
	req := &Request{Seq: 7, Cmd: CmdRead, Addr: 0xFFEEDD, Payload: []byte{16}}
	buf, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if buf[4] != 0xFF || buf[5] != 0xEE || buf[6] != 0xDD {
		t.Errorf("address bytes = % X, want FF EE DD", buf[4:7])
	}
	if buf[7] != 1 {
		t.Errorf("length byte = %d, want 1", buf[7])
	}
}

func TestEncodeRejects(t *testing.T) {
	if _, err := (&Request{Cmd: CmdWrite, Payload: make([]byte, 256)}).Encode(); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized payload: err = %v, want ErrPayloadTooLarge", err)
	}
	if _, err := (&Request{Cmd: CmdWrite, Addr: 1 << 24}).Encode(); !errors.Is(err, ErrAddressRange) {
		t.Errorf("address out of range: err = %v, want ErrAddressRange", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := make([]byte, MaxPayload)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	for _, n := range []int{0, 1, 2, 15, 16, 127, 239, 240, 255} {
		req := &Request{
			Seq:     byte(n),
			Cmd:     CmdStreamWrite,
			Addr:    uint32(n * 0x1111),
			Payload: payload[:n],
		}
		buf, err := req.Encode()
		if err != nil {
			t.Fatalf("Encode(len=%d) error: %v", n, err)
		}

		dec := NewDecoder(RequestMagic)
		events := dec.Feed(buf)
		if len(events) != 1 || events[0].Frame == nil {
			t.Fatalf("len=%d: decoded %d events, want 1 frame", n, len(events))
		}
		got := events[0].Frame.Request()
		if got.Seq != req.Seq || got.Cmd != req.Cmd || got.Addr != req.Addr || !bytes.Equal(got.Payload, req.Payload) {
			t.Errorf("len=%d: round trip mismatch: got %+v", n, got)
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &Response{Seq: 0x42, Status: StatusInvalidAddress, Addr: 0xFFFFFF, Payload: []byte{1, 2, 3}}
	buf, err := resp.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if buf[0] != 0xDC || buf[1] != 0xBA {
		t.Errorf("response magic = % X, want DC BA", buf[:2])
	}

	dec := NewDecoder(ResponseMagic)
	events := dec.Feed(buf)
	if len(events) != 1 || events[0].Frame == nil {
		t.Fatalf("decoded %d events, want 1 frame", len(events))
	}
	got := events[0].Frame.Response()
	if got.Seq != resp.Seq || got.Status != resp.Status || got.Addr != resp.Addr || !bytes.Equal(got.Payload, resp.Payload) {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}
