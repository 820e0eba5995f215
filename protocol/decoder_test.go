package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func mustEncode(t *testing.T, req *Request) []byte {
	t.Helper()
	buf, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	return buf
}

func TestDecoderResyncAfterGarbage(t *testing.T) {
	frame := mustEncode(t, &Request{Seq: 3, Cmd: CmdStatus})

	// Up to 64 junk bytes before a valid frame must not prevent decode.
	junk := make([]byte, 64)
	for i := range junk {
		junk[i] = byte(0xA0 + i) // includes 0xAB-like bytes
	}

	dec := NewDecoder(RequestMagic)
	events := dec.Feed(append(append([]byte{}, junk...), frame...))

	var frames int
	for _, ev := range events {
		if ev.Frame != nil {
			frames++
			if ev.Frame.Seq != 3 {
				t.Errorf("frame seq = %d, want 3", ev.Frame.Seq)
			}
		} else if !errors.Is(ev.Err, ErrChecksum) {
			t.Errorf("unexpected event error: %v", ev.Err)
		}
	}
	if frames != 1 {
		t.Errorf("decoded %d frames, want 1", frames)
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	frame := mustEncode(t, &Request{Seq: 9, Cmd: CmdWrite, Addr: 0x1234, Payload: []byte("hello")})

	dec := NewDecoder(RequestMagic)
	var events []Event
	for _, b := range frame {
		events = append(events, dec.Feed([]byte{b})...)
	}
	if len(events) != 1 || events[0].Frame == nil {
		t.Fatalf("got %d events, want 1 frame", len(events))
	}
	if !bytes.Equal(events[0].Frame.Payload, []byte("hello")) {
		t.Errorf("payload = %q", events[0].Frame.Payload)
	}
}

func TestDecoderChecksumError(t *testing.T) {
	frame := mustEncode(t, &Request{Seq: 5, Cmd: CmdErase, Payload: []byte{0, 0x10, 0, 0}})
	frame[len(frame)-1] ^= 0xFF // corrupt checksum

	good := mustEncode(t, &Request{Seq: 6, Cmd: CmdStatus})

	dec := NewDecoder(RequestMagic)
	events := dec.Feed(append(frame, good...))

	var crcErrs, frames int
	for _, ev := range events {
		switch {
		case ev.Frame != nil:
			frames++
			if ev.Frame.Seq != 6 {
				t.Errorf("surviving frame seq = %d, want 6", ev.Frame.Seq)
			}
		case errors.Is(ev.Err, ErrChecksum):
			crcErrs++
			if ev.Seq != 5 {
				t.Errorf("checksum event seq = %d, want 5", ev.Seq)
			}
		}
	}
	if crcErrs != 1 {
		t.Errorf("checksum events = %d, want 1", crcErrs)
	}
	if frames != 1 {
		t.Errorf("frames = %d, want 1", frames)
	}
}

func TestDecoderOversized(t *testing.T) {
	frame := mustEncode(t, &Request{Seq: 1, Cmd: CmdWrite, Payload: make([]byte, 250)})

	dec := NewDecoder(RequestMagic)
	dec.SetMaxPayload(PayloadCap)

	var oversized int
	for _, ev := range dec.Feed(frame) {
		if errors.Is(ev.Err, ErrOversized) {
			oversized++
		}
		if ev.Frame != nil {
			t.Error("oversized frame decoded")
		}
	}
	if oversized != 1 {
		t.Errorf("oversized events = %d, want 1", oversized)
	}
}

func TestDecoderPending(t *testing.T) {
	frame := mustEncode(t, &Request{Seq: 2, Cmd: CmdInfo})

	dec := NewDecoder(RequestMagic)
	if dec.Pending() {
		t.Error("fresh decoder reports pending")
	}
	dec.Feed(frame[:4])
	if !dec.Pending() {
		t.Error("mid-frame decoder not pending")
	}
	dec.Feed(frame[4:])
	if dec.Pending() {
		t.Error("decoder pending after full frame")
	}

	// Trailing garbage alone is not a truncated frame.
	dec.Feed([]byte{0x00, 0x11, 0x22})
	if dec.Pending() {
		t.Error("garbage-only buffer reports pending")
	}
}
