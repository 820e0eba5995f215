package engine

import (
	"bytes"
	"errors"
	"testing"
)

// flushRec is one recorded flush call: (addr, data). collect appends them
// in order.
type flushRec struct {
	addr int
	data []byte
}

func collect(recs *[]flushRec) func(addr int, data []byte) error {
	return func(addr int, data []byte) error {
		cp := make([]byte, len(data))
		copy(cp, data)
		*recs = append(*recs, flushRec{addr, cp})
		return nil
	}
}

func TestStagingFlushesFullHalves(t *testing.T) {
	s := newStaging()
	s.reset(0x1000)

	data := make([]byte, 2*HalfSize+100)
	for i := range data {
		data[i] = byte(i)
	}

	var recs []flushRec
	flush := collect(&recs)

	// Push in uneven chunks; halves flush exactly at HalfSize.
	for off := 0; off < len(data); {
		n := min(300, len(data)-off)
		if err := s.push(data[off:off+n], flush); err != nil {
			t.Fatalf("push() error: %v", err)
		}
		off += n
	}
	if err := s.drain(flush); err != nil {
		t.Fatalf("drain() error: %v", err)
	}

	want := []flushRec{
		{0x1000, data[:HalfSize]},
		{0x1000 + HalfSize, data[HalfSize : 2*HalfSize]},
		{0x1000 + 2*HalfSize, data[2*HalfSize:]},
	}
	if len(recs) != len(want) {
		t.Fatalf("flushes = %d, want %d", len(recs), len(want))
	}
	for i := range want {
		if recs[i].addr != want[i].addr || !bytes.Equal(recs[i].data, want[i].data) {
			t.Errorf("flush %d: addr 0x%X len %d, want addr 0x%X len %d",
				i, recs[i].addr, len(recs[i].data), want[i].addr, len(want[i].data))
		}
	}
}

func TestStagingDrainEmpty(t *testing.T) {
	s := newStaging()
	s.reset(0)
	err := s.drain(func(addr int, data []byte) error {
		t.Error("flush called for empty staging")
		return nil
	})
	if err != nil {
		t.Fatalf("drain() error: %v", err)
	}
}

func TestStagingPushError(t *testing.T) {
	s := newStaging()
	s.reset(0)

	boom := errors.New("boom")
	err := s.push(make([]byte, HalfSize), func(addr int, data []byte) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("push() error = %v, want boom", err)
	}
}

func TestSessionLatch(t *testing.T) {
	s := newSession()
	s.latch(3, 0xBEEF)
	if s.errStatus != 3 || s.errAddr != 0xBEEF {
		t.Errorf("latch = (%v, 0x%X)", s.errStatus, s.errAddr)
	}
	s.clearLatch()
	if s.errStatus != 0 || s.errAddr != 0 {
		t.Error("latch not cleared")
	}
}
