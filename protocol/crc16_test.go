package protocol

import "testing"

func TestCRC16(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0xFFFF},
		{"check value", []byte("123456789"), 0x29B1},
		{"single byte", []byte("A"), 0xB915},
		{"zeros", []byte{0x00, 0x00}, 0x1D0F},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC16(tt.data); got != tt.want {
				t.Errorf("CRC16(% X) = 0x%04X, want 0x%04X", tt.data, got, tt.want)
			}
		})
	}
}

func TestUpdateCRC16Incremental(t *testing.T) {
	data := []byte("123456789")
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = UpdateCRC16(crc, []byte{b})
	}
	if want := CRC16(data); crc != want {
		t.Errorf("incremental CRC = 0x%04X, want 0x%04X", crc, want)
	}
}
