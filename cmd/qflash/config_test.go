package main

import (
	"testing"

	"github.com/BurntSushi/toml"
)

func TestConfigDecode(t *testing.T) {
	cfg := defaultConfig()
	doc := `
port = "/dev/ttyACM0"
timeout = 30
payload_cap = 128
`
	if _, err := toml.Decode(doc, &cfg); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if cfg.Port != "/dev/ttyACM0" || cfg.Timeout != 30 || cfg.PayloadCap != 128 {
		t.Errorf("config = %+v", cfg)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := defaultConfig()
	doc := `port = "/dev/ttyACM1"`
	if _, err := toml.Decode(doc, &cfg); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if cfg.Timeout != 10 {
		t.Errorf("timeout = %d, want default 10", cfg.Timeout)
	}
}

func TestParseNum(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"0", 0, false},
		{"4096", 4096, false},
		{"0x1000", 0x1000, false},
		{"0xFFFFFF", 0xFFFFFF, false},
		{"0x1F000000", 0x1F000000, false},
		{"nope", 0, true},
		{"-1", 0, true},
	}
	for _, tt := range tests {
		got, err := parseNum(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseNum(%q) error = %v", tt.in, err)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("parseNum(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
