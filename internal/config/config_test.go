package config

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"path/filepath"
	"testing"
	"time"

	"github.com/san-kum/aiwater/internal/dynamo"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Electrolysis != dynamo.DefaultParams() {
		t.Errorf("expected firmware params, got %+v", cfg.Electrolysis)
	}
	if cfg.Engine.TickInterval != 100*time.Millisecond {
		t.Errorf("expected 100ms tick, got %v", cfg.Engine.TickInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad_PartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aiwater.yaml")
	data := "electrolysis:\n  voltage: 9\nengine:\n  tick_interval: 250ms\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Electrolysis.Voltage != 9 {
		t.Errorf("expected voltage 9, got %g", cfg.Electrolysis.Voltage)
	}
	if cfg.Electrolysis.ElectrodeGap != 2 {
		t.Errorf("expected default gap 2, got %g", cfg.Electrolysis.ElectrodeGap)
	}
	if cfg.Engine.TickInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.Engine.TickInterval)
	}
	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("expected default addr, got %s", cfg.Server.Addr)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "aiwater.yaml")
	cfg := DefaultConfig()
	cfg.Electrolysis.SafetyResistance = 22
	cfg.Kafka.Brokers = []string{"a:9092", "b:9092"}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Electrolysis != cfg.Electrolysis {
		t.Errorf("params mismatch: %+v vs %+v", got.Electrolysis, cfg.Electrolysis)
	}
	if len(got.Kafka.Brokers) != 2 || got.Server.ShutdownTimeout != cfg.Server.ShutdownTimeout {
		t.Errorf("unexpected round trip: %+v", got)
	}
}

func TestLoadOrDefault_Missing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("expected defaults, got %+v", cfg.Server)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("AIWATER_ADDR", ":9999")
	t.Setenv("AIWATER_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("AIWATER_TICK_INTERVAL", "50ms")

	cfg := DefaultConfig()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("expected :9999, got %s", cfg.Server.Addr)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Engine.TickInterval != 50*time.Millisecond {
		t.Errorf("expected 50ms, got %v", cfg.Engine.TickInterval)
	}
	if cfg.Store.Path != DefaultStorePath {
		t.Errorf("unset variable changed store path to %s", cfg.Store.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(c *Config)
	}{
		{"bad params", func(c *Config) { c.Electrolysis.Voltage = -1 }},
		{"zero tick", func(c *Config) { c.Engine.TickInterval = 0 }},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"zero poll", func(c *Config) { c.Observer.PollInterval = 0 }},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mod(cfg)
			if err := cfg.Validate(); !errors.Is(err, dynamo.ErrInvalidConfiguration) {
				t.Errorf("expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}
}

func TestGetPreset(t *testing.T) {
	p, ok := GetPreset("firmware")
	if !ok {
		t.Fatal("expected firmware preset")
	}
	if p != dynamo.DefaultParams() {
		t.Errorf("firmware preset differs from defaults")
	}

	if _, ok := GetPreset("nonexistent"); ok {
		t.Error("expected miss for nonexistent preset")
	}
}

func TestPresetsValid(t *testing.T) {
	names := ListPresets()
	if len(names) != 4 || names[0] != "bench" {
		t.Errorf("unexpected presets %v", names)
	}
	for _, name := range names {
		p, _ := GetPreset(name)
		if err := p.Validate(); err != nil {
			t.Errorf("preset %s invalid: %v", name, err)
		}
	}
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, DefaultConfig()); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"electrolysis:", "voltage: 5", "tick_interval: 100ms", "addr:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
