package config_test

import (
	"testing"

	"hostlink/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if cfg.SerialBaud != 115200 {
		t.Errorf("expected default baud 115200, got %d", cfg.SerialBaud)
	}
	if !cfg.AutoReconnect {
		t.Error("expected auto-reconnect enabled by default")
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", cfg.MaxRetries)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := config.Config{
		SerialPort:    "/dev/ttyUSB0",
		SerialBaud:    57600,
		SelfNodeID:    0xCAFEBABE,
		AckTimeoutMs:  1500,
		MaxRetries:    5,
		ReconnectMs:   1000,
		AutoReconnect: false,
	}

	if err := config.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := config.Load()
	if loaded != cfg {
		t.Fatalf("loaded config %+v does not match saved %+v", loaded, cfg)
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	loaded := config.Load()
	if loaded != config.Default() {
		t.Fatalf("expected default config when none saved, got %+v", loaded)
	}
}
