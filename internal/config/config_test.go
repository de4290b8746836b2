package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesMixerDefaults(t *testing.T) {
	d := Default()
	if d.JitterBufferMs != 12 {
		t.Errorf("JitterBufferMs = %v, want 12", d.JitterBufferMs)
	}
	if d.FramesPerChannel != 256 {
		t.Errorf("FramesPerChannel = %v, want 256", d.FramesPerChannel)
	}
	if d.SampleRate != 24000 {
		t.Errorf("SampleRate = %v, want 24000", d.SampleRate)
	}
}

func TestLoadFileMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg != Default() {
		t.Error("LoadFile(\"\") should return Default()")
	}
}

func TestLoadFileMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg != Default() {
		t.Error("LoadFile of a missing path should return Default()")
	}
}

func TestLoadFileParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "sample_rate: 48000\nlisten_port: 9000\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.SampleRate != 48000 {
		t.Errorf("SampleRate = %v, want 48000", cfg.SampleRate)
	}
	if cfg.ListenPort != 9000 {
		t.Errorf("ListenPort = %v, want 9000", cfg.ListenPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	// Untouched fields keep their Default() values.
	if cfg.FramesPerChannel != Default().FramesPerChannel {
		t.Errorf("FramesPerChannel = %v, want the default", cfg.FramesPerChannel)
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "sample_rate: 48000\nlisten_port: 9000\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load([]string{"--config", path, "--listen-port", "7777"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 7777 {
		t.Errorf("ListenPort = %v, want 7777 (flag should win)", cfg.ListenPort)
	}
	if cfg.SampleRate != 48000 {
		t.Errorf("SampleRate = %v, want 48000 (from file, untouched by flags)", cfg.SampleRate)
	}
}

func TestLoadWithNoArgsReturnsDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Error("Load(nil) should return Default()")
	}
}

func TestMixerConfigProjection(t *testing.T) {
	cfg := Default()
	mc := cfg.MixerConfig()
	if mc.SampleRate != cfg.SampleRate {
		t.Errorf("MixerConfig.SampleRate = %v, want %v", mc.SampleRate, cfg.SampleRate)
	}
	if mc.JitterMs != cfg.JitterBufferMs {
		t.Errorf("MixerConfig.JitterMs = %v, want %v", mc.JitterMs, cfg.JitterBufferMs)
	}
}
