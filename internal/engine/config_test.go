package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	c, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if c.ListenAddr != ":8000" || c.UploadDir != "uploads" || c.OutputDir != "outputs" {
		t.Errorf("unexpected defaults: %+v", c)
	}
	if c.Workers != 1 || c.Engine != EngineWhisper {
		t.Errorf("workers=%d engine=%q", c.Workers, c.Engine)
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
listen_addr: ":9000"
engine: stub
workers: 3
fetch_timeout: 45s
cors_origins: ["https://a.example"]
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WORKERS", "5")
	t.Setenv("AUTO_MIGRATE", "true")

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q, want file value", c.ListenAddr)
	}
	if c.Engine != EngineStub {
		t.Errorf("Engine = %q", c.Engine)
	}
	if c.Workers != 5 {
		t.Errorf("Workers = %d, want env override 5", c.Workers)
	}
	if c.FetchTimeout != 45*time.Second {
		t.Errorf("FetchTimeout = %s", c.FetchTimeout)
	}
	if !c.AutoMigrate {
		t.Error("AutoMigrate not set from env")
	}
	if len(c.CORSOrigins) != 1 || c.CORSOrigins[0] != "https://a.example" {
		t.Errorf("CORSOrigins = %v", c.CORSOrigins)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"negative queue", func(c *Config) { c.QueueSize = -1 }, "queue_size"},
		{"unknown engine", func(c *Config) { c.Engine = "magic" }, "unknown engine"},
		{"remote without url", func(c *Config) { c.Engine = EngineRemote }, "remote_stt_url"},
		{"negative timeout", func(c *Config) { c.TranscribeTimeout = -time.Second }, "transcribe_timeout"},
		{"zero upload cap", func(c *Config) { c.MaxUploadBytes = 0 }, "max_upload_bytes"},
		{"codec opus", func(c *Config) { c.AudioCodec = "opus" }, ""},
		{"codec upper case", func(c *Config) { c.AudioCodec = "M4A" }, ""},
		{"codec vorbis", func(c *Config) { c.AudioCodec = "vorbis" }, "audio_codec"},
		{"codec best", func(c *Config) { c.AudioCodec = "best" }, "audio_codec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFillsEmpty(t *testing.T) {
	c := DefaultConfig()
	c.UploadDir, c.OutputDir, c.SQLitePath, c.Engine = "", "", "", ""
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.UploadDir != "uploads" || c.OutputDir != "outputs" || c.SQLitePath == "" || c.Engine != EngineWhisper {
		t.Errorf("defaults not applied: %+v", c)
	}
}
