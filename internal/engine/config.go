// Package engine holds the infrastructure shared by the transcription pipeline.
package engine

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"gopkg.in/yaml.v3"
)

// Engine kinds accepted by ENGINE.
const (
	EngineWhisper = "whisper"
	EngineRemote  = "remote"
	EngineStub    = "stub"
)

// AudioCodecs are the yt-dlp --audio-format values whose output file
// extension equals the codec name.
var AudioCodecs = []string{"mp3", "m4a", "wav", "flac", "opus"}

// Config holds all service configuration, loaded once in main and injected downward.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	UploadDir  string `yaml:"upload_dir"`
	OutputDir  string `yaml:"output_dir"`

	DatabaseURL string `yaml:"database_url"` // postgres; empty = sqlite
	SQLitePath  string `yaml:"sqlite_path"`
	RedisURL    string `yaml:"redis_url"` // empty = L1 cache only
	AutoMigrate bool   `yaml:"auto_migrate"`

	Engine          string `yaml:"engine"`
	WhisperBin      string `yaml:"whisper_bin"`
	WhisperModel    string `yaml:"whisper_model"`
	WhisperLanguage string `yaml:"whisper_language"`
	RemoteSTTURL    string `yaml:"remote_stt_url"`
	RemoteSTTAPIKey string `yaml:"remote_stt_api_key"`
	RemoteSTTModel  string `yaml:"remote_stt_model"`

	YtDlpBin   string `yaml:"ytdlp_bin"`
	AudioCodec string `yaml:"audio_codec"`

	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	ExtractTimeout    time.Duration `yaml:"extract_timeout"`
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	MaxDownloadBytes int64 `yaml:"max_download_bytes"`
	MaxUploadBytes   int64 `yaml:"max_upload_bytes"`

	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	MaxConns       int      `yaml:"max_conns"`
	CORSOrigins    []string `yaml:"cors_origins"`

	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheMaxEntries int           `yaml:"cache_max_entries"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns the baseline configuration used before file and env overrides.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":8000",
		UploadDir:         "uploads",
		OutputDir:         "outputs",
		SQLitePath:        "data/transcriber.db",
		Engine:            EngineWhisper,
		WhisperBin:        "whisper",
		WhisperModel:      "small",
		RemoteSTTModel:    "whisper-1",
		YtDlpBin:          "yt-dlp",
		AudioCodec:        "mp3",
		Workers:           1,
		QueueSize:         16,
		FetchTimeout:      2 * time.Minute,
		ExtractTimeout:    10 * time.Minute,
		TranscribeTimeout: 30 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
		MaxDownloadBytes:  512 << 20,
		MaxUploadBytes:    512 << 20,
		RateLimitRPS:      2,
		RateLimitBurst:    4,
		MaxConns:          256,
		CORSOrigins:       []string{"*"},
		CacheTTL:          15 * time.Minute,
		CacheMaxEntries:   256,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// LoadConfig reads the optional YAML file at path, applies environment overrides
// and validates the result. File values act as the env defaults; env wins.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	c.ListenAddr = env.Str("LISTEN_ADDR", c.ListenAddr)
	c.UploadDir = env.Str("UPLOAD_DIR", c.UploadDir)
	c.OutputDir = env.Str("OUTPUT_DIR", c.OutputDir)
	c.DatabaseURL = env.Str("DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = env.Str("SQLITE_PATH", c.SQLitePath)
	c.RedisURL = env.Str("REDIS_URL", c.RedisURL)
	c.AutoMigrate = parseBool(env.Str("AUTO_MIGRATE", strconv.FormatBool(c.AutoMigrate)), c.AutoMigrate)

	c.Engine = env.Str("ENGINE", c.Engine)
	c.WhisperBin = env.Str("WHISPER_BIN", c.WhisperBin)
	c.WhisperModel = env.Str("WHISPER_MODEL", c.WhisperModel)
	c.WhisperLanguage = env.Str("WHISPER_LANGUAGE", c.WhisperLanguage)
	c.RemoteSTTURL = env.Str("REMOTE_STT_URL", c.RemoteSTTURL)
	c.RemoteSTTAPIKey = env.Str("REMOTE_STT_API_KEY", c.RemoteSTTAPIKey)
	c.RemoteSTTModel = env.Str("REMOTE_STT_MODEL", c.RemoteSTTModel)

	c.YtDlpBin = env.Str("YTDLP_BIN", c.YtDlpBin)
	c.AudioCodec = env.Str("AUDIO_CODEC", c.AudioCodec)

	c.Workers = env.Int("WORKERS", c.Workers)
	c.QueueSize = env.Int("QUEUE_SIZE", c.QueueSize)

	c.FetchTimeout = env.Duration("FETCH_TIMEOUT", c.FetchTimeout)
	c.ExtractTimeout = env.Duration("EXTRACT_TIMEOUT", c.ExtractTimeout)
	c.TranscribeTimeout = env.Duration("TRANSCRIBE_TIMEOUT", c.TranscribeTimeout)
	c.ShutdownTimeout = env.Duration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.MaxDownloadBytes = int64(env.Int("MAX_DOWNLOAD_BYTES", int(c.MaxDownloadBytes)))
	c.MaxUploadBytes = int64(env.Int("MAX_UPLOAD_BYTES", int(c.MaxUploadBytes)))

	c.RateLimitRPS = env.Float("RATE_LIMIT_RPS", c.RateLimitRPS)
	c.RateLimitBurst = env.Int("RATE_LIMIT_BURST", c.RateLimitBurst)
	c.MaxConns = env.Int("MAX_CONNS", c.MaxConns)
	c.CORSOrigins = env.List("CORS_ORIGINS", strings.Join(c.CORSOrigins, ","))

	c.CacheTTL = env.Duration("CACHE_TTL", c.CacheTTL)
	c.CacheMaxEntries = env.Int("CACHE_MAX_ENTRIES", c.CacheMaxEntries)

	c.LogLevel = env.Str("LOG_LEVEL", c.LogLevel)
	c.LogFormat = env.Str("LOG_FORMAT", c.LogFormat)

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate applies defaults for empty fields and rejects out-of-range values.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("config: listen address is required")
	}
	if c.UploadDir == "" {
		c.UploadDir = def.UploadDir
	}
	if c.OutputDir == "" {
		c.OutputDir = def.OutputDir
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		c.SQLitePath = def.SQLitePath
	}
	c.AudioCodec = strings.ToLower(strings.TrimSpace(c.AudioCodec))
	if c.AudioCodec == "" {
		c.AudioCodec = def.AudioCodec
	}
	if !slices.Contains(AudioCodecs, c.AudioCodec) {
		return fmt.Errorf("config: unsupported audio_codec %q (valid: %s)", c.AudioCodec, strings.Join(AudioCodecs, ", "))
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	c.Engine = strings.ToLower(strings.TrimSpace(c.Engine))
	switch c.Engine {
	case "":
		c.Engine = def.Engine
	case EngineWhisper, EngineStub:
	case EngineRemote:
		if c.RemoteSTTURL == "" {
			return errors.New("config: remote_stt_url is required when engine=remote")
		}
	default:
		return fmt.Errorf("config: unknown engine %q (valid: whisper, remote, stub)", c.Engine)
	}

	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be >= 1, got %d", c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("config: queue_size must be >= 0, got %d", c.QueueSize)
	}
	if c.MaxDownloadBytes <= 0 {
		return fmt.Errorf("config: max_download_bytes must be > 0, got %d", c.MaxDownloadBytes)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: max_upload_bytes must be > 0, got %d", c.MaxUploadBytes)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("config: rate_limit_rps must be >= 0, got %v", c.RateLimitRPS)
	}
	if c.RateLimitBurst < 1 {
		c.RateLimitBurst = 1
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"fetch_timeout", c.FetchTimeout},
		{"extract_timeout", c.ExtractTimeout},
		{"transcribe_timeout", c.TranscribeTimeout},
	} {
		if d.val < 0 {
			return fmt.Errorf("config: %s must be >= 0, got %s", d.name, d.val)
		}
	}
	return nil
}

func parseBool(raw string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return v
}
