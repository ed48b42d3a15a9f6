package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Config holds all the settings for the service.
type Config struct {
	Port          int    `mapstructure:"port"`
	MaxUploadSize string `mapstructure:"max_upload_size"`
	EnableHWAccel bool   `mapstructure:"enable_hw_accel"`
	FFmpegPath    string `mapstructure:"ffmpeg_path"`
	FFprobePath   string `mapstructure:"ffprobe_path"`

	Paths  PathsConfig  `mapstructure:"paths"`
	Encode EncodeConfig `mapstructure:"encode"`
	Upload UploadConfig `mapstructure:"upload"`
	Log    LogConfig    `mapstructure:"log"`
	Notify NotifyConfig `mapstructure:"notify"`
}

// PathsConfig locates the working directories. Empty entries are derived
// from DataDir.
type PathsConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	Uploads    string `mapstructure:"uploads"`
	Compressed string `mapstructure:"compressed"`
	Logs       string `mapstructure:"logs"`
}

type EncodeConfig struct {
	AudioBitrateKbps int           `mapstructure:"audio_bitrate_kbps"`
	SafetyMargin     float64       `mapstructure:"safety_margin"`
	OutputTTL        time.Duration `mapstructure:"output_ttl"`
}

type UploadConfig struct {
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	RetryMax   int    `mapstructure:"retry_max"`
}

// LoadConfig initializes Viper and merges all config sources.
// An empty path skips the file and relies on defaults and env vars.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Set Defaults
	v.SetDefault("port", 3000)
	v.SetDefault("max_upload_size", "1G")
	v.SetDefault("enable_hw_accel", true)
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("ffprobe_path", "ffprobe")
	v.SetDefault("paths.data_dir", "data")
	v.SetDefault("paths.uploads", "")
	v.SetDefault("paths.compressed", "")
	v.SetDefault("paths.logs", "")
	v.SetDefault("encode.audio_bitrate_kbps", 128)
	v.SetDefault("encode.safety_margin", 0.94)
	v.SetDefault("encode.output_ttl", time.Hour)
	v.SetDefault("upload.session_ttl", 6*time.Hour)
	v.SetDefault("upload.reap_interval", 10*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.retry_max", 3)

	// 2. Read from File
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// 3. Environment overrides, e.g. VIDERA_ENCODE_OUTPUT_TTL=30m
	v.SetEnvPrefix("VIDERA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// PORT and FORCE_CPU_ENCODER are honored unprefixed for container setups.
	_ = v.BindEnv("port", "VIDERA_PORT", "PORT")
	_ = v.BindEnv("max_upload_size", "VIDERA_MAX_UPLOAD_SIZE", "MAX_VIDEO_UPLOAD_SIZE")
	_ = v.BindEnv("force_cpu_encoder", "VIDERA_FORCE_CPU_ENCODER", "FORCE_CPU_ENCODER")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if v.GetBool("force_cpu_encoder") {
		cfg.EnableHWAccel = false
	}

	cfg.Paths.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (p *PathsConfig) resolve() {
	if p.Uploads == "" {
		p.Uploads = filepath.Join(p.DataDir, "uploads")
	}
	if p.Compressed == "" {
		p.Compressed = filepath.Join(p.DataDir, "compressed")
	}
	if p.Logs == "" {
		p.Logs = filepath.Join(p.DataDir, "logs")
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, err := c.MaxUploadBytes(); err != nil {
		return err
	}
	if c.Encode.SafetyMargin <= 0 || c.Encode.SafetyMargin > 1 {
		return fmt.Errorf("encode.safety_margin must be in (0, 1], got %v", c.Encode.SafetyMargin)
	}
	if c.Encode.AudioBitrateKbps <= 0 {
		return fmt.Errorf("encode.audio_bitrate_kbps must be positive, got %d", c.Encode.AudioBitrateKbps)
	}
	if c.Encode.OutputTTL <= 0 {
		return fmt.Errorf("encode.output_ttl must be positive, got %s", c.Encode.OutputTTL)
	}
	if c.Upload.ReapInterval <= 0 || c.Upload.SessionTTL <= 0 {
		return fmt.Errorf("upload.session_ttl and upload.reap_interval must be positive")
	}
	return nil
}

// MaxUploadBytes parses MaxUploadSize ("1G", "512MB", "2GiB").
func (c *Config) MaxUploadBytes() (uint64, error) {
	n, err := humanize.ParseBytes(c.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max_upload_size %q: %w", c.MaxUploadSize, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("max_upload_size must be positive")
	}
	return n, nil
}
