package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"oggstream/internal/oggdemux"
	"oggstream/internal/otelutil"
	"oggstream/internal/packet"
	"oggstream/internal/stream"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Demux     DemuxConfig     `yaml:"demux"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Address string `yaml:"address"`
	// MediaRoot is the directory sessions may open by path. Empty disables
	// path sessions; uploads still work.
	MediaRoot      string `yaml:"media_root"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// DemuxConfig tunes every demuxer the service creates
type DemuxConfig struct {
	MaxBufferBytes       int   `yaml:"max_buffer_bytes"`
	ResyncLimit          int   `yaml:"resync_limit"`
	FirstPacketTolerance int64 `yaml:"first_packet_tolerance"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig selects the trace exporter
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	Stdout       bool   `yaml:"stdout"`
}

// Default returns a configuration that passes Validate.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":8080",
			MaxUploadBytes: 64 << 20,
		},
		Demux: DemuxConfig{
			MaxBufferBytes: stream.DefaultMaxBytes,
			ResyncLimit:    oggdemux.DefaultResyncLimit,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses the configuration file. Keys missing from the file
// keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Demux.Validate(); err != nil {
		return fmt.Errorf("demux config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if s.MaxUploadBytes < 1 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", s.MaxUploadBytes)
	}
	if s.MediaRoot != "" {
		fi, err := os.Stat(s.MediaRoot)
		if err != nil {
			return fmt.Errorf("media_root: %w", err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("media_root %s is not a directory", s.MediaRoot)
		}
	}
	return nil
}

// Validate validates demux configuration
func (d *DemuxConfig) Validate() error {
	// A page can carry 255*255 body bytes plus a 282-byte header.
	if d.MaxBufferBytes < 65307 {
		return fmt.Errorf("max_buffer_bytes must hold one full page (65307 bytes), got %d", d.MaxBufferBytes)
	}
	if d.ResyncLimit < 1 {
		return fmt.Errorf("resync_limit must be positive, got %d", d.ResyncLimit)
	}
	if d.FirstPacketTolerance < 0 {
		return fmt.Errorf("first_packet_tolerance cannot be negative, got %d", d.FirstPacketTolerance)
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}
	return nil
}

// NewLogger builds a logger writing to w.
func (l *LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// DemuxOptions turns the demux section into demuxer options.
func (d *DemuxConfig) DemuxOptions(logger *slog.Logger) []oggdemux.Option {
	return []oggdemux.Option{
		oggdemux.WithLogger(logger),
		oggdemux.WithMaxBufferBytes(d.MaxBufferBytes),
		oggdemux.WithResyncLimit(d.ResyncLimit),
		oggdemux.WithReaderOptions(
			packet.WithLogger(logger),
			packet.WithFirstPacketTolerance(d.FirstPacketTolerance),
		),
	}
}

// Settings converts the telemetry section, with environment fallbacks.
func (t *TelemetryConfig) Settings() otelutil.Settings {
	return otelutil.FromEnv(otelutil.Settings{
		OTLPEndpoint: t.OTLPEndpoint,
		OTLPInsecure: t.OTLPInsecure,
		Stdout:       t.Stdout,
	})
}
