package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/replack/internal/logging"
	"github.com/danmuck/replack/internal/protocol/frame"
	"github.com/danmuck/replack/internal/protocol/osd"
	"github.com/danmuck/replack/internal/protocol/session"
	"github.com/danmuck/replack/internal/protocol/wire"
)

// Config is the resolved node configuration.
type Config struct {
	Source   osd.EntityName
	LogLevel string
	Codec    wire.Limits
	Frame    frame.Limits
}

type fileConfig struct {
	Node struct {
		Name string `toml:"name"`
	} `toml:"node"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
	Codec struct {
		MaxOps     uint32 `toml:"max_ops"`
		MaxAttrs   uint32 `toml:"max_attrs"`
		MaxBlobLen uint32 `toml:"max_blob_len"`
	} `toml:"codec"`
	Frame struct {
		MaxPayloadBytes   uint32 `toml:"max_payload_bytes"`
		MaxExtensionBytes uint32 `toml:"max_extension_bytes"`
	} `toml:"frame"`
}

func Default() Config {
	return Config{
		Source:   osd.OSDEntity(0),
		LogLevel: "info",
		Codec:    wire.DefaultLimits(),
		Frame:    frame.DefaultLimits(),
	}
}

// Load reads path and applies every key it defines on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config parse failed (%s): unknown key %s", path, undecoded[0])
	}

	if meta.IsDefined("node", "name") {
		name, err := osd.ParseEntityName(raw.Node.Name)
		if err != nil {
			return Config{}, fmt.Errorf("parse node.name: %w", err)
		}
		cfg.Source = name
	}
	if meta.IsDefined("log", "level") {
		cfg.LogLevel = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("codec", "max_ops") {
		cfg.Codec.MaxOps = raw.Codec.MaxOps
	}
	if meta.IsDefined("codec", "max_attrs") {
		cfg.Codec.MaxAttrs = raw.Codec.MaxAttrs
	}
	if meta.IsDefined("codec", "max_blob_len") {
		cfg.Codec.MaxBlobLen = raw.Codec.MaxBlobLen
	}
	if meta.IsDefined("frame", "max_payload_bytes") {
		cfg.Frame.MaxPayloadBytes = raw.Frame.MaxPayloadBytes
	}
	if meta.IsDefined("frame", "max_extension_bytes") {
		cfg.Frame.MaxExtensionBytes = raw.Frame.MaxExtensionBytes
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("config: unknown log level %q", cfg.LogLevel)
	}
	if cfg.Codec.MaxOps == 0 {
		return fmt.Errorf("config: codec.max_ops must be positive")
	}
	if cfg.Codec.MaxAttrs == 0 {
		return fmt.Errorf("config: codec.max_attrs must be positive")
	}
	if cfg.Codec.MaxBlobLen == 0 {
		return fmt.Errorf("config: codec.max_blob_len must be positive")
	}
	if cfg.Frame.MaxPayloadBytes == 0 {
		return fmt.Errorf("config: frame.max_payload_bytes must be positive")
	}
	return nil
}

// Session projects cfg onto the codec endpoint setup.
func (c Config) Session() session.Config {
	return session.Config{
		Source: c.Source,
		Frame:  c.Frame,
		Codec:  c.Codec,
	}
}
