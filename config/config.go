// Package config loads the picoforge configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/phoeagon/picoforge/hid"
	"github.com/phoeagon/picoforge/logging"
	"github.com/phoeagon/picoforge/sec"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PICOFORGE_"

type Config struct {
	Log  logging.Config `toml:"log" yaml:"log"`
	PCSC PCSCConfig     `toml:"pcsc" yaml:"pcsc"`
	HID  HIDConfig      `toml:"hid" yaml:"hid"`
	FIDO FIDOConfig     `toml:"fido" yaml:"fido"`
}

type PCSCConfig struct {
	// Reader selects the first reader whose name contains this text,
	// compared case-insensitively. Empty picks the first reader.
	Reader string `toml:"reader" yaml:"reader"`
}

type HIDConfig struct {
	ResponseTimeout     Duration `toml:"response_timeout" yaml:"response_timeout"`
	ContinuationTimeout Duration `toml:"continuation_timeout" yaml:"continuation_timeout"`
	// KeepaliveLimit bounds how long the device may keep answering with
	// KEEPALIVE. Zero waits forever.
	KeepaliveLimit Duration `toml:"keepalive_limit" yaml:"keepalive_limit"`
}

type FIDOConfig struct {
	PinProtocol uint8 `toml:"pin_protocol" yaml:"pin_protocol"`
}

// Duration is a time.Duration written as "2s" or "500ms".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Log: logging.DefaultConfig(),
		HID: HIDConfig{
			ResponseTimeout:     Duration(hid.DefaultResponseTimeout),
			ContinuationTimeout: Duration(hid.DefaultContinuationTimeout),
			KeepaliveLimit:      Duration(hid.DefaultKeepaliveLimit),
		},
		FIDO: FIDOConfig{PinProtocol: sec.ProtocolOne},
	}
}

// Dir returns the picoforge configuration directory.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		var err error
		if base, err = os.UserConfigDir(); err != nil {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "picoforge")
}

func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads path, falling back to the defaults when the file does not
// exist, then applies environment overrides and validates the result. The
// format is chosen by extension: .yaml and .yml are YAML, anything else
// TOML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := decode(path, content, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, content []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse config yaml: %w", err)
		}
	default:
		md, err := toml.Decode(string(content), cfg)
		if err != nil {
			return fmt.Errorf("parse config toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown config key %q", undecoded[0].String())
		}
	}
	return nil
}

// ApplyEnv overrides fields from PICOFORGE_* variables looked up with
// lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		return nil
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_FILE", &c.Log.File)
	str("PCSC_READER", &c.PCSC.Reader)
	if err := dur("HID_RESPONSE_TIMEOUT", &c.HID.ResponseTimeout); err != nil {
		return err
	}
	if err := dur("HID_KEEPALIVE_LIMIT", &c.HID.KeepaliveLimit); err != nil {
		return err
	}
	if v, ok := lookup(EnvPrefix + "FIDO_PIN_PROTOCOL"); ok {
		p, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return fmt.Errorf("%sFIDO_PIN_PROTOCOL: %w", EnvPrefix, err)
		}
		c.FIDO.PinProtocol = uint8(p)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("config.log: %w", err)
	}
	if c.HID.ResponseTimeout <= 0 {
		return errors.New("config.hid.response_timeout must be positive")
	}
	if c.HID.ContinuationTimeout <= 0 {
		return errors.New("config.hid.continuation_timeout must be positive")
	}
	if c.HID.KeepaliveLimit < 0 {
		return errors.New("config.hid.keepalive_limit must not be negative")
	}
	switch c.FIDO.PinProtocol {
	case sec.ProtocolOne, sec.ProtocolTwo:
	default:
		return fmt.Errorf("config.fido.pin_protocol must be %d or %d", sec.ProtocolOne, sec.ProtocolTwo)
	}
	return nil
}

// HIDOptions returns the transport options for the configured timeouts.
func (c *Config) HIDOptions() []hid.Option {
	return []hid.Option{
		hid.WithResponseTimeout(c.HID.ResponseTimeout.Std()),
		hid.WithContinuationTimeout(c.HID.ContinuationTimeout.Std()),
		hid.WithKeepaliveLimit(c.HID.KeepaliveLimit.Std()),
	}
}

// Save writes c to path in the format chosen by its extension, creating the
// parent directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("encode config yaml: %w", err)
		}
		_ = enc.Close()
	default:
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("encode config toml: %w", err)
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
