package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	sml "github.com/ashajkofci/gosml"
)

type Config struct {
	Serial   SerialConfig   `yaml:"serial" toml:"serial"`
	Meter    MeterConfig    `yaml:"meter" toml:"meter"`
	Entities []EntityConfig `yaml:"entities" toml:"entities"`
	HTTP     HTTPConfig     `yaml:"http" toml:"http"`
	Log      LogConfig      `yaml:"log" toml:"log"`
}

type SerialConfig struct {
	Port          string `yaml:"port" toml:"port"`
	VendorID      string `yaml:"vendor_id" toml:"vendor_id"`
	ProductID     string `yaml:"product_id" toml:"product_id"`
	Baud          int    `yaml:"baud" toml:"baud"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms" toml:"read_timeout_ms"`
}

type MeterConfig struct {
	Name         string   `yaml:"name" toml:"name"`
	Model        string   `yaml:"model" toml:"model"`
	Manufacturer string   `yaml:"manufacturer" toml:"manufacturer"`
	MaxFrameSize int      `yaml:"max_frame_size" toml:"max_frame_size"`
	StaleAfter   Duration `yaml:"stale_after" toml:"stale_after"`
}

// EntityConfig describes one reading. Only name, offset and scale reach the
// decoder; the rest is presentation metadata passed through to consumers.
type EntityConfig struct {
	Name        string  `yaml:"name" toml:"name" json:"name"`
	Offset      int     `yaml:"offset" toml:"offset" json:"offset"`
	Scale       float64 `yaml:"scale" toml:"scale" json:"scale,omitempty"`
	Unit        string  `yaml:"unit" toml:"unit" json:"unit,omitempty"`
	Icon        string  `yaml:"icon" toml:"icon" json:"icon,omitempty"`
	DeviceClass string  `yaml:"device_class" toml:"device_class" json:"device_class,omitempty"`
	StateClass  string  `yaml:"state_class" toml:"state_class" json:"state_class,omitempty"`
}

type HTTPConfig struct {
	Addr        string   `yaml:"addr" toml:"addr"`
	CorsOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
}

type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	Format     string `yaml:"format" toml:"format"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// Duration accepts Go duration strings such as "60s" in both file formats.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := Parse(data, filepath.Ext(path), &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data according to the file extension.
func Parse(data []byte, ext string, out *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, out)
	case ".toml":
		return toml.Unmarshal(data, out)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

func (c *Config) ApplyDefaults() {
	if c.Serial.Baud == 0 {
		c.Serial.Baud = sml.DefaultBaudrate
	}
	if c.Serial.ReadTimeoutMs == 0 {
		c.Serial.ReadTimeoutMs = sml.DefaultReadTimeout
	}
	if c.Meter.Name == "" {
		c.Meter.Name = "smartmeter"
	}
	if c.Meter.MaxFrameSize == 0 {
		c.Meter.MaxFrameSize = sml.DefaultMaxFrameSize
	}
	if c.Meter.StaleAfter.Duration == 0 {
		c.Meter.StaleAfter.Duration = 60 * time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Serial.Port) == "" &&
		(strings.TrimSpace(cfg.Serial.VendorID) == "" || strings.TrimSpace(cfg.Serial.ProductID) == "") {
		return errors.New("serial port or vendor_id/product_id required")
	}
	if cfg.Serial.Baud < 0 {
		return fmt.Errorf("invalid baud rate %d", cfg.Serial.Baud)
	}
	if cfg.Meter.MaxFrameSize < 0 {
		return fmt.Errorf("invalid max_frame_size %d", cfg.Meter.MaxFrameSize)
	}
	seen := make(map[string]bool, len(cfg.Entities))
	for i, e := range cfg.Entities {
		if err := ValidateEntity(e); err != nil {
			return fmt.Errorf("entity[%d] invalid: %w", i, err)
		}
		if seen[e.Name] {
			return fmt.Errorf("entity[%d] invalid: duplicate name %q", i, e.Name)
		}
		seen[e.Name] = true
	}
	switch cfg.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", cfg.Log.Format)
	}
	return nil
}

func ValidateEntity(e EntityConfig) error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("name is required")
	}
	if e.Offset < 0 {
		return fmt.Errorf("offset %d is negative", e.Offset)
	}
	return nil
}

// SMLEntities returns the decoder view of the configured entities.
func (c Config) SMLEntities() []sml.Entity {
	out := make([]sml.Entity, 0, len(c.Entities))
	for _, e := range c.Entities {
		out = append(out, sml.Entity{Name: e.Name, Offset: e.Offset, Scale: e.Scale})
	}
	return out
}

func (c Config) SMLSerial() sml.SerialConfig {
	return sml.SerialConfig{
		PortName:      c.Serial.Port,
		VendorID:      c.Serial.VendorID,
		ProductID:     c.Serial.ProductID,
		Baudrate:      c.Serial.Baud,
		ReadTimeoutMs: c.Serial.ReadTimeoutMs,
	}
}
