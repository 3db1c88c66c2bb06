package qmux

import (
	"encoding/hex"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/trafficlab/qmux/hpack"
	"github.com/trafficlab/qmux/wire"
)

// Config is the demultiplexer configuration, loadable from a TOML file.
type Config struct {
	// Listen is the UDP address the socket binds to.
	Listen string `toml:"listen"`
	// Workers is the number of connection worker goroutines.
	Workers int `toml:"workers"`
	// ConnectionTableSize is the expected number of live connections.
	ConnectionTableSize int `toml:"connection-table-size"`
	// ServerID is a hex-encoded byte string keying reset-token derivation.
	ServerID string `toml:"server-id"`
	// HeaderTableSize caps the HPACK dynamic table.
	HeaderTableSize int `toml:"header-table-size"`
	// CIDLength is the length of locally issued connection IDs, which is
	// also the assumed DCID length of inbound short-header packets.
	CIDLength int `toml:"cid-length"`

	Logging LoggingConfig `toml:"logging"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a configuration with every field usable.
func DefaultConfig() *Config {
	return &Config{
		Listen:              ":8443",
		Workers:             runtime.NumCPU(),
		ConnectionTableSize: 65521,
		ServerID:            "00112233445566778899aabbccddeeff",
		HeaderTableSize:     hpack.DefaultTableSize,
		CIDLength:           wire.MaxCIDLength,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a TOML configuration file, filling unset fields with
// defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return config, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if c.ConnectionTableSize <= 0 {
		return errors.New("connection-table-size must be positive")
	}
	if _, err := c.serverID(); err != nil {
		return err
	}
	if c.HeaderTableSize < 0 || c.HeaderTableSize > 1<<30 {
		return errors.New("header-table-size out of range")
	}
	if c.CIDLength < 0 || c.CIDLength > wire.MaxCIDLength {
		return errors.New("cid-length out of range")
	}
	return nil
}

func (c *Config) serverID() ([]byte, error) {
	if c.ServerID == "" {
		return nil, errors.New("server-id must not be empty")
	}
	id, err := hex.DecodeString(c.ServerID)
	if err != nil {
		return nil, errors.Wrap(err, "server-id")
	}
	return id, nil
}
