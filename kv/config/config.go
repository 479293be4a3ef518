package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Concurrency control types, named the way callers select them.
const (
	CCTypeMVCC                 = "mvcc"
	CCTypeTimestampBased       = "timestamp-based"
	CCTypeStrictTimestampBased = "strict-timestamp-based"
	CCTypeStrongStrict2PL      = "strong-strict-2pl"
)

// DefaultTxnTimeout is how long a transaction may stay idle before its engine aborts it.
const DefaultTxnTimeout = 30 * time.Second

type Config struct {
	CCType   string `toml:"cc-type"`
	LogLevel string `toml:"log-level"`
	LogFile  string `toml:"log-file"`

	// TxnTimeout resets on every operation of a transaction. Zero disables the idle abort.
	TxnTimeout Duration `toml:"txn-timeout"`

	// Reserved for a sharded deployment, not read by any engine.
	Branch   string `toml:"branch"`
	Hostname string `toml:"hostname"`
	Port     string `toml:"port"`
}

// Duration is a time.Duration that decodes from a toml string such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.WithStack(err)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (c *Config) Validate() error {
	switch c.CCType {
	case CCTypeMVCC, CCTypeTimestampBased, CCTypeStrictTimestampBased, CCTypeStrongStrict2PL:
	default:
		return fmt.Errorf("unknown concurrency control type %q", c.CCType)
	}

	if c.TxnTimeout.Duration < 0 {
		return fmt.Errorf("txn timeout must not be negative, got %v", c.TxnTimeout.Duration)
	}

	if c.Branch != "" || c.Hostname != "" || c.Port != "" {
		log.Warn("branch, hostname and port are reserved for multi-node deployments and are ignored",
			zap.String("branch", c.Branch), zap.String("hostname", c.Hostname), zap.String("port", c.Port))
	}

	return nil
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		CCType:     CCTypeStrongStrict2PL,
		LogLevel:   getLogLevel(),
		TxnTimeout: Duration{DefaultTxnTimeout},
	}
}

// NewTestConfig returns a config for the given engine with the idle abort disabled.
func NewTestConfig(ccType string) *Config {
	return &Config{
		CCType:   ccType,
		LogLevel: getLogLevel(),
	}
}

// LoadFile overlays the toml file at path onto c.
func (c *Config) LoadFile(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
