// Package config loads the recorder daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/ch10stream/internal/common"
	"example.com/ch10stream/internal/netstream"
)

type Listen struct {
	Address string `yaml:"address"`
	// ReadTimeout bounds each wait for a datagram; 0 waits forever.
	ReadTimeoutSec int `yaml:"readTimeoutSec"`
}

type Output struct {
	Directory    string `yaml:"directory"`
	Prefix       string `yaml:"prefix"`
	RotateSizeMB int    `yaml:"rotateSizeMB"`
	EventLog     string `yaml:"eventLog"`
	// Manifest writes a digest list of the session files on shutdown.
	Manifest bool `yaml:"manifest"`
	// SigningKey is a PEM RSA key; when set the manifest is signed.
	SigningKey string `yaml:"signingKey"`
}

type Transfer struct {
	// Forward, when set, is a host:port every received packet is relayed to.
	Forward     string `yaml:"forward"`
	MaxDatagram int    `yaml:"maxDatagram"`
}

type Index struct {
	Store   string `yaml:"store"`
	Enabled bool   `yaml:"enabled"`
}

// Status configures the HTTP status endpoint; an empty address disables it.
type Status struct {
	Address string `yaml:"address"`
}

type Log struct {
	Directory  string `yaml:"directory"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

type Config struct {
	Listen   Listen   `yaml:"listen"`
	Output   Output   `yaml:"output"`
	Transfer Transfer `yaml:"transfer"`
	Index    Index    `yaml:"index"`
	Status   Status   `yaml:"status"`
	Log      Log      `yaml:"log"`
}

const (
	DefaultAddress      = ":4400"
	DefaultPrefix       = "recording"
	DefaultRotateSizeMB = 1024
)

// Load reads the YAML file at path, fills defaults and resolves relative
// paths against the directory of the file.
func Load(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, cfg.Validate()
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.resolve(".")
	return cfg
}

func (cfg *Config) resolve(baseDir string) {
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}
	if cfg.Listen.Address == "" {
		cfg.Listen.Address = DefaultAddress
	}
	cfg.Output.Directory = resolvePath(cfg.Output.Directory)
	if cfg.Output.Directory == "" {
		cfg.Output.Directory = resolvePath("data")
	}
	if cfg.Output.Prefix == "" {
		cfg.Output.Prefix = DefaultPrefix
	}
	if cfg.Output.RotateSizeMB <= 0 {
		cfg.Output.RotateSizeMB = DefaultRotateSizeMB
	}
	cfg.Output.EventLog = resolvePath(cfg.Output.EventLog)
	if cfg.Output.EventLog == "" {
		cfg.Output.EventLog = filepath.Join(cfg.Output.Directory, "events.jsonl")
	}
	cfg.Output.SigningKey = resolvePath(cfg.Output.SigningKey)
	if cfg.Transfer.MaxDatagram == 0 {
		cfg.Transfer.MaxDatagram = netstream.DefaultMaxDatagram
	}
	cfg.Index.Store = resolvePath(cfg.Index.Store)
	if cfg.Index.Store == "" {
		cfg.Index.Store = filepath.Join(cfg.Output.Directory, "index.db")
	}
	cfg.Log.Directory = resolvePath(cfg.Log.Directory)
	if cfg.Log.Directory == "" {
		cfg.Log.Directory = filepath.Join(cfg.Output.Directory, "logs")
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 25
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 7
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
}

// Validate checks values that have no usable default.
func (cfg Config) Validate() error {
	var errs []error
	if _, err := common.ParseLogLevel(cfg.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if cfg.Transfer.MaxDatagram < 64 || cfg.Transfer.MaxDatagram > 65507 {
		errs = append(errs, fmt.Errorf("transfer.maxDatagram %d out of range 64..65507", cfg.Transfer.MaxDatagram))
	}
	if cfg.Listen.ReadTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("listen.readTimeoutSec must not be negative"))
	}
	if strings.ContainsAny(cfg.Output.Prefix, `/\`) {
		errs = append(errs, fmt.Errorf("output.prefix %q must not contain path separators", cfg.Output.Prefix))
	}
	if cfg.Output.SigningKey != "" && !cfg.Output.Manifest {
		errs = append(errs, fmt.Errorf("output.signingKey needs output.manifest"))
	}
	return errors.Join(errs...)
}

// RotateBytes is the output rotation size in bytes.
func (cfg Config) RotateBytes() int64 {
	return int64(cfg.Output.RotateSizeMB) << 20
}
