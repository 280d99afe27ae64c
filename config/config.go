// Package config handles mocha.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/mocha/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "mocha.toml"

// Config represents a mocha.toml file.
type Config struct {
	VM        VM        `toml:"vm"`
	Classpath Classpath `toml:"classpath"`
	Log       Log       `toml:"log"`
	Inspect   Inspect   `toml:"inspect"`

	// Dir is the directory containing the mocha.toml file (set at load time).
	Dir string `toml:"-"`
}

// VM tunes the virtual machine.
type VM struct {
	MaxBlockSize         int64    `toml:"max-block-size"`
	MaxCallDepth         int      `toml:"max-call-depth"`
	// InitWaitTimeout of "0s" waits until the waiting thread's context
	// ends. Leaving the key out selects DefaultInitWaitTimeout.
	InitWaitTimeout      Duration `toml:"init-wait-timeout"`
	PolymorphicCacheSize int      `toml:"polymorphic-cache-size"`
}

// Classpath configures where classes are loaded from. Directories are
// searched in order, then the store, then the built-in runtime classes.
type Classpath struct {
	Dirs  []string `toml:"dirs"`
	Store string   `toml:"store"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Inspect configures the inspection server. An empty Addr disables it.
type Inspect struct {
	Addr string `toml:"addr"`
}

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults
const (
	DefaultMaxBlockSize         = 1<<31 - 1
	DefaultMaxCallDepth         = 1024
	DefaultInitWaitTimeout      = 30 * time.Second
	DefaultPolymorphicCacheSize = 256
)

// Default returns the configuration used when no mocha.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults(toml.MetaData{})
	return c
}

// applyDefaults fills unset values. md reports which keys the file
// defined; zero is a meaningful init-wait-timeout, so that key is
// defaulted only when absent.
func (c *Config) applyDefaults(md toml.MetaData) {
	if c.VM.MaxBlockSize <= 0 {
		c.VM.MaxBlockSize = DefaultMaxBlockSize
	}
	if c.VM.MaxCallDepth <= 0 {
		c.VM.MaxCallDepth = DefaultMaxCallDepth
	}
	if !md.IsDefined("vm", "init-wait-timeout") {
		c.VM.InitWaitTimeout.Duration = DefaultInitWaitTimeout
	}
	if c.VM.PolymorphicCacheSize <= 0 {
		c.VM.PolymorphicCacheSize = DefaultPolymorphicCacheSize
	}
	if len(c.Classpath.Dirs) == 0 {
		c.Classpath.Dirs = []string{"classes"}
	}
}

// Load parses a mocha.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	c.applyDefaults(md)
	return &c, nil
}

// FindAndLoad walks up from startDir to find a mocha.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// VMOptions returns the VM tuning options described by the configuration.
func (c *Config) VMOptions() vm.Options {
	return vm.Options{
		MaxBlockSize:         c.VM.MaxBlockSize,
		MaxCallDepth:         c.VM.MaxCallDepth,
		InitWaitTimeout:      c.VM.InitWaitTimeout.Duration,
		PolymorphicCacheSize: c.VM.PolymorphicCacheSize,
	}
}

// ClassDirPaths returns absolute paths for the configured class directories.
func (c *Config) ClassDirPaths() []string {
	var paths []string
	for _, d := range c.Classpath.Dirs {
		paths = append(paths, c.resolve(d))
	}
	return paths
}

// StorePath returns the absolute path of the class store, or "" if none is
// configured.
func (c *Config) StorePath() string {
	if c.Classpath.Store == "" {
		return ""
	}
	return c.resolve(c.Classpath.Store)
}

// LogFile returns the absolute path of the log file, or nil for stderr.
func (c *Config) LogFile() *string {
	if c.Log.File == "" {
		return nil
	}
	path := c.resolve(c.Log.File)
	return &path
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
