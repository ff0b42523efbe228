package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the optional ftpmirror configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Filter   FilterConfig   `toml:"filter"`
}

// DefaultsConfig holds persistent flag defaults. Nil means unset.
type DefaultsConfig struct {
	Protocol   *string `toml:"protocol"`
	Passive    *bool   `toml:"passive"`
	Ledger     *string `toml:"ledger"`
	Verifiers  *int    `toml:"verifiers"`
	BWLimit    *string `toml:"bwlimit"`
	Timeout    *string `toml:"timeout"`
	Revalidate *bool   `toml:"revalidate"`
}

// ScannerConfig names an external malware scanner. Args may contain "{}"
// where the file path goes.
type ScannerConfig struct {
	Command *string  `toml:"command"`
	Args    []string `toml:"args"`
}

// FilterConfig holds exclude globs applied before any policy rule.
type FilterConfig struct {
	Exclude []string `toml:"exclude"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "ftpmirror", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path. A missing file yields a zero
// Config; unknown keys are an error so typos do not pass silently.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, &UnknownKeysError{Path: path, Keys: keyStrings(undecoded)}
	}
	return cfg, nil
}

// UnknownKeysError lists config keys that match no setting.
type UnknownKeysError struct {
	Path string
	Keys []string
}

func (e *UnknownKeysError) Error() string {
	msg := e.Path + ": unknown keys:"
	for _, k := range e.Keys {
		msg += " " + k
	}
	return msg
}

func keyStrings(keys []toml.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
