package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Global represents ~/.pluma/config.toml.
type Global struct {
	DefaultSession string `toml:"default_session"`
}

// Session represents <session dir>/session.toml, the connection settings
// for one messaging session.
type Session struct {
	GatewayURL string `toml:"gateway_url"`
	PushURL    string `toml:"push_url"`
	Token      string `toml:"token"`
	UserID     string `toml:"user_id"`

	// MetricsAddr is the local listen address for /metrics; empty
	// disables the endpoint.
	MetricsAddr string `toml:"metrics_addr"`

	// SnapshotRefreshSecs is the polling interval used while the push
	// channel is in persistent disconnect; 0 disables the fallback.
	SnapshotRefreshSecs int `toml:"snapshot_refresh_secs"`
}

// LoadGlobal reads the global config. Returns an error if the file is
// missing.
func LoadGlobal(path string) (*Global, error) {
	var cfg Global
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadSession reads a session config.
func LoadSession(path string) (*Session, error) {
	var cfg Session
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveGlobal writes the global config, creating parent dirs as needed.
func SaveGlobal(path string, cfg *Global) error {
	return save(path, cfg)
}

// SaveSession writes a session config, creating parent dirs as needed.
func SaveSession(path string, cfg *Session) error {
	return save(path, cfg)
}

func save(path string, cfg any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
