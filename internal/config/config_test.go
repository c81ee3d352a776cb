package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoadGlobal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := &Global{DefaultSession: "work"}
	if err := SaveGlobal(path, cfg); err != nil {
		t.Fatalf("SaveGlobal() error = %v", err)
	}

	loaded, err := LoadGlobal(path)
	if err != nil {
		t.Fatalf("LoadGlobal() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
}

func TestSaveAndLoadSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")

	cfg := &Session{
		GatewayURL:          "https://gateway.test",
		PushURL:             "wss://push.test/ws",
		Token:               "secret",
		UserID:              "u1",
		MetricsAddr:         "127.0.0.1:9091",
		SnapshotRefreshSecs: 30,
	}
	if err := SaveSession(path, cfg); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	loaded, err := LoadSession(path)
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if loaded.GatewayURL != cfg.GatewayURL || loaded.Token != cfg.Token {
		t.Errorf("loaded = %+v, want %+v", loaded, cfg)
	}
	if loaded.SnapshotRefreshSecs != 30 {
		t.Errorf("SnapshotRefreshSecs = %d, want 30", loaded.SnapshotRefreshSecs)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := LoadSession("/nonexistent/session.toml"); err == nil {
		t.Error("LoadSession() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")

	if err := SaveSession(path, &Session{Token: "secret"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
