package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.UserID = "alice"
	cfg.Remote = RemoteConfig{Kind: RemoteWS, URL: "ws://localhost:8088/v1/sync"}
	cfg.Typing.TTL = D(3 * time.Second)
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", loaded.UserID)
	}
	if loaded.Remote.Kind != RemoteWS || loaded.Remote.URL != cfg.Remote.URL {
		t.Errorf("Remote = %+v, want %+v", loaded.Remote, cfg.Remote)
	}
	if loaded.Typing.TTL.Duration != 3*time.Second {
		t.Errorf("Typing.TTL = %v, want 3s", loaded.Typing.TTL)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "user_id = \"bob\"\n\n[outbox]\nbackoff = [\"100ms\", \"250ms\"]\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Duration{100 * time.Millisecond, 250 * time.Millisecond}
	got := cfg.BackoffStages()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("BackoffStages() = %v, want %v", got, want)
	}
	if cfg.Presence.Interval.Duration != 30*time.Second {
		t.Errorf("Presence.Interval = %v, want default 30s", cfg.Presence.Interval)
	}
	if cfg.Remote.Kind != RemoteMemory {
		t.Errorf("Remote.Kind = %q, want default %q", cfg.Remote.Kind, RemoteMemory)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[typing]\nttl = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid duration")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}

	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.DefaultProfile != "main" {
		t.Errorf("DefaultProfile = %q, want main", cfg.DefaultProfile)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
