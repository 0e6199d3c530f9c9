package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rhuss/credgate/pkg/auth/apikey"
)

func writeConfig(t *testing.T, path string, clientID string) {
	t.Helper()
	content := "auth:\n  api_keys:\n    - client_id: " + clientID + "\n      key: " + testKey + "\n"
	// Write and rename, the way editors and ConfigMap updates replace files.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_ReloadsRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "svc-old")

	reg := apikey.NewRegistry()
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := reg.Register(cfg.Auth.Entries()...); err != nil {
		t.Fatalf("Register: %v", err)
	}

	w := NewWatcher(path, func(c *Config) error {
		return reg.Replace(c.Auth.Entries())
	}, WatcherOptions{Debounce: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-w.started:
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not start")
	}

	writeConfig(t, path, "svc-new")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		entries := reg.Lookup("X-Api-Key")
		if len(entries) == 1 && entries[0].ClientID == "svc-new" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("registry = %+v, want svc-new only", reg.Lookup("X-Api-Key"))
}

func TestWatcher_InvalidFileKeepsCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	called := false
	w := NewWatcher(path, func(*Config) error {
		called = true
		return nil
	}, WatcherOptions{})

	w.reload()
	if called {
		t.Error("callback invoked for a config that fails validation")
	}
}

func TestWatcher_Relevant(t *testing.T) {
	w := NewWatcher("/etc/credgate/config.yaml", func(*Config) error { return nil }, WatcherOptions{})

	tests := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: "/etc/credgate/config.yaml", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/etc/credgate/config.yaml", Op: fsnotify.Rename}, true},
		{fsnotify.Event{Name: "/etc/credgate/other.yaml", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "/etc/credgate/..data", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/etc/credgate/config.yaml", Op: fsnotify.Chmod}, false},
	}
	for _, tt := range tests {
		if got := w.relevant(tt.event); got != tt.want {
			t.Errorf("relevant(%s) = %v, want %v", tt.event, got, tt.want)
		}
	}
}

func TestNewWatcher_NilCallbackPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewWatcher("config.yaml", nil, WatcherOptions{})
}
