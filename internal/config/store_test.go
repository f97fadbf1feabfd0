package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestLoadMissingFileReturnsDefaults verifies first launch works without a
// settings file.
func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	store := NewYAMLStore(filepath.Join(t.TempDir(), "settings.yaml"))

	settings, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if settings.Port != 8756 || settings.Host != "127.0.0.1" {
		t.Fatalf("unexpected default listen address: %s", settings.Addr())
	}
	if settings.ChunkDuration != 900 || settings.ChunkOverlap != 15 || settings.MaxRepeats != 4 {
		t.Fatalf("unexpected default chunking settings: %+v", settings)
	}
}

// TestSaveAndLoadRoundTrip verifies settings persist through the YAML file.
func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	store := NewYAMLStore(path)

	want := DefaultSettings()
	want.Port = 9100
	want.WhisperBin = "/opt/whisper/whisper-cli"
	want.LogLevel = "debug"

	if err := store.Save(want); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", want, got)
	}
}

// TestLoadRejectsInvalidYAML verifies malformed files fail loudly instead of
// silently falling back to defaults.
func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("port: [not a number"), 0o644); err != nil {
		t.Fatalf("write settings file: %v", err)
	}

	if _, err := NewYAMLStore(path).Load(); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

// TestLoadFillsMissingFields verifies a sparse file is completed with
// defaults.
func TestLoadFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("port: 9200\n"), 0o644); err != nil {
		t.Fatalf("write settings file: %v", err)
	}

	settings, err := NewYAMLStore(path).Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if settings.Port != 9200 {
		t.Fatalf("expected configured port 9200, got %d", settings.Port)
	}
	if settings.WhisperBin != "whisper-cli" || settings.ChunkDuration != 900 {
		t.Fatalf("expected defaults for omitted fields, got %+v", settings)
	}
}

// TestValidateRejectsBadValues covers the out-of-range checks.
func TestValidateRejectsBadValues(t *testing.T) {
	s := DefaultSettings()
	s.Port = 70000
	if err := s.Validate(); err == nil || !strings.Contains(err.Error(), "port") {
		t.Fatalf("expected port range error, got %v", err)
	}

	s = DefaultSettings()
	s.ChunkOverlap = -1
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for negative overlap")
	}

	s = DefaultSettings()
	s.ChunkDuration = 10
	s.ChunkOverlap = 10
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for overlap >= chunk duration")
	}
}
