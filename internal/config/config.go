package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Settings contains server runtime configuration.
type Settings struct {
	Host           string  `yaml:"host"`
	Port           int     `yaml:"port"`
	ModelCacheDir  string  `yaml:"model_cache_dir"`
	WhisperBin     string  `yaml:"whisper_bin"`
	FFprobeBin     string  `yaml:"ffprobe_bin"`
	NvidiaSMIBin   string  `yaml:"nvidia_smi_bin"`
	ChunkDuration  float64 `yaml:"chunk_duration_sec"`
	ChunkOverlap   float64 `yaml:"chunk_overlap_sec"`
	MaxRepeats     int     `yaml:"max_consecutive_repeats"`
	LogLevel       string  `yaml:"log_level"`
}

// DefaultSettings returns baseline configuration for first launch.
func DefaultSettings() Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return Settings{
		Host:          "127.0.0.1",
		Port:          8756,
		ModelCacheDir: filepath.Join(homeDir, ".whisper-server", "models"),
		WhisperBin:    "whisper-cli",
		FFprobeBin:    "ffprobe",
		NvidiaSMIBin:  "nvidia-smi",
		ChunkDuration: 900,
		ChunkOverlap:  15,
		MaxRepeats:    4,
		LogLevel:      "info",
	}
}

// DefaultPath returns the default settings file location.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".whisper-server", "settings.yaml")
}

// Validate applies defaults for zero values and rejects out-of-range ones.
func (s *Settings) Validate() error {
	defaults := DefaultSettings()

	if s.Host == "" {
		s.Host = defaults.Host
	}
	if s.Port == 0 {
		s.Port = defaults.Port
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("config: port out of range: %d", s.Port)
	}
	if s.ModelCacheDir == "" {
		s.ModelCacheDir = defaults.ModelCacheDir
	}
	if s.WhisperBin == "" {
		s.WhisperBin = defaults.WhisperBin
	}
	if s.FFprobeBin == "" {
		s.FFprobeBin = defaults.FFprobeBin
	}
	if s.NvidiaSMIBin == "" {
		s.NvidiaSMIBin = defaults.NvidiaSMIBin
	}
	if s.ChunkDuration <= 0 {
		s.ChunkDuration = defaults.ChunkDuration
	}
	if s.ChunkOverlap < 0 {
		return fmt.Errorf("config: chunk overlap must be >= 0, got %v", s.ChunkOverlap)
	}
	if s.ChunkOverlap == 0 {
		s.ChunkOverlap = defaults.ChunkOverlap
	}
	if s.ChunkOverlap >= s.ChunkDuration {
		return fmt.Errorf("config: chunk overlap %v must be smaller than chunk duration %v", s.ChunkOverlap, s.ChunkDuration)
	}
	if s.MaxRepeats <= 0 {
		s.MaxRepeats = defaults.MaxRepeats
	}
	if s.LogLevel == "" {
		s.LogLevel = defaults.LogLevel
	}
	return nil
}

// Addr returns the host:port listen address.
func (s Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
