// Package config holds the gateway settings: storage root, app preferences,
// and listen ports. Settings live in a YAML file and are editable at runtime
// through the control plane, so access goes through a mutex-guarded Store.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings is the on-disk and over-the-wire settings shape.
type Settings struct {
	Storage StorageSettings `yaml:"storage" json:"storage"`
	App     AppSettings     `yaml:"app" json:"app"`
	Network NetworkSettings `yaml:"network" json:"network"`
}

type StorageSettings struct {
	Root string `yaml:"root" json:"root"`
}

type AppSettings struct {
	LaunchAtStartup bool   `yaml:"launch_at_startup" json:"launch_at_startup"`
	Theme           string `yaml:"theme" json:"theme"`
}

type NetworkSettings struct {
	Port         int `yaml:"port" json:"port"`
	TransferPort int `yaml:"transfer_port" json:"transfer_port"`
}

// Default returns the settings used when no file exists yet.
func Default() Settings {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Settings{
		Storage: StorageSettings{Root: filepath.Join(home, "LanVault")},
		App:     AppSettings{LaunchAtStartup: true, Theme: "system"},
		Network: NetworkSettings{Port: 8001, TransferPort: 8002},
	}
}

// Validate checks a settings value before it is applied.
func (s Settings) Validate() error {
	if s.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if s.Network.Port <= 0 || s.Network.Port > 65535 {
		return fmt.Errorf("network.port %d out of range", s.Network.Port)
	}
	if s.Network.TransferPort <= 0 || s.Network.TransferPort > 65535 {
		return fmt.Errorf("network.transfer_port %d out of range", s.Network.TransferPort)
	}
	if s.Network.TransferPort == s.Network.Port {
		return fmt.Errorf("network.transfer_port must differ from network.port")
	}
	return nil
}

// Store is the live settings handle shared across the process.
type Store struct {
	path string

	mu      sync.RWMutex
	current Settings
}

// Open loads settings from path, falling back to defaults when the file does
// not exist yet. The storage root directory is created eagerly.
func Open(path string) (*Store, error) {
	s := &Store{path: path, current: Default()}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var loaded Settings
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("parse settings: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return nil, fmt.Errorf("invalid settings: %w", err)
		}
		s.current = loaded
	case os.IsNotExist(err):
		// First run: keep defaults.
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := os.MkdirAll(s.current.Storage.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return s, nil
}

// Current returns a snapshot of the settings.
func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// StorageRoot returns the active storage root.
func (s *Store) StorageRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Storage.Root
}

// Update validates next, persists it, ensures the (possibly new) storage
// root exists, and makes it the active settings value.
func (s *Store) Update(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(next.Storage.Root, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(next); err != nil {
		return err
	}
	s.current = next
	return nil
}

// save writes next to disk via a rename for a whole-file swap.
func (s *Store) save(next Settings) error {
	data, err := yaml.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
