package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Environment overrides for secrets that should not live in the config file.
const (
	EnvPhoneNumber   = "DIALTONE_PHONE_NUMBER"
	EnvTelegramToken = "DIALTONE_TELEGRAM_TOKEN"
)

// Manager loads the config file once at startup. The daemon does not hot
// reload: a new call time or device takes a restart.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	getenv func(string) string
}

func NewManager(path string) *Manager {
	return &Manager{path: path, getenv: os.Getenv}
}

func (m *Manager) Path() string { return m.path }

// Parse reads and strictly decodes the file without committing it.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(m.path, b)
	if err != nil {
		return nil, err
	}
	m.applyEnv(cfg)
	return cfg, nil
}

// Decode parses JSON or YAML (by file extension) with unknown fields rejected.
func Decode(path string, b []byte) (*Config, error) {
	jb, format, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s config: %w", format, err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

func (m *Manager) applyEnv(cfg *Config) {
	if m.getenv == nil {
		return
	}
	if v := strings.TrimSpace(m.getenv(EnvPhoneNumber)); v != "" {
		cfg.Call.PhoneNumber = v
	}
	if v := strings.TrimSpace(m.getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
}

func (m *Manager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Load parses, validates and commits the config.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", m.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}
