package config

import (
	"regexp"
	"strings"
	"sync"
)

// DefaultBaseURL is used when the environment supplies no service address.
const DefaultBaseURL = "http://localhost:3000"

const defaultScheme = "http://"

var schemePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*://`)

// ServiceConfig holds the detection service address.
type ServiceConfig struct {
	BaseURL string `json:"base_url"`
}

// Normalize trims raw, prepends http:// when it has no scheme and strips
// exactly one trailing slash. Reachability is not checked.
func Normalize(raw string) string {
	url := strings.TrimSpace(raw)
	if url == "" {
		return ""
	}
	if !schemePattern.MatchString(url) {
		url = defaultScheme + url
	}
	return strings.TrimSuffix(url, "/")
}

// Store is the session-scoped service address. It is never written to disk.
type Store struct {
	mu       sync.RWMutex
	fallback string
	cfg      ServiceConfig
}

// NewStore seeds the store with the environment-provided default, or
// DefaultBaseURL when that is empty.
func NewStore(envDefault string) *Store {
	fallback := Normalize(envDefault)
	if fallback == "" {
		fallback = DefaultBaseURL
	}
	return &Store{
		fallback: fallback,
		cfg:      ServiceConfig{BaseURL: fallback},
	}
}

// Set normalizes raw and stores it. A blank value restores the startup default.
func (s *Store) Set(raw string) ServiceConfig {
	url := Normalize(raw)
	s.mu.Lock()
	defer s.mu.Unlock()
	if url == "" {
		url = s.fallback
	}
	s.cfg = ServiceConfig{BaseURL: url}
	return s.cfg
}

// Get returns the current normalized config.
func (s *Store) Get() ServiceConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// BaseURL is shorthand for Get().BaseURL.
func (s *Store) BaseURL() string {
	return s.Get().BaseURL
}
