// Package credentials keeps the client's stored login state and turns it into
// request headers for the copilot relay.
package credentials

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	CookieAccessToken = "access_token"
	CookieToken       = "token"

	// ProjectStorageKey is the local storage entry holding the selected project.
	ProjectStorageKey = "currentProjectId"
)

// Source is read-only access to cookies and local storage values, exactly as
// stored (cookie values are still URL-encoded).
type Source interface {
	Cookie(name string) (string, bool)
	LocalItem(key string) (string, bool)
}

// Store is a file-backed cookie jar plus local storage map.
type Store struct {
	Cookies      map[string]string `yaml:"cookies,omitempty"`
	LocalStorage map[string]string `yaml:"local_storage,omitempty"`

	path string
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		Cookies:      make(map[string]string),
		LocalStorage: make(map[string]string),
	}
}

// Load reads the store at path. A missing file yields an empty store bound to
// path so that Save creates it.
func Load(path string) (*Store, error) {
	s := NewStore()
	s.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse credentials %s: %w", path, err)
	}
	if s.Cookies == nil {
		s.Cookies = make(map[string]string)
	}
	if s.LocalStorage == nil {
		s.LocalStorage = make(map[string]string)
	}
	return s, nil
}

// Save writes the store back to the path it was loaded from.
func (s *Store) Save() error {
	if s.path == "" {
		return errors.New("credentials store has no backing file")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

func (s *Store) Cookie(name string) (string, bool) {
	v, ok := s.Cookies[name]
	return v, ok && v != ""
}

func (s *Store) LocalItem(key string) (string, bool) {
	v, ok := s.LocalStorage[key]
	return v, ok && v != ""
}

// SetCookie stores value URL-encoded, the way a browser cookie would hold it.
// An empty value removes the cookie.
func (s *Store) SetCookie(name, value string) {
	if value == "" {
		delete(s.Cookies, name)
		return
	}
	s.Cookies[name] = url.PathEscape(value)
}

// SetLocalItem stores a local storage value. An empty value removes it.
func (s *Store) SetLocalItem(key, value string) {
	if value == "" {
		delete(s.LocalStorage, key)
		return
	}
	s.LocalStorage[key] = value
}

// Clear drops every cookie and local storage entry.
func (s *Store) Clear() {
	s.Cookies = make(map[string]string)
	s.LocalStorage = make(map[string]string)
}
