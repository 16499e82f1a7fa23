// Package kv provides a small profile-scoped key-value store.
//
// It plays the part of browser localStorage: a flat string map persisted as a
// single JSON document inside the profile directory. Writes go to a temp file
// that is renamed over the document, so a crash leaves either the old or the
// new content, never a torn file.
//
// The record store uses kv as its secondary persistence path when SQLite is
// unavailable, so kv deliberately shares nothing with the SQLite code.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Well-known keys.
const (
	KeyDeviceID           = "device_id"
	KeyTabletNumber       = "tablet_number"
	KeyOfflineRatings     = "offline_ratings"
	KeyConnectionOnline   = "connection_online"
	KeyFormLocked         = "form_locked"
	KeySelectedIdentifier = "selected_identifier"
	KeyHeaderImageURL     = "header_image_url"
)

// FileName is the document name inside the profile directory.
const FileName = "profile.json"

// Store is a persisted string map. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// Open loads (or creates) the profile document in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kv: create profile dir: %w", err)
	}

	s := &Store{
		path:   filepath.Join(dir, FileName),
		values: make(map[string]string),
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("kv: decode %s: %w", s.path, err)
	}
	return s, nil
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// GetDefault returns the value for key, or def when absent or empty.
func (s *Store) GetDefault(key, def string) string {
	if v, ok := s.Get(key); ok && v != "" {
		return v
	}
	return def
}

// Set stores value under key and persists the document.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.values[key]
	s.values[key] = value
	if err := s.flushLocked(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

// Delete removes key and persists the document. Missing keys are not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.values[key]
	if !had {
		return nil
	}
	delete(s.values, key)
	if err := s.flushLocked(); err != nil {
		s.values[key] = prev
		return err
	}
	return nil
}

// GetJSON decodes the JSON value stored under key into dst.
// Returns false when the key is absent.
func (s *Store) GetJSON(key string, dst any) (bool, error) {
	raw, ok := s.Get(key)
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return true, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v as JSON and stores it under key.
func (s *Store) SetJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %q: %w", key, err)
	}
	return s.Set(key, string(data))
}

// Update runs fn on the current value of key under the store lock and
// persists whatever it returns. fn sees "" for an absent key.
func (s *Store) Update(key string, fn func(current string) (string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.values[key]
	next, err := fn(prev)
	if err != nil {
		return err
	}
	s.values[key] = next
	if err := s.flushLocked(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *Store) flushLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("kv: encode document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".profile-*.tmp")
	if err != nil {
		return fmt.Errorf("kv: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("kv: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("kv: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("kv: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("kv: replace document: %w", err)
	}
	return nil
}
