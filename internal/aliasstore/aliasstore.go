// Package aliasstore keeps a file-backed registry of human-readable names
// for chain account addresses. Lookups are read-only for the rest of the
// client; the registry never leaves the local machine.
package aliasstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"trackchain/go-client/pkg/models"
)

var (
	ErrAliasNotFound = errors.New("alias not found")
	ErrNameRequired  = errors.New("alias name is required")
	ErrAddrRequired  = errors.New("address is required")
)

const aliasSchemaVersion = 1

// Alias pairs a canonical address with its display name.
type Alias struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Store holds aliases keyed by canonical address. A zero-path store is
// memory only.
type Store struct {
	mu      sync.RWMutex
	path    string
	entries map[string]string
}

// Open loads the registry at path, tolerating a missing file. An empty path
// yields an in-memory store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, entries: make(map[string]string)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Add registers or replaces the alias for address and persists the registry.
func (s *Store) Add(address, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	addr := models.CanonicalOwner(address)
	if addr == "" {
		return ErrAddrRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.entries[addr]
	s.entries[addr] = name
	if err := s.saveLocked(); err != nil {
		if had {
			s.entries[addr] = prev
		} else {
			delete(s.entries, addr)
		}
		return err
	}
	return nil
}

// Remove deletes the alias for address.
func (s *Store) Remove(address string) error {
	addr := models.CanonicalOwner(address)

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.entries[addr]
	if !ok {
		return ErrAliasNotFound
	}
	delete(s.entries, addr)
	if err := s.saveLocked(); err != nil {
		s.entries[addr] = prev
		return err
	}
	return nil
}

// Lookup returns the alias for address, canonicalizing first.
func (s *Store) Lookup(address string) (string, bool) {
	addr := models.CanonicalOwner(address)
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.entries[addr]
	return name, ok
}

// List returns all aliases sorted by name.
func (s *Store) List() []Alias {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Alias, 0, len(s.entries))
	for addr, name := range s.entries {
		out = append(out, Alias{Address: addr, Name: name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func (s *Store) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var payload struct {
		SchemaVersion int               `json:"schema_version"`
		Aliases       map[string]string `json:"aliases"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	for addr, name := range payload.Aliases {
		s.entries[models.CanonicalOwner(addr)] = name
	}
	return nil
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	payload := struct {
		SchemaVersion int               `json:"schema_version"`
		Aliases       map[string]string `json:"aliases"`
	}{SchemaVersion: aliasSchemaVersion, Aliases: s.entries}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
