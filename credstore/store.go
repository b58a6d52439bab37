// Package credstore persists user-defined providers with their auth tokens
// encrypted at rest.
//
// The whole provider list lives in one JSON file. Every save or delete
// rewrites that file atomically while holding both an in-process mutex and
// an advisory lock on a sibling ".lock" file, so writers in other processes
// (the CLI and a running server) never lose each other's updates.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/zhubert/agentdesk/apperr"
	"github.com/zhubert/agentdesk/logger"
	"github.com/zhubert/agentdesk/paths"
	"github.com/zhubert/agentdesk/provider"
)

// Store is the provider credential file.
type Store struct {
	path   string
	cipher Cipher
	log    *slog.Logger

	mu           sync.Mutex
	lastWriteMod time.Time // mod time of our own last write, used by Watch
}

// New returns a Store for the file at path.
func New(path string, cipher Cipher, log *slog.Logger) *Store {
	if log == nil {
		log = logger.WithComponent("credstore")
	}
	return &Store{path: path, cipher: cipher, log: log}
}

// Open returns the Store at the default providers path, keyed from the OS keychain.
func Open() (*Store, error) {
	path, err := paths.ProvidersFilePath()
	if err != nil {
		return nil, err
	}
	return New(path, NewKeyringCipher(), nil), nil
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// errCorrupt marks a providers file that exists but does not parse.
var errCorrupt = errors.New("providers file is corrupt")

// readLocked returns the entries exactly as stored. Caller must hold mu.
func (s *Store) readLocked() ([]provider.Config, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return []provider.Config{}, nil
	}
	if err != nil {
		return []provider.Config{}, apperr.Wrap(err, apperr.CodePersistence, "failed to read providers file")
	}

	var list []provider.Config
	if err := json.Unmarshal(data, &list); err != nil {
		return []provider.Config{}, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if list == nil {
		list = []provider.Config{}
	}
	return list, nil
}

// writeLocked replaces the file with list. Caller must hold mu.
func (s *Store) writeLocked(list []provider.Config) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "failed to create providers directory")
	}

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "failed to encode providers")
	}

	tmp, err := os.CreateTemp(dir, ".providers-*.json")
	if err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "failed to create temp providers file")
	}
	tmpPath := tmp.Name()
	cleanup := func() { os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return apperr.Wrap(err, apperr.CodePersistence, "failed to write providers file")
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		cleanup()
		return apperr.Wrap(err, apperr.CodePersistence, "failed to restrict providers file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return apperr.Wrap(err, apperr.CodePersistence, "failed to sync providers file")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return apperr.Wrap(err, apperr.CodePersistence, "failed to close providers file")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return apperr.Wrap(err, apperr.CodePersistence, "failed to replace providers file")
	}

	if info, err := os.Stat(s.path); err == nil {
		s.lastWriteMod = info.ModTime()
	}
	return nil
}

// lockFile takes the cross-process write lock. Caller must hold mu and
// call the returned unlock when the read-modify-write is done.
func (s *Store) lockFile() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to create providers directory")
	}
	fl := flock.New(s.path + ".lock")
	if err := fl.Lock(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to lock providers file")
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.log.Warn("failed to unlock providers file", "error", err)
		}
	}, nil
}

// readForUpdateLocked is readLocked for callers about to rewrite the file.
// A corrupt file is moved aside instead of being silently overwritten.
func (s *Store) readForUpdateLocked() ([]provider.Config, error) {
	list, err := s.readLocked()
	if errors.Is(err, errCorrupt) {
		backup := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			return nil, apperr.Wrap(renameErr, apperr.CodePersistence, "providers file is corrupt and could not be moved aside")
		}
		s.log.Warn("moved corrupt providers file aside", "backup", backup, "error", err)
		return []provider.Config{}, nil
	}
	return list, err
}

func (s *Store) decrypt(c provider.Config) provider.Config {
	out := c.Clone()
	if !IsEncrypted(c.AuthToken) {
		if c.AuthToken != "" {
			s.log.Debug("provider token stored as plaintext", "providerID", c.ID)
		}
		return out
	}
	plain, err := s.cipher.Decrypt(c.AuthToken)
	if err != nil {
		s.log.Warn("failed to decrypt provider token, returning stored value", "providerID", c.ID, "error", err)
		return out
	}
	out.AuthToken = plain
	return out
}

func (s *Store) encrypt(c provider.Config) provider.Config {
	out := c.Clone()
	if c.AuthToken == "" || IsEncrypted(c.AuthToken) {
		return out
	}
	sealed, err := s.cipher.Encrypt(c.AuthToken)
	if err != nil {
		s.log.Warn("failed to encrypt provider token, storing plaintext", "providerID", c.ID, "error", err)
		return out
	}
	out.AuthToken = sealed
	return out
}

// Load returns every stored provider with its token decrypted. A missing or
// unreadable file yields an empty list.
func (s *Store) Load() []provider.Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.readLocked()
	if err != nil {
		s.log.Warn("treating providers file as empty", "path", s.path, "error", err)
	}

	out := make([]provider.Config, len(list))
	for i, c := range list {
		out[i] = s.decrypt(c)
	}
	return out
}

// Get returns the stored provider with id, token decrypted.
func (s *Store) Get(id string) (provider.Config, bool) {
	for _, c := range s.Load() {
		if c.ID == id {
			return c, true
		}
	}
	return provider.Config{}, false
}

// Save validates p, merges it into the list by id (assigning a new id when
// empty) and rewrites the file. It returns the saved provider with its
// token in plaintext.
func (s *Store) Save(p provider.Config) (provider.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockFile()
	if err != nil {
		return provider.Config{}, err
	}
	defer unlock()

	list, err := s.readForUpdateLocked()
	if err != nil {
		return provider.Config{}, err
	}

	idx := -1
	if p.ID != "" {
		for i, c := range list {
			if c.ID == p.ID {
				idx = i
				break
			}
		}
	}

	var merged provider.Config
	switch {
	case idx >= 0:
		merged = s.decrypt(list[idx]).Overlay(p)
	case p.ID != "" && provider.IsDefault(p.ID):
		d, _ := provider.GetDefault(p.ID)
		merged = d.Config.Overlay(p)
	default:
		merged = p.Clone()
		if merged.ID == "" {
			merged.ID = uuid.New().String()
		}
	}

	if err := provider.Validate(merged); err != nil {
		return provider.Config{}, err
	}

	stored := s.encrypt(merged)
	if idx >= 0 {
		list[idx] = stored
	} else {
		list = append(list, stored)
	}

	if err := s.writeLocked(list); err != nil {
		return provider.Config{}, err
	}

	s.log.Info("provider saved", "providerID", merged.ID, "updated", idx >= 0)
	return merged, nil
}

// Delete removes the provider with id. It reports false, without touching
// the file, when no such provider is stored.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockFile()
	if err != nil {
		return false, err
	}
	defer unlock()

	list, err := s.readLocked()
	if err != nil {
		return false, err
	}

	filtered := make([]provider.Config, 0, len(list))
	for _, c := range list {
		if c.ID != id {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == len(list) {
		return false, nil
	}

	if err := s.writeLocked(filtered); err != nil {
		return false, err
	}
	s.log.Info("provider deleted", "providerID", id)
	return true, nil
}
