package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Record is everything persisted for one session.
type Record struct {
	Info         Info              `json:"info"`
	ProviderID   string            `json:"providerId,omitempty"`
	AllowedTools []string          `json:"allowedTools,omitempty"`
	Messages     []json.RawMessage `json:"messages"`
}

// Store persists session records.
type Store interface {
	LoadAll() ([]Record, error)
	Save(rec Record) error
	Delete(id string) error
}

// FileStore keeps one <id>.json file per session in a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// LoadAll reads every session file. Unparseable files are skipped and
// reported together in the returned error alongside the good records.
func (s *FileStore) LoadAll() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(entries))
	var bad []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			bad = append(bad, entry.Name())
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil || rec.Info.ID == "" {
			bad = append(bad, entry.Name())
			continue
		}
		if rec.Messages == nil {
			rec.Messages = []json.RawMessage{}
		}
		records = append(records, rec)
	}

	if len(bad) > 0 {
		return records, fmt.Errorf("skipped unreadable session files: %s", strings.Join(bad, ", "))
	}
	return records, nil
}

// Save writes rec atomically.
func (s *FileStore) Save(rec Record) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}
	if rec.Messages == nil {
		rec.Messages = []json.RawMessage{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+rec.Info.ID+"-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path(rec.Info.ID)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Delete removes the file for id. A missing file is not an error.
func (s *FileStore) Delete(id string) error {
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
