package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aria/internal/logging"
)

// FileStore persists session records as one JSON file per session.
type FileStore struct {
	baseDir string
	logger  logging.Logger
}

// NewFileStore creates the base directory if needed. A leading ~/ expands to
// the user's home directory.
func NewFileStore(baseDir string) (*FileStore, error) {
	if strings.HasPrefix(baseDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		baseDir = filepath.Join(home, baseDir[2:])
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &FileStore{
		baseDir: baseDir,
		logger:  logging.NewComponentLogger("SessionFileStore"),
	}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s.json", id))
}

func (s *FileStore) Save(ctx context.Context, record *Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(record.ID), data, 0644)
}

func (s *FileStore) Load(ctx context.Context, id string) (*Record, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		preview := string(data)
		if len(preview) > 120 {
			preview = preview[:120]
		}
		s.logger.Warn("Corrupt session file %s: %v (starts with %q)", s.path(id), err, preview)
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &record, nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

var _ Store = (*FileStore)(nil)
