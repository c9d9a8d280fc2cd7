package audit

import (
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Store persists audit entries beyond the in-memory window
type Store interface {
	Append(entry *Entry) error
	Close() error
}

// FileStore writes entries as JSON lines to a size-rotated file
type FileStore struct {
	writer *lumberjack.Logger
	mu     sync.Mutex
}

// NewFileStore creates a file-backed store rotating at maxSizeMB,
// keeping maxBackups old files
func NewFileStore(path string, maxSizeMB, maxBackups int) *FileStore {
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	return &FileStore{
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		},
	}
}

func (s *FileStore) Append(entry *Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(line); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return s.writer.Close()
}

// NopStore discards entries. Useful in tests and when durable audit
// storage is disabled.
type NopStore struct{}

func (NopStore) Append(*Entry) error { return nil }
func (NopStore) Close() error        { return nil }
