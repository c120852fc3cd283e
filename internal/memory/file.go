package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileBackend persists the format map as one JSON document on disk, the
// whole map rewritten on every save.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Load(_ context.Context) (map[string]*DocumentFormat, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*DocumentFormat{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	formats := make(map[string]*DocumentFormat)
	if err := json.Unmarshal(data, &formats); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.path, err)
	}
	return formats, nil
}

func (b *FileBackend) Save(_ context.Context, formats map[string]*DocumentFormat) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(formats, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document memory: %w", err)
	}
	return os.WriteFile(b.path, data, 0o644)
}
