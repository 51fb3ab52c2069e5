package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/olgkv/cyclecount/internal/ports"
)

// TaskDocument is a task record together with its ordered asset list.
type TaskDocument struct {
	ports.TaskRecord
	Assets []ports.AssetRecord `json:"assets"`
}

// Snapshot is the whole file-backed dataset.
type Snapshot struct {
	Tasks []TaskDocument    `json:"tasks"`
	Roles map[string]string `json:"roles,omitempty"`
}

// JSONRepository stores a snapshot in a single JSON document.
type JSONRepository struct {
	path string
}

func NewJSONRepository(path string) *JSONRepository {
	return &JSONRepository{path: path}
}

func (r *JSONRepository) Load() (*Snapshot, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}
		return nil, err
	}
	snap := &Snapshot{}
	if len(data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.path, err)
	}
	return snap, nil
}

// Save replaces the file atomically via a temp file in the same directory.
func (r *JSONRepository) Save(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".cyclecount-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), r.path)
}
