package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// State records what the current index was built with.
type State struct {
	ConfigHash     string    `json:"config_hash"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimensions     int       `json:"dimensions"`
	LastRunID      string    `json:"last_run_id,omitempty"`
	LastIngest     time.Time `json:"last_ingest,omitempty"`
}

// StatePath returns the path to state.json.
func StatePath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "state.json")
}

// LoadState reads the index state. A missing file yields nil and no error.
func LoadState(projectRoot string) (*State, error) {
	data, err := os.ReadFile(StatePath(projectRoot))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse %s: %w", StatePath(projectRoot), err)
	}
	return &st, nil
}

// SaveState writes the index state atomically.
func SaveState(projectRoot string, st *State) error {
	if err := os.MkdirAll(ConfigDir(projectRoot), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	path := StatePath(projectRoot)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RemoveState deletes the state file, if any.
func RemoveState(projectRoot string) error {
	err := os.Remove(StatePath(projectRoot))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
