package backfill

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const defaultStatePath = "~/.quill/seed-import-state.json"

// ImportState tracks progress for resumable seed-letter imports.
type ImportState struct {
	StartedAt       time.Time `json:"started_at"`
	LastProcessedAt time.Time `json:"last_processed_at"`
	FilesProcessed  []string  `json:"files_processed"`
	FilesRemaining  int       `json:"files_remaining"`
	Fingerprints    []string  `json:"fingerprints"`
	LettersImported int       `json:"letters_imported"`
	Duplicates      int       `json:"duplicates"`
	Errors          []string  `json:"errors"`

	path      string // not serialized
	processed map[string]bool
	seen      map[string]bool
}

// LoadState loads the import state from path, or creates a new one. An
// empty path uses the default location under the home directory.
func LoadState(path string) (*ImportState, error) {
	if path == "" {
		path = defaultStatePath
	}
	p := expandHome(path)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &ImportState{
				StartedAt: time.Now().UTC(),
				path:      p,
			}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s ImportState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = p
	return &s, nil
}

// Path is where Save writes.
func (s *ImportState) Path() string {
	return s.path
}

// Save persists the state to disk.
func (s *ImportState) Save() error {
	s.LastProcessedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0o644)
}

// IsProcessed returns true if the given file has already been imported.
func (s *ImportState) IsProcessed(path string) bool {
	if s.processed == nil {
		s.processed = make(map[string]bool, len(s.FilesProcessed))
		for _, f := range s.FilesProcessed {
			s.processed[f] = true
		}
	}
	return s.processed[path]
}

// MarkProcessed records a file as imported.
func (s *ImportState) MarkProcessed(path string) {
	if s.IsProcessed(path) {
		return
	}
	s.processed[path] = true
	s.FilesProcessed = append(s.FilesProcessed, path)
}

// Seen reports whether a letter with this fingerprint was already imported.
func (s *ImportState) Seen(fp string) bool {
	if s.seen == nil {
		s.seen = make(map[string]bool, len(s.Fingerprints))
		for _, f := range s.Fingerprints {
			s.seen[f] = true
		}
	}
	return s.seen[fp]
}

// Remember records fp as imported.
func (s *ImportState) Remember(fp string) {
	if s.Seen(fp) {
		return
	}
	s.seen[fp] = true
	s.Fingerprints = append(s.Fingerprints, fp)
}

// AddError records a processing error.
func (s *ImportState) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
