// Package artifacts persists session artifacts on the filesystem and exports
// finished sessions as bundles.
package artifacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

// Store roots all session directories under one output directory.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: output directory is required", contracts.ErrConfig)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output directory: %v", contracts.ErrIO, err)
	}
	return &Store{root: dir}, nil
}

// Root returns the store's output directory.
func (s *Store) Root() string { return s.root }

// Session returns the artifact directory handle for one session, creating
// the directory if needed.
func (s *Store) Session(sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", contracts.ErrConfig)
	}
	dir := filepath.Join(s.root, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create session directory: %v", contracts.ErrIO, err)
	}
	return &Session{ID: sessionID, Dir: dir}, nil
}

// Session is the artifact directory of one customization session.
type Session struct {
	ID  string
	Dir string
}

// Path returns the absolute path of a named artifact.
func (s *Session) Path(name string) string { return filepath.Join(s.Dir, name) }

// Exists reports whether a named artifact has been written.
func (s *Session) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// WriteJSON writes an artifact as indented, deterministic JSON.
func (s *Session) WriteJSON(name string, v any) error {
	data, err := contracts.EncodeJSON(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", contracts.ErrIO, name, err)
	}
	if err := os.WriteFile(s.Path(name), data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", contracts.ErrIO, name, err)
	}
	return nil
}

// WriteText writes a text artifact, typically a markdown companion.
func (s *Session) WriteText(name, text string) error {
	if err := os.WriteFile(s.Path(name), []byte(text), 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", contracts.ErrIO, name, err)
	}
	return nil
}

// ReadJSON loads a previously written artifact.
func (s *Session) ReadJSON(name string, out any) error {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: artifact %s not found", contracts.ErrIO, name)
		}
		return fmt.Errorf("%w: read %s: %v", contracts.ErrIO, name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", contracts.ErrIO, name, err)
	}
	return nil
}

// AppendJSONL appends one record to a session-local JSONL stream.
func (s *Session) AppendJSONL(name string, v any) error {
	line, err := contracts.EncodeJSONLine(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", contracts.ErrIO, name, err)
	}
	f, err := os.OpenFile(s.Path(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", contracts.ErrIO, name, err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("%w: append %s: %v", contracts.ErrIO, name, err)
	}
	return nil
}

// ReadJSONL loads every record of a session-local JSONL stream.
func ReadJSONL[T any](s *Session, name string) ([]T, error) {
	return ReadJSONLFile[T](s.Path(name))
}

// ReadJSONLFile loads every record of a JSONL file. A missing file yields an
// empty slice.
func ReadJSONLFile[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", contracts.ErrIO, path, err)
	}
	var out []T
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec T
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", contracts.ErrIO, path, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
