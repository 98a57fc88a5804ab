// Package file persists the verification registry as a JSON array on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"civverify/internal/verification/models"
)

// ErrMalformed is returned by Load when the file is not a JSON array of records.
var ErrMalformed = errors.New("malformed registry file")

// Store reads and rewrites the whole registry file. It keeps no state besides the
// path; callers serialize Save calls.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

type record struct {
	SS13       *string `json:"ss13"`
	Discord    *string `json:"discord"`
	CreateTime *string `json:"create_time"`
}

// Load reads the full registry. A missing file is reported as os.ErrNotExist and
// bad content as ErrMalformed; both are fatal at startup.
func (s *Store) Load(_ context.Context) ([]models.VerifiedUser, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", s.path, err)
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode registry %s: %w: %v", s.path, ErrMalformed, err)
	}
	if records == nil {
		return nil, fmt.Errorf("decode registry %s: %w: expected array", s.path, ErrMalformed)
	}

	users := make([]models.VerifiedUser, 0, len(records))
	for i, rec := range records {
		if rec.CreateTime == nil {
			return nil, fmt.Errorf("decode registry %s: %w: record %d has no create_time", s.path, ErrMalformed, i)
		}
		users = append(users, models.VerifiedUser{
			SS13:       rec.SS13,
			Discord:    rec.Discord,
			CreateTime: *rec.CreateTime,
		})
	}
	return users, nil
}

// Save overwrites the file with users. The content goes to a sibling temp file
// first and is renamed into place so a crash never leaves a truncated registry.
func (s *Store) Save(_ context.Context, users []models.VerifiedUser) error {
	if users == nil {
		users = []models.VerifiedUser{}
	}
	data, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once the rename succeeded
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// Init writes an empty registry when none exists yet. It never touches an
// existing file.
func (s *Store) Init(ctx context.Context) (bool, error) {
	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat registry %s: %w", s.path, err)
	}
	if err := s.Save(ctx, nil); err != nil {
		return false, err
	}
	return true, nil
}
