package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wonny/daytrader/internal/contracts"
	"github.com/wonny/daytrader/internal/portfolio"
)

const filePrefix = "positionsBySymbol_"

// FileStore writes one JSON document per trading date under a directory
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir (created on first save)
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the root directory
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the snapshot path for a date
func (s *FileStore) Path(date time.Time) string {
	return filepath.Join(s.dir, FileName(date))
}

// Load implements Store
func (s *FileStore) Load(_ context.Context, date time.Time) (*portfolio.Positions, error) {
	data, err := os.ReadFile(s.Path(date))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return Decode(data)
}

// Save implements Store
// 임시 파일에 쓴 뒤 rename (중간에 죽어도 이전 스냅샷은 온전)
func (s *FileStore) Save(_ context.Context, date time.Time, positions *portfolio.Positions) error {
	data, err := Encode(positions)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(date)); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return nil
}

// Dates lists the dates with a stored snapshot in ascending order
func (s *FileStore) Dates() ([]time.Time, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var out []time.Time
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		d, err := time.Parse(contracts.DateLayout, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ".json"))
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// Clear removes every snapshot file and returns how many were deleted
func (s *FileStore) Clear() (int, error) {
	dates, err := s.Dates()
	if err != nil {
		return 0, err
	}
	for i, d := range dates {
		if err := os.Remove(s.Path(d)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return i, fmt.Errorf("failed to remove snapshot: %w", err)
		}
	}
	return len(dates), nil
}
