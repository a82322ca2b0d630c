package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists and loads ExecutionRecords from an on-disk directory.
//
// Directory layout:
//
//	<root>/<execution_id>/execution.json
//
// Root is expected to be under the app data dir.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) ExecutionDir(executionID string) string {
	return filepath.Join(s.root, executionID)
}

func (s *Store) ExecutionPath(executionID string) string {
	return filepath.Join(s.ExecutionDir(executionID), "execution.json")
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("execution registry root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Begin creates a new queued record with a fresh execution id.
func (s *Store) Begin(displayName string) (*ExecutionRecord, error) {
	record := &ExecutionRecord{
		ExecutionID: uuid.NewString(),
		DisplayName: displayName,
		State:       StateQueued,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.Write(record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Store) Write(record *ExecutionRecord) error {
	if record == nil {
		return fmt.Errorf("execution record is nil")
	}
	executionID := strings.TrimSpace(record.ExecutionID)
	if executionID == "" {
		return fmt.Errorf("execution_id is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	dir := s.ExecutionDir(executionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create execution dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal execution record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, "execution.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp execution file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp execution file: %w", err)
	}

	if err := os.Rename(tmpName, s.ExecutionPath(executionID)); err != nil {
		return fmt.Errorf("rename execution file: %w", err)
	}
	return nil
}

func (s *Store) Get(executionID string) (*ExecutionRecord, error) {
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return nil, fmt.Errorf("execution_id is required")
	}
	b, err := os.ReadFile(s.ExecutionPath(executionID))
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("execution.json is empty")
	}

	var record ExecutionRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse execution.json: %w", err)
	}
	return &record, nil
}

func (s *Store) List() ([]ExecutionRecord, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read executions root: %w", err)
	}

	out := make([]ExecutionRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return sortTime(out[i]).After(sortTime(out[j]))
	})

	return out, nil
}

func sortTime(r ExecutionRecord) time.Time {
	if r.StartedAt != nil {
		return r.StartedAt.UTC()
	}
	return r.CreatedAt.UTC()
}

// Remove deletes a recorded execution.
func (s *Store) Remove(executionID string) error {
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return fmt.Errorf("execution_id is required")
	}
	return os.RemoveAll(s.ExecutionDir(executionID))
}

// GC removes terminal records older than maxAge. Non-terminal records are
// kept regardless of age. Returns the ids removed.
func (s *Store) GC(maxAge time.Duration) ([]string, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	var removed []string
	for _, r := range records {
		if !r.State.Terminal() {
			continue
		}
		if sortTime(r).After(cutoff) {
			continue
		}
		if err := s.Remove(r.ExecutionID); err != nil {
			return removed, fmt.Errorf("remove execution %s: %w", r.ExecutionID, err)
		}
		removed = append(removed, r.ExecutionID)
	}
	return removed, nil
}
