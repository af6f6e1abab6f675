package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	workListPrefix = "invoices_to_submit_"
	workListSuffix = ".json"
	dateLayout     = "2006-01-02"
)

// WorkListStore persists the daily list of invoices still to be filed, one
// JSON file per local date. The runner is its only writer.
type WorkListStore struct {
	dir string
}

func NewWorkListStore(dir string) (*WorkListStore, error) {
	if dir == "" {
		return nil, errors.New("work-list directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create work-list directory: %w", err)
	}
	return &WorkListStore{dir: dir}, nil
}

// FileName is the work-list file name for day.
func FileName(day time.Time) string {
	return workListPrefix + day.Format(dateLayout) + workListSuffix
}

// Path is the work-list file for day.
func (s *WorkListStore) Path(day time.Time) string {
	return filepath.Join(s.dir, FileName(day))
}

// Load reads the list for day. ok is false when no file exists for day.
func (s *WorkListStore) Load(day time.Time) (ids []string, ok bool, err error) {
	data, err := os.ReadFile(s.Path(day))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read work-list: %w", err)
	}
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false, fmt.Errorf("decode work-list %s: %w", s.Path(day), err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, true, nil
}

// Save replaces the list for day. The file is written next to its target
// and renamed into place.
func (s *WorkListStore) Save(day time.Time, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("encode work-list: %w", err)
	}
	path := s.Path(day)
	tmp, err := os.CreateTemp(s.dir, ".worklist-*")
	if err != nil {
		return fmt.Errorf("write work-list: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write work-list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write work-list: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace work-list: %w", err)
	}
	return nil
}

// PurgeOlder deletes every dated work-list file other than day's and
// returns the names it removed.
func (s *WorkListStore) PurgeOlder(day time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list work-list directory: %w", err)
	}
	keep := FileName(day)
	var removed []string
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == keep || !isWorkListName(name) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, name)
	}
	sort.Strings(removed)
	return removed, errors.Join(errs...)
}

func isWorkListName(name string) bool {
	if !strings.HasPrefix(name, workListPrefix) || !strings.HasSuffix(name, workListSuffix) {
		return false
	}
	date := strings.TrimSuffix(strings.TrimPrefix(name, workListPrefix), workListSuffix)
	_, err := time.Parse(dateLayout, date)
	return err == nil
}

// remove returns ids without the first occurrence of id.
func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			out := make([]string, 0, len(ids)-1)
			out = append(out, ids[:i]...)
			return append(out, ids[i+1:]...)
		}
	}
	return ids
}
