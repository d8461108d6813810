package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MimeLyc/transcription-service/internal/jobs"
	"github.com/MimeLyc/transcription-service/pkg/log"
)

// FileStore keeps one pretty-printed JSON document per record under dir.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes to a temp file in the same dir and renames it over the old
// record so readers never observe a partial document.
func (s *FileStore) Save(ctx context.Context, rec *jobs.Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if err := jobs.ValidateID(rec.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	content, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+rec.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close record %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmpPath, s.path(rec.ID)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("commit record %s: %w", rec.ID, err)
	}

	log.Debug("Saved transcription %s status=%s progress=%d", rec.ID, rec.Status, rec.Progress)
	return nil
}

func (s *FileStore) FindByID(ctx context.Context, id string) (*jobs.Record, bool, error) {
	if err := jobs.ValidateID(id); err != nil {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	content, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read record %s: %w", id, err)
	}

	var rec jobs.Record
	if err := json.Unmarshal(content, &rec); err != nil {
		return nil, false, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, true, nil
}

func (s *FileStore) FindAll(ctx context.Context) ([]*jobs.Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*jobs.Record{}, nil
		}
		return nil, err
	}

	ret := make([]*jobs.Record, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, ok, err := s.FindByID(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Warn("Skipping unreadable transcription file %s: %v", name, err)
			continue
		}
		if ok {
			ret = append(ret, rec)
		}
	}
	sortByCreatedDesc(ret)
	return ret, nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := jobs.ValidateID(id); err != nil {
		return nil
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

func sortByCreatedDesc(recs []*jobs.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
