// Package sweeper removes uploads left behind by failed or interrupted jobs.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/transcription-service/pkg/file"
	"github.com/MimeLyc/transcription-service/pkg/icron"
	"github.com/MimeLyc/transcription-service/pkg/log"
)

type Sweeper struct {
	dir      string
	maxAge   time.Duration
	cronExpr string
	cron     *cron.Cron
	group    singleflight.Group
	now      func() time.Time
}

func New(dir string, maxAge time.Duration, cronExpr string, c *cron.Cron) *Sweeper {
	return &Sweeper{
		dir:      dir,
		maxAge:   maxAge,
		cronExpr: cronExpr,
		cron:     c,
		now:      time.Now,
	}
}

// Schedule registers the sweep on the cron. It does not start the cron.
func (s *Sweeper) Schedule(ctx context.Context) error {
	runFunc := func() {
		if _, err := s.Sweep(ctx); err != nil {
			log.Error("Upload sweep of %s failed: %v", s.dir, err)
		}
		s.logNext()
	}
	if _, err := s.cron.AddFunc(s.cronExpr, runFunc); err != nil {
		return fmt.Errorf("schedule upload sweep: %w", err)
	}
	s.logNext()
	return nil
}

// Sweep deletes files older than maxAge. Concurrent calls share one pass.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	v, err, _ := s.group.Do("sweep", func() (any, error) {
		return s.sweep(ctx)
	})
	n, _ := v.(int)
	return n, err
}

func (s *Sweeper) sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.maxAge)
	old, err := file.FindOlderThan(s.dir, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", s.dir, err)
	}

	removed := 0
	for _, path := range old {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Warn("Failed to remove stale upload %s: %v", path, err)
			}
			continue
		}
		log.Debug("Removed stale upload %s", path)
		removed++
	}
	if removed > 0 {
		log.Info("Removed %d stale upload(s) from %s", removed, s.dir)
	}
	return removed, nil
}

func (s *Sweeper) logNext() {
	info, err := icron.GetTriggerInfo(s.cronExpr, s.now())
	if err != nil {
		return
	}
	log.Debug("Next upload sweep at %s (in %s)", info.Next.Format(time.RFC3339), info.TimeUntilNext.Round(time.Second))
}
