package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/surge/internal/storage"
)

const surgesPrefix = "surges/"

// SweepArchives deletes archives whose download links have expired.
func (s *Scheduler) SweepArchives(ctx context.Context) (int, error) {
	return s.sweep(ctx, s.cfg.ArchiveRetention, isArchiveKey)
}

// SweepPartials deletes half written objects left behind by interrupted
// writers.
func (s *Scheduler) SweepPartials(ctx context.Context) (int, error) {
	return s.sweep(ctx, s.cfg.PartialRetention, isPartialKey)
}

func (s *Scheduler) sweep(ctx context.Context, retention time.Duration, match func(string) bool) (int, error) {
	objects, err := s.storage.List(ctx, surgesPrefix)
	if err != nil {
		return 0, err
	}

	cutoff := s.clock.Now().Add(-retention)
	removed := 0
	var errs error
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !match(obj.Key) || !obj.ModTime.Before(cutoff) {
			continue
		}
		if err := s.storage.Delete(ctx, obj.Key); err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				continue
			}
			errs = errors.Join(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}

func isArchiveKey(key string) bool {
	return strings.Contains(key, "/archives/") && strings.HasSuffix(key, ".zip")
}

func isPartialKey(key string) bool {
	return strings.HasSuffix(key, ".partial")
}
