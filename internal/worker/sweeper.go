// Package worker hosts the background jobs: the retention sweeper and the
// thumbnail pool.
package worker

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/logger"
	"github.com/abdul-hamid-achik/safe/internal/metrics"
	"github.com/abdul-hamid-achik/safe/internal/uploads"
)

// Sweeper periodically deletes expired uploads. At most one sweep runs at
// a time; a tick that lands mid-sweep is skipped.
type Sweeper struct {
	Queries  *db.Queries
	Deleter  *uploads.Deleter
	Interval time.Duration
	Verbose  bool

	inProgress atomic.Bool
}

// Run ticks until ctx is cancelled. Per-tick errors are logged and do not
// stop the ticker.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs one pass. Returns the number of files removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	if !s.inProgress.CompareAndSwap(false, true) {
		return 0
	}
	defer s.inProgress.Store(false)

	log := logger.FromContext(ctx)
	metrics.SweepsTotal.Inc()

	expired, err := s.Queries.ListExpiredFiles(ctx, time.Now().Unix())
	if err != nil {
		log.Error("retention sweep query failed", "error", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	values := make([]string, len(expired))
	for i, f := range expired {
		values[i] = strconv.FormatInt(f.ID, 10)
		if s.Verbose {
			log.Debug("expired upload", "id", f.ID, "name", f.Name)
		}
	}

	// The sweeper acts as root so ownership never blocks expiry.
	failed, err := s.Deleter.Delete(ctx, "id", values, uploads.Actor{Moderator: true})
	if err != nil {
		log.Error("retention sweep delete failed", "error", err)
		return 0
	}

	removed := len(values) - len(failed)
	metrics.SweptFilesTotal.Add(float64(removed))
	log.Info("retention sweep finished", "expired", len(values), "removed", removed, "failed", len(failed))
	return removed
}
