// Package uploads implements bulk deletion of committed files with
// cascading cleanup of thumbnails, album timestamps and CDN cache.
package uploads

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/safe/internal/cache"
	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/ingest"
	"github.com/abdul-hamid-achik/safe/internal/logger"
	"github.com/abdul-hamid-achik/safe/internal/metrics"
	"github.com/abdul-hamid-achik/safe/internal/paths"
	"github.com/abdul-hamid-achik/safe/internal/thumbs"
)

// Actor scopes a deletion. Moderators may delete any user's files.
type Actor struct {
	ID        int64
	Moderator bool
}

// CachePurger schedules CDN purges; calls must not block deletion.
type CachePurger interface {
	EnqueueNames(names []string)
}

// Deleter unlinks files and thumbnails, removes rows and cascades to album
// timestamps and caches. It is deliberately not wrapped in one transaction:
// filesystem effects cannot roll back, and partial progress is reported to
// the caller through the failed list.
type Deleter struct {
	Queries *db.Queries
	Paths   *paths.Paths
	Thumbs  *thumbs.Generator
	Purger  CachePurger

	DispositionCache *cache.Store
	AlbumRenderCache *cache.Store
}

// Delete removes the files matching field ∈ {id, name} against values.
// Returns the requested values that could not be deleted.
func (d *Deleter) Delete(ctx context.Context, field string, values []string, actor Actor) ([]string, error) {
	log := logger.FromContext(ctx)

	owner := actor.ID
	if actor.Moderator {
		owner = 0
	}

	var (
		mu      sync.Mutex
		failed  []string
		touched = make(map[int64]bool)
		names   []string
	)

	var wg sync.WaitGroup
	for start := 0; start < len(values); start += db.MaxSQLVars {
		end := start + db.MaxSQLVars
		if end > len(values) {
			end = len(values)
		}
		chunk := values[start:end]
		wg.Add(1)
		go func(chunk []string) {
			defer wg.Done()
			chunkFailed, chunkTouched, chunkNames := d.deleteChunk(ctx, field, chunk, owner)
			mu.Lock()
			failed = append(failed, chunkFailed...)
			for id := range chunkTouched {
				touched[id] = true
			}
			names = append(names, chunkNames...)
			mu.Unlock()
		}(chunk)
	}
	wg.Wait()

	if len(touched) > 0 {
		ids := make([]int64, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		if err := d.Queries.TouchAlbums(ctx, ids, time.Now().Unix()); err != nil {
			log.Error("failed to touch albums after delete", "error", err)
		}
		if d.AlbumRenderCache != nil {
			for _, id := range ids {
				d.AlbumRenderCache.Delete(strconv.FormatInt(id, 10))
			}
		}
	}

	if len(names) > 0 && d.Purger != nil {
		purge := make([]string, 0, 2*len(names))
		for _, name := range names {
			purge = append(purge, name)
			if d.Thumbs.CanThumb(ingest.Extname(name)) {
				purge = append(purge, "thumbs/"+thumbName(name))
			}
		}
		// Fire-and-forget: CDN failures never block deletion.
		go d.Purger.EnqueueNames(purge)
	}

	log.Info("bulk delete finished",
		"requested", len(values),
		"deleted", len(names),
		"failed", len(failed),
	)
	return failed, nil
}

// deleteChunk handles one ≤MaxSQLVars slice of values.
func (d *Deleter) deleteChunk(ctx context.Context, field string, chunk []string, owner int64) (failed []string, touched map[int64]bool, names []string) {
	log := logger.FromContext(ctx)
	touched = make(map[int64]bool)

	args := make([]any, 0, len(chunk))
	for _, v := range chunk {
		if field == "id" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				failed = append(failed, v)
				continue
			}
			args = append(args, id)
		} else {
			args = append(args, v)
		}
	}

	rows, err := d.Queries.SelectFilesIn(ctx, field, args, owner)
	if err != nil {
		log.Error("bulk delete select failed", "error", err)
		return chunk, touched, nil
	}

	// Values the select did not return are reported as failed: unknown,
	// or owned by somebody else.
	found := make(map[string]bool, len(rows))
	for _, f := range rows {
		if field == "id" {
			found[strconv.FormatInt(f.ID, 10)] = true
		} else {
			found[f.Name] = true
		}
	}
	for _, v := range chunk {
		if !found[v] {
			failed = append(failed, v)
		}
	}

	var okIDs []int64
	for _, f := range rows {
		value := f.Name
		if field == "id" {
			value = strconv.FormatInt(f.ID, 10)
		}
		if err := d.Paths.Remove(d.Paths.File(f.Name)); err != nil {
			log.Warn("failed to unlink file", "name", f.Name, "error", err)
			failed = append(failed, value)
			metrics.RecordDeletion("error")
			continue
		}
		if d.Thumbs.CanThumb(ingest.Extname(f.Name)) {
			if err := d.Paths.Remove(d.Paths.Thumb(f.Name)); err != nil {
				log.Warn("failed to unlink thumbnail", "name", f.Name, "error", err)
			}
		}
		okIDs = append(okIDs, f.ID)
		names = append(names, f.Name)
		if f.AlbumID.Valid {
			touched[f.AlbumID.Int64] = true
		}
		if d.DispositionCache != nil {
			d.DispositionCache.Delete(f.Name)
		}
		metrics.RecordDeletion("success")
	}

	if err := d.Queries.DeleteFilesByIDs(ctx, okIDs); err != nil {
		log.Error("bulk delete statement failed", "error", err)
		// The rows survived even though the bytes are gone; report their
		// values as failed so the caller can retry.
		okSet := make(map[int64]bool, len(okIDs))
		for _, id := range okIDs {
			okSet[id] = true
		}
		for _, f := range rows {
			if !okSet[f.ID] {
				continue
			}
			if field == "id" {
				failed = append(failed, strconv.FormatInt(f.ID, 10))
			} else {
				failed = append(failed, f.Name)
			}
		}
		return failed, touched, nil
	}
	return failed, touched, names
}

func thumbName(name string) string {
	ext := ingest.Extname(name)
	return name[:len(name)-len(ext)] + ".png"
}
