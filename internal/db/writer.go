package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StagedFile describes a fully persisted upload awaiting its database row.
// Path is the staged on-disk location; Name is the public name.
type StagedFile struct {
	Name     string
	Original string
	Type     string
	Size     int64
	Hash     string
	Path     string
	AlbumID  int64 // requested album; 0 = none
	Age      float64
}

// StoreResult is the per-file outcome of a commit.
type StoreResult struct {
	File     File
	Repeated bool
}

// Writer commits staged uploads: duplicate lookup, row insertion and album
// timestamp updates happen in one transaction. Filesystem cleanup of
// deduplicated files and the cache/thumbnail hooks run after commit.
type Writer struct {
	DB      *sql.DB
	Queries *Queries
	StoreIP bool

	// RemoveStaged unlinks a staged file that turned out to be a duplicate.
	RemoveStaged func(path string) error
	// OnAlbumsTouched invalidates cached album renders.
	OnAlbumsTouched func(ids []int64)
	// OnInsert fires per newly inserted row (thumbnail scheduling, stats
	// invalidation). Never called for duplicates.
	OnInsert func(f File)
}

// Store commits the staged files for one ingest call.
func (w *Writer) Store(ctx context.Context, staged []StagedFile, userID sql.NullInt64, ip string) ([]StoreResult, error) {
	now := time.Now().Unix()

	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	q := w.Queries.WithTx(tx)

	// Authorize album writes up front so unauthorized albumids are
	// stripped before insertion.
	authorized := make(map[int64]bool)
	if userID.Valid {
		var candidates []int64
		seen := make(map[int64]bool)
		for _, sf := range staged {
			if sf.AlbumID > 0 && !seen[sf.AlbumID] {
				seen[sf.AlbumID] = true
				candidates = append(candidates, sf.AlbumID)
			}
		}
		ids, err := q.AuthorizedAlbumIDs(ctx, userID.Int64, candidates)
		if err != nil {
			return nil, fmt.Errorf("failed to authorize albums: %w", err)
		}
		for _, id := range ids {
			authorized[id] = true
		}
	}

	results := make([]StoreResult, 0, len(staged))
	var dupPaths []string
	touched := make(map[int64]bool)

	for _, sf := range staged {
		if sf.Hash != "" {
			existing, err := q.FindDuplicate(ctx, userID, sf.Hash, sf.Size)
			if err == nil {
				dupPaths = append(dupPaths, sf.Path)
				results = append(results, StoreResult{File: existing, Repeated: true})
				continue
			}
			if err != sql.ErrNoRows {
				return nil, fmt.Errorf("failed to look up duplicate: %w", err)
			}
		}

		f := File{
			Name:      sf.Name,
			Original:  sf.Original,
			Type:      sf.Type,
			Size:      sf.Size,
			Hash:      sf.Hash,
			UserID:    userID,
			Timestamp: now,
		}
		if w.StoreIP && ip != "" {
			f.IP = sql.NullString{String: ip, Valid: true}
		}
		if sf.AlbumID > 0 && authorized[sf.AlbumID] {
			f.AlbumID = sql.NullInt64{Int64: sf.AlbumID, Valid: true}
			touched[sf.AlbumID] = true
		}
		if sf.Age > 0 {
			f.ExpiryDate = sql.NullInt64{Int64: now + int64(sf.Age*3600), Valid: true}
		}

		id, err := q.InsertFile(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("failed to insert file %s: %w", sf.Name, err)
		}
		f.ID = id
		results = append(results, StoreResult{File: f})
	}

	if len(touched) > 0 {
		ids := make([]int64, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		if err := q.TouchAlbums(ctx, ids, now); err != nil {
			return nil, fmt.Errorf("failed to touch albums: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	for _, p := range dupPaths {
		if w.RemoveStaged != nil {
			_ = w.RemoveStaged(p)
		}
	}
	if len(touched) > 0 && w.OnAlbumsTouched != nil {
		ids := make([]int64, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		w.OnAlbumsTouched(ids)
	}
	if w.OnInsert != nil {
		for _, res := range results {
			if !res.Repeated {
				w.OnInsert(res.File)
			}
		}
	}

	return results, nil
}
