package worker

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/paths"
	"github.com/abdul-hamid-achik/safe/internal/thumbs"
	"github.com/abdul-hamid-achik/safe/internal/uploads"
)

func testSweeper(t *testing.T) (*Sweeper, *db.Queries, *paths.Paths) {
	t.Helper()
	sdb, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "db.sqlite3"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sdb.Close() })
	q := db.New(sdb)

	p, err := paths.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := &Sweeper{
		Queries: q,
		Deleter: &uploads.Deleter{
			Queries: q,
			Paths:   p,
			Thumbs:  thumbs.NewGenerator(p, nil, ""),
		},
		Interval: time.Hour,
	}
	return s, q, p
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	s, q, p := testSweeper(t)
	now := time.Now().Unix()

	seed := func(name string, expiry int64, albumID int64) db.File {
		f := db.File{Name: name, Size: 1, Timestamp: now - 100,
			UserID: sql.NullInt64{Int64: 3, Valid: true}}
		if expiry != 0 {
			f.ExpiryDate = sql.NullInt64{Int64: expiry, Valid: true}
		}
		if albumID > 0 {
			f.AlbumID = sql.NullInt64{Int64: albumID, Valid: true}
		}
		id, err := q.InsertFile(ctx, f)
		if err != nil {
			t.Fatal(err)
		}
		f.ID = id
		if err := os.WriteFile(p.File(name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		return f
	}

	albumID, err := q.InsertAlbum(ctx, db.Album{
		Name: "a", Identifier: "swpa0001", UserID: 3,
		Enabled: true, Timestamp: now - 100, EditedAt: now - 100,
	})
	if err != nil {
		t.Fatal(err)
	}

	expired := seed("expired.bin", now-1, albumID)
	alive := seed("alive.bin", now+3600, 0)
	permanent := seed("perm.bin", 0, 0)

	if removed := s.Sweep(ctx); removed != 1 {
		t.Fatalf("Sweep() = %d removed, want 1", removed)
	}

	if _, err := q.GetFileByID(ctx, expired.ID); err != sql.ErrNoRows {
		t.Errorf("expired row survived: %v", err)
	}
	if _, err := os.Stat(p.File("expired.bin")); !os.IsNotExist(err) {
		t.Error("expired bytes survived")
	}
	for _, f := range []db.File{alive, permanent} {
		if _, err := q.GetFileByID(ctx, f.ID); err != nil {
			t.Errorf("%s was swept: %v", f.Name, err)
		}
	}

	album, err := q.GetAlbumByID(ctx, albumID)
	if err != nil {
		t.Fatal(err)
	}
	if album.EditedAt <= now-100 {
		t.Errorf("album editedAt = %d, want bumped", album.EditedAt)
	}

	// Second sweep finds nothing.
	if removed := s.Sweep(ctx); removed != 0 {
		t.Errorf("second Sweep() = %d, want 0", removed)
	}
}

func TestSweepSingleFlight(t *testing.T) {
	s, _, _ := testSweeper(t)
	s.inProgress.Store(true)
	if removed := s.Sweep(context.Background()); removed != 0 {
		t.Errorf("overlapping Sweep() = %d, want 0 (skipped)", removed)
	}
	s.inProgress.Store(false)
}
