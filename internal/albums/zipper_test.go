package albums

import (
	"archive/zip"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/safe/internal/apperror"
	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/paths"
)

func testZipper(t *testing.T) (*Zipper, *db.Queries, *paths.Paths) {
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
	return &Zipper{Queries: q, Paths: p, MaxTotalSize: 1 << 20}, q, p
}

func seedAlbum(t *testing.T, q *db.Queries, p *paths.Paths, identifier string, files ...string) db.Album {
	t.Helper()
	ctx := context.Background()
	now := time.Now().Unix()
	id, err := q.InsertAlbum(ctx, db.Album{
		Name: identifier, Identifier: identifier, UserID: 1,
		Enabled: true, Public: true, Download: true,
		Timestamp: now - 100, EditedAt: now - 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range files {
		if err := os.WriteFile(p.File(name), []byte("content of "+name), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := q.InsertFile(ctx, db.File{
			Name: name, Size: int64(len("content of " + name)),
			AlbumID: sql.NullInt64{Int64: id, Valid: true}, Timestamp: now,
		}); err != nil {
			t.Fatal(err)
		}
	}
	album, err := q.GetAlbumByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	return album
}

func TestZipperGet(t *testing.T) {
	ctx := context.Background()

	t.Run("builds a fresh archive", func(t *testing.T) {
		z, q, p := testZipper(t)
		album := seedAlbum(t, q, p, "alb00001", "x.txt", "y.txt")

		path, got, err := z.Get(ctx, album.Identifier)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.ZipGeneratedAt <= got.EditedAt {
			t.Errorf("zipGeneratedAt = %d, editedAt = %d, want fresher archive",
				got.ZipGeneratedAt, got.EditedAt)
		}

		zr, err := zip.OpenReader(path)
		if err != nil {
			t.Fatalf("opening archive: %v", err)
		}
		defer func() { _ = zr.Close() }()
		if len(zr.File) != 2 {
			t.Errorf("archive has %d members, want 2", len(zr.File))
		}
	})

	t.Run("fresh archive is reused", func(t *testing.T) {
		z, q, p := testZipper(t)
		album := seedAlbum(t, q, p, "alb00002", "x.txt")

		path1, _, err := z.Get(ctx, album.Identifier)
		if err != nil {
			t.Fatal(err)
		}
		st1, err := os.Stat(path1)
		if err != nil {
			t.Fatal(err)
		}
		path2, _, err := z.Get(ctx, album.Identifier)
		if err != nil {
			t.Fatal(err)
		}
		st2, err := os.Stat(path2)
		if err != nil {
			t.Fatal(err)
		}
		if !st1.ModTime().Equal(st2.ModTime()) {
			t.Error("fresh archive was rebuilt")
		}
	})

	t.Run("edit invalidates the archive", func(t *testing.T) {
		z, q, p := testZipper(t)
		album := seedAlbum(t, q, p, "alb00003", "x.txt")

		path1, _, err := z.Get(ctx, album.Identifier)
		if err != nil {
			t.Fatal(err)
		}
		st1, err := os.Stat(path1)
		if err != nil {
			t.Fatal(err)
		}
		// Bump editedAt to the build time so the archive reads as stale.
		if err := q.TouchAlbums(ctx, []int64{album.ID}, time.Now().Unix()); err != nil {
			t.Fatal(err)
		}
		path2, _, err := z.Get(ctx, album.Identifier)
		if err != nil {
			t.Fatal(err)
		}
		st2, err := os.Stat(path2)
		if err != nil {
			t.Fatal(err)
		}
		if st1.ModTime().Equal(st2.ModTime()) {
			t.Error("stale archive was not rebuilt after edit")
		}
	})

	t.Run("concurrent requesters share one build", func(t *testing.T) {
		z, q, p := testZipper(t)
		album := seedAlbum(t, q, p, "alb00004", "x.txt", "y.txt", "z.txt")

		const n = 8
		var wg sync.WaitGroup
		pathsSeen := make([]string, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				pathsSeen[i], _, errs[i] = z.Get(ctx, album.Identifier)
			}(i)
		}
		wg.Wait()
		for i := 0; i < n; i++ {
			if errs[i] != nil {
				t.Fatalf("Get() error = %v", errs[i])
			}
			if pathsSeen[i] != pathsSeen[0] {
				t.Errorf("path[%d] = %q, want %q", i, pathsSeen[i], pathsSeen[0])
			}
		}
	})

	t.Run("size guard", func(t *testing.T) {
		z, q, p := testZipper(t)
		z.MaxTotalSize = 4
		album := seedAlbum(t, q, p, "alb00005", "big.txt")
		_, _, err := z.Get(ctx, album.Identifier)
		appErr, ok := apperror.As(err)
		if !ok || appErr.StatusCode != 403 {
			t.Errorf("Get() error = %v, want 403 app error", err)
		}
	})

	t.Run("constraints", func(t *testing.T) {
		z, q, p := testZipper(t)
		now := time.Now().Unix()

		mk := func(identifier string, enabled, public, download bool) {
			if _, err := q.InsertAlbum(context.Background(), db.Album{
				Name: identifier, Identifier: identifier, UserID: 1,
				Enabled: enabled, Public: public, Download: download,
				Timestamp: now, EditedAt: now,
			}); err != nil {
				t.Fatal(err)
			}
		}
		mk("disabled1", false, true, true)
		mk("hidden001", true, false, true)
		mk("nodl00001", true, true, false)
		_ = p

		for _, tt := range []struct {
			identifier string
			wantStatus int
		}{
			{"missing99", 404},
			{"disabled1", 404},
			{"hidden001", 404},
			{"nodl00001", 403},
		} {
			_, _, err := z.Get(ctx, tt.identifier)
			appErr, ok := apperror.As(err)
			if !ok || appErr.StatusCode != tt.wantStatus {
				t.Errorf("Get(%s) error = %v, want status %d", tt.identifier, err, tt.wantStatus)
			}
		}
	})
}
