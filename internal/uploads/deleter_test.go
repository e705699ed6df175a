package uploads

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/safe/internal/cache"
	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/paths"
	"github.com/abdul-hamid-achik/safe/internal/thumbs"
)

type recordingPurger struct {
	ch chan []string
}

func (p *recordingPurger) EnqueueNames(names []string) {
	p.ch <- names
}

func testDeleter(t *testing.T) (*Deleter, *db.Queries, *paths.Paths, *recordingPurger) {
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
	purger := &recordingPurger{ch: make(chan []string, 4)}
	d := &Deleter{
		Queries:          q,
		Paths:            p,
		Thumbs:           thumbs.NewGenerator(p, []string{".png"}, ""),
		Purger:           purger,
		DispositionCache: cache.New(16, cache.LastGetTime),
		AlbumRenderCache: cache.New(16, cache.GetsCount),
	}
	return d, q, p, purger
}

func seedFile(t *testing.T, q *db.Queries, p *paths.Paths, name string, owner int64, albumID int64) db.File {
	t.Helper()
	f := db.File{Name: name, Size: 4, Timestamp: time.Now().Unix()}
	if owner > 0 {
		f.UserID = sql.NullInt64{Int64: owner, Valid: true}
	}
	if albumID > 0 {
		f.AlbumID = sql.NullInt64{Int64: albumID, Valid: true}
	}
	id, err := q.InsertFile(context.Background(), f)
	if err != nil {
		t.Fatal(err)
	}
	f.ID = id
	if err := os.WriteFile(p.File(name), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes rows and bytes", func(t *testing.T) {
		d, q, p, _ := testDeleter(t)
		f := seedFile(t, q, p, "del1.png", 1, 0)

		failed, err := d.Delete(ctx, "id", []string{strconv.FormatInt(f.ID, 10)}, Actor{ID: 1})
		if err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if len(failed) != 0 {
			t.Errorf("failed = %v, want empty", failed)
		}
		if _, err := q.GetFileByID(ctx, f.ID); err != sql.ErrNoRows {
			t.Errorf("row survived: %v", err)
		}
		if _, err := os.Stat(p.File("del1.png")); !os.IsNotExist(err) {
			t.Error("file survived on disk")
		}
	})

	t.Run("failed plus deleted covers the request", func(t *testing.T) {
		d, q, p, _ := testDeleter(t)
		mine := seedFile(t, q, p, "mine.png", 1, 0)
		theirs := seedFile(t, q, p, "theirs.png", 2, 0)

		failed, err := d.Delete(ctx, "name",
			[]string{mine.Name, theirs.Name, "ghost.png"}, Actor{ID: 1})
		if err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		sort.Strings(failed)
		want := []string{"ghost.png", "theirs.png"}
		if len(failed) != len(want) || failed[0] != want[0] || failed[1] != want[1] {
			t.Errorf("failed = %v, want %v", failed, want)
		}
		// The other user's file is untouched.
		if _, err := q.GetFileByName(ctx, theirs.Name); err != nil {
			t.Errorf("unowned row disappeared: %v", err)
		}
	})

	t.Run("moderator deletes across owners", func(t *testing.T) {
		d, q, p, _ := testDeleter(t)
		theirs := seedFile(t, q, p, "any.png", 7, 0)
		failed, err := d.Delete(ctx, "name", []string{theirs.Name}, Actor{ID: 1, Moderator: true})
		if err != nil {
			t.Fatal(err)
		}
		if len(failed) != 0 {
			t.Errorf("failed = %v, want empty", failed)
		}
	})

	t.Run("album timestamps bumped and purge scheduled", func(t *testing.T) {
		d, q, p, purger := testDeleter(t)
		now := time.Now().Unix() - 500
		albumID, err := q.InsertAlbum(ctx, db.Album{
			Name: "a", Identifier: "albx0001", UserID: 1,
			Enabled: true, Timestamp: now, EditedAt: now,
		})
		if err != nil {
			t.Fatal(err)
		}
		f := seedFile(t, q, p, "member.png", 1, albumID)

		if _, err := d.Delete(ctx, "id", []string{strconv.FormatInt(f.ID, 10)}, Actor{ID: 1}); err != nil {
			t.Fatal(err)
		}
		album, err := q.GetAlbumByID(ctx, albumID)
		if err != nil {
			t.Fatal(err)
		}
		if album.EditedAt <= now {
			t.Errorf("editedAt = %d, want bumped", album.EditedAt)
		}

		select {
		case names := <-purger.ch:
			found := false
			for _, n := range names {
				if n == "member.png" {
					found = true
				}
			}
			if !found {
				t.Errorf("purge names = %v, want member.png", names)
			}
		case <-time.After(2 * time.Second):
			t.Error("no purge scheduled")
		}
	})
}
