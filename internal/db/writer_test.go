package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func stagedFixture(t *testing.T, dir, name string) StagedFile {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return StagedFile{
		Name: name,
		Type: "application/octet-stream",
		Size: 5,
		Hash: "deadbeef",
		Path: path,
	}
}

func testWriter(t *testing.T) (*Writer, *Queries, string) {
	t.Helper()
	sdb, q := testDB(t)
	dir := t.TempDir()
	w := &Writer{
		DB:           sdb,
		Queries:      q,
		StoreIP:      true,
		RemoveStaged: os.Remove,
	}
	return w, q, dir
}

func TestWriterStore(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts a fresh row", func(t *testing.T) {
		w, q, dir := testWriter(t)
		staged := stagedFixture(t, dir, "fresh1.bin")
		results, err := w.Store(ctx, []StagedFile{staged}, sql.NullInt64{Int64: 1, Valid: true}, "10.0.0.1")
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		if len(results) != 1 || results[0].Repeated {
			t.Fatalf("results = %+v", results)
		}
		row, err := q.GetFileByName(ctx, "fresh1.bin")
		if err != nil {
			t.Fatalf("row missing after commit: %v", err)
		}
		if !row.IP.Valid || row.IP.String != "10.0.0.1" {
			t.Errorf("IP = %+v, want stored", row.IP)
		}
	})

	t.Run("duplicate unlinks staged file and references first row", func(t *testing.T) {
		w, q, dir := testWriter(t)
		owner := sql.NullInt64{Int64: 1, Valid: true}

		first := stagedFixture(t, dir, "one.bin")
		if _, err := w.Store(ctx, []StagedFile{first}, owner, ""); err != nil {
			t.Fatal(err)
		}
		second := stagedFixture(t, dir, "two.bin")
		results, err := w.Store(ctx, []StagedFile{second}, owner, "")
		if err != nil {
			t.Fatal(err)
		}
		if !results[0].Repeated {
			t.Fatal("second upload not marked repeated")
		}
		if results[0].File.Name != "one.bin" {
			t.Errorf("duplicate references %q, want one.bin", results[0].File.Name)
		}
		if _, err := os.Stat(second.Path); !os.IsNotExist(err) {
			t.Error("duplicate staged file was not unlinked")
		}
		if _, err := q.GetFileByName(ctx, "two.bin"); err != sql.ErrNoRows {
			t.Errorf("second row inserted: %v", err)
		}
	})

	t.Run("no dedup across different owners", func(t *testing.T) {
		w, _, dir := testWriter(t)
		a := stagedFixture(t, dir, "owner-a.bin")
		if _, err := w.Store(ctx, []StagedFile{a}, sql.NullInt64{Int64: 1, Valid: true}, ""); err != nil {
			t.Fatal(err)
		}
		b := stagedFixture(t, dir, "owner-b.bin")
		results, err := w.Store(ctx, []StagedFile{b}, sql.NullInt64{Int64: 2, Valid: true}, "")
		if err != nil {
			t.Fatal(err)
		}
		if results[0].Repeated {
			t.Error("dedup crossed the owner boundary")
		}
	})

	t.Run("expiry set from age", func(t *testing.T) {
		w, q, dir := testWriter(t)
		staged := stagedFixture(t, dir, "aged.bin")
		staged.Age = 2
		before := time.Now().Unix()
		if _, err := w.Store(ctx, []StagedFile{staged}, sql.NullInt64{}, ""); err != nil {
			t.Fatal(err)
		}
		row, err := q.GetFileByName(ctx, "aged.bin")
		if err != nil {
			t.Fatal(err)
		}
		if !row.ExpiryDate.Valid {
			t.Fatal("expirydate not set")
		}
		want := before + 2*3600
		if row.ExpiryDate.Int64 < want || row.ExpiryDate.Int64 > want+5 {
			t.Errorf("expirydate = %d, want ≈ %d", row.ExpiryDate.Int64, want)
		}
		if row.ExpiryDate.Int64 < row.Timestamp {
			t.Error("expirydate before timestamp")
		}
	})

	t.Run("authorized album binds and bumps editedAt", func(t *testing.T) {
		w, q, dir := testWriter(t)
		now := time.Now().Unix() - 1000
		albumID, err := q.InsertAlbum(ctx, Album{
			Name: "mine", Identifier: "mine0001", UserID: 1,
			Enabled: true, Timestamp: now, EditedAt: now,
		})
		if err != nil {
			t.Fatal(err)
		}
		var touched []int64
		w.OnAlbumsTouched = func(ids []int64) { touched = ids }

		staged := stagedFixture(t, dir, "inalbum.bin")
		staged.AlbumID = albumID
		results, err := w.Store(ctx, []StagedFile{staged}, sql.NullInt64{Int64: 1, Valid: true}, "")
		if err != nil {
			t.Fatal(err)
		}
		if !results[0].File.AlbumID.Valid || results[0].File.AlbumID.Int64 != albumID {
			t.Errorf("albumid = %+v, want %d", results[0].File.AlbumID, albumID)
		}
		album, err := q.GetAlbumByID(ctx, albumID)
		if err != nil {
			t.Fatal(err)
		}
		if album.EditedAt <= now {
			t.Errorf("editedAt = %d, want bumped past %d", album.EditedAt, now)
		}
		if len(touched) != 1 || touched[0] != albumID {
			t.Errorf("touched = %v, want [%d]", touched, albumID)
		}
	})

	t.Run("unauthorized album is stripped", func(t *testing.T) {
		w, q, dir := testWriter(t)
		now := time.Now().Unix()
		otherAlbum, err := q.InsertAlbum(ctx, Album{
			Name: "theirs", Identifier: "thrs0001", UserID: 99,
			Enabled: true, Timestamp: now, EditedAt: now,
		})
		if err != nil {
			t.Fatal(err)
		}
		staged := stagedFixture(t, dir, "strip.bin")
		staged.AlbumID = otherAlbum
		results, err := w.Store(ctx, []StagedFile{staged}, sql.NullInt64{Int64: 1, Valid: true}, "")
		if err != nil {
			t.Fatal(err)
		}
		if results[0].File.AlbumID.Valid {
			t.Error("unauthorized albumid survived the commit")
		}
	})

	t.Run("OnInsert fires for new rows only", func(t *testing.T) {
		w, _, dir := testWriter(t)
		var inserted []string
		w.OnInsert = func(f File) { inserted = append(inserted, f.Name) }

		owner := sql.NullInt64{Int64: 5, Valid: true}
		if _, err := w.Store(ctx, []StagedFile{stagedFixture(t, dir, "cb1.bin")}, owner, ""); err != nil {
			t.Fatal(err)
		}
		if _, err := w.Store(ctx, []StagedFile{stagedFixture(t, dir, "cb2.bin")}, owner, ""); err != nil {
			t.Fatal(err)
		}
		if len(inserted) != 1 || inserted[0] != "cb1.bin" {
			t.Errorf("inserted = %v, want only cb1.bin", inserted)
		}
	})
}
