// Package albums implements album management and on-demand ZIP archives.
package albums

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/abdul-hamid-achik/safe/internal/apperror"
	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/logger"
	"github.com/abdul-hamid-achik/safe/internal/metrics"
	"github.com/abdul-hamid-achik/safe/internal/paths"
)

// Zipper builds album archives on demand. Concurrent requests for the same
// album coalesce into one build; a cached archive is reused while
// zipGeneratedAt > editedAt.
type Zipper struct {
	Queries      *db.Queries
	Paths        *paths.Paths
	MaxTotalSize int64

	g singleflight.Group
}

// Get returns the archive path for the album identifier, building it if
// the cached one is stale or missing.
func (z *Zipper) Get(ctx context.Context, identifier string) (string, db.Album, error) {
	album, err := z.Queries.GetAlbumByIdentifier(ctx, identifier)
	if err != nil {
		return "", db.Album{}, apperror.ErrNotFound
	}
	if !album.Enabled || !album.Public {
		return "", db.Album{}, apperror.ErrNotFound
	}
	if !album.Download {
		return "", db.Album{}, apperror.ErrForbidden
	}

	dest := z.Paths.Zip(album.Identifier)

	if album.ZipGeneratedAt > album.EditedAt {
		if _, err := os.Stat(dest); err == nil {
			return dest, album, nil
		}
	}

	// Later requesters for the same identifier wait on the in-flight
	// build and serve the same file. A build error clears the slot and
	// propagates to every waiter.
	_, err, _ = z.g.Do(identifier, func() (any, error) {
		return nil, z.build(ctx, &album, dest)
	})
	if err != nil {
		if appErr, ok := apperror.As(err); ok {
			return "", db.Album{}, appErr
		}
		return "", db.Album{}, apperror.Wrap(err, apperror.ErrZipGeneration)
	}
	return dest, album, nil
}

func (z *Zipper) build(ctx context.Context, album *db.Album, dest string) error {
	log := logger.FromContext(ctx)
	start := time.Now()

	files, err := z.Queries.ListFilesInAlbum(ctx, album.ID)
	if err != nil {
		return fmt.Errorf("failed to list album files: %w", err)
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}
	if z.MaxTotalSize > 0 && total > z.MaxTotalSize {
		return apperror.New("Album is too large to download", 403)
	}

	// Build into a scratch file and rename over the destination so a
	// failed build never leaves a partial archive behind.
	tmp, err := os.CreateTemp(z.Paths.Zips(), album.Identifier+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create scratch archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	zw := zip.NewWriter(tmp)
	for _, f := range files {
		if err := z.addMember(zw, f); err != nil {
			_ = zw.Close()
			_ = tmp.Close()
			metrics.RecordZipBuild("error", 0)
			return fmt.Errorf("failed to archive %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		metrics.RecordZipBuild("error", 0)
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		metrics.RecordZipBuild("error", 0)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		metrics.RecordZipBuild("error", 0)
		return fmt.Errorf("failed to publish archive: %w", err)
	}

	now := time.Now().Unix()
	if err := z.Queries.SetZipGeneratedAt(ctx, album.ID, now); err != nil {
		return fmt.Errorf("failed to record archive freshness: %w", err)
	}
	album.ZipGeneratedAt = now

	metrics.RecordZipBuild("success", time.Since(start).Seconds())
	log.Info("album archive built",
		"album", album.Identifier,
		"files", len(files),
		"bytes", total,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (z *Zipper) addMember(zw *zip.Writer, f db.File) error {
	src, err := os.Open(z.Paths.File(f.Name))
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	hdr := &zip.FileHeader{
		Name:     f.Name,
		Method:   zip.Store, // most uploads are already compressed
		Modified: time.Unix(f.Timestamp, 0),
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
