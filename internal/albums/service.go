package albums

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/abdul-hamid-achik/safe/internal/apperror"
	"github.com/abdul-hamid-achik/safe/internal/cache"
	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/ids"
	"github.com/abdul-hamid-achik/safe/internal/paths"
	"github.com/abdul-hamid-achik/safe/internal/uploads"
)

// Service owns album lifecycle operations.
type Service struct {
	Queries     *db.Queries
	IDs         *ids.Store
	Paths       *paths.Paths
	Deleter     *uploads.Deleter
	RenderCache *cache.Store
	IdentLength int
}

func (s *Service) identifierCheck() ids.CheckFunc {
	return func(ctx context.Context, identifier string) (bool, error) {
		return s.Queries.AlbumIdentifierTaken(ctx, identifier)
	}
}

// Create makes a new enabled album. Names are unique per owner across
// enabled albums only.
func (s *Service) Create(ctx context.Context, userID int64, name, description string, download, public bool) (db.Album, error) {
	if name == "" {
		return db.Album{}, apperror.New("No album name specified", 0)
	}
	exists, err := s.Queries.AlbumNameExists(ctx, userID, name)
	if err != nil {
		return db.Album{}, apperror.Wrap(err, apperror.ErrInternal)
	}
	if exists {
		return db.Album{}, apperror.New("There is already an album with that name", 409)
	}

	identifier, release, err := s.IDs.Allocate(ctx, s.IdentLength, s.identifierCheck())
	if err != nil {
		if errors.Is(err, ids.ErrExhausted) {
			return db.Album{}, apperror.Wrap(err, apperror.ErrIdentifierExhausted)
		}
		return db.Album{}, apperror.Wrap(err, apperror.ErrInternal)
	}
	defer release()

	now := time.Now().Unix()
	album := db.Album{
		Name:        name,
		Identifier:  identifier,
		UserID:      userID,
		Enabled:     true,
		Public:      public,
		Download:    download,
		Description: description,
		Timestamp:   now,
		EditedAt:    now,
	}
	id, err := s.Queries.InsertAlbum(ctx, album)
	if err != nil {
		return db.Album{}, apperror.Wrap(err, apperror.ErrInternal)
	}
	album.ID = id
	return album, nil
}

// Edit updates the mutable fields; editedAt bumps so cached archives and
// renders invalidate.
func (s *Service) Edit(ctx context.Context, userID, id int64, name, description string, download, public bool) error {
	album, err := s.Queries.GetAlbumOwned(ctx, id, userID)
	if err != nil {
		return apperror.ErrNotFound
	}
	if name == "" {
		return apperror.New("No album name specified", 0)
	}
	if name != album.Name {
		exists, err := s.Queries.AlbumNameExists(ctx, userID, name)
		if err != nil {
			return apperror.Wrap(err, apperror.ErrInternal)
		}
		if exists {
			return apperror.New("There is already an album with that name", 409)
		}
	}
	album.Name = name
	album.Description = description
	album.Download = download
	album.Public = public
	if err := s.Queries.UpdateAlbumMeta(ctx, album, time.Now().Unix()); err != nil {
		return apperror.Wrap(err, apperror.ErrInternal)
	}
	s.invalidate(album.ID)
	return nil
}

// Rename is Edit restricted to the name.
func (s *Service) Rename(ctx context.Context, userID, id int64, name string) error {
	album, err := s.Queries.GetAlbumOwned(ctx, id, userID)
	if err != nil {
		return apperror.ErrNotFound
	}
	return s.Edit(ctx, userID, id, name, album.Description, album.Download, album.Public)
}

// Disable soft-deletes: the row survives, files stay, the name frees up.
func (s *Service) Disable(ctx context.Context, userID, id int64) error {
	album, err := s.Queries.GetAlbumOwned(ctx, id, userID)
	if err != nil {
		return apperror.ErrNotFound
	}
	if err := s.Queries.SetAlbumEnabled(ctx, album.ID, false, time.Now().Unix()); err != nil {
		return apperror.Wrap(err, apperror.ErrInternal)
	}
	_ = s.Paths.Remove(s.Paths.Zip(album.Identifier))
	s.invalidate(album.ID)
	return nil
}

// Delete removes the album row, detaches (or with purge deletes) its
// files and drops the on-disk archive.
func (s *Service) Delete(ctx context.Context, actor uploads.Actor, id int64, purge bool) ([]string, error) {
	var album db.Album
	var err error
	if actor.Moderator {
		album, err = s.Queries.GetAlbumByID(ctx, id)
	} else {
		album, err = s.Queries.GetAlbumOwned(ctx, id, actor.ID)
	}
	if err != nil {
		return nil, apperror.ErrNotFound
	}

	var failed []string
	if purge {
		files, err := s.Queries.ListFilesInAlbum(ctx, album.ID)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrInternal)
		}
		values := make([]string, 0, len(files))
		for _, f := range files {
			values = append(values, strconv.FormatInt(f.ID, 10))
		}
		if len(values) > 0 {
			failed, err = s.Deleter.Delete(ctx, "id", values, actor)
			if err != nil {
				return nil, apperror.Wrap(err, apperror.ErrInternal)
			}
		}
	}

	// Surviving files are detached, never cascaded.
	if err := s.Queries.ClearAlbumFromFiles(ctx, album.ID); err != nil {
		return failed, apperror.Wrap(err, apperror.ErrInternal)
	}
	if err := s.Queries.DeleteAlbumRow(ctx, album.ID); err != nil {
		return failed, apperror.Wrap(err, apperror.ErrInternal)
	}
	_ = s.Paths.Remove(s.Paths.Zip(album.Identifier))
	s.invalidate(album.ID)
	return failed, nil
}

// AddFiles moves the owner's files into the album and bumps editedAt.
func (s *Service) AddFiles(ctx context.Context, userID, albumID int64, fileIDs []int64) error {
	album, err := s.Queries.GetAlbumOwned(ctx, albumID, userID)
	if err != nil {
		return apperror.ErrNotFound
	}
	moved, err := s.Queries.AssignAlbumToFiles(ctx,
		sql.NullInt64{Int64: album.ID, Valid: true}, fileIDs, userID)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrInternal)
	}
	if moved > 0 {
		if err := s.Queries.TouchAlbums(ctx, []int64{album.ID}, time.Now().Unix()); err != nil {
			return apperror.Wrap(err, apperror.ErrInternal)
		}
		s.invalidate(album.ID)
	}
	return nil
}

func (s *Service) invalidate(albumID int64) {
	if s.RenderCache != nil {
		s.RenderCache.Delete(strconv.FormatInt(albumID, 10))
	}
}
