package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/abdul-hamid-achik/safe/internal/apperror"
	"github.com/abdul-hamid-achik/safe/internal/chunks"
	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/ids"
)

// ChunkSpec finalizes one chunked upload session.
type ChunkSpec struct {
	UUID     string
	Original string
	IDLength int
	Size     int64 // client-reported final size; negative = not supplied
	Age      float64
	AlbumID  int64
	Type     string
}

// FinishChunks closes the named sessions, moves the assembled files into
// the uploads root and commits them through the regular post-stream path.
func (e *Engine) FinishChunks(ctx context.Context, req Request, specs []ChunkSpec) ([]FileResult, error) {
	if len(specs) == 0 {
		return nil, apperror.New("No files", 0)
	}
	if len(specs) > e.MaxFilesPerUpload {
		return nil, apperror.New(fmt.Sprintf("Maximum %d files per upload", e.MaxFilesPerUpload), 0)
	}

	var staged []stagedUpload
	var releases []func()
	defer func() {
		for _, r := range releases {
			r()
		}
	}()

	fail := func(err error) ([]FileResult, error) {
		e.removeStaged(staged)
		return nil, err
	}

	for _, spec := range specs {
		if spec.UUID == "" {
			return fail(apperror.New("Missing uuid", 0))
		}

		age := req.Age
		if spec.Age >= 0 {
			age = spec.Age
		}
		effective, err := e.effectiveAge(req.Rank, age)
		if err != nil {
			return fail(err)
		}

		ext := Extname(spec.Original)
		if !e.Filter.Allowed(ext) {
			return fail(apperror.ErrExtensionBlocked)
		}

		ident, release, err := e.IDs.Allocate(ctx, e.identifierLength(spec.IDLength), e.nameCheck())
		if err != nil {
			if errors.Is(err, ids.ErrExhausted) {
				return fail(apperror.Wrap(err, apperror.ErrIdentifierExhausted))
			}
			return fail(apperror.Wrap(err, apperror.ErrInternal))
		}
		releases = append(releases, release)

		name := ident + ext
		dest := e.Paths.File(name)

		key := chunks.Key(req.IP, spec.UUID)
		expected := spec.Size
		if expected == 0 {
			expected = -1
		}
		info, err := e.Chunks.Finalize(ctx, key, expected, dest)
		if err != nil {
			switch {
			case errors.Is(err, chunks.ErrNotFound):
				return fail(apperror.New("Invalid uuid", 0))
			case errors.Is(err, chunks.ErrInvalidChunkCount):
				return fail(apperror.New("Invalid chunks count", 0))
			case errors.Is(err, chunks.ErrSizeMismatch):
				return fail(apperror.New("File size mismatched", 0))
			case errors.Is(err, chunks.ErrTooLarge):
				return fail(apperror.ErrFileTooLarge)
			case errors.Is(err, chunks.ErrSerializationConflict):
				return fail(apperror.New("Chunk upload still in progress", 409))
			default:
				return fail(apperror.Wrap(err, apperror.ErrInternal))
			}
		}

		if info.Size == 0 && e.FilterEmptyFile {
			return fail(apperror.ErrEmptyFile)
		}

		albumID := spec.AlbumID
		if albumID == 0 {
			albumID = req.AlbumID
		}

		su := stagedUpload{
			file: db.StagedFile{
				Name:     name,
				Original: spec.Original,
				Type:     e.contentType(ext),
				Size:     info.Size,
				Hash:     info.Hash,
				Path:     dest,
				AlbumID:  albumID,
				Age:      effective,
			},
		}
		if spec.Type != "" {
			su.file.Type = spec.Type
		}
		staged = append(staged, su)
	}

	results, err := e.finalizeBatch(ctx, req, staged)
	if err != nil {
		return nil, err
	}
	return results, nil
}
