// Package ingest drives uploads end-to-end: streaming intake, hashing,
// scanning, tag stripping and the database commit.
package ingest

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"github.com/abdul-hamid-achik/safe/internal/apperror"
	"github.com/abdul-hamid-achik/safe/internal/chunks"
	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/ids"
	"github.com/abdul-hamid-achik/safe/internal/logger"
	"github.com/abdul-hamid-achik/safe/internal/metrics"
	"github.com/abdul-hamid-achik/safe/internal/paths"
	"github.com/abdul-hamid-achik/safe/internal/retention"
	"github.com/abdul-hamid-achik/safe/internal/scanner"
)

// Engine wires the ingestion pipeline together. One Engine serves the
// whole process; per-request state lives in Request.
type Engine struct {
	Paths     *paths.Paths
	IDs       *ids.Store
	Queries   *db.Queries
	Writer    *db.Writer
	Scanner   *scanner.Scanner
	Chunks    *chunks.Coordinator
	Retention *retention.Resolver

	MaxSize            int64
	FilterEmptyFile    bool
	HashFiles          bool
	StripAllowed       bool
	Filter             *Filter
	URLFilter          *Filter
	URLMaxSize         int64
	URLFetchTimeout    time.Duration
	URLProxy           string
	MaxFilesPerUpload  int
	MaxFieldsPerUpload int
	IDLength           int
	IDLengthMin        int
	IDLengthMax        int
	DeriveMissingType  bool
}

// Request is the per-call uploader context.
type Request struct {
	UserID    sql.NullInt64
	Rank      int
	IP        string
	AlbumID   int64
	Age       float64 // requested retention hours; negative = unspecified
	StripTags bool
	IDLength  int // desired identifier length; 0 = server default
}

// FileResult is one entry of the upload response.
type FileResult struct {
	ID       int64
	Name     string
	Original string
	Type     string
	Size     int64
	Hash     string
	Expiry   sql.NullInt64
	Repeated bool
}

type stagedUpload struct {
	file db.StagedFile
	scan *scanner.Result // verdict collected in-line; nil means not scanned yet
}

// effectiveAge validates the requested retention age against the caller's
// group. Negative means unspecified and resolves to the group default.
func (e *Engine) effectiveAge(rank int, requested float64) (float64, error) {
	if e.Retention == nil {
		return 0, nil
	}
	if requested < 0 {
		return e.Retention.DefaultFor(rank), nil
	}
	if requested == 0 || e.Retention.Allowed(rank, requested) {
		return requested, nil
	}
	return 0, apperror.New("Invalid file age", 0)
}

func (e *Engine) identifierLength(requested int) int {
	if requested >= e.IDLengthMin && requested <= e.IDLengthMax {
		return requested
	}
	return e.IDLength
}

func (e *Engine) nameCheck() ids.CheckFunc {
	return func(ctx context.Context, identifier string) (bool, error) {
		return e.Queries.FileNameTaken(ctx, identifier)
	}
}

// ProcessMultipart consumes a multipart stream. Non-file fields must
// precede file fields because chunk-mode selection reads uuid from them.
// When the request carries chunks it returns chunked=true with no results;
// the files materialize later through FinishChunks.
func (e *Engine) ProcessMultipart(ctx context.Context, req Request, mr *multipart.Reader) (results []FileResult, chunked bool, err error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	fields := make(map[string]string)
	var staged []stagedUpload
	var releases []func()
	defer func() {
		// Identifier reservations release when the request completes,
		// whether or not the rows were inserted.
		for _, r := range releases {
			r()
		}
	}()
	defer func() {
		if err != nil {
			e.removeStaged(staged)
		}
	}()

	age, err := e.effectiveAge(req.Rank, req.Age)
	if err != nil {
		return nil, false, err
	}

	files := 0
	for {
		part, perr := mr.NextPart()
		if perr == io.EOF {
			break
		}
		if perr != nil {
			return nil, false, apperror.Wrap(perr, apperror.ErrBadRequest)
		}

		if part.FileName() == "" {
			if len(fields) >= e.MaxFieldsPerUpload {
				_ = part.Close()
				return nil, false, apperror.New("Too many fields", 0)
			}
			value, rerr := io.ReadAll(io.LimitReader(part, 1024))
			_ = part.Close()
			if rerr != nil {
				return nil, false, apperror.Wrap(rerr, apperror.ErrBadRequest)
			}
			name := strings.ToLower(part.FormName())
			// Dropzone prefixes its auxiliary fields with "dz".
			name = strings.TrimPrefix(name, "dz")
			fields[name] = string(value)
			continue
		}

		files++
		if files > e.MaxFilesPerUpload {
			_ = part.Close()
			return nil, false, apperror.New(fmt.Sprintf("Maximum %d files per upload", e.MaxFilesPerUpload), 0)
		}

		if uuid := fields["uuid"]; uuid != "" {
			key := chunks.Key(req.IP, uuid)
			if _, aerr := e.Chunks.Append(ctx, key, part); aerr != nil {
				_ = part.Close()
				if errors.Is(aerr, chunks.ErrSerializationConflict) {
					return nil, false, apperror.New("Parallel chunk upload detected", 409)
				}
				return nil, false, apperror.Wrap(aerr, apperror.ErrInternal)
			}
			_ = part.Close()
			chunked = true
			continue
		}

		su, release, serr := e.stageStream(ctx, req, age, part.FileName(), part.Header.Get("Content-Type"), part)
		_ = part.Close()
		if release != nil {
			releases = append(releases, release)
		}
		if serr != nil {
			return nil, false, serr
		}
		staged = append(staged, su)
	}

	if chunked {
		return nil, true, nil
	}
	if len(staged) == 0 {
		return nil, false, apperror.New("No files", 0)
	}

	results, err = e.finalizeBatch(ctx, req, staged)
	if err != nil {
		metrics.RecordUpload("multipart", "error", 0, 0)
		return nil, false, err
	}
	for _, r := range results {
		metrics.RecordUpload("multipart", "success", r.Size, time.Since(start).Seconds())
	}
	log.Info("upload committed", "files", len(results), "duration_ms", time.Since(start).Milliseconds())
	return results, false, nil
}

// stageStream writes one incoming file to its committed location while
// hashing and, when the scanner supports it, scanning in-line. The writer
// and the scanner each contribute one unit to a weighted join; the stage
// resolves at two units (one when scanning is off).
func (e *Engine) stageStream(ctx context.Context, req Request, age float64, filename, declaredType string, r io.Reader) (stagedUpload, func(), error) {
	ext := Extname(filename)
	if !e.Filter.Allowed(ext) {
		return stagedUpload{}, nil, apperror.ErrExtensionBlocked
	}

	ident, release, err := e.IDs.Allocate(ctx, e.identifierLength(req.IDLength), e.nameCheck())
	if err != nil {
		if errors.Is(err, ids.ErrExhausted) {
			return stagedUpload{}, nil, apperror.Wrap(err, apperror.ErrIdentifierExhausted)
		}
		return stagedUpload{}, nil, apperror.Wrap(err, apperror.ErrInternal)
	}

	name := ident + ext
	dest := e.Paths.File(name)

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return stagedUpload{}, release, apperror.Wrap(err, apperror.ErrInternal)
	}

	var hasher *blake3.Hasher
	writers := []io.Writer{f}
	if e.HashFiles {
		hasher = blake3.New(32, nil)
		writers = append(writers, hasher)
	}

	// Passthrough scanning only when no size cap forces a post-hoc
	// decision; the choice is made once per ingest.
	var pass *scanner.Passthrough
	usePassthrough := e.Scanner.Enabled() && e.Scanner.MaxSize == 0 &&
		!e.Scanner.ShouldBypass(req.Rank, ext, 0)
	if usePassthrough {
		pass = e.Scanner.NewPassthrough(ctx)
		writers = append(writers, pass)
	}

	target := 1
	if pass != nil {
		target = 2
	}
	j := newJoin(target)

	var scanRes scanner.Result
	if pass != nil {
		go func() {
			res, serr := pass.Result(ctx)
			if serr != nil {
				j.fail(apperror.Wrap(serr, apperror.ErrScannerUnavailable))
				return
			}
			scanRes = res
			j.add()
		}()
	}

	fail := func(ferr error) (stagedUpload, func(), error) {
		_ = f.Close()
		_ = os.Remove(dest)
		if pass != nil {
			pass.Abort(ferr)
		}
		return stagedUpload{}, release, ferr
	}

	written, err := io.Copy(io.MultiWriter(writers...), io.LimitReader(r, e.MaxSize+1))
	if err != nil {
		return fail(apperror.Wrap(err, apperror.ErrInternal))
	}
	if written > e.MaxSize {
		return fail(apperror.ErrFileTooLarge)
	}
	if written == 0 && e.FilterEmptyFile {
		return fail(apperror.ErrEmptyFile)
	}
	if err := f.Close(); err != nil {
		return fail(apperror.Wrap(err, apperror.ErrInternal))
	}
	if pass != nil {
		_ = pass.Close()
	}
	j.add() // writer finished

	if err := j.wait(ctx); err != nil {
		_ = os.Remove(dest)
		if appErr, ok := apperror.As(err); ok {
			return stagedUpload{}, release, appErr
		}
		return stagedUpload{}, release, apperror.Wrap(err, apperror.ErrInternal)
	}

	fileType := declaredType
	if fileType == "" {
		fileType = e.contentType(ext)
	}
	su := stagedUpload{
		file: db.StagedFile{
			Name:     name,
			Original: filename,
			Type:     fileType,
			Size:     written,
			Path:     dest,
			AlbumID:  req.AlbumID,
			Age:      age,
		},
	}
	if hasher != nil {
		su.file.Hash = hex.EncodeToString(hasher.Sum(nil))
	}
	if pass != nil {
		res := scanRes
		su.scan = &res
		metrics.RecordScanVerdict(res.Verdict.String())
	}
	return su, release, nil
}

func (e *Engine) contentType(ext string) string {
	if e.DeriveMissingType {
		return MIMEByExtension(ext)
	}
	return "application/octet-stream"
}

// finalizeBatch runs the scanner gate, tag stripping and the commit for a
// set of staged files. On failure every staged file is unlinked.
func (e *Engine) finalizeBatch(ctx context.Context, req Request, staged []stagedUpload) ([]FileResult, error) {
	if err := e.scanGate(ctx, req, staged); err != nil {
		e.removeStaged(staged)
		return nil, err
	}

	if req.StripTags && e.StripAllowed {
		for i := range staged {
			if err := StripTags(staged[i].file.Path); err != nil {
				e.removeStaged(staged)
				return nil, apperror.Wrap(err, apperror.ErrStripTagsFailed)
			}
			// Re-stat and re-hash: stripping rewrites the bytes.
			if err := e.restage(&staged[i]); err != nil {
				e.removeStaged(staged)
				return nil, apperror.Wrap(err, apperror.ErrStripTagsFailed)
			}
		}
	}

	files := make([]db.StagedFile, len(staged))
	for i, su := range staged {
		files[i] = su.file
	}
	stored, err := e.Writer.Store(ctx, files, req.UserID, req.IP)
	if err != nil {
		e.removeStaged(staged)
		return nil, apperror.Wrap(err, apperror.ErrInternal)
	}

	results := make([]FileResult, len(stored))
	for i, s := range stored {
		results[i] = FileResult{
			ID:       s.File.ID,
			Name:     s.File.Name,
			Original: s.File.Original,
			Type:     s.File.Type,
			Size:     s.File.Size,
			Hash:     s.File.Hash,
			Expiry:   s.File.ExpiryDate,
			Repeated: s.Repeated,
		}
		if s.Repeated {
			metrics.DuplicatesTotal.Inc()
		}
	}
	return results, nil
}

// restage refreshes size and hash after an in-place rewrite.
func (e *Engine) restage(su *stagedUpload) error {
	st, err := os.Stat(su.file.Path)
	if err != nil {
		return err
	}
	su.file.Size = st.Size()
	if e.HashFiles {
		f, err := os.Open(su.file.Path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		h := blake3.New(32, nil)
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		su.file.Hash = hex.EncodeToString(h.Sum(nil))
	}
	return nil
}

// scanGate enforces the per-request scanner verdict: collected passthrough
// results plus post-hoc scans for files that streamed without one.
func (e *Engine) scanGate(ctx context.Context, req Request, staged []stagedUpload) error {
	if !e.Scanner.Enabled() {
		return nil
	}
	results := make(map[string]scanner.Result, len(staged))
	for i := range staged {
		su := &staged[i]
		if su.scan != nil {
			results[su.file.Name] = *su.scan
			continue
		}
		if e.Scanner.ShouldBypass(req.Rank, Extname(su.file.Name), su.file.Size) {
			continue
		}
		res, err := e.Scanner.ScanPath(ctx, su.file.Path)
		if err != nil {
			return apperror.Wrap(err, apperror.ErrScannerUnavailable)
		}
		metrics.RecordScanVerdict(res.Verdict.String())
		results[su.file.Name] = res
	}
	if msg, bad := scanner.Summarize(results); bad {
		return apperror.New(msg, 403)
	}
	return nil
}

func (e *Engine) removeStaged(staged []stagedUpload) {
	for _, su := range staged {
		if su.file.Path != "" {
			_ = os.Remove(su.file.Path)
		}
	}
}
