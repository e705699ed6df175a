package ingest

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"github.com/abdul-hamid-achik/safe/internal/apperror"
	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/ids"
	"github.com/abdul-hamid-achik/safe/internal/metrics"
)

// ProcessURLs downloads each remote URL into the upload pipeline. The
// whole fetch (HEAD plus GET) shares one timeout budget: upstream proxies
// evict idle sockets, so the budget is deliberately short and the HEAD's
// cost comes out of the GET's allowance via the shared deadline.
func (e *Engine) ProcessURLs(ctx context.Context, req Request, urls []string) ([]FileResult, error) {
	if len(urls) == 0 {
		return nil, apperror.New("No URLs", 0)
	}
	if len(urls) > e.MaxFilesPerUpload {
		return nil, apperror.New(fmt.Sprintf("Maximum %d URLs per upload", e.MaxFilesPerUpload), 0)
	}

	age, err := e.effectiveAge(req.Rank, req.Age)
	if err != nil {
		return nil, err
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

	start := time.Now()
	for _, raw := range urls {
		su, release, ferr := e.fetchURL(ctx, req, age, raw)
		if release != nil {
			releases = append(releases, release)
		}
		if ferr != nil {
			return fail(ferr)
		}
		staged = append(staged, su)
	}

	results, err := e.finalizeBatch(ctx, req, staged)
	if err != nil {
		metrics.RecordUpload("url", "error", 0, 0)
		return nil, err
	}
	for _, r := range results {
		metrics.RecordUpload("url", "success", r.Size, time.Since(start).Seconds())
	}
	return results, nil
}

func (e *Engine) fetchURL(ctx context.Context, req Request, age float64, raw string) (stagedUpload, func(), error) {
	target := raw
	if e.URLProxy != "" {
		target = strings.ReplaceAll(e.URLProxy, "{url}", url.QueryEscape(raw))
	}
	if _, err := url.ParseRequestURI(target); err != nil {
		return stagedUpload{}, nil, apperror.New("Invalid URL", 0)
	}

	// One deadline spans HEAD and GET; the single cancel is the shared
	// abort handle for both requests.
	fctx, cancel := context.WithTimeout(ctx, e.URLFetchTimeout)
	defer cancel()

	head, err := http.NewRequestWithContext(fctx, http.MethodHead, target, nil)
	if err != nil {
		return stagedUpload{}, nil, apperror.Wrap(err, apperror.ErrBadRequest)
	}
	if resp, err := http.DefaultClient.Do(head); err == nil {
		if resp.ContentLength > 0 && resp.ContentLength > e.URLMaxSize {
			_ = resp.Body.Close()
			return stagedUpload{}, nil, apperror.ErrFileTooLarge
		}
		_ = resp.Body.Close()
	}

	get, err := http.NewRequestWithContext(fctx, http.MethodGet, target, nil)
	if err != nil {
		return stagedUpload{}, nil, apperror.Wrap(err, apperror.ErrBadRequest)
	}
	resp, err := http.DefaultClient.Do(get)
	if err != nil {
		return stagedUpload{}, nil, apperror.WrapWithMessage(err, "fetch_failed", "Failed to fetch URL", 400)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return stagedUpload{}, nil, apperror.New(fmt.Sprintf("URL returned status %d", resp.StatusCode), 0)
	}

	ident, release, err := e.IDs.Allocate(ctx, e.identifierLength(req.IDLength), e.nameCheck())
	if err != nil {
		if errors.Is(err, ids.ErrExhausted) {
			return stagedUpload{}, nil, apperror.Wrap(err, apperror.ErrIdentifierExhausted)
		}
		return stagedUpload{}, nil, apperror.Wrap(err, apperror.ErrInternal)
	}

	tmp := e.Paths.File(ident + ".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return stagedUpload{}, release, apperror.Wrap(err, apperror.ErrInternal)
	}

	var hasher *blake3.Hasher
	var w io.Writer = f
	if e.HashFiles {
		hasher = blake3.New(32, nil)
		w = io.MultiWriter(f, hasher)
	}

	written, err := io.Copy(w, io.LimitReader(resp.Body, e.URLMaxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return stagedUpload{}, release, apperror.WrapWithMessage(err, "fetch_failed", "Failed to fetch URL", 400)
	}
	// The cap is re-checked against actual bytes: Content-Length may have
	// been absent or lying.
	if written > e.URLMaxSize {
		_ = os.Remove(tmp)
		return stagedUpload{}, release, apperror.ErrFileTooLarge
	}
	if written == 0 && e.FilterEmptyFile {
		_ = os.Remove(tmp)
		return stagedUpload{}, release, apperror.ErrEmptyFile
	}

	original := remoteFilename(resp, raw)
	ext := Extname(original)
	filter := e.URLFilter
	if filter == nil || len(filter.Exts) == 0 {
		filter = e.Filter
	}
	if !filter.Allowed(ext) {
		_ = os.Remove(tmp)
		return stagedUpload{}, release, apperror.ErrExtensionBlocked
	}

	name := ident + ext
	dest := e.Paths.File(name)
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return stagedUpload{}, release, apperror.Wrap(err, apperror.ErrInternal)
	}

	su := stagedUpload{
		file: db.StagedFile{
			Name:     name,
			Original: original,
			Type:     responseType(resp, ext, e.DeriveMissingType),
			Size:     written,
			Path:     dest,
			AlbumID:  req.AlbumID,
			Age:      age,
		},
	}
	if hasher != nil {
		su.file.Hash = hex.EncodeToString(hasher.Sum(nil))
	}
	return su, release, nil
}

// remoteFilename derives the original name from Content-Disposition,
// falling back to the URL path.
func remoteFilename(resp *http.Response, raw string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if fn := params["filename"]; fn != "" {
				return path.Base(fn)
			}
		}
	}
	if u, err := url.Parse(raw); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return "download"
}

func responseType(resp *http.Response, ext string, derive bool) string {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if i := strings.Index(ct, ";"); i >= 0 {
			ct = ct[:i]
		}
		if ct = strings.TrimSpace(ct); ct != "" {
			return ct
		}
	}
	if derive {
		return MIMEByExtension(ext)
	}
	return "application/octet-stream"
}
