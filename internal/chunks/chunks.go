// Package chunks coordinates multi-request chunked uploads. Each client
// UUID owns one session backed by a single append-only temp file; chunk
// writes are strictly serialized and idle sessions expire.
package chunks

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"github.com/abdul-hamid-achik/safe/internal/metrics"
	"github.com/abdul-hamid-achik/safe/internal/paths"
)

var (
	// ErrSerializationConflict rejects a chunk that arrived while another
	// chunk for the same UUID was still being written.
	ErrSerializationConflict = errors.New("chunks: parallel chunk upload for the same uuid")
	ErrNotFound              = errors.New("chunks: no such session")
	ErrInvalidChunkCount     = errors.New("chunks: invalid chunks count")
	ErrSizeMismatch          = errors.New("chunks: file size mismatch")
	ErrTooLarge              = errors.New("chunks: file exceeds maximum size")
)

// Key namespaces a client-supplied UUID with the client IP so two clients
// sharing a UUID cannot collide.
func Key(ip, uuid string) string {
	return ip + "_" + uuid
}

type session struct {
	root       string
	tmpPath    string
	file       *os.File
	hasher     *blake3.Hasher
	chunks     int
	written    int64
	processing bool
	timer      *time.Timer
}

// Coordinator owns the process-wide session table.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*session

	paths     *paths.Paths
	timeout   time.Duration
	maxChunks int
	maxSize   int64
	hash      bool
}

func NewCoordinator(p *paths.Paths, timeout time.Duration, maxChunks int, maxSize int64, hash bool) *Coordinator {
	return &Coordinator{
		sessions:  make(map[string]*session),
		paths:     p,
		timeout:   timeout,
		maxChunks: maxChunks,
		maxSize:   maxSize,
		hash:      hash,
	}
}

// Append streams one chunk into the session's temp file, creating the
// session on first use. Chunks for one UUID are serialized end-to-end: a
// concurrent Append observes processing=true and is rejected rather than
// queued.
func (c *Coordinator) Append(ctx context.Context, key string, r io.Reader) (int64, error) {
	c.mu.Lock()
	s, ok := c.sessions[key]
	if !ok {
		root := c.paths.ChunkDir(key)
		if err := os.MkdirAll(root, 0o755); err != nil {
			c.mu.Unlock()
			return 0, fmt.Errorf("failed to create chunk directory: %w", err)
		}
		tmpPath := filepath.Join(root, "tmp")
		f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			c.mu.Unlock()
			_ = os.RemoveAll(root)
			return 0, fmt.Errorf("failed to open chunk writer: %w", err)
		}
		s = &session{root: root, tmpPath: tmpPath, file: f}
		if c.hash {
			s.hasher = blake3.New(32, nil)
		}
		c.sessions[key] = s
		metrics.ChunkSessionsActive.Inc()
	}
	if s.processing {
		c.mu.Unlock()
		return 0, ErrSerializationConflict
	}
	s.processing = true
	if s.timer != nil {
		s.timer.Stop()
	}
	c.mu.Unlock()

	var w io.Writer = s.file
	if s.hasher != nil {
		w = io.MultiWriter(s.file, s.hasher)
	}
	n, err := io.Copy(w, r)

	c.mu.Lock()
	defer c.mu.Unlock()
	s.processing = false
	if err != nil {
		c.destroyLocked(key, s)
		return n, fmt.Errorf("failed to write chunk: %w", err)
	}
	if ctx.Err() != nil {
		c.destroyLocked(key, s)
		return n, ctx.Err()
	}
	s.chunks++
	s.written += n
	s.timer = time.AfterFunc(c.timeout, func() { _ = c.Cleanup(key) })
	metrics.ChunksWrittenTotal.Inc()
	return n, nil
}

// FinalizeInfo reports the committed file's size and content hash.
type FinalizeInfo struct {
	Size int64
	Hash string
}

// Finalize closes the session and moves the assembled file to dest.
// expectedSize < 0 skips the client-size assertion. An unknown key
// (ErrNotFound) or a chunk still being written (ErrSerializationConflict)
// leaves the session untouched; once Finalize claims the session, it and
// its directory are gone afterwards whatever the outcome.
func (c *Coordinator) Finalize(ctx context.Context, key string, expectedSize int64, dest string) (FinalizeInfo, error) {
	c.mu.Lock()
	s, ok := c.sessions[key]
	if !ok {
		c.mu.Unlock()
		return FinalizeInfo{}, ErrNotFound
	}
	if s.processing {
		c.mu.Unlock()
		return FinalizeInfo{}, ErrSerializationConflict
	}
	// Claim the session; no further chunks may land.
	s.processing = true
	if s.timer != nil {
		s.timer.Stop()
	}
	c.mu.Unlock()

	fail := func(err error) (FinalizeInfo, error) {
		c.mu.Lock()
		c.destroyLocked(key, s)
		c.mu.Unlock()
		return FinalizeInfo{}, err
	}

	if s.chunks < 2 || s.chunks > c.maxChunks {
		return fail(ErrInvalidChunkCount)
	}
	if err := s.file.Close(); err != nil {
		return fail(fmt.Errorf("failed to close chunk writer: %w", err))
	}
	s.file = nil

	st, err := os.Stat(s.tmpPath)
	if err != nil {
		return fail(fmt.Errorf("failed to stat assembled file: %w", err))
	}
	if expectedSize >= 0 && st.Size() != expectedSize {
		return fail(ErrSizeMismatch)
	}
	if st.Size() > c.maxSize {
		return fail(ErrTooLarge)
	}

	if err := moveFile(s.tmpPath, dest); err != nil {
		return fail(fmt.Errorf("failed to move assembled file: %w", err))
	}

	info := FinalizeInfo{Size: st.Size()}
	if s.hasher != nil {
		info.Hash = hex.EncodeToString(s.hasher.Sum(nil))
	}

	c.mu.Lock()
	delete(c.sessions, key)
	c.mu.Unlock()
	metrics.ChunkSessionsActive.Dec()
	_ = os.RemoveAll(s.root)
	return info, nil
}

// Cleanup discards a session from any state: writer, hasher, directory and
// table entry. Safe to call for unknown keys.
func (c *Coordinator) Cleanup(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[key]
	if !ok {
		return nil
	}
	c.destroyLocked(key, s)
	return nil
}

// destroyLocked requires c.mu held.
func (c *Coordinator) destroyLocked(key string, s *session) {
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	s.hasher = nil
	if _, ok := c.sessions[key]; ok {
		delete(c.sessions, key)
		metrics.ChunkSessionsActive.Dec()
	}
	_ = os.RemoveAll(s.root)
}

// Len reports the number of live sessions.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Chunks reports the accepted chunk count for a session, 0 if absent.
func (c *Coordinator) Chunks(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[key]; ok {
		return s.chunks
	}
	return 0
}

// CleanupAll discards every live session; used on shutdown.
func (c *Coordinator) CleanupAll() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.sessions))
	for k := range c.sessions {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	for _, k := range keys {
		_ = c.Cleanup(k)
	}
}

// moveFile renames src to dest, falling back to copy-then-remove across
// filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
