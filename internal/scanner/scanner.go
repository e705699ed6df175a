// Package scanner submits files to a ClamAV daemon over its TCP INSTREAM
// protocol and classifies the verdicts.
package scanner

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

type Verdict int

const (
	Clean Verdict = iota
	Infected
	Unknown
)

func (v Verdict) String() string {
	switch v {
	case Clean:
		return "clean"
	case Infected:
		return "infected"
	default:
		return "unknown"
	}
}

// Result is one file's scan outcome.
type Result struct {
	Verdict Verdict
	Viruses []string
}

// Scanner talks to clamd. The zero Addr disables scanning entirely.
type Scanner struct {
	Addr       string
	Timeout    time.Duration
	BypassRank int
	Whitelist  map[string]bool // extensions exempt from scanning
	MaxSize    int64           // files larger than this skip scanning; 0 = no limit
}

func New(addr string, bypassRank int, whitelistExts []string, maxSize int64) *Scanner {
	wl := make(map[string]bool, len(whitelistExts))
	for _, ext := range whitelistExts {
		wl[strings.ToLower(ext)] = true
	}
	return &Scanner{
		Addr:       addr,
		Timeout:    30 * time.Second,
		BypassRank: bypassRank,
		Whitelist:  wl,
		MaxSize:    maxSize,
	}
}

func (s *Scanner) Enabled() bool {
	return s != nil && s.Addr != ""
}

// ShouldBypass applies the bypass policy: group rank at or above the
// configured threshold, whitelisted extension, or size above the scan cap.
func (s *Scanner) ShouldBypass(rank int, ext string, size int64) bool {
	if !s.Enabled() {
		return true
	}
	if s.BypassRank > 0 && rank >= s.BypassRank {
		return true
	}
	if s.Whitelist[strings.ToLower(ext)] {
		return true
	}
	if s.MaxSize > 0 && size > s.MaxSize {
		return true
	}
	return false
}

// ScanPath streams the file at path to clamd.
func (s *Scanner) ScanPath(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{Verdict: Unknown}, fmt.Errorf("failed to open %s for scanning: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return s.ScanStream(ctx, f)
}

// ScanStream feeds r to clamd's INSTREAM command and parses the verdict.
func (s *Scanner) ScanStream(ctx context.Context, r io.Reader) (Result, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return Result{Verdict: Unknown}, fmt.Errorf("failed to reach clamd: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if s.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.Timeout))
	}

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return Result{Verdict: Unknown}, fmt.Errorf("failed to start INSTREAM: %w", err)
	}

	buf := make([]byte, 32*1024)
	size := make([]byte, 4)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			binary.BigEndian.PutUint32(size, uint32(n))
			if _, err := conn.Write(size); err != nil {
				return Result{Verdict: Unknown}, err
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return Result{Verdict: Unknown}, err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return Result{Verdict: Unknown}, rerr
		}
	}
	binary.BigEndian.PutUint32(size, 0)
	if _, err := conn.Write(size); err != nil {
		return Result{Verdict: Unknown}, err
	}

	reply, err := io.ReadAll(conn)
	if err != nil {
		return Result{Verdict: Unknown}, fmt.Errorf("failed to read clamd reply: %w", err)
	}
	return parseReply(string(reply)), nil
}

// Ping checks daemon liveness.
func (s *Scanner) Ping(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte("zPING\x00")); err != nil {
		return err
	}
	reply, err := io.ReadAll(conn)
	if err != nil {
		return err
	}
	if !strings.Contains(string(reply), "PONG") {
		return fmt.Errorf("unexpected clamd reply: %q", reply)
	}
	return nil
}

func parseReply(reply string) Result {
	reply = strings.TrimRight(strings.TrimSpace(reply), "\x00")
	switch {
	case strings.HasSuffix(reply, "OK"):
		return Result{Verdict: Clean}
	case strings.HasSuffix(reply, "FOUND"):
		body := strings.TrimSuffix(reply, " FOUND")
		if i := strings.LastIndex(body, ": "); i >= 0 {
			body = body[i+2:]
		}
		return Result{Verdict: Infected, Viruses: []string{body}}
	default:
		return Result{Verdict: Unknown}
	}
}

// Summarize aggregates per-file results into the request-level outcome.
// Any infection names the first threat with an ", and more" suffix when
// several files were flagged; otherwise any unscannable file fails the
// request. The second return is false when all files were clean.
func Summarize(results map[string]Result) (string, bool) {
	var threats []string
	unknown := 0
	for _, r := range results {
		switch r.Verdict {
		case Infected:
			if len(r.Viruses) > 0 {
				threats = append(threats, r.Viruses[0])
			} else {
				threats = append(threats, "malware")
			}
		case Unknown:
			unknown++
		}
	}
	if len(threats) > 0 {
		msg := "Threat found: " + threats[0]
		if len(threats) > 1 || unknown > 0 {
			msg += ", and more"
		}
		return msg, true
	}
	if unknown > 0 {
		return "Unable to scan file", true
	}
	return "", false
}
