package scanner

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		verdict Verdict
		viruses []string
	}{
		{"clean", "stream: OK\x00", Clean, nil},
		{"infected", "stream: Eicar-Test-Signature FOUND\x00", Infected, []string{"Eicar-Test-Signature"}},
		{"error reply", "INSTREAM size limit exceeded. ERROR\x00", Unknown, nil},
		{"garbage", "whatever", Unknown, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := parseReply(tt.reply)
			if res.Verdict != tt.verdict {
				t.Errorf("Verdict = %v, want %v", res.Verdict, tt.verdict)
			}
			if len(tt.viruses) > 0 {
				if len(res.Viruses) == 0 || res.Viruses[0] != tt.viruses[0] {
					t.Errorf("Viruses = %v, want %v", res.Viruses, tt.viruses)
				}
			}
		})
	}
}

func TestShouldBypass(t *testing.T) {
	s := New("localhost:3310", 64, []string{".txt"}, 1024)

	tests := []struct {
		name string
		rank int
		ext  string
		size int64
		want bool
	}{
		{"regular file scanned", 0, ".bin", 100, false},
		{"rank at threshold bypasses", 64, ".bin", 100, true},
		{"whitelisted extension bypasses", 0, ".txt", 100, true},
		{"oversize bypasses", 0, ".bin", 4096, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.ShouldBypass(tt.rank, tt.ext, tt.size); got != tt.want {
				t.Errorf("ShouldBypass() = %v, want %v", got, tt.want)
			}
		})
	}

	var disabled *Scanner
	if !disabled.ShouldBypass(0, ".bin", 1) {
		t.Error("nil scanner must bypass")
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]Result
		wantMsg string
		wantBad bool
	}{
		{
			"all clean",
			map[string]Result{"a": {Verdict: Clean}, "b": {Verdict: Clean}},
			"", false,
		},
		{
			"one infection names the threat",
			map[string]Result{"a": {Verdict: Infected, Viruses: []string{"Eicar"}}},
			"Threat found: Eicar", true,
		},
		{
			"several flagged adds suffix",
			map[string]Result{
				"a": {Verdict: Infected, Viruses: []string{"Eicar"}},
				"b": {Verdict: Unknown},
			},
			", and more", true,
		},
		{
			"unknown without infection",
			map[string]Result{"a": {Verdict: Unknown}},
			"Unable to scan", true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, bad := Summarize(tt.results)
			if bad != tt.wantBad {
				t.Fatalf("bad = %v, want %v", bad, tt.wantBad)
			}
			if tt.wantMsg != "" && !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("msg = %q, want containing %q", msg, tt.wantMsg)
			}
		})
	}
}

// fakeClamd speaks just enough INSTREAM to answer one session.
func fakeClamd(t *testing.T, reply string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		// Command terminated by NUL.
		buf := make([]byte, 1)
		var cmd []byte
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
			if buf[0] == 0 {
				break
			}
			cmd = append(cmd, buf[0])
		}
		if string(cmd) != "zINSTREAM" {
			return
		}
		// Drain length-prefixed chunks until the zero terminator.
		size := make([]byte, 4)
		for {
			if _, err := io.ReadFull(conn, size); err != nil {
				return
			}
			n := binary.BigEndian.Uint32(size)
			if n == 0 {
				break
			}
			if _, err := io.CopyN(io.Discard, conn, int64(n)); err != nil {
				return
			}
		}
		_, _ = conn.Write([]byte(reply))
	}()

	return ln.Addr().String()
}

func TestScanStream(t *testing.T) {
	t.Run("clean verdict", func(t *testing.T) {
		addr := fakeClamd(t, "stream: OK\x00")
		s := New(addr, 0, nil, 0)
		s.Timeout = 5 * time.Second
		res, err := s.ScanStream(context.Background(), strings.NewReader("some bytes"))
		if err != nil {
			t.Fatalf("ScanStream() error = %v", err)
		}
		if res.Verdict != Clean {
			t.Errorf("Verdict = %v, want Clean", res.Verdict)
		}
	})

	t.Run("infected verdict", func(t *testing.T) {
		addr := fakeClamd(t, "stream: Eicar-Test-Signature FOUND\x00")
		s := New(addr, 0, nil, 0)
		s.Timeout = 5 * time.Second
		res, err := s.ScanStream(context.Background(), strings.NewReader("virus!"))
		if err != nil {
			t.Fatalf("ScanStream() error = %v", err)
		}
		if res.Verdict != Infected || len(res.Viruses) != 1 {
			t.Errorf("result = %+v, want one infection", res)
		}
	})

	t.Run("unreachable daemon errors", func(t *testing.T) {
		s := New("127.0.0.1:1", 0, nil, 0)
		s.Timeout = time.Second
		if _, err := s.ScanStream(context.Background(), strings.NewReader("x")); err == nil {
			t.Error("ScanStream() = nil error, want failure")
		}
	})
}

func TestPassthrough(t *testing.T) {
	addr := fakeClamd(t, "stream: OK\x00")
	s := New(addr, 0, nil, 0)
	s.Timeout = 5 * time.Second

	p := s.NewPassthrough(context.Background())
	if _, err := p.Write([]byte("streamed upload bytes")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	res, err := p.Result(context.Background())
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if res.Verdict != Clean {
		t.Errorf("Verdict = %v, want Clean", res.Verdict)
	}
}
