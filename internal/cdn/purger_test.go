package cdn

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type purgeCall struct {
	files []string
	auth  string
}

func fakeCloudflare(t *testing.T) (*httptest.Server, *[]purgeCall, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	var calls []purgeCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Files []string `json:"files"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls = append(calls, purgeCall{files: body.Files, auth: r.Header.Get("Authorization")})
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &mu
}

func waitCalls(t *testing.T, calls *[]purgeCall, mu *sync.Mutex, want int) []purgeCall {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(*calls)
		got := append([]purgeCall{}, *calls...)
		mu.Unlock()
		if n >= want {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d purge calls", want)
	return nil
}

func TestPurgerEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"token auth", Config{ZoneID: "z", APIToken: "t"}, true},
		{"service key auth", Config{ZoneID: "z", UserServiceKey: "k"}, true},
		{"key+email auth", Config{ZoneID: "z", APIKey: "k", Email: "e@x"}, true},
		{"key without email", Config{ZoneID: "z", APIKey: "k"}, false},
		{"no zone", Config{APIToken: "t"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPurger(tt.cfg)
			defer p.Shutdown()
			if got := p.Enabled(); got != tt.want {
				t.Errorf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPurgerEnqueue(t *testing.T) {
	srv, calls, mu := fakeCloudflare(t)

	p := NewPurger(Config{
		ZoneID:   "zone1",
		APIToken: "secret",
		BaseURL:  "https://files.example.com",
		APIBase:  srv.URL,
	})
	defer p.Shutdown()

	p.EnqueueNames([]string{"a.png", "b.png"})
	got := waitCalls(t, calls, mu, 1)

	if got[0].auth != "Bearer secret" {
		t.Errorf("auth = %q, want bearer token", got[0].auth)
	}
	if len(got[0].files) != 2 || got[0].files[0] != "https://files.example.com/a.png" {
		t.Errorf("files = %v", got[0].files)
	}
}

func TestPurgerChunking(t *testing.T) {
	srv, calls, mu := fakeCloudflare(t)

	p := NewPurger(Config{
		ZoneID:   "zone1",
		APIToken: "secret",
		BaseURL:  "https://files.example.com",
		APIBase:  srv.URL,
	})
	defer p.Shutdown()

	// 35 names must split into a 30-URL call and a 5-URL call.
	names := make([]string, 35)
	for i := range names {
		names[i] = "f" + string(rune('a'+i%26)) + ".png"
	}
	p.EnqueueNames(names)

	got := waitCalls(t, calls, mu, 2)
	if len(got[0].files) != 30 || len(got[1].files) != 5 {
		t.Errorf("chunk sizes = %d, %d, want 30, 5", len(got[0].files), len(got[1].files))
	}
}
