// Package cdn purges cached file URLs from Cloudflare after deletion.
package cdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/safe/internal/logger"
	"github.com/abdul-hamid-achik/safe/internal/metrics"
)

const (
	chunkSize      = 30
	maxAttempts    = 3
	rateLimitDelay = 60 * time.Second
	errorDelay     = 5 * time.Second
)

// Config selects the zone and one of the supported auth schemes, preferred
// in order: API token, user service key, API key + email.
type Config struct {
	ZoneID         string
	APIToken       string
	UserServiceKey string
	APIKey         string
	Email          string
	BaseURL        string // public domain files are served from
	APIBase        string // override for tests; defaults to the Cloudflare API
}

// Purger is a serial queue (concurrency 1) of purge jobs. Failures are
// logged and never propagate to the deletion that scheduled them.
type Purger struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter

	mu    sync.Mutex
	queue []string
	wake  chan struct{}
	done  chan struct{}
}

func NewPurger(cfg Config) *Purger {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.cloudflare.com/client/v4"
	}
	p := &Purger{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		// Cloudflare allows a generous purge budget; one call per second
		// keeps the queue well inside it.
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Enabled reports whether purging is configured at all.
func (p *Purger) Enabled() bool {
	return p != nil && p.cfg.ZoneID != "" &&
		(p.cfg.APIToken != "" || p.cfg.UserServiceKey != "" || (p.cfg.APIKey != "" && p.cfg.Email != ""))
}

// EnqueueNames schedules purges for public file names (and thumb paths).
func (p *Purger) EnqueueNames(names []string) {
	if !p.Enabled() || len(names) == 0 {
		return
	}
	urls := make([]string, len(names))
	for i, n := range names {
		urls[i] = strings.TrimRight(p.cfg.BaseURL, "/") + "/" + n
	}
	p.mu.Lock()
	p.queue = append(p.queue, urls...)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Shutdown stops the worker; queued purges are abandoned.
func (p *Purger) Shutdown() {
	close(p.done)
}

func (p *Purger) run() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}
		for {
			chunk := p.takeChunk()
			if len(chunk) == 0 {
				break
			}
			p.purgeChunk(chunk)
		}
	}
}

func (p *Purger) takeChunk() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.queue)
	if n == 0 {
		return nil
	}
	if n > chunkSize {
		n = chunkSize
	}
	chunk := p.queue[:n]
	p.queue = p.queue[n:]
	return chunk
}

// purgeChunk retries up to maxAttempts with backoff tuned per error class.
func (p *Purger) purgeChunk(urls []string) {
	log := logger.Default()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		_ = p.limiter.Wait(ctx)
		rateLimited, err := p.purgeOnce(ctx, urls)
		cancel()
		if err == nil {
			metrics.CDNPurgesTotal.WithLabelValues("success").Inc()
			return
		}
		log.Warn("cdn purge failed", "attempt", attempt, "urls", len(urls), "error", err)
		if attempt == maxAttempts {
			break
		}
		delay := errorDelay
		if rateLimited {
			delay = rateLimitDelay
		}
		select {
		case <-time.After(delay):
		case <-p.done:
			return
		}
	}
	metrics.CDNPurgesTotal.WithLabelValues("error").Inc()
}

type purgeResponse struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (p *Purger) purgeOnce(ctx context.Context, urls []string) (rateLimited bool, err error) {
	body, err := json.Marshal(map[string]any{"files": urls})
	if err != nil {
		return false, err
	}
	endpoint := fmt.Sprintf("%s/zones/%s/purge_cache", p.cfg.APIBase, p.cfg.ZoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case p.cfg.APIToken != "":
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIToken)
	case p.cfg.UserServiceKey != "":
		req.Header.Set("X-Auth-User-Service-Key", p.cfg.UserServiceKey)
	default:
		req.Header.Set("X-Auth-Key", p.cfg.APIKey)
		req.Header.Set("X-Auth-Email", p.cfg.Email)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return true, fmt.Errorf("cdn rate limited")
	}
	var parsed purgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("unexpected purge response: %w", err)
	}
	if !parsed.Success {
		if len(parsed.Errors) > 0 {
			return false, fmt.Errorf("purge error %d: %s", parsed.Errors[0].Code, parsed.Errors[0].Message)
		}
		return false, fmt.Errorf("purge rejected with status %d", resp.StatusCode)
	}
	return false, nil
}
