package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdul-hamid-achik/safe/internal/apperror"
	"github.com/abdul-hamid-achik/safe/internal/auth"
	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/logger"
	"github.com/abdul-hamid-achik/safe/internal/metrics"
)

type contextKey string

const userKey contextKey = "user"

// RequestID tags every request with a uuid and a scoped logger.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Recover renders panics as generic 500s instead of killing the conn.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.FromContext(r.Context()).Error("handler panicked", "panic", rec)
				apperror.WriteJSON(w, r, apperror.ErrInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Metrics records request counts and latencies per route pattern.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		status := strconv.Itoa(sr.status)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern, status).Observe(time.Since(start).Seconds())
	})
}

// ClientIP resolves the caller address, honoring X-Forwarded-For only when
// the deployment trusts its proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if i := strings.IndexByte(xff, ','); i >= 0 {
				xff = xff[:i]
			}
			return strings.TrimSpace(xff)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authenticate resolves the token header. With required=false on a
// non-private instance an absent token yields an anonymous request; with
// required=true or cfg.Private an absent token is rejected. An invalid
// token always fails so typos never silently downgrade to anonymous.
func authenticate(cfg *Config, required bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("token")
		if token == "" {
			if required || cfg.Private {
				apperror.WriteJSON(w, r, apperror.ErrInvalidToken)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		user, err := cfg.Auth.ByToken(r.Context(), token)
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = logger.WithUserID(ctx, strconv.FormatInt(user.ID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// CurrentUser returns the authenticated user, if any.
func CurrentUser(ctx context.Context) (db.User, bool) {
	u, ok := ctx.Value(userKey).(db.User)
	return u, ok
}

func isModerator(ctx context.Context) bool {
	u, ok := CurrentUser(ctx)
	return ok && u.Permission >= auth.RankModerator
}
