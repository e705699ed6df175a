package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWrap(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := Wrap(cause, ErrInternal)

	if wrapped.Code != ErrInternal.Code {
		t.Errorf("Code = %q, want %q", wrapped.Code, ErrInternal.Code)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("wrapped error lost its cause")
	}
	// Sentinels are never mutated.
	if ErrInternal.Internal != nil {
		t.Error("Wrap() mutated the sentinel")
	}
	if Wrap(nil, ErrNotFound) != ErrNotFound {
		t.Error("Wrap(nil) must return the sentinel itself")
	}
}

func TestAs(t *testing.T) {
	appErr, ok := As(fmt.Errorf("outer: %w", ErrForbidden))
	if !ok || appErr.StatusCode != http.StatusForbidden {
		t.Errorf("As() = %+v, %v", appErr, ok)
	}
	if _, ok := As(errors.New("plain")); ok {
		t.Error("As() matched a non-app error")
	}
}

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"client error", ErrBadRequest, http.StatusBadRequest, 0},
		{"invalid token carries domain code", ErrInvalidToken, http.StatusForbidden, CodeInvalidToken},
		{"unknown error becomes 500", errors.New("boom"), http.StatusInternalServerError, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			WriteJSON(w, r, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if cc := w.Header().Get("Cache-Control"); cc != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", cc)
			}
			var body ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Success {
				t.Error("success = true on error response")
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", body.Code, tt.wantCode)
			}
			if body.Description == "" {
				t.Error("description empty")
			}
			if tt.name == "unknown error becomes 500" && body.Description == "boom" {
				t.Error("internal error message leaked to the client")
			}
		})
	}
}
