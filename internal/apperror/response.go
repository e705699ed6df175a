package apperror

import (
	"encoding/json"
	"net/http"

	"github.com/abdul-hamid-achik/safe/internal/logger"
)

// ErrorResponse is the wire shape of every failed API call.
type ErrorResponse struct {
	Success     bool   `json:"success"`
	Description string `json:"description"`
	Code        int    `json:"code,omitempty"`
}

// WriteJSON renders err as the canonical failure envelope. Unknown errors
// are logged with their cause and rendered as a generic 500 so internals
// never leak to clients.
func WriteJSON(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	appErr, ok := As(err)
	if !ok {
		appErr = Wrap(err, ErrInternal)
	}

	switch {
	case appErr.Internal != nil && !appErr.NoStack:
		log.Error("request error",
			"code", appErr.Code,
			"status", appErr.StatusCode,
			"internal_error", appErr.Internal.Error(),
		)
	case appErr.IsClient():
		log.Warn("request error", "code", appErr.Code, "status", appErr.StatusCode)
	default:
		log.Error("request error", "code", appErr.Code, "status", appErr.StatusCode)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Success:     false,
		Description: appErr.Message,
		Code:        appErr.DomainCode,
	})
}
