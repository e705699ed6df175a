package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON renders a success envelope. Every payload carries success:true;
// failures go through apperror.WriteJSON.
func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["success"] = true
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
