package api

import (
	"encoding/json"
	"net/http"

	"github.com/abdul-hamid-achik/safe/internal/apperror"
	"github.com/abdul-hamid-achik/safe/internal/auth"
	"github.com/abdul-hamid-achik/safe/internal/config"
)

// checkHandler advertises the server capabilities anonymous clients need
// before uploading.
func checkHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"private":                   cfg.Private,
			"enableUserAccounts":        cfg.Cfg.EnableUserAccounts,
			"maxSize":                   cfg.Cfg.MaxSize,
			"chunkSize":                 cfg.Cfg.ChunkSize,
			"fileIdentifierLength":      cfg.Cfg.FileIDLength,
			"stripTags":                 cfg.Cfg.StripTagsAllowed,
			"temporaryUploadAges":       cfg.Retention.PeriodsFor(auth.RankUser),
			"defaultTemporaryUploadAge": cfg.Retention.DefaultFor(auth.RankUser),
			"version":                   config.Version,
		})
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func loginHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}
		user, err := cfg.Auth.Login(r.Context(), ClientIP(r, cfg.Cfg.TrustProxy), req.Username, req.Password)
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": user.Token})
	}
}

func registerHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}
		user, err := cfg.Auth.Register(r.Context(), ClientIP(r, cfg.Cfg.TrustProxy), req.Username, req.Password)
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": user.Token})
	}
}

func changePasswordHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := CurrentUser(r.Context())
		var req struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}
		if err := cfg.Auth.ChangePassword(r.Context(), user.ID, req.Password); err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

// verifyTokenHandler authenticates a bare token and reports the caller's
// group, permissions and retention periods.
func verifyTokenHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}
		user, err := cfg.Auth.VerifyToken(r.Context(), ClientIP(r, cfg.Cfg.TrustProxy), req.Token)
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"username":                  user.Username,
			"usergroup":                 auth.GroupName(user.Permission),
			"permission":                user.Permission,
			"temporaryUploadAges":       cfg.Retention.PeriodsFor(user.Permission),
			"defaultTemporaryUploadAge": cfg.Retention.DefaultFor(user.Permission),
		})
	}
}

func changeTokenHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := CurrentUser(r.Context())
		token, err := cfg.Auth.RotateToken(r.Context(), user.ID)
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": token})
	}
}
