package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/abdul-hamid-achik/safe/internal/apperror"
	"github.com/abdul-hamid-achik/safe/internal/db"
)

func albumRecord(a db.Album) map[string]any {
	return map[string]any{
		"id":          a.ID,
		"name":        a.Name,
		"identifier":  a.Identifier,
		"description": a.Description,
		"public":      a.Public,
		"download":    a.Download,
		"timestamp":   a.Timestamp,
		"editedAt":    a.EditedAt,
	}
}

func listAlbumsHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := CurrentUser(r.Context())

		page := 0
		if v := r.PathValue("page"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				page = n
			}
		}

		count, err := cfg.Queries.CountAlbumsByUser(r.Context(), user.ID)
		if err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}
		albums, err := cfg.Queries.ListAlbumsByUser(r.Context(), user.ID, cfg.Cfg.PageSize, page*cfg.Cfg.PageSize)
		if err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}

		entries := make([]map[string]any, len(albums))
		for i, a := range albums {
			entries[i] = albumRecord(a)
		}
		writeJSON(w, http.StatusOK, map[string]any{"albums": entries, "count": count})
	}
}

type albumRequest struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Download    *bool  `json:"download"`
	Public      *bool  `json:"public"`
	Purge       bool   `json:"purge"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func createAlbumHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := CurrentUser(r.Context())
		var req albumRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}
		album, err := cfg.Albums.Create(r.Context(), user.ID, req.Name, req.Description,
			boolOr(req.Download, true), boolOr(req.Public, true))
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": album.ID, "identifier": album.Identifier})
	}
}

func editAlbumHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := CurrentUser(r.Context())
		var req albumRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}
		if err := cfg.Albums.Edit(r.Context(), user.ID, req.ID, req.Name, req.Description,
			boolOr(req.Download, true), boolOr(req.Public, true)); err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

func renameAlbumHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := CurrentUser(r.Context())
		var req albumRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}
		if err := cfg.Albums.Rename(r.Context(), user.ID, req.ID, req.Name); err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

func disableAlbumHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := CurrentUser(r.Context())
		var req albumRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}
		if err := cfg.Albums.Disable(r.Context(), user.ID, req.ID); err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

func deleteAlbumHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req albumRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}
		failed, err := cfg.Albums.Delete(r.Context(), deleteActor(r), req.ID, req.Purge)
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"failed": failedList(failed)})
	}
}

func addFilesHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := CurrentUser(r.Context())
		var req struct {
			ID    int64   `json:"id"`
			Files []int64 `json:"files"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}
		if len(req.Files) == 0 {
			apperror.WriteJSON(w, r, apperror.New("No files specified", 0))
			return
		}
		if err := cfg.Albums.AddFiles(r.Context(), user.ID, req.ID, req.Files); err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

// albumGetHandler is the public album view. Renders are cached per album
// until an edit or file change invalidates them.
func albumGetHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := r.PathValue("identifier")
		album, err := cfg.Queries.GetAlbumByIdentifier(r.Context(), identifier)
		if err != nil || !album.Enabled || !album.Public {
			apperror.WriteJSON(w, r, apperror.ErrNotFound)
			return
		}

		cacheKey := strconv.FormatInt(album.ID, 10)
		if cached, ok := cfg.Albums.RenderCache.Get(cacheKey); ok {
			writeJSON(w, http.StatusOK, map[string]any{"album": cached})
			return
		}
		hold := cfg.Albums.RenderCache.Hold(cacheKey)

		files, err := cfg.Queries.ListFilesInAlbum(r.Context(), album.ID)
		if err != nil {
			if hold {
				cfg.Albums.RenderCache.Release(cacheKey)
			}
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}

		entries := make([]map[string]any, len(files))
		for i, f := range files {
			entries[i] = map[string]any{
				"name": f.Name,
				"size": f.Size,
				"url":  fmt.Sprintf("%s/%s", cfg.Cfg.Domain, f.Name),
			}
		}
		render := map[string]any{
			"name":        album.Name,
			"identifier":  album.Identifier,
			"description": album.Description,
			"download":    album.Download,
			"editedAt":    album.EditedAt,
			"files":       entries,
		}
		if hold {
			cfg.Albums.RenderCache.Put(cacheKey, render)
		}
		writeJSON(w, http.StatusOK, map[string]any{"album": render})
	}
}

func albumZipHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := r.PathValue("identifier")
		path, album, err := cfg.Zipper.Get(r.Context(), identifier)
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="%s.zip"`, album.Name))
		http.ServeFile(w, r, path)
	}
}
