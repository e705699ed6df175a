package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/abdul-hamid-achik/safe/internal/apperror"
	"github.com/abdul-hamid-achik/safe/internal/query"
)

// listUploadsHandler serves /api/uploads and the per-album variant. The
// filters header is compiled into parameterized SQL under the caller's
// role caps.
func listUploadsHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := CurrentUser(r.Context())
		moderator := isModerator(r.Context())

		page := 0
		if v := r.PathValue("page"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				page = n
			}
		}

		var albumID int64
		if v := r.PathValue("albumid"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				apperror.WriteJSON(w, r, apperror.New("Invalid album identifier", 0))
				return
			}
			if _, err := cfg.Queries.GetAlbumOwned(r.Context(), id, user.ID); err != nil {
				apperror.WriteJSON(w, r, apperror.ErrNotFound)
				return
			}
			albumID = id
		}

		minOffset := 0
		if v := r.Header.Get("minoffset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				minOffset = n
			}
		}

		params := query.Params{
			Expression: r.Header.Get("filters"),
			MinOffset:  minOffset,
			Moderator:  moderator,
			ListAll:    r.Header.Get("all") == "1" && moderator,
			UserID:     user.ID,
			AlbumID:    albumID,
			PageSize:   cfg.Cfg.PageSize,
		}
		compiled, err := query.Compile(params)
		if err != nil {
			var quota *query.QuotaError
			if errors.As(err, &quota) {
				apperror.WriteJSON(w, r, apperror.New(quota.Error(), 0))
				return
			}
			apperror.WriteJSON(w, r, apperror.New(err.Error(), 0))
			return
		}

		count, err := cfg.Queries.CountFilesWhere(r.Context(), compiled.Where, compiled.Args)
		if err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}

		offset := query.PageOffset(count, page, cfg.Cfg.PageSize)
		files, err := cfg.Queries.ListFilesWhere(r.Context(), compiled.Where, compiled.Args,
			compiled.Order, cfg.Cfg.PageSize, offset)
		if err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}

		entries := make([]map[string]any, len(files))
		for i, f := range files {
			entry := fileRecord(cfg, f)
			if !moderator {
				delete(entry, "userid")
			}
			entries[i] = entry
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"files": entries,
			"count": count,
		})
	}
}
