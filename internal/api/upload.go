package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/safe/internal/apperror"
	"github.com/abdul-hamid-achik/safe/internal/auth"
	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/ingest"
	"github.com/abdul-hamid-achik/safe/internal/uploads"
)

// ingestRequest assembles the per-call uploader context from headers and
// the optional albumid path segment.
func ingestRequest(cfg *Config, r *http.Request) ingest.Request {
	req := ingest.Request{
		IP:  ClientIP(r, cfg.Cfg.TrustProxy),
		Age: -1,
	}
	if user, ok := CurrentUser(r.Context()); ok {
		req.UserID = auth.NullableID(user)
		req.Rank = user.Permission
	}
	if v := r.PathValue("albumid"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.AlbumID = id
		}
	}
	if v := r.Header.Get("albumid"); v != "" && req.AlbumID == 0 {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.AlbumID = id
		}
	}
	if v := r.Header.Get("age"); v != "" {
		if age, err := strconv.ParseFloat(v, 64); err == nil {
			req.Age = age
		}
	}
	if v := r.Header.Get("filelength"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.IDLength = n
		}
	}
	if r.Header.Get("striptags") == "1" {
		req.StripTags = true
	}
	return req
}

// fileEntry is one element of the upload response's files array.
func fileEntry(cfg *Config, res ingest.FileResult) map[string]any {
	entry := map[string]any{
		"name": res.Name,
		"url":  strings.TrimRight(cfg.Cfg.Domain, "/") + "/" + res.Name,
		"size": res.Size,
	}
	if res.Hash != "" {
		entry["hash"] = res.Hash
	}
	if res.Original != "" {
		entry["original"] = res.Original
	}
	if res.Expiry.Valid {
		entry["expirydate"] = res.Expiry.Int64
	}
	if res.Repeated {
		entry["repeated"] = true
	}
	return entry
}

func uploadHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := ingestRequest(cfg, r)

		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "multipart/form-data") {
			mr, err := r.MultipartReader()
			if err != nil {
				apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
				return
			}
			results, chunked, err := cfg.Engine.ProcessMultipart(r.Context(), req, mr)
			if err != nil {
				apperror.WriteJSON(w, r, err)
				return
			}
			if chunked {
				writeJSON(w, http.StatusOK, nil)
				return
			}
			respondFiles(cfg, w, results)
			return
		}

		if !cfg.Cfg.URLUploads {
			apperror.WriteJSON(w, r, apperror.New("URL uploads are disabled", 403))
			return
		}
		var body struct {
			URLs []string `json:"urls"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}
		results, err := cfg.Engine.ProcessURLs(r.Context(), req, body.URLs)
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		respondFiles(cfg, w, results)
	}
}

func respondFiles(cfg *Config, w http.ResponseWriter, results []ingest.FileResult) {
	files := make([]map[string]any, len(results))
	for i, res := range results {
		files[i] = fileEntry(cfg, res)
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

type finishChunksFile struct {
	UUID       string   `json:"uuid"`
	Original   string   `json:"original"`
	FileLength int      `json:"filelength"`
	Size       *int64   `json:"size"`
	Age        *float64 `json:"age"`
	AlbumID    int64    `json:"albumid"`
	Type       string   `json:"type"`
}

func finishChunksHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := ingestRequest(cfg, r)

		var body struct {
			Files []finishChunksFile `json:"files"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}

		specs := make([]ingest.ChunkSpec, len(body.Files))
		for i, f := range body.Files {
			spec := ingest.ChunkSpec{
				UUID:     f.UUID,
				Original: f.Original,
				IDLength: f.FileLength,
				Size:     -1,
				Age:      -1,
				AlbumID:  f.AlbumID,
				Type:     f.Type,
			}
			if f.Size != nil {
				spec.Size = *f.Size
			}
			if f.Age != nil {
				spec.Age = *f.Age
			}
			specs[i] = spec
		}

		results, err := cfg.Engine.FinishChunks(r.Context(), req, specs)
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		respondFiles(cfg, w, results)
	}
}

func deleteActor(r *http.Request) uploads.Actor {
	user, _ := CurrentUser(r.Context())
	return uploads.Actor{
		ID:        user.ID,
		Moderator: user.Permission >= auth.RankModerator,
	}
}

func deleteHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID json.Number `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID.String() == "" {
			apperror.WriteJSON(w, r, apperror.New("No file specified", 0))
			return
		}
		failed, err := cfg.Deleter.Delete(r.Context(), "id", []string{body.ID.String()}, deleteActor(r))
		if err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"failed": failedList(failed)})
	}
}

func bulkDeleteHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Field  string        `json:"field"`
			Values []json.Number `json:"values"`
		}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}
		if body.Field == "" {
			body.Field = "id"
		}
		if body.Field != "id" && body.Field != "name" {
			apperror.WriteJSON(w, r, apperror.New(fmt.Sprintf("Invalid field: %s", body.Field), 0))
			return
		}
		if len(body.Values) == 0 {
			apperror.WriteJSON(w, r, apperror.New("No files specified", 0))
			return
		}
		values := make([]string, len(body.Values))
		for i, v := range body.Values {
			values[i] = v.String()
		}
		failed, err := cfg.Deleter.Delete(r.Context(), body.Field, values, deleteActor(r))
		if err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"failed": failedList(failed)})
	}
}

// failedList keeps the failed array non-null in JSON.
func failedList(failed []string) []string {
	if failed == nil {
		return []string{}
	}
	return failed
}

func fileGetHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("identifier")
		file, err := cfg.Queries.GetFileByName(r.Context(), name)
		if err != nil {
			apperror.WriteJSON(w, r, apperror.ErrNotFound)
			return
		}
		user, _ := CurrentUser(r.Context())
		if !isModerator(r.Context()) {
			if !file.UserID.Valid || file.UserID.Int64 != user.ID {
				apperror.WriteJSON(w, r, apperror.ErrNotFound)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"file": fileRecord(cfg, file)})
	}
}

// fileRecord serializes one row for list and get responses.
func fileRecord(cfg *Config, f db.File) map[string]any {
	entry := map[string]any{
		"id":        f.ID,
		"name":      f.Name,
		"original":  f.Original,
		"type":      f.Type,
		"size":      f.Size,
		"timestamp": f.Timestamp,
		"url":       strings.TrimRight(cfg.Cfg.Domain, "/") + "/" + f.Name,
	}
	if f.Hash != "" {
		entry["hash"] = f.Hash
	}
	if f.AlbumID.Valid {
		entry["albumid"] = f.AlbumID.Int64
	}
	if f.ExpiryDate.Valid {
		entry["expirydate"] = f.ExpiryDate.Int64
	}
	if f.UserID.Valid {
		entry["userid"] = f.UserID.Int64
	}
	return entry
}
