package api

import (
	"fmt"
	"net/http"
	"os"

	"github.com/abdul-hamid-achik/safe/internal/apperror"
)

// serveFileHandler serves committed uploads directly. The original
// filename for Content-Disposition comes from a bounded cache so hot files
// skip the database.
func serveFileHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		path := cfg.Paths.File(name)

		if _, err := os.Stat(path); err != nil {
			apperror.WriteJSON(w, r, apperror.ErrNotFound)
			return
		}

		original, cached := "", false
		if v, ok := cfg.DispositionCache.Get(name); ok {
			original, cached = v.(string), true
		}
		if !cached {
			hold := cfg.DispositionCache.Hold(name)
			if f, err := cfg.Queries.GetFileByName(r.Context(), name); err == nil {
				original = f.Original
				if hold {
					cfg.DispositionCache.Put(name, original)
				}
			} else if hold {
				cfg.DispositionCache.Release(name)
			}
		}

		if original != "" && original != name {
			w.Header().Set("Content-Disposition",
				fmt.Sprintf(`inline; filename="%s"`, original))
		}
		http.ServeFile(w, r, path)
	}
}
