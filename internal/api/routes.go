package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/abdul-hamid-achik/safe/internal/albums"
	"github.com/abdul-hamid-achik/safe/internal/auth"
	"github.com/abdul-hamid-achik/safe/internal/cache"
	"github.com/abdul-hamid-achik/safe/internal/config"
	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/health"
	"github.com/abdul-hamid-achik/safe/internal/ingest"
	"github.com/abdul-hamid-achik/safe/internal/paths"
	"github.com/abdul-hamid-achik/safe/internal/retention"
	"github.com/abdul-hamid-achik/safe/internal/uploads"
)

// Config carries every service the HTTP layer touches.
type Config struct {
	Cfg       *config.Config
	Queries   *db.Queries
	Paths     *paths.Paths
	Engine    *ingest.Engine
	Deleter   *uploads.Deleter
	Albums    *albums.Service
	Zipper    *albums.Zipper
	Auth      *auth.Service
	Retention *retention.Resolver
	Health    *health.Checker

	DispositionCache *cache.Store

	Private bool
}

// NewRouter builds the full route table the teacher way: stdlib mux with
// method patterns, constructor-per-handler.
func NewRouter(cfg *Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", health.HealthHandler(cfg.Health))
	mux.HandleFunc("GET /health/live", health.LivenessHandler())
	mux.HandleFunc("GET /health/ready", health.ReadinessHandler(cfg.Health))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/check", checkHandler(cfg))
	mux.HandleFunc("POST /api/login", loginHandler(cfg))
	mux.HandleFunc("POST /api/register", registerHandler(cfg))
	mux.HandleFunc("POST /api/password/change", authenticate(cfg, true, changePasswordHandler(cfg)))
	mux.HandleFunc("POST /api/tokens/verify", verifyTokenHandler(cfg))
	mux.HandleFunc("POST /api/tokens/change", authenticate(cfg, true, changeTokenHandler(cfg)))

	mux.HandleFunc("POST /api/upload", authenticate(cfg, false, uploadHandler(cfg)))
	mux.HandleFunc("POST /api/upload/{albumid}", authenticate(cfg, false, uploadHandler(cfg)))
	mux.HandleFunc("POST /api/upload/finishchunks", authenticate(cfg, false, finishChunksHandler(cfg)))
	mux.HandleFunc("POST /api/upload/delete", authenticate(cfg, true, deleteHandler(cfg)))
	mux.HandleFunc("POST /api/upload/bulkdelete", authenticate(cfg, true, bulkDeleteHandler(cfg)))
	mux.HandleFunc("GET /api/upload/get/{identifier}", authenticate(cfg, true, fileGetHandler(cfg)))

	mux.HandleFunc("GET /api/uploads", authenticate(cfg, true, listUploadsHandler(cfg)))
	mux.HandleFunc("GET /api/uploads/{page}", authenticate(cfg, true, listUploadsHandler(cfg)))
	mux.HandleFunc("GET /api/album/{albumid}/{page}", authenticate(cfg, true, listUploadsHandler(cfg)))

	mux.HandleFunc("GET /api/albums", authenticate(cfg, true, listAlbumsHandler(cfg)))
	mux.HandleFunc("GET /api/albums/{page}", authenticate(cfg, true, listAlbumsHandler(cfg)))
	mux.HandleFunc("POST /api/albums", authenticate(cfg, true, createAlbumHandler(cfg)))
	mux.HandleFunc("POST /api/albums/edit", authenticate(cfg, true, editAlbumHandler(cfg)))
	mux.HandleFunc("POST /api/albums/rename", authenticate(cfg, true, renameAlbumHandler(cfg)))
	mux.HandleFunc("POST /api/albums/disable", authenticate(cfg, true, disableAlbumHandler(cfg)))
	mux.HandleFunc("POST /api/albums/delete", authenticate(cfg, true, deleteAlbumHandler(cfg)))
	mux.HandleFunc("POST /api/albums/addfiles", authenticate(cfg, true, addFilesHandler(cfg)))
	mux.HandleFunc("GET /api/album/get/{identifier}", albumGetHandler(cfg))
	mux.HandleFunc("GET /api/album/zip/{identifier}", albumZipHandler(cfg))

	if cfg.Cfg.ServeFiles {
		mux.HandleFunc("GET /{name}", serveFileHandler(cfg))
	}

	var handler http.Handler = mux
	handler = Metrics(handler)
	handler = RequestID(handler)
	handler = Recover(handler)
	handler = otelhttp.NewHandler(handler, "http.server")
	return handler
}
