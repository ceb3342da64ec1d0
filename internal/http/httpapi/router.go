package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"videogateway/internal/http/handlers"
	"videogateway/internal/middleware"
	"videogateway/internal/obs"
)

// Options tunes the router's cross-cutting middleware.
type Options struct {
	CORSOrigins     []string
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		obs.MetricsMiddleware,
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/healthz", app.Health)
	r.Get("/auth-status", app.AuthStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/videos", func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		r.Post("/", app.CreateVideo)
		r.Get("/", app.ListVideos)
		r.Route("/{videoID}", func(r chi.Router) {
			r.Get("/", app.GetVideo)
			r.Delete("/", app.DeleteVideo)
			r.Post("/remix", app.RemixVideo)
			r.Get("/content", app.VideoContent)
		})
	})

	return r
}
