package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"jobengine/internal/http/handlers"
	"jobengine/internal/infra/metrics"
	"jobengine/internal/middleware"
)

// Options configures the middleware around the handlers.
type Options struct {
	JWTSecret       string
	JWTIssuer       string
	CORSOrigins     []string
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	Accounts        middleware.AccountOpener
	StartingCredits int64
	SubmitLimiter   *middleware.RateLimiter
	Static          http.Handler
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		metrics.InstrumentHandler,
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if opts.Static != nil {
		r.Method(http.MethodGet, "/static/*", http.StripPrefix("/static", opts.Static))
	}
	r.Post("/v1/providers/callback/{job_id}", app.ProviderCallback)

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.AuthJWT(opts.JWTSecret, opts.JWTIssuer),
			middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
		)
		if opts.Accounts != nil {
			r.Use(middleware.ProvisionAccount(opts.Accounts, opts.StartingCredits, opts.Logger))
		}

		submit := func(h http.HandlerFunc) http.Handler {
			if opts.SubmitLimiter == nil {
				return h
			}
			return opts.SubmitLimiter.Handler(h)
		}

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Method(http.MethodPost, "/", submit(app.SubmitJob))
			r.Get("/", app.ListJobs)
			r.Get("/stats", app.JobStats)
			r.Get("/events", app.JobEvents)
			r.Get("/{job_id}", app.JobStatus)
			r.Get("/{job_id}/artifacts.zip", app.JobArtifacts)
			r.Method(http.MethodPost, "/{job_id}/retry", submit(app.RetryJob))
		})
		r.Get("/v1/credits", app.Credits)
	})

	return r
}
