package api

import (
	"html/template"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"hawker-score/internal/apperr"
	"hawker-score/internal/mapstate"
	"hawker-score/internal/metrics"
	"hawker-score/internal/models"
)

// Cache buster timestamp (set at startup)
var cacheBuster = strconv.FormatInt(time.Now().Unix(), 10)

// RouterOptions configure the non-API parts of the router
type RouterOptions struct {
	StaticDir      string
	AllowedOrigins []string
	MapToken       string
	ProviderStyle  string
	OpenStyle      string
	Logger         *zap.Logger
}

// NewRouter creates and configures the Chi router
func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(middleware.Recoverer)
	r.Use(Metrics)
	r.Use(CORS(opts.AllowedOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, apperr.NotFound("no route for %s", r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorBody{Error: ErrorDetail{
			Code:    apperr.KindValidation,
			Message: r.Method + " is not allowed on " + r.URL.Path,
		}})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/subzones", h.ListSubzones)
		r.Get("/subzones:batch", h.BatchSubzones)
		r.Get("/subzones/{id}", h.GetSubzone)
		r.Get("/geo/subzones", h.GeoSubzones)
		r.Get("/stats/population-quantiles", h.PopulationQuantiles)
		r.Get("/stats/heatmap", h.Heatmap)
		r.Post("/auth/login", h.Login)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireRole(models.RoleAdmin))
			r.Post("/refresh-datasets", h.RefreshDatasets)
			r.Get("/snapshots", h.ListSnapshots)
			r.Get("/snapshots/{id}", h.GetSnapshot)
			r.Get("/stats", h.Stats)
			r.Get("/kernel-configs", h.ListKernelConfigs)
			r.Post("/kernel-configs", h.CreateKernelConfig)
			r.Get("/kernel-configs/{id}", h.GetKernelConfig)
			r.Put("/kernel-configs/{id}", h.UpdateKernelConfig)
			r.Post("/kernel-configs/{id}/activate", h.ActivateKernelConfig)
		})
	})

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", metrics.Handler())

	if opts.StaticDir == "" {
		return r
	}

	// Serve static files, including the boundary fallback file
	fileServer := http.FileServer(http.Dir(opts.StaticDir))
	r.Handle("/static/*", http.StripPrefix("/static/", fileServer))

	// Serve index.html for root with cache buster and map settings
	tmplPath := filepath.Join(opts.StaticDir, "..", "templates", "index.html")
	page := indexPage{
		V:           cacheBuster,
		StyleURL:    mapstate.StyleURL(opts.MapToken, opts.ProviderStyle, opts.OpenStyle),
		FallbackURL: mapstate.FallbackGeoPath,
	}
	if mapstate.ValidToken(opts.MapToken) {
		page.MapToken = opts.MapToken
	}
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := template.ParseFiles(tmplPath)
		if err != nil {
			h.writeError(w, r, apperr.Wrap(apperr.KindInternal, err, "loading page template"))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, page); err != nil {
			logger.Error("rendering index", zap.Error(err))
		}
	})

	return r
}

// indexPage is the data passed to web/templates/index.html
type indexPage struct {
	V           string
	MapToken    string
	StyleURL    string
	FallbackURL string
}
