package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"hawker-score/internal/apperr"
	"hawker-score/internal/auth"
	"hawker-score/internal/cache"
	"hawker-score/internal/db"
	"hawker-score/internal/geo"
	"hawker-score/internal/models"
)

const (
	MinBatchIDs = 2
	MaxBatchIDs = 8
)

// Cache key prefixes, invalidated after a successful refresh
const (
	cacheGeo       = "geo:"
	cacheQuantiles = "quantiles:"
	cacheHeatmap   = "heatmap:"
)

var subzoneIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// Refresher runs a dataset refresh and returns its snapshot
type Refresher interface {
	Run(ctx context.Context, kind models.DatasetKind) (*models.DatasetSnapshot, error)
}

// Deps are the dependencies of the HTTP handlers
type Deps struct {
	DB        *db.DB
	Cache     *cache.Loader
	Refresher Refresher
	Auth      *auth.Service
	Issuer    *auth.Issuer
	Limiter   *rate.Limiter
	Logger    *zap.Logger
}

// Handlers contains HTTP handlers and their dependencies
type Handlers struct {
	db        *db.DB
	cache     *cache.Loader
	refresher Refresher
	auth      *auth.Service
	issuer    *auth.Issuer
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := d.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Handlers{
		db:        d.DB,
		cache:     d.Cache,
		refresher: d.Refresher,
		auth:      d.Auth,
		issuer:    d.Issuer,
		limiter:   limiter,
		logger:    logger,
	}
}

// listMeta is the pagination block of list responses
type listMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// parseSubzoneFilter reads list query parameters
func parseSubzoneFilter(r *http.Request) (db.SubzoneFilter, error) {
	q := r.URL.Query()
	filter := db.SubzoneFilter{Limit: db.DefaultListLimit}

	if v := q.Get("region"); v != "" {
		region, err := models.ParseRegion(v)
		if err != nil {
			return filter, apperr.Validation("invalid region %q", v)
		}
		filter.Region = &region
	}

	filter.Query = strings.TrimSpace(q.Get("q"))

	if v := q.Get("percentile_min"); v != "" {
		val, err := strconv.ParseFloat(v, 64)
		if err != nil || !(val >= 0 && val <= 100) {
			return filter, apperr.Validation("percentile_min must be a number between 0 and 100")
		}
		filter.PercentileMin = &val
	}

	// Parse pagination
	if v := q.Get("limit"); v != "" {
		val, err := strconv.Atoi(v)
		if err != nil || val < 1 || val > db.MaxListLimit {
			return filter, apperr.Validation("limit must be between 1 and %d", db.MaxListLimit)
		}
		filter.Limit = val
	}
	if v := q.Get("offset"); v != "" {
		val, err := strconv.Atoi(v)
		if err != nil || val < 0 {
			return filter, apperr.Validation("offset must be a non-negative integer")
		}
		filter.Offset = val
	}

	return filter, nil
}

// ListSubzones handles GET /api/v1/subzones
func (h *Handlers) ListSubzones(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSubzoneFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items, total, err := h.db.ListSubzones(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Data: items,
		Meta: listMeta{Total: total, Limit: filter.Limit, Offset: filter.Offset},
	})
}

// GetSubzone handles GET /api/v1/subzones/{id}
func (h *Handlers) GetSubzone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !subzoneIDPattern.MatchString(id) {
		h.writeError(w, r, apperr.Validation("invalid subzone id %q", id))
		return
	}

	subzone, err := h.db.GetSubzone(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, subzone)
}

// ParseBatchIDs splits, trims and de-duplicates ids in request order and
// checks the count and format
func ParseBatchIDs(values []string) ([]string, error) {
	ids := make([]string, 0, MaxBatchIDs)
	seen := make(map[string]bool)
	for _, v := range values {
		for _, id := range strings.Split(v, ",") {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			if !subzoneIDPattern.MatchString(id) {
				return nil, apperr.Validation("invalid subzone id %q", id)
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) < MinBatchIDs || len(ids) > MaxBatchIDs {
		return nil, apperr.Validation("ids must name between %d and %d distinct subzones", MinBatchIDs, MaxBatchIDs)
	}
	return ids, nil
}

// BatchSubzones handles GET /api/v1/subzones:batch?ids=a,b
func (h *Handlers) BatchSubzones(w http.ResponseWriter, r *http.Request) {
	ids, err := ParseBatchIDs(r.URL.Query()["ids"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	found, err := h.db.GetSubzonesByIDs(r.Context(), ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data := make([]models.SubzoneDetail, 0, len(ids))
	notFound := make([]string, 0)
	for _, id := range ids {
		if d, ok := found[id]; ok {
			data = append(data, d)
		} else {
			notFound = append(notFound, id)
		}
	}

	// not_found is always present so clients can rely on it
	writeJSON(w, http.StatusOK, struct {
		Data     []models.SubzoneDetail `json:"data"`
		NotFound []string               `json:"not_found"`
	}{data, notFound})
}

type geoMeta struct {
	Count     int      `json:"count"`
	Skipped   int      `json:"skipped"`
	Fields    []string `json:"fields"`
	Tolerance float64  `json:"simplify"`
}

// GeoSubzones handles GET /api/v1/geo/subzones
func (h *Handlers) GeoSubzones(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fields, err := geo.ParseFields(q.Get("fields"))
	if err != nil {
		h.writeError(w, r, apperr.Validation("%s", err.Error()))
		return
	}
	tolerance, err := geo.ParseSimplify(q.Get("simplify"))
	if err != nil {
		h.writeError(w, r, apperr.Validation("%s", err.Error()))
		return
	}

	key := fmt.Sprintf("%s%s:%g", cacheGeo, strings.Join(fields, ","), tolerance)
	body, err := h.cache.GetOrLoad(r.Context(), key, "geo", func(ctx context.Context) ([]byte, error) {
		rows, err := h.db.ListGeoRows(ctx)
		if err != nil {
			return nil, err
		}
		fc, skipped := geo.BuildFeatureCollection(rows, geo.BuildOptions{Fields: fields, Tolerance: tolerance})
		if skipped > 0 {
			h.logger.Warn("skipped subzones with invalid geometry", zap.Int("count", skipped))
		}
		return json.Marshal(envelope{
			Data: fc,
			Meta: geoMeta{Count: len(fc.Features), Skipped: skipped, Fields: fields, Tolerance: tolerance},
		})
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeRaw(w, http.StatusOK, body)
}

// PopulationQuantiles handles GET /api/v1/stats/population-quantiles?k=
func (h *Handlers) PopulationQuantiles(w http.ResponseWriter, r *http.Request) {
	k := geo.DefaultQuantiles
	if v := r.URL.Query().Get("k"); v != "" {
		val, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, r, apperr.Validation("k must be an integer"))
			return
		}
		k = val
	}
	if err := geo.ValidateQuantiles(k); err != nil {
		h.writeError(w, r, apperr.Validation("%s", err.Error()))
		return
	}

	body, err := h.cache.GetOrLoad(r.Context(), cacheQuantiles+strconv.Itoa(k), "quantiles", func(ctx context.Context) ([]byte, error) {
		values, err := h.db.PopulationValues(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(envelope{Data: geo.Summarize(values, k)})
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeRaw(w, http.StatusOK, body)
}

// Heatmap handles GET /api/v1/stats/heatmap
func (h *Handlers) Heatmap(w http.ResponseWriter, r *http.Request) {
	body, err := h.cache.GetOrLoad(r.Context(), cacheHeatmap+"active", "heatmap", func(ctx context.Context) ([]byte, error) {
		cfg, err := h.db.ActiveKernelConfig(ctx)
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			def := models.DefaultKernelConfig
			cfg = &def
		}
		rows, err := h.db.ListGeoRows(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(envelope{Data: geo.BuildHeatmap(rows, *cfg)})
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeRaw(w, http.StatusOK, body)
}

// Healthz handles GET /healthz
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.writeError(w, r, apperr.Wrap(apperr.KindInternal, err, "database unavailable"))
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ok", "driver": h.db.Driver()})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	session, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, session)
}
