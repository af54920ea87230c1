package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"hawker-score/internal/apperr"
	"hawker-score/internal/models"
)

type refreshRequest struct {
	Kind string `json:"kind" validate:"omitempty,max=32"`
}

// RefreshDatasets handles POST /api/v1/admin/refresh-datasets. The run is
// synchronous; a failed run answers 502 with the failure snapshot id.
func (h *Handlers) RefreshDatasets(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		h.writeError(w, r, apperr.New(apperr.KindRateLimited, "refresh rate limit exceeded, try again later"))
		return
	}

	var req refreshRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if v := r.URL.Query().Get("kind"); v != "" {
		req.Kind = v
	}
	kind, err := models.ParseDatasetKind(req.Kind)
	if err != nil {
		h.writeError(w, r, apperr.Validation("%s", err.Error()))
		return
	}

	snap, err := h.refresher.Run(r.Context(), kind)
	if err != nil {
		if snap != nil && snap.ID != "" {
			h.writeErrorDetail(w, r, apperr.Wrap(apperr.KindUpstreamFailure, err, "dataset refresh failed"), snap.ID)
			return
		}
		h.writeError(w, r, err)
		return
	}

	h.invalidateCaches(r.Context())
	writeData(w, http.StatusOK, snap)
}

// invalidateCaches drops derived responses after the data changed
func (h *Handlers) invalidateCaches(ctx context.Context, prefixes ...string) {
	if len(prefixes) == 0 {
		prefixes = []string{cacheGeo, cacheQuantiles, cacheHeatmap}
	}
	for _, p := range prefixes {
		if err := h.cache.Invalidate(ctx, p); err != nil {
			h.logger.Warn("cache invalidation failed", zap.String("prefix", p), zap.Error(err))
		}
	}
}

// ListSnapshots handles GET /api/v1/admin/snapshots
func (h *Handlers) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := 50, 0
	if v := q.Get("limit"); v != "" {
		val, err := strconv.Atoi(v)
		if err != nil || val < 1 || val > 500 {
			h.writeError(w, r, apperr.Validation("limit must be between 1 and 500"))
			return
		}
		limit = val
	}
	if v := q.Get("offset"); v != "" {
		val, err := strconv.Atoi(v)
		if err != nil || val < 0 {
			h.writeError(w, r, apperr.Validation("offset must be a non-negative integer"))
			return
		}
		offset = val
	}

	snaps, err := h.db.ListSnapshots(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Data: snaps,
		Meta: map[string]int{"limit": limit, "offset": offset, "count": len(snaps)},
	})
}

// GetSnapshot handles GET /api/v1/admin/snapshots/{id}
func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.db.GetSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, snap)
}

// Stats handles GET /api/v1/admin/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.GetSystemStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

// kernelConfigRequest is the writable part of a kernel config
type kernelConfigRequest struct {
	Name        string             `json:"name" validate:"required,max=64"`
	Kernel      models.Kernel      `json:"kernel" validate:"required,oneof=gaussian epanechnikov uniform"`
	BandwidthM  float64            `json:"bandwidth_m" validate:"gt=0,lte=50000"`
	WeightField models.WeightField `json:"weight_field" validate:"required,oneof=population composite demand"`
}

func (k kernelConfigRequest) toModel() *models.KernelConfig {
	return &models.KernelConfig{
		Name:        k.Name,
		Kernel:      k.Kernel,
		BandwidthM:  k.BandwidthM,
		WeightField: k.WeightField,
	}
}

// ListKernelConfigs handles GET /api/v1/admin/kernel-configs
func (h *Handlers) ListKernelConfigs(w http.ResponseWriter, r *http.Request) {
	cfgs, err := h.db.ListKernelConfigs(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, cfgs)
}

// GetKernelConfig handles GET /api/v1/admin/kernel-configs/{id}
func (h *Handlers) GetKernelConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.db.GetKernelConfig(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, cfg)
}

// CreateKernelConfig handles POST /api/v1/admin/kernel-configs
func (h *Handlers) CreateKernelConfig(w http.ResponseWriter, r *http.Request) {
	var req kernelConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	cfg := req.toModel()
	if err := h.db.CreateKernelConfig(r.Context(), cfg); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, cfg)
}

// UpdateKernelConfig handles PUT /api/v1/admin/kernel-configs/{id}
func (h *Handlers) UpdateKernelConfig(w http.ResponseWriter, r *http.Request) {
	var req kernelConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	cfg := req.toModel()
	cfg.ID = chi.URLParam(r, "id")
	if err := h.db.UpdateKernelConfig(r.Context(), cfg); err != nil {
		h.writeError(w, r, err)
		return
	}

	updated, err := h.db.GetKernelConfig(r.Context(), cfg.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if updated.Active {
		h.invalidateCaches(r.Context(), cacheHeatmap)
	}
	writeData(w, http.StatusOK, updated)
}

// ActivateKernelConfig handles POST /api/v1/admin/kernel-configs/{id}/activate
func (h *Handlers) ActivateKernelConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.db.ActivateKernelConfig(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.invalidateCaches(r.Context(), cacheHeatmap)
	writeData(w, http.StatusOK, cfg)
}
