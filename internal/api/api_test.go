package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"hawker-score/internal/apperr"
	"hawker-score/internal/auth"
	"hawker-score/internal/cache"
	"hawker-score/internal/db"
	"hawker-score/internal/db/dbtest"
	"hawker-score/internal/models"
)

type fakeRefresher struct {
	db    *db.DB
	err   error
	calls int
	kinds []models.DatasetKind
}

func (f *fakeRefresher) Run(ctx context.Context, kind models.DatasetKind) (*models.DatasetSnapshot, error) {
	f.calls++
	f.kinds = append(f.kinds, kind)
	now := time.Now().UTC()
	snap := &models.DatasetSnapshot{
		Kind:       kind,
		Status:     models.SnapshotSuccess,
		StartedAt:  now,
		FinishedAt: now,
		Records:    12,
		Metadata:   "{}",
	}
	if f.err != nil {
		msg := f.err.Error()
		snap.Status = models.SnapshotFailure
		snap.Records = 0
		snap.Error = &msg
	}
	if err := f.db.InsertSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, f.err
}

type testServer struct {
	handler   http.Handler
	db        *db.DB
	refresher *fakeRefresher
	issuer    *auth.Issuer
	memory    *cache.Memory
}

const testSecret = "test-secret-for-api-tests"

func newTestServer(t *testing.T, limiter *rate.Limiter) *testServer {
	t.Helper()
	database := dbtest.Seeded(t)
	issuer, err := auth.NewIssuer(testSecret, time.Hour)
	require.NoError(t, err)
	svc := auth.NewService(database, issuer)

	_, err = svc.CreateUser(context.Background(), "admin@example.com", "correct-horse", models.RoleAdmin)
	require.NoError(t, err)
	_, err = svc.CreateUser(context.Background(), "viewer@example.com", "correct-horse", models.RoleViewer)
	require.NoError(t, err)

	memory := cache.NewMemory()
	refresher := &fakeRefresher{db: database}
	h := NewHandlers(Deps{
		DB:        database,
		Cache:     cache.NewLoader(memory, time.Minute, zap.NewNop()),
		Refresher: refresher,
		Auth:      svc,
		Issuer:    issuer,
		Limiter:   limiter,
		Logger:    zap.NewNop(),
	})
	return &testServer{
		handler:   NewRouter(h, RouterOptions{}),
		db:        database,
		refresher: refresher,
		issuer:    issuer,
		memory:    memory,
	}
}

func (s *testServer) do(t *testing.T, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) token(t *testing.T, role models.Role) string {
	t.Helper()
	tok, _, err := s.issuer.Issue(&models.User{ID: "u-" + string(role), Email: "x@example.com", Role: role})
	require.NoError(t, err)
	return tok
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorResponse struct {
	Error struct {
		Code       apperr.Kind `json:"code"`
		Message    string      `json:"message"`
		SnapshotID string      `json:"snapshot_id"`
	} `json:"error"`
}

func TestListSubzonesRegionFilter(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/subzones?region=EAST", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	resp := decode[struct {
		Data []models.SubzoneListItem `json:"data"`
		Meta listMeta                 `json:"meta"`
	}](t, rec)
	require.Len(t, resp.Data, 3)
	for _, it := range resp.Data {
		assert.Equal(t, models.RegionEast, it.Region)
	}
	assert.Equal(t, 3, resp.Meta.Total)
	assert.Equal(t, db.DefaultListLimit, resp.Meta.Limit)

	rec = s.do(t, http.MethodGet, "/api/v1/subzones?region=north-east&limit=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[struct {
		Data []models.SubzoneListItem `json:"data"`
		Meta listMeta                 `json:"meta"`
	}](t, rec)
	assert.Len(t, page.Data, 1)
	assert.Equal(t, 2, page.Meta.Total)
}

func TestListSubzonesValidation(t *testing.T) {
	s := newTestServer(t, nil)
	for _, q := range []string{"region=MARS", "limit=0", "limit=501", "offset=-1", "percentile_min=101", "percentile_min=abc", "percentile_min=NaN", "percentile_min=-Inf"} {
		rec := s.do(t, http.MethodGet, "/api/v1/subzones?"+q, "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		resp := decode[errorResponse](t, rec)
		assert.Equal(t, apperr.KindValidation, resp.Error.Code, q)
	}
}

func TestGetSubzone(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/subzones/TMSZ01", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Data models.SubzoneDetail `json:"data"`
	}](t, rec)
	assert.Equal(t, "Tampines East", resp.Data.Name)
	require.NotNil(t, resp.Data.Population)
	assert.Equal(t, int64(110240), resp.Data.Population.Total)
	assert.NotEmpty(t, resp.Data.Geometry)

	rec = s.do(t, http.MethodGet, "/api/v1/subzones/NOPE01", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.KindNotFound, decode[errorResponse](t, rec).Error.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/subzones/bad%20id", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchSubzones(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/subzones:batch?ids=BDSZ01,MISSING", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[struct {
		Data     []models.SubzoneDetail `json:"data"`
		NotFound []string               `json:"not_found"`
	}](t, rec)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "BDSZ01", resp.Data[0].ID)
	assert.Equal(t, []string{"MISSING"}, resp.NotFound)

	// not_found is present even when everything is found
	rec = s.do(t, http.MethodGet, "/api/v1/subzones:batch?ids=TMSZ01&ids=BDSZ01,%20TMSZ01", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"not_found":[]`)
	resp = decode[struct {
		Data     []models.SubzoneDetail `json:"data"`
		NotFound []string               `json:"not_found"`
	}](t, rec)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "TMSZ01", resp.Data[0].ID)
	assert.Equal(t, "BDSZ01", resp.Data[1].ID)

	for _, q := range []string{"ids=BDSZ01", "ids=BDSZ01,BDSZ01", "ids=A,B,C,D,E,F,G,H,I", "ids=A,B%3BDROP"} {
		rec = s.do(t, http.MethodGet, "/api/v1/subzones:batch?"+q, "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestParseBatchIDs(t *testing.T) {
	ids, err := ParseBatchIDs([]string{" A , ,B", "A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids)

	_, err = ParseBatchIDs(nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestGeoSubzones(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/geo/subzones?fields=name,population&simplify=true", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[struct {
		Data struct {
			Type     string `json:"type"`
			Features []struct {
				Properties map[string]interface{} `json:"properties"`
			} `json:"features"`
		} `json:"data"`
		Meta geoMeta `json:"meta"`
	}](t, rec)
	assert.Equal(t, "FeatureCollection", resp.Data.Type)
	require.Len(t, resp.Data.Features, len(db.SampleSubzones))
	props := resp.Data.Features[0].Properties
	assert.Len(t, props, 3)
	assert.Contains(t, props, "id")
	assert.Contains(t, props, "population")
	assert.NotContains(t, props, "composite")
	assert.Equal(t, []string{"id", "name", "population"}, resp.Meta.Fields)
	assert.Equal(t, 0.0001, resp.Meta.Tolerance)

	rec = s.do(t, http.MethodGet, "/api/v1/geo/subzones?fields=colour", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	for _, v := range []string{"0.5", "NaN", "Inf"} {
		rec = s.do(t, http.MethodGet, "/api/v1/geo/subzones?simplify="+v, "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, v)
		assert.Equal(t, apperr.KindValidation, decode[errorResponse](t, rec).Error.Code, v)
	}
}

func TestPopulationQuantiles(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/stats/population-quantiles?k=4", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[struct {
		Data struct {
			K      int       `json:"k"`
			Count  int       `json:"count"`
			Min    float64   `json:"min"`
			Max    float64   `json:"max"`
			Breaks []float64 `json:"breaks"`
		} `json:"data"`
	}](t, rec)
	assert.Equal(t, 4, resp.Data.K)
	assert.Equal(t, 12, resp.Data.Count)
	assert.Equal(t, 310.0, resp.Data.Min)
	assert.Equal(t, 110240.0, resp.Data.Max)
	assert.Equal(t, []float64{39470, 48030, 67350}, resp.Data.Breaks)

	// second call is served from the cache
	again := s.do(t, http.MethodGet, "/api/v1/stats/population-quantiles?k=4", "", "")
	assert.Equal(t, rec.Body.String(), again.Body.String())
	_, err := s.memory.Get(context.Background(), cacheQuantiles+"4")
	assert.NoError(t, err)

	for _, q := range []string{"k=1", "k=11", "k=five"} {
		rec = s.do(t, http.MethodGet, "/api/v1/stats/population-quantiles?"+q, "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestHeatmap(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/stats/heatmap", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[struct {
		Data struct {
			Config models.KernelConfig `json:"config"`
			Points []struct {
				ID        string  `json:"id"`
				Intensity float64 `json:"intensity"`
			} `json:"points"`
		} `json:"data"`
	}](t, rec)
	assert.Equal(t, models.KernelGaussian, resp.Data.Config.Kernel)
	assert.Equal(t, 1500.0, resp.Data.Config.BandwidthM)
	require.Len(t, resp.Data.Points, len(db.SampleSubzones))
	for _, p := range resp.Data.Points {
		assert.GreaterOrEqual(t, p.Intensity, 0.0)
		assert.LessOrEqual(t, p.Intensity, 1.0)
	}
}

func TestAdminRequiresAdminRole(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/admin/stats", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.KindUnauthorized, decode[errorResponse](t, rec).Error.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/stats", "", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/stats", "", s.token(t, models.RoleViewer))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperr.KindForbidden, decode[errorResponse](t, rec).Error.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/stats", "", s.token(t, models.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[struct {
		Data models.SystemStats `json:"data"`
	}](t, rec)
	assert.Equal(t, 12, stats.Data.Subzones)
	assert.Equal(t, 2, stats.Data.Users)
}

func TestLogin(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"admin@example.com","password":"correct-horse"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Data struct {
			Token string       `json:"token"`
			User  *models.User `json:"user"`
		} `json:"data"`
	}](t, rec)
	require.NotEmpty(t, resp.Data.Token)
	assert.Equal(t, models.RoleAdmin, resp.Data.User.Role)
	assert.NotContains(t, rec.Body.String(), "password_hash")

	// the issued token opens the admin routes
	rec = s.do(t, http.MethodGet, "/api/v1/admin/snapshots", "", resp.Data.Token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"admin@example.com","password":"wrong-horse"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"admin@example.com"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "password is required", decode[errorResponse](t, rec).Error.Message)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"a@b.c","password":"x","extra":1}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshDatasets(t *testing.T) {
	s := newTestServer(t, nil)
	admin := s.token(t, models.RoleAdmin)

	// warm the cache so invalidation is observable
	s.do(t, http.MethodGet, "/api/v1/stats/population-quantiles", "", "")
	_, err := s.memory.Get(context.Background(), cacheQuantiles+"5")
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/v1/admin/refresh-datasets", "", admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Data models.DatasetSnapshot `json:"data"`
	}](t, rec)
	assert.Equal(t, models.SnapshotSuccess, resp.Data.Status)
	assert.NotEmpty(t, resp.Data.ID)
	assert.Equal(t, []models.DatasetKind{models.DatasetAll}, s.refresher.kinds)

	_, err = s.memory.Get(context.Background(), cacheQuantiles+"5")
	assert.ErrorIs(t, err, cache.ErrMiss)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/refresh-datasets", `{"kind":"population"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.DatasetPopulation, s.refresher.kinds[1])

	rec = s.do(t, http.MethodPost, "/api/v1/admin/refresh-datasets?kind=everything", "", admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 2, s.refresher.calls)
}

func TestRefreshFailureCarriesSnapshotID(t *testing.T) {
	s := newTestServer(t, nil)
	s.refresher.err = apperr.Wrap(apperr.KindUpstreamFailure, errors.New("HTTP 503"), "fetching scores")
	admin := s.token(t, models.RoleAdmin)

	rec := s.do(t, http.MethodPost, "/api/v1/admin/refresh-datasets", "", admin)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.Equal(t, apperr.KindUpstreamFailure, resp.Error.Code)
	require.NotEmpty(t, resp.Error.SnapshotID)

	// the failure snapshot is recorded and readable
	rec = s.do(t, http.MethodGet, "/api/v1/admin/snapshots/"+resp.Error.SnapshotID, "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[struct {
		Data models.DatasetSnapshot `json:"data"`
	}](t, rec)
	assert.Equal(t, models.SnapshotFailure, snap.Data.Status)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/snapshots", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Data []models.DatasetSnapshot `json:"data"`
		Meta listMeta                 `json:"meta"`
	}](t, rec)
	assert.Len(t, list.Data, 1)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/snapshots/does-not-exist", "", admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshRateLimited(t *testing.T) {
	s := newTestServer(t, rate.NewLimiter(rate.Every(time.Hour), 1))
	admin := s.token(t, models.RoleAdmin)

	rec := s.do(t, http.MethodPost, "/api/v1/admin/refresh-datasets", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/refresh-datasets", "", admin)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, apperr.KindRateLimited, decode[errorResponse](t, rec).Error.Code)
	assert.Equal(t, 1, s.refresher.calls)

	// rejected calls never start a run, so only the first one is recorded
	snaps, err := s.db.ListSnapshots(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestKernelConfigLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	admin := s.token(t, models.RoleAdmin)

	rec := s.do(t, http.MethodPost, "/api/v1/admin/kernel-configs",
		`{"name":"wide","kernel":"epanechnikov","bandwidth_m":3000,"weight_field":"composite"}`, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		Data models.KernelConfig `json:"data"`
	}](t, rec).Data
	require.NotEmpty(t, created.ID)
	assert.False(t, created.Active)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/kernel-configs",
		`{"name":"wide","kernel":"gaussian","bandwidth_m":100,"weight_field":"population"}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/kernel-configs",
		`{"name":"bad","kernel":"triangular","bandwidth_m":100,"weight_field":"population"}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error.Message, "kernel must be one of")

	rec = s.do(t, http.MethodPost, "/api/v1/admin/kernel-configs",
		`{"name":"bad","kernel":"gaussian","bandwidth_m":0,"weight_field":"population"}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// warm the heatmap cache with the default config
	s.do(t, http.MethodGet, "/api/v1/stats/heatmap", "", "")

	rec = s.do(t, http.MethodPost, "/api/v1/admin/kernel-configs/"+created.ID+"/activate", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/stats/heatmap", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	hm := decode[struct {
		Data struct {
			Config models.KernelConfig `json:"config"`
		} `json:"data"`
	}](t, rec)
	assert.Equal(t, "wide", hm.Data.Config.Name)

	rec = s.do(t, http.MethodPut, "/api/v1/admin/kernel-configs/"+created.ID,
		`{"name":"wide","kernel":"uniform","bandwidth_m":2500,"weight_field":"demand"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[struct {
		Data models.KernelConfig `json:"data"`
	}](t, rec).Data
	assert.Equal(t, models.KernelUniform, updated.Kernel)
	assert.True(t, updated.Active)

	rec = s.do(t, http.MethodGet, "/api/v1/stats/heatmap", "", "")
	hm = decode[struct {
		Data struct {
			Config models.KernelConfig `json:"config"`
		} `json:"data"`
	}](t, rec)
	assert.Equal(t, models.KernelUniform, hm.Data.Config.Kernel)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/kernel-configs", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Data []models.KernelConfig `json:"data"`
	}](t, rec)
	assert.Len(t, list.Data, 1)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/kernel-configs/missing", "", admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/admin/kernel-configs/missing/activate", "", admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzAndUnknownRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"driver":"sqlite"`)

	rec = s.do(t, http.MethodGet, "/api/v1/nothing-here", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.KindNotFound, decode[errorResponse](t, rec).Error.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/subzones", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hawker_http_requests_total")
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "6f1c1f7e-3f0e-4e43-8d6e-2b0f7b8f1c11")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "6f1c1f7e-3f0e-4e43-8d6e-2b0f7b8f1c11", rec.Header().Get("X-Request-ID"))
}
