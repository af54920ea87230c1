package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hawker-score/internal/api"
	"hawker-score/internal/auth"
	"hawker-score/internal/cache"
	"hawker-score/internal/db"
	"hawker-score/internal/db/dbtest"
	"hawker-score/internal/mapstate"
	"hawker-score/internal/models"
)

type failingRefresher struct {
	db *db.DB
}

func (f *failingRefresher) Run(ctx context.Context, kind models.DatasetKind) (*models.DatasetSnapshot, error) {
	msg := "fetching scores: HTTP 503"
	now := time.Now().UTC()
	snap := &models.DatasetSnapshot{Kind: kind, Status: models.SnapshotFailure, StartedAt: now, FinishedAt: now, Error: &msg}
	if err := f.db.InsertSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, errors.New(msg)
}

const fallbackCollection = `{"type":"FeatureCollection","features":[{"type":"Feature","id":"BDSZ01","properties":{"id":"BDSZ01"},"geometry":{"type":"Polygon","coordinates":[[[103.92,1.32],[103.94,1.32],[103.94,1.34],[103.92,1.32]]]}}]}`

// newServer starts the full router over a seeded database, with a static
// directory holding the boundary fallback file and the index template
func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	database := dbtest.Seeded(t)
	issuer, err := auth.NewIssuer("client-test-secret", time.Hour)
	require.NoError(t, err)
	svc := auth.NewService(database, issuer)
	_, err = svc.CreateUser(context.Background(), "admin@example.com", "correct-horse", models.RoleAdmin)
	require.NoError(t, err)

	root := t.TempDir()
	static := filepath.Join(root, "static")
	require.NoError(t, os.MkdirAll(filepath.Join(static, "data"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "templates"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(static, "data", "subzones.geojson"), []byte(fallbackCollection), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "templates", "index.html"),
		[]byte(`<html data-basemap="{{.StyleURL}}" data-token="{{.MapToken}}" data-v="{{.V}}"></html>`), 0o644))

	h := api.NewHandlers(api.Deps{
		DB:        database,
		Cache:     cache.NewLoader(cache.NewMemory(), time.Minute, zap.NewNop()),
		Refresher: &failingRefresher{db: database},
		Auth:      svc,
		Issuer:    issuer,
	})
	srv := httptest.NewServer(api.NewRouter(h, api.RouterOptions{
		StaticDir:     static,
		MapToken:      "pk.not-long-enough",
		ProviderStyle: "mapbox://styles/mapbox/light-v11",
		OpenStyle:     "https://demotiles.maplibre.org/style.json",
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientReadEndpoints(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	page, err := c.ListSubzones(ctx, url.Values{"region": {"EAST"}})
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)
	assert.Equal(t, 3, page.Page.Total)

	d, err := c.GetSubzone(ctx, "BDSZ01")
	require.NoError(t, err)
	assert.Equal(t, "Bedok North", d.Name)

	batch, err := c.BatchSubzones(ctx, []string{"BDSZ01", "MISSING"})
	require.NoError(t, err)
	require.Len(t, batch.Subzones, 1)
	assert.Equal(t, []string{"MISSING"}, batch.NotFound)

	q, err := c.PopulationQuantiles(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, q.K)
	assert.Len(t, q.Breaks, 4)

	fc, err := c.GeoJSON(ctx, []string{"name"}, "")
	require.NoError(t, err)
	assert.Len(t, fc.Features, len(db.SampleSubzones))

	hm, err := c.Heatmap(ctx)
	require.NoError(t, err)
	assert.Len(t, hm.Points, len(db.SampleSubzones))
}

func TestClientAPIErrors(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	_, err := c.GetSubzone(ctx, "NOPE01")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "not_found", apiErr.Code)

	_, err = c.BatchSubzones(ctx, []string{"ONLY1"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "validation", apiErr.Code)

	_, err = c.Stats(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestClientAdminFlow(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	_, err := c.Login(ctx, "admin@example.com", "wrong-horse")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	session, err := c.Login(ctx, "admin@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, session.User.Role)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, stats.Subzones)

	_, err = c.RefreshDatasets(ctx, models.DatasetScores)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream_failure", apiErr.Code)
	require.NotEmpty(t, apiErr.SnapshotID)

	snaps, err := c.ListSnapshots(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, apiErr.SnapshotID, snaps[0].ID)
	assert.Equal(t, models.DatasetScores, snaps[0].Kind)
}

func TestClientNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := New(base).ListSubzones(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNetwork)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestClientNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Heatmap(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "http_error", apiErr.Code)
}

func TestMapLoadsThroughClientAndFallback(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	loader := &mapstate.GeoLoader{Primary: New(srv.URL), FallbackURL: srv.URL + mapstate.FallbackGeoPath}
	res := loader.Load(ctx)
	require.Equal(t, mapstate.GeoLoaded, res.State, res.Err())
	assert.Len(t, res.Collection.Features, len(db.SampleSubzones))

	// API unreachable: the static file served by the same router is used
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()
	loader.Primary = New(downURL)
	res = loader.Load(ctx)
	require.Equal(t, mapstate.GeoFallback, res.State)
	assert.Len(t, res.Collection.Features, 1)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], ErrNetwork)

	loader.FallbackURL = downURL + mapstate.FallbackGeoPath
	res = loader.Load(ctx)
	assert.Equal(t, mapstate.GeoFailed, res.State)
}

func TestIndexPageUsesOpenStyleForMalformedToken(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, `data-basemap="https://demotiles.maplibre.org/style.json"`)
	assert.Contains(t, body, `data-token=""`)
}
