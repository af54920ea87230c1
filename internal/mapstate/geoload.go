package mapstate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
)

// FallbackGeoPath is where the server publishes the static boundary file
const FallbackGeoPath = "/static/data/subzones.geojson"

// MaxGeoBytes caps the static boundary file download
const MaxGeoBytes = 32 << 20

// ErrGeoTooLarge is returned when the static boundary file exceeds the cap
var ErrGeoTooLarge = errors.New("boundary file too large")

// GeoState is the outcome of loading subzone boundaries
type GeoState int

const (
	GeoIdle GeoState = iota
	GeoLoaded
	GeoFallback
	GeoFailed
)

func (s GeoState) String() string {
	switch s {
	case GeoLoaded:
		return "loaded"
	case GeoFallback:
		return "fallback"
	case GeoFailed:
		return "failed"
	default:
		return "idle"
	}
}

// GeoFetcher fetches the boundary FeatureCollection from the API
type GeoFetcher interface {
	FetchGeo(ctx context.Context) (*geojson.FeatureCollection, error)
}

// GeoFetcherFunc adapts a function to GeoFetcher
type GeoFetcherFunc func(ctx context.Context) (*geojson.FeatureCollection, error)

func (f GeoFetcherFunc) FetchGeo(ctx context.Context) (*geojson.FeatureCollection, error) {
	return f(ctx)
}

// GeoResult is what the map renders from. Collection is nil when State is
// GeoFailed; Errors holds every attempt that failed along the way.
type GeoResult struct {
	State      GeoState
	Source     string
	Collection *geojson.FeatureCollection
	Errors     []error
}

// Err joins the attempt errors
func (r GeoResult) Err() error {
	return errors.Join(r.Errors...)
}

// GeoLoader walks the boundary fallback chain: the API first, then the
// static file (by URL, then by local path), and finally GeoFailed.
type GeoLoader struct {
	Primary      GeoFetcher
	FallbackURL  string
	FallbackPath string
	HTTPClient   *http.Client
	// MaxBytes caps the fallback URL download, MaxGeoBytes when zero
	MaxBytes int64
	Logger   *zap.Logger
}

// Load runs the chain. It never returns an error or panics; failure is
// reported through GeoResult.State.
func (l *GeoLoader) Load(ctx context.Context) GeoResult {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var res GeoResult
	if l.Primary != nil {
		fc, err := attempt(func() (*geojson.FeatureCollection, error) { return l.Primary.FetchGeo(ctx) })
		if err == nil {
			return GeoResult{State: GeoLoaded, Source: "api", Collection: fc}
		}
		logger.Warn("Boundary API failed, trying fallback", zap.Error(err))
		res.Errors = append(res.Errors, fmt.Errorf("api: %w", err))
	}

	if l.FallbackURL != "" {
		fc, err := attempt(func() (*geojson.FeatureCollection, error) { return l.fetchURL(ctx) })
		if err == nil {
			return GeoResult{State: GeoFallback, Source: l.FallbackURL, Collection: fc, Errors: res.Errors}
		}
		logger.Warn("Static boundary URL failed", zap.String("url", l.FallbackURL), zap.Error(err))
		res.Errors = append(res.Errors, fmt.Errorf("fallback url: %w", err))
	}

	if l.FallbackPath != "" {
		fc, err := attempt(func() (*geojson.FeatureCollection, error) { return readCollectionFile(l.FallbackPath) })
		if err == nil {
			return GeoResult{State: GeoFallback, Source: l.FallbackPath, Collection: fc, Errors: res.Errors}
		}
		logger.Warn("Static boundary file failed", zap.String("path", l.FallbackPath), zap.Error(err))
		res.Errors = append(res.Errors, fmt.Errorf("fallback file: %w", err))
	}

	if len(res.Errors) == 0 {
		res.Errors = append(res.Errors, errors.New("no boundary source configured"))
	}
	res.State = GeoFailed
	logger.Error("Boundaries unavailable", zap.Error(res.Err()))
	return res
}

// attempt runs one step of the chain, turning panics and empty results
// into errors
func attempt(fn func() (*geojson.FeatureCollection, error)) (fc *geojson.FeatureCollection, err error) {
	defer func() {
		if r := recover(); r != nil {
			fc, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	fc, err = fn()
	if err == nil && fc == nil {
		err = errors.New("empty response")
	}
	return fc, err
}

func (l *GeoLoader) fetchURL(ctx context.Context) (*geojson.FeatureCollection, error) {
	client := l.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.FallbackURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	limit := l.MaxBytes
	if limit <= 0 {
		limit = MaxGeoBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrGeoTooLarge, limit)
	}
	return geojson.UnmarshalFeatureCollection(body)
}

func readCollectionFile(path string) (*geojson.FeatureCollection, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return geojson.UnmarshalFeatureCollection(body)
}
