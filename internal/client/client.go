// Package client is a typed client for the /api/v1 REST API. It satisfies
// mapstate.GeoFetcher so a map session can load boundaries through it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"

	"hawker-score/internal/models"
)

// ErrNetwork wraps transport failures: the server was never reached or the
// response could not be read
var ErrNetwork = errors.New("network error")

// APIError is a non-2xx response
type APIError struct {
	Status     int
	Code       string
	Message    string
	SnapshotID string
}

func (e *APIError) Error() string {
	if e.SnapshotID != "" {
		return fmt.Sprintf("HTTP %d %s: %s (snapshot %s)", e.Status, e.Code, e.Message, e.SnapshotID)
	}
	return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

// Client calls the API. It does not retry.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the bearer token used for admin calls
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for the server at baseURL (e.g. http://localhost:8080)
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetToken replaces the bearer token
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// response is the success envelope
type response struct {
	Data     json.RawMessage `json:"data"`
	Meta     json.RawMessage `json:"meta"`
	NotFound []string        `json:"not_found"`
}

type errorBody struct {
	Error struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		SnapshotID string `json:"snapshot_id"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) (*response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Code: "http_error", Message: http.StatusText(resp.StatusCode)}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Code != "" {
			apiErr.Code = eb.Error.Code
			apiErr.Message = eb.Error.Message
			apiErr.SnapshotID = eb.Error.SnapshotID
		}
		return nil, apiErr
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, data interface{}) (*response, error) {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := json.Unmarshal(resp.Data, data); err != nil {
			return nil, fmt.Errorf("decoding data: %w", err)
		}
	}
	return resp, nil
}

// Page is the pagination block of list responses
type Page struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// SubzonePage is one page of the subzone list
type SubzonePage struct {
	Items []models.SubzoneListItem
	Page  Page
}

// ListSubzones lists subzones. params takes region, q, percentile_min,
// limit and offset.
func (c *Client) ListSubzones(ctx context.Context, params url.Values) (*SubzonePage, error) {
	var out SubzonePage
	resp, err := c.get(ctx, "/api/v1/subzones", params, &out.Items)
	if err != nil {
		return nil, err
	}
	if len(resp.Meta) > 0 {
		if err := json.Unmarshal(resp.Meta, &out.Page); err != nil {
			return nil, fmt.Errorf("decoding meta: %w", err)
		}
	}
	return &out, nil
}

// GetSubzone fetches one subzone with geometry
func (c *Client) GetSubzone(ctx context.Context, id string) (*models.SubzoneDetail, error) {
	var out models.SubzoneDetail
	if _, err := c.get(ctx, "/api/v1/subzones/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BatchResult is the comparison fetch result
type BatchResult struct {
	Subzones []models.SubzoneDetail
	NotFound []string
}

// BatchSubzones fetches 2 to 8 subzones by id
func (c *Client) BatchSubzones(ctx context.Context, ids []string) (*BatchResult, error) {
	var out BatchResult
	resp, err := c.get(ctx, "/api/v1/subzones:batch", url.Values{"ids": {strings.Join(ids, ",")}}, &out.Subzones)
	if err != nil {
		return nil, err
	}
	out.NotFound = resp.NotFound
	return &out, nil
}

// GeoJSON fetches subzone boundaries. An empty fields list selects every
// property; simplify is passed through ("true", "false" or a tolerance).
func (c *Client) GeoJSON(ctx context.Context, fields []string, simplify string) (*geojson.FeatureCollection, error) {
	q := url.Values{}
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}
	if simplify != "" {
		q.Set("simplify", simplify)
	}
	resp, err := c.get(ctx, "/api/v1/geo/subzones", q, nil)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding feature collection: %w", err)
	}
	return fc, nil
}

// FetchGeo loads simplified boundaries with every property, the primary
// source of the map's boundary loader
func (c *Client) FetchGeo(ctx context.Context) (*geojson.FeatureCollection, error) {
	return c.GeoJSON(ctx, nil, "true")
}

// Quantiles is the population quantile summary
type Quantiles struct {
	K      int       `json:"k"`
	Count  int       `json:"count"`
	Min    *float64  `json:"min"`
	Max    *float64  `json:"max"`
	Breaks []float64 `json:"breaks"`
}

// PopulationQuantiles fetches k-class population breaks; k <= 0 uses the
// server default
func (c *Client) PopulationQuantiles(ctx context.Context, k int) (*Quantiles, error) {
	q := url.Values{}
	if k > 0 {
		q.Set("k", strconv.Itoa(k))
	}
	var out Quantiles
	if _, err := c.get(ctx, "/api/v1/stats/population-quantiles", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HeatPoint is one heatmap sample
type HeatPoint struct {
	ID        string  `json:"id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Weight    float64 `json:"weight"`
	Intensity float64 `json:"intensity"`
}

// Heatmap is the kernel density surface and the config that produced it
type Heatmap struct {
	Config models.KernelConfig `json:"config"`
	Points []HeatPoint         `json:"points"`
}

// Heatmap fetches the kernel density heatmap
func (c *Client) Heatmap(ctx context.Context) (*Heatmap, error) {
	var out Heatmap
	if _, err := c.get(ctx, "/api/v1/stats/heatmap", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session is a successful login
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Login signs in and keeps the token for later admin calls
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", nil, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	var out Session
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	c.SetToken(out.Token)
	return &out, nil
}

// RefreshDatasets triggers a synchronous refresh. A failed run returns an
// *APIError whose SnapshotID names the failure snapshot.
func (c *Client) RefreshDatasets(ctx context.Context, kind models.DatasetKind) (*models.DatasetSnapshot, error) {
	var body interface{}
	if kind != "" {
		body = map[string]string{"kind": string(kind)}
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/admin/refresh-datasets", nil, body)
	if err != nil {
		return nil, err
	}
	var out models.DatasetSnapshot
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &out, nil
}

// ListSnapshots lists refresh snapshots newest first
func (c *Client) ListSnapshots(ctx context.Context, limit, offset int) ([]models.DatasetSnapshot, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var out []models.DatasetSnapshot
	if _, err := c.get(ctx, "/api/v1/admin/snapshots", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats fetches the admin counters
func (c *Client) Stats(ctx context.Context) (*models.SystemStats, error) {
	var out models.SystemStats
	if _, err := c.get(ctx, "/api/v1/admin/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
