package mapstate

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrControllerClosed = errors.New("map controller is closed")

// LayerKind is the render type of a map layer
type LayerKind string

const (
	LayerFill    LayerKind = "fill"
	LayerLine    LayerKind = "line"
	LayerHeatmap LayerKind = "heatmap"
	LayerCircle  LayerKind = "circle"
)

// Layer is one named map layer
type Layer struct {
	ID      string
	Kind    LayerKind
	Source  string
	Visible bool
	Paint   map[string]any
}

// Palette is the sequential choropleth palette, light to dark
var Palette = []string{
	"#fff5eb", "#fee6ce", "#fdd0a2", "#fdae6b", "#fd8d3c",
	"#f16913", "#d94801", "#a63603", "#7f2704", "#4a1502",
}

// NoDataColor fills subzones without a value
const NoDataColor = "#d9d9d9"

// ControllerOptions configure the map controller
type ControllerOptions struct {
	Token         string
	ProviderStyle string
	OpenStyle     string
}

// Controller owns the map instance state. It is created once per page with
// NewController and released with Close.
type Controller struct {
	mu      sync.Mutex
	style   string
	layers  []Layer
	index   map[string]int
	buckets Buckets
	closed  bool
}

// NewController creates a controller using the style chosen by StyleURL
func NewController(opts ControllerOptions) *Controller {
	return &Controller{
		style: StyleURL(opts.Token, opts.ProviderStyle, opts.OpenStyle),
		index: make(map[string]int),
	}
}

func (c *Controller) Style() string { return c.style }

// UpsertLayer adds l, or replaces the layer with the same id in place so
// repeated calls never duplicate a layer
func (c *Controller) UpsertLayer(l Layer) error {
	if l.ID == "" {
		return fmt.Errorf("layer id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}
	if i, ok := c.index[l.ID]; ok {
		c.layers[i] = l
		return nil
	}
	c.index[l.ID] = len(c.layers)
	c.layers = append(c.layers, l)
	return nil
}

// RemoveLayer drops a layer and reports whether it existed
func (c *Controller) RemoveLayer(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrControllerClosed
	}
	i, ok := c.index[id]
	if !ok {
		return false, nil
	}
	c.layers = append(c.layers[:i], c.layers[i+1:]...)
	delete(c.index, id)
	for j := i; j < len(c.layers); j++ {
		c.index[c.layers[j].ID] = j
	}
	return true, nil
}

// SetVisible toggles a layer's visibility
func (c *Controller) SetVisible(id string, visible bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}
	i, ok := c.index[id]
	if !ok {
		return fmt.Errorf("unknown layer %q", id)
	}
	c.layers[i].Visible = visible
	return nil
}

// Layers returns the layers in draw order
func (c *Controller) Layers() []Layer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Layer, len(c.layers))
	copy(out, c.layers)
	return out
}

// SetBreaks installs the quantile breaks used for ColorFor
func (c *Controller) SetBreaks(breaks []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}
	c.buckets = NewBuckets(breaks)
	return nil
}

// ColorFor colors a value with the current breaks
func (c *Controller) ColorFor(v *float64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buckets.ColorFor(v)
}

// Close releases the controller. It is safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.layers = nil
	c.index = make(map[string]int)
	return nil
}

// Buckets classifies values by quantile breaks. len(Breaks)+1 classes.
type Buckets struct {
	Breaks []float64
}

// NewBuckets copies breaks
func NewBuckets(breaks []float64) Buckets {
	return Buckets{Breaks: append([]float64(nil), breaks...)}
}

// Classes is the number of buckets
func (b Buckets) Classes() int { return len(b.Breaks) + 1 }

// BucketFor returns the index of the first break strictly greater than v,
// or len(Breaks) when v is at or above every break
func (b Buckets) BucketFor(v float64) int {
	for i, br := range b.Breaks {
		if br > v {
			return i
		}
	}
	return len(b.Breaks)
}

// ColorFor maps a value to a palette color, spreading the classes across
// the whole palette. nil values get NoDataColor.
func (b Buckets) ColorFor(v *float64) string {
	if v == nil {
		return NoDataColor
	}
	i := b.BucketFor(*v)
	n := b.Classes()
	if n <= 1 {
		return Palette[0]
	}
	return Palette[i*(len(Palette)-1)/(n-1)]
}

// ValidToken reports whether token looks like a public map provider token
func ValidToken(token string) bool {
	token = strings.TrimSpace(token)
	return strings.HasPrefix(token, "pk.") && len(token) >= 20
}

// StyleURL picks the provider style when a well-formed token is configured,
// otherwise the token-free open style
func StyleURL(token, providerStyle, openStyle string) string {
	if ValidToken(token) && providerStyle != "" {
		return providerStyle
	}
	return openStyle
}
