// Package overpass queries the OpenStreetMap Overpass API for facilities
// around a point.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/provider/resilience"
	"github.com/xcelerate/sitewatch/internal/risk"
)

const (
	// DefaultURL is the public Overpass interpreter.
	DefaultURL = "https://overpass-api.de/api/interpreter"

	// ProviderName identifies this provider.
	ProviderName = "overpass"

	// serverTimeoutSeconds is the [timeout:] setting sent with each query.
	serverTimeoutSeconds = 15
)

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the Overpass client.
type ClientConfig struct {
	// URL is the interpreter endpoint (default: DefaultURL).
	URL string

	// HTTPClient, if nil, is a single-shot resilient client. The scan
	// deadline comes from the caller's context.
	HTTPClient HTTPDoer

	// Registry receives the default HTTP client for health reporting.
	Registry *resilience.Registry
}

// Client is an Overpass API client. It implements risk.Source.
type Client struct {
	url        string
	httpClient HTTPDoer
}

// NewClient creates a new Overpass client.
func NewClient(cfg ClientConfig) *Client {
	u := cfg.URL
	if u == "" {
		u = DefaultURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		rc := resilience.SingleShotConfig(ProviderName, 30*time.Second)
		rc.Registry = cfg.Registry
		httpClient = resilience.NewClient(rc)
	}

	return &Client{url: u, httpClient: httpClient}
}

type response struct {
	Elements []risk.Element `json:"elements"`
}

// Query POSTs the facility query and returns the raw elements.
func (c *Client) Query(ctx context.Context, center geometry.Point, radiusMeters float64) ([]risk.Element, error) {
	body := BuildQuery(center, radiusMeters)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overpass query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("overpass returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode overpass response: %w", err)
	}
	return out.Elements, nil
}

// BuildQuery renders the Overpass QL union for every facility predicate
// the classifier knows about.
func BuildQuery(center geometry.Point, radiusMeters float64) string {
	around := fmt.Sprintf("(around:%s,%s,%s)",
		strconv.FormatFloat(radiusMeters, 'f', -1, 64),
		strconv.FormatFloat(center.Lat, 'f', -1, 64),
		strconv.FormatFloat(center.Lng, 'f', -1, 64),
	)

	statements := []string{
		`node["power"="plant"]`,
		`way["power"="plant"]`,
		`node["industrial"~"chemical|textile|tannery"]`,
		`way["industrial"~"chemical|textile|tannery"]`,
		`node["man_made"="works"]`,
		`way["man_made"="works"]`,
		`node["amenity"="waste_disposal"]`,
		`way["landuse"="landfill"]`,
		`node["landuse"="landfill"]`,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n(\n", serverTimeoutSeconds)
	for _, s := range statements {
		b.WriteString("  ")
		b.WriteString(s)
		b.WriteString(around)
		b.WriteString(";\n")
	}
	b.WriteString(");\nout center;\n")
	return b.String()
}
