// Package sentinelhub fetches true-color satellite tiles from the Sentinel Hub
// OGC WMS endpoint.
package sentinelhub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/imagery"
	"github.com/xcelerate/sitewatch/internal/provider/resilience"
)

const (
	// DefaultTokenURL is the Sentinel Hub OAuth token endpoint.
	DefaultTokenURL = "https://services.sentinel-hub.com/oauth/token"

	// ProviderName identifies this provider.
	ProviderName = "sentinel-hub"
)

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds configuration for the Sentinel Hub client.
type Config struct {
	// WMSURL is the instance-specific WMS endpoint,
	// e.g. https://services.sentinel-hub.com/ogc/wms/<instance-id>.
	WMSURL       string
	TokenURL     string
	ClientID     string
	ClientSecret string

	// Timeout for individual requests (default: 15s).
	Timeout time.Duration

	// HTTPClient, if nil, is a single-shot resilient client.
	HTTPClient HTTPDoer

	// Registry receives the default HTTP client for health reporting.
	Registry *resilience.Registry

	// Now is the token clock. Defaults to time.Now.
	Now func() time.Time

	Logger zerolog.Logger
}

// ConfigFromEnv reads SENTINEL_* environment variables.
func ConfigFromEnv() Config {
	return Config{
		WMSURL:       os.Getenv("SENTINEL_WMS_URL"),
		TokenURL:     getEnvOrDefault("SENTINEL_TOKEN_URL", DefaultTokenURL),
		ClientID:     os.Getenv("SENTINEL_CLIENT_ID"),
		ClientSecret: os.Getenv("SENTINEL_CLIENT_SECRET"),
	}
}

// Configured reports whether the credentials and endpoint are set.
func (c Config) Configured() bool {
	return c.WMSURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// Client is a Sentinel Hub WMS client. It implements imagery.Provider.
type Client struct {
	wmsURL     string
	httpClient HTTPDoer
	tokens     *TokenSource
	logger     zerolog.Logger
}

// NewClient creates a new Sentinel Hub client with its own token cache.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		rc := resilience.SingleShotConfig(ProviderName, timeout)
		rc.Registry = cfg.Registry
		httpClient = resilience.NewClient(rc)
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	return &Client{
		wmsURL:     strings.TrimSuffix(cfg.WMSURL, "/"),
		httpClient: httpClient,
		tokens: NewTokenSource(TokenSourceConfig{
			TokenURL:     tokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			HTTPClient:   httpClient,
			Now:          cfg.Now,
		}),
		logger: cfg.Logger,
	}
}

// Tokens exposes the client's token cache.
func (c *Client) Tokens() *TokenSource {
	return c.tokens
}

// GetMapQuery builds the WMS GetMap query for a tile request.
func GetMapQuery(req imagery.TileRequest) url.Values {
	req = req.Normalize()
	o := req.Options
	return url.Values{
		"SERVICE": {"WMS"},
		"REQUEST": {"GetMap"},
		"LAYERS":  {o.Layer},
		"MAXCC":   {strconv.Itoa(o.CloudCoverPercent())},
		"TIME":    {req.TimeRange.String()},
		"BBOX":    {geometry.ProviderBBox(req.BBox)},
		"WIDTH":   {strconv.Itoa(o.Width)},
		"HEIGHT":  {strconv.Itoa(o.Height)},
		"FORMAT":  {o.Format},
		"CRS":     {o.CRS},
	}
}

// FetchTile fetches one tile. Failures are not retried; a 401 empties the
// token cache so the next call re-authenticates.
func (c *Client) FetchTile(ctx context.Context, req imagery.TileRequest) (*imagery.Tile, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("sentinel hub credential refresh failed")
		return nil, err
	}

	u := c.wmsURL + "?" + GetMapQuery(req).Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, &imagery.UnavailableError{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &imagery.UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		return nil, &imagery.UnavailableError{
			StatusCode:   resp.StatusCode,
			ProviderBody: string(body),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &imagery.UnavailableError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read tile: %w", err)}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = req.Normalize().Options.Format
	}

	return &imagery.Tile{
		Data:        data,
		ContentType: contentType,
		CacheMaxAge: imagery.DefaultCacheMaxAge,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
