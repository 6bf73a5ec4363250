// Package analysis is a client for the AI analysis service that compares a
// site blueprint with current imagery.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/xcelerate/sitewatch/internal/compliance"
	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/provider/resilience"
)

const (
	// DefaultBaseURL is where the analysis service listens in development.
	DefaultBaseURL = "http://localhost:8000"

	// ProviderName identifies this provider.
	ProviderName = "ai-service"

	// DeviationCalibrationFactor scales the raw deviation reported by the
	// service, which over-detects encroachment.
	DeviationCalibrationFactor = 0.35

	maxImageBytes = 32 << 20
)

// ErrInvalidDataURL is returned for malformed data URLs.
var ErrInvalidDataURL = errors.New("invalid data url")

// CalibrateDeviation applies DeviationCalibrationFactor and rounds to two decimals.
func CalibrateDeviation(raw float64) float64 {
	return math.Round(raw*DeviationCalibrationFactor*100) / 100
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the analysis client.
type ClientConfig struct {
	BaseURL string

	// HTTPClient, if nil, is a resilient client with retries.
	HTTPClient HTTPDoer

	// Timeout for individual requests (default: 60s).
	Timeout time.Duration

	Registry *resilience.Registry
	Logger   zerolog.Logger
}

// Client calls the analysis service.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a new analysis client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		rc := resilience.DefaultClientConfig(ProviderName)
		if cfg.Timeout > 0 {
			rc.Timeout = cfg.Timeout
		} else {
			rc.Timeout = 60 * time.Second
		}
		rc.Registry = cfg.Registry
		httpClient = resilience.NewClient(rc)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

type overlayResponse struct {
	SimilarityScore     float64 `json:"similarity_score"`
	ChangesCount        int     `json:"changes_count"`
	DeviationPercentage float64 `json:"deviation_percentage"`
	ResultImage         string  `json:"result_image"`
	Status              string  `json:"status"`
	Message             string  `json:"message"`
}

// Overlay compares a blueprint image with imagery inside box. The returned
// deviation is already calibrated.
func (c *Client) Overlay(ctx context.Context, blueprint []byte, box geometry.BoundingBox) (compliance.AnalysisResult, error) {
	body, contentType, err := multipartBody("processed_blueprint.png", blueprint, map[string]string{
		"bounds": geometry.InternalBBox(box),
	})
	if err != nil {
		return compliance.AnalysisResult{}, err
	}

	var out overlayResponse
	if err := c.post(ctx, "/analyze/overlay", body, contentType, &out); err != nil {
		return compliance.AnalysisResult{}, fmt.Errorf("overlay analysis: %w", err)
	}

	return compliance.AnalysisResult{
		SimilarityScore:     out.SimilarityScore,
		ChangesCount:        out.ChangesCount,
		DeviationPercentage: CalibrateDeviation(out.DeviationPercentage),
		ResultImageURL:      out.ResultImage,
	}, nil
}

type cropResponse struct {
	CroppedImage string `json:"cropped_image"`
}

// CropBlueprint asks the service to crop a blueprint to its red boundary and
// returns the cropped image as a data URL. Any failure is logged and the
// original URL is returned.
func (c *Client) CropBlueprint(ctx context.Context, imageURL string) string {
	cropped, err := c.cropBlueprint(ctx, imageURL)
	if err != nil {
		c.logger.Warn().Err(err).Str("image_url", imageURL).Msg("blueprint crop failed, using original")
		return imageURL
	}
	return cropped
}

func (c *Client) cropBlueprint(ctx context.Context, imageURL string) (string, error) {
	img, err := c.download(ctx, imageURL)
	if err != nil {
		return "", err
	}

	body, contentType, err := multipartBody("blueprint.png", img, nil)
	if err != nil {
		return "", err
	}

	var out cropResponse
	if err := c.post(ctx, "/analyze/crop-red-border", body, contentType, &out); err != nil {
		return "", err
	}
	if out.CroppedImage == "" {
		return "", errors.New("empty cropped_image")
	}
	return out.CroppedImage, nil
}

// CheckSite crops the blueprint and runs the overlay against the site bounds.
func (c *Client) CheckSite(ctx context.Context, bounds geometry.Polygon, blueprintURL string) (compliance.AnalysisResult, error) {
	box, err := geometry.BoundingBoxOf(bounds)
	if err != nil {
		return compliance.AnalysisResult{}, err
	}

	processed := c.CropBlueprint(ctx, blueprintURL)

	var blueprint []byte
	if strings.HasPrefix(processed, "data:") {
		blueprint, _, err = DecodeDataURL(processed)
	} else {
		blueprint, err = c.download(ctx, processed)
	}
	if err != nil {
		return compliance.AnalysisResult{}, fmt.Errorf("load blueprint: %w", err)
	}

	return c.Overlay(ctx, blueprint, box)
}

// DecodeDataURL decodes a base64 "data:<mime>;base64,<payload>" URL.
func DecodeDataURL(s string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return nil, "", ErrInvalidDataURL
	}
	meta := strings.TrimPrefix(header, "data:")
	mime, encoding, _ := strings.Cut(meta, ";")
	if mime == "" {
		mime = "image/png"
	}
	if encoding != "base64" {
		return nil, "", fmt.Errorf("%w: unsupported encoding %q", ErrInvalidDataURL, encoding)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return data, mime, nil
}

func (c *Client) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}

func (c *Client) post(ctx context.Context, path string, body []byte, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func multipartBody(filename string, file []byte, fields map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(file); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
