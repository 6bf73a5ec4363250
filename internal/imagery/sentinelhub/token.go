package sentinelhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xcelerate/sitewatch/internal/imagery"
)

// TokenBuffer is subtracted from the provider-declared token lifetime so a
// token is refreshed before the provider considers it expired.
const TokenBuffer = 60 * time.Second

// maxErrorBody caps how much of a provider error body is kept.
const maxErrorBody = 4 << 10

// TokenSourceConfig holds configuration for a TokenSource.
type TokenSourceConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	// HTTPClient performs the token request.
	HTTPClient HTTPDoer

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	// Buffer overrides TokenBuffer.
	Buffer time.Duration

	// RefreshTimeout bounds one token request (default: 10s). The request
	// is not tied to any single caller's context.
	RefreshTimeout time.Duration
}

// TokenSource caches an OAuth2 client-credentials access token.
//
// The cache is either empty or holds a token with an expiry. Token returns
// the cached value while now < expiry; otherwise it refreshes. Concurrent
// refreshes share one request.
type TokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   HTTPDoer
	now          func() time.Time
	buffer       time.Duration
	timeout      time.Duration

	mu     sync.Mutex
	token  string
	expiry time.Time

	group singleflight.Group
}

// NewTokenSource creates an empty TokenSource.
func NewTokenSource(cfg TokenSourceConfig) *TokenSource {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	buffer := cfg.Buffer
	if buffer == 0 {
		buffer = TokenBuffer
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	timeout := cfg.RefreshTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &TokenSource{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
		now:          now,
		buffer:       buffer,
		timeout:      timeout,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Token returns a valid access token, refreshing it if needed. Callers
// share one in-flight refresh; a caller whose ctx ends stops waiting without
// cancelling the refresh for the others.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := s.cached(); ok {
		return tok, nil
	}

	ch := s.group.DoChan("token", func() (interface{}, error) {
		// Another flight may have refreshed while we waited.
		if tok, ok := s.cached(); ok {
			return tok, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate empties the cache so the next Token call refreshes.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiry = time.Time{}
}

// Expiry returns the current expiry, or the zero time when empty.
func (s *TokenSource) Expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiry
}

func (s *TokenSource) cached() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Before(s.expiry) {
		return s.token, true
	}
	return "", false
}

func (s *TokenSource) refresh(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &imagery.CredentialRefreshError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	issuedAt := s.now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &imagery.CredentialRefreshError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &imagery.CredentialRefreshError{
			StatusCode:   resp.StatusCode,
			ProviderBody: string(body),
		}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", &imagery.CredentialRefreshError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return "", &imagery.CredentialRefreshError{StatusCode: resp.StatusCode, ProviderBody: "empty access_token"}
	}

	expiry := issuedAt.Add(time.Duration(tr.ExpiresIn)*time.Second - s.buffer)

	s.mu.Lock()
	s.token = tr.AccessToken
	s.expiry = expiry
	s.mu.Unlock()

	return tr.AccessToken, nil
}
