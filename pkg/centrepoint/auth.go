// Package centrepoint implements the CentrePoint API client: OAuth2
// client-credentials authentication and paginated daily-statistics fetching.
package centrepoint

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/sensorcloud/centrepoint-sync/pkg/errors"
	"github.com/sensorcloud/centrepoint-sync/pkg/metrics"
	"github.com/sensorcloud/centrepoint-sync/pkg/models"
)

// Authenticator obtains bearer tokens and signs outbound requests.
//
// Implementations must be safe for concurrent use: EnsureToken is
// single-flight, so N concurrent first-use Sign calls result in exactly one
// token request.
type Authenticator interface {
	// EnsureToken makes sure a token is cached, minting one if needed.
	EnsureToken(ctx context.Context) error
	// Sign attaches an Authorization header to the request, obtaining a
	// token first if none is cached.
	Sign(ctx context.Context, req *http.Request) error
	// Invalidate drops the cached token so the next call re-authenticates.
	Invalidate()
}

// ClientCredentialsAuth implements Authenticator with the OAuth2
// client-credentials grant.
//
// The token is fetched lazily on first use and cached for the lifetime of the
// authenticator. There is no expiry tracking or mid-run refresh: if the
// upstream token expires before the sync finishes, requests start failing with
// authorization errors and the run fails. The fetcher's one forced
// re-authentication on 401 (via Invalidate) is the only recovery path.
type ClientCredentialsAuth struct {
	creds      models.Credentials
	httpClient *http.Client
	logger     *zap.Logger

	mu         sync.Mutex
	token      string
	obtainedAt time.Time
}

// NewClientCredentialsAuth creates an authenticator for the given credentials.
func NewClientCredentialsAuth(creds models.Credentials, httpClient *http.Client, logger *zap.Logger) *ClientCredentialsAuth {
	return &ClientCredentialsAuth{
		creds:      creds,
		httpClient: httpClient,
		logger:     logger.With(zap.String("component", "auth")),
	}
}

// EnsureToken mints and caches a token if none is held. The mutex spans the
// token POST: that is the single-flight critical section, and concurrent
// callers are meant to wait for the in-flight result rather than race.
func (a *ClientCredentialsAuth) EnsureToken(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" {
		return nil
	}
	return a.obtainTokenLocked(ctx)
}

// Sign attaches "Authorization: Bearer <token>" to req, authenticating first
// if needed.
func (a *ClientCredentialsAuth) Sign(ctx context.Context, req *http.Request) error {
	if err := a.EnsureToken(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	token := a.token
	a.mu.Unlock()

	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Invalidate drops the cached token.
func (a *ClientCredentialsAuth) Invalidate() {
	a.mu.Lock()
	a.token = ""
	a.obtainedAt = time.Time{}
	a.mu.Unlock()
}

// tokenResponse is the token endpoint's JSON body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// obtainTokenLocked performs the client-credentials exchange. Caller holds a.mu.
func (a *ClientCredentialsAuth) obtainTokenLocked(ctx context.Context) error {
	metrics.TokenRequests.Inc()

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {a.creds.ClientID},
		"client_secret": {a.creds.ClientSecret},
		"scope":         {a.creds.Scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.creds.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeAuth, "failed to build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "token request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to read token response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Newf(errors.ErrorTypeAuth, "token endpoint returned status %d", resp.StatusCode).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", string(body))
	}

	var tok tokenResponse
	if err := gojson.Unmarshal(body, &tok); err != nil {
		return errors.Wrap(err, errors.ErrorTypeAuth, "failed to decode token response")
	}
	if tok.AccessToken == "" {
		return errors.New(errors.ErrorTypeAuth, "token response missing access_token")
	}

	a.token = tok.AccessToken
	a.obtainedAt = time.Now()

	a.logger.Info("token acquired", zap.Time("obtained_at", a.obtainedAt))
	return nil
}
