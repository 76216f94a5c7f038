// Package oauth runs the Google authorization-code flow and refreshes
// access tokens.
package oauth

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/luthierworks/luthier/internal/config"
	"github.com/luthierworks/luthier/internal/errors"
	"github.com/luthierworks/luthier/internal/httpclient"
	"github.com/luthierworks/luthier/internal/logging"
	"github.com/luthierworks/luthier/internal/metrics"
	"github.com/luthierworks/luthier/internal/models"
	"golang.org/x/oauth2"
)

// TokenSaver persists a token pair. tokenstore.Store satisfies it.
type TokenSaver interface {
	Save(accessToken, refreshToken string) error
}

// Client exchanges authorization codes and refresh tokens.
type Client struct {
	cfg        *oauth2.Config
	tokens     TokenSaver
	httpClient *http.Client
	timeout    time.Duration
	logger     *logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the outbound HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records refresh attempts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New builds a Client from the google config section.
func New(gcfg config.GoogleConfig, tokens TokenSaver, opts ...Option) (*Client, error) {
	if gcfg.ClientID == "" {
		return nil, &errors.ErrConfigValidation{Err: fmt.Errorf("google client_id is not configured")}
	}
	if gcfg.PublicURL == "" {
		return nil, &errors.ErrConfigValidation{Err: fmt.Errorf("google public_url is not configured")}
	}

	c := &Client{
		cfg: &oauth2.Config{
			ClientID:     gcfg.ClientID,
			ClientSecret: gcfg.ClientSecret,
			RedirectURL:  gcfg.RedirectURL(),
			Scopes:       gcfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   gcfg.AuthURL,
				TokenURL:  gcfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		tokens:  tokens,
		timeout: gcfg.Timeout,
		logger:  logging.NewLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = httpclient.New(httpclient.Options{Timeout: gcfg.Timeout, UseUTLS: gcfg.UseUTLS})
	}
	return c, nil
}

// AuthorizationURL returns the consent-screen URL. It asks for offline
// access and forces the consent prompt so a refresh token is issued.
func (c *Client) AuthorizationURL() string {
	return c.cfg.AuthCodeURL("", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// RedirectURL is the callback registered with Google.
func (c *Client) RedirectURL() string {
	return c.cfg.RedirectURL
}

func (c *Client) withHTTP(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// Exchange trades an authorization code for tokens and stores them.
func (c *Client) Exchange(ctx context.Context, code string) (models.Credential, error) {
	if code == "" {
		return models.Credential{}, &errors.AuthenticationError{Message: "missing authorization code"}
	}

	ctx, cancel := c.withHTTP(ctx)
	defer cancel()

	tok, err := c.cfg.Exchange(ctx, code)
	if err != nil {
		c.logger.WarnWithContext(ctx, "google code exchange failed", "error", safeError(err).Error())
		return models.Credential{}, &errors.AuthenticationError{Message: "token exchange failed", Err: safeError(err)}
	}
	if tok.AccessToken == "" {
		return models.Credential{}, &errors.AuthenticationError{Message: "token exchange returned no access token"}
	}

	if err := c.tokens.Save(tok.AccessToken, tok.RefreshToken); err != nil {
		return models.Credential{}, err
	}
	if tok.RefreshToken == "" {
		c.logger.WarnWithContext(ctx, "google did not return a refresh token; reconnect will be needed after expiry")
	}

	return models.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IssuedAt:     c.now(),
	}, nil
}

// Refresh obtains a new access token and stores it, keeping the refresh
// token unless Google rotated it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", &errors.AuthenticationError{Message: "no refresh token"}
	}

	ctx, cancel := c.withHTTP(ctx)
	defer cancel()

	tok, err := c.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		c.metrics.RecordTokenRefresh("failure")
		c.logger.WarnWithContext(ctx, "google token refresh failed", "error", safeError(err).Error())
		return "", &errors.AuthenticationError{Message: "token refresh failed", Err: safeError(err)}
	}
	if tok.AccessToken == "" {
		c.metrics.RecordTokenRefresh("failure")
		return "", &errors.AuthenticationError{Message: "token refresh returned no access token"}
	}

	rotated := ""
	if tok.RefreshToken != refreshToken {
		rotated = tok.RefreshToken
	}
	if err := c.tokens.Save(tok.AccessToken, rotated); err != nil {
		return "", err
	}
	c.metrics.RecordTokenRefresh("success")
	return tok.AccessToken, nil
}

// safeError strips the provider response body, which can echo request
// parameters, and keeps the status and OAuth error code.
func safeError(err error) error {
	var re *oauth2.RetrieveError
	if stderrors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if re.ErrorCode != "" {
			return fmt.Errorf("status %d: %s", status, re.ErrorCode)
		}
		return fmt.Errorf("status %d", status)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return fmt.Errorf("token endpoint unreachable")
}
