// Package listing reads business locations and reviews from the Google
// Business Profile APIs.
package listing

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/luthierworks/luthier/internal/config"
	"github.com/luthierworks/luthier/internal/errors"
	"github.com/luthierworks/luthier/internal/httpclient"
	"github.com/luthierworks/luthier/internal/logging"
	"github.com/luthierworks/luthier/internal/metrics"
	"github.com/luthierworks/luthier/internal/models"
)

const (
	opListLocations = "list_locations"
	opListReviews   = "list_reviews"
	opUserInfo      = "userinfo"

	locationReadMask = "name,title,storefrontAddress,phoneNumbers,websiteUri"

	// defaultMaxPages bounds pagination against a server that keeps
	// returning tokens.
	defaultMaxPages = 100
	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 4 << 10
)

// Client calls the listing APIs with a caller-supplied bearer token.
type Client struct {
	httpClient      *http.Client
	businessInfoURL string
	reviewsURL      string
	userInfoURL     string
	defaultLocation string
	pageSize        int
	maxPages        int
	timeout         time.Duration
	retryAttempts   int
	retryBackoff    time.Duration
	logger          *logging.Logger
	metrics         *metrics.Metrics
	now             func() time.Time
	sleep           func(context.Context, time.Duration) error
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

// WithMetrics records every upstream call.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithSleep replaces the backoff wait; tests pass a no-op.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New creates a Client from the google config section.
func New(gcfg config.GoogleConfig, opts ...Option) *Client {
	c := &Client{
		businessInfoURL: strings.TrimRight(gcfg.BusinessInfoURL, "/"),
		reviewsURL:      strings.TrimRight(gcfg.ReviewsURL, "/"),
		userInfoURL:     gcfg.UserInfoURL,
		defaultLocation: models.NormalizeLocationID(gcfg.LocationID),
		pageSize:        gcfg.PageSize,
		maxPages:        defaultMaxPages,
		timeout:         gcfg.Timeout,
		retryAttempts:   gcfg.RetryAttempts,
		retryBackoff:    gcfg.RetryBackoff,
		logger:          logging.NewLogger(),
		now:             time.Now,
		sleep:           sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = httpclient.New(httpclient.Options{UseUTLS: gcfg.UseUTLS})
	}
	return c
}

// DefaultLocation is the configured location id, or "".
func (c *Client) DefaultLocation() string {
	return c.defaultLocation
}

type locationsPage struct {
	Locations     []wireLocation `json:"locations"`
	NextPageToken string         `json:"nextPageToken"`
}

type wireLocation struct {
	Name              string          `json:"name"`
	Title             string          `json:"title"`
	StorefrontAddress *models.Address `json:"storefrontAddress"`
	PhoneNumbers      *struct {
		PrimaryPhone string `json:"primaryPhone"`
	} `json:"phoneNumbers"`
	WebsiteURI string `json:"websiteUri"`
}

func (w wireLocation) toModel() models.Location {
	loc := models.Location{
		Name:       w.Name,
		Title:      w.Title,
		Address:    w.StorefrontAddress,
		WebsiteURI: w.WebsiteURI,
	}
	if w.PhoneNumbers != nil {
		loc.Phone = w.PhoneNumbers.PrimaryPhone
	}
	return loc
}

// ListLocations returns every location the token can see. None is an empty
// slice, not an error.
func (c *Client) ListLocations(ctx context.Context, token string) ([]models.Location, error) {
	locations := []models.Location{}
	pageToken := ""

	for page := 0; page < c.maxPages; page++ {
		q := url.Values{}
		q.Set("readMask", locationReadMask)
		q.Set("pageSize", strconv.Itoa(c.pageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var resp locationsPage
		if err := c.getJSON(ctx, opListLocations, c.businessInfoURL+"/accounts/-/locations?"+q.Encode(), token, &resp); err != nil {
			return nil, err
		}
		for _, w := range resp.Locations {
			locations = append(locations, w.toModel())
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	if pageToken != "" {
		c.warnTruncated(ctx, opListLocations, len(locations))
	}

	c.logger.DebugWithContext(ctx, "locations listed", "count", len(locations))
	return locations, nil
}

func (c *Client) warnTruncated(ctx context.Context, op string, count int) {
	c.logger.WarnWithContext(ctx, "pagination limit reached, results truncated",
		"operation", op, "pages", c.maxPages, "count", count)
}

type reviewsPage struct {
	Reviews       []models.RemoteReview `json:"reviews"`
	NextPageToken string                `json:"nextPageToken"`
}

// ListReviews returns every review of one location in API order. An empty
// locationID falls back to the configured default.
func (c *Client) ListReviews(ctx context.Context, token, locationID string) ([]models.RemoteReview, error) {
	id := models.NormalizeLocationID(locationID)
	if id == "" {
		id = c.defaultLocation
	}
	if id == "" {
		return nil, &errors.ConfigurationError{Reason: errors.ReasonLocationNotConfigured}
	}

	reviews := []models.RemoteReview{}
	pageToken := ""
	base := fmt.Sprintf("%s/accounts/-/locations/%s/reviews", c.reviewsURL, url.PathEscape(id))

	for page := 0; page < c.maxPages; page++ {
		q := url.Values{}
		q.Set("pageSize", strconv.Itoa(c.pageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var resp reviewsPage
		if err := c.getJSON(ctx, opListReviews, base+"?"+q.Encode(), token, &resp); err != nil {
			return nil, err
		}
		reviews = append(reviews, resp.Reviews...)
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	if pageToken != "" {
		c.warnTruncated(ctx, opListReviews, len(reviews))
	}

	c.logger.DebugWithContext(ctx, "reviews listed", "location_id", id, "count", len(reviews))
	return reviews, nil
}

// UserInfo returns the profile of the account behind token.
func (c *Client) UserInfo(ctx context.Context, token string) (*models.UserInfo, error) {
	var info models.UserInfo
	if err := c.getJSON(ctx, opUserInfo, c.userInfoURL, token, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// getJSON performs a GET with retries on transient statuses and decodes the
// body into out.
func (c *Client) getJSON(ctx context.Context, op, rawURL, token string, out interface{}) error {
	for attempt := 0; ; attempt++ {
		status, err := c.doOnce(ctx, op, rawURL, token, out)
		if err == nil {
			return nil
		}
		if !retryable(status) || attempt >= c.retryAttempts {
			return err
		}
		c.logger.WarnWithContext(ctx, "retrying google request", "operation", op, "status", status, "attempt", attempt+1)
		if serr := c.sleep(ctx, c.retryBackoff); serr != nil {
			return &errors.TransportError{Op: op, Err: serr}
		}
	}
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout
}

func (c *Client) doOnce(ctx context.Context, op, rawURL, token string, out interface{}) (int, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, &errors.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordUpstream(op, "error", c.now().Sub(start))
		return 0, &errors.TransportError{Op: op, Err: sanitizeTransportErr(err)}
	}
	defer resp.Body.Close()
	c.metrics.RecordUpstream(op, strconv.Itoa(resp.StatusCode), c.now().Sub(start))

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, &errors.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		drain(resp.Body)
		return resp.StatusCode, &errors.AuthenticationError{Message: fmt.Sprintf("%s: upstream status %d", op, resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		drain(resp.Body)
		return resp.StatusCode, rateLimitErrorFromHeaders(resp.Header, c.now(), op+": rate limited")
	default:
		drain(resp.Body)
		return resp.StatusCode, &errors.TransportError{Op: op, Status: resp.StatusCode}
	}
}

// sanitizeTransportErr drops the request URL from *url.Error.
func sanitizeTransportErr(err error) error {
	var uerr *url.Error
	if stderrors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

func drain(body io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBody))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
