// Package importer copies Google reviews into local testimonials.
package importer

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/luthierworks/luthier/internal/config"
	"github.com/luthierworks/luthier/internal/errors"
	"github.com/luthierworks/luthier/internal/logging"
	"github.com/luthierworks/luthier/internal/metrics"
	"github.com/luthierworks/luthier/internal/models"
)

// TokenStore is the credential storage the importer needs.
type TokenStore interface {
	Read() models.Credential
	IsExpired() bool
	Clear() error
	SetCooldown(until time.Time) error
	CooldownUntil() (time.Time, bool)
	SelectedLocation() string
	SelectLocation(id string) error
}

// StatsCache keeps the last run summary.
type StatsCache interface {
	Save(run *models.SyncRun) error
	Load() (*models.SyncRun, bool)
}

// Refresher trades a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// Lister reads locations and reviews.
type Lister interface {
	ListLocations(ctx context.Context, token string) ([]models.Location, error)
	ListReviews(ctx context.Context, token, locationID string) ([]models.RemoteReview, error)
	DefaultLocation() string
}

// AccountReader is implemented by listers that can describe the signed-in
// account.
type AccountReader interface {
	UserInfo(ctx context.Context, token string) (*models.UserInfo, error)
}

// Testimonials is the subset of the store used for imports.
type Testimonials interface {
	FindByExternalReviewID(ctx context.Context, externalID string) (*models.Testimonial, bool, error)
	CreateTestimonial(ctx context.Context, t *models.Testimonial) error
}

// Notifier is told about every finished run.
type Notifier interface {
	NotifySync(ctx context.Context, run *models.SyncRun, err error)
}

// RunOptions selects what to sync.
type RunOptions struct {
	LocationID string
}

// Importer runs review syncs. At most one run executes at a time.
type Importer struct {
	tokens       TokenStore
	stats        StatsCache
	refresher    Refresher
	lister       Lister
	testimonials Testimonials
	notifier     Notifier
	logger       *logging.Logger
	metrics      *metrics.Metrics

	batchSize       int
	batchPause      time.Duration
	defaultCooldown time.Duration

	running atomic.Bool
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
	newID   func() string
}

// Option configures an Importer.
type Option func(*Importer)

func WithLogger(logger *logging.Logger) Option {
	return func(i *Importer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Importer) {
		i.metrics = m
	}
}

func WithNotifier(n Notifier) Option {
	return func(i *Importer) {
		i.notifier = n
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Importer) {
		if now != nil {
			i.now = now
		}
	}
}

// WithSleep replaces the pause between batches.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(i *Importer) {
		if sleep != nil {
			i.sleep = sleep
		}
	}
}

// New wires an Importer.
func New(cfg config.SyncConfig, tokens TokenStore, stats StatsCache, refresher Refresher,
	lister Lister, testimonials Testimonials, opts ...Option) *Importer {
	i := &Importer{
		tokens:          tokens,
		stats:           stats,
		refresher:       refresher,
		lister:          lister,
		testimonials:    testimonials,
		logger:          logging.NewLogger(),
		batchSize:       cfg.BatchSize,
		batchPause:      cfg.BatchPause,
		defaultCooldown: cfg.DefaultCooldown,
		now:             time.Now,
		sleep:           sleepContext,
		newID:           func() string { return uuid.New().String() },
	}
	if i.batchSize <= 0 {
		i.batchSize = 10
	}
	if i.defaultCooldown <= 0 {
		i.defaultCooldown = time.Minute
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run imports every review of the resolved location that is not yet a
// testimonial. Per-review failures are counted, never returned.
func (i *Importer) Run(ctx context.Context, opts RunOptions) (*models.SyncRun, error) {
	if !i.running.CompareAndSwap(false, true) {
		return nil, &errors.ErrSyncInProgress{}
	}
	defer i.running.Store(false)

	ctx = logging.EnsureCorrelationID(ctx)
	start := i.now()

	run, err := i.run(ctx, opts)

	result := "success"
	if err != nil {
		result = resultLabel(err)
		i.logger.WarnWithContext(ctx, "review sync failed", "error", err.Error(), "result", result)
	} else {
		i.logger.InfoWithContext(ctx, "review sync completed",
			"location_id", run.LocationID,
			"imported", run.Imported,
			"skipped", run.Skipped,
			"errors", run.Errors,
		)
	}
	i.metrics.RecordSyncRun(result, i.now().Sub(start))
	i.logger.Audit(ctx, syncAuditEvent(run, err))
	if i.notifier != nil {
		i.notifier.NotifySync(ctx, run, err)
	}
	return run, err
}

func syncAuditEvent(run *models.SyncRun, err error) *logging.AuditEvent {
	event := logging.NewAuditEvent(logging.ReviewSync, "sync_reviews", logging.StatusSuccess).WithError(err)
	if run != nil {
		event.WithResource(run.LocationID).
			WithDetail("imported", run.Imported).
			WithDetail("skipped", run.Skipped).
			WithDetail("errors", run.Errors)
	}
	return event
}

// Running reports whether a run is in progress.
func (i *Importer) Running() bool {
	return i.running.Load()
}

func (i *Importer) run(ctx context.Context, opts RunOptions) (*models.SyncRun, error) {
	if until, ok := i.tokens.CooldownUntil(); ok {
		return nil, &errors.RateLimitError{
			RetryAfter: until.Sub(i.now()),
			Until:      until,
			Message:    "rate limit cooldown active",
		}
	}

	token, err := i.ResolveToken(ctx)
	if err != nil {
		return nil, err
	}

	locationID, err := i.resolveLocation(ctx, token, opts.LocationID)
	if err != nil {
		return nil, err
	}

	reviews, err := i.lister.ListReviews(ctx, token, locationID)
	if err != nil {
		return nil, i.handleAPIError(ctx, err)
	}

	run := &models.SyncRun{LocationID: locationID}
	if len(reviews) == 0 {
		i.logger.InfoWithContext(ctx, "no reviews to import", "location_id", locationID)
	}

	for idx := range reviews {
		if idx > 0 && idx%i.batchSize == 0 {
			if err := i.sleep(ctx, i.batchPause); err != nil {
				return run, err
			}
		}
		if err := ctx.Err(); err != nil {
			return run, err
		}
		i.importOne(ctx, &reviews[idx], run)
	}

	run.CompletedAt = i.now()
	if err := i.stats.Save(run); err != nil {
		i.logger.ErrorWithContext(ctx, "failed to cache sync stats", "error", err.Error())
	}
	return run, nil
}

func (i *Importer) importOne(ctx context.Context, review *models.RemoteReview, run *models.SyncRun) {
	// Without an external id a review cannot be deduplicated on the next run.
	if strings.TrimSpace(review.ReviewID) == "" {
		run.Errors++
		i.metrics.RecordReview(metrics.OutcomeError)
		i.logger.WarnWithContext(ctx, "review has no id", "reviewer", review.Reviewer.DisplayName)
		return
	}
	_, found, err := i.testimonials.FindByExternalReviewID(ctx, review.ReviewID)
	if err != nil {
		run.Errors++
		i.metrics.RecordReview(metrics.OutcomeError)
		i.logger.ErrorWithContext(ctx, "review lookup failed", "review_id", review.ReviewID, "error", err.Error())
		return
	}
	if found {
		run.Skipped++
		i.metrics.RecordReview(metrics.OutcomeSkipped)
		return
	}
	if review.Reviewer.DisplayName == "" {
		run.Errors++
		i.metrics.RecordReview(metrics.OutcomeError)
		i.logger.WarnWithContext(ctx, "review has no reviewer name", "review_id", review.ReviewID)
		return
	}

	t := review.ToTestimonial(i.newID())
	if err := i.testimonials.CreateTestimonial(ctx, t); err != nil {
		run.Errors++
		i.metrics.RecordReview(metrics.OutcomeError)
		i.logger.ErrorWithContext(ctx, "failed to insert testimonial", "review_id", review.ReviewID, "error", err.Error())
		return
	}
	run.Imported++
	i.metrics.RecordReview(metrics.OutcomeImported)
}

// ResolveToken returns a usable access token, refreshing it when expired.
// When no token can be obtained the stored credential is cleared.
func (i *Importer) ResolveToken(ctx context.Context) (string, error) {
	cred := i.tokens.Read()
	if cred.HasAccess() && !i.tokens.IsExpired() {
		return cred.AccessToken, nil
	}

	if !cred.CanRefresh() {
		i.clearTokens(ctx)
		if !cred.HasAccess() {
			return "", &errors.AuthenticationError{Message: "google account not connected"}
		}
		return "", &errors.AuthenticationError{Message: "access token expired and no refresh token is stored"}
	}

	access, err := i.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		i.clearTokens(ctx)
		var authErr *errors.AuthenticationError
		if stderrors.As(err, &authErr) {
			return "", authErr
		}
		return "", &errors.AuthenticationError{Message: "token refresh failed", Err: err}
	}
	return access, nil
}

// Connected reports whether a usable token can be resolved.
func (i *Importer) Connected(ctx context.Context) bool {
	_, err := i.ResolveToken(ctx)
	return err == nil
}

// Status describes the integration without touching the network.
type Status struct {
	Connected        bool
	LastSync         *models.SyncRun
	CooldownUntil    time.Time
	SelectedLocation string
	Running          bool
}

// Status reads the stored integration state. Connected means a credential
// is stored, not that it is still accepted upstream.
func (i *Importer) Status() Status {
	cred := i.tokens.Read()
	st := Status{
		Connected:        cred.HasAccess() || cred.CanRefresh(),
		SelectedLocation: i.tokens.SelectedLocation(),
		Running:          i.Running(),
	}
	if run, ok := i.stats.Load(); ok {
		st.LastSync = run
	}
	if until, ok := i.tokens.CooldownUntil(); ok {
		st.CooldownUntil = until
	}
	return st
}

// Disconnect forgets every stored credential and the cached stats.
func (i *Importer) Disconnect(ctx context.Context) error {
	err := i.tokens.Clear()
	i.logger.Audit(ctx, logging.NewAuditEvent(logging.IntegrationDisconnect, "disconnect_google", logging.StatusSuccess).WithError(err))
	return err
}

func (i *Importer) resolveLocation(ctx context.Context, token, explicit string) (string, error) {
	if id := models.NormalizeLocationID(explicit); id != "" {
		return id, nil
	}
	if id := i.tokens.SelectedLocation(); id != "" {
		return id, nil
	}
	if id := i.lister.DefaultLocation(); id != "" {
		return id, nil
	}

	locations, err := i.lister.ListLocations(ctx, token)
	if err != nil {
		return "", i.handleAPIError(ctx, err)
	}
	switch len(locations) {
	case 0:
		return "", &errors.ConfigurationError{Reason: errors.ReasonNoLocations, Message: "no business locations found"}
	case 1:
		return locations[0].ID(), nil
	default:
		return "", &errors.ConfigurationError{Reason: errors.ReasonSelectionRequired, Message: "several locations found; select one"}
	}
}

// Locations lists the locations of the connected account.
func (i *Importer) Locations(ctx context.Context) ([]models.Location, error) {
	token, err := i.ResolveToken(ctx)
	if err != nil {
		return nil, err
	}
	locations, err := i.lister.ListLocations(ctx, token)
	if err != nil {
		return nil, i.handleAPIError(ctx, err)
	}
	return locations, nil
}

// SelectLocation pins the location used when a run names none.
func (i *Importer) SelectLocation(id string) error {
	return i.tokens.SelectLocation(id)
}

// Account returns the profile of the connected Google account.
func (i *Importer) Account(ctx context.Context) (*models.UserInfo, error) {
	reader, ok := i.lister.(AccountReader)
	if !ok {
		return nil, fmt.Errorf("account lookup is not supported")
	}
	token, err := i.ResolveToken(ctx)
	if err != nil {
		return nil, err
	}
	info, err := reader.UserInfo(ctx, token)
	if err != nil {
		return nil, i.handleAPIError(ctx, err)
	}
	return info, nil
}

// handleAPIError clears tokens on authentication failures and records a
// cooldown on rate limits. The error is returned unchanged.
func (i *Importer) handleAPIError(ctx context.Context, err error) error {
	var authErr *errors.AuthenticationError
	if stderrors.As(err, &authErr) {
		i.clearTokens(ctx)
		return err
	}

	var rlErr *errors.RateLimitError
	if stderrors.As(err, &rlErr) {
		until := rlErr.Until
		if until.IsZero() {
			wait := rlErr.RetryAfter
			if wait <= 0 {
				wait = i.defaultCooldown
			}
			until = i.now().Add(wait)
			rlErr.Until = until
		}
		if serr := i.tokens.SetCooldown(until); serr != nil {
			i.logger.ErrorWithContext(ctx, "failed to store rate limit cooldown", "error", serr.Error())
		}
	}
	return err
}

func (i *Importer) clearTokens(ctx context.Context) {
	if err := i.tokens.Clear(); err != nil {
		i.logger.ErrorWithContext(ctx, "failed to clear stored tokens", "error", err.Error())
	}
}

func resultLabel(err error) string {
	switch {
	case stderrors.As(err, new(*errors.AuthenticationError)):
		return "auth_error"
	case stderrors.As(err, new(*errors.ConfigurationError)):
		return "config_error"
	case stderrors.As(err, new(*errors.RateLimitError)):
		return "rate_limited"
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "failure"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
