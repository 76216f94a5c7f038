package importer

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luthierworks/luthier/internal/config"
	"github.com/luthierworks/luthier/internal/errors"
	"github.com/luthierworks/luthier/internal/logging"
	"github.com/luthierworks/luthier/internal/metrics"
	"github.com/luthierworks/luthier/internal/models"
	"github.com/luthierworks/luthier/internal/store"
	"github.com/luthierworks/luthier/internal/tokenstore"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeLister struct {
	mu              sync.Mutex
	defaultLocation string
	locations       []models.Location
	locationsErr    error
	reviews         []models.RemoteReview
	reviewsErr      error
	block           chan struct{}

	reviewCalls   atomic.Int32
	locationCalls atomic.Int32
	lastToken     string
	lastLocation  string
}

func (f *fakeLister) ListLocations(ctx context.Context, token string) ([]models.Location, error) {
	f.locationCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastToken = token
	return f.locations, f.locationsErr
}

func (f *fakeLister) ListReviews(ctx context.Context, token, locationID string) ([]models.RemoteReview, error) {
	f.reviewCalls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastToken = token
	f.lastLocation = locationID
	return f.reviews, f.reviewsErr
}

func (f *fakeLister) DefaultLocation() string {
	return f.defaultLocation
}

type fakeRefresher struct {
	token string
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	f.calls++
	return f.token, f.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	runs []*models.SyncRun
	errs []error
}

func (n *recordingNotifier) NotifySync(ctx context.Context, run *models.SyncRun, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, run)
	n.errs = append(n.errs, err)
}

type harness struct {
	importer  *Importer
	tokens    *tokenstore.Store
	stats     *tokenstore.StatsCache
	store     *store.MemoryStore
	lister    *fakeLister
	refresher *fakeRefresher
	clock     *fakeClock
	notifier  *recordingNotifier
	metrics   *metrics.Metrics
	sleeps    []time.Duration
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	settings := store.NewMemorySettingsStore()
	h := &harness{
		store:     store.NewMemoryStore(),
		lister:    &fakeLister{},
		refresher: &fakeRefresher{token: "refreshed-access"},
		clock:     &fakeClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)},
		notifier:  &recordingNotifier{},
		metrics:   metrics.NewMetrics("test"),
	}
	h.tokens = tokenstore.New(settings, tokenstore.WithClock(h.clock.Now))
	h.stats = tokenstore.NewStatsCache(settings)

	cfg := config.SyncConfig{BatchSize: 10, BatchPause: 100 * time.Millisecond, DefaultCooldown: time.Minute}
	all := append([]Option{
		WithLogger(logging.Discard()),
		WithMetrics(h.metrics),
		WithNotifier(h.notifier),
		WithClock(h.clock.Now),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		}),
	}, opts...)
	h.importer = New(cfg, h.tokens, h.stats, h.refresher, h.lister, h.store, all...)
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, h.tokens.Save("stored-access", "stored-refresh"))
}

func review(id, name string, rating models.StarRating) models.RemoteReview {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.RemoteReview{
		ReviewID:   id,
		Reviewer:   models.Reviewer{DisplayName: name, ProfilePhotoURL: "https://example.com/" + id + ".png"},
		StarRating: rating,
		Comment:    "Great work on " + id,
		CreateTime: created,
	}
}

func TestRun_ImportsNewReviews(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.lister.defaultLocation = "locations/42"
	h.lister.reviews = []models.RemoteReview{
		review("r1", "Ana", models.StarRatingFour),
		review("r2", "", models.StarRatingFive),
		review("r3", "Bo", ""),
	}

	run, err := h.importer.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, run.Imported)
	assert.Equal(t, 0, run.Skipped)
	assert.Equal(t, 1, run.Errors)
	assert.Equal(t, 3, run.Total())
	assert.Equal(t, "42", run.LocationID)
	assert.True(t, h.clock.Now().Equal(run.CompletedAt))
	assert.Equal(t, "stored-access", h.lister.lastToken)
	assert.Equal(t, "42", h.lister.lastLocation)

	got, found, err := h.store.FindByExternalReviewID(context.Background(), "r1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Ana", got.ClientName)
	assert.Equal(t, 4, got.Rating)
	assert.False(t, got.IsFeatured)
	assert.Equal(t, 0, got.DisplayOrder)
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
	assert.NotEmpty(t, got.ID)

	r3, found, err := h.store.FindByExternalReviewID(context.Background(), "r3")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 5, r3.Rating)

	cached, ok := h.stats.Load()
	require.True(t, ok)
	assert.Equal(t, 2, cached.Imported)
	assert.Equal(t, 1, cached.Errors)

	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.ReviewsProcessed.WithLabelValues(metrics.OutcomeImported)))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ReviewsProcessed.WithLabelValues(metrics.OutcomeError)))

	require.Len(t, h.notifier.runs, 1)
	assert.NoError(t, h.notifier.errs[0])
}

func TestRun_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.lister.defaultLocation = "7"
	h.lister.reviews = []models.RemoteReview{
		review("r1", "Ana", models.StarRatingFive),
		review("r2", "Bo", models.StarRatingOne),
	}

	first, err := h.importer.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Imported)

	existing, _, err := h.store.FindByExternalReviewID(context.Background(), "r1")
	require.NoError(t, err)
	existing.IsFeatured = true
	require.NoError(t, h.store.UpdateTestimonial(context.Background(), existing))

	second, err := h.importer.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, 0, second.Errors)

	assert.Equal(t, 2, h.store.Stats().TestimonialCount)
	again, _, err := h.store.FindByExternalReviewID(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, again.IsFeatured, "existing records are never overwritten")
}

func TestRun_ReviewWithoutIDIsNeverImported(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.lister.defaultLocation = "7"
	h.lister.reviews = []models.RemoteReview{
		review("", "Ana", models.StarRatingFour),
		review("r2", "Bo", models.StarRatingFive),
	}

	for n := 0; n < 3; n++ {
		run, err := h.importer.Run(context.Background(), RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, run.Errors, "run %d", n)
	}

	assert.Equal(t, 1, h.store.Stats().TestimonialCount)
}

func TestRun_EmptyReviewList(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.lister.defaultLocation = "7"

	run, err := h.importer.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, run.Total())
	_, ok := h.stats.Load()
	assert.True(t, ok)
}

func TestRun_TokenResolution(t *testing.T) {
	t.Run("expired token is refreshed", func(t *testing.T) {
		h := newHarness(t)
		h.connect(t)
		h.lister.defaultLocation = "7"
		h.clock.Advance(2 * time.Hour)

		_, err := h.importer.Run(context.Background(), RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, h.refresher.calls)
		assert.Equal(t, "refreshed-access", h.lister.lastToken)
	})

	t.Run("expired without refresh token clears", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.tokens.Save("stored-access", ""))
		h.clock.Advance(2 * time.Hour)

		_, err := h.importer.Run(context.Background(), RunOptions{})
		var authErr *errors.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.False(t, h.tokens.Read().HasAccess())
		assert.Zero(t, h.refresher.calls)
		assert.Zero(t, h.lister.reviewCalls.Load())
	})

	t.Run("refresh failure clears", func(t *testing.T) {
		h := newHarness(t)
		h.connect(t)
		h.clock.Advance(2 * time.Hour)
		h.refresher.err = fmt.Errorf("invalid_grant")

		_, err := h.importer.Run(context.Background(), RunOptions{})
		var authErr *errors.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		cred := h.tokens.Read()
		assert.False(t, cred.HasAccess())
		assert.False(t, cred.CanRefresh())
	})

	t.Run("not connected", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.importer.Run(context.Background(), RunOptions{})
		var authErr *errors.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.False(t, h.importer.Connected(context.Background()))
		require.Len(t, h.notifier.errs, 1)
		assert.Error(t, h.notifier.errs[0])
	})
}

func TestRun_LocationResolution(t *testing.T) {
	tests := []struct {
		name         string
		explicit     string
		selected     string
		defaultLoc   string
		locations    []models.Location
		wantLocation string
		wantReason   string
		wantListCall bool
	}{
		{name: "explicit id is normalized", explicit: "accounts/1/locations/99", defaultLoc: "7", wantLocation: "99"},
		{name: "selected location", selected: "locations/55", defaultLoc: "7", wantLocation: "55"},
		{name: "configured default", defaultLoc: "7", wantLocation: "7"},
		{
			name:         "single location is used",
			locations:    []models.Location{{Name: "locations/123", Title: "Shop"}},
			wantLocation: "123",
			wantListCall: true,
		},
		{name: "no locations", wantReason: errors.ReasonNoLocations, wantListCall: true},
		{
			name: "several locations need a selection",
			locations: []models.Location{
				{Name: "locations/1"},
				{Name: "locations/2"},
			},
			wantReason:   errors.ReasonSelectionRequired,
			wantListCall: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.connect(t)
			h.lister.defaultLocation = tt.defaultLoc
			h.lister.locations = tt.locations
			if tt.selected != "" {
				require.NoError(t, h.importer.SelectLocation(tt.selected))
			}

			run, err := h.importer.Run(context.Background(), RunOptions{LocationID: tt.explicit})
			assert.Equal(t, tt.wantListCall, h.lister.locationCalls.Load() > 0)

			if tt.wantReason != "" {
				var cfgErr *errors.ConfigurationError
				require.ErrorAs(t, err, &cfgErr)
				assert.Equal(t, tt.wantReason, cfgErr.Reason)
				assert.Zero(t, h.lister.reviewCalls.Load(), "reviews must not be fetched")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLocation, run.LocationID)
			assert.Equal(t, tt.wantLocation, h.lister.lastLocation)
		})
	}
}

func TestRun_UpstreamAuthErrorClearsTokens(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.lister.defaultLocation = "7"
	h.lister.reviewsErr = &errors.AuthenticationError{Message: "upstream rejected token"}

	_, err := h.importer.Run(context.Background(), RunOptions{})
	var authErr *errors.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.False(t, h.tokens.Read().HasAccess())
}

func TestRun_RateLimitSetsCooldown(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.lister.defaultLocation = "7"
	h.lister.reviewsErr = &errors.RateLimitError{RetryAfter: 30 * time.Second}

	_, err := h.importer.Run(context.Background(), RunOptions{})
	var rlErr *errors.RateLimitError
	require.ErrorAs(t, err, &rlErr)

	until, ok := h.tokens.CooldownUntil()
	require.True(t, ok)
	assert.Equal(t, h.clock.Now().Add(30*time.Second), until)
	assert.True(t, h.tokens.Read().HasAccess(), "rate limits keep the credential")

	h.lister.reviewsErr = nil
	_, err = h.importer.Run(context.Background(), RunOptions{})
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, int32(1), h.lister.reviewCalls.Load(), "cooldown refuses before calling upstream")
	assert.Equal(t, 30*time.Second, rlErr.RetryAfter)

	h.clock.Advance(31 * time.Second)
	_, err = h.importer.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
}

func TestRun_RateLimitWithoutHintUsesDefaultCooldown(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.lister.defaultLocation = "7"
	h.lister.reviewsErr = &errors.RateLimitError{}

	_, err := h.importer.Run(context.Background(), RunOptions{})
	require.Error(t, err)

	until, ok := h.tokens.CooldownUntil()
	require.True(t, ok)
	assert.Equal(t, h.clock.Now().Add(time.Minute), until)
}

func TestRun_TransportErrorPropagates(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.lister.defaultLocation = "7"
	h.lister.reviewsErr = &errors.TransportError{Op: "list_reviews", Status: 503}

	_, err := h.importer.Run(context.Background(), RunOptions{})
	var trErr *errors.TransportError
	require.ErrorAs(t, err, &trErr)
	assert.True(t, h.tokens.Read().HasAccess())
	_, cooling := h.tokens.CooldownUntil()
	assert.False(t, cooling)
}

func TestRun_BatchesPause(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.lister.defaultLocation = "7"
	for i := 0; i < 25; i++ {
		h.lister.reviews = append(h.lister.reviews, review(fmt.Sprintf("r%d", i), "Client", models.StarRatingFive))
	}

	run, err := h.importer.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 25, run.Imported)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, h.sleeps)
}

func TestRun_CancelStopsBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, WithSleep(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))
	h.connect(t)
	h.lister.defaultLocation = "7"
	for i := 0; i < 15; i++ {
		h.lister.reviews = append(h.lister.reviews, review(fmt.Sprintf("r%d", i), "Client", models.StarRatingFive))
	}

	run, err := h.importer.Run(ctx, RunOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, run)
	assert.Equal(t, 10, run.Imported)
	_, ok := h.stats.Load()
	assert.False(t, ok, "partial runs are not cached")
}

type flakyTestimonials struct {
	*store.MemoryStore
	lookupErr map[string]error
	createErr map[string]error
}

func (f *flakyTestimonials) FindByExternalReviewID(ctx context.Context, id string) (*models.Testimonial, bool, error) {
	if err := f.lookupErr[id]; err != nil {
		return nil, false, err
	}
	return f.MemoryStore.FindByExternalReviewID(ctx, id)
}

func (f *flakyTestimonials) CreateTestimonial(ctx context.Context, t *models.Testimonial) error {
	if err := f.createErr[t.ExternalReviewID]; err != nil {
		return err
	}
	return f.MemoryStore.CreateTestimonial(ctx, t)
}

func TestRun_PerReviewFailuresAreCounted(t *testing.T) {
	settings := store.NewMemorySettingsStore()
	tokens := tokenstore.New(settings)
	require.NoError(t, tokens.Save("access", "refresh"))
	lister := &fakeLister{defaultLocation: "7", reviews: []models.RemoteReview{
		review("ok", "Ana", models.StarRatingFive),
		review("lookup", "Bo", models.StarRatingFive),
		review("dup", "Cy", models.StarRatingFive),
	}}
	testimonials := &flakyTestimonials{
		MemoryStore: store.NewMemoryStore(),
		lookupErr:   map[string]error{"lookup": stderrors.New("disk I/O error")},
		createErr:   map[string]error{"dup": &errors.ErrConflict{Resource: "testimonial", Key: "dup"}},
	}

	imp := New(config.SyncConfig{}, tokens, tokenstore.NewStatsCache(settings), &fakeRefresher{}, lister, testimonials,
		WithLogger(logging.Discard()))

	run, err := imp.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Imported)
	assert.Equal(t, 2, run.Errors)
	assert.Equal(t, 3, run.Total())
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.lister.defaultLocation = "7"
	h.lister.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.importer.Run(context.Background(), RunOptions{})
		done <- err
	}()

	require.Eventually(t, func() bool { return h.lister.reviewCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.importer.Running())

	_, err := h.importer.Run(context.Background(), RunOptions{})
	var busy *errors.ErrSyncInProgress
	assert.ErrorAs(t, err, &busy)

	close(h.lister.block)
	require.NoError(t, <-done)
	assert.False(t, h.importer.Running())
}

func TestLocations(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.lister.locations = []models.Location{{Name: "locations/1", Title: "Shop"}}

	locs, err := h.importer.Locations(context.Background())
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "1", locs[0].ID())

	h.lister.locationsErr = &errors.AuthenticationError{}
	_, err = h.importer.Locations(context.Background())
	require.Error(t, err)
	assert.False(t, h.tokens.Read().HasAccess())
}

func TestStatusAndDisconnect(t *testing.T) {
	h := newHarness(t)

	st := h.importer.Status()
	assert.False(t, st.Connected)
	assert.Nil(t, st.LastSync)

	h.connect(t)
	h.lister.defaultLocation = "7"
	h.lister.reviews = []models.RemoteReview{review("r1", "Ana", models.StarRatingFive)}
	_, err := h.importer.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.NoError(t, h.tokens.SetCooldown(h.clock.Now().Add(time.Minute)))

	st = h.importer.Status()
	assert.True(t, st.Connected)
	require.NotNil(t, st.LastSync)
	assert.Equal(t, 1, st.LastSync.Imported)
	assert.False(t, st.CooldownUntil.IsZero())

	require.NoError(t, h.importer.Disconnect(context.Background()))
	st = h.importer.Status()
	assert.False(t, st.Connected)
	assert.Nil(t, st.LastSync)
	assert.True(t, st.CooldownUntil.IsZero())
}

func TestScheduler(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.lister.defaultLocation = "7"

	s := NewScheduler(h.importer, 10*time.Millisecond)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return h.lister.reviewCalls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()

	assert.Error(t, NewScheduler(h.importer, 0).Start(context.Background()))
}

type accountLister struct {
	fakeLister
	info *models.UserInfo
}

func (a *accountLister) UserInfo(ctx context.Context, token string) (*models.UserInfo, error) {
	return a.info, nil
}

func TestAccount(t *testing.T) {
	h := newHarness(t)
	_, err := h.importer.Account(context.Background())
	assert.Error(t, err, "fake lister cannot describe accounts")

	settings := store.NewMemorySettingsStore()
	tokens := tokenstore.New(settings)
	require.NoError(t, tokens.Save("access", "refresh"))
	lister := &accountLister{info: &models.UserInfo{Email: "owner@example.com"}}
	imp := New(config.SyncConfig{}, tokens, tokenstore.NewStatsCache(settings), &fakeRefresher{}, lister,
		store.NewMemoryStore(), WithLogger(logging.Discard()))

	info, err := imp.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", info.Email)
}
