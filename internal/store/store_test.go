package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/luthierworks/luthier/internal/errors"
	"github.com/luthierworks/luthier/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t testing.TB) *SQLiteStore {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testStores(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": newTestSQLiteStore(t),
		"memory": NewMemoryStore(),
	}
}

func newTestimonial(id string, created time.Time) *models.Testimonial {
	return &models.Testimonial{
		ID:         id,
		ClientName: "Client " + id,
		Text:       "Great work on my guitar",
		Rating:     5,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestStore_TestimonialCRUD(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			tm := newTestimonial("t1", created)
			tm.ClientPhotoURL = "https://img/1"
			tm.ServiceID = "setup"
			require.NoError(t, s.CreateTestimonial(ctx, tm))

			got, err := s.GetTestimonial(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, "Client t1", got.ClientName)
			assert.Equal(t, "https://img/1", got.ClientPhotoURL)
			assert.Equal(t, "setup", got.ServiceID)
			assert.Empty(t, got.ExternalReviewID)
			assert.True(t, created.Equal(got.CreatedAt))

			got.IsFeatured = true
			got.Rating = 3
			require.NoError(t, s.UpdateTestimonial(ctx, got))

			again, err := s.GetTestimonial(ctx, "t1")
			require.NoError(t, err)
			assert.True(t, again.IsFeatured)
			assert.Equal(t, 3, again.Rating)

			require.NoError(t, s.DeleteTestimonial(ctx, "t1"))

			_, err = s.GetTestimonial(ctx, "t1")
			var nf *errors.ErrNotFound
			assert.True(t, stderrors.As(err, &nf))

			err = s.DeleteTestimonial(ctx, "t1")
			assert.True(t, stderrors.As(err, &nf))

			err = s.UpdateTestimonial(ctx, newTestimonial("missing", created))
			assert.True(t, stderrors.As(err, &nf))
		})
	}
}

func TestStore_ExternalReviewIDUnique(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			found, ok, err := s.FindByExternalReviewID(ctx, "rev-1")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, found)

			first := newTestimonial("a", now)
			first.ExternalReviewID = "rev-1"
			require.NoError(t, s.CreateTestimonial(ctx, first))

			found, ok, err = s.FindByExternalReviewID(ctx, "rev-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "a", found.ID)

			dup := newTestimonial("b", now)
			dup.ExternalReviewID = "rev-1"
			err = s.CreateTestimonial(ctx, dup)
			var conflict *errors.ErrConflict
			require.True(t, stderrors.As(err, &conflict), "got %v", err)

			// manual testimonials carry no external id and never collide
			require.NoError(t, s.CreateTestimonial(ctx, newTestimonial("m1", now)))
			require.NoError(t, s.CreateTestimonial(ctx, newTestimonial("m2", now)))

			_, ok, err = s.FindByExternalReviewID(ctx, "")
			require.NoError(t, err)
			assert.False(t, ok)

			stats := s.Stats()
			assert.Equal(t, 3, stats.TestimonialCount)
			assert.Equal(t, 1, stats.ImportedCount)
		})
	}
}

func TestStore_ListOrdering(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			old := newTestimonial("old", base)
			recent := newTestimonial("recent", base.Add(48*time.Hour))
			ordered := newTestimonial("ordered", base.Add(24*time.Hour))
			ordered.DisplayOrder = 2
			featured := newTestimonial("featured", base)
			featured.IsFeatured = true
			featured.ServiceID = "refret"

			for _, tm := range []*models.Testimonial{old, recent, ordered, featured} {
				require.NoError(t, s.CreateTestimonial(ctx, tm))
			}

			list, err := s.ListTestimonials(ctx, models.TestimonialFilter{})
			require.NoError(t, err)
			require.Len(t, list, 4)
			assert.Equal(t, []string{"featured", "recent", "old", "ordered"}, ids(list))

			list, err = s.ListTestimonials(ctx, models.TestimonialFilter{FeaturedOnly: true})
			require.NoError(t, err)
			assert.Equal(t, []string{"featured"}, ids(list))

			list, err = s.ListTestimonials(ctx, models.TestimonialFilter{ServiceID: "refret"})
			require.NoError(t, err)
			assert.Equal(t, []string{"featured"}, ids(list))

			list, err = s.ListTestimonials(ctx, models.TestimonialFilter{Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, []string{"featured", "recent"}, ids(list))
		})
	}
}

func TestSQLiteStore_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Settings().Set(SettingGoogleAccessToken, "tok"))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	value, ok := s.Settings().Get(SettingGoogleAccessToken)
	assert.True(t, ok)
	assert.Equal(t, "tok", value)
}

func TestMemoryStore_ClearAndCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tm := newTestimonial("t1", time.Now())
	require.NoError(t, s.CreateTestimonial(ctx, tm))
	tm.ClientName = "mutated"

	got, err := s.GetTestimonial(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Client t1", got.ClientName)

	require.NoError(t, s.Settings().Set("k", "v"))
	s.Clear()
	assert.Equal(t, 0, s.Stats().TestimonialCount)
	_, ok := s.Settings().Get("k")
	assert.False(t, ok)
}

func ids(list []*models.Testimonial) []string {
	out := make([]string, len(list))
	for i, tm := range list {
		out[i] = tm.ID
	}
	return out
}

func BenchmarkSQLiteCreateTestimonial(b *testing.B) {
	b.ReportAllocs()
	s := newTestSQLiteStore(b)
	ctx := context.Background()
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tm := newTestimonial(fmt.Sprintf("t-%d", i), now)
		tm.ExternalReviewID = fmt.Sprintf("rev-%d", i)
		_ = s.CreateTestimonial(ctx, tm)
	}
}

func BenchmarkSQLiteFindByExternalReviewID(b *testing.B) {
	b.ReportAllocs()
	s := newTestSQLiteStore(b)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 200; i++ {
		tm := newTestimonial(fmt.Sprintf("t-%d", i), now)
		tm.ExternalReviewID = fmt.Sprintf("rev-%d", i)
		require.NoError(b, s.CreateTestimonial(ctx, tm))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = s.FindByExternalReviewID(ctx, fmt.Sprintf("rev-%d", i%200))
	}
}
