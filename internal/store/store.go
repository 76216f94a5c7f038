package store

import (
	"context"

	"github.com/luthierworks/luthier/internal/models"
)

// Store persists testimonials and exposes the settings key/value table.
type Store interface {
	GetTestimonial(ctx context.Context, id string) (*models.Testimonial, error)
	// FindByExternalReviewID reports whether a testimonial was imported
	// from the given review.
	FindByExternalReviewID(ctx context.Context, externalID string) (*models.Testimonial, bool, error)
	CreateTestimonial(ctx context.Context, t *models.Testimonial) error
	UpdateTestimonial(ctx context.Context, t *models.Testimonial) error
	DeleteTestimonial(ctx context.Context, id string) error
	// ListTestimonials orders featured first, then display order, then newest.
	ListTestimonials(ctx context.Context, filter models.TestimonialFilter) ([]*models.Testimonial, error)

	Stats() StoreStats
	Settings() SettingsStore
	Close() error
}

// StoreStats contains statistics about the store
type StoreStats struct {
	TestimonialCount int
	ImportedCount    int
	FeaturedCount    int
}
