package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Testimonial is a customer quote shown on the public site.
// ExternalReviewID is set only for testimonials imported from Google.
type Testimonial struct {
	ID               string    `json:"id"`
	ClientName       string    `json:"client_name"`
	ClientPhotoURL   string    `json:"client_photo_url,omitempty"`
	Text             string    `json:"testimonial_text"`
	Rating           int       `json:"rating"`
	ExternalReviewID string    `json:"external_review_id,omitempty"`
	ServiceID        string    `json:"service_id,omitempty"`
	IsFeatured       bool      `json:"is_featured"`
	DisplayOrder     int       `json:"display_order"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Validate checks required fields and rating bounds.
func (t *Testimonial) Validate() error {
	if strings.TrimSpace(t.ClientName) == "" {
		return fmt.Errorf("client name is required")
	}
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("testimonial text is required")
	}
	if t.Rating < MinRating || t.Rating > MaxRating {
		return fmt.Errorf("rating must be between %d and %d", MinRating, MaxRating)
	}
	if t.DisplayOrder < 0 {
		return fmt.Errorf("display order cannot be negative")
	}
	return nil
}

// IsImported reports whether the testimonial came from a remote review.
func (t *Testimonial) IsImported() bool {
	return t.ExternalReviewID != ""
}

// ClampRating forces a rating into 1..5.
func ClampRating(r int) int {
	if r < MinRating {
		return MinRating
	}
	if r > MaxRating {
		return MaxRating
	}
	return r
}

// TestimonialFilter narrows a listing.
type TestimonialFilter struct {
	FeaturedOnly bool
	ServiceID    string
	Limit        int
}
