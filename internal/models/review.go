package models

import "time"

// StarRating is the enum Google uses for review scores.
type StarRating string

const (
	StarRatingOne   StarRating = "ONE"
	StarRatingTwo   StarRating = "TWO"
	StarRatingThree StarRating = "THREE"
	StarRatingFour  StarRating = "FOUR"
	StarRatingFive  StarRating = "FIVE"
)

var starRatingValues = map[StarRating]int{
	StarRatingOne:   1,
	StarRatingTwo:   2,
	StarRatingThree: 3,
	StarRatingFour:  4,
	StarRatingFive:  5,
}

// Int returns the numeric rating. Unknown or missing values count as 5.
func (s StarRating) Int() int {
	if v, ok := starRatingValues[s]; ok {
		return v
	}
	return MaxRating
}

// MapRating converts a raw enum string to 1..5.
func MapRating(raw string) int {
	return StarRating(raw).Int()
}

// Reviewer identifies the author of a remote review.
type Reviewer struct {
	DisplayName     string `json:"displayName"`
	ProfilePhotoURL string `json:"profilePhotoUrl,omitempty"`
}

// RemoteReview is a review as returned by the listing API. Never stored as is.
type RemoteReview struct {
	ReviewID   string     `json:"reviewId"`
	Reviewer   Reviewer   `json:"reviewer"`
	StarRating StarRating `json:"starRating"`
	Comment    string     `json:"comment,omitempty"`
	CreateTime time.Time  `json:"createTime"`
	UpdateTime time.Time  `json:"updateTime"`
}

// Timestamps returns creation and last-update times, falling back to the
// creation time when the review was never edited.
func (r *RemoteReview) Timestamps() (created, updated time.Time) {
	created = r.CreateTime
	updated = r.UpdateTime
	if updated.IsZero() {
		updated = created
	}
	return created, updated
}

// ToTestimonial maps a review onto a new non-featured testimonial.
func (r *RemoteReview) ToTestimonial(id string) *Testimonial {
	created, updated := r.Timestamps()
	return &Testimonial{
		ID:               id,
		ClientName:       r.Reviewer.DisplayName,
		ClientPhotoURL:   r.Reviewer.ProfilePhotoURL,
		Text:             r.Comment,
		Rating:           r.StarRating.Int(),
		ExternalReviewID: r.ReviewID,
		IsFeatured:       false,
		DisplayOrder:     0,
		CreatedAt:        created,
		UpdatedAt:        updated,
	}
}
