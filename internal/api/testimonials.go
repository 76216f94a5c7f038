package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/luthierworks/luthier/internal/errors"
	"github.com/luthierworks/luthier/internal/logging"
	"github.com/luthierworks/luthier/internal/models"
)

const maxListLimit = 100

// TestimonialRequest is the body for creating or replacing a testimonial.
type TestimonialRequest struct {
	ClientName     string `json:"client_name" binding:"required"`
	ClientPhotoURL string `json:"client_photo_url"`
	Text           string `json:"testimonial_text" binding:"required"`
	Rating         *int   `json:"rating"`
	ServiceID      string `json:"service_id"`
	IsFeatured     bool   `json:"is_featured"`
	DisplayOrder   int    `json:"display_order"`
}

func (r *TestimonialRequest) apply(t *models.Testimonial) {
	t.ClientName = strings.TrimSpace(r.ClientName)
	t.ClientPhotoURL = strings.TrimSpace(r.ClientPhotoURL)
	t.Text = strings.TrimSpace(r.Text)
	t.Rating = models.MaxRating
	if r.Rating != nil {
		t.Rating = models.ClampRating(*r.Rating)
	}
	t.ServiceID = strings.TrimSpace(r.ServiceID)
	t.IsFeatured = r.IsFeatured
	t.DisplayOrder = r.DisplayOrder
}

func (s *Server) handleListTestimonials(c *gin.Context) {
	filter := models.TestimonialFilter{
		ServiceID: c.Query("service_id"),
		Limit:     maxListLimit,
	}
	if raw := c.Query("featured"); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "featured must be a boolean")
			return
		}
		filter.FeaturedOnly = featured
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		if limit < maxListLimit {
			filter.Limit = limit
		}
	}

	list, err := s.store.ListTestimonials(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if list == nil {
		list = []*models.Testimonial{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetTestimonial(c *gin.Context) {
	t, err := s.store.GetTestimonial(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleCreateTestimonial(c *gin.Context) {
	var req TestimonialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	now := time.Now().UTC()
	t := &models.Testimonial{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	req.apply(t)
	if err := t.Validate(); err != nil {
		s.writeError(c, &errors.ErrTestimonialValidation{Field: "body", Err: err})
		return
	}

	ctx := c.Request.Context()
	err := s.store.CreateTestimonial(ctx, t)
	s.logger.Audit(ctx, logging.NewAuditEvent(logging.TestimonialCreate, "create_testimonial", logging.StatusSuccess).
		WithIPAddress(c.ClientIP()).
		WithResource(t.ID).
		WithError(err))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) handleUpdateTestimonial(c *gin.Context) {
	var req TestimonialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	t, err := s.store.GetTestimonial(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	req.apply(t)
	t.UpdatedAt = time.Now().UTC()
	if err := t.Validate(); err != nil {
		s.writeError(c, &errors.ErrTestimonialValidation{Field: "body", Err: err})
		return
	}

	err = s.store.UpdateTestimonial(ctx, t)
	s.logger.Audit(ctx, logging.NewAuditEvent(logging.TestimonialUpdate, "update_testimonial", logging.StatusSuccess).
		WithIPAddress(c.ClientIP()).
		WithResource(t.ID).
		WithError(err))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleDeleteTestimonial(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	err := s.store.DeleteTestimonial(ctx, id)
	s.logger.Audit(ctx, logging.NewAuditEvent(logging.TestimonialDelete, "delete_testimonial", logging.StatusSuccess).
		WithIPAddress(c.ClientIP()).
		WithResource(id).
		WithError(err))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
