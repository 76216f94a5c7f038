package store

import (
	"context"
	"sort"
	"sync"

	"github.com/luthierworks/luthier/internal/errors"
	"github.com/luthierworks/luthier/internal/models"
)

// MemoryStore keeps testimonials in maps. Used by tests and dry runs.
type MemoryStore struct {
	mu           sync.RWMutex
	testimonials map[string]*models.Testimonial
	byExternal   map[string]string
	settings     *MemorySettingsStore
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		testimonials: make(map[string]*models.Testimonial),
		byExternal:   make(map[string]string),
		settings:     NewMemorySettingsStore(),
	}
}

func (m *MemoryStore) GetTestimonial(ctx context.Context, id string) (*models.Testimonial, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.testimonials[id]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "testimonial", ID: id}
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) FindByExternalReviewID(ctx context.Context, externalID string) (*models.Testimonial, bool, error) {
	if externalID == "" {
		return nil, false, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byExternal[externalID]
	if !ok {
		return nil, false, nil
	}
	cp := *m.testimonials[id]
	return &cp, true, nil
}

func (m *MemoryStore) CreateTestimonial(ctx context.Context, t *models.Testimonial) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.testimonials[t.ID]; exists {
		return &errors.ErrConflict{Resource: "testimonial", Key: t.ID}
	}
	if t.ExternalReviewID != "" {
		if _, exists := m.byExternal[t.ExternalReviewID]; exists {
			return &errors.ErrConflict{Resource: "testimonial", Key: t.ExternalReviewID}
		}
		m.byExternal[t.ExternalReviewID] = t.ID
	}

	cp := *t
	m.testimonials[t.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateTestimonial(ctx context.Context, t *models.Testimonial) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.testimonials[t.ID]
	if !ok {
		return &errors.ErrNotFound{Resource: "testimonial", ID: t.ID}
	}
	if t.ExternalReviewID != existing.ExternalReviewID {
		if t.ExternalReviewID != "" {
			if owner, taken := m.byExternal[t.ExternalReviewID]; taken && owner != t.ID {
				return &errors.ErrConflict{Resource: "testimonial", Key: t.ExternalReviewID}
			}
			m.byExternal[t.ExternalReviewID] = t.ID
		}
		delete(m.byExternal, existing.ExternalReviewID)
	}

	cp := *t
	m.testimonials[t.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteTestimonial(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.testimonials[id]
	if !ok {
		return &errors.ErrNotFound{Resource: "testimonial", ID: id}
	}
	if t.ExternalReviewID != "" {
		delete(m.byExternal, t.ExternalReviewID)
	}
	delete(m.testimonials, id)
	return nil
}

func (m *MemoryStore) ListTestimonials(ctx context.Context, filter models.TestimonialFilter) ([]*models.Testimonial, error) {
	m.mu.RLock()
	result := make([]*models.Testimonial, 0, len(m.testimonials))
	for _, t := range m.testimonials {
		if filter.FeaturedOnly && !t.IsFeatured {
			continue
		}
		if filter.ServiceID != "" && t.ServiceID != filter.ServiceID {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	m.mu.RUnlock()

	sortTestimonials(result)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func sortTestimonials(ts []*models.Testimonial) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if a.IsFeatured != b.IsFeatured {
			return a.IsFeatured
		}
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Clear removes all testimonials and settings.
func (m *MemoryStore) Clear() {
	m.mu.Lock()
	m.testimonials = make(map[string]*models.Testimonial)
	m.byExternal = make(map[string]string)
	m.mu.Unlock()
	m.settings.Clear()
}

func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := StoreStats{TestimonialCount: len(m.testimonials), ImportedCount: len(m.byExternal)}
	for _, t := range m.testimonials {
		if t.IsFeatured {
			stats.FeaturedCount++
		}
	}
	return stats
}

// Settings returns the settings store.
func (m *MemoryStore) Settings() SettingsStore {
	return m.settings
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
