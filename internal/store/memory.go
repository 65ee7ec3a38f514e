package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scentbase/perfume-catalog/internal/models"
)

// Memory keeps the catalog in a map. Fallback for development and for
// deployments without Postgres; everything is lost on restart.
type Memory struct {
	mu       sync.RWMutex
	perfumes map[string]*models.Perfume
}

func NewMemory() *Memory {
	return &Memory{perfumes: make(map[string]*models.Perfume)}
}

func (m *Memory) Add(_ context.Context, p *models.Perfume) (*models.Perfume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *p
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	m.perfumes[stored.ID] = &stored
	return &stored, nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*models.Perfume, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.perfumes[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *Memory) Update(_ context.Context, p *models.Perfume) (*models.Perfume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.perfumes[p.ID]
	if !ok {
		return nil, ErrNotFound
	}

	updated := *p
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now()
	m.perfumes[p.ID] = &updated

	copied := updated
	return &copied, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.perfumes[id]; !ok {
		return ErrNotFound
	}
	delete(m.perfumes, id)
	return nil
}

func (m *Memory) List(_ context.Context, q ListQuery) (*ListResult, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 12
	}

	m.mu.RLock()
	var matched []*models.Perfume
	for _, p := range m.perfumes {
		if matches(p, q) {
			copied := *p
			matched = append(matched, &copied)
		}
	}
	m.mu.RUnlock()

	sortPerfumes(matched, q.SortBy)

	total := len(matched)
	totalPages := (total + q.Limit - 1) / q.Limit

	start := (q.Page - 1) * q.Limit
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}

	return &ListResult{
		Data:       matched[start:end],
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

func matches(p *models.Perfume, q ListQuery) bool {
	if q.Brand != "" && !strings.Contains(strings.ToLower(p.Brand), strings.ToLower(q.Brand)) {
		return false
	}
	if q.Gender != "" && string(p.Gender) != q.Gender {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(p.Brand), needle) &&
			!strings.Contains(strings.ToLower(p.Description), needle) {
			return false
		}
	}
	return true
}

func sortPerfumes(perfumes []*models.Perfume, sortBy string) {
	switch sortBy {
	case "name":
		sort.Slice(perfumes, func(i, j int) bool { return perfumes[i].Name < perfumes[j].Name })
	case "rating":
		sort.Slice(perfumes, func(i, j int) bool { return perfumes[i].Rating > perfumes[j].Rating })
	case "year":
		sort.Slice(perfumes, func(i, j int) bool { return perfumes[i].Year > perfumes[j].Year })
	default: // newest first
		sort.Slice(perfumes, func(i, j int) bool {
			return perfumes[i].CreatedAt.After(perfumes[j].CreatedAt)
		})
	}
}

func (m *Memory) GetBrands(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var brands []string
	for _, p := range m.perfumes {
		if p.Brand != "" && !seen[p.Brand] {
			seen[p.Brand] = true
			brands = append(brands, p.Brand)
		}
	}
	sort.Strings(brands)
	return brands, nil
}

func (m *Memory) GetAllSourceURLs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var urls []string
	for _, p := range m.perfumes {
		if p.SourceURL != "" {
			urls = append(urls, p.SourceURL)
		}
	}
	return urls, nil
}

func (m *Memory) Stats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{ByGender: map[string]int{
		string(models.GenderMasculine): 0,
		string(models.GenderFeminine):  0,
		string(models.GenderUnisex):    0,
	}}
	brands := make(map[string]bool)
	for _, p := range m.perfumes {
		stats.TotalPerfumes++
		if p.Brand != "" {
			brands[p.Brand] = true
		}
		stats.ByGender[string(p.Gender)]++
	}
	stats.TotalBrands = len(brands)
	return stats, nil
}
