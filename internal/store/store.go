// Package store defines the catalog's record store and an in-memory
// implementation used when no database is configured.
package store

import (
	"context"
	"errors"

	"github.com/scentbase/perfume-catalog/internal/models"
)

var ErrNotFound = errors.New("perfume not found")

// ListQuery filters and pages the catalog listing.
type ListQuery struct {
	Page   int
	Limit  int
	Brand  string
	Gender string
	Search string
	SortBy string // name | rating | year | createdAt
}

type ListResult struct {
	Data       []*models.Perfume `json:"data"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	Total      int               `json:"total"`
	TotalPages int               `json:"totalPages"`
}

type Stats struct {
	TotalPerfumes int            `json:"totalPerfumes"`
	TotalBrands   int            `json:"totalBrands"`
	ByGender      map[string]int `json:"byGender"`
}

// Store is the catalog persistence contract. The Postgres
// implementation lives in internal/database; Memory backs the
// no-database fallback mode.
type Store interface {
	Add(ctx context.Context, p *models.Perfume) (*models.Perfume, error)
	GetByID(ctx context.Context, id string) (*models.Perfume, error)
	Update(ctx context.Context, p *models.Perfume) (*models.Perfume, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, q ListQuery) (*ListResult, error)
	GetBrands(ctx context.Context) ([]string, error)
	GetAllSourceURLs(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*Stats, error)
}
