package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scentbase/perfume-catalog/internal/models"
	"github.com/scentbase/perfume-catalog/internal/store"
)

// EventRecorder writes a catalog event in the same transaction as the
// record insert. Optional; nil disables event recording.
type EventRecorder interface {
	RecordScrapedWithTx(ctx context.Context, tx pgx.Tx, p *models.Perfume) error
}

// PerfumeStore is the Postgres implementation of store.Store. Notes and
// accords are stored as JSONB so the pyramid round-trips untouched.
type PerfumeStore struct {
	db     *DB
	events EventRecorder
}

func NewPerfumeStore(db *DB, events EventRecorder) *PerfumeStore {
	return &PerfumeStore{db: db, events: events}
}

// InitSchema creates the perfumes table and its indexes.
func (s *PerfumeStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS perfumes (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			brand TEXT NOT NULL,
			year INTEGER,
			perfumer TEXT,
			gender TEXT NOT NULL DEFAULT 'unisex',
			concentration TEXT,
			notes JSONB NOT NULL DEFAULT '{"top":[],"heart":[],"base":[]}',
			accords JSONB NOT NULL DEFAULT '[]',
			description TEXT,
			image_url TEXT,
			rating DOUBLE PRECISION,
			source_url TEXT,
			scraped_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_perfumes_brand ON perfumes (brand)`,
		`CREATE INDEX IF NOT EXISTS idx_perfumes_gender ON perfumes (gender)`,
		`CREATE INDEX IF NOT EXISTS idx_perfumes_source_url ON perfumes (source_url)`,
		`CREATE TABLE IF NOT EXISTS outbox_event (
			id UUID PRIMARY KEY,
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			target_stream TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMPTZ,
			next_retry_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status_retry ON outbox_event (status, next_retry_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

const perfumeColumns = `id, name, brand, year, perfumer, gender, concentration,
	notes, accords, description, image_url, rating, source_url,
	scraped_at, created_at, updated_at`

func (s *PerfumeStore) Add(ctx context.Context, p *models.Perfume) (*models.Perfume, error) {
	stored := *p
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	notesJSON, accordsJSON, err := marshalPyramid(&stored)
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO perfumes (` + perfumeColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

		_, err := tx.Exec(ctx, query,
			stored.ID, stored.Name, stored.Brand, nullableInt(stored.Year),
			nullableString(stored.Perfumer), string(stored.Gender),
			nullableString(stored.Concentration), notesJSON, accordsJSON,
			nullableString(stored.Description), nullableString(stored.ImageURL),
			nullableFloat(stored.Rating), nullableString(stored.SourceURL),
			nullableTime(stored.ScrapedAt), stored.CreatedAt, stored.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert perfume: %w", err)
		}

		if s.events != nil {
			if err := s.events.RecordScrapedWithTx(ctx, tx, &stored); err != nil {
				return fmt.Errorf("failed to record event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &stored, nil
}

func (s *PerfumeStore) GetByID(ctx context.Context, id string) (*models.Perfume, error) {
	query := `SELECT ` + perfumeColumns + ` FROM perfumes WHERE id = $1`

	p, err := scanPerfume(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get perfume: %w", err)
	}
	return p, nil
}

func (s *PerfumeStore) Update(ctx context.Context, p *models.Perfume) (*models.Perfume, error) {
	updated := *p
	updated.UpdatedAt = time.Now()

	notesJSON, accordsJSON, err := marshalPyramid(&updated)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE perfumes
		SET name = $2, brand = $3, year = $4, perfumer = $5, gender = $6,
			concentration = $7, notes = $8, accords = $9, description = $10,
			image_url = $11, rating = $12, source_url = $13, scraped_at = $14,
			updated_at = $15
		WHERE id = $1
		RETURNING created_at`

	err = s.db.QueryRow(ctx, query,
		updated.ID, updated.Name, updated.Brand, nullableInt(updated.Year),
		nullableString(updated.Perfumer), string(updated.Gender),
		nullableString(updated.Concentration), notesJSON, accordsJSON,
		nullableString(updated.Description), nullableString(updated.ImageURL),
		nullableFloat(updated.Rating), nullableString(updated.SourceURL),
		nullableTime(updated.ScrapedAt), updated.UpdatedAt,
	).Scan(&updated.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update perfume: %w", err)
	}

	return &updated, nil
}

func (s *PerfumeStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.Exec(ctx, `DELETE FROM perfumes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete perfume: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PerfumeStore) List(ctx context.Context, q store.ListQuery) (*store.ListResult, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 12
	}

	var conditions []string
	var args []interface{}

	if q.Brand != "" {
		args = append(args, "%"+q.Brand+"%")
		conditions = append(conditions, fmt.Sprintf("brand ILIKE $%d", len(args)))
	}
	if q.Gender != "" {
		args = append(args, q.Gender)
		conditions = append(conditions, fmt.Sprintf("gender = $%d", len(args)))
	}
	if q.Search != "" {
		args = append(args, "%"+q.Search+"%")
		n := len(args)
		conditions = append(conditions,
			fmt.Sprintf("(name ILIKE $%d OR brand ILIKE $%d OR description ILIKE $%d)", n, n, n))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM perfumes` + where
	if err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count perfumes: %w", err)
	}

	orderBy := " ORDER BY created_at DESC"
	switch q.SortBy {
	case "name":
		orderBy = " ORDER BY name ASC"
	case "rating":
		orderBy = " ORDER BY rating DESC NULLS LAST"
	case "year":
		orderBy = " ORDER BY year DESC NULLS LAST"
	}

	args = append(args, q.Limit, (q.Page-1)*q.Limit)
	query := fmt.Sprintf(`SELECT %s FROM perfumes%s%s LIMIT $%d OFFSET $%d`,
		perfumeColumns, where, orderBy, len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list perfumes: %w", err)
	}
	defer rows.Close()

	perfumes := []*models.Perfume{}
	for rows.Next() {
		p, err := scanPerfume(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan perfume: %w", err)
		}
		perfumes = append(perfumes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &store.ListResult{
		Data:       perfumes,
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	}, nil
}

func (s *PerfumeStore) GetBrands(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT brand FROM perfumes WHERE brand <> '' ORDER BY brand ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get brands: %w", err)
	}
	defer rows.Close()

	var brands []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("failed to scan brand: %w", err)
		}
		brands = append(brands, b)
	}
	return brands, rows.Err()
}

func (s *PerfumeStore) GetAllSourceURLs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT source_url FROM perfumes WHERE source_url IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to get source urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan source url: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func (s *PerfumeStore) Stats(ctx context.Context) (*store.Stats, error) {
	stats := &store.Stats{ByGender: map[string]int{
		string(models.GenderMasculine): 0,
		string(models.GenderFeminine):  0,
		string(models.GenderUnisex):    0,
	}}

	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT brand) FROM perfumes`).
		Scan(&stats.TotalPerfumes, &stats.TotalBrands)
	if err != nil {
		return nil, fmt.Errorf("failed to get totals: %w", err)
	}

	rows, err := s.db.Query(ctx, `SELECT gender, COUNT(*) FROM perfumes GROUP BY gender`)
	if err != nil {
		return nil, fmt.Errorf("failed to get gender counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var gender string
		var count int
		if err := rows.Scan(&gender, &count); err != nil {
			return nil, fmt.Errorf("failed to scan gender count: %w", err)
		}
		stats.ByGender[gender] = count
	}
	return stats, rows.Err()
}

func marshalPyramid(p *models.Perfume) ([]byte, []byte, error) {
	notesJSON, err := json.Marshal(p.Notes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal notes: %w", err)
	}
	accords := p.Accords
	if accords == nil {
		accords = []models.Accord{}
	}
	accordsJSON, err := json.Marshal(accords)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal accords: %w", err)
	}
	return notesJSON, accordsJSON, nil
}

func scanPerfume(row pgx.Row) (*models.Perfume, error) {
	p := &models.Perfume{}
	var (
		year          *int
		perfumer      *string
		gender        string
		concentration *string
		notesJSON     []byte
		accordsJSON   []byte
		description   *string
		imageURL      *string
		rating        *float64
		sourceURL     *string
		scrapedAt     *time.Time
	)

	err := row.Scan(
		&p.ID, &p.Name, &p.Brand, &year, &perfumer, &gender,
		&concentration, &notesJSON, &accordsJSON, &description,
		&imageURL, &rating, &sourceURL, &scrapedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Gender = models.Gender(gender)
	if year != nil {
		p.Year = *year
	}
	if perfumer != nil {
		p.Perfumer = *perfumer
	}
	if concentration != nil {
		p.Concentration = *concentration
	}
	if description != nil {
		p.Description = *description
	}
	if imageURL != nil {
		p.ImageURL = *imageURL
	}
	if rating != nil {
		p.Rating = *rating
	}
	if sourceURL != nil {
		p.SourceURL = *sourceURL
	}
	if scrapedAt != nil {
		p.ScrapedAt = *scrapedAt
	}

	if err := json.Unmarshal(notesJSON, &p.Notes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notes: %w", err)
	}
	if err := json.Unmarshal(accordsJSON, &p.Accords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal accords: %w", err)
	}

	return p, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableInt(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}

func nullableFloat(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
