// Package events records catalog change events through the
// transactional outbox.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/scentbase/perfume-catalog/internal/database"
	"github.com/scentbase/perfume-catalog/internal/models"
)

const (
	EventPerfumeScraped = "PERFUME_SCRAPED"

	aggregatePerfume = "perfume"
)

// Publisher writes outbox events for catalog changes. The relay picks
// them up and pushes them to Redis.
type Publisher struct {
	outbox *database.OutboxRepository
}

func NewPublisher(outbox *database.OutboxRepository) *Publisher {
	return &Publisher{outbox: outbox}
}

type perfumeScrapedPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Brand     string `json:"brand"`
	Gender    string `json:"gender"`
	SourceURL string `json:"sourceUrl,omitempty"`
}

// RecordScrapedWithTx writes a PERFUME_SCRAPED event in the same
// transaction as the record insert.
func (p *Publisher) RecordScrapedWithTx(ctx context.Context, tx pgx.Tx, perfume *models.Perfume) error {
	payload, err := json.Marshal(perfumeScrapedPayload{
		ID:        perfume.ID,
		Name:      perfume.Name,
		Brand:     perfume.Brand,
		Gender:    string(perfume.Gender),
		SourceURL: perfume.SourceURL,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: aggregatePerfume,
		AggregateID:   perfume.ID,
		EventType:     EventPerfumeScraped,
		Payload:       payload,
	}

	return p.outbox.InsertWithTx(ctx, tx, event)
}
