// Package queue drains batches of product URLs through the scraper one
// at a time, surviving rate limits without losing the batch and without
// hammering the source site.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/scentbase/perfume-catalog/internal/fetcher"
	"github.com/scentbase/perfume-catalog/internal/models"
	"github.com/scentbase/perfume-catalog/internal/scraper"
)

// Scraper is the single-URL scrape operation the queue drives.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*models.Perfume, error)
}

// RecordStore persists accepted records and answers the duplicate
// check at enqueue time.
type RecordStore interface {
	Add(ctx context.Context, p *models.Perfume) (*models.Perfume, error)
	GetAllSourceURLs(ctx context.Context) ([]string, error)
}

// SleepFunc is injectable so tests drain queues without wall-clock
// waits.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

type Config struct {
	// ItemDelay spaces queue items on top of the fetcher's own
	// pre-fetch delay. Deliberate double-spacing.
	ItemDelay time.Duration
	// RateLimitPause is how long the worker sleeps after a rate-limit
	// detection before retrying the same URL.
	RateLimitPause time.Duration
	// RateLimitLimit is the consecutive-rate-limit count that trips
	// the circuit breaker.
	RateLimitLimit int
	// MaxRecentErrors bounds the error ring exposed by Status.
	MaxRecentErrors int
	Sleep           SleepFunc
}

type ErrorEntry struct {
	URL   string    `json:"url"`
	Error string    `json:"error"`
	Time  time.Time `json:"time"`
}

// Status is a point-in-time snapshot of the queue.
type Status struct {
	Processing   bool         `json:"processing"`
	Current      string       `json:"current,omitempty"`
	Processed    int          `json:"processed"`
	Failed       int          `json:"failed"`
	Remaining    int          `json:"remaining"`
	Total        int          `json:"total"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	RecentErrors []ErrorEntry `json:"errors"`
}

// Manager owns the pending list and the single background drain loop.
// At most one loop runs at a time; Start is a no-op while draining.
type Manager struct {
	scraper Scraper
	store   RecordStore
	cfg     Config
	logger  *slog.Logger

	mu           sync.Mutex
	pending      []string
	processing   bool
	current      string
	processed    int
	failed       int
	total        int
	startedAt    time.Time
	recentErrors []ErrorEntry

	loopCancel context.CancelFunc
	done       chan struct{}
}

func NewManager(s Scraper, store RecordStore, cfg Config, logger *slog.Logger) *Manager {
	if cfg.ItemDelay == 0 {
		cfg.ItemDelay = 15 * time.Second
	}
	if cfg.RateLimitPause == 0 {
		cfg.RateLimitPause = 2 * time.Minute
	}
	if cfg.RateLimitLimit == 0 {
		cfg.RateLimitLimit = 3
	}
	if cfg.MaxRecentErrors == 0 {
		cfg.MaxRecentErrors = 10
	}
	if cfg.Sleep == nil {
		cfg.Sleep = defaultSleep
	}
	return &Manager{
		scraper: s,
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "scrape_queue"),
	}
}

// Enqueue appends URLs not already pending and not already known to the
// store. The store check is best-effort: if it fails, enqueue proceeds
// without it.
func (m *Manager) Enqueue(ctx context.Context, urls []string) (added, skipped int) {
	known := make(map[string]bool)
	if existing, err := m.store.GetAllSourceURLs(ctx); err != nil {
		m.logger.Warn("could not fetch existing source urls, skipping duplicate check", "error", err)
	} else {
		for _, u := range existing {
			known[u] = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.pending {
		known[u] = true
	}
	if m.current != "" {
		known[m.current] = true
	}

	for _, u := range urls {
		if known[u] {
			skipped++
			continue
		}
		known[u] = true
		m.pending = append(m.pending, u)
		added++
	}
	m.total += added

	m.logger.Info("urls enqueued", "added", added, "skipped", skipped, "pending", len(m.pending))
	return added, skipped
}

// Start launches the background drain loop. It returns immediately; the
// loop is joined via Wait.
func (m *Manager) Start() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processing {
		return false, "queue already processing"
	}
	if len(m.pending) == 0 {
		return false, "queue is empty"
	}

	m.processing = true
	m.startedAt = time.Now()
	m.recentErrors = nil

	ctx, cancel := context.WithCancel(context.Background())
	m.loopCancel = cancel
	m.done = make(chan struct{})

	m.logger.Info("queue processing started", "pending", len(m.pending))
	go m.drain(ctx, m.done)

	return true, "queue processing started"
}

// Stop asks the loop to exit at its next iteration boundary. An
// in-flight scrape runs to completion; pending sleeps are cut short.
func (m *Manager) Stop() Status {
	m.mu.Lock()
	m.processing = false
	cancel := m.loopCancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.logger.Info("queue processing stopped")
	return m.Status()
}

// Wait blocks until the current drain loop exits. Returns immediately
// if no loop was ever started.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Processing:   m.processing,
		Current:      m.current,
		Processed:    m.processed,
		Failed:       m.failed,
		Remaining:    len(m.pending),
		Total:        m.total,
		RecentErrors: append([]ErrorEntry(nil), m.recentErrors...),
	}
	if !m.startedAt.IsZero() {
		t := m.startedAt
		st.StartedAt = &t
	}
	if st.RecentErrors == nil {
		st.RecentErrors = []ErrorEntry{}
	}
	return st
}

// Clear resets the queue to empty. Callers should Stop first; a running
// loop observes the cleared processing flag and exits.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = nil
	m.processing = false
	m.current = ""
	m.processed = 0
	m.failed = 0
	m.total = 0
	m.startedAt = time.Time{}
	m.recentErrors = nil

	m.logger.Info("queue cleared")
}

func (m *Manager) drain(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		m.mu.Lock()
		m.processing = false
		m.current = ""
		m.logger.Info("queue processing finished", "processed", m.processed, "failed", m.failed)
		m.mu.Unlock()
	}()

	consecutiveRateLimits := 0

	for {
		m.mu.Lock()
		if !m.processing || len(m.pending) == 0 {
			m.mu.Unlock()
			return
		}
		url := m.pending[0]
		m.pending = m.pending[1:]
		m.current = url
		m.mu.Unlock()

		// The item runs on its own context: Stop takes effect at the
		// next iteration boundary, never mid-scrape and never between a
		// finished scrape and its persist. The fetcher's own timeout
		// bounds a stuck fetch.
		itemCtx := context.Background()
		record, err := m.scraper.Scrape(itemCtx, url)

		switch {
		case err == nil:
			if _, addErr := m.store.Add(itemCtx, record); addErr != nil {
				m.logger.Error("failed to persist record", "url", url, "error", addErr)
				m.recordFailure(url, addErr)
			} else {
				m.mu.Lock()
				m.processed++
				m.mu.Unlock()
				consecutiveRateLimits = 0
				m.logger.Info("record saved", "url", url, "name", record.Name)
			}

		case isRateLimited(err):
			consecutiveRateLimits++
			m.logger.Warn("rate limit detected",
				"url", url, "consecutive", consecutiveRateLimits, "limit", m.cfg.RateLimitLimit)

			// The URL goes back to the FRONT: it must be retried
			// before anything else, so no other URL burns a request
			// while the source is still angry.
			m.mu.Lock()
			m.pending = append([]string{url}, m.pending...)
			m.mu.Unlock()

			if consecutiveRateLimits >= m.cfg.RateLimitLimit {
				m.appendError(url, "rate limited repeatedly; queue paused automatically")
				m.mu.Lock()
				m.processing = false
				m.mu.Unlock()
				m.logger.Error("too many consecutive rate limits, stopping queue")
				return
			}

			if sleepErr := m.cfg.Sleep(ctx, m.cfg.RateLimitPause); sleepErr != nil {
				return
			}
			continue // no item delay on top of the pause

		case isValidationError(err):
			// Bad data is not worth retrying.
			m.recordFailure(url, err)
			consecutiveRateLimits = 0

		default:
			m.recordFailure(url, err)
		}

		if sleepErr := m.cfg.Sleep(ctx, m.cfg.ItemDelay); sleepErr != nil {
			return
		}
	}
}

func (m *Manager) recordFailure(url string, err error) {
	m.logger.Error("scrape failed", "url", url, "error", err)
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
	m.appendError(url, err.Error())
}

func (m *Manager) appendError(url, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recentErrors = append(m.recentErrors, ErrorEntry{URL: url, Error: msg, Time: time.Now()})
	if len(m.recentErrors) > m.cfg.MaxRecentErrors {
		m.recentErrors = m.recentErrors[len(m.recentErrors)-m.cfg.MaxRecentErrors:]
	}
}

func isRateLimited(err error) bool {
	var fe *fetcher.Error
	return errors.As(err, &fe) && fe.Kind == fetcher.KindRateLimited
}

func isValidationError(err error) bool {
	var ve *scraper.ValidationError
	return errors.As(err, &ve)
}
