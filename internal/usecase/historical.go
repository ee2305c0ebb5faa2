package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

// ErrHistoricalRunning is returned when a second historical scrape is requested.
var ErrHistoricalRunning = errors.New("historical scrape already running")

// Progress is a snapshot of the historical scrape.
type Progress struct {
	Running      bool
	CurrentGroup string
	PostsScraped int
	Archived     int
	StartedAt    time.Time
	FinishedAt   time.Time
	Err          error
}

// HistoricalScraper deep-scrolls every group once and archives matching posts as cold leads.
// Only one scrape runs at a time; it is independent of the live scan loop.
type HistoricalScraper struct {
	opener   ports.HistoryOpener
	pipeline *Pipeline
	account  string
	groups   []string
	clock    clockwork.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	progress Progress
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHistoricalScraper scrapes groups through account.
func NewHistoricalScraper(opener ports.HistoryOpener, pipeline *Pipeline, account string, groups []string, clock clockwork.Clock, logger *slog.Logger) *HistoricalScraper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HistoricalScraper{
		opener:   opener,
		pipeline: pipeline,
		account:  account,
		groups:   groups,
		clock:    clock,
		logger:   logger,
	}
}

// Start launches the scrape in the background. The scrape stops when ctx is
// cancelled or Stop is called.
func (h *HistoricalScraper) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.progress.Running {
		return ErrHistoricalRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.progress = Progress{Running: true, StartedAt: h.clock.Now()}

	go func(done chan struct{}) {
		defer close(done)
		defer cancel()
		err := h.run(runCtx)

		h.mu.Lock()
		h.progress.Running = false
		h.progress.CurrentGroup = ""
		h.progress.FinishedAt = h.clock.Now()
		h.progress.Err = err
		snapshot := h.progress
		h.mu.Unlock()

		if err != nil {
			h.logger.Warn("historical scrape ended with error", "error", err, "posts", snapshot.PostsScraped)
			return
		}
		h.logger.Info("historical scrape finished", "posts", snapshot.PostsScraped, "archived", snapshot.Archived)
	}(h.done)
	return nil
}

// Stop cancels a running scrape and waits for it to wind down.
func (h *HistoricalScraper) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the current scrape finishes and returns its error.
func (h *HistoricalScraper) Wait(ctx context.Context) error {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return h.Progress().Err
}

// Progress returns a snapshot safe to read from any goroutine.
func (h *HistoricalScraper) Progress() Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

func (h *HistoricalScraper) run(ctx context.Context) error {
	source, err := h.opener.OpenHistory(ctx, h.account)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := source.Close(); cErr != nil {
			h.logger.Warn("history session close", "error", cErr)
		}
	}()

	for _, group := range h.groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.update(func(p *Progress) { p.CurrentGroup = group })

		for raw, err := range source.History(ctx, group) {
			if err != nil {
				h.logger.Warn("history fetch failed", "group", group, "error", err)
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			res, err := h.pipeline.Archive(ctx, raw)
			if err != nil {
				h.logger.Error("archive failed", "group", group, "error", err)
				continue
			}
			h.update(func(p *Progress) {
				p.PostsScraped++
				if res.Outcome == domain.OutcomeArchived {
					p.Archived++
				}
			})
		}
	}
	return ctx.Err()
}

func (h *HistoricalScraper) update(fn func(*Progress)) {
	h.mu.Lock()
	fn(&h.progress)
	h.mu.Unlock()
}
