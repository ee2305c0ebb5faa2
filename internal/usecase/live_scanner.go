package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/metrics"
	"LeadScanner/internal/ports"
)

// ErrPassInProgress is returned when a scan pass is requested while one runs.
var ErrPassInProgress = errors.New("scan pass already running")

// PassSummary tallies one live scan pass.
type PassSummary struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Forced   bool
	Hot      int
	Warm     int
	Cold     int
	Skipped  int
	Errors   int
	// Stopped is set when the pass ended early on cancellation or toggle.
	Stopped bool
}

// Seen is the number of items that reached the pipeline.
func (s PassSummary) Seen() int {
	return s.Hot + s.Warm + s.Cold + s.Skipped
}

// Digest renders the operator notification for the pass.
func (s PassSummary) Digest() string {
	return fmt.Sprintf("**Scan pass finished** `%s`\n\n- Hot: %d\n- Warm: %d\n- Cold: %d\n- Skipped: %d\n- Errors: %d\n\nTook %s",
		shortID(s.RunID), s.Hot, s.Warm, s.Cold, s.Skipped, s.Errors, s.Finished.Sub(s.Started).Round(time.Second))
}

func (s *PassSummary) tally(outcome domain.Outcome) {
	switch outcome {
	case domain.OutcomeReplied:
		s.Hot++
	case domain.OutcomeFailed:
		s.Warm++
	case domain.OutcomeNotLead:
		s.Cold++
	case domain.OutcomeSkipped:
		s.Skipped++
	}
}

// LiveScannerDeps wires a LiveScanner.
type LiveScannerDeps struct {
	Opener   ports.SessionOpener
	Pipeline *Pipeline
	Notifier ports.Notifier
	Clock    clockwork.Clock
	Pacer    *Pacer
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	Accounts     []string
	Groups       []string
	ReplyPause   Pause
	AccountPause Pause
	// Channel builds the dispatch channel for a freshly opened session.
	Channel func(session ports.GroupSession) Channel
}

// LiveScanner walks every account, group and post in order, replying to new leads.
type LiveScanner struct {
	deps   LiveScannerDeps
	clock  clockwork.Clock
	pacer  *Pacer
	active atomic.Bool
	pass   sync.Mutex
}

// NewLiveScanner starts in the active state.
func NewLiveScanner(deps LiveScannerDeps) *LiveScanner {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	pacer := deps.Pacer
	if pacer == nil {
		pacer = NewPacer(clock)
	}
	if deps.Channel == nil {
		deps.Channel = func(session ports.GroupSession) Channel {
			return Channel{Platform: domain.PlatformFacebook, Dispatcher: session, Compose: PostComposer}
		}
	}
	s := &LiveScanner{deps: deps, clock: clock, pacer: pacer}
	s.active.Store(true)
	return s
}

// Active reports whether scheduled passes run.
func (s *LiveScanner) Active() bool {
	return s.active.Load()
}

// SetActive pauses or resumes scanning. A running pass stops at the next post boundary.
func (s *LiveScanner) SetActive(v bool) {
	s.active.Store(v)
}

// Toggle flips the active flag and returns the new value.
func (s *LiveScanner) Toggle() bool {
	for {
		old := s.active.Load()
		if s.active.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// RunPass performs one scan pass. Inactive scanners skip the pass unless force is set.
// Failing to open any session makes the whole pass fail with an ExternalProcessError.
func (s *LiveScanner) RunPass(ctx context.Context, force bool) (PassSummary, error) {
	if !s.pass.TryLock() {
		return PassSummary{}, ErrPassInProgress
	}
	defer s.pass.Unlock()

	summary := PassSummary{RunID: uuid.NewString(), Started: s.clock.Now(), Forced: force}
	logger := s.logger().With("run_id", summary.RunID)

	if !force && !s.Active() {
		logger.Debug("scan paused, skipping pass")
		summary.Stopped = true
		summary.Finished = summary.Started
		return summary, nil
	}

	logger.Info("scan pass started", "accounts", len(s.deps.Accounts), "groups", len(s.deps.Groups), "forced", force)
	err := s.scanAccounts(ctx, force, logger, &summary)
	summary.Finished = s.clock.Now()
	s.deps.Metrics.RecordScanPass(summary.Finished.Sub(summary.Started), err)

	if err != nil {
		logger.Error("scan pass failed", "error", err)
		return summary, err
	}

	logger.Info("scan pass finished", "hot", summary.Hot, "warm", summary.Warm, "cold", summary.Cold,
		"skipped", summary.Skipped, "errors", summary.Errors, "stopped", summary.Stopped)

	if s.deps.Notifier != nil && summary.Seen() > 0 {
		if nErr := s.deps.Notifier.PublishDigest(ctx, summary.Digest()); nErr != nil {
			logger.Warn("digest not delivered", "error", nErr)
		}
	}
	return summary, nil
}

func (s *LiveScanner) scanAccounts(ctx context.Context, force bool, logger *slog.Logger, summary *PassSummary) error {
	var (
		opened  int
		openErr error
	)
	for i, account := range s.deps.Accounts {
		if !s.proceed(ctx, force) {
			summary.Stopped = true
			break
		}
		if i > 0 {
			if err := s.pacer.Wait(ctx, s.deps.AccountPause); err != nil {
				summary.Stopped = true
				break
			}
		}

		session, err := s.deps.Opener.Open(ctx, account)
		if err != nil {
			summary.Errors++
			openErr = errors.Join(openErr, err)
			logger.Warn("account session not opened", "account", account, "error", err)
			continue
		}
		opened++

		s.scanGroups(ctx, force, session, logger.With("account", account), summary)

		if err := session.Close(); err != nil {
			logger.Warn("account session close", "account", account, "error", err)
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if opened == 0 && openErr != nil {
		return &domain.ExternalProcessError{Process: "browser", Err: openErr}
	}
	return nil
}

func (s *LiveScanner) scanGroups(ctx context.Context, force bool, session ports.GroupSession, logger *slog.Logger, summary *PassSummary) {
	ch := s.deps.Channel(session)

	for _, group := range s.deps.Groups {
		if !s.proceed(ctx, force) {
			summary.Stopped = true
			return
		}

		for raw, err := range session.Posts(ctx, group) {
			if err != nil {
				summary.Errors++
				logger.Warn("group fetch failed", "group", group, "error", err)
				break
			}
			if !s.proceed(ctx, force) {
				summary.Stopped = true
				return
			}

			res, err := s.deps.Pipeline.Process(ctx, raw, ch)
			if err != nil {
				summary.Errors++
				logger.Error("item failed", "group", group, "fingerprint", raw.Fingerprint(), "error", err)
				continue
			}
			summary.tally(res.Outcome)

			if res.Outcome == domain.OutcomeReplied {
				logger.Info("replied to lead", "group", group, "fingerprint", res.Item.Fingerprint)
				if err := s.pacer.Wait(ctx, s.deps.ReplyPause); err != nil {
					summary.Stopped = true
					return
				}
			}
		}
	}
}

func (s *LiveScanner) proceed(ctx context.Context, force bool) bool {
	return ctx.Err() == nil && (force || s.Active())
}

func (s *LiveScanner) logger() *slog.Logger {
	if s.deps.Logger != nil {
		return s.deps.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
