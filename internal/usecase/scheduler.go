package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"LeadScanner/internal/ports"
)

// Scheduler wires the cron-like driver with the scan and inbox use cases.
type Scheduler struct {
	scanDriver  ports.Scheduler
	scanner     *LiveScanner
	inboxDriver ports.Scheduler
	inbox       *Inbox
	logger      *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring jobs. Either pair may be nil.
func NewScheduler(scanDriver ports.Scheduler, scanner *LiveScanner, inboxDriver ports.Scheduler, inbox *Inbox, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		scanDriver:  scanDriver,
		scanner:     scanner,
		inboxDriver: inboxDriver,
		inbox:       inbox,
		logger:      logger,
	}
}

// Start registers the jobs with their drivers. A failed run is logged and retried on the next tick.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.scanDriver != nil && s.scanner != nil {
		job := func(trigger time.Time) {
			_, err := s.scanner.RunPass(ctx, false)
			switch {
			case errors.Is(err, ErrPassInProgress):
				s.logger.Debug("previous scan pass still running", "trigger", trigger)
			case err != nil && ctx.Err() == nil:
				s.logger.Warn("scan pass failed, retrying next tick", "trigger", trigger, "error", err)
			}
		}
		if err := s.scanDriver.Start(ctx, job); err != nil {
			return err
		}
	}

	if s.inboxDriver != nil && s.inbox != nil {
		job := func(time.Time) {
			n, err := s.inbox.Poll(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("inbox poll failed, retrying next tick", "error", err)
				return
			}
			if n > 0 {
				s.logger.Info("answered direct messages", "count", n)
			}
		}
		if err := s.inboxDriver.Start(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// Stop gracefully tears down the underlying schedulers.
func (s *Scheduler) Stop(ctx context.Context) error {
	var errs []error
	if s.scanDriver != nil {
		errs = append(errs, s.scanDriver.Stop(ctx))
	}
	if s.inboxDriver != nil {
		errs = append(errs, s.inboxDriver.Stop(ctx))
	}
	return errors.Join(errs...)
}
