package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/metrics"
	"LeadScanner/internal/ports"
)

const (
	defaultGenerationTimeout = 30 * time.Second
	defaultDispatchTimeout   = 30 * time.Second
)

// Composer produces the reply text for a lead on one channel.
type Composer func(ctx context.Context, replier ports.Replier, item domain.RawItem) string

// PostComposer replies in the public group voice with links appended.
func PostComposer(ctx context.Context, replier ports.Replier, item domain.RawItem) string {
	return replier.ReplyForPost(ctx, item.Text)
}

// Channel describes where a lead came from and how to answer it.
type Channel struct {
	Platform   domain.Platform
	Dispatcher ports.Dispatcher
	// Limiter paces dispatches across every caller sharing the channel; nil means unlimited.
	Limiter *rate.Limiter
	// GenerationTimeout bounds composing the reply.
	GenerationTimeout time.Duration
	// DispatchTimeout bounds delivery; it starts once the reply text exists.
	DispatchTimeout time.Duration
	// AllLeads skips the keyword check, used for direct messages.
	AllLeads bool
	Compose  Composer
}

// Result is what Process did with one item.
type Result struct {
	Item    domain.ObservedItem
	Outcome domain.Outcome
	Reply   string
}

// PipelineDeps wires the driven adapters into the reply pipeline.
type PipelineDeps struct {
	Ledger  ports.LeadLedger
	Replier ports.Replier
	Matcher Matcher
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Pipeline decides, for each observed item, whether it is a new lead and what to do about it.
// It keeps no state besides in-flight deduplication.
type Pipeline struct {
	ledger  ports.LeadLedger
	replier ports.Replier
	matcher Matcher
	logger  *slog.Logger
	metrics *metrics.Metrics

	flights singleflight.Group
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	matcher := deps.Matcher
	if matcher.keywords == nil {
		matcher = NewMatcher(nil)
	}
	return &Pipeline{
		ledger:  deps.Ledger,
		replier: deps.Replier,
		matcher: matcher,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}
}

// Process runs one item through the decision state machine. Concurrent calls
// for the same fingerprint share a single execution, so an unseen fingerprint
// gets exactly one ledger write and at most one dispatch. Callers that joined
// another call's execution see OutcomeSkipped.
func (p *Pipeline) Process(ctx context.Context, raw domain.RawItem, ch Channel) (Result, error) {
	fp := raw.Fingerprint()
	res, err := p.once(fp, func() (Result, error) {
		return p.process(ctx, fp, raw, ch)
	})
	if err != nil {
		return Result{}, err
	}
	p.metrics.RecordItem(string(ch.Platform), string(res.Outcome))
	return res, nil
}

// once runs fn for the first caller of fp and hands joiners a skipped copy.
func (p *Pipeline) once(fp string, fn func() (Result, error)) (Result, error) {
	var leader bool
	v, err, _ := p.flights.Do(fp, func() (any, error) {
		leader = true
		return fn()
	})
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)
	if !leader {
		res.Outcome = domain.OutcomeSkipped
		res.Reply = ""
	}
	return res, nil
}

func (p *Pipeline) process(ctx context.Context, fp string, raw domain.RawItem, ch Channel) (Result, error) {
	seen, err := p.ledger.Exists(ctx, fp)
	if err != nil {
		return Result{}, err
	}
	if seen {
		item, err := p.ledger.Get(ctx, fp)
		if err != nil {
			return Result{}, err
		}
		p.debug("duplicate skipped", "fingerprint", fp, "source", raw.SourceRef)
		return Result{Item: item, Outcome: domain.OutcomeSkipped}, nil
	}

	if !ch.AllLeads && !p.matcher.Match(raw.Text) {
		item, err := p.record(ctx, fp, raw, domain.QualityCold)
		if err != nil {
			return Result{}, err
		}
		return Result{Item: item, Outcome: domain.OutcomeNotLead}, nil
	}

	if ch.Limiter != nil {
		if err := ch.Limiter.Wait(ctx); err != nil {
			// Nothing was sent; the item stays unseen and is picked up next pass.
			return Result{}, fmt.Errorf("wait for dispatch slot: %w", err)
		}
	} else if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// Once a reply is underway it is allowed to finish even if ctx is cancelled.
	// Composing and delivering each get their own deadline.
	detached := context.WithoutCancel(ctx)
	reply := p.compose(detached, raw, ch)

	dctx, cancel := context.WithTimeout(detached, orDefault(ch.DispatchTimeout, defaultDispatchTimeout))
	defer cancel()

	quality := domain.QualityHot
	outcome := domain.OutcomeReplied
	if err := submit(dctx, ch.Dispatcher, raw, reply); err != nil {
		quality = domain.QualityWarm
		outcome = domain.OutcomeFailed
		p.metrics.RecordDispatchFailure(string(ch.Platform))
		p.warn("dispatch failed", "fingerprint", fp, "platform", ch.Platform, "error", err)
	}

	item, err := p.record(context.WithoutCancel(ctx), fp, raw, quality)
	if err != nil {
		return Result{}, err
	}
	return Result{Item: item, Outcome: outcome, Reply: reply}, nil
}

func (p *Pipeline) compose(ctx context.Context, raw domain.RawItem, ch Channel) string {
	gctx, cancel := context.WithTimeout(ctx, orDefault(ch.GenerationTimeout, defaultGenerationTimeout))
	defer cancel()

	compose := ch.Compose
	if compose == nil {
		compose = PostComposer
	}
	return compose(gctx, p.replier, raw)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Archive records a retrospectively scraped item. Keyword matches are stored
// as cold leads; nothing is ever sent.
func (p *Pipeline) Archive(ctx context.Context, raw domain.RawItem) (Result, error) {
	fp := raw.Fingerprint()
	return p.once(fp, func() (Result, error) {
		seen, err := p.ledger.Exists(ctx, fp)
		if err != nil {
			return Result{}, err
		}
		if seen {
			return Result{Outcome: domain.OutcomeSkipped}, nil
		}
		if !p.matcher.Match(raw.Text) {
			return Result{Outcome: domain.OutcomeNotLead}, nil
		}
		item, err := p.record(ctx, fp, raw, domain.QualityCold)
		if err != nil {
			return Result{}, err
		}
		return Result{Item: item, Outcome: domain.OutcomeArchived}, nil
	})
}

func (p *Pipeline) record(ctx context.Context, fp string, raw domain.RawItem, quality domain.Quality) (domain.ObservedItem, error) {
	inserted, err := p.ledger.RecordObservation(ctx, domain.Observation{
		Fingerprint: fp,
		SourceRef:   raw.SourceRef,
		Text:        raw.Text,
		Quality:     quality,
	})
	if err != nil {
		return domain.ObservedItem{}, err
	}
	if !inserted {
		// Another process won the insert; its record stands.
		p.warn("observation already recorded elsewhere", "fingerprint", fp)
	}
	return p.ledger.Get(ctx, fp)
}

// submit turns every dispatcher failure, including a panic, into an error.
func submit(ctx context.Context, d ports.Dispatcher, raw domain.RawItem, reply string) (err error) {
	if d == nil {
		return fmt.Errorf("%w: no dispatcher", domain.ErrDispatchFailed)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrDispatchFailed, r)
		}
	}()
	if err := d.SubmitReply(ctx, raw, reply); err != nil {
		if errors.Is(err, domain.ErrDispatchFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrDispatchFailed, err)
	}
	return nil
}

func (p *Pipeline) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
