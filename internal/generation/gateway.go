package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
	"LeadScanner/internal/templates"
)

// Links are appended verbatim to every public reply.
type Links struct {
	ShopURL        string
	WhatsAppNumber string
}

// Suffix renders the links block.
func (l Links) Suffix() string {
	return fmt.Sprintf("\n\n%s\nwa.me/%s", l.ShopURL, l.WhatsAppNumber)
}

// HealthObserver is told whenever the online flag changes.
type HealthObserver func(online bool)

// Options tune a Gateway.
type Options struct {
	Links    Links
	Logger   *slog.Logger
	Intn     func(int) int
	OnHealth HealthObserver
}

// Gateway mediates access to the completion backend. Any failed call takes it
// offline for good; only Reconfigure brings it back.
type Gateway struct {
	mu      sync.RWMutex
	backend ports.CompletionBackend
	online  atomic.Bool

	pool     *templates.Pool
	links    Links
	logger   *slog.Logger
	intn     func(int) int
	onHealth HealthObserver
}

var _ ports.Replier = (*Gateway)(nil)

// NewGateway is online iff backend is non-nil.
func NewGateway(backend ports.CompletionBackend, pool *templates.Pool, opts Options) *Gateway {
	if pool == nil {
		pool = templates.New(nil, nil)
	}
	if opts.Intn == nil {
		opts.Intn = rand.IntN
	}
	g := &Gateway{
		backend:  backend,
		pool:     pool,
		links:    opts.Links,
		logger:   opts.Logger,
		intn:     opts.Intn,
		onHealth: opts.OnHealth,
	}
	g.setOnline(backend != nil)
	return g
}

// Online reports whether generation requests are currently attempted.
func (g *Gateway) Online() bool {
	return g.online.Load()
}

// Reconfigure swaps the backend and re-enables the gateway when it is non-nil.
func (g *Gateway) Reconfigure(backend ports.CompletionBackend) {
	g.mu.Lock()
	g.backend = backend
	g.mu.Unlock()
	g.setOnline(backend != nil)
}

// Complete performs one generation attempt.
func (g *Gateway) Complete(ctx context.Context, prompt string) (string, error) {
	if !g.Online() {
		return "", domain.ErrGenerationUnavailable
	}

	g.mu.RLock()
	backend := g.backend
	g.mu.RUnlock()
	if backend == nil {
		g.setOnline(false)
		return "", domain.ErrGenerationUnavailable
	}

	text, err := backend.Complete(ctx, prompt)
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		// The caller gave up; the backend is not to blame. A passed deadline is a
		// request timeout and takes the gateway offline below.
		return "", fmt.Errorf("%w: %w", domain.ErrGenerationUnavailable, ctx.Err())
	}
	if err == nil && text == "" {
		err = fmt.Errorf("empty completion")
	}
	if err != nil {
		g.setOnline(false)
		g.warn("generation failed, switching to templates", "error", err)
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, err)
	}
	return text, nil
}

// ReplyForPost answers a public group post as a fellow customer and appends the links.
func (g *Gateway) ReplyForPost(ctx context.Context, text string) string {
	body, err := g.Complete(ctx, postPrompt(text))
	if err != nil {
		body = g.fallback()
	}
	return body + g.links.Suffix()
}

// ReplyForMessage continues a private conversation; no links are appended.
func (g *Gateway) ReplyForMessage(ctx context.Context, text, history string) string {
	body, err := g.Complete(ctx, messagePrompt(text, history))
	if err != nil {
		return g.fallback()
	}
	return body
}

func (g *Gateway) fallback() string {
	if reply, ok := g.pool.Pick(g.intn); ok {
		return reply
	}
	return fmt.Sprintf("Check out %s for quality parts!", g.links.ShopURL)
}

func (g *Gateway) setOnline(v bool) {
	if g.online.Swap(v) != v && g.onHealth != nil {
		g.onHealth(v)
	}
}

func (g *Gateway) warn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}
