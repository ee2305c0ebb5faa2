package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

const (
	errorMessageLimit = 100
	backLabel         = "◀️ Back"
)

// ErrUnavailable is returned by panel actions whose component is not configured.
var ErrUnavailable = errors.New("feature not configured")

// Status is the overview shown on the panel home screen.
type Status struct {
	ScanActive       bool
	GenerationOnline bool
	Historical       Progress
	Totals           domain.LeadTotals
	Bridge           *domain.BridgeStatus
	BridgeErr        error
}

// PanelDeps wires the control panel operations.
type PanelDeps struct {
	Store      ports.Store
	Scanner    *LiveScanner
	Historical *HistoricalScraper
	Replier    ports.Replier
	Bridge     ports.BridgeMonitor
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// Panel is the operator-facing surface. Every call is safe to make concurrently
// with scanning.
type Panel struct {
	deps PanelDeps
}

// NewPanel builds a panel; nil components make their actions return ErrUnavailable.
func NewPanel(deps PanelDeps) *Panel {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Panel{deps: deps}
}

// TriggerScan runs a pass now, even while scanning is toggled off.
func (p *Panel) TriggerScan(ctx context.Context) (PassSummary, error) {
	if p.deps.Scanner == nil {
		return PassSummary{}, ErrUnavailable
	}
	p.audit(ctx, "trigger_scan", nil)
	return p.deps.Scanner.RunPass(ctx, true)
}

// ToggleScan flips scheduled scanning and returns the new state.
func (p *Panel) ToggleScan(ctx context.Context) (bool, error) {
	if p.deps.Scanner == nil {
		return false, ErrUnavailable
	}
	active := p.deps.Scanner.Toggle()
	p.audit(ctx, "toggle_scan", map[string]any{"active": active})
	return active, nil
}

// StartHistorical launches the retrospective scrape in the background.
func (p *Panel) StartHistorical(ctx context.Context) error {
	if p.deps.Historical == nil {
		return ErrUnavailable
	}
	if err := p.deps.Historical.Start(ctx); err != nil {
		return err
	}
	p.audit(ctx, "start_historical", nil)
	return nil
}

// HistoricalProgress reports the retrospective scrape.
func (p *Panel) HistoricalProgress() Progress {
	if p.deps.Historical == nil {
		return Progress{}
	}
	return p.deps.Historical.Progress()
}

// LeadStats counts the leads recorded on day.
func (p *Panel) LeadStats(ctx context.Context, day time.Time) (domain.LeadStats, error) {
	return p.deps.Store.LeadStats(ctx, day)
}

// Totals summarises the whole ledger.
func (p *Panel) Totals(ctx context.Context) (domain.LeadTotals, error) {
	return p.deps.Store.Totals(ctx, p.deps.Clock.Now())
}

// TodayLeads lists the items recorded since local midnight.
func (p *Panel) TodayLeads(ctx context.Context, limit uint64) ([]domain.ObservedItem, error) {
	now := p.deps.Clock.Now()
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return p.deps.Store.ListLeads(ctx, domain.LeadFilter{Since: midnight, Limit: limit})
}

// ExportLeads returns every ledger row in tabular form.
func (p *Panel) ExportLeads(ctx context.Context, filter domain.LeadFilter) (domain.LeadTable, error) {
	items, err := p.deps.Store.ListLeads(ctx, filter)
	if err != nil {
		return domain.LeadTable{}, err
	}
	return domain.NewLeadTable(items), nil
}

// CloseConversation marks a thread closed, typically after a sale.
func (p *Panel) CloseConversation(ctx context.Context, platform domain.Platform, threadRef string) error {
	if err := p.deps.Store.CloseConversation(ctx, platform, threadRef); err != nil {
		return err
	}
	p.audit(ctx, "close_conversation", map[string]any{"platform": string(platform), "thread": threadRef})
	return nil
}

// AuditTrail lists recent audit entries, newest first.
func (p *Panel) AuditTrail(ctx context.Context, limit uint64) ([]domain.AuditEntry, error) {
	return p.deps.Store.AuditEntries(ctx, limit)
}

// Status gathers the home screen overview. Bridge failures are reported, not returned.
func (p *Panel) Status(ctx context.Context) (Status, error) {
	totals, err := p.Totals(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Totals:     totals,
		Historical: p.HistoricalProgress(),
	}
	if p.deps.Scanner != nil {
		st.ScanActive = p.deps.Scanner.Active()
	}
	if p.deps.Replier != nil {
		st.GenerationOnline = p.deps.Replier.Online()
	}
	if p.deps.Bridge != nil {
		bs, err := p.deps.Bridge.Status(ctx)
		if err != nil {
			st.BridgeErr = err
		} else {
			st.Bridge = &bs
		}
	}
	return st, nil
}

func (p *Panel) audit(ctx context.Context, action string, payload map[string]any) {
	err := p.deps.Store.AppendAudit(ctx, domain.AuditEntry{
		Source:    "panel",
		Action:    action,
		Payload:   payload,
		Level:     domain.AuditInfo,
		CreatedAt: p.deps.Clock.Now(),
	})
	if err != nil {
		p.deps.Logger.Warn("audit entry not written", "action", action, "error", err)
	}
}

// RenderError formats an error for the operator: at most 100 characters of
// message followed by a way back to the menu.
func RenderError(err error) string {
	if err == nil {
		return backLabel
	}
	msg := err.Error()
	if utf8.RuneCountInString(msg) > errorMessageLimit {
		runes := []rune(msg)
		msg = string(runes[:errorMessageLimit])
	}
	return fmt.Sprintf("❌ Error: %s\n\n%s", msg, backLabel)
}
