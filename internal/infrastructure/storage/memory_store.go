package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

type conversationKey struct {
	platform  domain.Platform
	threadRef string
}

// MemoryStore keeps everything in process memory. Used by the "memory" driver and tests.
type MemoryStore struct {
	mu            sync.Mutex
	items         map[string]domain.ObservedItem
	audit         []domain.AuditEntry
	conversations map[conversationKey]domain.Conversation
	now           func() time.Time
}

var _ ports.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:         make(map[string]domain.ObservedItem),
		conversations: make(map[conversationKey]domain.Conversation),
		now:           time.Now,
	}
}

// SetClock overrides the timestamp source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Exists(_ context.Context, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[fingerprint]
	return ok, nil
}

func (m *MemoryStore) Get(_ context.Context, fingerprint string) (domain.ObservedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[fingerprint]
	if !ok {
		return domain.ObservedItem{}, domain.ErrNotFound
	}
	return item, nil
}

func (m *MemoryStore) RecordObservation(_ context.Context, obs domain.Observation) (bool, error) {
	if !obs.Quality.Valid() {
		return false, &domain.StorageError{Op: "record", Err: fmt.Errorf("invalid quality %q", obs.Quality)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	_, exists := m.items[obs.Fingerprint]
	m.audit = append(m.audit, observationAudit(obs, !exists, now))
	if exists {
		return false, nil
	}
	m.items[obs.Fingerprint] = domain.ObservedItem{
		Fingerprint:     obs.Fingerprint,
		SourceRef:       obs.SourceRef,
		Text:            obs.Text,
		Quality:         obs.Quality,
		Replied:         obs.Replied(),
		EngagementScore: obs.EngagementScore(),
		CreatedAt:       now,
	}
	return true, nil
}

func (m *MemoryStore) LeadStats(_ context.Context, day time.Time) (domain.LeadStats, error) {
	start, end := dayBounds(day)
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := domain.LeadStats{Day: start}
	for _, item := range m.items {
		if item.CreatedAt.Before(start) || !item.CreatedAt.Before(end) {
			continue
		}
		stats.Count++
		if item.Replied {
			stats.RepliedCount++
		}
	}
	return stats, nil
}

func (m *MemoryStore) Totals(ctx context.Context, now time.Time) (domain.LeadTotals, error) {
	today, _ := m.LeadStats(ctx, now)

	m.mu.Lock()
	defer m.mu.Unlock()
	totals := domain.LeadTotals{Total: len(m.items), Today: today.Count}
	for _, item := range m.items {
		if item.Replied {
			totals.Replied++
		}
	}
	return totals, nil
}

func (m *MemoryStore) ListLeads(_ context.Context, filter domain.LeadFilter) ([]domain.ObservedItem, error) {
	m.mu.Lock()
	items := slices.Collect(maps.Values(m.items))
	m.mu.Unlock()

	slices.SortFunc(items, func(a, b domain.ObservedItem) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.Fingerprint < b.Fingerprint {
			return -1
		}
		if a.Fingerprint > b.Fingerprint {
			return 1
		}
		return 0
	})

	out := items[:0]
	for _, item := range items {
		if !filter.Since.IsZero() && item.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && !item.CreatedAt.Before(filter.Until) {
			continue
		}
		out = append(out, item)
		if filter.Limit > 0 && uint64(len(out)) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, entry domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now()
	}
	if entry.Level == "" {
		entry.Level = domain.AuditInfo
	}
	m.audit = append(m.audit, entry)
	return nil
}

// AuditEntries returns the newest entries first.
func (m *MemoryStore) AuditEntries(_ context.Context, limit uint64) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.audit)
	slices.Reverse(out)
	if limit > 0 && uint64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Conversation(_ context.Context, platform domain.Platform, threadRef string) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationKey{platform, threadRef}]
	if !ok {
		return domain.Conversation{}, domain.ErrNotFound
	}
	return conv, nil
}

func (m *MemoryStore) SaveConversation(_ context.Context, conv domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv.Status == "" {
		conv.Status = domain.ConversationActive
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = m.now()
	}
	m.conversations[conversationKey{conv.Platform, conv.ThreadRef}] = conv
	return nil
}

func (m *MemoryStore) CloseConversation(_ context.Context, platform domain.Platform, threadRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := conversationKey{platform, threadRef}
	conv, ok := m.conversations[key]
	if !ok {
		return domain.ErrNotFound
	}
	conv.Status = domain.ConversationClosed
	conv.UpdatedAt = m.now()
	m.conversations[key] = conv
	return nil
}
