package ports

import (
	"context"
	"iter"
	"time"

	"LeadScanner/internal/domain"
)

// PostSource lazily yields posts for one group; each call is a fresh pass.
type PostSource interface {
	Posts(ctx context.Context, group string) iter.Seq2[domain.RawItem, error]
}

// GroupSession is one logged-in account able to read groups and reply to posts.
type GroupSession interface {
	PostSource
	Dispatcher
	Close() error
}

// SessionOpener starts an automation session for an account.
type SessionOpener interface {
	Open(ctx context.Context, account string) (GroupSession, error)
}

// HistorySource scrolls a group deeply and yields everything it finds.
type HistorySource interface {
	History(ctx context.Context, group string) iter.Seq2[domain.RawItem, error]
	Close() error
}

// HistoryOpener starts a deep-scroll session for retrospective scraping.
type HistoryOpener interface {
	OpenHistory(ctx context.Context, account string) (HistorySource, error)
}

// BridgeMonitor reports the messaging bridge's health.
type BridgeMonitor interface {
	Status(ctx context.Context) (domain.BridgeStatus, error)
}

// ProcessSupervisor keeps a helper process alive.
type ProcessSupervisor interface {
	EnsureRunning(ctx context.Context) error
}

// MessageSource pulls pending inbound direct messages.
type MessageSource interface {
	Messages(ctx context.Context, limit int) ([]domain.RawItem, error)
}

// Dispatcher submits a reply to the item's originating platform.
type Dispatcher interface {
	SubmitReply(ctx context.Context, item domain.RawItem, text string) error
}

// LeadLedger owns observed items and is the single deduplication gate.
type LeadLedger interface {
	Exists(ctx context.Context, fingerprint string) (bool, error)
	Get(ctx context.Context, fingerprint string) (domain.ObservedItem, error)
	RecordObservation(ctx context.Context, obs domain.Observation) (bool, error)
	LeadStats(ctx context.Context, day time.Time) (domain.LeadStats, error)
	Totals(ctx context.Context, now time.Time) (domain.LeadTotals, error)
	ListLeads(ctx context.Context, filter domain.LeadFilter) ([]domain.ObservedItem, error)
}

// AuditLog appends audit entries. Entries are never mutated.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry domain.AuditEntry) error
	// AuditEntries lists the newest entries first; limit 0 means all.
	AuditEntries(ctx context.Context, limit uint64) ([]domain.AuditEntry, error)
}

// ConversationStore keeps per-thread state.
type ConversationStore interface {
	Conversation(ctx context.Context, platform domain.Platform, threadRef string) (domain.Conversation, error)
	SaveConversation(ctx context.Context, conv domain.Conversation) error
	CloseConversation(ctx context.Context, platform domain.Platform, threadRef string) error
}

// Store is everything the relational backend provides.
type Store interface {
	LeadLedger
	AuditLog
	ConversationStore
	Close() error
}

// CompletionBackend is the external language-generation service.
type CompletionBackend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Replier produces reply text; implementations never fail.
type Replier interface {
	ReplyForPost(ctx context.Context, text string) string
	ReplyForMessage(ctx context.Context, text, history string) string
	Online() bool
}

// Notifier streams summaries to the operator.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
