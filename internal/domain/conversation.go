package domain

import "time"

// ConversationStatus tracks whether a thread is still being worked.
type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationClosed ConversationStatus = "closed"
)

// Conversation is lightweight per-thread state shared by all platforms.
type Conversation struct {
	Platform    Platform
	LeadID      string
	ThreadRef   string
	LastMessage string
	Status      ConversationStatus
	UpdatedAt   time.Time
}

// AuditLevel mirrors log severities for audit entries.
type AuditLevel string

const (
	AuditInfo  AuditLevel = "info"
	AuditWarn  AuditLevel = "warn"
	AuditError AuditLevel = "error"
)

// AuditEntry is an append-only record of a state-changing operation.
type AuditEntry struct {
	Source    string
	Action    string
	Payload   map[string]any
	Level     AuditLevel
	CreatedAt time.Time
}

// BridgeStatus is what the messaging bridge reports about itself.
type BridgeStatus struct {
	Connected   bool
	Sessions    []string
	QueueLength int
}
