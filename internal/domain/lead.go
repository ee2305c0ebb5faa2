package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Quality classifies an observed item by sales potential.
type Quality string

const (
	// QualityCold marks items recorded without a reply attempt.
	QualityCold Quality = "cold"
	// QualityWarm marks leads whose reply could not be delivered.
	QualityWarm Quality = "warm"
	// QualityHot marks leads that received a reply.
	QualityHot Quality = "hot"
)

// Valid reports whether q is one of the known qualities.
func (q Quality) Valid() bool {
	switch q {
	case QualityCold, QualityWarm, QualityHot:
		return true
	}
	return false
}

// DefaultEngagementScore is stored for replied items. Reserved for ranking.
const DefaultEngagementScore = 0.5

// Platform names the network an item was observed on.
type Platform string

const (
	PlatformFacebook Platform = "facebook"
	PlatformWhatsApp Platform = "whatsapp"
)

// RawItem is a post or message as delivered by a source, before deduplication.
type RawItem struct {
	SourceRef string
	Text      string
	NativeID  string
	// Handle locates the item inside the delivering session (selector, jid).
	Handle  string
	Session string
}

// Fingerprint returns the deduplication key: the native id when present,
// otherwise a truncated sha256 of "sourceRef:text".
func (r RawItem) Fingerprint() string {
	if r.NativeID != "" {
		return r.NativeID
	}
	sum := sha256.Sum256([]byte(r.SourceRef + ":" + r.Text))
	return hex.EncodeToString(sum[:])[:32]
}

// Observation is the write model handed to the ledger.
type Observation struct {
	Fingerprint string
	SourceRef   string
	Text        string
	Quality     Quality
}

// Replied is derived from quality: only a delivered reply counts.
func (o Observation) Replied() bool {
	return o.Quality == QualityHot
}

// EngagementScore is the placeholder score stored with the record.
func (o Observation) EngagementScore() float64 {
	if o.Replied() {
		return DefaultEngagementScore
	}
	return 0
}

// ObservedItem is the persisted deduplication unit.
type ObservedItem struct {
	Fingerprint     string
	SourceRef       string
	Text            string
	Quality         Quality
	Replied         bool
	EngagementScore float64
	CreatedAt       time.Time
}

// Outcome describes what the pipeline did with an item.
type Outcome string

const (
	OutcomeSkipped  Outcome = "skipped"
	OutcomeNotLead  Outcome = "not_lead"
	OutcomeReplied  Outcome = "replied"
	OutcomeFailed   Outcome = "dispatch_failed"
	OutcomeArchived Outcome = "archived"
)

// LeadStats summarises the ledger for one calendar day.
type LeadStats struct {
	Day          time.Time
	Count        int
	RepliedCount int
}

// Pending is the number of leads that did not receive a reply.
func (s LeadStats) Pending() int {
	return s.Count - s.RepliedCount
}

// LeadTotals summarises the whole ledger.
type LeadTotals struct {
	Total   int
	Replied int
	Today   int
}

// LeadFilter narrows ledger listings. Zero values mean no restriction.
type LeadFilter struct {
	Since time.Time
	Until time.Time
	Limit uint64
}
