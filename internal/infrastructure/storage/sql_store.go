package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

// timeLayout is fixed width so lexical order on the TEXT columns matches time order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const (
	itemsTable         = "observed_items"
	auditTable         = "audit_log"
	conversationsTable = "conversations"
)

var itemColumns = []string{"fingerprint", "source_ref", "text", "quality", "replied", "engagement_score", "created_at"}

// SQLStore persists the lead ledger, audit log and conversations in sqlite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	builder sq.StatementBuilderType
	now     func() time.Time
}

var _ ports.Store = (*SQLStore)(nil)

// Option tunes an SQLStore.
type Option func(*SQLStore)

// WithClock overrides the timestamp source used for new rows.
func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) {
		s.now = now
	}
}

// Open connects to the ledger database and applies pending migrations.
// driver is "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	var (
		d          dialect
		driverName string
	)
	switch driver {
	case "sqlite":
		d, driverName = dialectSQLite, "sqlite"
	case "postgres":
		d, driverName = dialectPostgres, "pgx"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Err: err}
	}

	if d == dialectSQLite {
		// One writer keeps sqlite from returning SQLITE_BUSY under concurrent inserts.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, &domain.StorageError{Op: "pragma", Err: err}
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Op: "ping", Err: err}
	}

	store := newSQLStore(db, d, opts...)
	if err := migrate(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Op: "migrate", Err: err}
	}
	return store, nil
}

func newSQLStore(db *sql.DB, d dialect, opts ...Option) *SQLStore {
	var placeholder sq.PlaceholderFormat = sq.Question
	if d == dialectPostgres {
		placeholder = sq.Dollar
	}
	s := &SQLStore{
		db:      db,
		dialect: d,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Exists reports whether fingerprint has ever been recorded.
func (s *SQLStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	query, args, err := s.builder.Select("1").From(itemsTable).Where(sq.Eq{"fingerprint": fingerprint}).Limit(1).ToSql()
	if err != nil {
		return false, &domain.StorageError{Op: "exists", Err: err}
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, &domain.StorageError{Op: "exists", Err: err}
	}
	return true, nil
}

// Get loads one observed item.
func (s *SQLStore) Get(ctx context.Context, fingerprint string) (domain.ObservedItem, error) {
	query, args, err := s.builder.Select(itemColumns...).From(itemsTable).Where(sq.Eq{"fingerprint": fingerprint}).ToSql()
	if err != nil {
		return domain.ObservedItem{}, &domain.StorageError{Op: "get", Err: err}
	}

	item, err := scanItem(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ObservedItem{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ObservedItem{}, &domain.StorageError{Op: "get", Err: err}
	}
	return item, nil
}

// RecordObservation inserts the item if its fingerprint is new and appends an
// audit entry in the same transaction. It reports whether a row was written;
// an existing fingerprint is left untouched.
func (s *SQLStore) RecordObservation(ctx context.Context, obs domain.Observation) (inserted bool, err error) {
	if !obs.Quality.Valid() {
		return false, &domain.StorageError{Op: "record", Err: fmt.Errorf("invalid quality %q", obs.Quality)}
	}

	now := s.now().UTC()
	query, args, err := s.builder.Insert(itemsTable).
		Columns(itemColumns...).
		Values(obs.Fingerprint, obs.SourceRef, obs.Text, string(obs.Quality), boolToInt(obs.Replied()), obs.EngagementScore(), now.Format(timeLayout)).
		Suffix("ON CONFLICT (fingerprint) DO NOTHING").
		ToSql()
	if err != nil {
		return false, &domain.StorageError{Op: "record", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, &domain.StorageError{Op: "record", Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, &domain.StorageError{Op: "record", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, &domain.StorageError{Op: "record", Err: err}
	}
	inserted = affected > 0

	if err = s.appendAudit(ctx, tx, observationAudit(obs, inserted, now)); err != nil {
		return false, &domain.StorageError{Op: "record", Err: err}
	}

	if err = tx.Commit(); err != nil {
		return false, &domain.StorageError{Op: "record", Err: err}
	}
	return inserted, nil
}

// LeadStats counts the items created on the calendar day containing day, in day's location.
func (s *SQLStore) LeadStats(ctx context.Context, day time.Time) (domain.LeadStats, error) {
	start, end := dayBounds(day)
	count, replied, err := s.count(ctx, sq.And{
		sq.GtOrEq{"created_at": start.UTC().Format(timeLayout)},
		sq.Lt{"created_at": end.UTC().Format(timeLayout)},
	})
	if err != nil {
		return domain.LeadStats{}, &domain.StorageError{Op: "stats", Err: err}
	}
	return domain.LeadStats{Day: start, Count: count, RepliedCount: replied}, nil
}

// Totals summarises the whole ledger plus the day containing now.
func (s *SQLStore) Totals(ctx context.Context, now time.Time) (domain.LeadTotals, error) {
	total, replied, err := s.count(ctx, nil)
	if err != nil {
		return domain.LeadTotals{}, &domain.StorageError{Op: "totals", Err: err}
	}
	today, err := s.LeadStats(ctx, now)
	if err != nil {
		return domain.LeadTotals{}, err
	}
	return domain.LeadTotals{Total: total, Replied: replied, Today: today.Count}, nil
}

// ListLeads returns items in creation order.
func (s *SQLStore) ListLeads(ctx context.Context, filter domain.LeadFilter) ([]domain.ObservedItem, error) {
	builder := s.builder.Select(itemColumns...).From(itemsTable).OrderBy("created_at", "fingerprint")
	if !filter.Since.IsZero() {
		builder = builder.Where(sq.GtOrEq{"created_at": filter.Since.UTC().Format(timeLayout)})
	}
	if !filter.Until.IsZero() {
		builder = builder.Where(sq.Lt{"created_at": filter.Until.UTC().Format(timeLayout)})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var items []domain.ObservedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, &domain.StorageError{Op: "list", Err: err}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}
	return items, nil
}

// AppendAudit writes one entry.
func (s *SQLStore) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if err := s.appendAudit(ctx, s.db, entry); err != nil {
		return &domain.StorageError{Op: "audit", Err: err}
	}
	return nil
}

// AuditEntries returns the newest entries first.
func (s *SQLStore) AuditEntries(ctx context.Context, limit uint64) ([]domain.AuditEntry, error) {
	builder := s.builder.Select("source", "action", "payload", "level", "created_at").From(auditTable).OrderBy("id DESC")
	if limit > 0 {
		builder = builder.Limit(limit)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, &domain.StorageError{Op: "audit list", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StorageError{Op: "audit list", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			entry            domain.AuditEntry
			payload, created string
			level            string
		)
		if err := rows.Scan(&entry.Source, &entry.Action, &payload, &level, &created); err != nil {
			return nil, &domain.StorageError{Op: "audit list", Err: err}
		}
		if err := json.Unmarshal([]byte(payload), &entry.Payload); err != nil {
			return nil, &domain.StorageError{Op: "audit list", Err: err}
		}
		entry.Level = domain.AuditLevel(level)
		if entry.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, &domain.StorageError{Op: "audit list", Err: err}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "audit list", Err: err}
	}
	return entries, nil
}

// Conversation loads thread state; ErrNotFound when the thread is unknown.
func (s *SQLStore) Conversation(ctx context.Context, platform domain.Platform, threadRef string) (domain.Conversation, error) {
	query, args, err := s.builder.
		Select("platform", "thread_ref", "lead_id", "last_message", "status", "updated_at").
		From(conversationsTable).
		Where(sq.Eq{"platform": string(platform), "thread_ref": threadRef}).
		ToSql()
	if err != nil {
		return domain.Conversation{}, &domain.StorageError{Op: "conversation", Err: err}
	}

	var (
		conv                     domain.Conversation
		plat, status, updatedRaw string
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&plat, &conv.ThreadRef, &conv.LeadID, &conv.LastMessage, &status, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Conversation{}, &domain.StorageError{Op: "conversation", Err: err}
	}
	conv.Platform = domain.Platform(plat)
	conv.Status = domain.ConversationStatus(status)
	if conv.UpdatedAt, err = time.Parse(timeLayout, updatedRaw); err != nil {
		return domain.Conversation{}, &domain.StorageError{Op: "conversation", Err: err}
	}
	return conv, nil
}

// SaveConversation upserts thread state keyed by platform and thread.
func (s *SQLStore) SaveConversation(ctx context.Context, conv domain.Conversation) error {
	if conv.Status == "" {
		conv.Status = domain.ConversationActive
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = s.now()
	}

	query, args, err := s.builder.Insert(conversationsTable).
		Columns("platform", "thread_ref", "lead_id", "last_message", "status", "updated_at").
		Values(string(conv.Platform), conv.ThreadRef, conv.LeadID, conv.LastMessage, string(conv.Status), conv.UpdatedAt.UTC().Format(timeLayout)).
		Suffix(`ON CONFLICT (platform, thread_ref) DO UPDATE SET
			lead_id = excluded.lead_id,
			last_message = excluded.last_message,
			status = excluded.status,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return &domain.StorageError{Op: "save conversation", Err: err}
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &domain.StorageError{Op: "save conversation", Err: err}
	}
	return nil
}

// CloseConversation marks a thread closed; ErrNotFound when the thread is unknown.
func (s *SQLStore) CloseConversation(ctx context.Context, platform domain.Platform, threadRef string) error {
	query, args, err := s.builder.Update(conversationsTable).
		Set("status", string(domain.ConversationClosed)).
		Set("updated_at", s.now().UTC().Format(timeLayout)).
		Where(sq.Eq{"platform": string(platform), "thread_ref": threadRef}).
		ToSql()
	if err != nil {
		return &domain.StorageError{Op: "close conversation", Err: err}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return &domain.StorageError{Op: "close conversation", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &domain.StorageError{Op: "close conversation", Err: err}
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) appendAudit(ctx context.Context, exec execer, entry domain.AuditEntry) error {
	if entry.Level == "" {
		entry.Level = domain.AuditInfo
	}
	if entry.Payload == nil {
		entry.Payload = map[string]any{}
	}
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	query, args, err := s.builder.Insert(auditTable).
		Columns("source", "action", "payload", "level", "created_at").
		Values(entry.Source, entry.Action, string(payload), string(entry.Level), entry.CreatedAt.UTC().Format(timeLayout)).
		ToSql()
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, query, args...)
	return err
}

// observationAudit describes one RecordObservation call. A duplicate is audited
// too so that lost races stay visible.
func observationAudit(obs domain.Observation, inserted bool, now time.Time) domain.AuditEntry {
	entry := domain.AuditEntry{
		Source: "ledger",
		Action: "record_observation",
		Payload: map[string]any{
			"fingerprint": obs.Fingerprint,
			"source":      obs.SourceRef,
			"quality":     string(obs.Quality),
			"replied":     obs.Replied(),
		},
		Level:     domain.AuditInfo,
		CreatedAt: now,
	}
	if !inserted {
		entry.Action = "duplicate_observation"
	}
	return entry
}

func (s *SQLStore) count(ctx context.Context, where sq.Sqlizer) (total, replied int, err error) {
	builder := s.builder.Select("COUNT(*)", "COALESCE(SUM(replied), 0)").From(itemsTable)
	if where != nil {
		builder = builder.Where(where)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, 0, err
	}

	var t, r int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&t, &r); err != nil {
		return 0, 0, err
	}
	return int(t), int(r), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.ObservedItem, error) {
	var (
		item             domain.ObservedItem
		quality, created string
		replied          int64
	)
	if err := row.Scan(&item.Fingerprint, &item.SourceRef, &item.Text, &quality, &replied, &item.EngagementScore, &created); err != nil {
		return domain.ObservedItem{}, err
	}
	item.Quality = domain.Quality(quality)
	item.Replied = replied != 0
	createdAt, err := time.Parse(timeLayout, created)
	if err != nil {
		return domain.ObservedItem{}, fmt.Errorf("parse created_at: %w", err)
	}
	item.CreatedAt = createdAt
	return item, nil
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
