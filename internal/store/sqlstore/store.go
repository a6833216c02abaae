// Package sqlstore is the durable store for withdrawal intents, their history
// and the attempt log, on Postgres or SQLite through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/djlord-it/bgp-withdraw/internal/domain"
	"github.com/djlord-it/bgp-withdraw/internal/retry"
)

// Store implements processor.Store, reaper.Store and api.Store.
type Store struct {
	db        *sql.DB
	dialect   Dialect
	opTimeout time.Duration
}

// New creates a store over db. opTimeout bounds every call; 0 disables it.
func New(db *sql.DB, dialect Dialect, opTimeout time.Duration) *Store {
	return &Store{
		db:        db,
		dialect:   dialect,
		opTimeout: opTimeout,
	}
}

// q returns query in the store's placeholder syntax.
func (s *Store) q(query string) string {
	return s.dialect.rebind(query)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// PingContext lets the store act as the API health checker.
func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Enqueue inserts a pending intent. It returns created=false, with no error,
// when an intent for the same (resource, correlation id) already exists.
func (s *Store) Enqueue(ctx context.Context, in domain.NewIntent, now time.Time) (int64, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	maxRetries := in.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	var id int64
	err := s.db.QueryRowContext(ctx, s.q(queryInsertIntent),
		in.ResourceKey,
		nullString(in.CorrelationID),
		nullString(in.Context.PolicyID),
		nullString(in.Context.PolicyName),
		nullString(in.Context.TargetIP),
		nullString(in.Context.Classification),
		nullTime(in.AnnouncedAt),
		in.EligibleAt.UTC(),
		nullTime(in.EndedAt),
		now.UTC(),
		maxRetries,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert intent: %w", err)
	}
	return id, true, nil
}

// DueIntents returns pending intents whose eligible time has passed and
// failed intents with budget left whose retry time has passed, oldest
// eligible first.
func (s *Store) DueIntents(ctx context.Context, now time.Time) ([]domain.Intent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	now = now.UTC()
	return s.queryIntents(ctx, queryDueIntents, now, now)
}

// ListPending returns every pending intent regardless of eligibility.
func (s *Store) ListPending(ctx context.Context) ([]domain.Intent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.queryIntents(ctx, queryListPending)
}

// ListFailed returns every intent awaiting retry, newest first.
func (s *Store) ListFailed(ctx context.Context) ([]domain.Intent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.queryIntents(ctx, queryListFailed)
}

// StaleIntents returns every live intent created before olderThan.
func (s *Store) StaleIntents(ctx context.Context, olderThan time.Time) ([]domain.Intent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.queryIntents(ctx, queryStaleIntents, olderThan.UTC())
}

// GetIntent returns a live intent or domain.ErrIntentNotFound.
func (s *Store) GetIntent(ctx context.Context, id int64) (domain.Intent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	intent, err := scanIntent(s.db.QueryRowContext(ctx, s.q(queryGetIntent), id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Intent{}, domain.ErrIntentNotFound
	}
	return intent, err
}

// Resolve applies an outcome to the intent the caller acted on.
//
// Success moves the intent to history. Failure runs the retry policy: the
// intent either stays live as failed with a later retry time or, once the
// budget is spent, moves to history as abandoned. Every write is conditional
// on the live row still having the status and retry count in intent; if it
// does not, nothing is written and domain.ErrAlreadyResolved is returned.
func (s *Store) Resolve(ctx context.Context, intent domain.Intent, outcome domain.Outcome, now time.Time) (domain.Resolution, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	now = now.UTC()

	method := outcome.Method
	if method == "" {
		method = domain.MethodScheduled
	}

	if outcome.Success {
		rec, err := s.retire(ctx, intent, method, domain.HistoryStatusSuccess, "", now)
		if err != nil {
			return domain.Resolution{}, err
		}
		return domain.Resolution{Kind: domain.ResolutionSucceeded, History: &rec}, nil
	}

	decision := retry.Next(intent.RetryCount, intent.MaxRetries, now)
	if decision.GiveUp {
		notes := fmt.Sprintf("failed after %d attempts; last error: %s", decision.RetryCount, outcome.Error)
		rec, err := s.retire(ctx, intent, method, domain.HistoryStatusAbandoned, notes, now)
		if err != nil {
			return domain.Resolution{}, err
		}
		return domain.Resolution{Kind: domain.ResolutionAbandoned, History: &rec}, nil
	}

	res, err := s.db.ExecContext(ctx, s.q(queryScheduleRetry),
		decision.RetryCount,
		decision.NextRetryAt,
		nullString(outcome.Error),
		intent.ID,
		string(intent.Status),
		intent.RetryCount,
	)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("schedule retry: %w", err)
	}
	if err := s.checkAffected(ctx, res, intent.ID); err != nil {
		return domain.Resolution{}, err
	}

	updated := intent
	updated.Status = domain.IntentStatusFailed
	updated.RetryCount = decision.RetryCount
	next := decision.NextRetryAt
	updated.NextRetryAt = &next
	updated.LastError = outcome.Error

	return domain.Resolution{
		Kind:        domain.ResolutionRetryScheduled,
		Intent:      updated,
		NextRetryAt: &next,
	}, nil
}

// Retire moves an intent to history with the given status. The reaper uses
// it for stale entries; Resolve uses it for success and abandonment.
func (s *Store) Retire(ctx context.Context, intent domain.Intent, method domain.Method, status domain.HistoryStatus, notes string, now time.Time) (domain.HistoryRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.retire(ctx, intent, method, status, notes, now.UTC())
}

// retire deletes the live row (guarded) and inserts its history row in one
// transaction. The guarded delete is the serialization point: exactly one
// concurrent retire or retry update can match.
func (s *Store) retire(ctx context.Context, intent domain.Intent, method domain.Method, status domain.HistoryStatus, notes string, now time.Time) (domain.HistoryRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(queryDeleteIntentGuarded), intent.ID, string(intent.Status), intent.RetryCount)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("delete intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	if n == 0 {
		return domain.HistoryRecord{}, s.missingCause(ctx, tx, intent.ID)
	}

	rec := domain.NewHistoryRecord(intent, now, method, status, notes)
	err = tx.QueryRowContext(ctx, s.q(queryInsertHistory),
		rec.ResourceKey,
		nullString(rec.CorrelationID),
		nullString(rec.Context.PolicyID),
		nullString(rec.Context.PolicyName),
		nullString(rec.Context.TargetIP),
		nullString(rec.Context.Classification),
		nullTime(rec.AnnouncedAt),
		nullTime(rec.EndedAt),
		rec.CompletedAt,
		nullSeconds(rec.AttackDuration),
		nullSeconds(rec.ProtectionDuration),
		string(rec.Method),
		string(rec.Status),
		nullString(rec.Notes),
	).Scan(&rec.ID)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("insert history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// ResetFailed puts a failed intent back to pending, eligible at now. The retry
// count is kept so the budget still applies.
func (s *Store) ResetFailed(ctx context.Context, id int64, now time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.q(queryResetFailed), now.UTC(), id)
	if err != nil {
		return fmt.Errorf("reset intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrIntentNotFound
	}
	return nil
}

// ResolveManual records that an operator withdrew the resource by hand. The
// intent moves to history as success with method manual.
func (s *Store) ResolveManual(ctx context.Context, id int64, note string, now time.Time) (domain.HistoryRecord, error) {
	intent, err := s.GetIntent(ctx, id)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	if note == "" {
		note = "resolved manually"
	}
	return s.Retire(ctx, intent, domain.MethodManual, domain.HistoryStatusSuccess, note, now)
}

// History returns the most recent history records, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]domain.HistoryRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.q(queryListHistory), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// InsertAttempt appends to the attempt log.
func (s *Store) InsertAttempt(ctx context.Context, a domain.WithdrawalAttempt) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.q(queryInsertAttempt),
		a.ID,
		a.RunID,
		a.IntentID,
		a.ResourceKey,
		string(a.Action),
		string(a.Outcome),
		nullString(a.Error),
		a.StartedAt.UTC(),
		a.FinishedAt.UTC(),
	)
	return err
}

// Stats counts live intents, history records and today's (UTC) attempts.
func (s *Store) Stats(ctx context.Context, now time.Time) (domain.Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var st domain.Stats

	intents, err := s.countByStatus(ctx, queryCountIntentsByStatus)
	if err != nil {
		return st, fmt.Errorf("count intents: %w", err)
	}
	st.Pending = intents[string(domain.IntentStatusPending)]
	st.Failed = intents[string(domain.IntentStatusFailed)]

	history, err := s.countByStatus(ctx, queryCountHistoryByStatus)
	if err != nil {
		return st, fmt.Errorf("count history: %w", err)
	}
	for _, n := range history {
		st.History += n
	}
	st.Succeeded = history[string(domain.HistoryStatusSuccess)]
	st.Abandoned = history[string(domain.HistoryStatusAbandoned)]
	st.Stale = history[string(domain.HistoryStatusStale)]

	dayStart := now.UTC().Truncate(24 * time.Hour)
	err = s.db.QueryRowContext(ctx, s.q(queryCountAttemptsBetween), dayStart, dayStart.Add(24*time.Hour)).Scan(&st.EventsToday)
	if err != nil {
		return st, fmt.Errorf("count attempts: %w", err)
	}
	return st, nil
}

func (s *Store) countByStatus(ctx context.Context, query string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *Store) queryIntents(ctx context.Context, query string, args ...any) ([]domain.Intent, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Intent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// checkAffected maps a zero-row guarded update to the right sentinel.
func (s *Store) checkAffected(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return s.missingCause(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// missingCause distinguishes "gone" from "changed under us" after a guarded
// write matched nothing. Both mean the caller lost; only the message differs.
func (s *Store) missingCause(ctx context.Context, q queryRower, id int64) error {
	var status string
	err := q.QueryRowContext(ctx, s.q(`SELECT status FROM withdrawal_intents WHERE id = $1`), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("intent %d: %w", id, domain.ErrAlreadyResolved)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("intent %d changed to %s: %w", id, status, domain.ErrAlreadyResolved)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (domain.Intent, error) {
	var intent domain.Intent
	var correlationID, policyID, policyName, targetIP, class, lastError sql.NullString
	var announcedAt, endedAt, nextRetryAt sql.NullTime
	var status string
	err := row.Scan(
		&intent.ID,
		&intent.ResourceKey,
		&correlationID,
		&policyID,
		&policyName,
		&targetIP,
		&class,
		&announcedAt,
		&intent.EligibleAt,
		&endedAt,
		&intent.CreatedAt,
		&status,
		&intent.RetryCount,
		&intent.MaxRetries,
		&nextRetryAt,
		&lastError,
	)
	if err != nil {
		return domain.Intent{}, err
	}
	intent.CorrelationID = correlationID.String
	intent.Context = domain.IntentContext{
		PolicyID:       policyID.String,
		PolicyName:     policyName.String,
		TargetIP:       targetIP.String,
		Classification: class.String,
	}
	intent.AnnouncedAt = timePtr(announcedAt)
	intent.EndedAt = timePtr(endedAt)
	intent.NextRetryAt = timePtr(nextRetryAt)
	intent.EligibleAt = intent.EligibleAt.UTC()
	intent.CreatedAt = intent.CreatedAt.UTC()
	intent.Status = domain.IntentStatus(status)
	intent.LastError = lastError.String
	return intent, nil
}

func scanHistory(row rowScanner) (domain.HistoryRecord, error) {
	var rec domain.HistoryRecord
	var correlationID, policyID, policyName, targetIP, class, notes sql.NullString
	var announcedAt, endedAt sql.NullTime
	var attackSecs, protectionSecs sql.NullInt64
	var method, status string
	err := row.Scan(
		&rec.ID,
		&rec.ResourceKey,
		&correlationID,
		&policyID,
		&policyName,
		&targetIP,
		&class,
		&announcedAt,
		&endedAt,
		&rec.CompletedAt,
		&attackSecs,
		&protectionSecs,
		&method,
		&status,
		&notes,
	)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	rec.CorrelationID = correlationID.String
	rec.Context = domain.IntentContext{
		PolicyID:       policyID.String,
		PolicyName:     policyName.String,
		TargetIP:       targetIP.String,
		Classification: class.String,
	}
	rec.AnnouncedAt = timePtr(announcedAt)
	rec.EndedAt = timePtr(endedAt)
	rec.CompletedAt = rec.CompletedAt.UTC()
	rec.AttackDuration = secondsPtr(attackSecs)
	rec.ProtectionDuration = secondsPtr(protectionSecs)
	rec.Method = domain.Method(method)
	rec.Status = domain.HistoryStatus(status)
	rec.Notes = notes.String
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullSeconds(d *time.Duration) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(d.Seconds()), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func secondsPtr(n sql.NullInt64) *time.Duration {
	if !n.Valid {
		return nil
	}
	d := time.Duration(n.Int64) * time.Second
	return &d
}
