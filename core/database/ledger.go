package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/goodcleanfun/plqbot/core/logger"
	"github.com/goodcleanfun/plqbot/core/sender"
)

// FailureLedger stores undelivered messages in delivery_failures.
type FailureLedger struct {
	db *sqlx.DB
}

// NewFailureLedger wraps an open connection.
func NewFailureLedger(db *sqlx.DB) *FailureLedger {
	return &FailureLedger{db: db}
}

type failureRow struct {
	ID          int64     `db:"id"`
	RID         string    `db:"rid"`
	UserID      string    `db:"user_id"`
	EventID     string    `db:"event_id"`
	MessageKind string    `db:"message_kind"`
	Summary     string    `db:"summary"`
	Attempts    int       `db:"attempts"`
	ErrorKind   string    `db:"error_kind"`
	Error       string    `db:"error"`
	FailedAt    time.Time `db:"failed_at"`
}

const insertFailure = `INSERT INTO delivery_failures
	(rid, user_id, event_id, message_kind, summary, attempts, error_kind, error, failed_at)
	VALUES (:rid, :user_id, :event_id, :message_kind, :summary, :attempts, :error_kind, :error, :failed_at)`

// RecordFailure implements sender.FailureRecorder.
func (l *FailureLedger) RecordFailure(ctx context.Context, f sender.Failure) error {
	row := failureRow{
		RID:         f.RID,
		UserID:      f.UserID,
		EventID:     f.EventID,
		MessageKind: f.MessageKind,
		Summary:     f.Summary,
		Attempts:    f.Attempts,
		ErrorKind:   f.ErrorKind,
		Error:       f.Error,
		FailedAt:    f.FailedAt,
	}
	if row.FailedAt.IsZero() {
		row.FailedAt = time.Now().UTC()
	}
	if _, err := l.db.NamedExecContext(ctx, insertFailure, row); err != nil {
		logger.DB.Error("ledger insert failed",
			slog.String("event", "db.ledger.insert"),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("record delivery failure: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent failures for userID.
func (l *FailureLedger) Recent(ctx context.Context, userID string, limit int) ([]sender.Failure, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []failureRow
	err := l.db.SelectContext(ctx, &rows,
		`SELECT id, rid, user_id, event_id, message_kind, summary, attempts, error_kind, error, failed_at
		 FROM delivery_failures WHERE user_id = $1 ORDER BY failed_at DESC, id DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list delivery failures: %w", err)
	}
	out := make([]sender.Failure, 0, len(rows))
	for _, r := range rows {
		out = append(out, sender.Failure{
			RID:         r.RID,
			UserID:      r.UserID,
			EventID:     r.EventID,
			MessageKind: r.MessageKind,
			Summary:     r.Summary,
			Attempts:    r.Attempts,
			ErrorKind:   r.ErrorKind,
			Error:       r.Error,
			FailedAt:    r.FailedAt,
		})
	}
	return out, nil
}
