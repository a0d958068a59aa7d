// Package worker drains the audit outbox into Kafka.
//
// Rows are claimed with FOR UPDATE SKIP LOCKED so multiple replicas can run
// the worker without double-publishing, and a row is only marked published
// after the broker acknowledges it. Publishing is at-least-once; consumers
// de-duplicate on the entry ID.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Sink is the publishing surface, satisfied by publisher.Publisher.
type Sink interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// Worker polls the audit_outbox table and publishes pending rows.
type Worker struct {
	db       *sql.DB
	sink     Sink
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

func New(db *sql.DB, sink Sink, logger *slog.Logger) *Worker {
	return &Worker{
		db:       db,
		sink:     sink,
		logger:   logger,
		interval: 2 * time.Second,
		batch:    100,
	}
}

// Run blocks until ctx is cancelled, draining the outbox on each tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drainOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "audit outbox drain failed", "error", err)
			}
		}
	}
}

func (w *Worker) drainOnce(ctx context.Context) error {
	for {
		published, err := w.publishBatch(ctx)
		if err != nil {
			return err
		}
		if published < w.batch {
			return nil
		}
	}
}

type outboxRow struct {
	id      string
	entryID string
	payload []byte
}

func (w *Worker) publishBatch(ctx context.Context) (int, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, entry_id, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, w.batch)
	if err != nil {
		return 0, fmt.Errorf("claim outbox rows: %w", err)
	}

	var pending []outboxRow
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.id, &row.entryID, &row.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		pending = append(pending, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read outbox rows: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	for _, row := range pending {
		if err := w.sink.Publish(ctx, row.entryID, row.payload); err != nil {
			// Leave the row unclaimed; the next tick retries from here.
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE audit_outbox SET published_at = $2 WHERE id = $1`,
			row.id, time.Now(),
		); err != nil {
			return 0, fmt.Errorf("mark outbox row published: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox batch: %w", err)
	}
	w.logger.DebugContext(ctx, "audit outbox batch published", "count", len(pending))
	return len(pending), nil
}
