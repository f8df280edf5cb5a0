package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rivulet/internal/constants"
	"rivulet/internal/logger"
	"rivulet/pkg/metrics"
)

// Entry is one row of flush_manifest: a single flush attempt of one channel.
type Entry struct {
	ID          string
	Channel     string
	Destination string
	Kind        string
	Reason      string
	RecordCount int
	SchemaName  string
	Status      string
	Error       string
	Duration    time.Duration
	CreatedAt   time.Time
}

type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// NopRecorder is used when PostgreSQL is not configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Entry) error { return nil }

type PostgresRecorder struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgresRecorder(db *sql.DB, log logger.Logger) *PostgresRecorder {
	return &PostgresRecorder{db: db, logger: log}
}

// NewRecorder returns a NopRecorder for a nil db.
func NewRecorder(db *sql.DB, log logger.Logger) Recorder {
	if db == nil {
		return NopRecorder{}
	}
	return NewPostgresRecorder(db, log)
}

func (r *PostgresRecorder) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO flush_manifest (id, channel, destination, kind, reason, record_count, schema_name, status, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.Channel, e.Destination, e.Kind, e.Reason,
		e.RecordCount, e.SchemaName, e.Status, e.Error,
		e.Duration.Milliseconds(), e.CreatedAt,
	)
	metrics.ObserveDatabaseQueryDuration(constants.ServiceNameSink, "postgres", "insert_manifest", time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery(constants.ServiceNameSink, "postgres", "insert_manifest", "error")
		return fmt.Errorf("failed to record flush: %w", err)
	}
	metrics.IncDatabaseQuery(constants.ServiceNameSink, "postgres", "insert_manifest", "success")
	r.logger.DebugwCtx(ctx, "Flush recorded",
		"channel", e.Channel,
		"status", e.Status,
		"records", e.RecordCount,
	)
	return nil
}

// Recent returns the newest entries of a channel, newest first.
func (r *PostgresRecorder) Recent(ctx context.Context, channel string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, channel, destination, kind, reason, record_count, schema_name, status, error, duration_ms, created_at
		FROM flush_manifest
		WHERE channel = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, channel, limit)
	metrics.ObserveDatabaseQueryDuration(constants.ServiceNameSink, "postgres", "select_manifest", time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery(constants.ServiceNameSink, "postgres", "select_manifest", "error")
		return nil, fmt.Errorf("failed to list flushes: %w", err)
	}
	defer rows.Close()
	metrics.IncDatabaseQuery(constants.ServiceNameSink, "postgres", "select_manifest", "success")

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			durationMs int64
		)
		if err := rows.Scan(
			&e.ID, &e.Channel, &e.Destination, &e.Kind, &e.Reason,
			&e.RecordCount, &e.SchemaName, &e.Status, &e.Error,
			&durationMs, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan flush: %w", err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flushes: %w", err)
	}

	return entries, nil
}
