package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vidfriends/scout/internal/db"
	"github.com/vidfriends/scout/internal/models"
)

// PostgresRequestLogRepository stores one row per consumed quota unit.
type PostgresRequestLogRepository struct {
	pool db.Pool
}

// NewPostgresRequestLogRepository constructs a request log backed by PostgreSQL.
func NewPostgresRequestLogRepository(pool db.Pool) *PostgresRequestLogRepository {
	return &PostgresRequestLogRepository{pool: pool}
}

// CountRequestsInWindow counts non-reset rows for userID in [start, end).
func (r *PostgresRequestLogRepository) CountRequestsInWindow(ctx context.Context, userID string, start, end time.Time) (int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var count int
	err = conn.QueryRow(ctx, `
        SELECT COUNT(*)
        FROM request_log
        WHERE user_id = $1 AND reset = FALSE AND requested_at >= $2 AND requested_at < $3
    `, userID, start.UTC(), end.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count request log entries: %w", err)
	}

	return count, nil
}

// InsertRequestLogEntries inserts count rows stamped at in one statement.
func (r *PostgresRequestLogRepository) InsertRequestLogEntries(ctx context.Context, userID string, at time.Time, count int) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("insert request log entries: user id must be provided")
	}
	if count <= 0 {
		return nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        INSERT INTO request_log (user_id, requested_at)
        SELECT $1::TEXT, $2::TIMESTAMPTZ FROM generate_series(1, $3::INT)
    `, userID, at.UTC(), count)
	if err != nil {
		return fmt.Errorf("insert request log entries: %w", err)
	}
	if tag.RowsAffected() != int64(count) {
		return fmt.Errorf("insert request log entries: inserted %d of %d rows", tag.RowsAffected(), count)
	}

	return nil
}

// MarkEntriesReset flags rows for userID stamped at or before the cutoff.
func (r *PostgresRequestLogRepository) MarkEntriesReset(ctx context.Context, userID string, before time.Time) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE request_log
        SET reset = TRUE
        WHERE user_id = $1 AND reset = FALSE AND requested_at <= $2
    `, userID, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("reset request log entries: %w", err)
	}

	return tag.RowsAffected(), nil
}

// PostgresHistoryRepository persists completed searches.
type PostgresHistoryRepository struct {
	pool db.Pool
}

// NewPostgresHistoryRepository constructs a history repository backed by PostgreSQL.
func NewPostgresHistoryRepository(pool db.Pool) *PostgresHistoryRepository {
	return &PostgresHistoryRepository{pool: pool}
}

// RecordSearch inserts entry with a single statement.
func (r *PostgresHistoryRepository) RecordSearch(ctx context.Context, entry models.HistoryEntry) (models.HistoryEntry, error) {
	if strings.TrimSpace(entry.UserID) == "" || strings.TrimSpace(entry.Target) == "" {
		return models.HistoryEntry{}, errors.New("record search: user id and target must be provided")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Records == nil {
		entry.Records = []models.ContentRecord{}
	}

	payload, err := json.Marshal(entry.Records)
	if err != nil {
		return models.HistoryEntry{}, fmt.Errorf("encode history records: %w", err)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.HistoryEntry{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO search_history (id, user_id, target, records, archive_url, created_at)
        VALUES ($1, $2, $3, $4::JSONB, $5, $6)
    `, entry.ID, entry.UserID, entry.Target, string(payload), entry.ArchiveURL, entry.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.HistoryEntry{}, ErrConflict
		}
		return models.HistoryEntry{}, fmt.Errorf("insert search history: %w", err)
	}

	return entry, nil
}

// RecentSearches returns the newest limit entries for userID.
func (r *PostgresHistoryRepository) RecentSearches(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, user_id, target, records, archive_url, created_at
        FROM search_history
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query search history: %w", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var (
			entry   models.HistoryEntry
			records []byte
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Target, &records, &entry.ArchiveURL, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search history: %w", err)
		}
		if err := json.Unmarshal(records, &entry.Records); err != nil {
			return nil, fmt.Errorf("decode history records: %w", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search history: %w", err)
	}

	return entries, nil
}
