package history

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/vidfriends/scout/internal/models"
)

// ObjectStorage uploads archive snapshots.
type ObjectStorage interface {
	Save(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// ArchivingStore uploads a JSON snapshot of every entry before delegating to
// the underlying store. Archive failures are logged and the entry is still
// written without an archive URL.
type ArchivingStore struct {
	base    Store
	objects ObjectStorage
	logger  *slog.Logger
}

// NewArchivingStore wraps base. A nil objects store disables archiving.
func NewArchivingStore(base Store, objects ObjectStorage, logger *slog.Logger) *ArchivingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchivingStore{base: base, objects: objects, logger: logger}
}

// RecordSearch implements Store.
func (s *ArchivingStore) RecordSearch(ctx context.Context, entry models.HistoryEntry) (models.HistoryEntry, error) {
	if s.base == nil {
		return models.HistoryEntry{}, ErrStoreUnavailable
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if s.objects != nil {
		if location, err := s.archive(ctx, entry); err != nil {
			s.logger.Warn("archive search history", "userId", entry.UserID, "entryId", entry.ID, "error", err)
		} else {
			entry.ArchiveURL = location
		}
	}

	return s.base.RecordSearch(ctx, entry)
}

// RecentSearches implements Store.
func (s *ArchivingStore) RecentSearches(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error) {
	if s.base == nil {
		return nil, ErrStoreUnavailable
	}
	return s.base.RecentSearches(ctx, userID, limit)
}

func (s *ArchivingStore) archive(ctx context.Context, entry models.HistoryEntry) (string, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	key := path.Join(entry.UserID, entry.CreatedAt.Format("2006/01"), entry.ID+".json")
	return s.objects.Save(ctx, key, "application/json", bytes.NewReader(payload))
}
