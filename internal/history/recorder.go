// Package history persists completed searches.
package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vidfriends/scout/internal/models"
)

// Store persists history entries. Each entry is written by one atomic insert.
type Store interface {
	RecordSearch(ctx context.Context, entry models.HistoryEntry) (models.HistoryEntry, error)
	RecentSearches(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error)
}

// RecorderConfig controls the concurrency characteristics of the recorder.
type RecorderConfig struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

// Job is an ordered batch of entries produced by one search. OnComplete runs
// after every entry has been written, whether or not the writes succeeded.
type Job struct {
	UserID     string
	SearchID   string
	Entries    []models.HistoryEntry
	OnComplete func(written int, err error)
}

// Recorder writes history entries on a background worker pool so callers are
// never blocked on persistence.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration

	jobs   chan Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// ErrRecorderClosed is returned by Enqueue after Shutdown.
var ErrRecorderClosed = errors.New("history recorder closed")

// NewRecorder starts the worker pool.
func NewRecorder(store Store, cfg RecorderConfig, logger *slog.Logger) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Recorder{
		store:   store,
		logger:  logger,
		timeout: cfg.WriteTimeout,
		jobs:    make(chan Job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	r.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go r.worker()
	}

	return r
}

// Enqueue schedules job for persistence.
func (r *Recorder) Enqueue(ctx context.Context, job Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrRecorderClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrRecorderClosed
	case r.jobs <- job:
		return nil
	}
}

// Shutdown stops accepting jobs and waits for queued jobs to drain.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.once.Do(func() {
		r.cancel()
		close(r.jobs)
	})

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for job := range r.jobs {
		r.handleJob(job)
	}
}

func (r *Recorder) handleJob(job Job) {
	if r.store == nil {
		r.logger.Error("history recorder missing store", "searchId", job.SearchID)
		if job.OnComplete != nil {
			job.OnComplete(0, ErrStoreUnavailable)
		}
		return
	}

	written := 0
	var errs []error
	for _, entry := range job.Entries {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		_, err := r.store.RecordSearch(ctx, entry)
		cancel()
		if err != nil {
			r.logger.Error("record search history", "userId", entry.UserID, "searchId", job.SearchID, "target", entry.Target, "error", err)
			errs = append(errs, err)
			continue
		}
		written++
	}

	r.logger.Debug("search history recorded", "userId", job.UserID, "searchId", job.SearchID, "entries", written)
	if job.OnComplete != nil {
		job.OnComplete(written, errors.Join(errs...))
	}
}
