package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vidfriends/scout/internal/models"
	"github.com/vidfriends/scout/internal/querycache"
)

type storeStub struct {
	mu      sync.Mutex
	entries []models.HistoryEntry
	err     error
	recent  int
}

func (s *storeStub) RecordSearch(_ context.Context, entry models.HistoryEntry) (models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.HistoryEntry{}, s.err
	}
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *storeStub) RecentSearches(_ context.Context, userID string, limit int) ([]models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent++
	var out []models.HistoryEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].UserID == userID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *storeStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecorderWritesThenCompletes(t *testing.T) {
	store := &storeStub{}
	recorder := NewRecorder(store, RecorderConfig{QueueSize: 1, Workers: 1}, quietLogger())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = recorder.Shutdown(ctx)
	}()

	done := make(chan int, 1)
	err := recorder.Enqueue(context.Background(), Job{
		UserID: "user-1",
		Entries: []models.HistoryEntry{
			{UserID: "user-1", Target: "alice"},
			{UserID: "user-1", Target: "bob"},
		},
		OnComplete: func(written int, err error) {
			if err != nil {
				t.Errorf("unexpected error %v", err)
			}
			if store.count() != 2 {
				t.Errorf("completion ran before writes finished")
			}
			done <- written
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case written := <-done:
		if written != 2 {
			t.Fatalf("expected two entries written, got %d", written)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestRecorderReportsFailures(t *testing.T) {
	store := &storeStub{err: errors.New("insert failed")}
	recorder := NewRecorder(store, RecorderConfig{}, quietLogger())

	done := make(chan error, 1)
	_ = recorder.Enqueue(context.Background(), Job{
		Entries:    []models.HistoryEntry{{UserID: "u", Target: "t"}},
		OnComplete: func(_ int, err error) { done <- err },
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := recorder.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-done; err == nil || !strings.Contains(err.Error(), "insert failed") {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestRecorderShutdownDrainsAndRejects(t *testing.T) {
	store := &storeStub{}
	recorder := NewRecorder(store, RecorderConfig{QueueSize: 4, Workers: 1}, quietLogger())

	for i := 0; i < 3; i++ {
		if err := recorder.Enqueue(context.Background(), Job{Entries: []models.HistoryEntry{{UserID: "u"}}}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := recorder.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if store.count() != 3 {
		t.Fatalf("expected queued jobs to drain, got %d", store.count())
	}
	if err := recorder.Enqueue(context.Background(), Job{}); !errors.Is(err, ErrRecorderClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

type objectStub struct {
	keys []string
	err  error
}

func (o *objectStub) Save(_ context.Context, key, _ string, r io.Reader) (string, error) {
	if o.err != nil {
		return "", o.err
	}
	_, _ = io.ReadAll(r)
	o.keys = append(o.keys, key)
	return "https://cdn.example.com/" + key, nil
}

func TestArchivingStoreUploadsSnapshot(t *testing.T) {
	base := &storeStub{}
	objects := &objectStub{}
	store := NewArchivingStore(base, objects, quietLogger())

	created := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	saved, err := store.RecordSearch(context.Background(), models.HistoryEntry{UserID: "user-1", Target: "nasa", CreatedAt: created})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected id to be assigned")
	}
	want := "user-1/2026/04/" + saved.ID + ".json"
	if len(objects.keys) != 1 || objects.keys[0] != want {
		t.Fatalf("unexpected keys %v", objects.keys)
	}
	if saved.ArchiveURL != "https://cdn.example.com/"+want {
		t.Fatalf("unexpected archive url %q", saved.ArchiveURL)
	}
}

func TestArchivingStoreToleratesUploadFailure(t *testing.T) {
	base := &storeStub{}
	store := NewArchivingStore(base, &objectStub{err: errors.New("denied")}, quietLogger())

	saved, err := store.RecordSearch(context.Background(), models.HistoryEntry{UserID: "user-1", Target: "nasa"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if saved.ArchiveURL != "" || base.count() != 1 {
		t.Fatalf("expected entry written without archive, got %+v", saved)
	}
}

func TestRecentCacheInvalidate(t *testing.T) {
	base := &storeStub{}
	recent := NewRecentCache(base, querycache.New[[]models.HistoryEntry](time.Minute))

	_, _ = base.RecordSearch(context.Background(), models.HistoryEntry{UserID: "user-1", Target: "a"})
	if got, _ := recent.Recent(context.Background(), "user-1", 10); len(got) != 1 {
		t.Fatalf("unexpected listing %+v", got)
	}

	_, _ = base.RecordSearch(context.Background(), models.HistoryEntry{UserID: "user-1", Target: "b"})
	if got, _ := recent.Recent(context.Background(), "user-1", 10); len(got) != 1 {
		t.Fatal("expected cached listing before invalidation")
	}

	recent.Invalidate("user-1")
	got, _ := recent.Recent(context.Background(), "user-1", 10)
	if len(got) != 2 || got[0].Target != "b" {
		t.Fatalf("expected fresh listing, got %+v", got)
	}
	if base.recent != 2 {
		t.Fatalf("expected two store reads, got %d", base.recent)
	}
}
