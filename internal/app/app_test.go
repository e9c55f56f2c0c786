package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vidfriends/scout/internal/auth"
	"github.com/vidfriends/scout/internal/models"
)

func TestShouldRetryMigration(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"lock", &pgconn.PgError{Code: "55P03"}, true},
		{"syntax", &pgconn.PgError{Code: "42601"}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"tx closed", pgx.ErrTxClosed, true},
		{"other", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := shouldRetryMigration(tc.err); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestMigrationBackoffIsCapped(t *testing.T) {
	if got := migrationBackoff(1); got != migrationBaseBackoff {
		t.Fatalf("expected base backoff, got %v", got)
	}
	if got := migrationBackoff(2); got != 2*migrationBaseBackoff {
		t.Fatalf("expected doubled backoff, got %v", got)
	}
	if got := migrationBackoff(20); got != migrationMaxBackoff {
		t.Fatalf("expected capped backoff, got %v", got)
	}
}

func TestMigrationFilesSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_more.sql", "001_init.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.sql"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, files, err := migrationFiles(dir)
	if err != nil {
		t.Fatalf("migration files: %v", err)
	}
	if strings.Join(files, ",") != "001_init.sql,002_more.sql" {
		t.Fatalf("unexpected files %v", files)
	}
}

func TestMigrateRejectsUnknownCommand(t *testing.T) {
	err := Run(context.Background(), []string{"migrate", "sideways"})
	if err == nil || !strings.Contains(err.Error(), `unknown migrate command "sideways"`) {
		t.Fatalf("expected unknown command error, got %v", err)
	}
	if err := Run(context.Background(), []string{"migrate", "down"}); err == nil {
		t.Fatal("expected down to be unsupported")
	}
}

func TestSessionShowPrintsSummary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.bin")
	t.Setenv("SCOUT_SESSION_FILE", path)
	t.Setenv("SCOUT_SESSION_SECRET", "test-secret")

	store, err := auth.NewFileSessionStore(path, "test-secret")
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := store.Save(context.Background(), models.Session{UserID: "user-1", AccessToken: "secret-access", RefreshToken: "secret-refresh", ExpiresAt: expires}); err != nil {
		t.Fatalf("save: %v", err)
	}

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"session", "show"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("session show: %v", err)
	}

	if strings.Contains(out.String(), "secret-access") || strings.Contains(out.String(), "secret-refresh") {
		t.Fatalf("tokens leaked: %s", out.String())
	}
	var summary sessionSummary
	if err := json.Unmarshal(out.Bytes(), &summary); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !summary.Present || summary.UserID != "user-1" || summary.Expired || summary.ExpiresAt == nil || !summary.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestSessionShowWithoutSecret(t *testing.T) {
	t.Setenv("SCOUT_SESSION_SECRET", "")
	t.Setenv("SCOUT_CONFIG", "")
	if err := Run(context.Background(), []string{"session", "show"}); err == nil {
		t.Fatal("expected error without a session secret")
	}
}
