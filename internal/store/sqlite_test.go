package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pmarquez/vaultmind/internal/domain"
)

func newTestStore(t *testing.T, capacity int) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "history.db"), capacity)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return repo
}

func storedSession(id string, updatedAt time.Time) *domain.StoredSession {
	return &domain.StoredSession{
		LocalID: id,
		Title:   "chat " + id,
		Model:   "default",
		Mode:    domain.ModeVault,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "hello from " + id},
		},
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func TestSaveAndGetSession(t *testing.T) {
	repo := newTestStore(t, 10)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	want := storedSession("s1", now)
	want.BackendSessionID = "backend-abc"

	if err := repo.SaveSession(ctx, want); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := repo.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil {
		t.Fatal("GetSession returned nil for saved session")
	}
	if got.LocalID != "s1" || got.BackendSessionID != "backend-abc" {
		t.Errorf("got ids (%q, %q), want (s1, backend-abc)", got.LocalID, got.BackendSessionID)
	}
	if got.Mode != domain.ModeVault {
		t.Errorf("got mode %q, want %q", got.Mode, domain.ModeVault)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello from s1" {
		t.Errorf("messages not round-tripped: %+v", got.Messages)
	}
}

func TestGetSessionMissing(t *testing.T) {
	repo := newTestStore(t, 10)

	got, err := repo.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil for missing session", got)
	}
}

func TestSaveSessionUpdatesExisting(t *testing.T) {
	repo := newTestStore(t, 10)
	ctx := context.Background()

	base := time.Now().Truncate(time.Second)
	sess := storedSession("s1", base)
	if err := repo.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	sess.Messages = append(sess.Messages, domain.Message{
		Role: domain.RoleAssistant, Content: "reply",
	})
	sess.UpdatedAt = base.Add(time.Second)
	if err := repo.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession update: %v", err)
	}

	sessions, err := repo.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1 after update", len(sessions))
	}
	if len(sessions[0].Messages) != 2 {
		t.Errorf("got %d messages, want 2", len(sessions[0].Messages))
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	repo := newTestStore(t, 10)
	ctx := context.Background()

	base := time.Now().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("s%d", i)
		if err := repo.SaveSession(ctx, storedSession(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("SaveSession %s: %v", id, err)
		}
	}

	sessions, err := repo.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("got %d sessions, want 3", len(sessions))
	}
	for i, want := range []string{"s2", "s1", "s0"} {
		if sessions[i].LocalID != want {
			t.Errorf("sessions[%d] = %q, want %q", i, sessions[i].LocalID, want)
		}
	}
}

func TestSaveSessionEvictsOldest(t *testing.T) {
	repo := newTestStore(t, 3)
	ctx := context.Background()

	base := time.Now().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("s%d", i)
		if err := repo.SaveSession(ctx, storedSession(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("SaveSession %s: %v", id, err)
		}
	}

	sessions, err := repo.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("got %d sessions, want 3 after eviction", len(sessions))
	}
	for i, want := range []string{"s4", "s3", "s2"} {
		if sessions[i].LocalID != want {
			t.Errorf("sessions[%d] = %q, want %q", i, sessions[i].LocalID, want)
		}
	}

	// The least recently updated sessions are gone.
	for _, id := range []string{"s0", "s1"} {
		got, err := repo.GetSession(ctx, id)
		if err != nil {
			t.Fatalf("GetSession %s: %v", id, err)
		}
		if got != nil {
			t.Errorf("session %s survived eviction", id)
		}
	}
}

func TestDeleteSession(t *testing.T) {
	repo := newTestStore(t, 10)
	ctx := context.Background()

	if err := repo.SaveSession(ctx, storedSession("s1", time.Now())); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := repo.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	got, err := repo.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Error("session still present after delete")
	}

	// Deleting an absent session is not an error.
	if err := repo.DeleteSession(ctx, "s1"); err != nil {
		t.Errorf("DeleteSession absent: %v", err)
	}
}
