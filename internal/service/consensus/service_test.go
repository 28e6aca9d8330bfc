package consensus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/splax/teamforge/internal/apperr"
	"github.com/splax/teamforge/internal/domain"
	"github.com/splax/teamforge/internal/repository"
	"github.com/splax/teamforge/internal/repository/memory"
)

var testNow = time.Date(2025, time.May, 12, 14, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedTeam creates a team with size members (m0 leads) and projects p1, p2.
func seedTeam(t *testing.T, size int) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	for i := 0; i < size; i++ {
		id := fmt.Sprintf("m%d", i)
		if err := store.CreateUser(ctx, &domain.User{ID: id, Email: id + "@example.com", Role: domain.RoleStudent}); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	if err := store.CreateTeam(ctx, &domain.Team{ID: "team-1", Name: "Alpha", LeaderID: "m0", Status: domain.TeamStatusForming}); err != nil {
		t.Fatalf("seed team: %v", err)
	}
	for i := 1; i < size; i++ {
		member := domain.TeamMember{TeamID: "team-1", UserID: fmt.Sprintf("m%d", i), JoinedAt: testNow}
		if err := store.AddMember(ctx, member, repository.Admission{MaxMembers: domain.MaxTeamSize}); err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}
	for _, id := range []string{"p1", "p2"} {
		if err := store.CreateProject(ctx, &domain.Project{ID: id, Title: "Project " + id, Specialization: "CS"}); err != nil {
			t.Fatalf("seed project: %v", err)
		}
	}
	return store
}

func selectAll(t *testing.T, svc Service, choices ...string) {
	t.Helper()
	for i, projectID := range choices {
		if _, err := svc.RecordSelection(context.Background(), fmt.Sprintf("m%d", i), projectID); err != nil {
			t.Fatalf("select m%d: %v", i, err)
		}
	}
}

func TestCheckRequiresFullTeam(t *testing.T) {
	store := seedTeam(t, 3)
	svc := New(store, discardLogger())
	selectAll(t, svc, "p1", "p1", "p1")

	result, err := svc.Check(context.Background(), "team-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.HasConsensus {
		t.Fatal("expected no consensus for a three member team")
	}
}

func TestCheckUnanimous(t *testing.T) {
	store := seedTeam(t, 4)
	svc := New(store, discardLogger())
	selectAll(t, svc, "p1", "p1", "p1", "p1")

	result, err := svc.Check(context.Background(), "team-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !result.HasConsensus || result.ProjectID != "p1" {
		t.Fatalf("expected consensus on p1, got %+v", result)
	}
}

func TestCheckSplitVote(t *testing.T) {
	store := seedTeam(t, 4)
	svc := New(store, discardLogger())
	selectAll(t, svc, "p1", "p1", "p2", "p1")

	result, err := svc.Check(context.Background(), "team-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.HasConsensus || result.ProjectID != "" {
		t.Fatalf("expected no consensus on a split vote, got %+v", result)
	}
}

func TestCheckMissingSelection(t *testing.T) {
	store := seedTeam(t, 4)
	svc := New(store, discardLogger())
	selectAll(t, svc, "p1", "p1", "p1")

	result, err := svc.Check(context.Background(), "team-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.HasConsensus {
		t.Fatal("expected no consensus while a member has not chosen")
	}
	if result.Selections["m3"] != nil {
		t.Fatalf("expected nil selection for m3, got %v", *result.Selections["m3"])
	}
	if got := result.Selections["m0"]; got == nil || *got != "p1" {
		t.Fatalf("expected m0 to have selected p1")
	}
}

func TestRecordSelectionErrors(t *testing.T) {
	store := seedTeam(t, 4)
	ctx := context.Background()
	svc := New(store, discardLogger())
	if _, err := svc.RecordSelection(ctx, "m0", "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown project, got %v", err)
	}
	if _, err := svc.RecordSelection(ctx, "ghost", "p1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}

	if err := store.CreateUser(ctx, &domain.User{ID: "f1", Email: "f1@example.com", Role: domain.RoleFaculty, MaxTeams: 1}); err != nil {
		t.Fatalf("seed faculty: %v", err)
	}
	if err := store.CommitAssignment(ctx, domain.Assignment{TeamID: "team-1", ProjectID: "p2", GuideID: "f1", AssignedAt: testNow}); err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
	if _, err := svc.RecordSelection(ctx, "m0", "p2"); !errors.Is(err, apperr.ErrProjectAlreadyAssigned) {
		t.Fatalf("expected project already assigned, got %v", err)
	}
	if _, err := svc.RecordSelection(ctx, "m0", "p1"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for assigned team, got %v", err)
	}
}

func TestGetSelectionsUnknownTeam(t *testing.T) {
	svc := New(memory.New(), discardLogger())
	if _, err := svc.GetSelections(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTrackerSignalsOncePerAgreement(t *testing.T) {
	store := seedTeam(t, 4)
	base := New(store, discardLogger())
	tracker := NewTracker(base, 8, discardLogger(), nil)
	svc := base.WithObserver(tracker)

	selectAll(t, svc, "p1", "p1", "p1", "p1")
	select {
	case sig := <-tracker.Signals():
		if sig.TeamID != "team-1" || sig.ProjectID != "p1" {
			t.Fatalf("unexpected signal %+v", sig)
		}
	default:
		t.Fatal("expected a consensus signal")
	}

	// Re-selecting the same project must not signal again.
	if _, err := svc.RecordSelection(context.Background(), "m2", "p1"); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	select {
	case sig := <-tracker.Signals():
		t.Fatalf("unexpected repeated signal %+v", sig)
	default:
	}

	// Breaking and restoring agreement re-arms the tracker.
	if _, err := svc.RecordSelection(context.Background(), "m2", "p2"); err != nil {
		t.Fatalf("change mind: %v", err)
	}
	if _, err := svc.RecordSelection(context.Background(), "m2", "p1"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	select {
	case sig := <-tracker.Signals():
		if sig.ProjectID != "p1" {
			t.Fatalf("unexpected signal %+v", sig)
		}
	default:
		t.Fatal("expected a signal after agreement was restored")
	}
}

func TestTrackerDropsWhenBufferFull(t *testing.T) {
	store := seedTeam(t, 4)
	base := New(store, discardLogger())
	tracker := NewTracker(base, 1, discardLogger(), nil)
	svc := base.WithObserver(tracker)
	// The first agreement fills the single slot.
	selectAll(t, svc, "p1", "p1", "p1", "p1")

	if _, err := svc.RecordSelection(context.Background(), "m1", "p2"); err != nil {
		t.Fatalf("change mind: %v", err)
	}
	if _, err := svc.RecordSelection(context.Background(), "m1", "p1"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	tracker.mu.Lock()
	_, armed := tracker.signaled["team-1"]
	tracker.mu.Unlock()
	if armed {
		t.Fatal("expected a dropped signal to leave the team re-armed")
	}
}

func TestTrackerForgetDropsTeamState(t *testing.T) {
	store := seedTeam(t, 4)
	base := New(store, discardLogger())
	tracker := NewTracker(base, 8, discardLogger(), nil)
	svc := base.WithObserver(tracker)
	selectAll(t, svc, "p1", "p1", "p1", "p1")
	<-tracker.Signals()

	tracker.Forget("team-1")
	tracker.mu.Lock()
	remaining := len(tracker.signaled)
	tracker.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected no tracked teams after forget, have %d", remaining)
	}
}
