package team

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/splax/teamforge/internal/apperr"
	"github.com/splax/teamforge/internal/domain"
	"github.com/splax/teamforge/internal/repository/memory"
)

var testNow = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

type recordingObserver struct {
	teams []string
}

func (r *recordingObserver) TeamChanged(ctx context.Context, teamID string) {
	r.teams = append(r.teams, teamID)
}

func newTestService(t *testing.T, students ...string) (Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	for _, id := range students {
		user := &domain.User{ID: id, Email: id + "@example.com", Role: domain.RoleStudent}
		if err := store.CreateUser(context.Background(), user); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(store, logger).WithClock(func() time.Time { return testNow })
	return svc, store
}

func TestCreateTeamSeatsLeader(t *testing.T) {
	svc, store := newTestService(t, "u1")
	team, err := svc.Create(context.Background(), "u1", "  Alpha  ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if team.Name != "Alpha" {
		t.Fatalf("expected trimmed name, got %q", team.Name)
	}
	if len(team.Members) != 1 || team.Members[0] != "u1" {
		t.Fatalf("expected leader as sole member, got %v", team.Members)
	}
	if team.Status != domain.TeamStatusForming {
		t.Fatalf("expected forming status, got %s", team.Status)
	}
	if team.Number != 1 {
		t.Fatalf("expected first team number 1, got %d", team.Number)
	}
	leader, _ := store.GetUserByID(context.Background(), "u1")
	if leader.TeamID != team.ID {
		t.Fatalf("expected leader team reference %s, got %s", team.ID, leader.TeamID)
	}
}

func TestCreateTeamValidation(t *testing.T) {
	svc, _ := newTestService(t, "u1")
	ctx := context.Background()
	if _, err := svc.Create(ctx, "u1", "   "); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty name, got %v", err)
	}
	if _, err := svc.Create(ctx, "u1", strings.Repeat("x", 81)); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for long name, got %v", err)
	}
	if _, err := svc.Create(ctx, "ghost", "Alpha"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown leader, got %v", err)
	}
	if _, err := svc.Create(ctx, "u1", "Alpha"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, "u1", "Beta"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for leader already in a team, got %v", err)
	}
}

func TestAddMemberCapacityCountsPendingInvitations(t *testing.T) {
	svc, store := newTestService(t, "u1", "u2", "u3", "u4")
	ctx := context.Background()
	team, err := svc.Create(ctx, "u1", "Alpha")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AddMember(ctx, team.ID, "u2"); err != nil {
		t.Fatalf("add u2: %v", err)
	}
	for i := 0; i < 2; i++ {
		inv := &domain.Invitation{
			ID:        fmt.Sprintf("inv-%d", i),
			TeamID:    team.ID,
			InviterID: "u1",
			Invitee:   domain.PendingEmailInvitee(fmt.Sprintf("new%d@example.com", i)),
			Status:    domain.InvitationPending,
			CreatedAt: testNow,
			ExpiresAt: testNow.Add(time.Hour),
		}
		if err := store.CreateInvitation(ctx, inv); err != nil {
			t.Fatalf("seed invitation: %v", err)
		}
	}

	capacity, err := svc.Capacity(ctx, team.ID)
	if err != nil {
		t.Fatalf("capacity: %v", err)
	}
	want := domain.Capacity{Current: 2, Pending: 2, Max: 4, Available: 0, IsFull: true}
	if capacity != want {
		t.Fatalf("expected %+v, got %+v", want, capacity)
	}
	if _, err := svc.AddMember(ctx, team.ID, "u3"); !errors.Is(err, apperr.ErrCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}
}

func TestCapacityIgnoresExpiredInvitations(t *testing.T) {
	svc, store := newTestService(t, "u1")
	ctx := context.Background()
	team, err := svc.Create(ctx, "u1", "Alpha")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	inv := &domain.Invitation{
		ID:        "inv-old",
		TeamID:    team.ID,
		InviterID: "u1",
		Invitee:   domain.PendingEmailInvitee("late@example.com"),
		Status:    domain.InvitationPending,
		CreatedAt: testNow.Add(-48 * time.Hour),
		ExpiresAt: testNow.Add(-time.Hour),
	}
	if err := store.CreateInvitation(ctx, inv); err != nil {
		t.Fatalf("seed invitation: %v", err)
	}
	capacity, err := svc.Capacity(ctx, team.ID)
	if err != nil {
		t.Fatalf("capacity: %v", err)
	}
	if capacity.Pending != 0 || capacity.Available != 3 {
		t.Fatalf("expected expired invitation to free its seat, got %+v", capacity)
	}
}

func TestAddMemberIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t, "u1", "u2")
	obs := &recordingObserver{}
	svc = svc.WithObserver(obs)
	ctx := context.Background()
	team, _ := svc.Create(ctx, "u1", "Alpha")
	if _, err := svc.AddMember(ctx, team.ID, "u2"); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := svc.AddMember(ctx, team.ID, "u2")
	if err != nil {
		t.Fatalf("repeat add: %v", err)
	}
	if len(got.Members) != 2 {
		t.Fatalf("expected two members after repeat add, got %v", got.Members)
	}
	if len(obs.teams) != 1 {
		t.Fatalf("expected a single change notification, got %d", len(obs.teams))
	}
}

func TestAddMemberRejectsMemberOfOtherTeam(t *testing.T) {
	svc, _ := newTestService(t, "u1", "u2")
	ctx := context.Background()
	alpha, _ := svc.Create(ctx, "u1", "Alpha")
	if _, err := svc.Create(ctx, "u2", "Beta"); err != nil {
		t.Fatalf("create beta: %v", err)
	}
	if _, err := svc.AddMember(ctx, alpha.ID, "u2"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRemoveMemberClearsSelection(t *testing.T) {
	svc, store := newTestService(t, "u1", "u2")
	ctx := context.Background()
	team, _ := svc.Create(ctx, "u1", "Alpha")
	if _, err := svc.AddMember(ctx, team.ID, "u2"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.SetSelection(ctx, domain.Selection{UserID: "u2", ProjectID: "p1", SelectedAt: testNow}); err != nil {
		t.Fatalf("select: %v", err)
	}

	if err := svc.RemoveMember(ctx, team.ID, "u2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	user, _ := store.GetUserByID(ctx, "u2")
	if user.TeamID != "" || user.SelectedProjectID != "" || user.SelectedAt != nil {
		t.Fatalf("expected team reference and selection cleared, got %+v", user)
	}
	if err := svc.RemoveMember(ctx, team.ID, "u2"); err != nil {
		t.Fatalf("removing a non-member should be a no-op, got %v", err)
	}
	if err := svc.RemoveMember(ctx, team.ID, "u1"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error removing leader, got %v", err)
	}
}

func TestGetUnknownTeam(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
