package team

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/teamforge/internal/apperr"
	"github.com/splax/teamforge/internal/domain"
	"github.com/splax/teamforge/internal/repository"
)

const maxNameLength = 80

// Store is the persistence the team service needs.
type Store interface {
	repository.UserRepository
	repository.TeamRepository
	CountPending(ctx context.Context, teamID string, now time.Time) (int, error)
}

// Observer is told when a team's membership changes.
type Observer interface {
	TeamChanged(ctx context.Context, teamID string)
}

// Service handles team workflows.
type Service struct {
	store    Store
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// New constructs a Service.
func New(store Store, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// WithObserver returns a copy of the service that reports membership changes.
func (s Service) WithObserver(o Observer) Service {
	s.observer = o
	return s
}

// WithClock returns a copy of the service using now as its time source.
func (s Service) WithClock(now func() time.Time) Service {
	s.now = now
	return s
}

// Create registers a team led by leaderID.
func (s Service) Create(ctx context.Context, leaderID, name string) (*domain.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("team name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, apperr.Validation("team name must be at most 80 characters")
	}
	leader, err := s.store.GetUserByID(ctx, leaderID)
	if err != nil {
		return nil, s.storeError(ctx, "load leader", err, "user not found")
	}
	if leader.TeamID != "" {
		return nil, apperr.Validation("user already belongs to a team")
	}

	now := s.now()
	team := &domain.Team{
		ID:        uuid.NewString(),
		Name:      name,
		LeaderID:  leaderID,
		Status:    domain.TeamStatusForming,
		Members:   []string{leaderID},
		Invites:   []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateTeam(ctx, team); err != nil {
		if errors.Is(err, repository.ErrMemberOfOtherTeam) {
			return nil, apperr.Validation("user already belongs to a team")
		}
		return nil, s.storeError(ctx, "create team", err, "user not found")
	}
	s.logger.InfoContext(ctx, "team created", "team_id", team.ID, "number", team.Number, "leader_id", leaderID)
	return team, nil
}

// Get returns the team with its members and pending invitation ids.
func (s Service) Get(ctx context.Context, teamID string) (*domain.Team, error) {
	team, err := s.store.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, s.storeError(ctx, "load team", err, "team not found")
	}
	return team, nil
}

// AddMember puts userID on the team. Adding an existing member is a no-op.
func (s Service) AddMember(ctx context.Context, teamID, userID string) (*domain.Team, error) {
	team, err := s.Get(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if team.HasMember(userID) {
		return team, nil
	}
	if team.Status == domain.TeamStatusAssigned {
		return nil, apperr.Validation("team is already assigned")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, s.storeError(ctx, "load user", err, "user not found")
	}
	if user.TeamID != "" && user.TeamID != teamID {
		return nil, apperr.Validation("user already belongs to another team")
	}

	now := s.now()
	member := domain.TeamMember{TeamID: teamID, UserID: userID, JoinedAt: now}
	admission := repository.Admission{MaxMembers: domain.MaxTeamSize, CountPending: true, Now: now}
	if err := s.store.AddMember(ctx, member, admission); err != nil {
		switch {
		case errors.Is(err, repository.ErrLimitReached):
			return nil, apperr.New(apperr.KindCapacity, "team is full")
		case errors.Is(err, repository.ErrMemberOfOtherTeam):
			return nil, apperr.Validation("user already belongs to another team")
		}
		return nil, s.storeError(ctx, "add member", err, "team or user not found")
	}
	s.logger.InfoContext(ctx, "member added", "team_id", teamID, "user_id", userID)
	s.changed(ctx, teamID)
	return s.Get(ctx, teamID)
}

// RemoveMember takes userID off the team and clears their selection.
func (s Service) RemoveMember(ctx context.Context, teamID, userID string) error {
	team, err := s.Get(ctx, teamID)
	if err != nil {
		return err
	}
	if team.Status == domain.TeamStatusAssigned {
		return apperr.Validation("cannot remove members from an assigned team")
	}
	if userID == team.LeaderID {
		return apperr.Validation("the team leader cannot be removed")
	}
	if !team.HasMember(userID) {
		return nil
	}
	if err := s.store.RemoveMember(ctx, teamID, userID); err != nil {
		return s.storeError(ctx, "remove member", err, "team not found")
	}
	s.logger.InfoContext(ctx, "member removed", "team_id", teamID, "user_id", userID)
	s.changed(ctx, teamID)
	return nil
}

// Capacity reports how many seats remain, counting unexpired pending
// invitations as reserved.
func (s Service) Capacity(ctx context.Context, teamID string) (domain.Capacity, error) {
	team, err := s.Get(ctx, teamID)
	if err != nil {
		return domain.Capacity{}, err
	}
	pending, err := s.store.CountPending(ctx, teamID, s.now())
	if err != nil {
		return domain.Capacity{}, s.storeError(ctx, "count pending invitations", err, "team not found")
	}
	return domain.NewCapacity(len(team.Members), pending), nil
}

func (s Service) changed(ctx context.Context, teamID string) {
	if s.observer != nil {
		s.observer.TeamChanged(ctx, teamID)
	}
}

func (s Service) storeError(ctx context.Context, op string, err error, notFound string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(notFound)
	}
	s.logger.ErrorContext(ctx, "team store failure", "op", op, "error", err)
	return apperr.Wrap(apperr.KindInternal, "internal error", err)
}
