// Package consensus detects when every member of a full team has selected the
// same project.
package consensus

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/splax/teamforge/internal/apperr"
	"github.com/splax/teamforge/internal/domain"
	"github.com/splax/teamforge/internal/repository"
)

// Store is the persistence the consensus service needs.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	SetSelection(ctx context.Context, selection domain.Selection) error
	GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error)
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
}

// Observer is told when a team member's selection changes.
type Observer interface {
	TeamChanged(ctx context.Context, teamID string)
}

// Result describes a team's agreement state. Selections maps every member to
// their chosen project, or nil when they have not chosen.
type Result struct {
	TeamID       string             `json:"team_id"`
	HasConsensus bool               `json:"has_consensus"`
	ProjectID    string             `json:"project_id,omitempty"`
	Selections   map[string]*string `json:"selections"`
}

// Service records selections and evaluates consensus from member records.
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

// WithObserver returns a copy of the service that reports selection changes.
func (s Service) WithObserver(o Observer) Service {
	s.observer = o
	return s
}

// WithClock returns a copy of the service using now as its time source.
func (s Service) WithClock(now func() time.Time) Service {
	s.now = now
	return s
}

// RecordSelection stores userID's project choice on their member record.
func (s Service) RecordSelection(ctx context.Context, userID, projectID string) (*domain.Selection, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, apperr.Validation("project id is required")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, s.storeError(ctx, "load user", err, "user not found")
	}
	project, err := s.store.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, s.storeError(ctx, "load project", err, "project not found")
	}
	if project.IsAssigned {
		return nil, apperr.Newf(apperr.KindProjectAlreadyAssigned, "project %q is already assigned", project.Title)
	}
	if user.TeamID != "" {
		team, err := s.store.GetTeamByID(ctx, user.TeamID)
		if err != nil {
			return nil, s.storeError(ctx, "load team", err, "team not found")
		}
		if team.Status == domain.TeamStatusAssigned {
			return nil, apperr.Validation("team is already assigned")
		}
	}

	selection := domain.Selection{UserID: userID, ProjectID: projectID, SelectedAt: s.now()}
	if err := s.store.SetSelection(ctx, selection); err != nil {
		return nil, s.storeError(ctx, "record selection", err, "user not found")
	}
	s.logger.InfoContext(ctx, "project selected", "user_id", userID, "project_id", projectID, "team_id", user.TeamID)
	if user.TeamID != "" && s.observer != nil {
		s.observer.TeamChanged(ctx, user.TeamID)
	}
	return &selection, nil
}

// GetSelections returns every member's current choice. Members whose record
// cannot be read are reported with no choice.
func (s Service) GetSelections(ctx context.Context, teamID string) (map[string]*string, error) {
	team, err := s.store.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, s.storeError(ctx, "load team", err, "team not found")
	}
	return s.selections(ctx, team)
}

func (s Service) selections(ctx context.Context, team *domain.Team) (map[string]*string, error) {
	out := make(map[string]*string, len(team.Members))
	for _, memberID := range team.Members {
		user, err := s.store.GetUserByID(ctx, memberID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			out[memberID] = nil
			continue
		case err != nil:
			return nil, s.storeError(ctx, "load member", err, "member not found")
		}
		if user.SelectedProjectID == "" {
			out[memberID] = nil
			continue
		}
		projectID := user.SelectedProjectID
		out[memberID] = &projectID
	}
	return out, nil
}

// Check reports whether the team has unanimous agreement. A team that is not
// full, or has a member without a choice, never has consensus.
func (s Service) Check(ctx context.Context, teamID string) (*Result, error) {
	team, err := s.store.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, s.storeError(ctx, "load team", err, "team not found")
	}
	selections, err := s.selections(ctx, team)
	if err != nil {
		return nil, err
	}
	result := &Result{TeamID: teamID, Selections: selections}
	if len(team.Members) != domain.MaxTeamSize {
		return result, nil
	}
	distinct := make(map[string]struct{}, 1)
	for _, selected := range selections {
		if selected == nil {
			return result, nil
		}
		distinct[*selected] = struct{}{}
	}
	if len(distinct) != 1 {
		return result, nil
	}
	for projectID := range distinct {
		result.HasConsensus = true
		result.ProjectID = projectID
	}
	return result, nil
}

func (s Service) storeError(ctx context.Context, op string, err error, notFound string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(notFound)
	}
	s.logger.ErrorContext(ctx, "consensus store failure", "op", op, "error", err)
	return apperr.Wrap(apperr.KindInternal, "internal error", err)
}
