// Package assignment binds a team that agreed on a project to that project
// and to a faculty guide with spare capacity.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/splax/teamforge/internal/apperr"
	"github.com/splax/teamforge/internal/domain"
	"github.com/splax/teamforge/internal/metrics"
	"github.com/splax/teamforge/internal/notify"
	"github.com/splax/teamforge/internal/repository"
	"github.com/splax/teamforge/internal/service/consensus"
)

// Store is the persistence the assignment service needs.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	ListFaculty(ctx context.Context) ([]domain.User, error)
	GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error)
	ListTeamsByStatus(ctx context.Context, status domain.TeamStatus) ([]domain.Team, error)
	GuideLoads(ctx context.Context) (map[string]int, error)
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	repository.AssignmentRepository
}

// Observer is told when a team is assigned.
type Observer interface {
	TeamChanged(ctx context.Context, teamID string)
}

// ConsensusChecker evaluates a team's agreement.
type ConsensusChecker interface {
	Check(ctx context.Context, teamID string) (*consensus.Result, error)
}

// Service coordinates contended assignments.
type Service struct {
	store    Store
	checker  ConsensusChecker
	locker   Locker
	sender   notify.Sender
	logger   *slog.Logger
	metrics  *metrics.Recorder
	observer Observer
	tracer   trace.Tracer
	now      func() time.Time
}

// New constructs a Service. A nil locker falls back to an in-process keyed
// mutex and a nil sender disables notifications.
func New(store Store, checker ConsensusChecker, locker Locker, sender notify.Sender, logger *slog.Logger) Service {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		store:   store,
		checker: checker,
		locker:  locker,
		sender:  sender,
		logger:  logger,
		tracer:  otel.Tracer("github.com/splax/teamforge/internal/service/assignment"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics returns a copy of the service that records outcomes.
func (s Service) WithMetrics(r *metrics.Recorder) Service {
	s.metrics = r
	return s
}

// WithObserver returns a copy of the service that reports new assignments.
func (s Service) WithObserver(o Observer) Service {
	s.observer = o
	return s
}

// WithClock returns a copy of the service using now as its time source.
func (s Service) WithClock(now func() time.Time) Service {
	s.now = now
	return s
}

// AssignIfConsensus assigns the team's agreed project and a guide. Attempts on
// the same project are serialised by the Locker.
func (s Service) AssignIfConsensus(ctx context.Context, teamID string) (*domain.Assignment, error) {
	ctx, span := s.tracer.Start(ctx, "assignment.AssignIfConsensus", trace.WithAttributes(attribute.String("team.id", teamID)))
	defer span.End()

	assignment, err := s.assignIfConsensus(ctx, teamID, span)
	s.metrics.Assignment(outcome(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.MessageOf(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("guide.id", assignment.GuideID))
	return assignment, nil
}

func (s Service) assignIfConsensus(ctx context.Context, teamID string, span trace.Span) (*domain.Assignment, error) {
	team, err := s.store.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, s.storeError(ctx, "load team", err, "team not found")
	}
	if team.GuideID != "" {
		return existing(team), nil
	}
	result, err := s.checker.Check(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if !result.HasConsensus {
		return nil, apperr.Validation("team has not reached consensus on a project")
	}
	span.SetAttributes(attribute.String("project.id", result.ProjectID))

	release, err := s.locker.Acquire(ctx, "project:"+result.ProjectID)
	if err != nil {
		s.logger.WarnContext(ctx, "project lock unavailable", "team_id", teamID, "project_id", result.ProjectID, "error", err)
		return nil, apperr.Wrap(apperr.KindInternal, "assignment is busy, try again", err)
	}
	defer release()

	// a member may have changed their selection while we waited for the lock
	current, err := s.checker.Check(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if !current.HasConsensus || current.ProjectID != result.ProjectID {
		s.logger.InfoContext(ctx, "consensus changed while waiting for project lock", "team_id", teamID, "project_id", result.ProjectID)
		return nil, apperr.Validation("team has not reached consensus on a project")
	}
	return s.AssignFaculty(ctx, teamID, result.ProjectID)
}

// LockProject re-reads the project right before commit and fails when another
// team already holds it.
func (s Service) LockProject(ctx context.Context, projectID, teamID string) (*domain.Project, error) {
	project, err := s.store.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, s.storeError(ctx, "load project", err, "project not found")
	}
	if project.IsAssigned && project.TeamID != teamID {
		return nil, apperr.Newf(apperr.KindProjectAlreadyAssigned, "project %q is already assigned to another team", project.Title)
	}
	return project, nil
}

// AssignFaculty picks the least-loaded guide with spare capacity, preferring
// a matching specialization, and commits the assignment.
func (s Service) AssignFaculty(ctx context.Context, teamID, projectID string) (*domain.Assignment, error) {
	ctx, span := s.tracer.Start(ctx, "assignment.AssignFaculty", trace.WithAttributes(
		attribute.String("team.id", teamID),
		attribute.String("project.id", projectID),
	))
	defer span.End()

	team, err := s.store.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, s.storeError(ctx, "load team", err, "team not found")
	}
	if team.GuideID != "" {
		return existing(team), nil
	}
	project, err := s.LockProject(ctx, projectID, teamID)
	if err != nil {
		return nil, err
	}
	faculty, err := s.store.ListFaculty(ctx)
	if err != nil {
		return nil, s.storeError(ctx, "list faculty", err, "faculty not found")
	}
	loads, err := s.store.GuideLoads(ctx)
	if err != nil {
		return nil, s.storeError(ctx, "count guide loads", err, "faculty not found")
	}

	candidates := Candidates(faculty, loads, project.Specialization)
	if len(candidates) == 0 {
		s.logger.WarnContext(ctx, "no faculty capacity", "team_id", teamID, "project_id", projectID, "specialization", project.Specialization)
		return nil, apperr.New(apperr.KindNoCapacity, "no faculty guide has capacity for this project")
	}

	for _, guide := range candidates {
		assignment := domain.Assignment{TeamID: teamID, ProjectID: projectID, GuideID: guide.ID, AssignedAt: s.now()}
		err := s.store.CommitAssignment(ctx, assignment)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("guide.id", guide.ID))
			s.logger.InfoContext(ctx, "team assigned",
				"team_id", teamID,
				"project_id", projectID,
				"guide_id", guide.ID,
				"guide_load", guide.CurrentAssignedCount+1,
				"guide_max", guide.MaxTeams,
			)
			s.notifyMembers(ctx, team, project, guide)
			if s.observer != nil {
				s.observer.TeamChanged(ctx, teamID)
			}
			return &assignment, nil
		case errors.Is(err, repository.ErrFacultyFull):
			s.logger.InfoContext(ctx, "guide filled concurrently, trying next", "guide_id", guide.ID, "team_id", teamID)
			continue
		case errors.Is(err, repository.ErrProjectTaken):
			return nil, apperr.Newf(apperr.KindProjectAlreadyAssigned, "project %q is already assigned to another team", project.Title)
		case errors.Is(err, repository.ErrTeamAssigned):
			current, getErr := s.store.GetTeamByID(ctx, teamID)
			if getErr != nil {
				return nil, s.storeError(ctx, "reload team", getErr, "team not found")
			}
			return existing(current), nil
		default:
			return nil, s.storeError(ctx, "commit assignment", err, "team, project or guide not found")
		}
	}
	return nil, apperr.New(apperr.KindNoCapacity, "no faculty guide has capacity for this project")
}

// Candidates returns guides with spare capacity ordered least-loaded first,
// keeping scan order on ties. Guides matching specialization are preferred;
// when none has room the whole pool is considered.
func Candidates(faculty []domain.User, loads map[string]int, specialization string) []domain.Faculty {
	specialization = strings.TrimSpace(specialization)
	matching := make([]domain.Faculty, 0)
	pool := make([]domain.Faculty, 0, len(faculty))
	for _, u := range faculty {
		f := domain.Faculty{
			ID:                   u.ID,
			Name:                 u.Name,
			Specialization:       u.Specialization,
			MaxTeams:             u.MaxTeams,
			CurrentAssignedCount: loads[u.ID],
		}
		if !f.HasCapacity() {
			continue
		}
		pool = append(pool, f)
		if specialization != "" && strings.EqualFold(strings.TrimSpace(u.Specialization), specialization) {
			matching = append(matching, f)
		}
	}
	candidates := matching
	if len(candidates) == 0 {
		candidates = pool
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CurrentAssignedCount < candidates[j].CurrentAssignedCount
	})
	return candidates
}

func (s Service) notifyMembers(ctx context.Context, team *domain.Team, project *domain.Project, guide domain.Faculty) {
	if s.sender == nil {
		return
	}
	msg := notify.Message{
		Kind:       notify.KindTeamAssigned,
		Subject:    fmt.Sprintf("%s has been assigned %q", team.Name, project.Title),
		Body:       fmt.Sprintf("Your team will work on %q under the guidance of %s.", project.Title, guide.Name),
		TeamID:     team.ID,
		OccurredAt: s.now(),
	}
	for _, memberID := range team.Members {
		user, err := s.store.GetUserByID(ctx, memberID)
		if err != nil {
			s.logger.WarnContext(ctx, "member lookup failed", "user_id", memberID, "error", err)
			continue
		}
		msg.Recipient = user.ID
		if err := s.sender.Send(ctx, user.Email, msg); err != nil {
			s.logger.WarnContext(ctx, "notification delivery failed", "kind", msg.Kind, "user_id", user.ID, "error", err)
			s.metrics.NotifyFailure(string(msg.Kind))
		}
	}
}

func existing(team *domain.Team) *domain.Assignment {
	return &domain.Assignment{TeamID: team.ID, ProjectID: team.ProjectID, GuideID: team.GuideID, AssignedAt: team.UpdatedAt}
}

func (s Service) storeError(ctx context.Context, op string, err error, notFound string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(notFound)
	}
	s.logger.ErrorContext(ctx, "assignment store failure", "op", op, "error", err)
	return apperr.Wrap(apperr.KindInternal, "internal error", err)
}

func outcome(err error) string {
	if err == nil {
		return "assigned"
	}
	return string(apperr.KindOf(err))
}
