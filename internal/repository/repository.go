package repository

import (
	"context"
	"time"

	"github.com/splax/teamforge/internal/domain"
)

// UserRepository persists people: students and faculty.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	// ListFaculty returns faculty in scan order: creation time, then id.
	ListFaculty(ctx context.Context) ([]domain.User, error)
	SetSelection(ctx context.Context, selection domain.Selection) error
}

// Admission controls how AddMember checks capacity.
type Admission struct {
	MaxMembers int
	// CountPending includes unexpired pending invitations in the seat count.
	CountPending bool
	Now          time.Time
}

// TeamRepository manages teams and memberships.
type TeamRepository interface {
	// CreateTeam stores the team, its leader membership and the leader's team
	// reference together.
	CreateTeam(ctx context.Context, team *domain.Team) error
	GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error)
	ListTeamsByStatus(ctx context.Context, status domain.TeamStatus) ([]domain.Team, error)
	// AddMember is a set-union: adding an existing member is a no-op.
	AddMember(ctx context.Context, member domain.TeamMember, admission Admission) error
	// RemoveMember is a set-remove and clears the user's team reference and
	// selection.
	RemoveMember(ctx context.Context, teamID, userID string) error
	// GuideLoads counts teams per guide by scanning team records.
	GuideLoads(ctx context.Context) (map[string]int, error)
}

// AcceptParams describes an invitation acceptance.
type AcceptParams struct {
	InvitationID string
	UserID       string
	MaxMembers   int
	RespondedAt  time.Time
}

// InvitationRepository persists invitations.
type InvitationRepository interface {
	// CreateInvitation returns ErrDuplicate when a pending invitation already
	// targets the same email in the team.
	CreateInvitation(ctx context.Context, invitation *domain.Invitation) error
	GetInvitationByID(ctx context.Context, id string) (*domain.Invitation, error)
	FindPendingByEmail(ctx context.Context, teamID, email string) (*domain.Invitation, error)
	ListInvitationsByTeam(ctx context.Context, teamID string) ([]domain.Invitation, error)
	ListInvitationsForUser(ctx context.Context, userID, email string) ([]domain.Invitation, error)
	CountPending(ctx context.Context, teamID string, now time.Time) (int, error)
	// TransitionInvitation moves a pending invitation to a terminal status.
	// It returns ErrNotPending when the invitation already left pending.
	TransitionInvitation(ctx context.Context, id string, to domain.InvitationStatus, respondedBy string, at time.Time) error
	// AcceptInvitation marks the invitation accepted and adds the member in
	// one step. Returns ErrNotPending, ErrLimitReached or ErrMemberOfOtherTeam.
	AcceptInvitation(ctx context.Context, params AcceptParams) error
	// ExpirePending marks pending invitations past expiry as expired.
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}

// ProjectRepository persists projects.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
}

// AssignmentRepository commits the winning assignment.
type AssignmentRepository interface {
	// CommitAssignment binds team, project and guide. It only succeeds when
	// the project is unassigned (or already held by the same team), the team
	// has no guide and the guide still has capacity. Otherwise it returns
	// ErrProjectTaken, ErrTeamAssigned or ErrFacultyFull and changes nothing.
	CommitAssignment(ctx context.Context, assignment domain.Assignment) error
}

// Store groups every repository the services need.
type Store interface {
	UserRepository
	TeamRepository
	InvitationRepository
	ProjectRepository
	AssignmentRepository
}
