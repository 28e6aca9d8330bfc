// Package memory provides an in-process Store with the same semantics as the
// Postgres repository. Every method runs under one mutex, so multi-record
// writes are atomic the same way the Postgres transactions are.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/splax/teamforge/internal/domain"
	"github.com/splax/teamforge/internal/repository"
)

// Store keeps every record in maps guarded by a single mutex.
type Store struct {
	mu          sync.Mutex
	users       map[string]domain.User
	teams       map[string]domain.Team
	invitations map[string]domain.Invitation
	projects    map[string]domain.Project
	userOrder   []string
	nextNumber  int
	now         func() time.Time
}

var _ repository.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:       make(map[string]domain.User),
		teams:       make(map[string]domain.Team),
		invitations: make(map[string]domain.Invitation),
		projects:    make(map[string]domain.Project),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return repository.ErrDuplicate
	}
	email := domain.NormalizeEmail(user.Email)
	for _, u := range s.users {
		if u.Email == email {
			return repository.ErrDuplicate
		}
	}
	stored := *user
	stored.Email = email
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.users[stored.ID] = stored
	s.userOrder = append(s.userOrder, stored.ID)
	user.CreatedAt = stored.CreatedAt
	return nil
}

// GetUserByID fetches a user.
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

// GetUserByEmail fetches a user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = domain.NormalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			found := u
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ListFaculty returns faculty in insertion order.
func (s *Store) ListFaculty(ctx context.Context) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	faculty := make([]domain.User, 0)
	for _, id := range s.userOrder {
		if u := s.users[id]; u.Role == domain.RoleFaculty {
			faculty = append(faculty, u)
		}
	}
	return faculty, nil
}

// SetSelection records a member's project choice.
func (s *Store) SetSelection(ctx context.Context, selection domain.Selection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[selection.UserID]
	if !ok {
		return repository.ErrNotFound
	}
	at := selection.SelectedAt
	u.SelectedProjectID = selection.ProjectID
	u.SelectedAt = &at
	s.users[u.ID] = u
	return nil
}

// CreateTeam stores the team and the leader membership.
func (s *Store) CreateTeam(ctx context.Context, team *domain.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	leader, ok := s.users[team.LeaderID]
	if !ok {
		return repository.ErrNotFound
	}
	if leader.TeamID != "" {
		return repository.ErrMemberOfOtherTeam
	}
	s.nextNumber++
	stored := *team
	stored.Number = s.nextNumber
	stored.Members = []string{team.LeaderID}
	stored.Invites = nil
	s.teams[stored.ID] = stored
	leader.TeamID = stored.ID
	s.users[leader.ID] = leader
	team.Number = stored.Number
	team.Members = append([]string(nil), stored.Members...)
	return nil
}

// GetTeamByID returns a team with its pending invitation ids.
func (s *Store) GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := s.projectTeam(t)
	return &out, nil
}

// ListTeamsByStatus returns teams with the given status ordered by number.
func (s *Store) ListTeamsByStatus(ctx context.Context, status domain.TeamStatus) ([]domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	teams := make([]domain.Team, 0)
	for _, t := range s.teams {
		if t.Status == status {
			teams = append(teams, s.projectTeam(t))
		}
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].Number < teams[j].Number })
	return teams, nil
}

// AddMember appends the user to the team when a seat is free.
func (s *Store) AddMember(ctx context.Context, member domain.TeamMember, admission repository.Admission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addMemberLocked(member.TeamID, member.UserID, admission.MaxMembers, admission.CountPending, admission.Now)
}

func (s *Store) addMemberLocked(teamID, userID string, maxMembers int, countPending bool, now time.Time) error {
	t, ok := s.teams[teamID]
	if !ok {
		return repository.ErrNotFound
	}
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if t.HasMember(userID) {
		return nil
	}
	if u.TeamID != "" && u.TeamID != teamID {
		return repository.ErrMemberOfOtherTeam
	}
	occupied := len(t.Members)
	if countPending {
		occupied += s.countPendingLocked(teamID, now)
	}
	if occupied >= maxMembers {
		return repository.ErrLimitReached
	}
	t.Members = append(append([]string(nil), t.Members...), userID)
	t.UpdatedAt = s.now()
	s.teams[teamID] = t
	u.TeamID = teamID
	s.users[userID] = u
	return nil
}

// RemoveMember drops the user from the team.
func (s *Store) RemoveMember(ctx context.Context, teamID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return repository.ErrNotFound
	}
	members := make([]string, 0, len(t.Members))
	for _, m := range t.Members {
		if m != userID {
			members = append(members, m)
		}
	}
	t.Members = members
	t.UpdatedAt = s.now()
	s.teams[teamID] = t
	if u, ok := s.users[userID]; ok && u.TeamID == teamID {
		u.TeamID = ""
		u.SelectedProjectID = ""
		u.SelectedAt = nil
		s.users[userID] = u
	}
	return nil
}

// GuideLoads counts teams per guide.
func (s *Store) GuideLoads(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guideLoadsLocked(), nil
}

func (s *Store) guideLoadsLocked() map[string]int {
	loads := make(map[string]int)
	for _, t := range s.teams {
		if t.GuideID != "" {
			loads[t.GuideID]++
		}
	}
	return loads
}

// CreateInvitation inserts an invitation, enforcing one pending invitation
// per team and email.
func (s *Store) CreateInvitation(ctx context.Context, invitation *domain.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[invitation.TeamID]; !ok {
		return repository.ErrNotFound
	}
	if invitation.Status == domain.InvitationPending {
		if _, ok := s.findPendingLocked(invitation.TeamID, invitation.Invitee.Email); ok {
			return repository.ErrDuplicate
		}
	}
	s.invitations[invitation.ID] = *invitation
	return nil
}

// GetInvitationByID fetches an invitation.
func (s *Store) GetInvitationByID(ctx context.Context, id string) (*domain.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &inv, nil
}

// FindPendingByEmail returns the pending invitation for email in the team.
func (s *Store) FindPendingByEmail(ctx context.Context, teamID, email string) (*domain.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.findPendingLocked(teamID, email)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &inv, nil
}

func (s *Store) findPendingLocked(teamID, email string) (domain.Invitation, bool) {
	email = domain.NormalizeEmail(email)
	for _, inv := range s.invitations {
		if inv.TeamID == teamID && inv.Status == domain.InvitationPending && inv.Invitee.Email == email {
			return inv, true
		}
	}
	return domain.Invitation{}, false
}

// ListInvitationsByTeam returns the team's invitations, newest first.
func (s *Store) ListInvitationsByTeam(ctx context.Context, teamID string) ([]domain.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterInvitationsLocked(func(inv domain.Invitation) bool { return inv.TeamID == teamID }), nil
}

// ListInvitationsForUser returns invitations addressed to the user id or email.
func (s *Store) ListInvitationsForUser(ctx context.Context, userID, email string) ([]domain.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = domain.NormalizeEmail(email)
	return s.filterInvitationsLocked(func(inv domain.Invitation) bool {
		if userID != "" && inv.Invitee.UserID == userID {
			return true
		}
		return email != "" && inv.Invitee.Email == email
	}), nil
}

func (s *Store) filterInvitationsLocked(keep func(domain.Invitation) bool) []domain.Invitation {
	out := make([]domain.Invitation, 0)
	for _, inv := range s.invitations {
		if keep(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// CountPending counts unexpired pending invitations for the team.
func (s *Store) CountPending(ctx context.Context, teamID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countPendingLocked(teamID, now), nil
}

func (s *Store) countPendingLocked(teamID string, now time.Time) int {
	count := 0
	for _, inv := range s.invitations {
		if inv.TeamID == teamID && inv.Status == domain.InvitationPending && !inv.Lapsed(now) {
			count++
		}
	}
	return count
}

// TransitionInvitation moves a pending invitation to a terminal status.
func (s *Store) TransitionInvitation(ctx context.Context, id string, to domain.InvitationStatus, respondedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return repository.ErrNotFound
	}
	if inv.Status != domain.InvitationPending {
		return repository.ErrNotPending
	}
	inv.Status = to
	inv.RespondedAt = &at
	inv.RespondedBy = respondedBy
	s.invitations[id] = inv
	return nil
}

// AcceptInvitation accepts the invitation and adds the member atomically.
func (s *Store) AcceptInvitation(ctx context.Context, params repository.AcceptParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[params.InvitationID]
	if !ok {
		return repository.ErrNotFound
	}
	if inv.Status != domain.InvitationPending {
		return repository.ErrNotPending
	}
	if err := s.addMemberLocked(inv.TeamID, params.UserID, params.MaxMembers, false, params.RespondedAt); err != nil {
		return err
	}
	at := params.RespondedAt
	inv.Status = domain.InvitationAccepted
	inv.RespondedAt = &at
	inv.RespondedBy = params.UserID
	if inv.Invitee.UserID == "" {
		inv.Invitee.UserID = params.UserID
	}
	s.invitations[inv.ID] = inv
	return nil
}

// ExpirePending marks lapsed pending invitations expired.
func (s *Store) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, inv := range s.invitations {
		if inv.Lapsed(now) {
			at := now
			inv.Status = domain.InvitationExpired
			inv.RespondedAt = &at
			s.invitations[id] = inv
			n++
		}
	}
	return n, nil
}

// CreateProject inserts a project.
func (s *Store) CreateProject(ctx context.Context, project *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project.ID]; ok {
		return repository.ErrDuplicate
	}
	stored := *project
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.projects[stored.ID] = stored
	return nil
}

// GetProjectByID fetches a project.
func (s *Store) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

// ListProjects returns projects ordered by title.
func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
	})
	return out, nil
}

// CommitAssignment binds team, project and guide when every precondition
// still holds.
func (s *Store) CommitAssignment(ctx context.Context, a domain.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[a.TeamID]
	if !ok {
		return repository.ErrNotFound
	}
	p, ok := s.projects[a.ProjectID]
	if !ok {
		return repository.ErrNotFound
	}
	guide, ok := s.users[a.GuideID]
	if !ok || guide.Role != domain.RoleFaculty {
		return repository.ErrNotFound
	}
	if p.IsAssigned && p.TeamID != a.TeamID {
		return repository.ErrProjectTaken
	}
	if t.GuideID != "" {
		return repository.ErrTeamAssigned
	}
	if s.guideLoadsLocked()[a.GuideID] >= guide.MaxTeams {
		return repository.ErrFacultyFull
	}
	t.GuideID = a.GuideID
	t.ProjectID = a.ProjectID
	t.Status = domain.TeamStatusAssigned
	t.UpdatedAt = a.AssignedAt
	s.teams[t.ID] = t
	p.IsAssigned = true
	p.GuideID = a.GuideID
	p.TeamID = a.TeamID
	p.Version++
	s.projects[p.ID] = p
	return nil
}

func (s *Store) projectTeam(t domain.Team) domain.Team {
	t.Members = append([]string(nil), t.Members...)
	invites := make([]domain.Invitation, 0)
	for _, inv := range s.invitations {
		if inv.TeamID == t.ID && inv.Status == domain.InvitationPending {
			invites = append(invites, inv)
		}
	}
	sort.Slice(invites, func(i, j int) bool { return invites[i].CreatedAt.Before(invites[j].CreatedAt) })
	t.Invites = make([]string, 0, len(invites))
	for _, inv := range invites {
		t.Invites = append(t.Invites, inv.ID)
	}
	return t
}
