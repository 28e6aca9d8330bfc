package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/teamforge/internal/domain"
	"github.com/splax/teamforge/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository       = (*Repository)(nil)
	_ repository.TeamRepository       = (*Repository)(nil)
	_ repository.InvitationRepository = (*Repository)(nil)
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.AssignmentRepository = (*Repository)(nil)
	_ repository.Store                = (*Repository)(nil)
)

const userColumns = `id, email, name, role, team_id, selected_project_id, selected_at, specialization, max_teams, created_at`

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, name, role, specialization, max_teams, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW())) RETURNING created_at`
	user.Email = domain.NormalizeEmail(user.Email)
	err := r.pool.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		string(user.Role),
		user.Specialization,
		user.MaxTeams,
		nilTime(user.CreatedAt),
	).Scan(&user.CreatedAt)
	return mapPgError(err)
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, domain.NormalizeEmail(email)))
}

// ListFaculty returns faculty ordered by creation time then id.
func (r *Repository) ListFaculty(ctx context.Context) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = 'faculty' ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	faculty := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		faculty = append(faculty, *u)
	}
	return faculty, rows.Err()
}

// SetSelection records a member's project choice.
func (r *Repository) SetSelection(ctx context.Context, selection domain.Selection) error {
	const query = `UPDATE users SET selected_project_id = $2, selected_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, selection.UserID, nilIfEmpty(selection.ProjectID), selection.SelectedAt)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateTeam stores the team, the leader membership and the leader's team
// reference in one transaction.
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var leaderTeam *string
	if err := tx.QueryRow(ctx, `SELECT team_id FROM users WHERE id = $1 FOR UPDATE`, team.LeaderID).Scan(&leaderTeam); err != nil {
		return mapPgError(err)
	}
	if leaderTeam != nil {
		return repository.ErrMemberOfOtherTeam
	}

	const insert = `INSERT INTO teams (id, name, leader_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5) RETURNING number`
	if err := tx.QueryRow(ctx, insert, team.ID, team.Name, team.LeaderID, string(team.Status), team.CreatedAt).Scan(&team.Number); err != nil {
		return mapPgError(err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO team_members (team_id, user_id, joined_at) VALUES ($1, $2, $3)`, team.ID, team.LeaderID, team.CreatedAt); err != nil {
		return mapPgError(err)
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET team_id = $1 WHERE id = $2`, team.ID, team.LeaderID); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	team.Members = []string{team.LeaderID}
	return nil
}

// GetTeamByID returns a team with members and pending invitation ids.
func (r *Repository) GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error) {
	const query = `SELECT id, name, number, leader_id, status, project_id, guide_id, created_at, updated_at
		FROM teams WHERE id = $1`
	team, err := scanTeam(r.pool.QueryRow(ctx, query, teamID))
	if err != nil {
		return nil, err
	}
	if err := r.loadTeamRelations(ctx, team); err != nil {
		return nil, err
	}
	return team, nil
}

// ListTeamsByStatus returns teams with the given status ordered by number.
func (r *Repository) ListTeamsByStatus(ctx context.Context, status domain.TeamStatus) ([]domain.Team, error) {
	const query = `SELECT id, name, number, leader_id, status, project_id, guide_id, created_at, updated_at
		FROM teams WHERE status = $1 ORDER BY number`
	rows, err := r.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, err
	}
	teams := make([]domain.Team, 0)
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		teams = append(teams, *team)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range teams {
		if err := r.loadTeamRelations(ctx, &teams[i]); err != nil {
			return nil, err
		}
	}
	return teams, nil
}

func (r *Repository) loadTeamRelations(ctx context.Context, team *domain.Team) error {
	members, err := collectStrings(ctx, r.pool, `SELECT user_id FROM team_members WHERE team_id = $1 ORDER BY joined_at, user_id`, team.ID)
	if err != nil {
		return err
	}
	invites, err := collectStrings(ctx, r.pool, `SELECT id FROM invitations WHERE team_id = $1 AND status = 'pending' ORDER BY created_at`, team.ID)
	if err != nil {
		return err
	}
	team.Members = members
	team.Invites = invites
	return nil
}

// AddMember adds the user under a row lock on the team.
func (r *Repository) AddMember(ctx context.Context, member domain.TeamMember, admission repository.Admission) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := addMemberTx(ctx, tx, member, admission); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func addMemberTx(ctx context.Context, tx pgx.Tx, member domain.TeamMember, admission repository.Admission) error {
	var teamID string
	if err := tx.QueryRow(ctx, `SELECT id FROM teams WHERE id = $1 FOR UPDATE`, member.TeamID).Scan(&teamID); err != nil {
		return mapPgError(err)
	}
	var current *string
	if err := tx.QueryRow(ctx, `SELECT team_id FROM users WHERE id = $1 FOR UPDATE`, member.UserID).Scan(&current); err != nil {
		return mapPgError(err)
	}
	if current != nil {
		if *current == member.TeamID {
			return nil
		}
		return repository.ErrMemberOfOtherTeam
	}

	var occupied int
	if err := tx.QueryRow(ctx, `SELECT COUNT(1) FROM team_members WHERE team_id = $1`, member.TeamID).Scan(&occupied); err != nil {
		return err
	}
	if admission.CountPending {
		var pending int
		const countPending = `SELECT COUNT(1) FROM invitations
			WHERE team_id = $1 AND status = 'pending' AND expires_at > $2`
		if err := tx.QueryRow(ctx, countPending, member.TeamID, admission.Now).Scan(&pending); err != nil {
			return err
		}
		occupied += pending
	}
	if occupied >= admission.MaxMembers {
		return repository.ErrLimitReached
	}

	const insert = `INSERT INTO team_members (team_id, user_id, joined_at) VALUES ($1, $2, $3)
		ON CONFLICT (team_id, user_id) DO NOTHING`
	if _, err := tx.Exec(ctx, insert, member.TeamID, member.UserID, member.JoinedAt); err != nil {
		return mapPgError(err)
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET team_id = $1 WHERE id = $2`, member.TeamID, member.UserID); err != nil {
		return mapPgError(err)
	}
	if _, err := tx.Exec(ctx, `UPDATE teams SET updated_at = NOW() WHERE id = $1`, member.TeamID); err != nil {
		return err
	}
	return nil
}

// RemoveMember drops the membership and clears the user's team reference and
// selection.
func (r *Repository) RemoveMember(ctx context.Context, teamID, userID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE teams SET updated_at = NOW() WHERE id = $1`, teamID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID); err != nil {
		return err
	}
	const clear = `UPDATE users SET team_id = NULL, selected_project_id = NULL, selected_at = NULL
		WHERE id = $1 AND team_id = $2`
	if _, err := tx.Exec(ctx, clear, userID, teamID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GuideLoads counts assigned teams per guide.
func (r *Repository) GuideLoads(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT guide_id, COUNT(1) FROM teams WHERE guide_id IS NOT NULL GROUP BY guide_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loads := make(map[string]int)
	for rows.Next() {
		var (
			guideID string
			count   int
		)
		if err := rows.Scan(&guideID, &count); err != nil {
			return nil, err
		}
		loads[guideID] = count
	}
	return loads, rows.Err()
}

const invitationColumns = `id, team_id, inviter_id, invitee_kind, invitee_user_id, invited_email, display_name,
	status, created_at, expires_at, responded_at, responded_by`

// CreateInvitation inserts an invitation. The partial unique index on pending
// (team_id, invited_email) surfaces as ErrDuplicate.
func (r *Repository) CreateInvitation(ctx context.Context, inv *domain.Invitation) error {
	const query = `INSERT INTO invitations (id, team_id, inviter_id, invitee_kind, invitee_user_id, invited_email,
		display_name, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query,
		inv.ID,
		inv.TeamID,
		inv.InviterID,
		string(inv.Invitee.Kind),
		nilIfEmpty(inv.Invitee.UserID),
		domain.NormalizeEmail(inv.Invitee.Email),
		inv.DisplayName,
		string(inv.Status),
		inv.CreatedAt,
		inv.ExpiresAt,
	)
	return mapPgError(err)
}

// GetInvitationByID fetches an invitation.
func (r *Repository) GetInvitationByID(ctx context.Context, id string) (*domain.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE id = $1`
	return scanInvitation(r.pool.QueryRow(ctx, query, id))
}

// FindPendingByEmail returns the pending invitation for email in the team.
func (r *Repository) FindPendingByEmail(ctx context.Context, teamID, email string) (*domain.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations
		WHERE team_id = $1 AND invited_email = $2 AND status = 'pending'`
	return scanInvitation(r.pool.QueryRow(ctx, query, teamID, domain.NormalizeEmail(email)))
}

// ListInvitationsByTeam returns every invitation of the team, newest first.
func (r *Repository) ListInvitationsByTeam(ctx context.Context, teamID string) ([]domain.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE team_id = $1 ORDER BY created_at DESC, id DESC`
	return r.listInvitations(ctx, query, teamID)
}

// ListInvitationsForUser returns invitations addressed to the user id or email.
func (r *Repository) ListInvitationsForUser(ctx context.Context, userID, email string) ([]domain.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations
		WHERE ($1 <> '' AND invitee_user_id = $1) OR ($2 <> '' AND invited_email = $2)
		ORDER BY created_at DESC, id DESC`
	return r.listInvitations(ctx, query, userID, domain.NormalizeEmail(email))
}

func (r *Repository) listInvitations(ctx context.Context, query string, args ...any) ([]domain.Invitation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invitations := make([]domain.Invitation, 0)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, *inv)
	}
	return invitations, rows.Err()
}

// CountPending counts unexpired pending invitations for the team.
func (r *Repository) CountPending(ctx context.Context, teamID string, now time.Time) (int, error) {
	const query = `SELECT COUNT(1) FROM invitations WHERE team_id = $1 AND status = 'pending' AND expires_at > $2`
	var count int
	if err := r.pool.QueryRow(ctx, query, teamID, now).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// TransitionInvitation moves a pending invitation to a terminal status.
func (r *Repository) TransitionInvitation(ctx context.Context, id string, to domain.InvitationStatus, respondedBy string, at time.Time) error {
	const query = `UPDATE invitations SET status = $2, responded_at = $3, responded_by = $4
		WHERE id = $1 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, query, id, string(to), at, nilIfEmpty(respondedBy))
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invitations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrNotPending
}

// AcceptInvitation locks the invitation, adds the member and marks it accepted
// in one transaction.
func (r *Repository) AcceptInvitation(ctx context.Context, params repository.AcceptParams) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var (
		teamID string
		status string
	)
	if err := tx.QueryRow(ctx, `SELECT team_id, status FROM invitations WHERE id = $1 FOR UPDATE`, params.InvitationID).Scan(&teamID, &status); err != nil {
		return mapPgError(err)
	}
	if domain.InvitationStatus(status) != domain.InvitationPending {
		return repository.ErrNotPending
	}

	member := domain.TeamMember{TeamID: teamID, UserID: params.UserID, JoinedAt: params.RespondedAt}
	if err := addMemberTx(ctx, tx, member, repository.Admission{MaxMembers: params.MaxMembers, Now: params.RespondedAt}); err != nil {
		return err
	}

	const accept = `UPDATE invitations
		SET status = 'accepted', responded_at = $2, responded_by = $3, invitee_user_id = COALESCE(invitee_user_id, $3)
		WHERE id = $1`
	if _, err := tx.Exec(ctx, accept, params.InvitationID, params.RespondedAt, params.UserID); err != nil {
		return mapPgError(err)
	}
	return tx.Commit(ctx)
}

// ExpirePending marks lapsed pending invitations expired.
func (r *Repository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE invitations SET status = 'expired', responded_at = $1
		WHERE status = 'pending' AND expires_at <= $1`
	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const projectColumns = `id, title, specialization, is_assigned, guide_id, team_id, version, created_at`

// CreateProject inserts a project.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, title, specialization, created_at)
		VALUES ($1, $2, $3, COALESCE($4, NOW())) RETURNING created_at`
	err := r.pool.QueryRow(ctx, query, project.ID, project.Title, project.Specialization, nilTime(project.CreatedAt)).Scan(&project.CreatedAt)
	return mapPgError(err)
}

// GetProjectByID fetches a project.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	return scanProject(r.pool.QueryRow(ctx, query, projectID))
}

// ListProjects returns projects ordered by title.
func (r *Repository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY lower(title), id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// CommitAssignment binds team, project and guide. The team and faculty rows
// are locked and the project is updated with a compare-and-swap predicate.
func (r *Repository) CommitAssignment(ctx context.Context, a domain.Assignment) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var guideID *string
	if err := tx.QueryRow(ctx, `SELECT guide_id FROM teams WHERE id = $1 FOR UPDATE`, a.TeamID).Scan(&guideID); err != nil {
		return mapPgError(err)
	}
	if guideID != nil {
		return repository.ErrTeamAssigned
	}

	var maxTeams int
	if err := tx.QueryRow(ctx, `SELECT max_teams FROM users WHERE id = $1 AND role = 'faculty' FOR UPDATE`, a.GuideID).Scan(&maxTeams); err != nil {
		return mapPgError(err)
	}
	var load int
	if err := tx.QueryRow(ctx, `SELECT COUNT(1) FROM teams WHERE guide_id = $1`, a.GuideID).Scan(&load); err != nil {
		return err
	}
	if load >= maxTeams {
		return repository.ErrFacultyFull
	}

	const claim = `UPDATE projects
		SET is_assigned = TRUE, guide_id = $3, team_id = $2, version = version + 1
		WHERE id = $1 AND (is_assigned = FALSE OR team_id = $2)`
	tag, err := tx.Exec(ctx, claim, a.ProjectID, a.TeamID, a.GuideID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, a.ProjectID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrProjectTaken
	}

	const bind = `UPDATE teams SET guide_id = $2, project_id = $3, status = 'assigned', updated_at = $4
		WHERE id = $1 AND guide_id IS NULL`
	if _, err := tx.Exec(ctx, bind, a.TeamID, a.GuideID, a.ProjectID, a.AssignedAt); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit assignment: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u        domain.User
		role     string
		teamID   *string
		selected *string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &teamID, &selected, &u.SelectedAt, &u.Specialization, &u.MaxTeams, &u.CreatedAt); err != nil {
		return nil, mapPgError(err)
	}
	u.Role = domain.Role(role)
	u.TeamID = deref(teamID)
	u.SelectedProjectID = deref(selected)
	return &u, nil
}

func scanTeam(row rowScanner) (*domain.Team, error) {
	var (
		t         domain.Team
		status    string
		projectID *string
		guideID   *string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Number, &t.LeaderID, &status, &projectID, &guideID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, mapPgError(err)
	}
	t.Status = domain.TeamStatus(status)
	t.ProjectID = deref(projectID)
	t.GuideID = deref(guideID)
	return &t, nil
}

func scanInvitation(row rowScanner) (*domain.Invitation, error) {
	var (
		inv         domain.Invitation
		kind        string
		status      string
		inviteeID   *string
		respondedBy *string
	)
	if err := row.Scan(
		&inv.ID,
		&inv.TeamID,
		&inv.InviterID,
		&kind,
		&inviteeID,
		&inv.Invitee.Email,
		&inv.DisplayName,
		&status,
		&inv.CreatedAt,
		&inv.ExpiresAt,
		&inv.RespondedAt,
		&respondedBy,
	); err != nil {
		return nil, mapPgError(err)
	}
	inv.Invitee.Kind = domain.InviteeKind(kind)
	inv.Invitee.UserID = deref(inviteeID)
	inv.Status = domain.InvitationStatus(status)
	inv.RespondedBy = deref(respondedBy)
	return &inv, nil
}

func scanProject(row rowScanner) (*domain.Project, error) {
	var (
		p       domain.Project
		guideID *string
		teamID  *string
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Specialization, &p.IsAssigned, &guideID, &teamID, &p.Version, &p.CreatedAt); err != nil {
		return nil, mapPgError(err)
	}
	p.GuideID = deref(guideID)
	p.TeamID = deref(teamID)
	return &p, nil
}

func collectStrings(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]string, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make([]string, 0)
	}
	return values, nil
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrDuplicate
		case "23503":
			return repository.ErrNotFound
		case "23514", "22P02":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nilTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
