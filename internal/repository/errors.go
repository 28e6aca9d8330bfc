package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate indicates a uniqueness constraint rejected the write.
	ErrDuplicate = errors.New("repository: duplicate")
	// ErrInvalidArgument indicates the store rejected malformed input.
	ErrInvalidArgument = errors.New("repository: invalid argument")
	// ErrLimitReached indicates a team has no seat left for a new member.
	ErrLimitReached = errors.New("repository: team limit reached")
	// ErrMemberOfOtherTeam indicates the user already belongs to another team.
	ErrMemberOfOtherTeam = errors.New("repository: user belongs to another team")
	// ErrNotPending indicates an invitation already left the pending state.
	ErrNotPending = errors.New("repository: invitation not pending")
	// ErrProjectTaken indicates another team already holds the project.
	ErrProjectTaken = errors.New("repository: project already assigned")
	// ErrTeamAssigned indicates the team already has a guide.
	ErrTeamAssigned = errors.New("repository: team already assigned")
	// ErrFacultyFull indicates the guide reached max teams.
	ErrFacultyFull = errors.New("repository: faculty at capacity")
)
