package domain

import "time"

// Role distinguishes students from faculty guides.
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
)

// User represents a person known to the platform. Faculty carry a
// specialization and the maximum number of teams they can guide.
type User struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Name              string     `json:"name"`
	Role              Role       `json:"role"`
	TeamID            string     `json:"team_id,omitempty"`
	SelectedProjectID string     `json:"selected_project_id,omitempty"`
	SelectedAt        *time.Time `json:"selected_at,omitempty"`
	Specialization    string     `json:"specialization,omitempty"`
	MaxTeams          int        `json:"max_teams,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Faculty is a guide together with its current load. The load is always
// derived from team records, never stored.
type Faculty struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Specialization       string `json:"specialization"`
	MaxTeams             int    `json:"max_teams"`
	CurrentAssignedCount int    `json:"current_assigned_count"`
}

// HasCapacity reports whether the guide can take one more team.
func (f Faculty) HasCapacity() bool {
	return f.CurrentAssignedCount < f.MaxTeams
}
