package domain

import "time"

// Project is a unit of work a team can be assigned. IsAssigned flips to true
// at most once.
type Project struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Specialization string    `json:"specialization"`
	IsAssigned     bool      `json:"is_assigned"`
	GuideID        string    `json:"guide_id,omitempty"`
	TeamID         string    `json:"team_id,omitempty"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// Selection is a member's current project choice.
type Selection struct {
	UserID     string
	ProjectID  string
	SelectedAt time.Time
}

// Assignment binds a team, a project and a faculty guide.
type Assignment struct {
	TeamID     string    `json:"team_id"`
	ProjectID  string    `json:"project_id"`
	GuideID    string    `json:"guide_id"`
	AssignedAt time.Time `json:"assigned_at"`
}
