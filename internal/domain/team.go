package domain

import "time"

// MaxTeamSize is the fixed number of seats in every team.
const MaxTeamSize = 4

// TeamStatus tracks where a team is in its lifecycle.
type TeamStatus string

const (
	TeamStatusForming  TeamStatus = "forming"
	TeamStatusAssigned TeamStatus = "assigned"
)

// Team represents a bounded group pursuing one project under one faculty guide.
type Team struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Number    int        `json:"number"`
	LeaderID  string     `json:"leader_id"`
	Members   []string   `json:"members"`
	Status    TeamStatus `json:"status"`
	Invites   []string   `json:"invites"`
	ProjectID string     `json:"project_id,omitempty"`
	GuideID   string     `json:"guide_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// HasMember reports whether userID is part of the team.
func (t Team) HasMember(userID string) bool {
	for _, m := range t.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// IsFull reports whether every seat is occupied by a member.
func (t Team) IsFull() bool {
	return len(t.Members) >= MaxTeamSize
}

// TeamMember links a user to a team.
type TeamMember struct {
	TeamID   string
	UserID   string
	JoinedAt time.Time
}

// Capacity summarises how many seats a team has left.
type Capacity struct {
	Current   int  `json:"current"`
	Pending   int  `json:"pending"`
	Max       int  `json:"max"`
	Available int  `json:"available"`
	IsFull    bool `json:"is_full"`
}

// NewCapacity derives a Capacity from member and pending invitation counts.
func NewCapacity(members, pending int) Capacity {
	available := MaxTeamSize - (members + pending)
	if available < 0 {
		available = 0
	}
	return Capacity{
		Current:   members,
		Pending:   pending,
		Max:       MaxTeamSize,
		Available: available,
		IsFull:    available == 0,
	}
}
