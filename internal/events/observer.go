package events

import "context"

// TeamObserver is told when anything about a team changes.
type TeamObserver interface {
	TeamChanged(ctx context.Context, teamID string)
}

// Observers calls every observer in order.
type Observers []TeamObserver

// TeamChanged forwards to each non-nil observer.
func (o Observers) TeamChanged(ctx context.Context, teamID string) {
	for _, obs := range o {
		if obs != nil {
			obs.TeamChanged(ctx, teamID)
		}
	}
}
