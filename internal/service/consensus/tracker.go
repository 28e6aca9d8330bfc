package consensus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/splax/teamforge/internal/metrics"
)

const defaultSignalBuffer = 64

// Signal announces that a team has just agreed on a project.
type Signal struct {
	TeamID    string
	ProjectID string
}

// Tracker recomputes consensus whenever a team changes and emits one Signal
// per transition into agreement. A later change of mind re-arms the team.
type Tracker struct {
	svc     Service
	logger  *slog.Logger
	metrics *metrics.Recorder
	signals chan Signal

	mu       sync.Mutex
	signaled map[string]string
}

// NewTracker constructs a Tracker whose channel holds up to buffer signals.
func NewTracker(svc Service, buffer int, logger *slog.Logger, rec *metrics.Recorder) *Tracker {
	if buffer <= 0 {
		buffer = defaultSignalBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		svc:      svc,
		logger:   logger.With("component", "consensus_tracker"),
		metrics:  rec,
		signals:  make(chan Signal, buffer),
		signaled: make(map[string]string),
	}
}

// Signals returns the channel consensus signals are delivered on.
func (t *Tracker) Signals() <-chan Signal {
	return t.signals
}

// TeamChanged re-evaluates the team. It never blocks: when the channel is
// full the signal is dropped and the reconcile loop picks the team up later.
func (t *Tracker) TeamChanged(ctx context.Context, teamID string) {
	result, err := t.svc.Check(ctx, teamID)
	if err != nil {
		t.logger.WarnContext(ctx, "consensus check failed", "team_id", teamID, "error", err)
		return
	}

	t.mu.Lock()
	if !result.HasConsensus {
		delete(t.signaled, teamID)
		t.mu.Unlock()
		return
	}
	if t.signaled[teamID] == result.ProjectID {
		t.mu.Unlock()
		return
	}
	t.signaled[teamID] = result.ProjectID
	t.mu.Unlock()

	signal := Signal{TeamID: teamID, ProjectID: result.ProjectID}
	select {
	case t.signals <- signal:
		t.metrics.ConsensusSignal()
		t.logger.InfoContext(ctx, "consensus reached", "team_id", teamID, "project_id", result.ProjectID)
	default:
		t.mu.Lock()
		delete(t.signaled, teamID)
		t.mu.Unlock()
		t.logger.WarnContext(ctx, "consensus signal dropped", "team_id", teamID, "project_id", result.ProjectID)
	}
}

// Forget drops the team's signal state. Assigned teams never signal again,
// so the worker calls this once a team is settled.
func (t *Tracker) Forget(teamID string) {
	t.mu.Lock()
	delete(t.signaled, teamID)
	t.mu.Unlock()
}
