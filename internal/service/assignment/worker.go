package assignment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/splax/teamforge/internal/apperr"
	"github.com/splax/teamforge/internal/domain"
	"github.com/splax/teamforge/internal/service/consensus"
)

const (
	attemptTimeout        = 15 * time.Second
	defaultReconcileEvery = time.Minute
)

// Forgetter drops per-team bookkeeping once the team is assigned.
type Forgetter interface {
	Forget(teamID string)
}

// Worker assigns teams as consensus signals arrive.
type Worker struct {
	svc    Service
	logger *slog.Logger
	forget Forgetter
}

// NewWorker constructs a Worker.
func NewWorker(svc Service, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{svc: svc, logger: logger.With("component", "assignment_worker")}
}

// WithForgetter makes the worker release f's state for every team it assigns.
func (w *Worker) WithForgetter(f Forgetter) *Worker {
	w.forget = f
	return w
}

// Run consumes signals until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context, signals <-chan consensus.Signal) {
	w.logger.Info("assignment worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("assignment worker stopped")
			return
		case sig, ok := <-signals:
			if !ok {
				w.logger.Info("assignment worker signal channel closed")
				return
			}
			w.handle(ctx, sig)
		}
	}
}

func (w *Worker) handle(ctx context.Context, sig consensus.Signal) {
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()
	assignment, err := w.svc.AssignIfConsensus(attemptCtx, sig.TeamID)
	logAttempt(w.logger, sig.TeamID, assignment, err)
	if err == nil && w.forget != nil {
		w.forget.Forget(sig.TeamID)
	}
}

// Reconciler periodically assigns full forming teams that already agree. It
// recovers signals lost to restarts or a full signal buffer.
type Reconciler struct {
	svc      Service
	interval time.Duration
	logger   *slog.Logger
}

// NewReconciler constructs a Reconciler. Non-positive intervals default to a
// minute.
func NewReconciler(svc Service, interval time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = defaultReconcileEvery
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{svc: svc, interval: interval, logger: logger.With("component", "assignment_reconciler")}
}

// Run reconciles on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("assignment reconciler started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("assignment reconciler stopped")
			return
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile runs one pass and returns the number of teams assigned.
func (r *Reconciler) Reconcile(ctx context.Context) int {
	teams, err := r.svc.store.ListTeamsByStatus(ctx, domain.TeamStatusForming)
	if err != nil {
		r.logger.Error("list forming teams failed", "error", err)
		return 0
	}
	assigned := 0
	for _, team := range teams {
		if len(team.Members) != domain.MaxTeamSize || team.GuideID != "" {
			continue
		}
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		assignment, err := r.svc.AssignIfConsensus(attemptCtx, team.ID)
		cancel()
		if errors.Is(err, apperr.ErrValidation) {
			continue
		}
		logAttempt(r.logger, team.ID, assignment, err)
		if err == nil {
			assigned++
		}
	}
	return assigned
}

func logAttempt(logger *slog.Logger, teamID string, assignment *domain.Assignment, err error) {
	switch {
	case err == nil:
		logger.Info("assignment complete", "team_id", teamID, "project_id", assignment.ProjectID, "guide_id", assignment.GuideID)
	case errors.Is(err, apperr.ErrProjectAlreadyAssigned):
		logger.Warn("project lost to another team, team must reselect", "team_id", teamID, "error", err)
	case errors.Is(err, apperr.ErrNoCapacity):
		logger.Warn("no guide capacity for team", "team_id", teamID)
	case errors.Is(err, apperr.ErrValidation):
		logger.Info("team no longer at consensus", "team_id", teamID)
	default:
		logger.Error("assignment failed", "team_id", teamID, "error", err)
	}
}
