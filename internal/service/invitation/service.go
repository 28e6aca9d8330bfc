// Package invitation implements the per-candidate invitation lifecycle:
// pending invitations move once, and only once, to accepted, rejected,
// cancelled or expired.
package invitation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/teamforge/internal/apperr"
	"github.com/splax/teamforge/internal/domain"
	"github.com/splax/teamforge/internal/metrics"
	"github.com/splax/teamforge/internal/notify"
	"github.com/splax/teamforge/internal/repository"
)

const defaultTTL = 7 * 24 * time.Hour

// Store is the persistence the invitation service needs.
type Store interface {
	repository.UserRepository
	repository.InvitationRepository
	GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error)
}

// Observer is told when an acceptance changes a team's membership.
type Observer interface {
	TeamChanged(ctx context.Context, teamID string)
}

// Config controls invitation expiry and link generation.
type Config struct {
	TTL        time.Duration
	LinkSecret string
	BaseURL    string
}

// Actor identifies the caller responding to an invitation.
type Actor struct {
	UserID string
	Email  string
}

// Result is returned by every mutating operation. Warnings carry degraded
// side effects such as failed notifications.
type Result struct {
	Invitation *domain.Invitation `json:"invitation"`
	Link       string             `json:"link,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// Service manages invitations.
type Service struct {
	store    Store
	sender   notify.Sender
	logger   *slog.Logger
	metrics  *metrics.Recorder
	observer Observer
	cfg      Config
	now      func() time.Time
}

// New constructs a Service. A nil sender disables notifications.
func New(store Store, sender notify.Sender, logger *slog.Logger, cfg Config) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return Service{
		store:  store,
		sender: sender,
		logger: logger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics returns a copy of the service that records outcomes.
func (s Service) WithMetrics(r *metrics.Recorder) Service {
	s.metrics = r
	return s
}

// WithObserver returns a copy of the service that reports membership changes.
func (s Service) WithObserver(o Observer) Service {
	s.observer = o
	return s
}

// WithClock returns a copy of the service using now as its time source.
func (s Service) WithClock(now func() time.Time) Service {
	s.now = now
	return s
}

// Send invites email to join teamID on behalf of inviterID.
func (s Service) Send(ctx context.Context, teamID, inviterID, email string) (*Result, error) {
	result, err := s.send(ctx, teamID, inviterID, email)
	s.metrics.Invitation("send", outcome(err))
	return result, err
}

func (s Service) send(ctx context.Context, teamID, inviterID, email string) (*Result, error) {
	email = domain.NormalizeEmail(email)
	if !validEmail(email) {
		return nil, apperr.Validation("a valid email address is required")
	}
	team, err := s.store.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, s.storeError(ctx, "load team", err, "team not found")
	}
	if !team.HasMember(inviterID) {
		return nil, apperr.Validation("only team members can send invitations")
	}
	if team.Status != domain.TeamStatusForming {
		return nil, apperr.Validation("team is already assigned")
	}

	now := s.now()
	if existing, err := s.store.FindPendingByEmail(ctx, teamID, email); err == nil {
		if !existing.Lapsed(now) {
			return nil, apperr.Newf(apperr.KindDuplicate, "a pending invitation for %s already exists", email)
		}
		if err := s.expire(ctx, existing.ID, now); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, s.storeError(ctx, "find pending invitation", err, "team not found")
	}

	pending, err := s.store.CountPending(ctx, teamID, now)
	if err != nil {
		return nil, s.storeError(ctx, "count pending invitations", err, "team not found")
	}
	if len(team.Members)+pending >= domain.MaxTeamSize {
		return nil, apperr.New(apperr.KindCapacity, "team has no free seats")
	}

	invitee := domain.PendingEmailInvitee(email)
	displayName := DisplayName(email)
	user, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if team.HasMember(user.ID) {
			return nil, apperr.Validation("user is already a member of this team")
		}
		invitee = domain.RegisteredInvitee(user.ID, email)
		if strings.TrimSpace(user.Name) != "" {
			displayName = user.Name
		}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, s.storeError(ctx, "lookup invitee", err, "user not found")
	}

	inv := &domain.Invitation{
		ID:          uuid.NewString(),
		TeamID:      teamID,
		InviterID:   inviterID,
		Invitee:     invitee,
		DisplayName: displayName,
		Status:      domain.InvitationPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.TTL),
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Newf(apperr.KindDuplicate, "a pending invitation for %s already exists", email)
		}
		return nil, s.storeError(ctx, "create invitation", err, "team not found")
	}
	s.logger.InfoContext(ctx, "invitation sent",
		"invitation_id", inv.ID,
		"team_id", teamID,
		"inviter_id", inviterID,
		"invitee", invitee.Key(),
	)

	result := &Result{Invitation: inv}
	link, err := s.Link(inv)
	if err != nil {
		s.logger.WarnContext(ctx, "build invitation link failed", "invitation_id", inv.ID, "error", err)
		result.Warnings = append(result.Warnings, "invitation saved but no link could be generated")
	}
	result.Link = link

	msg := notify.Message{
		Kind:         notify.KindInvitationSent,
		Subject:      fmt.Sprintf("You are invited to join %s", team.Name),
		Body:         fmt.Sprintf("Hi %s, you have been invited to join team %s.", displayName, team.Name),
		Link:         link,
		TeamID:       teamID,
		InvitationID: inv.ID,
		Recipient:    invitee.Key(),
		OccurredAt:   now,
	}
	if warning := s.deliver(ctx, email, msg); warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}
	return result, nil
}

// Get returns one invitation.
func (s Service) Get(ctx context.Context, id string) (*domain.Invitation, error) {
	inv, err := s.store.GetInvitationByID(ctx, id)
	if err != nil {
		return nil, s.storeError(ctx, "load invitation", err, "invitation not found")
	}
	return inv, nil
}

// ListByTeam returns every invitation of the team, newest first.
func (s Service) ListByTeam(ctx context.Context, teamID string) ([]domain.Invitation, error) {
	if _, err := s.store.GetTeamByID(ctx, teamID); err != nil {
		return nil, s.storeError(ctx, "load team", err, "team not found")
	}
	invitations, err := s.store.ListInvitationsByTeam(ctx, teamID)
	if err != nil {
		return nil, s.storeError(ctx, "list invitations", err, "team not found")
	}
	return invitations, nil
}

// ListForUser returns invitations addressed to the actor by id or email.
func (s Service) ListForUser(ctx context.Context, actor Actor) ([]domain.Invitation, error) {
	email := domain.NormalizeEmail(actor.Email)
	if email == "" && actor.UserID != "" {
		if user, err := s.store.GetUserByID(ctx, actor.UserID); err == nil {
			email = user.Email
		}
	}
	if actor.UserID == "" && email == "" {
		return nil, apperr.Validation("user id or email is required")
	}
	invitations, err := s.store.ListInvitationsForUser(ctx, actor.UserID, email)
	if err != nil {
		return nil, s.storeError(ctx, "list invitations", err, "user not found")
	}
	return invitations, nil
}

// ExpireStale marks pending invitations past their expiry as expired.
func (s Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ExpirePending(ctx, s.now())
	if err != nil {
		return 0, s.storeError(ctx, "expire invitations", err, "invitation not found")
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "invitations expired", "count", n)
	}
	return n, nil
}

func (s Service) expire(ctx context.Context, id string, now time.Time) error {
	err := s.store.TransitionInvitation(ctx, id, domain.InvitationExpired, "", now)
	if err != nil && !errors.Is(err, repository.ErrNotPending) {
		return s.storeError(ctx, "expire invitation", err, "invitation not found")
	}
	s.metrics.Invitation("expire", "ok")
	return nil
}

// deliver sends msg and returns a warning when delivery failed.
func (s Service) deliver(ctx context.Context, address string, msg notify.Message) string {
	if s.sender == nil || address == "" {
		return ""
	}
	if err := s.sender.Send(ctx, address, msg); err != nil {
		s.logger.WarnContext(ctx, "notification delivery failed",
			"kind", msg.Kind,
			"invitation_id", msg.InvitationID,
			"error", err,
		)
		s.metrics.NotifyFailure(string(msg.Kind))
		return "notification could not be delivered"
	}
	return ""
}

func (s Service) storeError(ctx context.Context, op string, err error, notFound string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(notFound)
	}
	s.logger.ErrorContext(ctx, "invitation store failure", "op", op, "error", err)
	return apperr.Wrap(apperr.KindInternal, "internal error", err)
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.KindOf(err))
}
