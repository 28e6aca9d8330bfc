package invitation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/splax/teamforge/internal/apperr"
	"github.com/splax/teamforge/internal/domain"
	"github.com/splax/teamforge/internal/notify"
	"github.com/splax/teamforge/internal/repository"
)

// Accept joins the actor to the invitation's team. Invitations that already
// left pending are returned unchanged.
func (s Service) Accept(ctx context.Context, id string, actor Actor) (*Result, error) {
	result, err := s.accept(ctx, id, actor)
	s.metrics.Invitation("accept", resultOutcome(result, err))
	return result, err
}

func (s Service) accept(ctx context.Context, id string, actor Actor) (*Result, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != domain.InvitationPending {
		return &Result{Invitation: inv}, nil
	}
	now := s.now()
	if inv.Lapsed(now) {
		if err := s.expire(ctx, inv.ID, now); err != nil {
			return nil, err
		}
		return nil, apperr.Validation("invitation has expired")
	}

	user, err := s.resolveInvitee(ctx, inv, actor)
	if err != nil {
		return nil, err
	}
	if user.TeamID != "" && user.TeamID != inv.TeamID {
		return nil, apperr.Validation("user already belongs to another team")
	}
	team, err := s.store.GetTeamByID(ctx, inv.TeamID)
	if err != nil {
		return nil, s.storeError(ctx, "load team", err, "team not found")
	}
	if team.Status != domain.TeamStatusForming {
		return nil, apperr.Validation("team is already assigned")
	}
	if !team.HasMember(user.ID) && len(team.Members) >= domain.MaxTeamSize {
		return nil, apperr.New(apperr.KindCapacity, "team is full")
	}

	params := repository.AcceptParams{
		InvitationID: inv.ID,
		UserID:       user.ID,
		MaxMembers:   domain.MaxTeamSize,
		RespondedAt:  now,
	}
	if err := s.store.AcceptInvitation(ctx, params); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotPending):
			current, getErr := s.Get(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			return &Result{Invitation: current}, nil
		case errors.Is(err, repository.ErrLimitReached):
			return nil, apperr.New(apperr.KindCapacity, "team is full")
		case errors.Is(err, repository.ErrMemberOfOtherTeam):
			return nil, apperr.Validation("user already belongs to another team")
		}
		return nil, s.storeError(ctx, "accept invitation", err, "invitation not found")
	}
	s.logger.InfoContext(ctx, "invitation accepted", "invitation_id", inv.ID, "team_id", inv.TeamID, "user_id", user.ID)
	if s.observer != nil {
		s.observer.TeamChanged(ctx, inv.TeamID)
	}

	accepted, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result := &Result{Invitation: accepted}
	if warning := s.notifyInviter(ctx, accepted, team, notify.KindInvitationAccepted, "accepted"); warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}
	return result, nil
}

// Reject declines the invitation. Invitations that already left pending are
// returned unchanged.
func (s Service) Reject(ctx context.Context, id string, actor Actor) (*Result, error) {
	result, err := s.reject(ctx, id, actor)
	s.metrics.Invitation("reject", resultOutcome(result, err))
	return result, err
}

func (s Service) reject(ctx context.Context, id string, actor Actor) (*Result, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != domain.InvitationPending {
		return &Result{Invitation: inv}, nil
	}
	now := s.now()
	if inv.Lapsed(now) {
		if err := s.expire(ctx, inv.ID, now); err != nil {
			return nil, err
		}
		return nil, apperr.Validation("invitation has expired")
	}
	if !s.matchesInvitee(ctx, inv, actor) {
		return nil, apperr.Validation("invitation is addressed to someone else")
	}

	err = s.store.TransitionInvitation(ctx, inv.ID, domain.InvitationRejected, actor.UserID, now)
	if err != nil && !errors.Is(err, repository.ErrNotPending) {
		return nil, s.storeError(ctx, "reject invitation", err, "invitation not found")
	}
	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	result := &Result{Invitation: current}
	if err != nil {
		return result, nil
	}
	s.logger.InfoContext(ctx, "invitation rejected", "invitation_id", inv.ID, "team_id", inv.TeamID, "user_id", actor.UserID)
	team, teamErr := s.store.GetTeamByID(ctx, inv.TeamID)
	if teamErr != nil {
		team = &domain.Team{ID: inv.TeamID}
	}
	if warning := s.notifyInviter(ctx, current, team, notify.KindInvitationRejected, "declined"); warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}
	return result, nil
}

// Cancel withdraws a pending invitation. Only the team leader or the inviter
// may cancel.
func (s Service) Cancel(ctx context.Context, id, actorID string) (*Result, error) {
	result, err := s.cancel(ctx, id, actorID)
	s.metrics.Invitation("cancel", resultOutcome(result, err))
	return result, err
}

func (s Service) cancel(ctx context.Context, id, actorID string) (*Result, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	team, err := s.store.GetTeamByID(ctx, inv.TeamID)
	if err != nil {
		return nil, s.storeError(ctx, "load team", err, "team not found")
	}
	if actorID != team.LeaderID && actorID != inv.InviterID {
		return nil, apperr.Validation("only the team leader or the inviter can cancel an invitation")
	}
	if err := cancellable(inv.Status); err != nil {
		return nil, err
	}
	if inv.Status == domain.InvitationCancelled {
		return &Result{Invitation: inv}, nil
	}

	err = s.store.TransitionInvitation(ctx, inv.ID, domain.InvitationCancelled, actorID, s.now())
	if err != nil && !errors.Is(err, repository.ErrNotPending) {
		return nil, s.storeError(ctx, "cancel invitation", err, "invitation not found")
	}
	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if err != nil {
		if stateErr := cancellable(current.Status); stateErr != nil {
			return nil, stateErr
		}
		return &Result{Invitation: current}, nil
	}
	s.logger.InfoContext(ctx, "invitation cancelled", "invitation_id", inv.ID, "team_id", inv.TeamID, "actor_id", actorID)
	return &Result{Invitation: current}, nil
}

func cancellable(status domain.InvitationStatus) error {
	switch status {
	case domain.InvitationPending, domain.InvitationCancelled:
		return nil
	default:
		return apperr.Newf(apperr.KindValidation, "invitation is already %s", status)
	}
}

// resolveInvitee returns the account accepting inv. Email invitees without an
// account get one created from the actor's identity.
func (s Service) resolveInvitee(ctx context.Context, inv *domain.Invitation, actor Actor) (*domain.User, error) {
	if actor.UserID == "" {
		return nil, apperr.Validation("user id is required")
	}
	if !s.matchesInvitee(ctx, inv, actor) {
		return nil, apperr.Validation("invitation is addressed to someone else")
	}
	user, err := s.store.GetUserByID(ctx, actor.UserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) || inv.Invitee.IsRegistered() {
		return nil, s.storeError(ctx, "load user", err, "user not found")
	}

	user = &domain.User{
		ID:        actor.UserID,
		Email:     inv.Invitee.Email,
		Name:      inv.DisplayName,
		Role:      domain.RoleStudent,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Validation("an account with this email already exists")
		}
		return nil, s.storeError(ctx, "create user", err, "user not found")
	}
	s.logger.InfoContext(ctx, "account created for invitee", "user_id", user.ID, "invitation_id", inv.ID)
	return user, nil
}

func (s Service) matchesInvitee(ctx context.Context, inv *domain.Invitation, actor Actor) bool {
	if inv.Invitee.IsRegistered() {
		return actor.UserID == inv.Invitee.UserID
	}
	email := domain.NormalizeEmail(actor.Email)
	if email == "" && actor.UserID != "" {
		if user, err := s.store.GetUserByID(ctx, actor.UserID); err == nil {
			email = user.Email
		}
	}
	return email != "" && email == inv.Invitee.Email
}

func (s Service) notifyInviter(ctx context.Context, inv *domain.Invitation, team *domain.Team, kind notify.Kind, verb string) string {
	inviter, err := s.store.GetUserByID(ctx, inv.InviterID)
	if err != nil {
		s.logger.WarnContext(ctx, "inviter lookup failed", "invitation_id", inv.ID, "error", err)
		return ""
	}
	name := inv.DisplayName
	if name == "" {
		name = inv.Invitee.Email
	}
	teamName := strings.TrimSpace(team.Name)
	if teamName == "" {
		teamName = "your team"
	}
	msg := notify.Message{
		Kind:         kind,
		Subject:      fmt.Sprintf("%s %s your invitation", name, verb),
		Body:         fmt.Sprintf("%s %s the invitation to join %s.", name, verb, teamName),
		TeamID:       inv.TeamID,
		InvitationID: inv.ID,
		Recipient:    inviter.ID,
		OccurredAt:   s.now(),
	}
	return s.deliver(ctx, inviter.Email, msg)
}

func resultOutcome(result *Result, err error) string {
	if err != nil {
		return outcome(err)
	}
	if result != nil && result.Invitation != nil && len(result.Warnings) == 0 {
		return "ok"
	}
	return "ok_with_warnings"
}
