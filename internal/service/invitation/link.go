package invitation

import (
	"context"
	"errors"
	"strings"

	"github.com/splax/teamforge/internal/apperr"
	"github.com/splax/teamforge/internal/domain"
	jwtpkg "github.com/splax/teamforge/pkg/jwt"
)

// Link actions accepted by FollowLink.
const (
	ActionView   = ""
	ActionAccept = "accept"
	ActionReject = "reject"
)

// LinkTarget is the decoded content of an invitation link.
type LinkTarget struct {
	TeamID       string `json:"team_id"`
	InvitationID string `json:"invitation_id"`
}

// Link returns the shareable join URL for inv.
func (s Service) Link(inv *domain.Invitation) (string, error) {
	if s.cfg.LinkSecret == "" {
		return "", errors.New("invitation link secret not configured")
	}
	token, err := jwtpkg.GenerateInviteLink(inv.TeamID, inv.ID, s.cfg.LinkSecret, inv.ExpiresAt)
	if err != nil {
		return "", err
	}
	return s.cfg.BaseURL + "/join/" + token, nil
}

// ResolveLink verifies a link token and checks that the invitation still
// belongs to the encoded team.
func (s Service) ResolveLink(ctx context.Context, token string) (*LinkTarget, *domain.Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" || s.cfg.LinkSecret == "" {
		return nil, nil, apperr.Validation("invalid invitation link")
	}
	claims, err := jwtpkg.ParseInviteLink(token, s.cfg.LinkSecret)
	if err != nil {
		s.logger.WarnContext(ctx, "invitation link rejected", "error", err)
		return nil, nil, apperr.Validation("invalid invitation link")
	}
	inv, err := s.Get(ctx, claims.InvitationID)
	if err != nil {
		return nil, nil, err
	}
	if inv.TeamID != claims.TeamID {
		return nil, nil, apperr.Validation("invalid invitation link")
	}
	return &LinkTarget{TeamID: claims.TeamID, InvitationID: claims.InvitationID}, inv, nil
}

// FollowLink resolves token and applies the optional one-click action.
func (s Service) FollowLink(ctx context.Context, token, action string, actor Actor) (*Result, error) {
	_, inv, err := s.ResolveLink(ctx, token)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionView:
		return &Result{Invitation: inv}, nil
	case ActionAccept:
		return s.Accept(ctx, inv.ID, actor)
	case ActionReject:
		return s.Reject(ctx, inv.ID, actor)
	default:
		return nil, apperr.Validation("action must be accept or reject")
	}
}
