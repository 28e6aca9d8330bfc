package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// InvitationStatus is the lifecycle state of an invitation.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationRejected  InvitationStatus = "rejected"
	InvitationCancelled InvitationStatus = "cancelled"
	InvitationExpired   InvitationStatus = "expired"
)

// IsTerminal reports whether no further transition may be applied.
func (s InvitationStatus) IsTerminal() bool {
	return s != InvitationPending
}

// InviteeKind tags the Invitee variant.
type InviteeKind string

const (
	InviteeRegistered   InviteeKind = "registered"
	InviteePendingEmail InviteeKind = "pending_email"
)

// Invitee is either a registered user or a bare email address that has no
// account yet.
type Invitee struct {
	Kind   InviteeKind `json:"kind"`
	UserID string      `json:"user_id,omitempty"`
	Email  string      `json:"email"`
}

// RegisteredInvitee targets an existing account.
func RegisteredInvitee(userID, email string) Invitee {
	return Invitee{Kind: InviteeRegistered, UserID: userID, Email: NormalizeEmail(email)}
}

// PendingEmailInvitee targets an address without an account.
func PendingEmailInvitee(email string) Invitee {
	return Invitee{Kind: InviteePendingEmail, Email: NormalizeEmail(email)}
}

// IsRegistered reports whether the invitee already has an account.
func (i Invitee) IsRegistered() bool {
	return i.Kind == InviteeRegistered && i.UserID != ""
}

// Key identifies the invitee for listings and notification payloads.
func (i Invitee) Key() string {
	if i.IsRegistered() {
		return i.UserID
	}
	return PlaceholderID(i.Email)
}

// Invitation proposes that one candidate joins one team.
type Invitation struct {
	ID          string           `json:"id"`
	TeamID      string           `json:"team_id"`
	InviterID   string           `json:"inviter_id"`
	Invitee     Invitee          `json:"invitee"`
	DisplayName string           `json:"display_name"`
	Status      InvitationStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
	RespondedAt *time.Time       `json:"responded_at,omitempty"`
	RespondedBy string           `json:"responded_by,omitempty"`
}

// Lapsed reports whether a pending invitation is past its expiry.
func (i Invitation) Lapsed(now time.Time) bool {
	return i.Status == InvitationPending && !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PlaceholderID returns a deterministic identity for an address that has no
// account. The same address always yields the same value.
func PlaceholderID(email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return "pending-" + hex.EncodeToString(sum[:8])
}
