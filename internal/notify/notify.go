// Package notify delivers best-effort notifications about invitations and
// assignments. Callers treat every Sender failure as a warning.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Kind names a notification template.
type Kind string

const (
	KindInvitationSent     Kind = "invitation_sent"
	KindInvitationAccepted Kind = "invitation_accepted"
	KindInvitationRejected Kind = "invitation_rejected"
	KindTeamAssigned       Kind = "team_assigned"
)

// Message is the payload handed to a Sender.
type Message struct {
	Kind         Kind      `json:"kind"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	Link         string    `json:"link,omitempty"`
	TeamID       string    `json:"team_id,omitempty"`
	InvitationID string    `json:"invitation_id,omitempty"`
	Recipient    string    `json:"recipient,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Sender delivers a message to an address.
type Sender interface {
	Send(ctx context.Context, address string, msg Message) error
}

// LogSender writes messages to the logger instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a Sender that only logs.
func NewLogSender(logger *slog.Logger) LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return LogSender{logger: logger}
}

// Send logs the message.
func (s LogSender) Send(ctx context.Context, address string, msg Message) error {
	s.logger.InfoContext(ctx, "notification",
		"kind", msg.Kind,
		"address", address,
		"team_id", msg.TeamID,
		"invitation_id", msg.InvitationID,
		"subject", msg.Subject,
	)
	return nil
}
