// Package client is a typed HTTP client for the teamforge API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "http://localhost:4000"

// Client talks to the teamforge API on behalf of one user session.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option adjusts a Client built by New.
type Option func(*Client)

// WithHTTPClient swaps the transport, mostly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout bounds every request made by the client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// New returns a client for the API at base. A bare host is treated as
// plain http and an empty base points at the local development server.
func New(base string, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(base)
	switch {
	case raw == "":
		raw = defaultBaseURL
	case !strings.Contains(raw, "://"):
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse api address %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api address %q must use http or https", base)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	c := &Client{baseURL: u.String(), httpClient: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalised API address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is a failure reported by the API envelope.
type APIError struct {
	Status   int
	Message  string
	Warnings []string
}

func (e APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("teamforge api: %s (HTTP %d)", msg, e.Status)
}

type envelope struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data"`
	Warnings []string        `json:"warnings"`
}

// call performs one request and decodes the envelope data into T.
func call[T any](ctx context.Context, c *Client, method, path, token string, body any) (T, error) {
	var out T
	env, err := c.roundTrip(ctx, method, path, token, body)
	if err != nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return out, err
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("%s %s: decode data: %w", method, path, err)
	}
	return out, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, body any) (envelope, error) {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return envelope{}, fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		payload = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return envelope{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return envelope{}, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return envelope{}, APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return envelope{}, fmt.Errorf("%s %s: decode envelope: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		return envelope{}, APIError{Status: resp.StatusCode, Message: env.Message, Warnings: env.Warnings}
	}
	return env, nil
}

// Team is a group of up to four students.
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Number    int       `json:"number"`
	LeaderID  string    `json:"leader_id"`
	Members   []string  `json:"members"`
	Status    string    `json:"status"`
	Invites   []string  `json:"invites"`
	ProjectID string    `json:"project_id,omitempty"`
	GuideID   string    `json:"guide_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Capacity reports the seats a team has left.
type Capacity struct {
	Current   int  `json:"current"`
	Pending   int  `json:"pending"`
	Max       int  `json:"max"`
	Available int  `json:"available"`
	IsFull    bool `json:"is_full"`
}

// Invitee is the target of an invitation.
type Invitee struct {
	Kind   string `json:"kind"`
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email"`
}

// Invitation proposes that a candidate joins a team.
type Invitation struct {
	ID          string     `json:"id"`
	TeamID      string     `json:"team_id"`
	InviterID   string     `json:"inviter_id"`
	Invitee     Invitee    `json:"invitee"`
	DisplayName string     `json:"display_name"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// InvitationResult wraps an invitation with its link and degraded side effects.
type InvitationResult struct {
	Invitation *Invitation `json:"invitation"`
	Link       string      `json:"link,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// Project is a unit of work a team can be assigned.
type Project struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Specialization string `json:"specialization"`
	IsAssigned     bool   `json:"is_assigned"`
	GuideID        string `json:"guide_id,omitempty"`
	TeamID         string `json:"team_id,omitempty"`
}

// Consensus is a team's agreement state.
type Consensus struct {
	TeamID       string             `json:"team_id"`
	HasConsensus bool               `json:"has_consensus"`
	ProjectID    string             `json:"project_id,omitempty"`
	Selections   map[string]*string `json:"selections"`
}

// Assignment binds a team, a project and a guide.
type Assignment struct {
	TeamID     string    `json:"team_id"`
	ProjectID  string    `json:"project_id"`
	GuideID    string    `json:"guide_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Health pings the API.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.roundTrip(ctx, http.MethodGet, "/healthz", "", nil)
	return err
}

// ListProjects returns the project catalog, optionally only unassigned ones.
func (c *Client) ListProjects(ctx context.Context, token string, availableOnly bool) ([]Project, error) {
	path := "/projects"
	if availableOnly {
		path += "?available=true"
	}
	return call[[]Project](ctx, c, http.MethodGet, path, token, nil)
}

// CreateTeam registers a team led by the caller.
func (c *Client) CreateTeam(ctx context.Context, token, name string) (Team, error) {
	return call[Team](ctx, c, http.MethodPost, "/teams", token, map[string]string{"name": name})
}

// GetTeam fetches a team.
func (c *Client) GetTeam(ctx context.Context, token, teamID string) (Team, error) {
	return call[Team](ctx, c, http.MethodGet, teamPath(teamID, ""), token, nil)
}

// Capacity fetches a team's seat usage.
func (c *Client) Capacity(ctx context.Context, token, teamID string) (Capacity, error) {
	return call[Capacity](ctx, c, http.MethodGet, teamPath(teamID, "/capacity"), token, nil)
}

// AddMember adds userID to the team.
func (c *Client) AddMember(ctx context.Context, token, teamID, userID string) (Team, error) {
	return call[Team](ctx, c, http.MethodPost, teamPath(teamID, "/members"), token, map[string]string{"user_id": userID})
}

// RemoveMember removes userID from the team.
func (c *Client) RemoveMember(ctx context.Context, token, teamID, userID string) error {
	_, err := c.roundTrip(ctx, http.MethodDelete, teamPath(teamID, "/members/"+url.PathEscape(userID)), token, nil)
	return err
}

// SendInvitation invites email to the team.
func (c *Client) SendInvitation(ctx context.Context, token, teamID, email string) (InvitationResult, error) {
	return call[InvitationResult](ctx, c, http.MethodPost, teamPath(teamID, "/invitations"), token, map[string]string{"email": email})
}

// TeamInvitations lists every invitation of a team.
func (c *Client) TeamInvitations(ctx context.Context, token, teamID string) ([]Invitation, error) {
	return call[[]Invitation](ctx, c, http.MethodGet, teamPath(teamID, "/invitations"), token, nil)
}

// MyInvitations lists invitations addressed to the caller.
func (c *Client) MyInvitations(ctx context.Context, token string) ([]Invitation, error) {
	return call[[]Invitation](ctx, c, http.MethodGet, "/invitations", token, nil)
}

// RespondInvitation applies accept, reject or cancel to an invitation.
func (c *Client) RespondInvitation(ctx context.Context, token, invitationID, action string) (InvitationResult, error) {
	path := "/invitations/" + url.PathEscape(invitationID) + "/" + url.PathEscape(action)
	return call[InvitationResult](ctx, c, http.MethodPost, path, token, nil)
}

// SelectProject records the caller's project choice.
func (c *Client) SelectProject(ctx context.Context, token, projectID string) error {
	_, err := c.roundTrip(ctx, http.MethodPut, "/selection", token, map[string]string{"project_id": projectID})
	return err
}

// Consensus reports whether the team agrees on a project.
func (c *Client) Consensus(ctx context.Context, token, teamID string) (Consensus, error) {
	return call[Consensus](ctx, c, http.MethodGet, teamPath(teamID, "/consensus"), token, nil)
}

// Assign asks the API to assign the team's agreed project and a guide.
func (c *Client) Assign(ctx context.Context, token, teamID string) (Assignment, error) {
	return call[Assignment](ctx, c, http.MethodPost, teamPath(teamID, "/assignment"), token, nil)
}

func teamPath(teamID, suffix string) string {
	return "/teams/" + url.PathEscape(teamID) + suffix
}
