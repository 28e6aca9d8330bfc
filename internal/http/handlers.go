package httpx

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/splax/teamforge/internal/domain"
	"github.com/splax/teamforge/internal/service/invitation"
)

func (r *Router) actor(w http.ResponseWriter, req *http.Request) (authInfo, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
	}
	return info, ok
}

func invitationActor(info authInfo) invitation.Actor {
	return invitation.Actor{UserID: info.UserID, Email: info.Email}
}

func (r *Router) handleListProjects(w http.ResponseWriter, req *http.Request) {
	projects, err := r.projects.ListProjects(req.Context())
	if err != nil {
		r.logger.Error("list projects failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if available := strings.TrimSpace(req.URL.Query().Get("available")); available == "true" {
		open := projects[:0]
		for _, p := range projects {
			if !p.IsAssigned {
				open = append(open, p)
			}
		}
		projects = open
	}
	writeData(w, http.StatusOK, "", projects, nil)
}

func (r *Router) handleCreateTeam(w http.ResponseWriter, req *http.Request) {
	info, ok := r.actor(w, req)
	if !ok {
		return
	}
	var payload struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	team, err := r.teams.Create(req.Context(), info.UserID, payload.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, "team created", team, nil)
}

func (r *Router) handleGetTeam(w http.ResponseWriter, req *http.Request) {
	team, err := r.teams.Get(req.Context(), chi.URLParam(req, "teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", team, nil)
}

func (r *Router) handleCapacity(w http.ResponseWriter, req *http.Request) {
	capacity, err := r.teams.Capacity(req.Context(), chi.URLParam(req, "teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", capacity, nil)
}

// loadLedTeam returns the team when the caller leads it.
func (r *Router) loadLedTeam(w http.ResponseWriter, req *http.Request, info authInfo) (*domain.Team, bool) {
	team, err := r.teams.Get(req.Context(), chi.URLParam(req, "teamID"))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	if team.LeaderID != info.UserID {
		r.forbidden(w, "only the team leader can change membership")
		return nil, false
	}
	return team, true
}

func (r *Router) loadMemberTeam(w http.ResponseWriter, req *http.Request, info authInfo, denied string) (*domain.Team, bool) {
	team, err := r.teams.Get(req.Context(), chi.URLParam(req, "teamID"))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	if !team.HasMember(info.UserID) {
		r.forbidden(w, denied)
		return nil, false
	}
	return team, true
}

func (r *Router) handleAddMember(w http.ResponseWriter, req *http.Request) {
	info, ok := r.actor(w, req)
	if !ok {
		return
	}
	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	team, ok := r.loadLedTeam(w, req, info)
	if !ok {
		return
	}
	updated, err := r.teams.AddMember(req.Context(), team.ID, strings.TrimSpace(payload.UserID))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "member added", updated, nil)
}

func (r *Router) handleRemoveMember(w http.ResponseWriter, req *http.Request) {
	info, ok := r.actor(w, req)
	if !ok {
		return
	}
	userID := chi.URLParam(req, "userID")
	teamID := chi.URLParam(req, "teamID")
	if userID != info.UserID {
		if _, ok := r.loadLedTeam(w, req, info); !ok {
			return
		}
	}
	if err := r.teams.RemoveMember(req.Context(), teamID, userID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "member removed", nil, nil)
}

func (r *Router) handleSendInvitation(w http.ResponseWriter, req *http.Request) {
	info, ok := r.actor(w, req)
	if !ok {
		return
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := r.invitations.Send(req.Context(), chi.URLParam(req, "teamID"), info.UserID, payload.Email)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, "invitation sent", result, result.Warnings)
}

func (r *Router) handleTeamInvitations(w http.ResponseWriter, req *http.Request) {
	info, ok := r.actor(w, req)
	if !ok {
		return
	}
	team, ok := r.loadMemberTeam(w, req, info, "only team members can list team invitations")
	if !ok {
		return
	}
	invitations, err := r.invitations.ListByTeam(req.Context(), team.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", invitations, nil)
}

func (r *Router) handleMyInvitations(w http.ResponseWriter, req *http.Request) {
	info, ok := r.actor(w, req)
	if !ok {
		return
	}
	invitations, err := r.invitations.ListForUser(req.Context(), invitationActor(info))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", invitations, nil)
}

func (r *Router) handleRespond(w http.ResponseWriter, req *http.Request) {
	info, ok := r.actor(w, req)
	if !ok {
		return
	}
	id := chi.URLParam(req, "invitationID")
	var (
		result *invitation.Result
		err    error
		want   domain.InvitationStatus
	)
	switch chi.URLParam(req, "action") {
	case "accept":
		result, err = r.invitations.Accept(req.Context(), id, invitationActor(info))
		want = domain.InvitationAccepted
	case "reject":
		result, err = r.invitations.Reject(req.Context(), id, invitationActor(info))
		want = domain.InvitationRejected
	case "cancel":
		result, err = r.invitations.Cancel(req.Context(), id, info.UserID)
		want = domain.InvitationCancelled
	default:
		r.notFound(w)
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, responseMessage(result, want), result, result.Warnings)
}

func (r *Router) handleJoin(w http.ResponseWriter, req *http.Request) {
	info, ok := r.actor(w, req)
	if !ok {
		return
	}
	action := req.URL.Query().Get("action")
	result, err := r.invitations.FollowLink(req.Context(), chi.URLParam(req, "token"), action, invitationActor(info))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	msg := ""
	switch action {
	case invitation.ActionAccept:
		msg = responseMessage(result, domain.InvitationAccepted)
	case invitation.ActionReject:
		msg = responseMessage(result, domain.InvitationRejected)
	}
	writeData(w, http.StatusOK, msg, result, result.Warnings)
}

// responseMessage reports the stored status when a response was a no-op on
// an invitation that had already left pending.
func responseMessage(result *invitation.Result, want domain.InvitationStatus) string {
	if result == nil || result.Invitation == nil || result.Invitation.Status == want {
		return "invitation " + string(want)
	}
	return "invitation already " + string(result.Invitation.Status)
}

func (r *Router) handleSelect(w http.ResponseWriter, req *http.Request) {
	info, ok := r.actor(w, req)
	if !ok {
		return
	}
	var payload struct {
		ProjectID string `json:"project_id"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.ProjectID) == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	selection, err := r.consensus.RecordSelection(req.Context(), info.UserID, strings.TrimSpace(payload.ProjectID))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "selection recorded", map[string]any{
		"user_id":     selection.UserID,
		"project_id":  selection.ProjectID,
		"selected_at": selection.SelectedAt,
	}, nil)
}

func (r *Router) handleSelections(w http.ResponseWriter, req *http.Request) {
	selections, err := r.consensus.GetSelections(req.Context(), chi.URLParam(req, "teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", selections, nil)
}

func (r *Router) handleConsensus(w http.ResponseWriter, req *http.Request) {
	result, err := r.consensus.Check(req.Context(), chi.URLParam(req, "teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", result, nil)
}

func (r *Router) handleAssign(w http.ResponseWriter, req *http.Request) {
	info, ok := r.actor(w, req)
	if !ok {
		return
	}
	team, ok := r.loadMemberTeam(w, req, info, "only team members can request an assignment")
	if !ok {
		return
	}
	assignment, err := r.assignment.AssignIfConsensus(req.Context(), team.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "team assigned", assignment, nil)
}
