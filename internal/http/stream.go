package httpx

import (
	"net/http"

	"github.com/splax/teamforge/internal/events"
)

func (r *Router) handleTeamEvents(w http.ResponseWriter, req *http.Request) {
	info, ok := r.actor(w, req)
	if !ok {
		return
	}
	team, ok := r.loadMemberTeam(w, req, info, "only team members can follow team events")
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := r.events.Subscribe(team.ID)
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	stream := events.NewSSEWriter(w, flusher)
	defer stream.Close()
	if err := stream.Heartbeat(); err != nil {
		return
	}
	if err := events.Pump(req.Context(), sub, stream, r.heartbeat); err != nil {
		r.logger.Debug("team event stream closed", "team_id", team.ID, "error", err)
	}
}

func (r *Router) handleTeamEventsWS(w http.ResponseWriter, req *http.Request) {
	info, ok := r.actor(w, req)
	if !ok {
		return
	}
	team, ok := r.loadMemberTeam(w, req, info, "only team members can follow team events")
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	stream := events.NewWSWriter(conn)
	defer stream.Close()
	sub := r.events.Subscribe(team.ID)
	defer sub.Cancel()
	go func() {
		defer sub.Cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	if err := events.Pump(req.Context(), sub, stream, r.heartbeat); err != nil {
		r.logger.Debug("team websocket closed", "team_id", team.ID, "error", err)
	}
}
