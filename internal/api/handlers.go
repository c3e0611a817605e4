package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"formacal/internal/reconcile"
	"formacal/internal/sessions"
)

type sessionView struct {
	sessions.LogicalSession
	Label  string `json:"label"`
	Period string `json:"period"`
}

type sessionsResponse struct {
	ProjectID string           `json:"project_id"`
	Sessions  []sessionView    `json:"sessions"`
	Summary   sessions.Summary `json:"summary"`
}

func (s *Server) getSessions(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]

	events, err := s.Events.ListProjectEvents(r.Context(), projectID)
	if err != nil {
		s.Logger.Error("Failed to list project events", "project", projectID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to read events")
		return
	}

	built := s.Builder.Build(events)
	resp := sessionsResponse{
		ProjectID: projectID,
		Sessions:  make([]sessionView, 0, len(built)),
		Summary:   s.Formatter.Summarize(built),
	}
	for _, ls := range built {
		resp.Sessions = append(resp.Sessions, sessionView{
			LogicalSession: ls,
			Label:          sessions.Label(ls),
			Period:         s.Formatter.DateRange(ls.Start, ls.End),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getConsistency(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]

	report, err := s.Analyzer.AnalyzeProject(r.Context(), projectID)
	switch {
	case reconcile.IsPrecondition(err):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.Logger.Error("Failed to analyze project", "project", projectID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to analyze project")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
