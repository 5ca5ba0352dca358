package app

import (
	"net/http"
	"strconv"
	"strings"

	"flowguard/api/internal/collab"
	"flowguard/api/internal/project"
	"flowguard/api/internal/simulation"
)

func locale(r *http.Request) string {
	if value := strings.TrimSpace(r.URL.Query().Get("locale")); value != "" {
		return value
	}
	return strings.TrimSpace(r.Header.Get("Accept-Language"))
}

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, participant Participant, parts []string) {
	if len(parts) == 0 && r.Method == http.MethodPost {
		view, err := s.service.CreateProject(r.Context(), participant, locale(r))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
		return
	}

	if len(parts) == 1 && parts[0] == "join" && r.Method == http.MethodPost {
		var body struct {
			JoinCode string `json:"joinCode"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.JoinProject(r.Context(), participant, body.JoinCode, locale(r))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	code := parts[0]
	rest := parts[1:]

	if len(rest) == 0 && r.Method == http.MethodGet {
		view, err := s.service.GetProject(r.Context(), participant, code, locale(r))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	switch {
	case len(rest) == 1 && rest[0] == "mission-config" && r.Method == http.MethodPut:
		var body struct {
			MissionConfig *simulation.MissionConfig `json:"missionConfig"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SaveMissionConfig(r.Context(), participant, code, body.MissionConfig); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 1 && rest[0] == "polygon" && r.Method == http.MethodPut:
		var body struct {
			Polygon []simulation.LatLng `json:"polygon"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SavePolygon(r.Context(), participant, code, body.Polygon); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 1 && rest[0] == "simulation-result" && r.Method == http.MethodPut:
		var body struct {
			SimulationResult *simulation.Result `json:"simulationResult"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SaveSimulationResult(r.Context(), participant, code, body.SimulationResult); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 2 && (rest[0] == "todo-checks" || rest[0] == "todo-on-site-checks") && r.Method == http.MethodPut:
		var body struct {
			Checked  bool            `json:"checked"`
			Snapshot map[string]bool `json:"snapshot"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		set := s.service.SetTodoCheck
		if rest[0] == "todo-on-site-checks" {
			set = s.service.SetTodoOnSiteCheck
		}
		merged, err := set(r.Context(), participant, code, rest[1], body.Checked, body.Snapshot)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": merged})

	case len(rest) == 2 && (rest[0] == "todo-assignees" || rest[0] == "todo-assignee-other") && r.Method == http.MethodPut:
		var body struct {
			Value    string            `json:"value"`
			Snapshot map[string]string `json:"snapshot"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		set := s.service.SetTodoAssignee
		if rest[0] == "todo-assignee-other" {
			set = s.service.SetTodoAssigneeOther
		}
		merged, err := set(r.Context(), participant, code, rest[1], body.Value, body.Snapshot)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": merged})

	case len(rest) == 1 && rest[0] == "proposal-decisions" && r.Method == http.MethodPost:
		var body struct {
			Key      string                  `json:"key"`
			Decision project.Decision        `json:"decision"`
			Snapshot []project.DecisionEntry `json:"snapshot"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		log, err := s.service.AppendProposalDecision(r.Context(), participant, code, body.Key, body.Decision, body.Snapshot)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": log})

	case len(rest) == 1 && rest[0] == "adopted-proposals" && r.Method == http.MethodPost:
		var body struct {
			Proposal project.AdoptedProposal   `json:"proposal"`
			Snapshot []project.AdoptedProposal `json:"snapshot"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		adopted, err := s.service.AppendAdoptedProposal(r.Context(), participant, code, body.Proposal, body.Snapshot)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": adopted})

	case len(rest) >= 1 && rest[0] == "pins":
		s.handlePins(w, r, participant, code, rest[1:])

	case len(rest) >= 1 && rest[0] == "map-todos":
		s.handleMapTodos(w, r, participant, code, rest[1:])

	case len(rest) >= 1 && (rest[0] == "history" || rest[0] == "snapshots"):
		s.handleHistory(w, r, participant, code, rest)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handlePins(w http.ResponseWriter, r *http.Request, participant Participant, code string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			collab.PinInput
			Snapshot []project.Pin `json:"snapshot"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		pin, pins, err := s.service.AddPin(r.Context(), participant, code, body.PinInput, body.Snapshot)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"pin": pin, "value": pins})

	case len(rest) == 1 && r.Method == http.MethodPatch:
		var body struct {
			collab.PinPatch
			Snapshot []project.Pin `json:"snapshot"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		pins, err := s.service.UpdatePin(r.Context(), participant, code, rest[0], body.PinPatch, body.Snapshot)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": pins})

	case len(rest) == 1 && r.Method == http.MethodDelete:
		var body struct {
			Snapshot []project.Pin `json:"snapshot"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		pins, err := s.service.DeletePin(r.Context(), participant, code, rest[0], body.Snapshot)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": pins})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleMapTodos(w http.ResponseWriter, r *http.Request, participant Participant, code string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			collab.MapTodoInput
			Snapshot *collab.MapTodoView `json:"snapshot"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		todo, view, err := s.service.AddMapTodo(r.Context(), participant, code, body.MapTodoInput, body.Snapshot)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"mapTodo": todo, "value": view})

	case len(rest) == 1 && r.Method == http.MethodDelete:
		var body struct {
			Snapshot *collab.MapTodoView `json:"snapshot"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.DeleteMapTodo(r.Context(), participant, code, rest[0], body.Snapshot)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": view})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, participant Participant, code string, rest []string) {
	switch {
	case len(rest) == 1 && rest[0] == "history" && r.Method == http.MethodGet:
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		items, err := s.service.History(r.Context(), participant, code, limit)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case len(rest) == 1 && rest[0] == "snapshots" && r.Method == http.MethodPost:
		var body struct {
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		commit, created, err := s.service.TakeSnapshot(r.Context(), participant, code, body.Message)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]any{"commit": commit, "created": created})

	case len(rest) == 2 && rest[0] == "snapshots" && r.Method == http.MethodGet:
		diff, err := s.service.GetSnapshot(r.Context(), participant, code, rest[1])
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, diff)

	case len(rest) == 3 && rest[0] == "snapshots" && rest[2] == "tag" && r.Method == http.MethodPost:
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.TagSnapshot(r.Context(), participant, code, rest[1], body.Name); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleSolo(w http.ResponseWriter, r *http.Request, participant Participant, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.service.Solo(participant, locale(r)))

	case len(rest) == 0 && r.Method == http.MethodDelete:
		s.service.SoloReset(participant)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 1 && rest[0] == "simulation-result" && r.Method == http.MethodPut:
		var body struct {
			SimulationResult *simulation.Result `json:"simulationResult"`
			EventDate        string             `json:"eventDate"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.service.SoloSetSimulationResult(participant, body.SimulationResult, body.EventDate)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 2 && rest[0] == "todo-checks" && r.Method == http.MethodPut:
		var body struct {
			Checked bool `json:"checked"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": s.service.SoloSetTodoCheck(participant, rest[1], body.Checked)})

	case len(rest) == 1 && rest[0] == "proposal-decisions" && r.Method == http.MethodPost:
		var body struct {
			Key      string           `json:"key"`
			Decision project.Decision `json:"decision"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		log, err := s.service.SoloAppendProposalDecision(participant, body.Key, body.Decision)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": log})

	case len(rest) == 1 && rest[0] == "adopted-proposals" && r.Method == http.MethodPost:
		var body struct {
			Proposal project.AdoptedProposal `json:"proposal"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		adopted, err := s.service.SoloAppendAdoptedProposal(participant, body.Proposal)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": adopted})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}
