package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"flowguard/api/internal/archive"
	"flowguard/api/internal/auth"
	"flowguard/api/internal/collab"
	"flowguard/api/internal/export"
	"flowguard/api/internal/metrics"
	"flowguard/api/internal/riskapi"
	"flowguard/api/internal/session"
	"flowguard/api/internal/simulation"
	"flowguard/api/internal/store"
	"flowguard/api/internal/whatif"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sharing": s.service.SharingEnabled()})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		token, participant, err := s.service.StartSession(body.Name)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"token":         token,
			"participantId": participant.ID,
			"name":          participant.Name,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		participant, err := s.service.ParticipantFromToken(token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		payload := map[string]any{
			"authenticated": true,
			"participantId": participant.ID,
			"name":          participant.Name,
			"activeProject": nil,
		}
		if active, err := s.service.ActiveProject(r.Context(), participant); err == nil {
			payload["activeProject"] = active
		} else if !errors.Is(err, session.ErrNoActiveProject) {
			s.logger.Warn("lookup active project", zap.String("participant_id", participant.ID), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)

	// Browsers cannot set headers on a websocket handshake, so the live feed also accepts
	// the token as a query parameter.
	if r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "api" && parts[1] == "projects" && parts[3] == "live" {
		s.handleLive(w, r, parts[2])
		return
	}

	participant, ok := s.requireParticipant(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodDelete && r.URL.Path == "/api/session/active-project" {
		if err := s.service.LeaveProject(r.Context(), participant); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "projects" {
		s.handleProjects(w, r, participant, parts[2:])
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "solo" {
		s.handleSolo(w, r, participant, parts[2:])
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/simulate" {
		var body SimulateInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.Simulate(r.Context(), participant, body)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/validate" {
		var body riskapi.ValidateRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.Validate(r.Context(), body)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/templates" {
		templates, err := s.service.Templates(r.Context())
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/translate" {
		var body struct {
			Result *simulation.Result `json:"result"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		translated, err := s.service.Translate(r.Context(), body.Result)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, translated)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/assist" {
		var body struct {
			Question string                 `json:"question"`
			Context  *riskapi.AssistContext `json:"context"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		answer, err := s.service.Assist(r.Context(), body.Question, body.Context)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"answer": answer})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/report/text" {
		var body riskapi.ReportRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		text, err := s.service.ReportText(r.Context(), body)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"text": text})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/report/pdf" {
		var body riskapi.ReportRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		query := r.URL.Query()
		file, err := s.service.ReportPDF(r.Context(), participant, query.Get("joinCode"), body, export.ParseVariant(query.Get("variant")))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		if file.URL != "" {
			writeJSON(w, http.StatusOK, file)
			return
		}
		w.Header().Set("Content-Type", file.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, file.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(file.Data)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/whatif/compare" {
		var body struct {
			Cases []whatif.Case `json:"cases"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, s.service.Compare(body.Cases))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) requireParticipant(w http.ResponseWriter, r *http.Request) (Participant, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Participant{}, false
	}
	participant, err := s.service.ParticipantFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Participant{}, false
	}
	return participant, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(writer.status)).Inc()
		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var apiErr *riskapi.APIError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "PROJECT_NOT_FOUND", "Project not found", nil
	case errors.Is(err, collab.ErrNotConfigured):
		return http.StatusServiceUnavailable, "SHARING_DISABLED", "Project sharing is not configured", nil
	case errors.Is(err, collab.ErrInvalidJoinCode):
		return http.StatusBadRequest, "INVALID_JOIN_CODE", "Join code must be 6 letters or digits", nil
	case errors.Is(err, collab.ErrInvalidDecision):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, session.ErrNoActiveProject):
		return http.StatusNotFound, "NO_ACTIVE_PROJECT", "No project is open", nil
	case errors.Is(err, archive.ErrUnknownSnapshot):
		return http.StatusNotFound, "SNAPSHOT_NOT_FOUND", "Snapshot not found", nil
	case errors.Is(err, archive.ErrNoHistory):
		return http.StatusNotFound, "SNAPSHOT_NOT_FOUND", "Project has no snapshots", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, riskapi.ErrTimeout):
		return http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "Risk analysis timed out", nil
	case errors.Is(err, riskapi.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED", "Risk analysis is rate limited, retry later", nil
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, "UPSTREAM_ERROR", apiErr.Error(), map[string]any{"upstreamStatus": apiErr.Status}
	case errors.Is(err, riskapi.ErrInvalidResponse):
		return http.StatusBadGateway, "UPSTREAM_ERROR", "Risk analysis returned an invalid response", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is not available", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
