package riskapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowguard/api/internal/simulation"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	opts.BaseURL = server.URL
	return New(opts)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestSimulateSendsRequestAndDecodesResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/simulate", r.URL.Path)
		var req simulation.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2026-07-01 18:00–21:00", req.DateTime)
		assert.Equal(t, "en", req.Locale)
		writeJSON(w, http.StatusOK, map[string]any{"simulation_id": "sim-1", "overall_risk_score": 7.5, "risks": []any{}})
	}, Options{})

	req := simulation.NewRequest(simulation.MissionConfig{EventDate: "2026-07-01", StartTime: "18:00", EndTime: "21:00"}, nil, "en")
	result, err := client.Simulate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "sim-1", result.SimulationID)
	assert.Equal(t, 7.5, result.OverallRiskScore)
}

func TestSimulateTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, Options{SimulateTimeout: 50 * time.Millisecond})
	defer close(release)

	_, err := client.Simulate(context.Background(), simulation.Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "timeout", Classify(err))
}

func TestSimulateTimeoutIsCapped(t *testing.T) {
	client := New(Options{BaseURL: "http://localhost", SimulateTimeout: time.Hour})
	assert.Equal(t, MaxSimulateTimeout, client.SimulateTimeout())
	assert.Equal(t, DefaultSimulateTimeout, New(Options{}).SimulateTimeout())
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		class    string
		contains string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"detail":"quota exceeded"}`, "rate_limited", "quota exceeded"},
		{"detail string", http.StatusBadRequest, `{"detail":"event_name is required"}`, "error", "event_name is required"},
		{"no detail", http.StatusInternalServerError, `{}`, "error", "HTTP 500"},
		{"plain text", http.StatusBadGateway, `upstream down`, "error", "upstream down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}, Options{})
			_, err := client.Simulate(context.Background(), simulation.Request{})
			require.Error(t, err)
			assert.Equal(t, tc.class, Classify(err))
			assert.Contains(t, err.Error(), tc.contains)
			if tc.class == "error" {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, tc.status, apiErr.Status)
			}
		})
	}
}

func TestTranslateValidatesShape(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		valid bool
	}{
		{"valid", `{"simulation_id":"sim-1","risks":[{"id":"r1","title":"Heat"}]}`, true},
		{"numeric id", `{"simulation_id":1,"risks":[]}`, false},
		{"missing risks", `{"simulation_id":"sim-1"}`, false},
		{"not json", `<html>`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/translate-simulation", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, tc.body)
			}, Options{})
			out, err := client.Translate(context.Background(), &simulation.Result{SimulationID: "sim-1"})
			if tc.valid {
				require.NoError(t, err)
				assert.Equal(t, "Heat", out.Risks[0].Title)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidResponse)
		})
	}
}

func TestTranslateUsesCache(t *testing.T) {
	for name, cache := range map[string]func(t *testing.T) TranslationCache{
		"memory": func(*testing.T) TranslationCache { return NewMemoryTranslationCache() },
		"redis": func(t *testing.T) TranslationCache {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisTranslationCache(client, time.Hour)
		},
	} {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeJSON(w, http.StatusOK, map[string]any{"simulation_id": "sim-1", "risks": []any{map[string]any{"id": "r1", "title": "Heat"}}})
			}, Options{Cache: cache(t)})

			for i := 0; i < 3; i++ {
				out, err := client.Translate(context.Background(), &simulation.Result{SimulationID: "sim-1"})
				require.NoError(t, err)
				assert.Equal(t, "Heat", out.Risks[0].Title)
			}
			assert.Equal(t, int32(1), calls.Load())

			_, err := client.Translate(context.Background(), &simulation.Result{})
			require.NoError(t, err)
			assert.Equal(t, int32(2), calls.Load(), "results without an id are never cached")
		})
	}
}

func TestReportTextFillsSimulationID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		id, _ := body["simulation_id"].(string)
		assert.Regexp(t, regexp.MustCompile(`^fg-\d+-[0-9a-f]{8}$`), id)
		assert.Equal(t, map[string]any{"t1": true}, body["todo_checks"])
		writeJSON(w, http.StatusOK, map[string]any{"text": "REPORT"})
	}, Options{})

	text, err := client.ReportText(context.Background(), ReportRequest{TodoChecks: map[string]bool{"t1": true}})
	require.NoError(t, err)
	assert.Equal(t, "REPORT", text)
}

func TestReportTextNonStringIsEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"text": 12})
	}, Options{})
	text, err := client.ReportText(context.Background(), ReportRequest{})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestReportPDFVariant(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "full report", r.URL.Query().Get("variant"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sim-9", body["simulation_id"])
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, "%PDF-1.7")
	}, Options{})

	req := ReportRequest{Result: simulation.Result{SimulationID: "sim-9"}}
	pdf, err := client.ReportPDF(context.Background(), req, "full report")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pdf), "%PDF"))
}

func TestAssist(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch body["question"] {
		case "where are exits?":
			_, hasContext := body["context"]
			assert.True(t, hasContext)
			writeJSON(w, http.StatusOK, map[string]any{"answer": "North gate."})
		default:
			writeJSON(w, http.StatusOK, map[string]any{})
		}
	}, Options{})

	count := 3
	answer, err := client.Assist(context.Background(), "  where are exits? ", &AssistContext{PinsCount: &count})
	require.NoError(t, err)
	assert.Equal(t, "North gate.", answer)

	answer, err = client.Assist(context.Background(), "other", nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, answer)
}

func TestValidateAndTemplates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/validate":
			writeJSON(w, http.StatusOK, map[string]any{"valid": false, "issues": []any{map[string]any{"field": "date_time", "code": "past", "message": "in the past", "severity": "warning"}}})
		case "/api/templates":
			writeJSON(w, http.StatusOK, map[string]any{"templates": []any{map[string]any{"id": "fireworks", "name": "Fireworks", "event_type": "festival", "preset": map[string]any{"event_name": "Summer", "expected_attendance": 5000}}}})
		case "/health":
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, Options{})
	ctx := context.Background()

	validation, err := client.Validate(ctx, ValidateRequest{EventName: "x"})
	require.NoError(t, err)
	assert.False(t, validation.Valid)
	require.Len(t, validation.Issues, 1)
	assert.Equal(t, "past", validation.Issues[0].Code)

	templates, err := client.Templates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, 5000, templates[0].Preset.ExpectedAttendance)

	assert.NoError(t, client.Health(ctx))
}
