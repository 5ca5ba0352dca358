package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flowguard/api/internal/archive"
	"flowguard/api/internal/auth"
	"flowguard/api/internal/blob"
	"flowguard/api/internal/collab"
	"flowguard/api/internal/config"
	"flowguard/api/internal/export"
	"flowguard/api/internal/realtime"
	"flowguard/api/internal/riskapi"
	"flowguard/api/internal/simulation"
	"flowguard/api/internal/store"
)

const testSecret = "test-secret"

type fakeRisk struct {
	simulateFn  func(context.Context, simulation.Request) (*simulation.Result, error)
	translateFn func(context.Context, *simulation.Result) (*simulation.Result, error)
	assistFn    func(context.Context, string, *riskapi.AssistContext) (string, error)
	reportPDFFn func(context.Context, riskapi.ReportRequest, string) ([]byte, error)
	lastRequest simulation.Request
}

func (f *fakeRisk) Simulate(ctx context.Context, req simulation.Request) (*simulation.Result, error) {
	f.lastRequest = req
	if f.simulateFn != nil {
		return f.simulateFn(ctx, req)
	}
	return sampleResult(), nil
}

func (f *fakeRisk) Validate(context.Context, riskapi.ValidateRequest) (riskapi.ValidateResult, error) {
	return riskapi.ValidateResult{Valid: true, Issues: []riskapi.ValidationIssue{}}, nil
}

func (f *fakeRisk) Templates(context.Context) ([]riskapi.ScenarioTemplate, error) {
	return []riskapi.ScenarioTemplate{{ID: "fireworks", Name: "Fireworks"}}, nil
}

func (f *fakeRisk) Translate(ctx context.Context, result *simulation.Result) (*simulation.Result, error) {
	if f.translateFn != nil {
		return f.translateFn(ctx, result)
	}
	return result, nil
}

func (f *fakeRisk) ReportText(context.Context, riskapi.ReportRequest) (string, error) {
	return "remote report", nil
}

func (f *fakeRisk) ReportPDF(ctx context.Context, req riskapi.ReportRequest, variant string) ([]byte, error) {
	if f.reportPDFFn != nil {
		return f.reportPDFFn(ctx, req, variant)
	}
	return []byte("%PDF-remote"), nil
}

func (f *fakeRisk) Assist(ctx context.Context, question string, assistContext *riskapi.AssistContext) (string, error) {
	if f.assistFn != nil {
		return f.assistFn(ctx, question, assistContext)
	}
	return "answer: " + question, nil
}

func (f *fakeRisk) Health(context.Context) error {
	return nil
}

type fakePDF struct{}

func (fakePDF) RenderPDF(context.Context, string) ([]byte, error) {
	return []byte("%PDF-local"), nil
}

type testEnv struct {
	svc     *Service
	handler http.Handler
	docs    *store.MemoryStore
	risk    *fakeRisk
	reports *blob.MemoryStore
}

type envOption func(cfg *config.Config, deps *Deps)

func withoutSharing() envOption {
	return func(_ *config.Config, deps *Deps) {
		deps.Projects = collab.NewService(nil, nil, nil, nil)
	}
}

func withoutRisk() envOption {
	return func(_ *config.Config, deps *Deps) {
		deps.Risk = nil
	}
}

func withLocalReports() envOption {
	return func(cfg *config.Config, _ *Deps) {
		cfg.ReportMode = config.ReportModeLocal
	}
}

func withReportStore(reports *blob.MemoryStore) envOption {
	return func(_ *config.Config, deps *Deps) {
		deps.Reports = reports
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	docs := store.NewMemoryStore()
	notifier := realtime.NewLocalNotifier()
	hub := realtime.NewHub(docs, notifier, nil)
	go func() { _ = hub.Run(ctx) }()

	risk := &fakeRisk{}
	cfg := config.Config{DefaultLocale: "en", ReportMode: config.ReportModeRemote, ReportLinkTTL: time.Minute}
	deps := Deps{
		Projects: collab.NewService(docs, notifier, hub, nil),
		Tokens:   auth.NewIssuer(testSecret, time.Hour),
		Risk:     risk,
		Renderer: export.NewService(fakePDF{}),
		Archive:  archive.New(t.TempDir()),
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	svc := New(cfg, deps)
	env := &testEnv{
		svc:     svc,
		handler: NewHTTPServer(svc, "*", nil).Handler(),
		docs:    docs,
		risk:    risk,
	}
	if reports, ok := deps.Reports.(*blob.MemoryStore); ok {
		env.reports = reports
	}
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else if raw, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(raw))
	} else {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// session starts an anonymous participant and returns its token and id.
func (e *testEnv) session(t *testing.T, name string) (string, string) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/session", "", map[string]any{"name": name})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var payload struct {
		Token         string `json:"token"`
		ParticipantID string `json:"participantId"`
	}
	decode(t, rr, &payload)
	require.NotEmpty(t, payload.Token)
	return payload.Token, payload.ParticipantID
}

func (e *testEnv) createProject(t *testing.T, token string) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/projects", token, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var view ProjectView
	decode(t, rr, &view)
	require.Len(t, view.Project.JoinCode, 6)
	return view.Project.JoinCode
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), target), rr.Body.String())
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]any
	decode(t, rr, &payload)
	code, _ := payload["code"].(string)
	return code
}

func ptr[T any](v T) *T {
	return &v
}

func sampleResult() *simulation.Result {
	return &simulation.Result{
		SimulationID:     "sim-0001-abc",
		EventName:        "River Festival",
		OverallRiskScore: 8,
		Risks: []simulation.Risk{
			{ID: "r1", Title: "Crowd crush - bridge", Severity: 9},
			{ID: "r2", Title: "Heat stroke", Severity: 5},
		},
		MitigationTasks: []simulation.MitigationTask{
			{ID: "t1", RiskID: "r1", Action: "Add stewards on the bridge", ImpactScore: ptr(0.9)},
			{ID: "t2", RiskID: "r2", Action: "Water stations", ImpactScore: ptr(0.3)},
		},
		DangerPoints: []simulation.DangerPoint{{ID: "d1", RiskID: "r1"}, {ID: "d2", RiskID: "r2"}},
		MitigationImpacts: []simulation.MitigationImpact{
			{MitigationID: "t1", RiskScoreDelta: -2, DangerCountDelta: -1},
		},
	}
}
