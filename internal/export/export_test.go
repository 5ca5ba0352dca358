package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"flowguard/api/internal/delta"
	"flowguard/api/internal/riskapi"
	"flowguard/api/internal/simulation"
)

type fakeRenderer struct {
	html string
	err  error
}

func (f *fakeRenderer) RenderPDF(_ context.Context, html string) ([]byte, error) {
	f.html = html
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.7"), nil
}

func sampleRequest() riskapi.ReportRequest {
	return riskapi.ReportRequest{
		Result: simulation.Result{
			SimulationID:     "sim-12345678-abc",
			EventName:        "Summer <Fireworks>",
			EventLocation:    "Riverside",
			OverallRiskScore: 7.3,
			Risks: []simulation.Risk{
				{ID: "r1", Title: "Heat stroke", Severity: 4},
				{ID: "r2", Title: "Crowd crush", Severity: 9, MitigationActions: []string{"Add stewards"}},
			},
			MitigationTasks: []simulation.MitigationTask{
				{ID: "t1", Action: "Add stewards", Who: "Security"},
				{ID: "t2", Action: "Water stations"},
			},
		},
		DeltaSummary: &delta.Summary{RiskScoreBefore: 7.3, RiskScoreAfter: 5, PeakTimeBeforeLabel: "19:00", PeakTimeAfterLabel: "19:00"},
		TodoChecks:   map[string]bool{"t1": true},
		Pins:         []riskapi.ReportPin{{Name: "Gate A", Type: "security"}},
	}
}

func TestTextReport(t *testing.T) {
	svc := NewService(&fakeRenderer{})
	svc.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }

	text, err := svc.Text(sampleRequest())
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	for _, want := range []string{
		"FlowGuard Report: Summer <Fireworks>",
		"Overall risk score: 7.3",
		"Risk score: 7.3 -> 5.0",
		"1. Crowd crush (severity 9.0",
		"2. Heat stroke",
		"[x] Add stewards (Security)",
		"[ ] Water stations",
		"- Gate A (security)",
		"Generated 2026-06-01 12:00",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report text missing %q:\n%s", want, text)
		}
	}
}

func TestTextReportFillsSimulationID(t *testing.T) {
	req := sampleRequest()
	req.SimulationID = ""
	text, err := NewService(&fakeRenderer{}).Text(req)
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	if !strings.Contains(text, "Simulation: fg-") {
		t.Errorf("expected generated simulation id in:\n%s", text)
	}
}

func TestPDFReport(t *testing.T) {
	renderer := &fakeRenderer{}
	svc := NewService(renderer)

	result, err := svc.PDF(context.Background(), sampleRequest(), VariantFull)
	if err != nil {
		t.Fatalf("PDF() error = %v", err)
	}
	if result.Filename != "FlowGuard_Report_sim-1234.pdf" {
		t.Errorf("unexpected filename %q", result.Filename)
	}
	if result.MimeType != "application/pdf" {
		t.Errorf("unexpected mime type %q", result.MimeType)
	}
	if !strings.Contains(renderer.html, "Summer &lt;Fireworks&gt;") {
		t.Error("event name should be HTML-escaped")
	}
	if !strings.Contains(renderer.html, "Gate A") {
		t.Error("full report should list pins")
	}
}

func TestPDFOnePageVariant(t *testing.T) {
	renderer := &fakeRenderer{}
	req := sampleRequest()
	for i := 0; i < 8; i++ {
		req.Risks = append(req.Risks, simulation.Risk{Title: "minor", Severity: 1})
	}

	result, err := NewService(renderer).PDF(context.Background(), req, ParseVariant(" ONE_PAGE "))
	if err != nil {
		t.Fatalf("PDF() error = %v", err)
	}
	if !strings.HasSuffix(result.Filename, "_1page.pdf") {
		t.Errorf("unexpected filename %q", result.Filename)
	}
	if strings.Contains(renderer.html, "Gate A") {
		t.Error("one-page report should omit pins")
	}
	if n := strings.Count(renderer.html, "<strong>"); n != onePageRiskLimit {
		t.Errorf("expected %d risks, got %d", onePageRiskLimit, n)
	}
}

func TestPDFRendererError(t *testing.T) {
	boom := errors.New("no chrome")
	_, err := NewService(&fakeRenderer{err: boom}).PDF(context.Background(), sampleRequest(), VariantFull)
	if !errors.Is(err, boom) {
		t.Fatalf("expected renderer error, got %v", err)
	}
}

func TestParseVariant(t *testing.T) {
	if ParseVariant("") != VariantFull || ParseVariant("bogus") != VariantFull {
		t.Error("unknown variants should select the full report")
	}
	if ParseVariant("one_page") != VariantOnePage {
		t.Error("one_page not recognised")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Report v1.2", "My-Report-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "report"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
