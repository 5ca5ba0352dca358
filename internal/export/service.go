package export

import (
	"context"
	"fmt"
	"time"

	"flowguard/api/internal/riskapi"
)

// Service renders reports without the remote report service.
type Service struct {
	renderer PDFRenderer
	now      func() time.Time
}

// NewService creates a report service. A nil renderer uses headless Chrome.
func NewService(renderer PDFRenderer) *Service {
	if renderer == nil {
		renderer = ChromeRenderer{}
	}
	return &Service{renderer: renderer, now: time.Now}
}

// Text renders the full report as plain text.
func (s *Service) Text(req riskapi.ReportRequest) (string, error) {
	riskapi.EnsureSimulationID(&req, s.now())
	text, err := renderText(BuildReportData(req, VariantFull, s.now()))
	if err != nil {
		return "", fmt.Errorf("render report text: %w", err)
	}
	return text, nil
}

// PDF renders the report for variant and prints it.
func (s *Service) PDF(ctx context.Context, req riskapi.ReportRequest, variant Variant) (*Result, error) {
	riskapi.EnsureSimulationID(&req, s.now())
	html, err := renderHTML(BuildReportData(req, variant, s.now()))
	if err != nil {
		return nil, fmt.Errorf("render report html: %w", err)
	}
	data, err := s.renderer.RenderPDF(ctx, html)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Filename: ReportFilename(req.SimulationID, variant),
		MimeType: "application/pdf",
	}, nil
}

// ReportFilename is FlowGuard_Report_<first 8 id chars>, with _1page for the one-page variant.
func ReportFilename(simulationID string, variant Variant) string {
	id := []rune(simulationID)
	if len(id) > 8 {
		id = id[:8]
	}
	suffix := ""
	if variant == VariantOnePage {
		suffix = "_1page"
	}
	return "FlowGuard_Report_" + sanitizeFilename(string(id)) + suffix + ".pdf"
}
