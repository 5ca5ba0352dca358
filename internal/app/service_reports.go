package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"flowguard/api/internal/blob"
	"flowguard/api/internal/config"
	"flowguard/api/internal/export"
	"flowguard/api/internal/project"
	"flowguard/api/internal/rbac"
	"flowguard/api/internal/riskapi"
	"flowguard/api/internal/simulation"
	"flowguard/api/internal/whatif"
)

func (s *Service) riskOrUnavailable() (riskClient, error) {
	if s.risk == nil {
		return nil, unavailable("UPSTREAM_DISABLED", "Risk analysis service is not configured")
	}
	return s.risk, nil
}

// SimulateInput is a simulation request. With a JoinCode the result is stored on that
// project; without one it becomes the participant's solo result.
type SimulateInput struct {
	MissionConfig simulation.MissionConfig `json:"missionConfig"`
	Polygon       []simulation.LatLng      `json:"polygon"`
	Locale        string                   `json:"locale"`
	JoinCode      string                   `json:"joinCode,omitempty"`
}

func (s *Service) Simulate(ctx context.Context, p Participant, in SimulateInput) (*simulation.Result, error) {
	risk, err := s.riskOrUnavailable()
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(in.JoinCode)
	if code != "" {
		if err := s.edit(ctx, p, code); err != nil {
			return nil, err
		}
	}
	locale := in.Locale
	if locale == "" {
		locale = s.cfg.DefaultLocale
	}
	result, err := risk.Simulate(ctx, simulation.NewRequest(in.MissionConfig, in.Polygon, locale))
	if err != nil {
		s.logger.Warn("simulate", zap.String("participant_id", p.ID), zap.String("outcome", riskapi.Classify(err)), zap.Error(err))
		return nil, err
	}
	if code == "" {
		s.locals.For(p.ID).SetSimulationResult(result, eventDate(in.MissionConfig))
		return result, nil
	}
	if err := s.SaveSimulationResult(ctx, p, code, result); err != nil {
		return nil, err
	}
	return result, nil
}

func eventDate(cfg simulation.MissionConfig) string {
	if cfg.EventDate != "" {
		return cfg.EventDate
	}
	return cfg.DateTime
}

func (s *Service) Validate(ctx context.Context, req riskapi.ValidateRequest) (riskapi.ValidateResult, error) {
	risk, err := s.riskOrUnavailable()
	if err != nil {
		return riskapi.ValidateResult{}, err
	}
	return risk.Validate(ctx, req)
}

func (s *Service) Templates(ctx context.Context) ([]riskapi.ScenarioTemplate, error) {
	risk, err := s.riskOrUnavailable()
	if err != nil {
		return nil, err
	}
	return risk.Templates(ctx)
}

func (s *Service) Translate(ctx context.Context, result *simulation.Result) (*simulation.Result, error) {
	if result == nil {
		return nil, validationError("result is required")
	}
	risk, err := s.riskOrUnavailable()
	if err != nil {
		return nil, err
	}
	return risk.Translate(ctx, result)
}

func (s *Service) Assist(ctx context.Context, question string, assistContext *riskapi.AssistContext) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", validationError("question is required")
	}
	risk, err := s.riskOrUnavailable()
	if err != nil {
		return "", err
	}
	return risk.Assist(ctx, question, assistContext)
}

func (s *Service) localReports() bool {
	return s.cfg.ReportMode == config.ReportModeLocal || s.risk == nil
}

// ReportText renders the text report remotely, or locally in local report mode.
func (s *Service) ReportText(ctx context.Context, req riskapi.ReportRequest) (string, error) {
	if s.localReports() {
		if s.renderer == nil {
			return "", unavailable("REPORTS_DISABLED", "Report rendering is not configured")
		}
		return s.renderer.Text(req)
	}
	return s.risk.ReportText(ctx, req)
}

// ReportFile is a rendered PDF. URL is set when the file was uploaded to report storage,
// in which case Data is left empty.
type ReportFile struct {
	Data     []byte `json:"-"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	URL      string `json:"url,omitempty"`
}

// ReportPDF renders the PDF report for variant and, when report storage is configured,
// uploads it under the project's join code and returns a presigned link.
func (s *Service) ReportPDF(ctx context.Context, p Participant, joinCode string, req riskapi.ReportRequest, variant export.Variant) (ReportFile, error) {
	joinCode = strings.TrimSpace(joinCode)
	if joinCode != "" {
		if _, _, err := s.authorize(ctx, p, joinCode, rbac.ActionRead); err != nil {
			return ReportFile{}, err
		}
	}
	riskapi.EnsureSimulationID(&req, s.now())

	var file ReportFile
	if s.localReports() {
		if s.renderer == nil {
			return ReportFile{}, unavailable("REPORTS_DISABLED", "Report rendering is not configured")
		}
		result, err := s.renderer.PDF(ctx, req, variant)
		if err != nil {
			return ReportFile{}, err
		}
		file = ReportFile{Data: result.Data, Filename: result.Filename, MimeType: result.MimeType}
	} else {
		data, err := s.risk.ReportPDF(ctx, req, string(variant))
		if err != nil {
			return ReportFile{}, err
		}
		file = ReportFile{Data: data, Filename: export.ReportFilename(req.SimulationID, variant), MimeType: "application/pdf"}
	}

	if s.reports == nil {
		return file, nil
	}
	key := blob.ReportKey(project.NormalizeJoinCode(joinCode), req.SimulationID, file.Filename)
	if err := s.reports.Put(ctx, key, file.Data, file.MimeType); err != nil {
		s.logger.Warn("upload report", zap.String("key", key), zap.Error(err))
		return file, nil
	}
	link, err := s.reports.PresignGet(ctx, key, s.cfg.ReportLinkTTL)
	if err != nil {
		s.logger.Warn("presign report", zap.String("key", key), zap.Error(err))
		return file, nil
	}
	file.URL = link
	file.Data = nil
	return file, nil
}

// Comparison is the what-if view over a baseline and its alternatives.
type Comparison struct {
	BestIndex      int            `json:"bestIndex"`
	Recommendation *whatif.Case   `json:"recommendation"`
	Cases          []ComparedCase `json:"cases"`
}

type ComparedCase struct {
	ID      string         `json:"id"`
	Label   string         `json:"label"`
	Metrics whatif.Metrics `json:"metrics"`
}

// Compare ranks scenario runs. The first case is the baseline.
func (s *Service) Compare(cases []whatif.Case) Comparison {
	out := Comparison{BestIndex: whatif.Best(cases), Cases: make([]ComparedCase, 0, len(cases))}
	for _, c := range cases {
		out.Cases = append(out.Cases, ComparedCase{ID: c.ID, Label: c.Label, Metrics: whatif.CaseMetrics(c.Result)})
	}
	if best, ok := whatif.Recommendation(cases); ok {
		out.Recommendation = &best
	}
	return out
}
