package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strings"
	texttemplate "text/template"
	"time"

	"flowguard/api/internal/delta"
	"flowguard/api/internal/riskapi"
)

//go:embed templates/report.html templates/report.txt
var templateFS embed.FS

var (
	htmlReport *template.Template
	textReport *texttemplate.Template
)

const onePageRiskLimit = 5

func init() {
	funcMap := map[string]any{
		"score": func(v float64) string { return fmt.Sprintf("%.1f", v) },
		"check": func(done bool) string {
			if done {
				return "[x]"
			}
			return "[ ]"
		},
		"inc":        func(i int) int { return i + 1 },
		"join":       strings.Join,
		"formatDate": func(t time.Time) string { return t.Format("2006-01-02 15:04") },
	}
	htmlReport = template.Must(template.New("report.html").Funcs(funcMap).ParseFS(templateFS, "templates/report.html"))
	textReport = texttemplate.Must(texttemplate.New("report.txt").Funcs(funcMap).ParseFS(templateFS, "templates/report.txt"))
}

type ReportRisk struct {
	Title       string
	Category    string
	Severity    float64
	Probability float64
	Description string
	Actions     []string
}

type ReportTask struct {
	ID     string
	Who    string
	Action string
	DueBy  string
	Done   bool
}

type ReportTodo struct {
	Title string
	Who   string
	Done  bool
}

// ReportData is what both report templates render.
type ReportData struct {
	SimulationID     string
	EventName        string
	EventLocation    string
	DateTime         string
	OnePage          bool
	OverallRiskScore float64
	Summary          string
	Delta            *delta.Summary
	Risks            []ReportRisk
	Tasks            []ReportTask
	AdoptedTodos     []ReportTodo
	SiteChecks       []riskapi.SiteCheckItem
	Pins             []riskapi.ReportPin
	Recommendations  []string
	GeneratedAt      time.Time
}

// BuildReportData flattens a report request. Risks are ordered by severity; the one-page
// variant keeps the top five and omits site checks and pins.
func BuildReportData(req riskapi.ReportRequest, variant Variant, now time.Time) ReportData {
	data := ReportData{
		SimulationID:     req.SimulationID,
		EventName:        req.EventName,
		EventLocation:    req.EventLocation,
		DateTime:         req.DateTime,
		OnePage:          variant == VariantOnePage,
		OverallRiskScore: req.OverallRiskScore,
		Summary:          req.Summary,
		Delta:            req.DeltaSummary,
		Recommendations:  req.Recommendations,
		GeneratedAt:      now,
	}

	risks := make([]ReportRisk, 0, len(req.Risks))
	for _, risk := range req.Risks {
		risks = append(risks, ReportRisk{
			Title:       risk.Title,
			Category:    risk.Category,
			Severity:    risk.Severity,
			Probability: risk.Probability,
			Description: risk.Description,
			Actions:     risk.MitigationActions,
		})
	}
	sort.SliceStable(risks, func(i, j int) bool { return risks[i].Severity > risks[j].Severity })
	if data.OnePage && len(risks) > onePageRiskLimit {
		risks = risks[:onePageRiskLimit]
	}
	data.Risks = risks

	for _, task := range req.MitigationTasks {
		data.Tasks = append(data.Tasks, ReportTask{
			ID:     task.ID,
			Who:    task.Who,
			Action: task.Action,
			DueBy:  task.DueBy,
			Done:   req.TodoChecks[task.ID],
		})
	}
	for _, todo := range req.AdoptedTodos {
		title := todo.Title
		if title == "" {
			title = todo.Action
		}
		data.AdoptedTodos = append(data.AdoptedTodos, ReportTodo{Title: title, Who: todo.Who, Done: req.TodoChecks[todo.ID]})
	}
	if !data.OnePage {
		data.SiteChecks = req.SiteCheckMemos
		data.Pins = req.Pins
	}
	return data
}

func renderHTML(data ReportData) (string, error) {
	var buf bytes.Buffer
	if err := htmlReport.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderText(data ReportData) (string, error) {
	var buf bytes.Buffer
	if err := textReport.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
