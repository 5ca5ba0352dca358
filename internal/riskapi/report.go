package riskapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowguard/api/internal/delta"
	"flowguard/api/internal/simulation"
)

type SiteCheckItem struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	Category     string `json:"category"`
	Memo         string `json:"memo,omitempty"`
	LinkedTaskID string `json:"linkedTaskId,omitempty"`
}

type AdoptedTodo struct {
	ID     string `json:"id,omitempty"`
	Who    string `json:"who,omitempty"`
	Action string `json:"action"`
	Title  string `json:"title,omitempty"`
	RiskID string `json:"risk_id,omitempty"`
}

type ReportPin struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Memo string `json:"memo,omitempty"`
	Type string `json:"type,omitempty"`
}

// ReportRequest is a simulation result plus the planning state to print alongside it.
type ReportRequest struct {
	simulation.Result
	DeltaSummary   *delta.Summary  `json:"delta_summary,omitempty"`
	SiteCheckMemos []SiteCheckItem `json:"site_check_memos,omitempty"`
	TodoChecks     map[string]bool `json:"todo_checks,omitempty"`
	AdoptedTodos   []AdoptedTodo   `json:"adopted_todos,omitempty"`
	Pins           []ReportPin     `json:"pins,omitempty"`
}

// EnsureSimulationID gives req a generated id of the form fg-<unix ms>-<8 chars> when it has none.
func EnsureSimulationID(req *ReportRequest, now time.Time) {
	if req.SimulationID != "" {
		return
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	req.SimulationID = "fg-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix
}

// ReportText returns the full report as plain text.
func (c *Client) ReportText(ctx context.Context, req ReportRequest) (string, error) {
	EnsureSimulationID(&req, time.Now())
	body, err := c.call(ctx, "report_text", http.MethodPost, "/api/report/text", req, defaultRequestTimeout)
	if err != nil {
		return "", err
	}
	var out struct {
		Text any `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	text, _ := out.Text.(string)
	return text, nil
}

// ReportPDF returns the rendered PDF for variant. An empty variant selects the service default.
func (c *Client) ReportPDF(ctx context.Context, req ReportRequest, variant string) ([]byte, error) {
	EnsureSimulationID(&req, time.Now())
	path := "/api/report/pdf"
	if variant != "" {
		path += "?variant=" + url.QueryEscape(variant)
	}
	return c.call(ctx, "report_pdf", http.MethodPost, path, req, c.simulateTimeout)
}
