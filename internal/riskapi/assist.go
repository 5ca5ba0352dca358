package riskapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// FallbackAnswer replaces a missing answer from the assistant.
const FallbackAnswer = "回答を取得できませんでした。"

type AssistRisk struct {
	Title               string   `json:"title"`
	Severity            float64  `json:"severity"`
	Importance          *float64 `json:"importance,omitempty"`
	Urgency             *float64 `json:"urgency,omitempty"`
	ExecutionDifficulty *float64 `json:"execution_difficulty,omitempty"`
	Description         string   `json:"description,omitempty"`
	MitigationActions   []string `json:"mitigation_actions,omitempty"`
}

type AssistTodo struct {
	Action  string `json:"action"`
	Who     string `json:"who"`
	Checked bool   `json:"checked"`
}

type AssistNextAction struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
	Source string `json:"source,omitempty"`
}

// AssistContext is the application state the assistant answers against.
type AssistContext struct {
	Step                *int               `json:"step,omitempty"`
	EventName           string             `json:"event_name,omitempty"`
	RiskCount           *int               `json:"risk_count,omitempty"`
	OverallRiskScore    *float64           `json:"overall_risk_score,omitempty"`
	Summary             string             `json:"summary,omitempty"`
	Recommendations     []string           `json:"recommendations,omitempty"`
	Risks               []AssistRisk       `json:"risks,omitempty"`
	Todos               []AssistTodo       `json:"todos,omitempty"`
	NextActionProposals []AssistNextAction `json:"next_action_proposals,omitempty"`
	ReportText          string             `json:"report_text,omitempty"`
	TodoCheckedCount    *int               `json:"todo_checked_count,omitempty"`
	TodoTotalCount      *int               `json:"todo_total_count,omitempty"`
	PinsCount           *int               `json:"pins_count,omitempty"`
	MapTodosCount       *int               `json:"map_todos_count,omitempty"`
}

// Assist asks the assistant one question. The call is bounded by the assist timeout.
func (c *Client) Assist(ctx context.Context, question string, assistContext *AssistContext) (string, error) {
	req := struct {
		Question string         `json:"question"`
		Context  *AssistContext `json:"context,omitempty"`
	}{Question: strings.TrimSpace(question), Context: assistContext}

	body, err := c.call(ctx, "assist", http.MethodPost, "/api/assist", req, c.assistTimeout)
	if err != nil {
		return "", err
	}
	var out struct {
		Answer any `json:"answer"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	answer, ok := out.Answer.(string)
	if !ok {
		return FallbackAnswer, nil
	}
	return answer, nil
}
