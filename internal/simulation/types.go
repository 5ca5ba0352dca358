// Package simulation holds the risk-analysis result schema. Values of these types are
// produced by the external risk-analysis service and are never mutated by this module.
package simulation

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Risk struct {
	ID                  string   `json:"id"`
	Category            string   `json:"category,omitempty"`
	Title               string   `json:"title,omitempty"`
	Description         string   `json:"description,omitempty"`
	Probability         float64  `json:"probability"`
	Severity            float64  `json:"severity"`
	Importance          *float64 `json:"importance,omitempty"`
	Urgency             *float64 `json:"urgency,omitempty"`
	ExecutionDifficulty *float64 `json:"execution_difficulty,omitempty"`
	MitigationActions   []string `json:"mitigation_actions,omitempty"`
	Evidence            string   `json:"evidence,omitempty"`
}

type MitigationTask struct {
	ID          string   `json:"id"`
	RiskID      string   `json:"risk_id,omitempty"`
	Who         string   `json:"who,omitempty"`
	Action      string   `json:"action,omitempty"`
	DueBy       string   `json:"due_by,omitempty"`
	ImpactScore *float64 `json:"impact_score,omitempty"`
	Category    string   `json:"category,omitempty"`
}

type TimeSlot struct {
	StartTime string   `json:"start_time,omitempty"`
	EndTime   string   `json:"end_time,omitempty"`
	Label     string   `json:"label,omitempty"`
	RiskScore float64  `json:"risk_score"`
	RiskIDs   []string `json:"risk_ids"`
}

type MitigationImpact struct {
	MitigationID               string   `json:"mitigation_id"`
	RiskScoreDelta             float64  `json:"risk_score_delta"`
	DangerCountDelta           float64  `json:"danger_count_delta,omitempty"`
	CongestionTimeDeltaMinutes float64  `json:"congestion_time_delta_minutes,omitempty"`
	IndicatorsImproved         []string `json:"indicators_improved,omitempty"`
}

type DangerPoint struct {
	ID     string `json:"id"`
	Center LatLng `json:"center"`
	Reason string `json:"reason,omitempty"`
	Label  string `json:"label,omitempty"`
	RiskID string `json:"risk_id,omitempty"`
}

// Result is the fact base the delta and proposal derivations read from.
type Result struct {
	SimulationID      string             `json:"simulation_id"`
	EventName         string             `json:"event_name,omitempty"`
	EventLocation     string             `json:"event_location,omitempty"`
	DateTime          string             `json:"date_time,omitempty"`
	Risks             []Risk             `json:"risks"`
	OverallRiskScore  float64            `json:"overall_risk_score"`
	Summary           string             `json:"summary,omitempty"`
	Recommendations   []string           `json:"recommendations,omitempty"`
	RiskTimeSeries    []TimeSlot         `json:"risk_time_series,omitempty"`
	MitigationTasks   []MitigationTask   `json:"mitigation_tasks,omitempty"`
	DangerPoints      []DangerPoint      `json:"danger_points,omitempty"`
	MitigationImpacts []MitigationImpact `json:"mitigation_impacts,omitempty"`
}

// RiskByID indexes risks that carry an id. A later risk replaces an earlier one with the
// same id.
func (r *Result) RiskByID() map[string]Risk {
	out := make(map[string]Risk)
	if r == nil {
		return out
	}
	for _, risk := range r.Risks {
		if risk.ID == "" {
			continue
		}
		out[risk.ID] = risk
	}
	return out
}
