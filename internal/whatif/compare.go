// Package whatif compares alternative scenario runs against a baseline run.
package whatif

import (
	"sort"
	"time"

	"flowguard/api/internal/simulation"
)

// Case is one scenario run. The first case of a comparison is the baseline.
type Case struct {
	ID        string                   `json:"id"`
	Label     string                   `json:"label"`
	Config    simulation.MissionConfig `json:"config"`
	Polygon   []simulation.LatLng      `json:"polygon"`
	Result    *simulation.Result       `json:"result"`
	CreatedAt time.Time                `json:"createdAt"`
}

type Metrics struct {
	OverallScore  float64  `json:"overallScore"`
	DangerCount   int      `json:"dangerCount"`
	PeakTimeLabel string   `json:"peakTimeLabel"`
	TopRisks      []string `json:"topRisks"`
}

// CaseMetrics summarises a result for side-by-side display.
func CaseMetrics(result *simulation.Result) Metrics {
	if result == nil {
		return Metrics{PeakTimeLabel: "—", TopRisks: []string{}}
	}
	peak, peakScore := "—", 0.0
	for _, slot := range result.RiskTimeSeries {
		if slot.RiskScore > peakScore {
			peakScore = slot.RiskScore
			peak = slot.Label
			if peak == "" {
				peak = "—"
			}
		}
	}
	risks := append([]simulation.Risk(nil), result.Risks...)
	sort.SliceStable(risks, func(i, j int) bool { return risks[i].Severity > risks[j].Severity })
	top := make([]string, 0, 3)
	for i := 0; i < len(risks) && i < 3; i++ {
		top = append(top, risks[i].Title)
	}
	return Metrics{
		OverallScore:  result.OverallRiskScore,
		DangerCount:   len(result.DangerPoints),
		PeakTimeLabel: peak,
		TopRisks:      top,
	}
}

// Best returns the index of the best case, or -1 for an empty list. A candidate wins over the
// current best with a strictly lower overall score, or an equal score and strictly fewer danger
// points. A case without a result never wins over one that has a result. A result of 0 means no
// alternative improves on the baseline.
func Best(cases []Case) int {
	if len(cases) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(cases); i++ {
		if better(cases[i], cases[best]) {
			best = i
		}
	}
	return best
}

func better(candidate, current Case) bool {
	if candidate.Result == nil {
		return false
	}
	if current.Result == nil {
		return true
	}
	s, d := candidate.Result.OverallRiskScore, len(candidate.Result.DangerPoints)
	bestScore, bestDanger := current.Result.OverallRiskScore, len(current.Result.DangerPoints)
	return s < bestScore || (s == bestScore && d < bestDanger)
}

// Recommendation returns the winning alternative, if any improves on the baseline.
func Recommendation(cases []Case) (Case, bool) {
	i := Best(cases)
	if i <= 0 {
		return Case{}, false
	}
	return cases[i], true
}
