package whatif

import (
	"testing"

	"flowguard/api/internal/simulation"
)

func run(score float64, danger int) Case {
	return Case{Result: &simulation.Result{
		OverallRiskScore: score,
		DangerPoints:     make([]simulation.DangerPoint, danger),
	}}
}

func TestBest(t *testing.T) {
	cases := []struct {
		name  string
		cases []Case
		want  int
	}{
		{name: "empty", cases: nil, want: -1},
		{name: "baseline only", cases: []Case{run(6.5, 3)}, want: 0},
		{name: "equal score fewer dangers", cases: []Case{run(6.5, 3), run(6.5, 1)}, want: 1},
		{name: "no improvement", cases: []Case{run(5, 1), run(5, 1), run(6, 0)}, want: 0},
		{name: "lower score wins", cases: []Case{run(6, 2), run(5.5, 4), run(5.9, 0)}, want: 1},
		{name: "danger compared against current best", cases: []Case{run(7, 1), run(6, 5), run(6, 3)}, want: 2},
		{name: "missing result never wins", cases: []Case{run(10, 3), {ID: "failed"}}, want: 0},
		{name: "missing result skipped", cases: []Case{run(9, 2), {ID: "failed"}, run(9, 1)}, want: 2},
		{name: "baseline without result", cases: []Case{{ID: "baseline"}, run(10, 4)}, want: 1},
		{name: "no results at all", cases: []Case{{ID: "a"}, {ID: "b"}}, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Best(tc.cases); got != tc.want {
				t.Fatalf("Best = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRecommendation(t *testing.T) {
	if _, ok := Recommendation([]Case{run(4, 1), run(5, 0)}); ok {
		t.Fatalf("expected no recommendation when baseline is best")
	}
	if got, ok := Recommendation([]Case{run(10, 3), {ID: "failed"}}); ok {
		t.Fatalf("a case without a result must not be recommended, got %+v", got)
	}
	alt := run(3, 0)
	alt.Label = "earlier start"
	got, ok := Recommendation([]Case{run(4, 1), alt})
	if !ok || got.Label != "earlier start" {
		t.Fatalf("unexpected recommendation %+v ok=%v", got, ok)
	}
}

func TestCaseMetrics(t *testing.T) {
	m := CaseMetrics(&simulation.Result{
		OverallRiskScore: 6.2,
		DangerPoints:     make([]simulation.DangerPoint, 2),
		RiskTimeSeries: []simulation.TimeSlot{
			{Label: "17:00", RiskScore: 4},
			{Label: "18:00", RiskScore: 7.5},
		},
		Risks: []simulation.Risk{
			{Title: "low", Severity: 2},
			{Title: "high", Severity: 9},
			{Title: "mid", Severity: 5},
			{Title: "mid2", Severity: 5},
		},
	})
	if m.DangerCount != 2 || m.PeakTimeLabel != "18:00" {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if len(m.TopRisks) != 3 || m.TopRisks[0] != "high" || m.TopRisks[1] != "mid" || m.TopRisks[2] != "mid2" {
		t.Fatalf("unexpected top risks %v", m.TopRisks)
	}
	if empty := CaseMetrics(nil); empty.PeakTimeLabel != "—" {
		t.Fatalf("unexpected empty metrics %+v", empty)
	}
}
