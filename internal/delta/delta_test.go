package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowguard/api/internal/project"
	"flowguard/api/internal/simulation"
)

func TestComputeAppliesOnlyCheckedImpacts(t *testing.T) {
	result := &simulation.Result{
		OverallRiskScore:  7.0,
		MitigationImpacts: []simulation.MitigationImpact{{MitigationID: "t1", RiskScoreDelta: -1.5}},
	}

	before := Compute(result, map[string]bool{}, nil)
	assert.Equal(t, 7.0, before.RiskScoreAfter)
	assert.False(t, before.HasAnyChecked)

	after := Compute(result, map[string]bool{"t1": true}, nil)
	assert.InDelta(t, 5.5, after.RiskScoreAfter, 1e-9)
	assert.InDelta(t, -1.5, after.RiskScoreDelta, 1e-9)
	assert.True(t, after.HasAnyChecked)
}

func TestComputeClampsRiskScore(t *testing.T) {
	cases := []struct {
		name   string
		before float64
		deltas []float64
		want   float64
	}{
		{name: "below zero", before: 3, deltas: []float64{-2, -2.5}, want: 0},
		{name: "above ten", before: 9, deltas: []float64{1.5, 0.7}, want: 10},
		{name: "inside", before: 5, deltas: []float64{-1, 2}, want: 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := &simulation.Result{OverallRiskScore: tc.before}
			checks := map[string]bool{}
			for i, d := range tc.deltas {
				id := string(rune('a' + i))
				result.MitigationImpacts = append(result.MitigationImpacts, simulation.MitigationImpact{MitigationID: id, RiskScoreDelta: d})
				checks[id] = true
			}
			got := Compute(result, checks, nil)
			assert.InDelta(t, tc.want, got.RiskScoreAfter, 1e-9)
			assert.GreaterOrEqual(t, got.RiskScoreAfter, 0.0)
			assert.LessOrEqual(t, got.RiskScoreAfter, 10.0)
		})
	}
}

func TestComputeDangerAndCongestion(t *testing.T) {
	result := &simulation.Result{
		DangerPoints: []simulation.DangerPoint{{ID: "d1"}, {ID: "d2"}},
		MitigationImpacts: []simulation.MitigationImpact{
			{MitigationID: "a", DangerCountDelta: -1, CongestionTimeDeltaMinutes: -10},
			{MitigationID: "b", DangerCountDelta: -3, CongestionTimeDeltaMinutes: -5},
		},
		RiskTimeSeries: []simulation.TimeSlot{
			{Label: "17:00", RiskScore: 5},
			{Label: "18:00", RiskScore: 8},
			{Label: "19:00", RiskScore: 8},
		},
	}
	got := Compute(result, map[string]bool{"a": true, "b": true}, nil)
	assert.Equal(t, 2, got.DangerCountBefore)
	assert.Equal(t, 0, got.DangerCountAfter)
	assert.Equal(t, -4, got.DangerCountDelta)
	assert.Equal(t, -15.0, got.CongestionDeltaMinutes)
	assert.Equal(t, "18:00", got.PeakTimeBeforeLabel)
	assert.Equal(t, "18:00", got.PeakTimeAfterLabel)
}

func TestComputeNilResult(t *testing.T) {
	got := Compute(nil, map[string]bool{"x": true}, []TaskRef{{ID: "x"}})
	assert.Equal(t, Summary{PeakTimeBeforeLabel: "—", PeakTimeAfterLabel: "—"}, got)
}

func riskFixture() *simulation.Result {
	return &simulation.Result{Risks: []simulation.Risk{{ID: "r1"}, {ID: "r2"}, {ID: "r3"}}}
}

func TestRiskItemCountRequiresAdoptedTasks(t *testing.T) {
	result := riskFixture()
	got := Compute(result, map[string]bool{"t1": true}, nil)
	assert.Equal(t, 3, got.RiskItemCountAfter)
	assert.Equal(t, 0, got.RiskItemCountDelta)
}

func TestRiskResolvedOnlyWhenAllAdoptedTasksChecked(t *testing.T) {
	adopted := []TaskRef{{ID: "t1", RiskID: "r1"}, {ID: "t2", RiskID: "r1"}, {ID: "t3", RiskID: "r2"}, {ID: "m1"}}

	got := Compute(riskFixture(), map[string]bool{"t1": true}, adopted)
	assert.Equal(t, 3, got.RiskItemCountAfter)

	got = Compute(riskFixture(), map[string]bool{"t1": true, "t2": true}, adopted)
	assert.Equal(t, 2, got.RiskItemCountAfter)
	assert.Equal(t, -1, got.RiskItemCountDelta)

	got = Compute(riskFixture(), map[string]bool{"t1": true, "t2": true, "t3": true, "m1": true}, adopted)
	assert.Equal(t, 1, got.RiskItemCountAfter)
}

func TestRiskItemCountMonotonic(t *testing.T) {
	adopted := []TaskRef{
		{ID: "t1", RiskID: "r1"}, {ID: "t2", RiskID: "r2"}, {ID: "t3", RiskID: "r2"},
		{ID: "t4", RiskID: "r3"}, {ID: "t5"},
	}
	checks := map[string]bool{}
	last := Compute(riskFixture(), checks, adopted).RiskItemCountAfter
	for _, id := range []string{"t3", "t5", "t1", "t4", "t2"} {
		checks[id] = true
		next := Compute(riskFixture(), checks, adopted).RiskItemCountAfter
		require.LessOrEqual(t, next, last, "checking %s increased the count", id)
		last = next
	}
	assert.Equal(t, 0, last)
}

func TestEffectiveTimeSlots(t *testing.T) {
	slots := []simulation.TimeSlot{
		{Label: "a", RiskScore: 8, RiskIDs: []string{"r1", "r2"}},
		{Label: "b", RiskScore: 6},
		{Label: "c", RiskScore: 9, RiskIDs: []string{"r1"}},
	}
	adopted := []TaskRef{{ID: "t1", RiskID: "r1"}}

	got := EffectiveTimeSlots(slots, adopted, map[string]bool{"t1": true})
	require.Len(t, got, 3)
	assert.InDelta(t, 4.0, got[0].RiskScore, 1e-9)
	assert.InDelta(t, 6.0, got[1].RiskScore, 1e-9)
	assert.InDelta(t, 0.0, got[2].RiskScore, 1e-9)
	assert.Equal(t, 8.0, slots[0].RiskScore, "input must not be mutated")

	unchanged := EffectiveTimeSlots(slots, adopted, nil)
	assert.InDelta(t, 8.0, unchanged[0].RiskScore, 1e-9)
	assert.Empty(t, EffectiveTimeSlots(nil, adopted, nil))
}

func TestAdoptedTasksAndResolvedCount(t *testing.T) {
	view := project.View{
		AdoptedProposals: []project.AdoptedProposal{
			{Key: "todo:t1", TaskID: "t1", RiskID: "r1"},
			{Key: "slot:18:00"},
		},
		MapTodos: []project.MapTodo{{ID: "m1", TaskID: "m1"}},
	}
	refs := AdoptedTasks(view)
	assert.Equal(t, []TaskRef{{ID: "t1", RiskID: "r1"}, {ID: "slot:18:00"}, {ID: "m1"}}, refs)
	assert.Equal(t, 2, CountResolvedTodos(refs, map[string]bool{"t1": true, "m1": true, "other": true}))
	assert.Equal(t, 0, CountResolvedTodos(refs, nil))
}
