package insight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowguard/api/internal/project"
	"flowguard/api/internal/proposal"
	"flowguard/api/internal/simulation"
)

func ptr(v float64) *float64 { return &v }

func sampleDocument() project.Document {
	doc := project.New("ABC234", "owner", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	doc.MissionConfig = &simulation.MissionConfig{EventDate: "2026-07-01"}
	doc.SimulationResult = &simulation.Result{
		OverallRiskScore: 8,
		Risks: []simulation.Risk{
			{ID: "r1", Title: "Crowd crush - Gate 3", Severity: 8},
			{ID: "r2", Title: "Heat", Severity: 4},
		},
		MitigationTasks: []simulation.MitigationTask{
			{ID: "t1", RiskID: "r1", Action: "Add stewards", ImpactScore: ptr(8)},
		},
		MitigationImpacts: []simulation.MitigationImpact{
			{MitigationID: "t1", RiskScoreDelta: -2, DangerCountDelta: -1},
		},
		RiskTimeSeries: []simulation.TimeSlot{
			{StartTime: "2026-07-01T18:00:00", Label: "18:00", RiskScore: 8, RiskIDs: []string{"r1", "r2"}},
		},
		DangerPoints: []simulation.DangerPoint{{ID: "d1"}, {ID: "d2"}},
	}
	return doc
}

func TestComputeBeforeAnyAction(t *testing.T) {
	doc := sampleDocument()
	got := Compute(doc.View(), time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), proposal.EnglishText)

	assert.Equal(t, 8.0, got.Delta.RiskScoreAfter)
	require.Len(t, got.Proposals, 2)
	assert.Equal(t, "todo:t1", got.Proposals[0].Key)
	assert.Equal(t, 8.0, got.EffectiveSlots[0].RiskScore)
	assert.Zero(t, got.ResolvedTodos)
}

func TestComputeAfterAdoptAndCheck(t *testing.T) {
	doc := sampleDocument()
	doc.AdoptedProposals = []project.AdoptedProposal{{Key: "todo:t1", TaskID: "t1", RiskID: "r1"}}
	doc.TodoChecks = map[string]bool{"t1": true}

	got := Compute(doc.View(), time.Time{}, proposal.EnglishText)

	assert.Equal(t, 6.0, got.Delta.RiskScoreAfter)
	assert.Equal(t, 1, got.Delta.DangerCountAfter)
	assert.Equal(t, 1, got.Delta.RiskItemCountAfter)
	assert.Equal(t, 4.0, got.EffectiveSlots[0].RiskScore)
	assert.Equal(t, 1, got.ResolvedTodos)
	assert.Equal(t, 1, got.AdoptedTodos)
	for _, p := range got.Proposals {
		assert.NotEqual(t, "todo:t1", p.Key)
	}
}

func TestForDocumentNil(t *testing.T) {
	assert.Nil(t, ForDocument(nil, time.Time{}, proposal.JapaneseText))
	doc := sampleDocument()
	assert.NotNil(t, ForDocument(&doc, time.Time{}, proposal.JapaneseText))
}

func TestComputeWithoutResult(t *testing.T) {
	got := Compute(project.View{}, time.Time{}, proposal.EnglishText)
	assert.Empty(t, got.Proposals)
	assert.NotNil(t, got.Proposals)
	assert.Empty(t, got.EffectiveSlots)
	assert.Equal(t, "—", got.Delta.PeakTimeBeforeLabel)
}
