// Package insight recomputes the derived planning view (delta, proposals, effective time
// slots) whenever a project snapshot or local session view changes.
package insight

import (
	"time"

	"flowguard/api/internal/delta"
	"flowguard/api/internal/project"
	"flowguard/api/internal/proposal"
	"flowguard/api/internal/simulation"
)

type Insights struct {
	Delta          delta.Summary         `json:"delta"`
	Proposals      []proposal.Proposal   `json:"proposals"`
	EffectiveSlots []simulation.TimeSlot `json:"effectiveTimeSlots"`
	ResolvedTodos  int                   `json:"resolvedTodos"`
	AdoptedTodos   int                   `json:"adoptedTodos"`
}

// Compute derives the insights of view. A zero today means the current date.
func Compute(view project.View, today time.Time, text proposal.Text) Insights {
	adopted := delta.AdoptedTasks(view)
	var slots []simulation.TimeSlot
	if view.SimulationResult != nil {
		slots = view.SimulationResult.RiskTimeSeries
	}
	return Insights{
		Delta: delta.Compute(view.SimulationResult, view.TodoChecks, adopted),
		Proposals: proposal.Compute(proposal.Input{
			Result:      view.SimulationResult,
			TodoChecks:  view.TodoChecks,
			EventDate:   view.EventDate,
			DecisionLog: view.ProposalDecisionLog,
			Today:       today,
			Text:        &text,
		}),
		EffectiveSlots: delta.EffectiveTimeSlots(slots, adopted, view.TodoChecks),
		ResolvedTodos:  delta.CountResolvedTodos(adopted, view.TodoChecks),
		AdoptedTodos:   len(adopted),
	}
}

// ForDocument is Compute over a project snapshot. A nil document yields nil.
func ForDocument(doc *project.Document, today time.Time, text proposal.Text) *Insights {
	if doc == nil {
		return nil
	}
	out := Compute(doc.View(), today, text)
	return &out
}
