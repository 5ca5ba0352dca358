// Package delta computes before/after-mitigation metrics from a simulation result and the
// current checklist state.
package delta

import (
	"math"

	"flowguard/api/internal/project"
	"flowguard/api/internal/simulation"
)

const noLabel = "—"

// TaskRef is an adopted task that can resolve the risk it references.
type TaskRef struct {
	ID     string `json:"id"`
	RiskID string `json:"risk_id,omitempty"`
}

type Summary struct {
	RiskScoreBefore        float64 `json:"riskScoreBefore"`
	RiskScoreAfter         float64 `json:"riskScoreAfter"`
	RiskScoreDelta         float64 `json:"riskScoreDelta"`
	DangerCountBefore      int     `json:"dangerCountBefore"`
	DangerCountAfter       int     `json:"dangerCountAfter"`
	DangerCountDelta       int     `json:"dangerCountDelta"`
	RiskItemCountBefore    int     `json:"riskItemCountBefore"`
	RiskItemCountAfter     int     `json:"riskItemCountAfter"`
	RiskItemCountDelta     int     `json:"riskItemCountDelta"`
	PeakTimeBeforeLabel    string  `json:"peakTimeBeforeLabel"`
	PeakTimeAfterLabel     string  `json:"peakTimeAfterLabel"`
	CongestionDeltaMinutes float64 `json:"congestionDeltaMinutes"`
	HasAnyChecked          bool    `json:"hasAnyChecked"`
}

// Compute returns the before/after summary. Impacts apply only when their mitigation is
// checked. When adopted is nil the risk item count is left unchanged.
func Compute(result *simulation.Result, checks map[string]bool, adopted []TaskRef) Summary {
	if result == nil {
		return Summary{PeakTimeBeforeLabel: noLabel, PeakTimeAfterLabel: noLabel}
	}

	var scoreDelta, dangerDelta, congestion float64
	for _, impact := range result.MitigationImpacts {
		if impact.MitigationID == "" || !checks[impact.MitigationID] {
			continue
		}
		scoreDelta += impact.RiskScoreDelta
		dangerDelta += impact.DangerCountDelta
		congestion += impact.CongestionTimeDeltaMinutes
	}

	s := Summary{
		RiskScoreBefore:        result.OverallRiskScore,
		RiskScoreDelta:         scoreDelta,
		DangerCountBefore:      len(result.DangerPoints),
		DangerCountDelta:       int(math.Round(dangerDelta)),
		RiskItemCountBefore:    len(result.Risks),
		CongestionDeltaMinutes: congestion,
		HasAnyChecked:          anyChecked(checks),
	}
	s.RiskScoreAfter = clamp(s.RiskScoreBefore+scoreDelta, 0, 10)
	s.DangerCountAfter = max(0, s.DangerCountBefore+s.DangerCountDelta)

	s.RiskItemCountAfter = s.RiskItemCountBefore
	if len(adopted) > 0 {
		resolved := ResolvedRisks(adopted, checks)
		count := 0
		for _, risk := range result.Risks {
			if resolved[risk.ID] {
				count++
			}
		}
		s.RiskItemCountAfter = max(0, s.RiskItemCountBefore-count)
	}
	s.RiskItemCountDelta = s.RiskItemCountAfter - s.RiskItemCountBefore

	s.PeakTimeBeforeLabel = peakLabel(result.RiskTimeSeries)
	s.PeakTimeAfterLabel = s.PeakTimeBeforeLabel
	return s
}

// ResolvedRisks returns the ids of risks that have at least one adopted task and whose
// adopted tasks are all checked.
func ResolvedRisks(adopted []TaskRef, checks map[string]bool) map[string]bool {
	byRisk := make(map[string][]string)
	for _, task := range adopted {
		if task.RiskID == "" {
			continue
		}
		byRisk[task.RiskID] = append(byRisk[task.RiskID], task.ID)
	}
	out := make(map[string]bool, len(byRisk))
	for riskID, taskIDs := range byRisk {
		done := true
		for _, id := range taskIDs {
			if !checks[id] {
				done = false
				break
			}
		}
		if done {
			out[riskID] = true
		}
	}
	return out
}

// EffectiveTimeSlots scales each slot's score by the share of its risks still unresolved.
// Slots without risk ids are returned unscaled.
func EffectiveTimeSlots(slots []simulation.TimeSlot, adopted []TaskRef, checks map[string]bool) []simulation.TimeSlot {
	out := make([]simulation.TimeSlot, 0, len(slots))
	resolved := ResolvedRisks(adopted, checks)
	for _, slot := range slots {
		total := len(slot.RiskIDs)
		if total == 0 {
			out = append(out, slot)
			continue
		}
		unresolved := 0
		for _, id := range slot.RiskIDs {
			if !resolved[id] {
				unresolved++
			}
		}
		slot.RiskScore = clamp(slot.RiskScore*float64(unresolved)/float64(total), 0, 10)
		out = append(out, slot)
	}
	return out
}

// CountResolvedTodos counts adopted tasks that are checked.
func CountResolvedTodos(adopted []TaskRef, checks map[string]bool) int {
	n := 0
	for _, task := range adopted {
		if checks[task.ID] {
			n++
		}
	}
	return n
}

// AdoptedTasks lists the task references of a view: adopted proposals first, then map to-dos.
func AdoptedTasks(view project.View) []TaskRef {
	out := make([]TaskRef, 0, len(view.AdoptedProposals)+len(view.MapTodos))
	for _, p := range view.AdoptedProposals {
		id := p.TaskID
		if id == "" {
			id = p.Key
		}
		out = append(out, TaskRef{ID: id, RiskID: p.RiskID})
	}
	for _, todo := range view.MapTodos {
		out = append(out, TaskRef{ID: todo.TaskID})
	}
	return out
}

func peakLabel(slots []simulation.TimeSlot) string {
	if len(slots) == 0 {
		return noLabel
	}
	top := slots[0]
	for _, slot := range slots[1:] {
		if slot.RiskScore > top.RiskScore {
			top = slot
		}
	}
	if top.Label == "" {
		return noLabel
	}
	return top.Label
}

func anyChecked(checks map[string]bool) bool {
	for _, v := range checks {
		if v {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
