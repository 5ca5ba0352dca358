// Package proposal derives "next action" suggestions from a simulation result, the checklist
// state and the decision log. Proposals are never persisted; only decisions about them are.
package proposal

import (
	"strconv"
	"strings"
	"time"

	"flowguard/api/internal/project"
	"flowguard/api/internal/simulation"
)

type Source string

const (
	SourceUnfinishedTodo Source = "unfinished_todo"
	SourceOverdue        Source = "overdue"
	SourceHighRiskSlot   Source = "high_risk_slot"
)

const (
	highImpactThreshold   = 6
	highSeverityThreshold = 7
	highSlotThreshold     = 7
	defaultSeverity       = 5
	maxSlotProposals      = 2
	maxTitleRunes         = 60
	maxRiskTitleRunes     = 30
	noLabel               = "—"
)

type Proposal struct {
	Key       string `json:"key"`
	Title     string `json:"title"`
	Reason    string `json:"reason"`
	Source    Source `json:"source"`
	TaskID    string `json:"taskId,omitempty"`
	RiskID    string `json:"riskId,omitempty"`
	SlotLabel string `json:"slotLabel,omitempty"`
}

type Input struct {
	Result      *simulation.Result
	TodoChecks  map[string]bool
	EventDate   string
	DecisionLog []project.DecisionEntry
	// Today is the fallback reference date when EventDate is blank. Zero means time.Now.
	Today time.Time
	Text  *Text
}

// Compute returns the proposals for in: unfinished high-impact tasks and overdue tasks in
// task order, followed by at most two high-risk time slots in series order.
func Compute(in Input) []Proposal {
	out := []Proposal{}
	if in.Result == nil {
		return out
	}
	text := JapaneseText
	if in.Text != nil {
		text = *in.Text
	}
	hidden := Suppressed(in.DecisionLog)
	risks := in.Result.RiskByID()
	reference := referenceDate(in.EventDate, in.Today)

	for _, task := range in.Result.MitigationTasks {
		if task.ID == "" || in.TodoChecks[task.ID] {
			continue
		}
		risk, hasRisk := risks[task.RiskID]
		severity := float64(defaultSeverity)
		if hasRisk {
			severity = risk.Severity
		}
		impact := severity
		if task.ImpactScore != nil {
			impact = *task.ImpactScore
		}

		todoKey := "todo:" + task.ID
		if hidden[todoKey] {
			continue
		}
		if impact >= highImpactThreshold || severity >= highSeverityThreshold {
			reason := text.ReasonHighImpact
			if hasRisk {
				reason = text.ReasonUnfinishedTodo(truncate(TitleOnly(risk.Title), maxRiskTitleRunes))
			}
			out = append(out, Proposal{
				Key:    todoKey,
				Title:  taskTitle(task, text),
				Reason: reason,
				Source: SourceUnfinishedTodo,
				TaskID: task.ID,
				RiskID: task.RiskID,
			})
			continue
		}

		if !isOverdue(task.DueBy, reference) {
			continue
		}
		overdueKey := "overdue:" + task.ID
		if hidden[overdueKey] {
			continue
		}
		out = append(out, Proposal{
			Key:    overdueKey,
			Title:  taskTitle(task, text),
			Reason: text.ReasonOverdue(task.DueBy),
			Source: SourceOverdue,
			TaskID: task.ID,
			RiskID: task.RiskID,
		})
	}

	slots := 0
	for _, slot := range in.Result.RiskTimeSeries {
		if slot.RiskScore < highSlotThreshold {
			continue
		}
		if slots == maxSlotProposals {
			break
		}
		slots++
		label := SlotLabel(slot)
		key := "slot:" + label
		if slot.StartTime != "" {
			key = "slot:" + slot.StartTime
		}
		if hidden[key] {
			continue
		}
		out = append(out, Proposal{
			Key:       key,
			Title:     text.TitleHighSlot(label),
			Reason:    text.ReasonHighSlot(strconv.FormatFloat(slot.RiskScore, 'f', 1, 64)),
			Source:    SourceHighRiskSlot,
			SlotLabel: label,
		})
	}
	return out
}

// Suppressed returns the keys that carry at least one terminal decision. Either terminal
// decision is absorbing; deferred entries never suppress.
func Suppressed(log []project.DecisionEntry) map[string]bool {
	out := make(map[string]bool)
	for _, entry := range log {
		if entry.Decision.Terminal() {
			out[entry.Key] = true
		}
	}
	return out
}

// TitleOnly strips the description part of a "title - description" risk label.
func TitleOnly(s string) string {
	cut := -1
	for _, sep := range []string{" - ", " — "} {
		if i := strings.Index(s, sep); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut >= 0 {
		s = s[:cut]
	}
	return strings.TrimSpace(s)
}

// SlotLabel is the display label of a time slot: its label, else characters 11-16 of its
// start time (HH:MM of an ISO timestamp, possibly empty). Only a slot with neither gets "—".
func SlotLabel(slot simulation.TimeSlot) string {
	if slot.Label != "" {
		return slot.Label
	}
	if slot.StartTime == "" {
		return noLabel
	}
	start := slot.StartTime
	if len(start) <= 11 {
		return ""
	}
	if len(start) > 16 {
		start = start[:16]
	}
	return start[11:]
}

func taskTitle(task simulation.MitigationTask, text Text) string {
	if task.Action == "" {
		return text.TitleDefault
	}
	return truncate(task.Action, maxTitleRunes)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func referenceDate(eventDate string, today time.Time) time.Time {
	if len(eventDate) >= 10 {
		if t, err := time.Parse(time.DateOnly, eventDate[:10]); err == nil {
			return t
		}
	}
	if today.IsZero() {
		today = time.Now()
	}
	y, m, d := today.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// isOverdue reports whether dueBy names a calendar day strictly before reference. Due dates
// that do not start with YYYY-MM-DD never count as overdue.
func isOverdue(dueBy string, reference time.Time) bool {
	if len(dueBy) < 10 {
		return false
	}
	due, err := time.Parse(time.DateOnly, dueBy[:10])
	if err != nil {
		return false
	}
	return due.Before(reference)
}
