// Package project defines the shared project document and the entities it holds.
package project

import (
	"strings"
	"time"

	"flowguard/api/internal/simulation"
)

type Decision string

const (
	DecisionAdopted  Decision = "adopted"
	DecisionRejected Decision = "rejected"
	DecisionDeferred Decision = "deferred"
)

func (d Decision) Valid() bool {
	switch d {
	case DecisionAdopted, DecisionRejected, DecisionDeferred:
		return true
	default:
		return false
	}
}

// Terminal reports whether the decision permanently dismisses a proposal.
func (d Decision) Terminal() bool {
	return d == DecisionAdopted || d == DecisionRejected
}

type DecisionEntry struct {
	Key      string   `json:"key"`
	Decision Decision `json:"decision"`
	At       string   `json:"at"`
}

type AdoptedProposal struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	TaskID string `json:"taskId,omitempty"`
	RiskID string `json:"riskId,omitempty"`
}

type Pin struct {
	ID        string    `json:"id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Name      string    `json:"name"`
	Memo      string    `json:"memo,omitempty"`
	Type      string    `json:"type"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type MapTodo struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Document is one collaborative session, keyed by its join code.
type Document struct {
	JoinCode            string                    `json:"joinCode"`
	OwnerID             string                    `json:"ownerId"`
	ParticipantIDs      []string                  `json:"participantIds"`
	MissionConfig       *simulation.MissionConfig `json:"missionConfig"`
	Polygon             []simulation.LatLng       `json:"polygon"`
	SimulationResult    *simulation.Result        `json:"simulationResult"`
	TodoChecks          map[string]bool           `json:"todoChecks"`
	TodoAssignees       map[string]string         `json:"todoAssignees"`
	TodoAssigneeOther   map[string]string         `json:"todoAssigneeOther"`
	TodoOnSiteChecks    map[string]bool           `json:"todoOnSiteChecks"`
	ProposalDecisionLog []DecisionEntry           `json:"proposalDecisionLog"`
	AdoptedProposals    []AdoptedProposal         `json:"adoptedProposals"`
	Pins                []Pin                     `json:"pins"`
	MapTodos            []MapTodo                 `json:"mapTodos"`
	CreatedAt           time.Time                 `json:"createdAt"`
	UpdatedAt           time.Time                 `json:"updatedAt"`
}

// New returns an empty document owned by ownerID.
func New(joinCode, ownerID string, now time.Time) Document {
	return Document{
		JoinCode:            joinCode,
		OwnerID:             ownerID,
		ParticipantIDs:      []string{ownerID},
		Polygon:             []simulation.LatLng{},
		TodoChecks:          map[string]bool{},
		TodoAssignees:       map[string]string{},
		TodoAssigneeOther:   map[string]string{},
		TodoOnSiteChecks:    map[string]bool{},
		ProposalDecisionLog: []DecisionEntry{},
		AdoptedProposals:    []AdoptedProposal{},
		Pins:                []Pin{},
		MapTodos:            []MapTodo{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Normalize replaces nil collections with empty ones so readers never branch on nil.
func (d *Document) Normalize() {
	if d.ParticipantIDs == nil {
		d.ParticipantIDs = []string{}
	}
	if d.Polygon == nil {
		d.Polygon = []simulation.LatLng{}
	}
	if d.TodoChecks == nil {
		d.TodoChecks = map[string]bool{}
	}
	if d.TodoAssignees == nil {
		d.TodoAssignees = map[string]string{}
	}
	if d.TodoAssigneeOther == nil {
		d.TodoAssigneeOther = map[string]string{}
	}
	if d.TodoOnSiteChecks == nil {
		d.TodoOnSiteChecks = map[string]bool{}
	}
	if d.ProposalDecisionLog == nil {
		d.ProposalDecisionLog = []DecisionEntry{}
	}
	if d.AdoptedProposals == nil {
		d.AdoptedProposals = []AdoptedProposal{}
	}
	if d.Pins == nil {
		d.Pins = []Pin{}
	}
	if d.MapTodos == nil {
		d.MapTodos = []MapTodo{}
	}
}

// Clone returns a copy that shares no mutable collections with d. The simulation result
// and mission config are read-only and are shared.
func (d Document) Clone() Document {
	out := d
	out.ParticipantIDs = append([]string(nil), d.ParticipantIDs...)
	out.Polygon = append([]simulation.LatLng(nil), d.Polygon...)
	out.TodoChecks = CopyMap(d.TodoChecks)
	out.TodoAssignees = CopyMap(d.TodoAssignees)
	out.TodoAssigneeOther = CopyMap(d.TodoAssigneeOther)
	out.TodoOnSiteChecks = CopyMap(d.TodoOnSiteChecks)
	out.ProposalDecisionLog = append([]DecisionEntry(nil), d.ProposalDecisionLog...)
	out.AdoptedProposals = append([]AdoptedProposal(nil), d.AdoptedProposals...)
	out.Pins = append([]Pin(nil), d.Pins...)
	out.MapTodos = append([]MapTodo(nil), d.MapTodos...)
	out.Normalize()
	return out
}

func (d Document) HasParticipant(id string) bool {
	if id == d.OwnerID {
		return true
	}
	for _, participant := range d.ParticipantIDs {
		if participant == id {
			return true
		}
	}
	return false
}

// View projects the checklist-related fields the derivations read.
func (d Document) View() View {
	return View{
		SimulationResult:    d.SimulationResult,
		EventDate:           eventDate(d.MissionConfig),
		TodoChecks:          d.TodoChecks,
		AdoptedProposals:    d.AdoptedProposals,
		ProposalDecisionLog: d.ProposalDecisionLog,
		MapTodos:            d.MapTodos,
	}
}

func eventDate(config *simulation.MissionConfig) string {
	if config == nil {
		return ""
	}
	if config.EventDate != "" {
		return config.EventDate
	}
	return config.DateTime
}

// View is the read model shared by project documents and local solo sessions.
type View struct {
	SimulationResult    *simulation.Result
	EventDate           string
	TodoChecks          map[string]bool
	AdoptedProposals    []AdoptedProposal
	ProposalDecisionLog []DecisionEntry
	MapTodos            []MapTodo
}

func CopyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// JoinCodeLength is the number of characters in a join code.
const JoinCodeLength = 6

// NormalizeJoinCode trims and upper-cases a user-supplied join code.
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidJoinCode reports whether a normalized code has the join-code shape.
func ValidJoinCode(code string) bool {
	if len(code) != JoinCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(joinCodeAlphabet, r) {
			return false
		}
	}
	return true
}

// JoinCodeAlphabet is the character set join codes are drawn from. It omits 0, O, 1 and I.
func JoinCodeAlphabet() string {
	return joinCodeAlphabet
}
