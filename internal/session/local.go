package session

import (
	"sync"
	"time"

	"flowguard/api/internal/project"
	"flowguard/api/internal/simulation"
)

// Local is the checklist state of a participant working outside a shared project. It is
// never persisted; Reset discards it.
type Local struct {
	mu          sync.RWMutex
	result      *simulation.Result
	eventDate   string
	todoChecks  map[string]bool
	adopted     []project.AdoptedProposal
	decisionLog []project.DecisionEntry
	now         func() time.Time
}

func NewLocal() *Local {
	return &Local{
		todoChecks:  map[string]bool{},
		adopted:     []project.AdoptedProposal{},
		decisionLog: []project.DecisionEntry{},
		now:         time.Now,
	}
}

func (l *Local) SetTodoCheck(taskID string, checked bool) map[string]bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.todoChecks[taskID] = checked
	return project.CopyMap(l.todoChecks)
}

func (l *Local) AppendProposalDecision(key string, decision project.Decision) []project.DecisionEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisionLog = append(l.decisionLog, project.DecisionEntry{
		Key:      key,
		Decision: decision,
		At:       l.now().UTC().Format(time.RFC3339Nano),
	})
	return append([]project.DecisionEntry(nil), l.decisionLog...)
}

// AppendAdoptedProposal adds item unless its key is already adopted.
func (l *Local) AppendAdoptedProposal(item project.AdoptedProposal) []project.AdoptedProposal {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.adopted {
		if existing.Key == item.Key {
			return append([]project.AdoptedProposal(nil), l.adopted...)
		}
	}
	l.adopted = append(l.adopted, item)
	return append([]project.AdoptedProposal(nil), l.adopted...)
}

// SetSimulationResult installs a new analysis. The checklist state is kept; task ids of an
// earlier result simply stop matching.
func (l *Local) SetSimulationResult(result *simulation.Result, eventDate string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.result = result
	l.eventDate = eventDate
}

func (l *Local) View() project.View {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return project.View{
		SimulationResult:    l.result,
		EventDate:           l.eventDate,
		TodoChecks:          project.CopyMap(l.todoChecks),
		AdoptedProposals:    append([]project.AdoptedProposal{}, l.adopted...),
		ProposalDecisionLog: append([]project.DecisionEntry{}, l.decisionLog...),
		MapTodos:            []project.MapTodo{},
	}
}

func (l *Local) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.result = nil
	l.eventDate = ""
	l.todoChecks = map[string]bool{}
	l.adopted = []project.AdoptedProposal{}
	l.decisionLog = []project.DecisionEntry{}
}

// LocalRegistry hands out one Local per participant.
type LocalRegistry struct {
	mu     sync.Mutex
	states map[string]*Local
}

func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{states: map[string]*Local{}}
}

func (r *LocalRegistry) For(participantID string) *Local {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[participantID]
	if !ok {
		state = NewLocal()
		r.states[participantID] = state
	}
	return state
}

// Discard drops the participant's state, as when they restart or leave.
func (r *LocalRegistry) Discard(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, participantID)
}
