package store

import (
	"testing"
	"time"

	"flowguard/api/internal/project"
	"flowguard/api/internal/simulation"
)

func TestApplyChangesKeyMergeIsolation(t *testing.T) {
	base := project.New("ABC234", "owner", time.Now())
	base.TodoChecks["seed"] = false

	a := base.Clone()
	ApplyChanges(&a, []Change{PutKey(FieldTodoChecks, "A", true)})
	b := base.Clone()
	ApplyChanges(&b, []Change{PutKey(FieldTodoChecks, "B", true)})

	// Both writers target the same document through key-level changes.
	merged := base.Clone()
	ApplyChanges(&merged, []Change{PutKey(FieldTodoChecks, "A", true)})
	ApplyChanges(&merged, []Change{PutKey(FieldTodoChecks, "B", true)})

	if !merged.TodoChecks["A"] || !merged.TodoChecks["B"] {
		t.Fatalf("expected both keys, got %+v", merged.TodoChecks)
	}
	if _, ok := merged.TodoChecks["seed"]; !ok {
		t.Fatalf("unrelated key lost: %+v", merged.TodoChecks)
	}
	if a.TodoChecks["B"] || b.TodoChecks["A"] {
		t.Fatalf("clones must not share maps")
	}
}

func TestApplyChangesAdoptionIsIdempotent(t *testing.T) {
	doc := project.New("ABC234", "owner", time.Now())
	adopted := project.AdoptedProposal{Key: "todo:t1", Title: "Add stewards", TaskID: "t1"}
	for i := 0; i < 3; i++ {
		changed := ApplyChanges(&doc, []Change{AppendUnique(FieldAdoptedProposals, adopted.Key, adopted)})
		if changed != (i == 0) {
			t.Fatalf("pass %d: changed = %v", i, changed)
		}
	}
	if len(doc.AdoptedProposals) != 1 {
		t.Fatalf("expected one adopted proposal, got %+v", doc.AdoptedProposals)
	}
}

func TestApplyChangesDecisionLogAppends(t *testing.T) {
	doc := project.New("ABC234", "owner", time.Now())
	entry := project.DecisionEntry{Key: "slot:18:00", Decision: project.DecisionDeferred}
	ApplyChanges(&doc, []Change{Append(FieldDecisionLog, entry), Append(FieldDecisionLog, entry)})
	if len(doc.ProposalDecisionLog) != 2 {
		t.Fatalf("decision log must not deduplicate, got %+v", doc.ProposalDecisionLog)
	}
}

func TestApplyChangesMapTodoPairing(t *testing.T) {
	doc := project.New("ABC234", "owner", time.Now())
	todo := project.MapTodo{ID: "m1", TaskID: "m1", Title: "Cones at exit"}

	ApplyChanges(&doc, AddMapTodo(todo).Changes)
	if len(doc.MapTodos) != 1 || doc.MapTodos[0].TaskID != "m1" {
		t.Fatalf("map todo not added: %+v", doc.MapTodos)
	}
	if checked, ok := doc.TodoChecks["m1"]; !ok || checked {
		t.Fatalf("expected false check entry, got %+v", doc.TodoChecks)
	}

	ApplyChanges(&doc, DeleteMapTodo("m1", "m1").Changes)
	if len(doc.MapTodos) != 0 {
		t.Fatalf("map todo not removed: %+v", doc.MapTodos)
	}
	if _, ok := doc.TodoChecks["m1"]; ok {
		t.Fatalf("check entry not removed: %+v", doc.TodoChecks)
	}
}

func TestApplyChangesEntityUpdateDoesNotResurrect(t *testing.T) {
	doc := project.New("ABC234", "owner", time.Now())
	pin := project.Pin{ID: "p1", Name: "Gate", Type: "security"}
	ApplyChanges(&doc, []Change{PutEntity(FieldPins, pin.ID, pin)})
	ApplyChanges(&doc, []Change{DeleteEntity(FieldPins, pin.ID)})

	pin.Name = "Gate renamed"
	if ApplyChanges(&doc, []Change{UpdateEntity(FieldPins, pin.ID, pin)}) {
		t.Fatalf("updating a deleted pin must be a no-op")
	}
	if len(doc.Pins) != 0 {
		t.Fatalf("pin resurrected: %+v", doc.Pins)
	}
}

func TestApplyChangesParticipantsGrowMonotonically(t *testing.T) {
	doc := project.New("ABC234", "owner", time.Now())
	ApplyChanges(&doc, []Change{AppendUnique(FieldParticipants, "guest", "guest")})
	ApplyChanges(&doc, []Change{AppendUnique(FieldParticipants, "guest", "guest")})
	ApplyChanges(&doc, []Change{AppendUnique(FieldParticipants, "owner", "owner")})
	if len(doc.ParticipantIDs) != 2 {
		t.Fatalf("unexpected participants %v", doc.ParticipantIDs)
	}
}

func TestMutationValidate(t *testing.T) {
	cases := []struct {
		name string
		m    Mutation
		ok   bool
	}{
		{name: "empty", m: Mutation{Name: "x"}, ok: false},
		{name: "put bool", m: Single(PutKey(FieldTodoChecks, "t1", true)), ok: true},
		{name: "put wrong type", m: Single(PutKey(FieldTodoAssignees, "t1", true)), ok: false},
		{name: "put empty key", m: Single(PutKey(FieldTodoChecks, "", true)), ok: false},
		{name: "replace map", m: Single(Replace(FieldTodoChecks, map[string]bool{})), ok: false},
		{name: "replace polygon", m: Single(Replace(FieldPolygon, []simulation.LatLng{{Lat: 1, Lng: 2}})), ok: true},
		{name: "append adopted", m: Single(Append(FieldAdoptedProposals, project.AdoptedProposal{Key: "k"})), ok: false},
		{name: "unique key mismatch", m: Single(AppendUnique(FieldAdoptedProposals, "a", project.AdoptedProposal{Key: "b"})), ok: false},
		{name: "entity id mismatch", m: Single(PutEntity(FieldPins, "p1", project.Pin{ID: "p2"})), ok: false},
		{name: "delete entity", m: Single(DeleteEntity(FieldMapTodos, "m1")), ok: true},
		{name: "delete entity of map", m: Single(DeleteEntity(FieldTodoChecks, "m1")), ok: false},
		{name: "map todo add", m: AddMapTodo(project.MapTodo{ID: "m1", TaskID: "m1"}), ok: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.m.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
