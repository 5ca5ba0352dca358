package store

import (
	"errors"
	"fmt"

	"flowguard/api/internal/project"
	"flowguard/api/internal/simulation"
)

var (
	ErrNotFound      = errors.New("project not found")
	ErrExists        = errors.New("project already exists")
	ErrInvalidChange = errors.New("invalid change")
)

// Field names one top-level field of a project document.
type Field string

const (
	FieldParticipants      Field = "participantIds"
	FieldMissionConfig     Field = "missionConfig"
	FieldPolygon           Field = "polygon"
	FieldSimulationResult  Field = "simulationResult"
	FieldTodoChecks        Field = "todoChecks"
	FieldTodoAssignees     Field = "todoAssignees"
	FieldTodoAssigneeOther Field = "todoAssigneeOther"
	FieldTodoOnSiteChecks  Field = "todoOnSiteChecks"
	FieldDecisionLog       Field = "proposalDecisionLog"
	FieldAdoptedProposals  Field = "adoptedProposals"
	FieldPins              Field = "pins"
	FieldMapTodos          Field = "mapTodos"
)

type Op string

const (
	OpReplace      Op = "replace"
	OpPutKey       Op = "put_key"
	OpDeleteKey    Op = "delete_key"
	OpAppend       Op = "append"
	OpAppendUnique Op = "append_unique"
	OpPutEntity    Op = "put_entity"
	OpUpdateEntity Op = "update_entity"
	OpDeleteEntity Op = "delete_entity"
)

// Change is one field-level edit. Key is the map key, the dedup key or the entity id,
// depending on Op.
type Change struct {
	Field Field
	Op    Op
	Key   string
	Value any
}

// Mutation is a named group of changes that a backend applies atomically.
type Mutation struct {
	Name    string
	Changes []Change
}

func Replace(field Field, value any) Change {
	return Change{Field: field, Op: OpReplace, Value: value}
}

func PutKey(field Field, key string, value any) Change {
	return Change{Field: field, Op: OpPutKey, Key: key, Value: value}
}

func DeleteKey(field Field, key string) Change {
	return Change{Field: field, Op: OpDeleteKey, Key: key}
}

func Append(field Field, value any) Change {
	return Change{Field: field, Op: OpAppend, Value: value}
}

func AppendUnique(field Field, key string, value any) Change {
	return Change{Field: field, Op: OpAppendUnique, Key: key, Value: value}
}

func PutEntity(field Field, id string, value any) Change {
	return Change{Field: field, Op: OpPutEntity, Key: id, Value: value}
}

func UpdateEntity(field Field, id string, value any) Change {
	return Change{Field: field, Op: OpUpdateEntity, Key: id, Value: value}
}

func DeleteEntity(field Field, id string) Change {
	return Change{Field: field, Op: OpDeleteEntity, Key: id}
}

// Single wraps one change in a mutation named after its field and op.
func Single(c Change) Mutation {
	return Mutation{Name: string(c.Field) + "." + string(c.Op), Changes: []Change{c}}
}

// AddMapTodo creates a map to-do together with its unchecked checklist entry.
func AddMapTodo(todo project.MapTodo) Mutation {
	return Mutation{Name: "map_todos.add", Changes: []Change{
		PutEntity(FieldMapTodos, todo.ID, todo),
		PutKey(FieldTodoChecks, todo.TaskID, false),
	}}
}

// DeleteMapTodo removes a map to-do and its checklist entry.
func DeleteMapTodo(id, taskID string) Mutation {
	return Mutation{Name: "map_todos.delete", Changes: []Change{
		DeleteEntity(FieldMapTodos, id),
		DeleteKey(FieldTodoChecks, taskID),
	}}
}

// Validate checks that every change targets a field that supports its op and carries a value
// of the field's element type.
func (m Mutation) Validate() error {
	if len(m.Changes) == 0 {
		return fmt.Errorf("%w: mutation %q has no changes", ErrInvalidChange, m.Name)
	}
	for _, c := range m.Changes {
		if err := c.validate(); err != nil {
			return fmt.Errorf("mutation %q: %w", m.Name, err)
		}
	}
	return nil
}

func (c Change) validate() error {
	bad := func(reason string) error {
		return fmt.Errorf("%w: %s %s: %s", ErrInvalidChange, c.Op, c.Field, reason)
	}
	switch c.Op {
	case OpReplace:
		switch c.Field {
		case FieldMissionConfig:
			if _, ok := c.Value.(*simulation.MissionConfig); !ok {
				return bad("want *MissionConfig")
			}
		case FieldPolygon:
			if _, ok := c.Value.([]simulation.LatLng); !ok {
				return bad("want []LatLng")
			}
		case FieldSimulationResult:
			if _, ok := c.Value.(*simulation.Result); !ok {
				return bad("want *Result")
			}
		default:
			return bad("field is not replaceable")
		}
	case OpPutKey, OpDeleteKey:
		if c.Key == "" {
			return bad("empty key")
		}
		switch c.Field {
		case FieldTodoChecks, FieldTodoOnSiteChecks:
			if _, ok := c.Value.(bool); c.Op == OpPutKey && !ok {
				return bad("want bool")
			}
		case FieldTodoAssignees, FieldTodoAssigneeOther:
			if _, ok := c.Value.(string); c.Op == OpPutKey && !ok {
				return bad("want string")
			}
		default:
			return bad("field is not a map")
		}
	case OpAppend:
		if _, ok := c.Value.(project.DecisionEntry); c.Field != FieldDecisionLog || !ok {
			return bad("only decision entries are appended")
		}
	case OpAppendUnique:
		if c.Key == "" {
			return bad("empty key")
		}
		switch c.Field {
		case FieldAdoptedProposals:
			if v, ok := c.Value.(project.AdoptedProposal); !ok || v.Key != c.Key {
				return bad("want AdoptedProposal with matching key")
			}
		case FieldParticipants:
			if v, ok := c.Value.(string); !ok || v != c.Key {
				return bad("want participant id")
			}
		default:
			return bad("field is not a set")
		}
	case OpPutEntity, OpUpdateEntity, OpDeleteEntity:
		if c.Key == "" {
			return bad("empty id")
		}
		if c.Op == OpDeleteEntity {
			if c.Field != FieldPins && c.Field != FieldMapTodos {
				return bad("field is not an entity collection")
			}
			return nil
		}
		switch c.Field {
		case FieldPins:
			if v, ok := c.Value.(project.Pin); !ok || v.ID != c.Key {
				return bad("want Pin with matching id")
			}
		case FieldMapTodos:
			if v, ok := c.Value.(project.MapTodo); !ok || v.ID != c.Key {
				return bad("want MapTodo with matching id")
			}
		default:
			return bad("field is not an entity collection")
		}
	default:
		return bad("unknown op")
	}
	return nil
}

// ApplyChanges applies already validated changes to doc in order and reports whether any of
// them modified it. It does not touch UpdatedAt.
func ApplyChanges(doc *project.Document, changes []Change) bool {
	doc.Normalize()
	changed := false
	for _, c := range changes {
		if applyChange(doc, c) {
			changed = true
		}
	}
	return changed
}

func applyChange(doc *project.Document, c Change) bool {
	switch c.Op {
	case OpReplace:
		switch c.Field {
		case FieldMissionConfig:
			doc.MissionConfig = c.Value.(*simulation.MissionConfig)
		case FieldPolygon:
			doc.Polygon = append([]simulation.LatLng{}, c.Value.([]simulation.LatLng)...)
		case FieldSimulationResult:
			doc.SimulationResult = c.Value.(*simulation.Result)
		}
		return true
	case OpPutKey:
		switch c.Field {
		case FieldTodoChecks:
			doc.TodoChecks[c.Key] = c.Value.(bool)
		case FieldTodoOnSiteChecks:
			doc.TodoOnSiteChecks[c.Key] = c.Value.(bool)
		case FieldTodoAssignees:
			doc.TodoAssignees[c.Key] = c.Value.(string)
		case FieldTodoAssigneeOther:
			doc.TodoAssigneeOther[c.Key] = c.Value.(string)
		}
		return true
	case OpDeleteKey:
		before := mapLen(doc, c.Field)
		switch c.Field {
		case FieldTodoChecks:
			delete(doc.TodoChecks, c.Key)
		case FieldTodoOnSiteChecks:
			delete(doc.TodoOnSiteChecks, c.Key)
		case FieldTodoAssignees:
			delete(doc.TodoAssignees, c.Key)
		case FieldTodoAssigneeOther:
			delete(doc.TodoAssigneeOther, c.Key)
		}
		return mapLen(doc, c.Field) != before
	case OpAppend:
		doc.ProposalDecisionLog = append(doc.ProposalDecisionLog, c.Value.(project.DecisionEntry))
		return true
	case OpAppendUnique:
		if c.Field == FieldParticipants {
			if containsString(doc.ParticipantIDs, c.Key) {
				return false
			}
			doc.ParticipantIDs = append(doc.ParticipantIDs, c.Key)
			return true
		}
		for _, p := range doc.AdoptedProposals {
			if p.Key == c.Key {
				return false
			}
		}
		doc.AdoptedProposals = append(doc.AdoptedProposals, c.Value.(project.AdoptedProposal))
		return true
	case OpPutEntity, OpUpdateEntity:
		if c.Field == FieldPins {
			var ok bool
			doc.Pins, ok = upsert(doc.Pins, c.Value.(project.Pin), func(p project.Pin) string { return p.ID }, c.Op == OpPutEntity)
			return ok
		}
		var ok bool
		doc.MapTodos, ok = upsert(doc.MapTodos, c.Value.(project.MapTodo), func(t project.MapTodo) string { return t.ID }, c.Op == OpPutEntity)
		return ok
	case OpDeleteEntity:
		if c.Field == FieldPins {
			var ok bool
			doc.Pins, ok = remove(doc.Pins, c.Key, func(p project.Pin) string { return p.ID })
			return ok
		}
		var ok bool
		doc.MapTodos, ok = remove(doc.MapTodos, c.Key, func(t project.MapTodo) string { return t.ID })
		return ok
	}
	return false
}

func mapLen(doc *project.Document, field Field) int {
	switch field {
	case FieldTodoChecks:
		return len(doc.TodoChecks)
	case FieldTodoOnSiteChecks:
		return len(doc.TodoOnSiteChecks)
	case FieldTodoAssignees:
		return len(doc.TodoAssignees)
	case FieldTodoAssigneeOther:
		return len(doc.TodoAssigneeOther)
	}
	return 0
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

// upsert replaces the entity with the same id in place. A missing entity is appended when
// insert is set and otherwise left absent.
func upsert[T any](items []T, item T, id func(T) string, insert bool) ([]T, bool) {
	for i := range items {
		if id(items[i]) == id(item) {
			items[i] = item
			return items, true
		}
	}
	if !insert {
		return items, false
	}
	return append(items, item), true
}

func remove[T any](items []T, key string, id func(T) string) ([]T, bool) {
	out := items[:0]
	removed := false
	for _, item := range items {
		if id(item) == key {
			removed = true
			continue
		}
		out = append(out, item)
	}
	return out, removed
}
