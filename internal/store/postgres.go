package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flowguard/api/internal/project"
	"flowguard/api/internal/simulation"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, doc project.Document) error {
	doc.Normalize()
	participants, err := json.Marshal(doc.ParticipantIDs)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (join_code, owner_id, participant_ids)
		VALUES ($1, $2, $3)
		ON CONFLICT (join_code) DO NOTHING
	`, doc.JoinCode, doc.OwnerID, participants)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if affected == 0 {
		return ErrExists
	}
	return nil
}

// Get reads the project row and its entity tables inside one repeatable-read transaction so the
// returned document is a single consistent snapshot.
func (s *PostgresStore) Get(ctx context.Context, joinCode string) (project.Document, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return project.Document{}, fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		doc                                             project.Document
		participants, polygon, checks, assignees        []byte
		assigneeOther, onSite, decisionLog, adoptedList []byte
		missionConfig, simulationResult                 []byte
	)
	err = tx.QueryRowContext(ctx, `
		SELECT join_code, owner_id, participant_ids, mission_config, polygon, simulation_result,
			todo_checks, todo_assignees, todo_assignee_other, todo_on_site_checks,
			proposal_decision_log, adopted_proposals, created_at, updated_at
		FROM projects
		WHERE join_code = $1
	`, joinCode).Scan(
		&doc.JoinCode, &doc.OwnerID, &participants, &missionConfig, &polygon, &simulationResult,
		&checks, &assignees, &assigneeOther, &onSite,
		&decisionLog, &adoptedList, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return project.Document{}, ErrNotFound
	}
	if err != nil {
		return project.Document{}, fmt.Errorf("read project: %w", err)
	}

	decode := []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"participant_ids", participants, &doc.ParticipantIDs},
		{"polygon", polygon, &doc.Polygon},
		{"todo_checks", checks, &doc.TodoChecks},
		{"todo_assignees", assignees, &doc.TodoAssignees},
		{"todo_assignee_other", assigneeOther, &doc.TodoAssigneeOther},
		{"todo_on_site_checks", onSite, &doc.TodoOnSiteChecks},
		{"proposal_decision_log", decisionLog, &doc.ProposalDecisionLog},
		{"adopted_proposals", adoptedList, &doc.AdoptedProposals},
	}
	for _, field := range decode {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return project.Document{}, fmt.Errorf("decode %s: %w", field.name, err)
		}
	}
	if len(missionConfig) > 0 {
		doc.MissionConfig = &simulation.MissionConfig{}
		if err := json.Unmarshal(missionConfig, doc.MissionConfig); err != nil {
			return project.Document{}, fmt.Errorf("decode mission_config: %w", err)
		}
	}
	if len(simulationResult) > 0 {
		doc.SimulationResult = &simulation.Result{}
		if err := json.Unmarshal(simulationResult, doc.SimulationResult); err != nil {
			return project.Document{}, fmt.Errorf("decode simulation_result: %w", err)
		}
	}

	if doc.Pins, err = listEntities[project.Pin](ctx, tx, "project_pins", joinCode); err != nil {
		return project.Document{}, err
	}
	if doc.MapTodos, err = listEntities[project.MapTodo](ctx, tx, "project_map_todos", joinCode); err != nil {
		return project.Document{}, err
	}
	doc.Normalize()
	return doc, nil
}

func listEntities[T any](ctx context.Context, tx *sql.Tx, table, joinCode string) ([]T, error) {
	rows, err := tx.QueryContext(ctx, `SELECT payload FROM `+table+` WHERE join_code = $1 ORDER BY seq`, joinCode)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", table, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

// Apply locks the project row and runs every change of m in one transaction.
func (s *PostgresStore) Apply(ctx context.Context, joinCode string, m Mutation) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin %s: %w", m.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT join_code FROM projects WHERE join_code = $1 FOR UPDATE`, joinCode).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("lock project: %w", err)
	}

	changed := false
	for _, c := range m.Changes {
		affected, err := applyChangeSQL(ctx, tx, joinCode, c)
		if err != nil {
			return false, fmt.Errorf("%s: %w", m.Name, err)
		}
		if affected {
			changed = true
		}
	}
	if !changed {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at = $2 WHERE join_code = $1`, joinCode, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("touch project: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit %s: %w", m.Name, err)
	}
	return true, nil
}

func applyChangeSQL(ctx context.Context, tx *sql.Tx, joinCode string, c Change) (bool, error) {
	var (
		query string
		args  []any
	)
	switch c.Op {
	case OpReplace:
		value, err := encodeNullable(c.Value)
		if err != nil {
			return false, err
		}
		if value == nil && c.Field == FieldPolygon {
			value = []byte("[]")
		}
		query = `UPDATE projects SET ` + column(c.Field) + ` = $2 WHERE join_code = $1`
		args = []any{joinCode, value}
	case OpPutKey:
		value, err := json.Marshal(c.Value)
		if err != nil {
			return false, fmt.Errorf("encode %s: %w", c.Field, err)
		}
		col := column(c.Field)
		query = `UPDATE projects SET ` + col + ` = ` + col + ` || jsonb_build_object($2::text, $3::jsonb) WHERE join_code = $1`
		args = []any{joinCode, c.Key, value}
	case OpDeleteKey:
		col := column(c.Field)
		query = `UPDATE projects SET ` + col + ` = ` + col + ` - $2::text WHERE join_code = $1 AND ` + col + ` ? $2::text`
		args = []any{joinCode, c.Key}
	case OpAppend:
		value, err := json.Marshal(c.Value)
		if err != nil {
			return false, fmt.Errorf("encode %s: %w", c.Field, err)
		}
		col := column(c.Field)
		query = `UPDATE projects SET ` + col + ` = ` + col + ` || jsonb_build_array($2::jsonb) WHERE join_code = $1`
		args = []any{joinCode, value}
	case OpAppendUnique:
		value, err := json.Marshal(c.Value)
		if err != nil {
			return false, fmt.Errorf("encode %s: %w", c.Field, err)
		}
		col := column(c.Field)
		probe := `to_jsonb($3::text)`
		if c.Field == FieldAdoptedProposals {
			probe = `jsonb_build_object('key', $3::text)`
		}
		query = `UPDATE projects SET ` + col + ` = ` + col + ` || jsonb_build_array($2::jsonb)
			WHERE join_code = $1 AND NOT ` + col + ` @> jsonb_build_array(` + probe + `)`
		args = []any{joinCode, value, c.Key}
	case OpPutEntity:
		value, err := json.Marshal(c.Value)
		if err != nil {
			return false, fmt.Errorf("encode %s: %w", c.Field, err)
		}
		query = `INSERT INTO ` + entityTable(c.Field) + ` (join_code, id, payload) VALUES ($1, $2, $3)
			ON CONFLICT (join_code, id) DO UPDATE SET payload = EXCLUDED.payload`
		args = []any{joinCode, c.Key, value}
	case OpUpdateEntity:
		value, err := json.Marshal(c.Value)
		if err != nil {
			return false, fmt.Errorf("encode %s: %w", c.Field, err)
		}
		query = `UPDATE ` + entityTable(c.Field) + ` SET payload = $3 WHERE join_code = $1 AND id = $2`
		args = []any{joinCode, c.Key, value}
	case OpDeleteEntity:
		query = `DELETE FROM ` + entityTable(c.Field) + ` WHERE join_code = $1 AND id = $2`
		args = []any{joinCode, c.Key}
	default:
		return false, fmt.Errorf("%w: unknown op %q", ErrInvalidChange, c.Op)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", c.Op, c.Field, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", c.Op, c.Field, err)
	}
	return affected > 0, nil
}

// encodeNullable marshals a pointer field, mapping nil to SQL NULL.
func encodeNullable(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}

// column maps a validated field to its projects column. Only fixed identifiers reach SQL.
func column(field Field) string {
	switch field {
	case FieldParticipants:
		return "participant_ids"
	case FieldMissionConfig:
		return "mission_config"
	case FieldPolygon:
		return "polygon"
	case FieldSimulationResult:
		return "simulation_result"
	case FieldTodoChecks:
		return "todo_checks"
	case FieldTodoAssignees:
		return "todo_assignees"
	case FieldTodoAssigneeOther:
		return "todo_assignee_other"
	case FieldTodoOnSiteChecks:
		return "todo_on_site_checks"
	case FieldDecisionLog:
		return "proposal_decision_log"
	case FieldAdoptedProposals:
		return "adopted_proposals"
	}
	panic("store: no column for field " + string(field))
}

func entityTable(field Field) string {
	if field == FieldPins {
		return "project_pins"
	}
	return "project_map_todos"
}
