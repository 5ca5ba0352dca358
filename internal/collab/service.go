// Package collab reconciles concurrent participant edits to a shared project document.
//
// Every mutating operation accepts an optional snapshot of the field it changes. With a
// snapshot the change is merged into the caller's view and no read is made; without one the
// current field is read from the store first. The store write itself is always field-level
// (one map key, one appended entry, one entity), so concurrent edits to different keys or
// entities never overwrite each other. A nil snapshot means "no snapshot"; an empty non-nil
// one is a valid empty view.
package collab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowguard/api/internal/metrics"
	"flowguard/api/internal/project"
	"flowguard/api/internal/realtime"
	"flowguard/api/internal/simulation"
	"flowguard/api/internal/store"
	"flowguard/api/internal/util"
)

var (
	// ErrNotConfigured means no document store is configured. Sharing stays disabled for the
	// life of the process; solo sessions are unaffected.
	ErrNotConfigured   = errors.New("project sharing is not configured")
	ErrInvalidDecision = errors.New("invalid proposal decision")
	ErrInvalidJoinCode = errors.New("invalid join code")
)

const maxJoinCodeAttempts = 8

type Service struct {
	docs     store.DocumentStore
	notifier realtime.Notifier
	hub      *realtime.Hub
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
	newCode  func() string
}

// NewService returns a service over docs. docs may be nil, in which case every operation
// returns ErrNotConfigured. notifier and hub are optional.
func NewService(docs store.DocumentStore, notifier realtime.Notifier, hub *realtime.Hub, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		docs:     docs,
		notifier: notifier,
		hub:      hub,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		newCode:  util.NewJoinCode,
	}
}

func (s *Service) Enabled() bool {
	return s != nil && s.docs != nil
}

func (s *Service) ready(code string) (string, error) {
	if !s.Enabled() {
		return "", ErrNotConfigured
	}
	code = project.NormalizeJoinCode(code)
	if !project.ValidJoinCode(code) {
		return "", fmt.Errorf("%w: %q", ErrInvalidJoinCode, code)
	}
	return code, nil
}

// apply writes m and publishes the change. A failed publish is logged; the write stands.
func (s *Service) apply(ctx context.Context, code string, m store.Mutation) error {
	started := time.Now()
	changed, err := s.docs.Apply(ctx, code, m)
	metrics.ObserveMutation(m.Name, started, err)
	if err != nil {
		return err
	}
	if changed && s.notifier != nil {
		if err := s.notifier.Publish(ctx, code); err != nil {
			s.logger.Warn("publish project change", zap.String("join_code", code), zap.String("mutation", m.Name), zap.Error(err))
		}
	}
	return nil
}

// load reads the current document. A missing document yields ok=false and no error.
func (s *Service) load(ctx context.Context, code string) (project.Document, bool, error) {
	doc, err := s.docs.Get(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return project.Document{}, false, nil
	}
	if err != nil {
		return project.Document{}, false, fmt.Errorf("read project: %w", err)
	}
	return doc, true, nil
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// CreateProject creates an empty project owned by ownerID under a fresh join code.
func (s *Service) CreateProject(ctx context.Context, ownerID string) (project.Document, error) {
	if !s.Enabled() {
		return project.Document{}, ErrNotConfigured
	}
	for attempt := 0; attempt < maxJoinCodeAttempts; attempt++ {
		doc := project.New(s.newCode(), ownerID, s.now().UTC())
		started := time.Now()
		err := s.docs.Create(ctx, doc)
		metrics.ObserveMutation("project.create", started, err)
		if errors.Is(err, store.ErrExists) {
			continue
		}
		if err != nil {
			return project.Document{}, fmt.Errorf("create project: %w", err)
		}
		s.logger.Info("project created", zap.String("join_code", doc.JoinCode), zap.String("owner_id", ownerID))
		return doc, nil
	}
	return project.Document{}, fmt.Errorf("create project: no free join code after %d attempts", maxJoinCodeAttempts)
}

// JoinProject adds participantID to the project and returns the document. The participant set
// only grows.
func (s *Service) JoinProject(ctx context.Context, code, participantID string) (project.Document, error) {
	code, err := s.ready(code)
	if err != nil {
		return project.Document{}, err
	}
	doc, err := s.docs.Get(ctx, code)
	if err != nil {
		return project.Document{}, err
	}
	if participantID == "" || doc.HasParticipant(participantID) {
		return doc, nil
	}
	if err := s.apply(ctx, code, store.Single(store.AppendUnique(store.FieldParticipants, participantID, participantID))); err != nil {
		return project.Document{}, err
	}
	doc.ParticipantIDs = append(doc.ParticipantIDs, participantID)
	return doc, nil
}

func (s *Service) GetProject(ctx context.Context, code string) (project.Document, error) {
	code, err := s.ready(code)
	if err != nil {
		return project.Document{}, err
	}
	return s.docs.Get(ctx, code)
}

// Subscribe opens a live feed of full-document snapshots for code.
func (s *Service) Subscribe(ctx context.Context, code string) (*realtime.Subscription, error) {
	code, err := s.ready(code)
	if err != nil {
		return nil, err
	}
	if s.hub == nil {
		return nil, ErrNotConfigured
	}
	return s.hub.Subscribe(ctx, code)
}

func (s *Service) SaveMissionConfig(ctx context.Context, code string, config *simulation.MissionConfig) error {
	code, err := s.ready(code)
	if err != nil {
		return err
	}
	return s.apply(ctx, code, store.Single(store.Replace(store.FieldMissionConfig, config)))
}

func (s *Service) SavePolygon(ctx context.Context, code string, polygon []simulation.LatLng) error {
	code, err := s.ready(code)
	if err != nil {
		return err
	}
	if polygon == nil {
		polygon = []simulation.LatLng{}
	}
	return s.apply(ctx, code, store.Single(store.Replace(store.FieldPolygon, polygon)))
}

func (s *Service) SaveSimulationResult(ctx context.Context, code string, result *simulation.Result) error {
	code, err := s.ready(code)
	if err != nil {
		return err
	}
	return s.apply(ctx, code, store.Single(store.Replace(store.FieldSimulationResult, result)))
}

func (s *Service) SetTodoCheck(ctx context.Context, code, taskID string, checked bool, snapshot map[string]bool) (map[string]bool, error) {
	return setKey(ctx, s, code, store.FieldTodoChecks, taskID, checked, snapshot,
		func(d project.Document) map[string]bool { return d.TodoChecks })
}

func (s *Service) SetTodoOnSiteCheck(ctx context.Context, code, taskID string, checked bool, snapshot map[string]bool) (map[string]bool, error) {
	return setKey(ctx, s, code, store.FieldTodoOnSiteChecks, taskID, checked, snapshot,
		func(d project.Document) map[string]bool { return d.TodoOnSiteChecks })
}

func (s *Service) SetTodoAssignee(ctx context.Context, code, taskID, assignee string, snapshot map[string]string) (map[string]string, error) {
	return setKey(ctx, s, code, store.FieldTodoAssignees, taskID, assignee, snapshot,
		func(d project.Document) map[string]string { return d.TodoAssignees })
}

func (s *Service) SetTodoAssigneeOther(ctx context.Context, code, taskID, value string, snapshot map[string]string) (map[string]string, error) {
	return setKey(ctx, s, code, store.FieldTodoAssigneeOther, taskID, value, snapshot,
		func(d project.Document) map[string]string { return d.TodoAssigneeOther })
}

// setKey merges {key: value} into the field view and writes only that key.
func setKey[V any](ctx context.Context, s *Service, code string, field store.Field, key string, value V, snapshot map[string]V, pick func(project.Document) map[string]V) (map[string]V, error) {
	code, err := s.ready(code)
	if err != nil {
		return nil, err
	}
	view := snapshot
	if view == nil {
		doc, ok, err := s.load(ctx, code)
		if err != nil || !ok {
			return nil, err
		}
		view = pick(doc)
	}
	merged := project.CopyMap(view)
	merged[key] = value
	if err := s.apply(ctx, code, store.Single(store.PutKey(field, key, value))); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return merged, nil
}

// AppendProposalDecision appends one decision to the log. Entries are never deduplicated.
func (s *Service) AppendProposalDecision(ctx context.Context, code, key string, decision project.Decision, snapshot []project.DecisionEntry) ([]project.DecisionEntry, error) {
	code, err := s.ready(code)
	if err != nil {
		return nil, err
	}
	if key == "" || !decision.Valid() {
		return nil, fmt.Errorf("%w: %q for %q", ErrInvalidDecision, decision, key)
	}
	view := snapshot
	if view == nil {
		doc, ok, err := s.load(ctx, code)
		if err != nil || !ok {
			return nil, err
		}
		view = doc.ProposalDecisionLog
	}
	entry := project.DecisionEntry{Key: key, Decision: decision, At: s.timestamp()}
	if err := s.apply(ctx, code, store.Single(store.Append(store.FieldDecisionLog, entry))); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return append(append([]project.DecisionEntry{}, view...), entry), nil
}

// AppendAdoptedProposal adds item unless an entry with the same key is already present. The
// no-op case succeeds without writing.
func (s *Service) AppendAdoptedProposal(ctx context.Context, code string, item project.AdoptedProposal, snapshot []project.AdoptedProposal) ([]project.AdoptedProposal, error) {
	code, err := s.ready(code)
	if err != nil {
		return nil, err
	}
	if item.Key == "" {
		return nil, fmt.Errorf("%w: adopted proposal without key", ErrInvalidDecision)
	}
	view := snapshot
	if view == nil {
		doc, ok, err := s.load(ctx, code)
		if err != nil || !ok {
			return nil, err
		}
		view = doc.AdoptedProposals
	}
	for _, existing := range view {
		if existing.Key == item.Key {
			return view, nil
		}
	}
	if err := s.apply(ctx, code, store.Single(store.AppendUnique(store.FieldAdoptedProposals, item.Key, item))); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return append(append([]project.AdoptedProposal{}, view...), item), nil
}

type PinInput struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Name string  `json:"name"`
	Memo string  `json:"memo,omitempty"`
	Type string  `json:"type"`
}

// PinPatch changes the fields that are non-nil.
type PinPatch struct {
	Name *string `json:"name,omitempty"`
	Memo *string `json:"memo,omitempty"`
	Type *string `json:"type,omitempty"`
}

var pinTypes = map[string]bool{"security": true, "danger": true, "caution": true, "guidance": true, "other": true}

// NormalizePinType maps unknown or blank pin types to "other".
func NormalizePinType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if pinTypes[t] {
		return t
	}
	return "other"
}

// AddPin creates a pin. It reports store.ErrNotFound when the project does not exist.
func (s *Service) AddPin(ctx context.Context, code, createdBy string, in PinInput, snapshot []project.Pin) (project.Pin, []project.Pin, error) {
	code, err := s.ready(code)
	if err != nil {
		return project.Pin{}, nil, err
	}
	view := snapshot
	if view == nil {
		doc, err := s.docs.Get(ctx, code)
		if err != nil {
			return project.Pin{}, nil, err
		}
		view = doc.Pins
	}
	now := s.now().UTC()
	pin := project.Pin{
		ID:        s.newID(),
		Lat:       in.Lat,
		Lng:       in.Lng,
		Name:      strings.TrimSpace(in.Name),
		Memo:      strings.TrimSpace(in.Memo),
		Type:      NormalizePinType(in.Type),
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.apply(ctx, code, store.Single(store.PutEntity(store.FieldPins, pin.ID, pin))); err != nil {
		return project.Pin{}, nil, err
	}
	return pin, append(append([]project.Pin{}, view...), pin), nil
}

// UpdatePin patches an existing pin. Unknown pins and missing projects are a no-op.
func (s *Service) UpdatePin(ctx context.Context, code, pinID string, patch PinPatch, snapshot []project.Pin) ([]project.Pin, error) {
	code, err := s.ready(code)
	if err != nil {
		return nil, err
	}
	view := snapshot
	if view == nil {
		doc, ok, err := s.load(ctx, code)
		if err != nil || !ok {
			return nil, err
		}
		view = doc.Pins
	}
	next := append([]project.Pin{}, view...)
	index := -1
	for i := range next {
		if next[i].ID == pinID {
			index = i
			break
		}
	}
	if index < 0 {
		return next, nil
	}
	pin := next[index]
	if patch.Name != nil {
		pin.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Memo != nil {
		pin.Memo = strings.TrimSpace(*patch.Memo)
	}
	if patch.Type != nil {
		pin.Type = NormalizePinType(*patch.Type)
	}
	pin.UpdatedAt = s.now().UTC()
	next[index] = pin
	if err := s.apply(ctx, code, store.Single(store.UpdateEntity(store.FieldPins, pin.ID, pin))); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return next, nil
}

// DeletePin removes a pin. Unknown pins and missing projects are a no-op.
func (s *Service) DeletePin(ctx context.Context, code, pinID string, snapshot []project.Pin) ([]project.Pin, error) {
	code, err := s.ready(code)
	if err != nil {
		return nil, err
	}
	view := snapshot
	if view == nil {
		doc, ok, err := s.load(ctx, code)
		if err != nil || !ok {
			return nil, err
		}
		view = doc.Pins
	}
	next := make([]project.Pin, 0, len(view))
	for _, pin := range view {
		if pin.ID != pinID {
			next = append(next, pin)
		}
	}
	if len(next) == len(view) {
		return next, nil
	}
	if err := s.apply(ctx, code, store.Single(store.DeleteEntity(store.FieldPins, pinID))); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return next, nil
}

type MapTodoInput struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Title string  `json:"title"`
}

// MapTodoView is the pair of fields a map to-do mutation touches.
type MapTodoView struct {
	MapTodos   []project.MapTodo `json:"mapTodos"`
	TodoChecks map[string]bool   `json:"todoChecks"`
}

// AddMapTodo creates a map to-do and its unchecked checklist entry in one mutation. The
// snapshot is used only when both fields are supplied. It reports store.ErrNotFound when the
// project does not exist.
func (s *Service) AddMapTodo(ctx context.Context, code string, in MapTodoInput, snapshot *MapTodoView) (project.MapTodo, MapTodoView, error) {
	code, err := s.ready(code)
	if err != nil {
		return project.MapTodo{}, MapTodoView{}, err
	}
	view, err := s.mapTodoView(ctx, code, snapshot, true)
	if err != nil {
		return project.MapTodo{}, MapTodoView{}, err
	}
	id := s.newID()
	todo := project.MapTodo{
		ID:        id,
		TaskID:    id,
		Lat:       in.Lat,
		Lng:       in.Lng,
		Title:     strings.TrimSpace(in.Title),
		CreatedAt: s.now().UTC(),
	}
	if err := s.apply(ctx, code, store.AddMapTodo(todo)); err != nil {
		return project.MapTodo{}, MapTodoView{}, err
	}
	view.MapTodos = append(view.MapTodos, todo)
	view.TodoChecks[todo.TaskID] = false
	return todo, view, nil
}

// DeleteMapTodo removes the map to-do for taskID and its checklist entry in one mutation.
// Missing projects are a no-op.
func (s *Service) DeleteMapTodo(ctx context.Context, code, taskID string, snapshot *MapTodoView) (MapTodoView, error) {
	code, err := s.ready(code)
	if err != nil {
		return MapTodoView{}, err
	}
	view, err := s.mapTodoView(ctx, code, snapshot, false)
	if err != nil || view.TodoChecks == nil {
		return MapTodoView{}, err
	}
	id := taskID
	kept := make([]project.MapTodo, 0, len(view.MapTodos))
	for _, todo := range view.MapTodos {
		if todo.TaskID == taskID {
			id = todo.ID
			continue
		}
		kept = append(kept, todo)
	}
	if err := s.apply(ctx, code, store.DeleteMapTodo(id, taskID)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return MapTodoView{}, nil
		}
		return MapTodoView{}, err
	}
	delete(view.TodoChecks, taskID)
	view.MapTodos = kept
	return view, nil
}

// mapTodoView returns a private copy of the map-to-do pair, from the snapshot when it is
// complete and from the store otherwise. A missing project is an error only when strict.
func (s *Service) mapTodoView(ctx context.Context, code string, snapshot *MapTodoView, strict bool) (MapTodoView, error) {
	if snapshot != nil && snapshot.MapTodos != nil && snapshot.TodoChecks != nil {
		return MapTodoView{
			MapTodos:   append([]project.MapTodo{}, snapshot.MapTodos...),
			TodoChecks: project.CopyMap(snapshot.TodoChecks),
		}, nil
	}
	doc, err := s.docs.Get(ctx, code)
	if errors.Is(err, store.ErrNotFound) && !strict {
		return MapTodoView{}, nil
	}
	if err != nil {
		return MapTodoView{}, err
	}
	return MapTodoView{MapTodos: doc.MapTodos, TodoChecks: doc.TodoChecks}, nil
}
