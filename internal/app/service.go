package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowguard/api/internal/archive"
	"flowguard/api/internal/auth"
	"flowguard/api/internal/blob"
	"flowguard/api/internal/collab"
	"flowguard/api/internal/config"
	"flowguard/api/internal/export"
	"flowguard/api/internal/insight"
	"flowguard/api/internal/project"
	"flowguard/api/internal/proposal"
	"flowguard/api/internal/rbac"
	"flowguard/api/internal/realtime"
	"flowguard/api/internal/riskapi"
	"flowguard/api/internal/session"
	"flowguard/api/internal/simulation"
)

// Participant is the caller identified by a bearer token.
type Participant struct {
	ID   string
	Name string
}

type riskClient interface {
	Simulate(ctx context.Context, req simulation.Request) (*simulation.Result, error)
	Validate(ctx context.Context, req riskapi.ValidateRequest) (riskapi.ValidateResult, error)
	Templates(ctx context.Context) ([]riskapi.ScenarioTemplate, error)
	Translate(ctx context.Context, result *simulation.Result) (*simulation.Result, error)
	ReportText(ctx context.Context, req riskapi.ReportRequest) (string, error)
	ReportPDF(ctx context.Context, req riskapi.ReportRequest, variant string) ([]byte, error)
	Assist(ctx context.Context, question string, assistContext *riskapi.AssistContext) (string, error)
	Health(ctx context.Context) error
}

type archiveService interface {
	Snapshot(doc project.Document, author, message string) (archive.Commit, bool, error)
	Tag(joinCode, hash, name string) error
	History(joinCode string, limit int) ([]archive.Commit, error)
	Get(joinCode, hash string) (project.Document, error)
}

type reportRenderer interface {
	Text(req riskapi.ReportRequest) (string, error)
	PDF(ctx context.Context, req riskapi.ReportRequest, variant export.Variant) (*export.Result, error)
}

// Deps are the collaborators of a Service. Only Projects and Tokens are required; a nil
// Archive disables history, a nil Reports store returns PDFs inline.
type Deps struct {
	Projects *collab.Service
	Locals   *session.LocalRegistry
	Active   session.ActiveProjects
	Tokens   *auth.Issuer
	Risk     riskClient
	Renderer reportRenderer
	Reports  blob.ReportStore
	Archive  archiveService
	Ping     func(ctx context.Context) error
	Logger   *zap.Logger
}

type Service struct {
	cfg      config.Config
	projects *collab.Service
	locals   *session.LocalRegistry
	active   session.ActiveProjects
	tokens   *auth.Issuer
	risk     riskClient
	renderer reportRenderer
	reports  blob.ReportStore
	archive  archiveService
	ping     func(ctx context.Context) error
	logger   *zap.Logger
	now      func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Locals == nil {
		deps.Locals = session.NewLocalRegistry()
	}
	if deps.Active == nil {
		deps.Active = session.NewMemoryActiveProjects()
	}
	if deps.Projects == nil {
		deps.Projects = collab.NewService(nil, nil, nil, deps.Logger)
	}
	return &Service{
		cfg:      cfg,
		projects: deps.Projects,
		locals:   deps.Locals,
		active:   deps.Active,
		tokens:   deps.Tokens,
		risk:     deps.Risk,
		renderer: deps.Renderer,
		reports:  deps.Reports,
		archive:  deps.Archive,
		ping:     deps.Ping,
		logger:   deps.Logger,
		now:      time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

func (s *Service) SharingEnabled() bool {
	return s.projects.Enabled()
}

// StartSession issues a token for a new anonymous participant.
func (s *Service) StartSession(name string) (string, Participant, error) {
	token, claims, err := s.tokens.Issue(uuid.NewString(), name, uuid.NewString())
	if err != nil {
		return "", Participant{}, fmt.Errorf("issue token: %w", err)
	}
	return token, Participant{ID: claims.Sub, Name: claims.Name}, nil
}

func (s *Service) ParticipantFromToken(token string) (Participant, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Participant{}, err
	}
	return Participant{ID: claims.Sub, Name: claims.Name}, nil
}

// ProjectView is a project document with the insights derived from it.
type ProjectView struct {
	Project  project.Document  `json:"project"`
	Insights *insight.Insights `json:"insights"`
	Role     rbac.Role         `json:"role"`
}

func (s *Service) textFor(locale string) proposal.Text {
	if strings.TrimSpace(locale) == "" {
		locale = s.cfg.DefaultLocale
	}
	return proposal.TextFor(locale)
}

func (s *Service) view(doc project.Document, role rbac.Role, locale string) ProjectView {
	return ProjectView{
		Project:  doc,
		Insights: insight.ForDocument(&doc, s.now(), s.textFor(locale)),
		Role:     role,
	}
}

// authorize loads the project and checks that p may perform action on it.
func (s *Service) authorize(ctx context.Context, p Participant, code string, action rbac.Action) (project.Document, rbac.Role, error) {
	doc, err := s.projects.GetProject(ctx, code)
	if err != nil {
		return project.Document{}, rbac.RoleGuest, err
	}
	role := rbac.Resolve(p.ID, doc.OwnerID, doc.HasParticipant(p.ID))
	if !rbac.Can(role, action) {
		return project.Document{}, role, domainError(http.StatusForbidden, "FORBIDDEN", "Join the project first", map[string]any{
			"role":   role,
			"action": action,
		})
	}
	return doc, role, nil
}

func (s *Service) CreateProject(ctx context.Context, p Participant, locale string) (ProjectView, error) {
	doc, err := s.projects.CreateProject(ctx, p.ID)
	if err != nil {
		return ProjectView{}, err
	}
	s.rememberActive(ctx, p, doc.JoinCode)
	s.snapshot(doc, p, "Project created")
	return s.view(doc, rbac.RoleOwner, locale), nil
}

func (s *Service) JoinProject(ctx context.Context, p Participant, code, locale string) (ProjectView, error) {
	doc, err := s.projects.JoinProject(ctx, code, p.ID)
	if err != nil {
		return ProjectView{}, err
	}
	s.rememberActive(ctx, p, doc.JoinCode)
	return s.view(doc, rbac.Resolve(p.ID, doc.OwnerID, true), locale), nil
}

func (s *Service) GetProject(ctx context.Context, p Participant, code, locale string) (ProjectView, error) {
	doc, role, err := s.authorize(ctx, p, code, rbac.ActionRead)
	if err != nil {
		return ProjectView{}, err
	}
	return s.view(doc, role, locale), nil
}

// ActiveProject returns the join code the participant last opened.
func (s *Service) ActiveProject(ctx context.Context, p Participant) (session.ActiveProject, error) {
	return s.active.LookupActiveProject(ctx, p.ID)
}

// LeaveProject forgets the participant's open project and discards their solo state.
func (s *Service) LeaveProject(ctx context.Context, p Participant) error {
	s.locals.Discard(p.ID)
	return s.active.ClearActiveProject(ctx, p.ID)
}

func (s *Service) rememberActive(ctx context.Context, p Participant, code string) {
	if err := s.active.SaveActiveProject(ctx, p.ID, code); err != nil {
		s.logger.Warn("remember active project", zap.String("participant_id", p.ID), zap.String("join_code", code), zap.Error(err))
	}
}

// Subscribe opens the live feed of a project the participant may read.
func (s *Service) Subscribe(ctx context.Context, p Participant, code string) (*realtime.Subscription, error) {
	if _, _, err := s.authorize(ctx, p, code, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.projects.Subscribe(ctx, code)
}

// LiveSnapshot is one push of the live feed. A nil Project means the project no longer exists.
type LiveSnapshot struct {
	Type     string            `json:"type"`
	JoinCode string            `json:"joinCode"`
	Project  *project.Document `json:"project"`
	Insights *insight.Insights `json:"insights"`
}

// Live recomputes insights for a pushed snapshot.
func (s *Service) Live(snap realtime.Snapshot, locale string) LiveSnapshot {
	return LiveSnapshot{
		Type:     "snapshot",
		JoinCode: snap.JoinCode,
		Project:  snap.Document,
		Insights: insight.ForDocument(snap.Document, s.now(), s.textFor(locale)),
	}
}

func (s *Service) edit(ctx context.Context, p Participant, code string) error {
	_, _, err := s.authorize(ctx, p, code, rbac.ActionEdit)
	return err
}

func (s *Service) SaveMissionConfig(ctx context.Context, p Participant, code string, cfg *simulation.MissionConfig) error {
	if err := s.edit(ctx, p, code); err != nil {
		return err
	}
	return s.projects.SaveMissionConfig(ctx, code, cfg)
}

func (s *Service) SavePolygon(ctx context.Context, p Participant, code string, polygon []simulation.LatLng) error {
	if err := s.edit(ctx, p, code); err != nil {
		return err
	}
	return s.projects.SavePolygon(ctx, code, polygon)
}

// SaveSimulationResult stores result on the project and archives the new state.
func (s *Service) SaveSimulationResult(ctx context.Context, p Participant, code string, result *simulation.Result) error {
	if err := s.edit(ctx, p, code); err != nil {
		return err
	}
	if err := s.projects.SaveSimulationResult(ctx, code, result); err != nil {
		return err
	}
	if result != nil && s.archive != nil {
		if doc, err := s.projects.GetProject(ctx, code); err == nil {
			s.snapshot(doc, p, "Simulation "+result.SimulationID)
		}
	}
	return nil
}

func (s *Service) SetTodoCheck(ctx context.Context, p Participant, code, taskID string, checked bool, snapshot map[string]bool) (map[string]bool, error) {
	if err := s.edit(ctx, p, code); err != nil {
		return nil, err
	}
	return s.projects.SetTodoCheck(ctx, code, taskID, checked, snapshot)
}

func (s *Service) SetTodoOnSiteCheck(ctx context.Context, p Participant, code, taskID string, checked bool, snapshot map[string]bool) (map[string]bool, error) {
	if err := s.edit(ctx, p, code); err != nil {
		return nil, err
	}
	return s.projects.SetTodoOnSiteCheck(ctx, code, taskID, checked, snapshot)
}

func (s *Service) SetTodoAssignee(ctx context.Context, p Participant, code, taskID, assignee string, snapshot map[string]string) (map[string]string, error) {
	if err := s.edit(ctx, p, code); err != nil {
		return nil, err
	}
	return s.projects.SetTodoAssignee(ctx, code, taskID, assignee, snapshot)
}

func (s *Service) SetTodoAssigneeOther(ctx context.Context, p Participant, code, taskID, value string, snapshot map[string]string) (map[string]string, error) {
	if err := s.edit(ctx, p, code); err != nil {
		return nil, err
	}
	return s.projects.SetTodoAssigneeOther(ctx, code, taskID, value, snapshot)
}

func (s *Service) AppendProposalDecision(ctx context.Context, p Participant, code, key string, decision project.Decision, snapshot []project.DecisionEntry) ([]project.DecisionEntry, error) {
	if err := s.edit(ctx, p, code); err != nil {
		return nil, err
	}
	return s.projects.AppendProposalDecision(ctx, code, key, decision, snapshot)
}

func (s *Service) AppendAdoptedProposal(ctx context.Context, p Participant, code string, item project.AdoptedProposal, snapshot []project.AdoptedProposal) ([]project.AdoptedProposal, error) {
	if err := s.edit(ctx, p, code); err != nil {
		return nil, err
	}
	return s.projects.AppendAdoptedProposal(ctx, code, item, snapshot)
}

func (s *Service) AddPin(ctx context.Context, p Participant, code string, in collab.PinInput, snapshot []project.Pin) (project.Pin, []project.Pin, error) {
	if err := s.edit(ctx, p, code); err != nil {
		return project.Pin{}, nil, err
	}
	return s.projects.AddPin(ctx, code, p.ID, in, snapshot)
}

func (s *Service) UpdatePin(ctx context.Context, p Participant, code, pinID string, patch collab.PinPatch, snapshot []project.Pin) ([]project.Pin, error) {
	if err := s.edit(ctx, p, code); err != nil {
		return nil, err
	}
	return s.projects.UpdatePin(ctx, code, pinID, patch, snapshot)
}

func (s *Service) DeletePin(ctx context.Context, p Participant, code, pinID string, snapshot []project.Pin) ([]project.Pin, error) {
	if err := s.edit(ctx, p, code); err != nil {
		return nil, err
	}
	return s.projects.DeletePin(ctx, code, pinID, snapshot)
}

func (s *Service) AddMapTodo(ctx context.Context, p Participant, code string, in collab.MapTodoInput, snapshot *collab.MapTodoView) (project.MapTodo, collab.MapTodoView, error) {
	if err := s.edit(ctx, p, code); err != nil {
		return project.MapTodo{}, collab.MapTodoView{}, err
	}
	return s.projects.AddMapTodo(ctx, code, in, snapshot)
}

func (s *Service) DeleteMapTodo(ctx context.Context, p Participant, code, taskID string, snapshot *collab.MapTodoView) (collab.MapTodoView, error) {
	if err := s.edit(ctx, p, code); err != nil {
		return collab.MapTodoView{}, err
	}
	return s.projects.DeleteMapTodo(ctx, code, taskID, snapshot)
}

// SoloView is the participant's local checklist state with its insights.
type SoloView struct {
	SimulationResult    *simulation.Result        `json:"simulationResult"`
	EventDate           string                    `json:"eventDate,omitempty"`
	TodoChecks          map[string]bool           `json:"todoChecks"`
	AdoptedProposals    []project.AdoptedProposal `json:"adoptedProposals"`
	ProposalDecisionLog []project.DecisionEntry   `json:"proposalDecisionLog"`
	Insights            insight.Insights          `json:"insights"`
}

func (s *Service) Solo(p Participant, locale string) SoloView {
	v := s.locals.For(p.ID).View()
	return SoloView{
		SimulationResult:    v.SimulationResult,
		EventDate:           v.EventDate,
		TodoChecks:          v.TodoChecks,
		AdoptedProposals:    v.AdoptedProposals,
		ProposalDecisionLog: v.ProposalDecisionLog,
		Insights:            insight.Compute(v, s.now(), s.textFor(locale)),
	}
}

func (s *Service) SoloSetTodoCheck(p Participant, taskID string, checked bool) map[string]bool {
	return s.locals.For(p.ID).SetTodoCheck(taskID, checked)
}

func (s *Service) SoloAppendProposalDecision(p Participant, key string, decision project.Decision) ([]project.DecisionEntry, error) {
	if !decision.Valid() || strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: %q for %q", collab.ErrInvalidDecision, decision, key)
	}
	return s.locals.For(p.ID).AppendProposalDecision(key, decision), nil
}

func (s *Service) SoloAppendAdoptedProposal(p Participant, item project.AdoptedProposal) ([]project.AdoptedProposal, error) {
	if strings.TrimSpace(item.Key) == "" {
		return nil, fmt.Errorf("%w: adopted proposal without key", collab.ErrInvalidDecision)
	}
	return s.locals.For(p.ID).AppendAdoptedProposal(item), nil
}

func (s *Service) SoloSetSimulationResult(p Participant, result *simulation.Result, eventDate string) {
	s.locals.For(p.ID).SetSimulationResult(result, eventDate)
}

func (s *Service) SoloReset(p Participant) {
	s.locals.Discard(p.ID)
}

// snapshot archives doc. Failures are logged; archiving never fails the request.
func (s *Service) snapshot(doc project.Document, p Participant, message string) {
	if s.archive == nil {
		return
	}
	commit, created, err := s.archive.Snapshot(doc, p.Name, message)
	if err != nil {
		s.logger.Warn("archive project snapshot", zap.String("join_code", doc.JoinCode), zap.Error(err))
		return
	}
	if created {
		s.logger.Debug("archived project snapshot", zap.String("join_code", doc.JoinCode), zap.String("commit", commit.Hash))
	}
}

func (s *Service) archiveOrUnavailable() (archiveService, error) {
	if s.archive == nil {
		return nil, unavailable("ARCHIVE_DISABLED", "Snapshot history is not configured")
	}
	return s.archive, nil
}

// History lists the project's archived snapshots, newest first.
func (s *Service) History(ctx context.Context, p Participant, code string, limit int) ([]archive.Commit, error) {
	doc, _, err := s.authorize(ctx, p, code, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	svc, err := s.archiveOrUnavailable()
	if err != nil {
		return nil, err
	}
	items, err := svc.History(doc.JoinCode, limit)
	if errors.Is(err, archive.ErrNoHistory) {
		return []archive.Commit{}, nil
	}
	return items, err
}

// TakeSnapshot archives the current project state on request.
func (s *Service) TakeSnapshot(ctx context.Context, p Participant, code, message string) (archive.Commit, bool, error) {
	doc, _, err := s.authorize(ctx, p, code, rbac.ActionSnapshot)
	if err != nil {
		return archive.Commit{}, false, err
	}
	svc, err := s.archiveOrUnavailable()
	if err != nil {
		return archive.Commit{}, false, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = "Snapshot"
	}
	return svc.Snapshot(doc, p.Name, message)
}

// SnapshotDiff is an archived document and the top-level fields that differ from the current one.
type SnapshotDiff struct {
	Hash          string           `json:"hash"`
	Project       project.Document `json:"project"`
	ChangedFields []string         `json:"changedFields"`
}

func (s *Service) GetSnapshot(ctx context.Context, p Participant, code, hash string) (SnapshotDiff, error) {
	current, _, err := s.authorize(ctx, p, code, rbac.ActionRead)
	if err != nil {
		return SnapshotDiff{}, err
	}
	svc, err := s.archiveOrUnavailable()
	if err != nil {
		return SnapshotDiff{}, err
	}
	archived, err := svc.Get(current.JoinCode, hash)
	if err != nil {
		return SnapshotDiff{}, err
	}
	return SnapshotDiff{Hash: hash, Project: archived, ChangedFields: archive.ChangedFields(archived, current)}, nil
}

// TagSnapshot names a snapshot. Only the owner may tag.
func (s *Service) TagSnapshot(ctx context.Context, p Participant, code, hash, name string) error {
	doc, _, err := s.authorize(ctx, p, code, rbac.ActionTag)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return validationError("name is required")
	}
	svc, err := s.archiveOrUnavailable()
	if err != nil {
		return err
	}
	return svc.Tag(doc.JoinCode, hash, name)
}
