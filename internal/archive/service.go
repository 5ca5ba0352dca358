// Package archive keeps a git history of project snapshots, one repository per join code.
package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"flowguard/api/internal/project"
)

const (
	snapshotFile = "project.json"
	mainBranch   = "main"
)

var (
	ErrNoHistory       = errors.New("project has no archived snapshots")
	ErrUnknownSnapshot = errors.New("unknown snapshot")
)

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Snapshot commits doc to the project's history. When doc is identical to the latest
// snapshot nothing is committed and created is false.
func (s *Service) Snapshot(doc project.Document, author, message string) (commit Commit, created bool, err error) {
	lock := s.projectLock(doc.JoinCode)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(doc.JoinCode)
	if err != nil {
		return Commit{}, false, err
	}

	payload, err := encode(doc)
	if err != nil {
		return Commit{}, false, err
	}
	if head, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true); err == nil {
		headCommit, err := repo.CommitObject(head.Hash())
		if err != nil {
			return Commit{}, false, fmt.Errorf("load head commit: %w", err)
		}
		previous, err := readSnapshotBytes(headCommit)
		if err != nil {
			return Commit{}, false, err
		}
		if bytes.Equal(previous, payload) {
			return toCommit(headCommit), false, nil
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, false, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), snapshotFile), payload, 0o644); err != nil {
		return Commit{}, false, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Commit{}, false, fmt.Errorf("git add snapshot: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@participants.flowguard.local", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return Commit{}, false, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), true, nil
}

// Tag names a snapshot, typically after the simulation it archived. Existing tags are kept.
func (s *Service) Tag(joinCode, hash, name string) error {
	lock := s.projectLock(joinCode)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(joinCode)
	if err != nil {
		return err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return err
	}
	_, err = repo.CreateTag(name, resolved, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "FlowGuard",
			Email: "archive@flowguard.local",
			When:  s.now(),
		},
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

// History lists snapshots newest first. A non-positive limit lists all of them.
func (s *Service) History(joinCode string, limit int) ([]Commit, error) {
	lock := s.projectLock(joinCode)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(joinCode)
	if err != nil {
		return nil, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, ErrNoHistory
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(c *object.Commit) error {
		items = append(items, toCommit(c))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Get returns the document archived at hash, which may be abbreviated or a tag name.
func (s *Service) Get(joinCode, hash string) (project.Document, error) {
	lock := s.projectLock(joinCode)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(joinCode)
	if err != nil {
		return project.Document{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return project.Document{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return project.Document{}, fmt.Errorf("%w %s", ErrUnknownSnapshot, hash)
	}
	if err != nil {
		return project.Document{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	raw, err := readSnapshotBytes(commitObj)
	if err != nil {
		return project.Document{}, err
	}
	var doc project.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return project.Document{}, fmt.Errorf("decode snapshot: %w", err)
	}
	doc.Normalize()
	return doc, nil
}

// ChangedFields lists the top-level document fields that differ, sorted by name.
func ChangedFields(from, to project.Document) []string {
	a, b := fieldMap(from), fieldMap(to)
	out := make([]string, 0)
	for name, value := range b {
		if !bytes.Equal(a[name], value) {
			out = append(out, name)
		}
	}
	for name := range a {
		if _, ok := b[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func fieldMap(doc project.Document) map[string]json.RawMessage {
	doc.Normalize()
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	delete(fields, "updatedAt")
	return fields
}

func (s *Service) repoPath(joinCode string) string {
	return filepath.Join(s.baseDir, joinCode)
}

func (s *Service) open(joinCode string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(joinCode))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(joinCode string) (*git.Repository, error) {
	path := s.repoPath(joinCode)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(mainBranch)},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) projectLock(joinCode string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[joinCode]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[joinCode] = lock
	return lock
}

// encode writes doc without updatedAt so identical content yields identical bytes.
func encode(doc project.Document) ([]byte, error) {
	doc.Normalize()
	doc.UpdatedAt = time.Time{}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return append(payload, '\n'), nil
}

func readSnapshotBytes(commitObj *object.Commit) ([]byte, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read snapshot bytes: %w", err)
	}
	return raw, nil
}

func toCommit(c *object.Commit) Commit {
	return Commit{
		Hash:      c.Hash.String()[:7],
		Message:   c.Message,
		Author:    c.Author.Name,
		CreatedAt: c.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "participant"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w %s: %v", ErrUnknownSnapshot, hash, err)
	}
	return *resolved, nil
}
