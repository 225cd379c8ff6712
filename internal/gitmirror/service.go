package gitmirror

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"rfphub/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Kind names the subdirectory an entity mirrors into.
type Kind string

const (
	KindTemplate Kind = "templates"
	KindCustomer Kind = "customers"
	KindSkill    Kind = "skills"
)

// Service maintains a single git repository mirroring templates,
// customer profiles and skills as markdown files. All operations hold
// one repository-wide mutex: go-git worktrees are not goroutine-safe
// and every kind shares the same .git. The mirror is best-effort and
// callers must not fail their database write when a mirror operation
// errors.
type Service struct {
	baseDir string
	mu      sync.Mutex
}

func New(baseDir string) (*Service, error) {
	s := &Service{baseDir: baseDir}
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) ensureRepo() error {
	if _, err := os.Stat(filepath.Join(s.baseDir, ".git")); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat mirror dir: %w", err)
	}

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("create mirror dir: %w", err)
	}

	repo, err := git.PlainInit(s.baseDir, false)
	if err != nil {
		return fmt.Errorf("init mirror repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	readme := "# RFP Hub mirror\n\nMarkdown mirror of templates, customer profiles and skills.\n"
	if err := os.WriteFile(filepath.Join(s.baseDir, "README.md"), []byte(readme), 0o644); err != nil {
		return fmt.Errorf("write mirror readme: %w", err)
	}
	if _, err := worktree.Add("README.md"); err != nil {
		return fmt.Errorf("git add readme: %w", err)
	}
	hash, err := worktree.Commit("Initialize mirror", &git.CommitOptions{
		Author: signature("rfphub"),
	})
	if err != nil {
		return fmt.Errorf("commit mirror baseline: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// Mirror writes the markdown rendering of an entity and commits it.
func (s *Service) Mirror(kind Kind, entityID, markdown, author, message string) (store.CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.baseDir)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open mirror repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	relPath := s.entityPath(kind, entityID)
	absPath := filepath.Join(s.baseDir, relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return store.CommitInfo{}, fmt.Errorf("create %s dir: %w", kind, err)
	}
	if err := os.WriteFile(absPath, []byte(markdown), 0o644); err != nil {
		return store.CommitInfo{}, fmt.Errorf("write %s: %w", relPath, err)
	}
	if _, err := worktree.Add(relPath); err != nil {
		return store.CommitInfo{}, fmt.Errorf("git add %s: %w", relPath, err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("commit %s: %w", relPath, err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// Remove deletes the entity file and commits the removal. Missing
// files are not an error.
func (s *Service) Remove(kind Kind, entityID, author string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.baseDir)
	if err != nil {
		return fmt.Errorf("open mirror repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	relPath := s.entityPath(kind, entityID)
	if _, err := os.Stat(filepath.Join(s.baseDir, relPath)); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if _, err := worktree.Remove(relPath); err != nil {
		return fmt.Errorf("git rm %s: %w", relPath, err)
	}

	_, err = worktree.Commit(fmt.Sprintf("Remove %s %s", kindNoun(kind), entityID), &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit removal of %s: %w", relPath, err)
	}
	return nil
}

// History returns the commits that touched a single entity, newest
// first.
func (s *Service) History(kind Kind, entityID string, limit int) ([]store.CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("open mirror repo: %w", err)
	}

	relPath := s.entityPath(kind, entityID)
	iter, err := repo.Log(&git.LogOptions{
		FileName: &relPath,
	})
	if err != nil {
		return nil, fmt.Errorf("read log for %s: %w", relPath, err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log for %s: %w", relPath, err)
	}
	return items, nil
}

// ContentAt returns the entity markdown as of a commit hash.
func (s *Service) ContentAt(kind Kind, entityID, hash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("open mirror repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return "", err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}

	file, err := commitObj.File(s.entityPath(kind, entityID))
	if err != nil {
		return "", fmt.Errorf("load entity file from commit: %w", err)
	}
	content, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read entity file contents: %w", err)
	}
	return content, nil
}

func (s *Service) entityPath(kind Kind, entityID string) string {
	return filepath.Join(string(kind), entityID+".md")
}

func kindNoun(kind Kind) string {
	switch kind {
	case KindTemplate:
		return "template"
	case KindCustomer:
		return "customer"
	case KindSkill:
		return "skill"
	default:
		return string(kind)
	}
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.rfphub.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	runes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			runes = append(runes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			runes = append(runes, '.')
		}
	}
	if len(runes) == 0 {
		return "user"
	}
	return string(runes)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
