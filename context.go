package repofetch

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// DefaultBranch is used when a repository is configured without a branch
const DefaultBranch = "main"

// ErrInvalidRepository is wrapped by every Repository validation failure
var ErrInvalidRepository = errors.New("invalid repository")

// Repository identifies the upstream origin every cache key and URL is built from
type Repository struct {
	Owner  string `json:"owner" yaml:"owner"`
	Repo   string `json:"repo" yaml:"repo"`
	Branch string `json:"branch" yaml:"branch"`
}

// Validate checks that the identity is usable
func (r Repository) Validate() error {
	if strings.TrimSpace(r.Owner) == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidRepository)
	}
	if strings.TrimSpace(r.Repo) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRepository)
	}
	if strings.TrimSpace(r.Branch) == "" {
		return fmt.Errorf("%w: branch is required", ErrInvalidRepository)
	}
	if strings.Contains(r.Owner, "/") || strings.Contains(r.Repo, "/") {
		return fmt.Errorf("%w: %q: owner and name must not contain '/'", ErrInvalidRepository, r.Owner+"/"+r.Repo)
	}
	return nil
}

// String returns owner/repo@branch
func (r Repository) String() string {
	return r.Owner + "/" + r.Repo + "@" + r.Branch
}

// RepositoryContext holds the current repository identity.
// It is shared by every request the application issues.
type RepositoryContext struct {
	mu      sync.RWMutex
	current Repository
}

// NewRepositoryContext creates a context starting at repo (which may be empty)
func NewRepositoryContext(repo Repository) *RepositoryContext {
	if repo.Branch == "" {
		repo.Branch = DefaultBranch
	}
	return &RepositoryContext{current: repo}
}

// Set replaces the current identity
func (c *RepositoryContext) Set(owner, repo, branch string) error {
	if branch == "" {
		branch = DefaultBranch
	}
	next := Repository{
		Owner:  strings.TrimSpace(owner),
		Repo:   strings.TrimSpace(repo),
		Branch: strings.TrimSpace(branch),
	}
	if err := next.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = next
	return nil
}

// Get returns the current identity
func (c *RepositoryContext) Get() Repository {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}
