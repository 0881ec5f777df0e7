// Package provider talks to the upstream repository host. Every failure that
// leaves this package is a *repofetch.UpstreamError, classified once here.
package provider

import (
	"context"

	"github.com/deeplooplabs/repofetch"
)

// Entry types reported in a directory listing
const (
	EntryTypeFile      = "file"
	EntryTypeDir       = "dir"
	EntryTypeSymlink   = "symlink"
	EntryTypeSubmodule = "submodule"
)

// DirEntry is one item of a directory listing
type DirEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
	Size int    `json:"size"`
}

// IsDir reports whether the entry is a directory
func (e DirEntry) IsDir() bool {
	return e.Type == EntryTypeDir
}

// Tag is a repository tag and the commit it points at
type Tag struct {
	Name      string `json:"name"`
	CommitSHA string `json:"commit_sha"`
}

// Provider defines the read-only operations the explorer needs from the upstream
type Provider interface {
	// Name returns the provider name
	Name() string
	// ListDirectory returns the entries of the directory at path on repo.Branch
	ListDirectory(ctx context.Context, repo repofetch.Repository, path string) ([]DirEntry, error)
	// GetFile returns the decoded text of the file at path on repo.Branch
	GetFile(ctx context.Context, repo repofetch.Repository, path string) (string, error)
	// ListTags returns the first page of repository tags
	ListTags(ctx context.Context, repo repofetch.Repository) ([]Tag, error)
}
