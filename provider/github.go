package provider

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/go-github/v67/github"

	"github.com/deeplooplabs/repofetch"
)

// tagsPerPage is the only page of tags ever requested
const tagsPerPage = 100

// GitHubProvider reads repository contents through the go-github SDK
type GitHubProvider struct {
	config *ProviderConfig
	client *github.Client
}

// NewGitHubProvider creates a provider with the given configuration
func NewGitHubProvider(config *ProviderConfig) (*GitHubProvider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	client := github.NewClient(config.GetHTTPClient())
	if config.BaseURL != "" {
		base := config.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		baseURL, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse base url %q: %w", config.BaseURL, err)
		}
		client.BaseURL = baseURL
	}

	return NewGitHubProviderWithClient(client, config), nil
}

// NewGitHubProviderWithClient wraps an existing go-github client
func NewGitHubProviderWithClient(client *github.Client, config *ProviderConfig) *GitHubProvider {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Name == "" {
		config.Name = "github"
	}
	if config.UserAgent != "" {
		client.UserAgent = config.UserAgent
	}
	return &GitHubProvider{
		config: config,
		client: client,
	}
}

// Name returns the provider name
func (p *GitHubProvider) Name() string {
	return p.config.Name
}

// Config returns the provider configuration
func (p *GitHubProvider) Config() *ProviderConfig {
	return p.config
}

// ListDirectory implements Provider.ListDirectory. Directories sort before
// files, then by name.
func (p *GitHubProvider) ListDirectory(ctx context.Context, repo repofetch.Repository, path string) ([]DirEntry, error) {
	reqCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	file, dir, _, err := p.client.Repositories.GetContents(reqCtx, repo.Owner, repo.Repo, path,
		&github.RepositoryContentGetOptions{Ref: repo.Branch})
	if err != nil {
		return nil, translateError(ctx, err, "list directory")
	}
	if dir == nil && file != nil {
		return nil, repofetch.NewDecodeError(fmt.Sprintf("%q is a %s, not a directory", path, file.GetType()), nil)
	}

	entries := make([]DirEntry, 0, len(dir))
	for _, item := range dir {
		entries = append(entries, DirEntry{
			Name: item.GetName(),
			Path: item.GetPath(),
			Type: item.GetType(),
			Size: item.GetSize(),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// GetFile implements Provider.GetFile
func (p *GitHubProvider) GetFile(ctx context.Context, repo repofetch.Repository, path string) (string, error) {
	reqCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	file, _, _, err := p.client.Repositories.GetContents(reqCtx, repo.Owner, repo.Repo, path,
		&github.RepositoryContentGetOptions{Ref: repo.Branch})
	if err != nil {
		return "", translateError(ctx, err, "get file")
	}
	if file == nil {
		return "", repofetch.NewDecodeError(fmt.Sprintf("%q is a directory, not a file", path), nil)
	}

	content, err := file.GetContent()
	if err != nil {
		return "", repofetch.NewDecodeError(fmt.Sprintf("decode %q", path), err)
	}
	return content, nil
}

// ListTags implements Provider.ListTags
func (p *GitHubProvider) ListTags(ctx context.Context, repo repofetch.Repository) ([]Tag, error) {
	reqCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	tags, _, err := p.client.Repositories.ListTags(reqCtx, repo.Owner, repo.Repo,
		&github.ListOptions{PerPage: tagsPerPage})
	if err != nil {
		return nil, translateError(ctx, err, "list tags")
	}

	out := make([]Tag, 0, len(tags))
	for _, tag := range tags {
		out = append(out, Tag{
			Name:      tag.GetName(),
			CommitSHA: tag.GetCommit().GetSHA(),
		})
	}
	return out, nil
}

func (p *GitHubProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.config.Timeout)
}

// Ensure GitHubProvider implements Provider
var _ Provider = (*GitHubProvider)(nil)
