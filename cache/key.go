package cache

import (
	"fmt"
	"strings"
)

// Kind is the resource type a cache entry holds
type Kind string

const (
	// KindFile is a decoded file body
	KindFile Kind = "file"
	// KindDirectory is a directory listing
	KindDirectory Kind = "directory"
	// KindTags is the tag list of a repository
	KindTags Kind = "tags"
)

// Valid reports whether k is a known resource kind
func (k Kind) Valid() bool {
	switch k {
	case KindFile, KindDirectory, KindTags:
		return true
	default:
		return false
	}
}

// Key identifies one logical resource at one point of a branch's history
type Key struct {
	Owner  string
	Repo   string
	Branch string
	Kind   Kind
	Path   string
}

// NewKey builds a key, normalising path so "/a/b/" and "a/b" collide
func NewKey(owner, repo, branch string, kind Kind, path string) Key {
	if kind == KindTags {
		path = ""
	}
	return Key{
		Owner:  owner,
		Repo:   repo,
		Branch: branch,
		Kind:   kind,
		Path:   strings.Trim(path, "/"),
	}
}

// String renders the persisted form {owner}/{repo}/{branch}/{kind}/{path}
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", k.Owner, k.Repo, k.Branch, k.Kind, k.Path)
}
