// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package scanner

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-github/v75/github"
	"github.com/testgen/app/pkg/ghapi"
)

// Kind distinguishes files from directories in a listing.
type Kind int

const (
	File Kind = iota
	Dir
)

func (k Kind) String() string {
	if k == Dir {
		return "dir"
	}
	return "file"
}

// Entry is one item of a directory listing.
type Entry struct {
	Path string
	Kind Kind
}

// Tree is a read-only view of a repository at a fixed ref.
type Tree interface {
	// List returns the immediate children of dir; "" is the root.
	List(ctx context.Context, dir string) ([]Entry, error)
	// Read returns the content of a file.
	Read(ctx context.Context, path string) (string, error)
}

// GitHubTree reads a repository through the contents API.
type GitHubTree struct {
	Client *github.Client
	Repo   ghapi.Repo
	// Ref is a branch, tag or commit. Empty means the default branch.
	Ref string

	// BackOff overrides the retry policy; used by tests.
	BackOff func() backoff.BackOff
}

var _ Tree = (*GitHubTree)(nil)

func (t *GitHubTree) backOff() backoff.BackOff {
	if t.BackOff == nil {
		return nil
	}
	return t.BackOff()
}

type contents struct {
	file *github.RepositoryContent
	dir  []*github.RepositoryContent
}

func (t *GitHubTree) get(ctx context.Context, p string) (contents, error) {
	var opts *github.RepositoryContentGetOptions
	if t.Ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: t.Ref}
	}
	return ghapi.Retry(ctx, t.backOff(), func() (contents, error) {
		file, dir, _, err := t.Client.Repositories.GetContents(ctx, t.Repo.Owner, t.Repo.Name, p, opts)
		return contents{file: file, dir: dir}, err
	})
}

func (t *GitHubTree) List(ctx context.Context, dir string) ([]Entry, error) {
	c, err := t.get(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s/%s: %w", t.Repo, dir, err)
	}
	if c.file != nil {
		return []Entry{{Path: c.file.GetPath(), Kind: File}}, nil
	}
	out := make([]Entry, 0, len(c.dir))
	for _, e := range c.dir {
		switch e.GetType() {
		case "file":
			out = append(out, Entry{Path: e.GetPath(), Kind: File})
		case "dir":
			out = append(out, Entry{Path: e.GetPath(), Kind: Dir})
		}
		// Symlinks and submodules are not followed.
	}
	return out, nil
}

func (t *GitHubTree) Read(ctx context.Context, p string) (string, error) {
	c, err := t.get(ctx, p)
	if err != nil {
		return "", fmt.Errorf("reading %s/%s: %w", t.Repo, p, err)
	}
	if c.file == nil {
		return "", fmt.Errorf("reading %s/%s: not a file", t.Repo, p)
	}
	return c.file.GetContent()
}
