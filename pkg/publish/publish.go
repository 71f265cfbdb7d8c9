// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package publish writes generated tests into a repository without
// clobbering concurrent changes.
package publish

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/cenkalti/backoff/v5"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"github.com/testgen/app/pkg/ghapi"
)

// State is the outcome of looking up a destination path.
type State int

const (
	// Transient is the zero value: nothing is known about the path, so it
	// must not be written.
	Transient State = iota
	NotFound
	Found
)

func (s State) String() string {
	switch s {
	case NotFound:
		return "not-found"
	case Found:
		return "found"
	default:
		return "transient"
	}
}

// Lookup is the tagged result of checking whether a file exists.
type Lookup struct {
	State State
	// SHA is the blob sha when State is Found.
	SHA string
	// Err explains a Transient result.
	Err error
}

// Op is the write a Publish performed.
type Op string

const (
	Created Op = "created"
	Updated Op = "updated"
)

// File is one generated test to write.
type File struct {
	Path    string
	Content string
	// Branch to write to; empty means the default branch.
	Branch string
}

// Result of a successful Publish.
type Result struct {
	Op        Op     `json:"op"`
	Path      string `json:"path"`
	CommitSHA string `json:"commit_sha,omitempty"`
}

// ConflictError means the destination changed between lookup and write.
// It is not retried.
type ConflictError struct {
	Path   string
	Branch string
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict writing %s on %q: %v", e.Path, e.Branch, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// DestinationPath is where the test for src is written.
func DestinationPath(src string) string {
	return "tests/test_" + path.Base(src)
}

// Publisher writes to one repository as one installation.
type Publisher struct {
	Client *github.Client
	Repo   ghapi.Repo

	// BackOff overrides the retry policy for reads; used by tests.
	BackOff func() backoff.BackOff
}

func (p *Publisher) backOff() backoff.BackOff {
	if p.BackOff == nil {
		return nil
	}
	return p.BackOff()
}

// Lookup reports whether p exists on branch. Only an explicit 404 is
// NotFound; any other failure is Transient.
func (p *Publisher) Lookup(ctx context.Context, file, branch string) Lookup {
	var opts *github.RepositoryContentGetOptions
	if branch != "" {
		opts = &github.RepositoryContentGetOptions{Ref: branch}
	}
	content, err := ghapi.Retry(ctx, p.backOff(), func() (*github.RepositoryContent, error) {
		fc, _, _, err := p.Client.Repositories.GetContents(ctx, p.Repo.Owner, p.Repo.Name, file, opts)
		return fc, err
	})
	switch {
	case ghapi.IsNotFound(err):
		return Lookup{State: NotFound}
	case err != nil:
		return Lookup{State: Transient, Err: err}
	case content == nil:
		return Lookup{State: Transient, Err: fmt.Errorf("%s is a directory", file)}
	}
	return Lookup{State: Found, SHA: content.GetSHA()}
}

// Publish creates f, or updates it in place when it already exists. A lookup
// that cannot tell whether the file exists fails without writing.
func (p *Publisher) Publish(ctx context.Context, f File) (*Result, error) {
	log := clog.FromContext(ctx).With("path", f.Path, "git/branch", f.Branch)

	l := p.Lookup(ctx, f.Path, f.Branch)
	opts := &github.RepositoryContentFileOptions{
		Content: []byte(f.Content),
	}
	if f.Branch != "" {
		opts.Branch = github.Ptr(f.Branch)
	}

	var (
		resp *github.RepositoryContentResponse
		op   Op
		err  error
	)
	switch l.State {
	case Found:
		op = Updated
		opts.Message = github.Ptr("Update test file " + f.Path)
		opts.SHA = github.Ptr(l.SHA)
		resp, _, err = p.Client.Repositories.UpdateFile(ctx, p.Repo.Owner, p.Repo.Name, f.Path, opts)
	case NotFound:
		op = Created
		opts.Message = github.Ptr("Add test file " + f.Path)
		resp, _, err = p.Client.Repositories.CreateFile(ctx, p.Repo.Owner, p.Repo.Name, f.Path, opts)
	default:
		return nil, fmt.Errorf("looking up %s: %w", f.Path, l.Err)
	}
	if err != nil {
		if ghapi.IsConflict(err) {
			log.Warnf("%s changed concurrently, skipping: %v", f.Path, err)
			return nil, &ConflictError{Path: f.Path, Branch: f.Branch, Err: err}
		}
		return nil, fmt.Errorf("writing %s: %w", f.Path, err)
	}

	res := &Result{Op: op, Path: f.Path}
	if resp != nil {
		res.CommitSHA = resp.Commit.GetSHA()
	}
	log.Infof("%s %s", op, f.Path)
	return res, nil
}

// IsConflict reports whether err is a *ConflictError.
func IsConflict(err error) bool {
	var cerr *ConflictError
	return errors.As(err, &cerr)
}
