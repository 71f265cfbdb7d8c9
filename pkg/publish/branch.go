// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"github.com/testgen/app/pkg/ghapi"
)

// BranchHead returns the commit at the tip of branch.
func (p *Publisher) BranchHead(ctx context.Context, branch string) (string, error) {
	ref, err := ghapi.Retry(ctx, p.backOff(), func() (*github.Reference, error) {
		ref, _, err := p.Client.Git.GetRef(ctx, p.Repo.Owner, p.Repo.Name, "heads/"+branch)
		return ref, err
	})
	if err != nil {
		return "", fmt.Errorf("resolving %s@%s: %w", p.Repo, branch, err)
	}
	return ref.GetObject().GetSHA(), nil
}

// CreateBranch creates name at the head of base. An existing branch of the
// same name is reused; created reports which happened.
func (p *Publisher) CreateBranch(ctx context.Context, name, base string) (created bool, err error) {
	sha, err := p.BranchHead(ctx, base)
	if err != nil {
		return false, err
	}

	if _, _, err := p.Client.Git.CreateRef(ctx, p.Repo.Owner, p.Repo.Name, github.CreateRef{
		Ref: "refs/heads/" + name,
		SHA: sha,
	}); err != nil {
		if ghapi.AlreadyExists(err) {
			clog.FromContext(ctx).Infof("branch %s already exists, reusing it", name)
			return false, nil
		}
		return false, fmt.Errorf("creating branch %s: %w", name, err)
	}
	clog.FromContext(ctx).Infof("created branch %s from %s@%s", name, base, sha)
	return true, nil
}

// OpenPullRequest proposes head for merging into base. When a pull request
// for head already exists it returns (nil, nil).
func (p *Publisher) OpenPullRequest(ctx context.Context, head, base, title, body string) (*github.PullRequest, error) {
	pr, _, err := p.Client.PullRequests.Create(ctx, p.Repo.Owner, p.Repo.Name, &github.NewPullRequest{
		Title: github.Ptr(title),
		Head:  github.Ptr(head),
		Base:  github.Ptr(base),
		Body:  github.Ptr(body),
	})
	if err != nil {
		if ghapi.AlreadyExists(err) {
			clog.FromContext(ctx).Infof("pull request for %s already open", head)
			return nil, nil
		}
		return nil, fmt.Errorf("opening pull request %s -> %s: %w", head, base, err)
	}
	return pr, nil
}

// Comment posts body on an issue or pull request.
func (p *Publisher) Comment(ctx context.Context, number int, body string) error {
	if _, _, err := p.Client.Issues.CreateComment(ctx, p.Repo.Owner, p.Repo.Name, number, &github.IssueComment{
		Body: github.Ptr(body),
	}); err != nil {
		return fmt.Errorf("commenting on #%d: %w", number, err)
	}
	return nil
}

// OpenIssue files a new issue.
func (p *Publisher) OpenIssue(ctx context.Context, title, body string) (*github.Issue, error) {
	issue, _, err := p.Client.Issues.Create(ctx, p.Repo.Owner, p.Repo.Name, &github.IssueRequest{
		Title: github.Ptr(title),
		Body:  github.Ptr(body),
	})
	if err != nil {
		return nil, fmt.Errorf("opening issue in %s: %w", p.Repo, err)
	}
	return issue, nil
}
