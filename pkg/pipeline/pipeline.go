// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pipeline runs one scan of a repository and publishes a generated
// test for every source file that lacks one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"github.com/hashicorp/go-multierror"
	"github.com/testgen/app/pkg/generate"
	"github.com/testgen/app/pkg/ghapi"
	"github.com/testgen/app/pkg/publish"
	"github.com/testgen/app/pkg/repoconfig"
	"github.com/testgen/app/pkg/scanner"
)

// Mode selects how generated tests reach the repository.
type Mode string

const (
	// Commit writes onto the scanned branch.
	Commit Mode = "commit"
	// PullRequest writes onto a fresh branch and proposes it.
	PullRequest Mode = "pull_request"
)

const shortSHA = 7

// Pipeline holds the settings shared by every run.
type Pipeline struct {
	Generator generate.Generator
	Scan      scanner.Config
	Mode      Mode
	// BranchPrefix names pull request branches: prefix + short head sha.
	BranchPrefix string
	// SkipEmptyPullRequest skips opening a pull request when nothing was
	// written to its branch.
	SkipEmptyPullRequest bool

	// BackOff overrides the GitHub retry policy; used by tests.
	BackOff func() backoff.BackOff
}

// Target is the repository state one run works against.
type Target struct {
	Client *github.Client
	Repo   ghapi.Repo
	// Branch is scanned and is the base for anything written.
	Branch string
	// SHA is the head of Branch, when known.
	SHA string
	// Comment, when non-zero, is the issue or pull request that gets a
	// summary comment.
	Comment int
	// Config holds repository overrides; nil means none.
	Config *repoconfig.Config
	// Mode, when set, wins over both Config and the pipeline default.
	Mode Mode
}

// Skip records a source file that was not published.
type Skip struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report summarizes a run.
type Report struct {
	Repo     string `json:"repo"`
	Branch   string `json:"branch"`
	Mode     Mode   `json:"mode"`
	Disabled bool   `json:"disabled,omitempty"`

	Sources int      `json:"sources"`
	Missing []string `json:"missing,omitempty"`

	Written []publish.Result `json:"written,omitempty"`
	Skipped []Skip           `json:"skipped,omitempty"`

	// PullRequestBranch is set once the branch exists, even if the pull
	// request could not be opened.
	PullRequestBranch string `json:"pull_request_branch,omitempty"`
	PullRequest       int    `json:"pull_request,omitempty"`
	PullRequestURL    string `json:"pull_request_url,omitempty"`
}

func (p *Pipeline) mode(t Target) Mode {
	if t.Mode != "" {
		return t.Mode
	}
	if t.Config != nil && t.Config.PublishMode != "" {
		return Mode(t.Config.PublishMode)
	}
	if p.Mode == "" {
		return Commit
	}
	return p.Mode
}

func (p *Pipeline) scanConfig(t Target) scanner.Config {
	cfg := p.Scan
	if t.Config != nil {
		if len(t.Config.Suffixes) > 0 {
			cfg.Suffixes = t.Config.Suffixes
		}
		cfg.Exclude = append(append([]string(nil), cfg.Exclude...), t.Config.Exclude...)
	}
	return cfg
}

func (p *Pipeline) tree(t Target) *scanner.GitHubTree {
	return &scanner.GitHubTree{Client: t.Client, Repo: t.Repo, Ref: t.Branch, BackOff: p.BackOff}
}

// Plan scans the target without writing anything.
func (p *Pipeline) Plan(ctx context.Context, t Target) (*scanner.Result, error) {
	res, err := scanner.Scan(ctx, p.tree(t), p.scanConfig(t))
	if err != nil {
		return nil, fmt.Errorf("scanning %s@%s: %w", t.Repo, t.Branch, err)
	}
	return res, nil
}

// Run scans the target and publishes generated tests. Files whose generation
// fails or whose destination changed concurrently are skipped; any other
// per-file failure is returned, aggregated, after the remaining files have
// been attempted. A pull request branch created before a failure is left in
// place.
func (p *Pipeline) Run(ctx context.Context, t Target) (*Report, error) {
	mode := p.mode(t)
	log := clog.FromContext(ctx).With("git/branch", t.Branch, "mode", string(mode))
	ctx = clog.WithLogger(ctx, log)

	report := &Report{Repo: t.Repo.String(), Branch: t.Branch, Mode: mode}
	if t.Config != nil && t.Config.Disabled {
		log.Info("disabled by repository settings")
		report.Disabled = true
		return report, nil
	}

	res, err := p.Plan(ctx, t)
	if err != nil {
		return report, err
	}
	report.Sources = len(res.Sources)
	report.Missing = res.Missing
	if len(res.Missing) == 0 {
		log.Info("every source file has a test")
		return report, nil
	}

	pub := &publish.Publisher{Client: t.Client, Repo: t.Repo, BackOff: p.BackOff}
	writeTo := t.Branch
	if mode == PullRequest {
		if writeTo, err = p.branch(ctx, pub, t); err != nil {
			return report, err
		}
		report.PullRequestBranch = writeTo
	}

	var merr error
	tree := p.tree(t)
	dests := make(map[string]string, len(res.Missing))
	for _, src := range res.Missing {
		dest := publish.DestinationPath(src)
		if prev, ok := dests[dest]; ok {
			report.Skipped = append(report.Skipped, Skip{Path: src, Reason: fmt.Sprintf("%s already written for %s", dest, prev)})
			continue
		}

		written, skip, err := p.one(ctx, tree, pub, src, dest, writeTo)
		switch {
		case err != nil:
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", src, err))
		case skip != nil:
			report.Skipped = append(report.Skipped, *skip)
		default:
			dests[dest] = src
			report.Written = append(report.Written, *written)
		}
	}

	if mode == PullRequest {
		if err := p.propose(ctx, pub, t, report); err != nil {
			merr = multierror.Append(merr, err)
		}
	} else if t.Comment != 0 && len(report.Written) > 0 {
		if err := pub.Comment(ctx, t.Comment, summary(report)); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	log.Infof("wrote %d tests, skipped %d", len(report.Written), len(report.Skipped))
	return report, merr
}

// one publishes the test for a single source file.
func (p *Pipeline) one(ctx context.Context, tree scanner.Tree, pub *publish.Publisher, src, dest, branch string) (*publish.Result, *Skip, error) {
	log := clog.FromContext(ctx).With("path", src)
	ctx = clog.WithLogger(ctx, log)

	source, err := tree.Read(ctx, src)
	if err != nil {
		return nil, nil, err
	}

	code, err := p.Generator.Generate(ctx, generate.Request{Path: src, Source: source, Destination: dest})
	if err != nil {
		var gerr *generate.Error
		if errors.As(err, &gerr) {
			log.Warnf("skipping: %v", err)
			return nil, &Skip{Path: src, Reason: err.Error()}, nil
		}
		return nil, nil, err
	}

	res, err := pub.Publish(ctx, publish.File{Path: dest, Content: code, Branch: branch})
	if err != nil {
		if publish.IsConflict(err) {
			return nil, &Skip{Path: src, Reason: err.Error()}, nil
		}
		return nil, nil, err
	}
	return res, nil, nil
}

func (p *Pipeline) branch(ctx context.Context, pub *publish.Publisher, t Target) (string, error) {
	sha := t.SHA
	if sha == "" {
		var err error
		if sha, err = pub.BranchHead(ctx, t.Branch); err != nil {
			return "", err
		}
	}
	if len(sha) > shortSHA {
		sha = sha[:shortSHA]
	}
	name := p.BranchPrefix + sha
	if _, err := pub.CreateBranch(ctx, name, t.Branch); err != nil {
		return "", err
	}
	return name, nil
}

// propose opens the pull request for a run and comments on the originating
// issue or pull request.
func (p *Pipeline) propose(ctx context.Context, pub *publish.Publisher, t Target, report *Report) error {
	if len(report.Written) == 0 && p.SkipEmptyPullRequest {
		clog.FromContext(ctx).Info("nothing written, not opening a pull request")
		return nil
	}
	pr, err := pub.OpenPullRequest(ctx, report.PullRequestBranch, t.Branch, "Add generated tests", summary(report))
	if err != nil {
		return err
	}
	if pr != nil {
		report.PullRequest = pr.GetNumber()
		report.PullRequestURL = pr.GetHTMLURL()
	}
	if t.Comment == 0 {
		return nil
	}
	body := summary(report)
	if report.PullRequestURL != "" {
		body += "\nReview them in " + report.PullRequestURL + "\n"
	}
	return pub.Comment(ctx, t.Comment, body)
}

func summary(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generated %d test file(s) for `%s`:\n\n", len(r.Written), r.Branch)
	for _, w := range r.Written {
		fmt.Fprintf(&b, "- `%s` (%s)\n", w.Path, w.Op)
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, "\nSkipped %d file(s):\n\n", len(r.Skipped))
		for _, s := range r.Skipped {
			fmt.Fprintf(&b, "- `%s`: %s\n", s.Path, s.Reason)
		}
	}
	return b.String()
}
