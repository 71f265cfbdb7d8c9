// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"github.com/testgen/app/pkg/ghapi"
	"github.com/testgen/app/pkg/pipeline"
	"github.com/testgen/app/pkg/publish"
	"github.com/testgen/app/pkg/webhook"
)

func (b *Bot) handlePush(ctx context.Context, e *webhook.Event, client *github.Client) error {
	event, ok := e.Parsed.(*github.PushEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for push", e.Parsed)
	}
	log := clog.FromContext(ctx).With(
		"github/repo", event.GetRepo().GetFullName(),
		"git/ref", event.GetRef(),
		"git/commit", event.GetAfter(),
		"github/user", event.GetSender().GetLogin(),
	)
	ctx = clog.WithLogger(ctx, log)

	branch, isBranch := strings.CutPrefix(event.GetRef(), "refs/heads/")
	switch {
	case event.GetDeleted() || event.GetAfter() == zeroHash:
		log.Info("ignoring branch deletion")
		return nil
	case !isBranch:
		log.Info("ignoring push to a non-branch ref")
		return nil
	case b.isSelf(event.GetSender().GetLogin(), event.GetPusher().GetName()):
		log.Info("ignoring push by the bot")
		return nil
	case b.ownBranch(branch):
		log.Info("ignoring push to a generated branch")
		return nil
	case b.DefaultBranchOnly && branch != event.GetRepo().GetDefaultBranch():
		log.Infof("ignoring push to non-default branch %s", branch)
		return nil
	}

	owner := event.GetRepo().GetOwner().GetLogin()
	if owner == "" {
		owner = event.GetRepo().GetOwner().GetName()
	}
	return b.run(ctx, e, pipeline.Target{
		Client: client,
		Repo:   ghapi.Repo{Owner: owner, Name: event.GetRepo().GetName()},
		Branch: branch,
		SHA:    event.GetAfter(),
	})
}

func (b *Bot) handlePullRequest(ctx context.Context, e *webhook.Event, client *github.Client) error {
	event, ok := e.Parsed.(*github.PullRequestEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for pull_request", e.Parsed)
	}
	pr := event.GetPullRequest()
	log := clog.FromContext(ctx).With(
		"github/repo", event.GetRepo().GetFullName(),
		"github/pull", event.GetNumber(),
		"git/ref", pr.GetHead().GetRef(),
		"github/user", event.GetSender().GetLogin(),
	)
	ctx = clog.WithLogger(ctx, log)

	switch {
	case b.isSelf(event.GetSender().GetLogin(), pr.GetUser().GetLogin()):
		log.Info("ignoring pull request by the bot")
		return nil
	case b.ownBranch(pr.GetHead().GetRef()):
		log.Info("ignoring pull request from a generated branch")
		return nil
	case pr.GetHead().GetRepo().GetID() != event.GetRepo().GetID():
		// The installation cannot write to a fork.
		log.Info("ignoring pull request from a fork")
		return nil
	}

	return b.run(ctx, e, pipeline.Target{
		Client:  client,
		Repo:    ghapi.Repo{Owner: event.GetRepo().GetOwner().GetLogin(), Name: event.GetRepo().GetName()},
		Branch:  pr.GetHead().GetRef(),
		SHA:     pr.GetHead().GetSHA(),
		Comment: event.GetNumber(),
		Mode:    pipeline.PullRequest,
	})
}

func (b *Bot) handleInstallation(ctx context.Context, e *webhook.Event, client *github.Client) error {
	event, ok := e.Parsed.(*github.InstallationEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for installation", e.Parsed)
	}
	log := clog.FromContext(ctx).With(
		"github/account", event.GetInstallation().GetAccount().GetLogin(),
		"github/user", event.GetSender().GetLogin(),
	)
	ctx = clog.WithLogger(ctx, log)

	if b.isSelf(event.GetSender().GetLogin()) {
		return nil
	}
	if len(event.Repositories) == 0 {
		log.Info("installation covers no repositories yet")
		return nil
	}
	if client == nil {
		return fmt.Errorf("installation event carries no installation id")
	}

	repo, err := ghapi.ParseRepo(event.Repositories[0].GetFullName())
	if err != nil {
		return err
	}
	pub := &publish.Publisher{Client: client, Repo: repo}
	issue, err := pub.OpenIssue(ctx, thanksTitle, thanksBody)
	if err != nil {
		return err
	}
	log.Infof("opened %s#%d", repo, issue.GetNumber())
	b.emit(ctx, repo.String(), Event{
		DeliveryID:     e.DeliveryID,
		EventType:      e.Type,
		Action:         e.Action,
		InstallationID: e.InstallationID,
	})
	return nil
}
