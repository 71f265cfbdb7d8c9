// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bot turns GitHub events into pipeline runs.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/go-github/v75/github"
	"github.com/testgen/app/pkg/ghapi"
	"github.com/testgen/app/pkg/pipeline"
	"github.com/testgen/app/pkg/repoconfig"
	"github.com/testgen/app/pkg/webhook"
)

const (
	retryDelay = 10 * time.Millisecond
	maxRetry   = 3

	// EventType is the cloudevent emitted after every handled delivery.
	EventType   = "dev.testgen.run"
	eventSource = "https://github.com/apps/testgen"

	zeroHash = "0000000000000000000000000000000000000000"

	thanksTitle = "Thanks for installing testgen"
	thanksBody  = "testgen will look for source files without tests on every push and propose generated tests for them.\n\n" +
		"Add a `" + repoconfig.Path + "` file to tune or disable it for this repository."
)

// Bot owns the event handlers.
type Bot struct {
	Pipeline *pipeline.Pipeline
	// Login is the App's bot account, e.g. "testgen[bot]". Events it
	// caused are ignored.
	Login string
	// Configs loads per-repository settings; nil disables them.
	Configs *repoconfig.Loader
	// Events receives one cloudevent per handled delivery; nil disables them.
	Events cloudevents.Client
	// DefaultBranchOnly ignores pushes to any other branch.
	DefaultBranchOnly bool
}

// Register installs the bot's handlers on r.
func (b *Bot) Register(r *webhook.Router) {
	r.Handle("push", webhook.AnyAction, b.handlePush)
	for _, action := range []string{"opened", "synchronize", "reopened"} {
		r.Handle("pull_request", action, b.handlePullRequest)
	}
	r.Handle("installation", "created", b.handleInstallation)
}

// Event is the payload of the emitted cloudevent.
type Event struct {
	DeliveryID     string           `json:"delivery_id"`
	EventType      string           `json:"event_type"`
	Action         string           `json:"action,omitempty"`
	InstallationID int64            `json:"installation_id"`
	Report         *pipeline.Report `json:"report,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// isSelf reports whether the event was caused by the bot itself.
func (b *Bot) isSelf(logins ...string) bool {
	if b.Login == "" {
		return false
	}
	for _, l := range logins {
		if strings.EqualFold(l, b.Login) {
			return true
		}
	}
	return false
}

func (b *Bot) ownBranch(branch string) bool {
	return b.Pipeline.BranchPrefix != "" && strings.HasPrefix(branch, b.Pipeline.BranchPrefix)
}

func (b *Bot) config(ctx context.Context, client *github.Client, repo ghapi.Repo, ref string) (*repoconfig.Config, error) {
	if b.Configs == nil {
		return nil, nil
	}
	return b.Configs.Load(ctx, client, repo, ref)
}

func (b *Bot) run(ctx context.Context, e *webhook.Event, t pipeline.Target) (err error) {
	e2 := Event{
		DeliveryID:     e.DeliveryID,
		EventType:      e.Type,
		Action:         e.Action,
		InstallationID: e.InstallationID,
	}
	defer func() {
		if err != nil {
			e2.Error = err.Error()
		}
		b.emit(ctx, t.Repo.String(), e2)
	}()

	if t.Client == nil {
		return fmt.Errorf("%s event for %s carries no installation", e.Type, t.Repo)
	}
	if t.Config, err = b.config(ctx, t.Client, t.Repo, t.SHA); err != nil {
		return err
	}
	e2.Report, err = b.Pipeline.Run(ctx, t)
	return err
}

func (b *Bot) emit(ctx context.Context, subject string, data Event) {
	if b.Events == nil {
		return
	}
	event := cloudevents.NewEvent()
	event.SetType(EventType)
	event.SetSubject(subject)
	event.SetSource(eventSource)
	if err := event.SetData(cloudevents.ApplicationJSON, data); err != nil {
		clog.FromContext(ctx).Infof("Failed to encode event payload: %v", err)
		return
	}
	rctx := cloudevents.ContextWithRetriesExponentialBackoff(context.WithoutCancel(ctx), retryDelay, maxRetry)
	if ceresult := b.Events.Send(rctx, event); cloudevents.IsUndelivered(ceresult) || cloudevents.IsNACK(ceresult) {
		clog.FromContext(ctx).Errorf("Failed to deliver event: %v", ceresult)
	}
}
