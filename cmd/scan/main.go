// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Command scan runs one scan of a repository outside of any webhook
// delivery, optionally publishing generated tests.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	kms "cloud.google.com/go/kms/apiv1"
	"github.com/chainguard-dev/clog"
	"github.com/testgen/app/pkg/credentials"
	envConfig "github.com/testgen/app/pkg/envconfig"
	"github.com/testgen/app/pkg/generate"
	"github.com/testgen/app/pkg/ghapi"
	"github.com/testgen/app/pkg/ghinstall"
	"github.com/testgen/app/pkg/ghtransport"
	"github.com/testgen/app/pkg/pipeline"
	"github.com/testgen/app/pkg/publish"
	"github.com/testgen/app/pkg/ratelimit"
	"github.com/testgen/app/pkg/repoconfig"
	"github.com/testgen/app/pkg/scanner"
)

var (
	repoFlag   = flag.String("repo", "", "repository to scan, as owner/name")
	branchFlag = flag.String("branch", "", "branch to scan; defaults to the repository's default branch")
	modeFlag   = flag.String("mode", "", "publish mode, commit or pull_request; defaults to PUBLISH_MODE")
	dryRunFlag = flag.Bool("dry-run", false, "only report the source files without tests")
)

func main() {
	flag.Parse()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = clog.WithLogger(ctx, clog.New(slog.Default().Handler()))

	repo, err := ghapi.ParseRepo(*repoFlag)
	if err != nil {
		log.Fatal(err)
	}
	ctx = clog.WithLogger(ctx, clog.FromContext(ctx).With("github/repo", repo.String()))
	env, err := envConfig.ProcessCLI()
	if err != nil {
		log.Fatalf("failed to process env var: %s", err)
	}

	var kmsClient *kms.KeyManagementClient
	if env.KMSKey != "" {
		if kmsClient, err = kms.NewKeyManagementClient(ctx); err != nil {
			log.Fatalf("could not create kms client: %v", err)
		}
	}

	transport := ratelimit.NewRoundTripper(env.RateLimit, int(env.RateLimit), http.DefaultTransport)
	signer, err := ghtransport.NewSigner(ctx, env, kmsClient)
	if err != nil {
		log.Fatalf("error creating GitHub App signer: %v", err)
	}
	atr, err := ghtransport.FromSigner(env, signer, transport)
	if err != nil {
		log.Fatalf("error creating GitHub App transport: %v", err)
	}
	installs, err := ghinstall.New(atr)
	if err != nil {
		log.Fatal(err)
	}
	installID, err := installs.Get(ctx, repo.Owner)
	if err != nil {
		log.Fatalf("resolving installation for %s: %v", repo.Owner, err)
	}

	opts := []credentials.Option{credentials.WithTransport(transport)}
	if env.BaseURL != "" {
		opts = append(opts, credentials.WithBaseURL(env.BaseURL))
	}
	tokens, err := credentials.New(credentials.Identity{AppID: env.AppID, Signer: signer}, opts...)
	if err != nil {
		log.Fatal(err)
	}
	client, err := tokens.Client(ctx, installID)
	if err != nil {
		log.Fatal(err)
	}

	branch := *branchFlag
	if branch == "" {
		r, _, err := client.Repositories.Get(ctx, repo.Owner, repo.Name)
		if err != nil {
			log.Fatalf("fetching %s: %v", repo, err)
		}
		branch = r.GetDefaultBranch()
	}
	pub := &publish.Publisher{Client: client, Repo: repo}
	sha, err := pub.BranchHead(ctx, branch)
	if err != nil {
		log.Fatal(err)
	}
	cfg, err := repoconfig.NewLoader(1, 0).Load(ctx, client, repo, sha)
	if err != nil {
		log.Fatal(err)
	}

	gen, err := generate.NewOpenAI(generate.Config{
		BaseURL:   env.LLMBaseURL,
		APIKey:    env.LLMAPIKey,
		Model:     env.LLMModel,
		Framework: env.Framework,
	})
	if err != nil {
		log.Fatal(err)
	}
	p := &pipeline.Pipeline{
		Generator:            gen,
		Scan:                 scanner.Config{Suffixes: env.SourceSuffixes},
		Mode:                 pipeline.Mode(env.PublishMode),
		BranchPrefix:         env.BranchPrefix,
		SkipEmptyPullRequest: env.SkipEmptyPullRequest,
	}
	target := pipeline.Target{
		Client: client,
		Repo:   repo,
		Branch: branch,
		SHA:    sha,
		Config: cfg,
		Mode:   pipeline.Mode(*modeFlag),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if *dryRunFlag {
		res, err := p.Plan(ctx, target)
		if err != nil {
			log.Fatal(err)
		}
		if err := enc.Encode(res); err != nil {
			log.Fatal(err)
		}
		return
	}

	report, err := p.Run(ctx, target)
	if encErr := enc.Encode(report); encErr != nil {
		log.Fatal(encErr)
	}
	if err != nil {
		log.Fatal(err)
	}
}
