// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	kms "cloud.google.com/go/kms/apiv1"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"github.com/chainguard-dev/clog"
	metrics "github.com/chainguard-dev/terraform-infra-common/pkg/httpmetrics"
	mce "github.com/chainguard-dev/terraform-infra-common/pkg/httpmetrics/cloudevents"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/testgen/app/pkg/bot"
	"github.com/testgen/app/pkg/credentials"
	envConfig "github.com/testgen/app/pkg/envconfig"
	"github.com/testgen/app/pkg/generate"
	"github.com/testgen/app/pkg/ghtransport"
	"github.com/testgen/app/pkg/maxsize"
	"github.com/testgen/app/pkg/nopceclient"
	"github.com/testgen/app/pkg/pipeline"
	"github.com/testgen/app/pkg/ratelimit"
	"github.com/testgen/app/pkg/repoconfig"
	"github.com/testgen/app/pkg/scanner"
	"github.com/testgen/app/pkg/secrets"
	"github.com/testgen/app/pkg/webhook"
)

const (
	// Responses larger than this are refused rather than buffered.
	maxResponseSize = 32 << 20

	repoConfigCacheSize = 200
	repoConfigTTL       = 5 * time.Minute
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = clog.WithLogger(ctx, clog.New(slog.Default().Handler()))

	env, err := envConfig.Process()
	if err != nil {
		log.Panicf("failed to process env var: %s", err)
	}

	if env.Metrics {
		go metrics.ServeMetrics()

		// Setup tracing.
		defer metrics.SetupTracer(ctx)()
	}

	var kmsClient *kms.KeyManagementClient
	if env.KMSKey != "" {
		kmsClient, err = kms.NewKeyManagementClient(ctx)
		if err != nil {
			log.Panicf("could not create kms client: %v", err)
		}
	}

	signer, err := ghtransport.NewSigner(ctx, env, kmsClient)
	if err != nil {
		log.Panicf("error creating GitHub App signer: %v", err)
	}

	githubTransport := ratelimit.NewRoundTripper(env.RateLimit, int(env.RateLimit),
		maxsize.NewRoundTripper(maxResponseSize, http.DefaultTransport))
	opts := []credentials.Option{credentials.WithTransport(githubTransport)}
	if env.BaseURL != "" {
		opts = append(opts, credentials.WithBaseURL(env.BaseURL))
	}
	tokens, err := credentials.New(credentials.Identity{AppID: env.AppID, Signer: signer}, opts...)
	if err != nil {
		log.Panicf("error creating credential manager: %v", err)
	}

	gen, err := generate.NewOpenAI(generate.Config{
		BaseURL:   env.LLMBaseURL,
		APIKey:    env.LLMAPIKey,
		Model:     env.LLMModel,
		Framework: env.Framework,
		Transport: maxsize.NewRoundTripper(maxResponseSize, http.DefaultTransport),
	})
	if err != nil {
		log.Panicf("error creating generation client: %v", err)
	}

	var ceclient cloudevents.Client = nopceclient.Client{}
	if env.EventingIngress != "" {
		ceclient, err = mce.NewClientHTTP("testgen", mce.WithTarget(ctx, env.EventingIngress)...)
		if err != nil {
			log.Panicf("failed to create cloudevents client: %v", err)
		}
	}

	b := &bot.Bot{
		Pipeline: &pipeline.Pipeline{
			Generator:            gen,
			Scan:                 scanner.Config{Suffixes: env.SourceSuffixes},
			Mode:                 pipeline.Mode(env.PublishMode),
			BranchPrefix:         env.BranchPrefix,
			SkipEmptyPullRequest: env.SkipEmptyPullRequest,
		},
		Login:             env.BotLogin,
		Configs:           repoconfig.NewLoader(repoConfigCacheSize, repoConfigTTL),
		Events:            ceclient,
		DefaultBranchOnly: env.DefaultBranchOnly,
	}
	router := webhook.NewRouter()
	b.Register(router)

	d := &webhook.Dispatcher{
		WebhookSecret: webhookSecrets(ctx, env),
		Router:        router,
		Clients:       tokens,
		Organizations: env.Organizations,
	}

	mux := http.NewServeMux()
	mux.Handle("POST /webhook", d)
	mux.Handle("POST /", d)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "testgen is running\n")
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", env.Port),
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           mux,
	}
	clog.InfoContextf(ctx, "listening on %s", srv.Addr)
	log.Panic(srv.ListenAndServe())
}

// webhookSecrets resolves the configured secrets. With a KMS key they name
// Secret Manager versions; otherwise they are the secrets themselves.
func webhookSecrets(ctx context.Context, env *envConfig.EnvConfig) [][]byte {
	webhookSecrets := [][]byte{}
	if env.KMSKey == "" {
		for _, s := range env.WebhookSecrets() {
			webhookSecrets = append(webhookSecrets, []byte(s))
		}
		return webhookSecrets
	}

	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		log.Panicf("could not create secret manager client: %v", err)
	}
	defer client.Close()
	resolved, err := secrets.GetSecrets(ctx, client, env.WebhookSecrets())
	if err != nil {
		log.Panicf("error fetching webhook secrets: %v", err)
	}
	return resolved
}
