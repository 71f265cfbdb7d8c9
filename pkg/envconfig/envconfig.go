// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package envconfig

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// PublishCommit writes generated tests straight onto the scanned branch.
	PublishCommit = "commit"
	// PublishPullRequest writes generated tests to a new branch and opens a
	// pull request against the scanned branch.
	PublishPullRequest = "pull_request"
)

type EnvConfig struct {
	Port                       int    `envconfig:"PORT" default:"8080"`
	KMSKey                     string `envconfig:"KMS_KEY" required:"false"`
	AppID                      int64  `envconfig:"GITHUB_APP_ID" required:"true"`
	AppSecretCertificateFile   string `envconfig:"APP_SECRET_CERTIFICATE_FILE" required:"false"`
	AppSecretCertificateEnvVar string `envconfig:"APP_SECRET_CERTIFICATE_ENV_VAR" required:"false"`
	// Comma separated. With KMS_KEY set these are Secret Manager version names.
	WebhookSecret string   `envconfig:"GITHUB_WEBHOOK_SECRET" required:"false"`
	BaseURL       string   `envconfig:"GITHUB_BASE_URL" required:"false"`
	BotLogin      string   `envconfig:"GITHUB_BOT_LOGIN" required:"false"`
	Organizations []string `envconfig:"GITHUB_ORGANIZATIONS" required:"false"`
	RateLimit     float64  `envconfig:"GITHUB_RATE_LIMIT" default:"10"`

	LLMBaseURL string `envconfig:"LLM_API_BASE" required:"true"`
	LLMAPIKey  string `envconfig:"LLM_API_KEY" required:"true"`
	LLMModel   string `envconfig:"LLM_MODEL" required:"true"`
	Framework  string `envconfig:"TEST_FRAMEWORK" default:"pytest"`

	SourceSuffixes       []string `envconfig:"SOURCE_SUFFIXES" default:".py"`
	PublishMode          string   `envconfig:"PUBLISH_MODE" default:"commit"`
	BranchPrefix         string   `envconfig:"BRANCH_PREFIX" default:"testgen/"`
	SkipEmptyPullRequest bool     `envconfig:"SKIP_EMPTY_PULL_REQUEST" default:"true"`
	DefaultBranchOnly    bool     `envconfig:"DEFAULT_BRANCH_ONLY" default:"true"`

	EventingIngress string `envconfig:"EVENT_INGRESS_URI" required:"false"`
	Metrics         bool   `envconfig:"METRICS" required:"false" default:"true"`
}

// Process loads the configuration from the environment and validates it.
// A nil config is returned on any error so callers fail before serving.
func Process() (*EnvConfig, error) {
	return process(true)
}

// ProcessCLI is Process for one-shot commands, which never receive
// webhooks and so need no webhook secret.
func ProcessCLI() (*EnvConfig, error) {
	return process(false)
}

func process(webhooks bool) (*EnvConfig, error) {
	cfg := new(EnvConfig)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if webhooks && len(cfg.WebhookSecrets()) == 0 {
		return nil, errors.New("GITHUB_WEBHOOK_SECRET must not be empty")
	}
	// Without it the bot cannot recognize its own pushes and would rescan
	// after every file it commits.
	if webhooks && strings.TrimSpace(cfg.BotLogin) == "" {
		return nil, errors.New("GITHUB_BOT_LOGIN must not be empty")
	}
	return cfg, nil
}

// Validate checks the invariants envconfig tags cannot express, apart from
// the webhook secret and bot login, which only the server needs.
func (cfg *EnvConfig) Validate() error {
	sources := 0
	for _, s := range []string{cfg.KMSKey, cfg.AppSecretCertificateFile, cfg.AppSecretCertificateEnvVar} {
		if s != "" {
			sources++
		}
	}
	switch sources {
	case 0:
		return errors.New("one of KMS_KEY, APP_SECRET_CERTIFICATE_FILE or APP_SECRET_CERTIFICATE_ENV_VAR must be set")
	case 1:
	default:
		return errors.New("only one of KMS_KEY, APP_SECRET_CERTIFICATE_FILE or APP_SECRET_CERTIFICATE_ENV_VAR may be set")
	}

	if cfg.AppID <= 0 {
		return fmt.Errorf("GITHUB_APP_ID must be positive, got %d", cfg.AppID)
	}
	for name, v := range map[string]string{
		"LLM_API_BASE": cfg.LLMBaseURL,
		"LLM_API_KEY":  cfg.LLMAPIKey,
		"LLM_MODEL":    cfg.LLMModel,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}

	switch cfg.PublishMode {
	case PublishCommit, PublishPullRequest:
	default:
		return fmt.Errorf("PUBLISH_MODE must be %q or %q, got %q", PublishCommit, PublishPullRequest, cfg.PublishMode)
	}
	if cfg.PublishMode == PublishPullRequest && cfg.BranchPrefix == "" {
		return errors.New("BRANCH_PREFIX must not be empty when PUBLISH_MODE is pull_request")
	}

	if len(cfg.SourceSuffixes) == 0 {
		return errors.New("SOURCE_SUFFIXES must not be empty")
	}
	for _, s := range cfg.SourceSuffixes {
		if !strings.HasPrefix(s, ".") || len(s) < 2 {
			return fmt.Errorf("SOURCE_SUFFIXES entry %q must look like .ext", s)
		}
	}
	if cfg.RateLimit <= 0 {
		return fmt.Errorf("GITHUB_RATE_LIMIT must be positive, got %v", cfg.RateLimit)
	}
	return nil
}

// WebhookSecrets returns the configured secrets, allowing several during a
// rotation.
func (cfg *EnvConfig) WebhookSecrets() []string {
	var out []string
	for _, s := range strings.Split(cfg.WebhookSecret, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
