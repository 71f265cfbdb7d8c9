// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package envconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseEnv() map[string]string {
	return map[string]string{
		"PORT":                           "8080",
		"GITHUB_APP_ID":                  "1234",
		"GITHUB_WEBHOOK_SECRET":          "hunter2",
		"GITHUB_BOT_LOGIN":               "testgen[bot]",
		"LLM_API_BASE":                   "https://llm.example.com/v1",
		"LLM_API_KEY":                    "sk-test",
		"LLM_MODEL":                      "test-model",
		"KMS_KEY":                        "",
		"APP_SECRET_CERTIFICATE_FILE":    "",
		"APP_SECRET_CERTIFICATE_ENV_VAR": "",
	}
}

func TestProcess(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
	}{
		{
			name:    "No key source set",
			envVars: map[string]string{},
			wantErr: true,
		},
		{
			name: "Only KMS_KEY set",
			envVars: map[string]string{
				"KMS_KEY": "some-kms-key",
			},
			wantErr: false,
		},
		{
			name: "Only APP_SECRET_CERTIFICATE_FILE set",
			envVars: map[string]string{
				"APP_SECRET_CERTIFICATE_FILE": "some-file-path",
			},
			wantErr: false,
		},
		{
			name: "Only APP_SECRET_CERTIFICATE_ENV_VAR set",
			envVars: map[string]string{
				"APP_SECRET_CERTIFICATE_ENV_VAR": "some-env-var",
			},
			wantErr: false,
		},
		{
			name: "Multiple variables set",
			envVars: map[string]string{
				"KMS_KEY":                     "some-kms-key",
				"APP_SECRET_CERTIFICATE_FILE": "some-file-path",
			},
			wantErr: true,
		},
		{
			name: "Blank webhook secret",
			envVars: map[string]string{
				"KMS_KEY":               "some-kms-key",
				"GITHUB_WEBHOOK_SECRET": " , ",
			},
			wantErr: true,
		},
		{
			name: "Missing bot login",
			envVars: map[string]string{
				"KMS_KEY":          "some-kms-key",
				"GITHUB_BOT_LOGIN": "",
			},
			wantErr: true,
		},
		{
			name: "Missing model",
			envVars: map[string]string{
				"KMS_KEY":   "some-kms-key",
				"LLM_MODEL": "",
			},
			wantErr: true,
		},
		{
			name: "Pull request mode",
			envVars: map[string]string{
				"KMS_KEY":      "some-kms-key",
				"PUBLISH_MODE": "pull_request",
			},
			wantErr: false,
		},
		{
			name: "Unknown publish mode",
			envVars: map[string]string{
				"KMS_KEY":      "some-kms-key",
				"PUBLISH_MODE": "force-push",
			},
			wantErr: true,
		},
		{
			name: "Bad suffix",
			envVars: map[string]string{
				"KMS_KEY":         "some-kms-key",
				"SOURCE_SUFFIXES": ".py,go",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			for key, value := range tt.envVars {
				env[key] = value
			}
			for key, value := range env {
				t.Setenv(key, value)
			}

			cfg, err := Process()

			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, cfg)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, cfg)
			}
		})
	}
}

func TestProcessCLI(t *testing.T) {
	for key, value := range baseEnv() {
		t.Setenv(key, value)
	}
	t.Setenv("KMS_KEY", "some-kms-key")
	t.Setenv("GITHUB_WEBHOOK_SECRET", "")
	t.Setenv("GITHUB_BOT_LOGIN", "")

	_, err := Process()
	assert.Error(t, err)

	cfg, err := ProcessCLI()
	assert.NoError(t, err)
	assert.Equal(t, PublishCommit, cfg.PublishMode)
	assert.Equal(t, []string{".py"}, cfg.SourceSuffixes)
}

func TestWebhookSecrets(t *testing.T) {
	cfg := &EnvConfig{WebhookSecret: "old, new,,"}
	assert.Equal(t, []string{"old", "new"}, cfg.WebhookSecrets())
}
