// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package ghtransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	kms "cloud.google.com/go/kms/apiv1"
	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/golang-jwt/jwt/v4"
	envConfig "github.com/testgen/app/pkg/envconfig"
	"github.com/testgen/app/pkg/gcpkms"
)

// NewSigner returns the App's assertion signer for whichever key source is
// configured: a PEM in the environment, a PEM file, or a Cloud KMS key.
func NewSigner(ctx context.Context, env *envConfig.EnvConfig, kmsClient *kms.KeyManagementClient) (ghinstallation.Signer, error) {
	switch {
	case env.AppSecretCertificateEnvVar != "":
		return rsaSigner([]byte(env.AppSecretCertificateEnvVar))

	case env.AppSecretCertificateFile != "":
		raw, err := os.ReadFile(env.AppSecretCertificateFile)
		if err != nil {
			return nil, fmt.Errorf("reading App private key: %w", err)
		}
		return rsaSigner(raw)

	case env.KMSKey != "":
		return gcpkms.New(ctx, kmsClient, env.KMSKey)

	default:
		return nil, errors.New("no GitHub App private key configured")
	}
}

// New creates the App-level transport used for endpoints authenticated by
// the App assertion itself, e.g. listing installations.
func New(ctx context.Context, env *envConfig.EnvConfig, kmsClient *kms.KeyManagementClient, base http.RoundTripper) (*ghinstallation.AppsTransport, error) {
	signer, err := NewSigner(ctx, env, kmsClient)
	if err != nil {
		return nil, err
	}
	return FromSigner(env, signer, base)
}

// FromSigner is New for callers that already hold the App's signer.
func FromSigner(env *envConfig.EnvConfig, signer ghinstallation.Signer, base http.RoundTripper) (*ghinstallation.AppsTransport, error) {
	if base == nil {
		base = http.DefaultTransport
	}
	atr, err := ghinstallation.NewAppsTransportWithOptions(base, env.AppID, ghinstallation.WithSigner(signer))
	if err != nil {
		return nil, fmt.Errorf("creating GitHub App transport: %w", err)
	}
	if env.BaseURL != "" {
		atr.BaseURL = env.BaseURL
	}
	return atr, nil
}

func rsaSigner(pemBytes []byte) (ghinstallation.Signer, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing App private key: %w", err)
	}
	return ghinstallation.NewRSASigner(jwt.SigningMethodRS256, key), nil
}
