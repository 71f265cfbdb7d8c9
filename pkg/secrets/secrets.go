// Copyright 2025 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package secrets reads webhook secrets from Google Secret Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// GetSecret returns the payload of a secret version, named like
// projects/p/secrets/s/versions/latest.
func GetSecret(ctx context.Context, client *secretmanager.Client, name string) ([]byte, error) {
	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching secret %s: %w", name, err)
	}
	if len(resp.GetPayload().GetData()) == 0 {
		return nil, fmt.Errorf("secret %s is empty", name)
	}
	return resp.GetPayload().GetData(), nil
}

// GetSecrets resolves every name, failing if any of them cannot be read.
func GetSecrets(ctx context.Context, client *secretmanager.Client, names []string) ([][]byte, error) {
	if len(names) == 0 {
		return nil, errors.New("no secrets named")
	}
	out := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := GetSecret(ctx, client, name)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}
