// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"context"

	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"
)

type tokenSource struct {
	ctx            context.Context
	m              *Manager
	installationID int64
}

// TokenSource adapts the manager to oauth2 for one installation.
func (m *Manager) TokenSource(ctx context.Context, installationID int64) oauth2.TokenSource {
	return &tokenSource{
		ctx:            ctx,
		m:              m,
		installationID: installationID,
	}
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	tok, err := ts.m.Token(ts.ctx, ts.installationID)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		TokenType:   "Bearer",
		AccessToken: tok.Token,
		Expiry:      tok.ExpiresAt,
	}, nil
}

// Client returns a GitHub client acting as the installation. No token is
// fetched until the first request is made.
func (m *Manager) Client(ctx context.Context, installationID int64) (*github.Client, error) {
	return m.newClient(&oauth2.Transport{
		Source: m.TokenSource(ctx, installationID),
		Base:   m.base,
	})
}
