// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package ghinstall

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultBaseURL = "https://api.github.com"

// ErrNotInstalled is returned when the App has no installation on an owner.
var ErrNotInstalled = errors.New("app is not installed")

// Manager looks up GitHub App installations by owner.
type Manager interface {
	Get(ctx context.Context, owner string) (int64, error)
}

type manager struct {
	client *github.Client
	cache  *lru.TwoQueueCache[string, int64]
}

// New creates a Manager that lists installations through atr. A non-default
// atr.BaseURL is treated as a GitHub Enterprise API root.
func New(atr *ghinstallation.AppsTransport) (Manager, error) {
	cache, err := lru.New2Q[string, int64](200)
	if err != nil {
		return nil, err
	}
	client := github.NewClient(&http.Client{
		Transport: atr,
	})
	if atr.BaseURL != "" && strings.TrimSuffix(atr.BaseURL, "/") != defaultBaseURL {
		if client, err = client.WithEnterpriseURLs(atr.BaseURL, atr.BaseURL); err != nil {
			return nil, err
		}
	}
	return &manager{
		client: client,
		cache:  cache,
	}, nil
}

// Get returns the installation ID for the given owner. Owner names are
// compared case-insensitively, as GitHub does.
func (m *manager) Get(ctx context.Context, owner string) (int64, error) {
	key := strings.ToLower(owner)
	if v, ok := m.cache.Get(key); ok {
		clog.InfoContextf(ctx, "found installation in cache for %s", owner)
		return v, nil
	}

	// Walk through the pages of installations looking for an account
	// matching owner.
	page := 1
	for page != 0 {
		installs, resp, err := m.client.Apps.ListInstallations(ctx, &github.ListOptions{
			Page:    page,
			PerPage: 100,
		})
		if err != nil {
			return 0, fmt.Errorf("listing installations: %w", err)
		}

		for _, install := range installs {
			if strings.EqualFold(install.GetAccount().GetLogin(), owner) {
				installID := install.GetID()
				m.cache.Add(key, installID)
				return installID, nil
			}
		}
		page = resp.NextPage
	}

	return 0, fmt.Errorf("%w on %q", ErrNotInstalled, owner)
}
