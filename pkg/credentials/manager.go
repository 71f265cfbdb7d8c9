// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/testgen/app/pkg/ghapi"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshMargin is how long before expiry a cached token is
	// replaced. Installation tokens live for an hour; refreshing early keeps
	// a token from expiring in the middle of a pipeline run.
	DefaultRefreshMargin = 5 * time.Minute

	// DefaultTimeout bounds a single token exchange, retries included.
	DefaultTimeout = 30 * time.Second

	cacheSize = 500
)

// InstallationToken is an access token scoped to one installation.
type InstallationToken struct {
	Token          string
	ExpiresAt      time.Time
	InstallationID int64
}

// Manager issues and caches installation tokens.
type Manager struct {
	identity   Identity
	clock      Clock
	margin     time.Duration
	timeout    time.Duration
	baseURL    string
	base       http.RoundTripper
	newBackOff func() backoff.BackOff

	exchanges *github.Client
	cache     *lru.Cache[int64, *InstallationToken]
	group     singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithRefreshMargin overrides DefaultRefreshMargin.
func WithRefreshMargin(d time.Duration) Option {
	return func(m *Manager) { m.margin = d }
}

// WithTimeout overrides DefaultTimeout. It also bounds every request made
// by clients returned from Manager.Client.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithBaseURL points the manager and its clients at a GitHub Enterprise
// API root, e.g. https://ghe.example.com/api/v3/.
func WithBaseURL(u string) Option {
	return func(m *Manager) { m.baseURL = u }
}

// WithTransport sets the transport underneath every request.
func WithTransport(rt http.RoundTripper) Option {
	return func(m *Manager) { m.base = rt }
}

// WithBackOff sets the retry schedule for transient exchange failures.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(m *Manager) { m.newBackOff = f }
}

// New creates a Manager for the App identity.
func New(identity Identity, opts ...Option) (*Manager, error) {
	if identity.Signer == nil {
		return nil, errors.New("credentials: identity has no signer")
	}
	cache, err := lru.New[int64, *InstallationToken](cacheSize)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		identity: identity,
		clock:    RealClock(),
		margin:   DefaultRefreshMargin,
		timeout:  DefaultTimeout,
		base:     http.DefaultTransport,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		cache: cache,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.exchanges, err = m.newClient(&assertionTransport{m: m, base: m.base})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) newClient(rt http.RoundTripper) (*github.Client, error) {
	client := github.NewClient(&http.Client{
		Transport: rt,
		Timeout:   m.timeout,
	})
	if m.baseURL != "" {
		return client.WithEnterpriseURLs(m.baseURL, m.baseURL)
	}
	return client, nil
}

// IssueAssertion signs a fresh assertion at the manager's current time.
func (m *Manager) IssueAssertion() (*Assertion, error) {
	return IssueAssertion(m.identity, m.clock.Now())
}

// Token returns a token for the installation, exchanging a new assertion
// when no cached token is valid beyond the refresh margin.
func (m *Manager) Token(ctx context.Context, installationID int64) (*InstallationToken, error) {
	if tok, ok := m.cached(installationID); ok {
		return tok, nil
	}

	v, err, shared := m.group.Do(strconv.FormatInt(installationID, 10), func() (any, error) {
		// A flight that finished just before this one started may have
		// filled the cache.
		if tok, ok := m.cached(installationID); ok {
			return tok, nil
		}
		// The exchange outlives any single caller that joins it.
		xctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()

		tok, err := m.exchange(xctx, installationID)
		if err != nil {
			return nil, err
		}
		m.cache.Add(installationID, tok)
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		clog.FromContext(ctx).Debugf("joined in-flight token exchange for installation %d", installationID)
	}
	return v.(*InstallationToken), nil
}

// Invalidate drops any cached token for the installation.
func (m *Manager) Invalidate(installationID int64) {
	m.cache.Remove(installationID)
}

func (m *Manager) cached(installationID int64) (*InstallationToken, bool) {
	tok, ok := m.cache.Get(installationID)
	if !ok {
		return nil, false
	}
	if !m.clock.Now().Add(m.margin).Before(tok.ExpiresAt) {
		m.cache.Remove(installationID)
		return nil, false
	}
	return tok, true
}

func (m *Manager) exchange(ctx context.Context, installationID int64) (*InstallationToken, error) {
	log := clog.FromContext(ctx).With("github/installation", installationID)

	res, err := ghapi.Retry(ctx, m.newBackOff(), func() (*github.InstallationToken, error) {
		tok, _, err := m.exchanges.Apps.CreateInstallationToken(ctx, installationID, nil)
		if err != nil && ghapi.IsTransient(err) {
			log.Warnf("retrying token exchange: %v", err)
		}
		return tok, err
	})
	if err != nil {
		return nil, &CredentialError{
			InstallationID: installationID,
			StatusCode:     ghapi.StatusCode(err),
			Err:            err,
		}
	}
	if res.GetToken() == "" {
		return nil, &CredentialError{
			InstallationID: installationID,
			Err:            errors.New("empty token in response"),
		}
	}

	log.Infof("issued installation token expiring at %s", res.GetExpiresAt().Time)
	return &InstallationToken{
		Token:          res.GetToken(),
		ExpiresAt:      res.GetExpiresAt().Time,
		InstallationID: installationID,
	}, nil
}

// assertionTransport authenticates App-level requests with a freshly
// signed assertion each time.
type assertionTransport struct {
	m    *Manager
	base http.RoundTripper
}

func (t *assertionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	a, err := t.m.IssueAssertion()
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+a.Token)
	return t.base.RoundTrip(r)
}
