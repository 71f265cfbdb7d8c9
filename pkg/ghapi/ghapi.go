// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ghapi holds the small set of helpers shared by everything that
// talks to the GitHub REST API: repository coordinates, error
// classification and bounded retries for transient failures.
package ghapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-github/v75/github"
)

// DefaultMaxTries bounds every retried GitHub call.
const DefaultMaxTries = 3

// Repo identifies a repository by owner and name.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// ParseRepo splits "owner/name".
func ParseRepo(s string) (Repo, error) {
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("invalid repository %q, expected owner/name", s)
	}
	return Repo{Owner: owner, Name: name}, nil
}

// credentialFailure is implemented by errors from minting the token a request
// would have carried. Any status inside one belongs to the token exchange, not
// to the resource that was requested.
type credentialFailure interface {
	CredentialFailure()
}

// IsCredentialFailure reports whether err stems from obtaining credentials
// rather than from the request itself.
func IsCredentialFailure(err error) bool {
	var cf credentialFailure
	return errors.As(err, &cf)
}

// StatusCode returns the HTTP status carried by a go-github error, or 0 when
// the request never produced a response of its own.
func StatusCode(err error) int {
	if IsCredentialFailure(err) {
		return 0
	}
	var gherr *github.ErrorResponse
	if errors.As(err, &gherr) && gherr.Response != nil {
		return gherr.Response.StatusCode
	}
	var rlerr *github.RateLimitError
	if errors.As(err, &rlerr) && rlerr.Response != nil {
		return rlerr.Response.StatusCode
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) && abuse.Response != nil {
		return abuse.Response.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is an explicit 404 from GitHub.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsConflict reports whether err is GitHub rejecting a write because its
// precondition no longer holds: 409, or 422 on a stale or missing blob sha.
func IsConflict(err error) bool {
	switch StatusCode(err) {
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// AlreadyExists reports whether err is a 422 saying the object being
// created is already there, e.g. a ref or a pull request for the same head.
func AlreadyExists(err error) bool {
	var gherr *github.ErrorResponse
	if !errors.As(err, &gherr) || StatusCode(err) != http.StatusUnprocessableEntity {
		return false
	}
	if strings.Contains(gherr.Message, "already exists") {
		return true
	}
	for _, e := range gherr.Errors {
		if strings.Contains(e.Message, "already exists") {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is worth retrying: network failures,
// rate limiting and server-side errors. Context cancellation never is, and
// neither is a credential failure, whose exchange was already retried.
func IsTransient(err error) bool {
	if err == nil || IsCredentialFailure(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rlerr *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rlerr) || errors.As(err, &abuse) {
		return true
	}
	code := StatusCode(err)
	switch {
	case code == 0:
		var gherr *github.ErrorResponse
		// An ErrorResponse without a status is a decoding problem, not the network.
		return !errors.As(err, &gherr)
	case code == http.StatusTooManyRequests, code >= 500:
		return true
	}
	return false
}

// Retry runs op until it succeeds, fails with a non-transient error or
// DefaultMaxTries attempts have been made.
func Retry[T any](ctx context.Context, b backoff.BackOff, op func() (T, error)) (T, error) {
	if b == nil {
		b = backoff.NewExponentialBackOff()
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(DefaultMaxTries))
}
