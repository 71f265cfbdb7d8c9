// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/golang-jwt/jwt/v4"
)

// AssertionLifetime is the longest lifetime GitHub accepts for an App JWT.
const AssertionLifetime = 10 * time.Minute

// Identity is the App's credential root, loaded once at startup.
type Identity struct {
	AppID  int64
	Signer ghinstallation.Signer
}

// Assertion is a signed, short-lived App JWT.
type Assertion struct {
	Token     string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssueAssertion signs a new assertion for identity valid from now for
// AssertionLifetime.
func IssueAssertion(identity Identity, now time.Time) (*Assertion, error) {
	if identity.Signer == nil {
		return nil, errors.New("credentials: identity has no signer")
	}
	// JWT timestamps have second granularity.
	now = now.Truncate(time.Second)
	a := &Assertion{
		Issuer:    strconv.FormatInt(identity.AppID, 10),
		IssuedAt:  now,
		ExpiresAt: now.Add(AssertionLifetime),
	}
	tok, err := identity.Signer.Sign(&jwt.RegisteredClaims{
		Issuer:    a.Issuer,
		IssuedAt:  jwt.NewNumericDate(a.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(a.ExpiresAt),
	})
	if err != nil {
		return nil, fmt.Errorf("credentials: signing assertion: %w", err)
	}
	a.Token = tok
	return a, nil
}
