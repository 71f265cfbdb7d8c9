// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package credentials

import "fmt"

// CredentialError reports a failure to obtain an installation token. Its
// StatusCode describes the exchange; ghapi never reports it as the status of
// the request that needed the token.
type CredentialError struct {
	InstallationID int64
	// StatusCode is the HTTP status of the exchange, 0 if there was none.
	StatusCode int
	Err        error
}

func (e *CredentialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("credentials: installation %d: token exchange returned HTTP %d: %v", e.InstallationID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("credentials: installation %d: token exchange: %v", e.InstallationID, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// CredentialFailure marks the error for ghapi's classification.
func (*CredentialError) CredentialFailure() {}
