// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/go-github/v75/github"
)

const signaturePrefix = "sha256="

// Verify reports whether signature is "sha256=<hex>" of the HMAC-SHA256 of
// payload keyed with secret. Anything malformed, including an empty secret,
// fails verification.
func Verify(payload []byte, signature string, secret []byte) bool {
	if len(secret) == 0 || !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	// ValidateSignature compares in constant time.
	return github.ValidateSignature(signature, payload, secret) == nil
}

// Sign returns the X-Hub-Signature-256 header value for payload.
func Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
