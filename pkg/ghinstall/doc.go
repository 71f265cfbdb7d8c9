// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ghinstall resolves an owner name to the GitHub App installation on
// that account. Lookups page through the App's installations and are cached
// in an LRU.
//
// It serves callers that start from a repository name rather than a webhook
// delivery, such as the scan command.
package ghinstall
