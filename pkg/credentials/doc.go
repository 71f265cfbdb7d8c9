// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package credentials issues the GitHub App's short-lived assertions and
// exchanges them for installation access tokens.
//
// A [Manager] owns a bounded cache of installation tokens keyed by
// installation ID. Cached tokens are reused until they come within
// [DefaultRefreshMargin] of expiry. Concurrent cache misses for the same
// installation share a single exchange. Every exchange signs a brand new
// assertion; assertions are never cached.
//
// Use [Manager.Client] to obtain a go-github client that pulls its token
// from the manager on every request.
package credentials
