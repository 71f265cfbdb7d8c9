// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit paces outbound requests so a burst of webhook deliveries
// does not exhaust an installation's API budget.
package ratelimit

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RoundTripper is a custom RoundTripper that enforces rate limits
type RoundTripper struct {
	transport http.RoundTripper
	limiter   *rate.Limiter
}

// RoundTrip waits for the limiter, honoring the request's context, and then
// forwards the request.
func (r *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := r.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return r.transport.RoundTrip(req)
}

// NewRoundTripper allows perSecond requests per second with bursts of up to
// burst requests.
func NewRoundTripper(perSecond float64, burst int, transport http.RoundTripper) *RoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if burst < 1 {
		burst = 1
	}
	return &RoundTripper{
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}
