// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package maxsize

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrTooLarge is returned by a response body read past its limit.
var ErrTooLarge = errors.New("response body too large")

// NewRoundTripper creates a new http.RoundTripper that wraps the given
// http.RoundTripper and limits the size of the response body to maxSize
// bytes. Reading beyond the limit fails with ErrTooLarge instead of
// silently truncating.
func NewRoundTripper(maxSize int64, inner http.RoundTripper) http.RoundTripper {
	if inner == nil {
		inner = http.DefaultTransport
	}
	return &ms{
		base:        inner,
		maxBodySize: maxSize,
	}
}

type ms struct {
	base        http.RoundTripper // The underlying RoundTripper
	maxBodySize int64             // Maximum allowed response body size in bytes
}

// RoundTrip implements http.RoundTripper
func (rt *ms) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength > rt.maxBodySize {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w: %d bytes", req.Method, req.URL.Redacted(), ErrTooLarge, resp.ContentLength)
	}

	resp.Body = &lr{
		r:     resp.Body,
		n:     rt.maxBodySize,
		close: resp.Body.Close,
	}
	return resp, nil
}

type lr struct {
	r     io.Reader
	n     int64 // bytes left before the limit
	close func() error
}

// Read implements io.Reader
func (r *lr) Read(p []byte) (int, error) {
	if r.n < 0 {
		return 0, ErrTooLarge
	}
	// Allow one byte past the limit so an exact-size body still sees EOF.
	if int64(len(p)) > r.n+1 {
		p = p[:r.n+1]
	}
	n, err := r.r.Read(p)
	r.n -= int64(n)
	if r.n < 0 {
		return n + int(r.n), ErrTooLarge
	}
	return n, err
}

// Close implements io.Closer
func (r *lr) Close() error {
	return r.close()
}
