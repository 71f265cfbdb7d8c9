// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package generate asks a language model to write a test file for a source
// file.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request describes the file a test is wanted for.
type Request struct {
	// Path is the repository path of the source file.
	Path string
	// Source is its content.
	Source string
	// Destination is where the generated test will be written.
	Destination string
}

// Generator produces test code. Implementations return *Error on failure.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrEmptyOutput is wrapped by an *Error when the model returned nothing
// usable.
var ErrEmptyOutput = errors.New("model returned no test code")

// Error is a failed generation. The pipeline skips the file and moves on.
type Error struct {
	Path string
	// StatusCode is the generation API's HTTP status, 0 if none was received.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generating test for %s: status %d: %v", e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generating test for %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StripFences removes a surrounding markdown code fence, with or without a
// language tag, and surrounding blank space.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the opening fence line, which may carry a language tag.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimRight(s, " \t\r\n")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
