// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package generate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/chainguard-dev/clog"
	"github.com/sashabaranov/go-openai"
)

const (
	// DefaultTimeout bounds one completion request.
	DefaultTimeout = 60 * time.Second

	defaultTemperature = 0.7
	maxTries           = 3
)

// Config for an OpenAI-compatible chat completions endpoint.
type Config struct {
	// BaseURL is the API root, e.g. https://api.openai.com/v1.
	BaseURL string
	APIKey  string
	Model   string
	// Framework names the test framework in the prompt, e.g. "pytest".
	Framework string
	Timeout   time.Duration

	// Transport overrides http.DefaultTransport.
	Transport http.RoundTripper
	// BackOff overrides the retry policy; used by tests.
	BackOff func() backoff.BackOff
}

// OpenAI generates tests through the chat completions API.
type OpenAI struct {
	client    *openai.Client
	model     string
	framework string
	timeout   time.Duration
	backOff   func() backoff.BackOff
}

var _ Generator = (*OpenAI)(nil)

// NewOpenAI validates cfg and builds a client.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.Model == "" {
		return nil, errors.New("generation requires a base URL, API key and model")
	}
	if cfg.Framework == "" {
		cfg.Framework = "pytest"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BackOff == nil {
		cfg.BackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Transport != nil {
		oc.HTTPClient = &http.Client{Transport: cfg.Transport}
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		framework: cfg.Framework,
		timeout:   cfg.Timeout,
		backOff:   cfg.BackOff,
	}, nil
}

func (o *OpenAI) systemPrompt() string {
	return fmt.Sprintf("You write %s unit tests. Reply with the complete contents of a single test file "+
		"and nothing else: no explanations, no prose and no markdown code fences.", o.framework)
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write tests for the module %s.", req.Path)
	if req.Destination != "" {
		fmt.Fprintf(&b, " The tests will be saved as %s.", req.Destination)
	}
	b.WriteString("\n\n")
	b.WriteString(req.Source)
	return b.String()
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	log := clog.FromContext(ctx).With("path", req.Path, "model", o.model)

	attempt := 0
	out, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		resp, err := o.complete(ctx, req)
		if err != nil {
			if !isTransient(err) {
				return "", backoff.Permanent(err)
			}
			log.Warnf("generation attempt %d failed: %v", attempt, err)
			return "", err
		}
		return resp, nil
	}, backoff.WithBackOff(o.backOff()), backoff.WithMaxTries(maxTries))
	if err != nil {
		return "", &Error{Path: req.Path, StatusCode: statusCode(err), Err: err}
	}

	code := StripFences(out)
	if code == "" {
		return "", &Error{Path: req.Path, Err: ErrEmptyOutput}
	}
	log.Infof("generated %d bytes of test code", len(code))
	return code + "\n", nil
}

func (o *OpenAI) complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: defaultTemperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.systemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyOutput
	}
	return resp.Choices[0].Message.Content, nil
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func isTransient(err error) bool {
	if errors.Is(err, ErrEmptyOutput) || errors.Is(err, context.Canceled) {
		return false
	}
	switch code := statusCode(err); {
	case code == 0:
		// No response at all: a network failure or a per-attempt timeout.
		return true
	case code == http.StatusTooManyRequests, code >= 500:
		return true
	}
	return false
}
