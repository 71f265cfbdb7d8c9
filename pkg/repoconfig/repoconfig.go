// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package repoconfig reads the optional per-repository settings file.
package repoconfig

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	expirablelru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/testgen/app/pkg/ghapi"
	"sigs.k8s.io/yaml"
)

// Path of the settings file within a repository.
const Path = ".github/testgen.yaml"

// Config overrides the service defaults for one repository. Every field is
// optional.
type Config struct {
	// Disabled turns the bot off for the repository.
	Disabled bool `json:"disabled,omitempty"`

	// Suffixes selects which files are considered sources, e.g. [".py"].
	Suffixes []string `json:"suffixes,omitempty"`

	// Exclude lists path globs that are never scanned, e.g. "vendor" or
	// "docs/*.py".
	Exclude []string `json:"exclude,omitempty"`

	// PublishMode is "commit" or "pull_request".
	PublishMode string `json:"publish_mode,omitempty" jsonschema:"enum=commit,enum=pull_request"`
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	for _, s := range c.Suffixes {
		if !strings.HasPrefix(s, ".") || len(s) < 2 {
			return fmt.Errorf("suffix %q must start with a dot", s)
		}
	}
	for _, g := range c.Exclude {
		if _, err := path.Match(g, ""); err != nil {
			return fmt.Errorf("exclude pattern %q: %w", g, err)
		}
	}
	switch c.PublishMode {
	case "", "commit", "pull_request":
	default:
		return fmt.Errorf("publish_mode %q must be commit or pull_request", c.PublishMode)
	}
	return nil
}

// Parse decodes and validates a settings file. Unknown fields are errors.
func Parse(raw []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.UnmarshalStrict(raw, c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", Path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", Path, err)
	}
	return c, nil
}

type cacheKey struct {
	repo ghapi.Repo
	ref  string
}

// Loader fetches settings files and caches the raw content briefly.
type Loader struct {
	cache *expirablelru.LRU[cacheKey, string]
}

// NewLoader caches up to size files for ttl.
func NewLoader(size int, ttl time.Duration) *Loader {
	return &Loader{cache: expirablelru.NewLRU[cacheKey, string](size, nil, ttl)}
}

// Load returns the settings for repo at ref. A repository without a
// settings file gets the zero Config.
func (l *Loader) Load(ctx context.Context, client *github.Client, repo ghapi.Repo, ref string) (*Config, error) {
	key := cacheKey{repo: repo, ref: ref}
	raw, ok := l.cache.Get(key)
	if !ok {
		var opts *github.RepositoryContentGetOptions
		if ref != "" {
			opts = &github.RepositoryContentGetOptions{Ref: ref}
		}
		file, err := ghapi.Retry(ctx, nil, func() (*github.RepositoryContent, error) {
			f, _, _, err := client.Repositories.GetContents(ctx, repo.Owner, repo.Name, Path, opts)
			return f, err
		})
		switch {
		case ghapi.IsNotFound(err):
			raw = ""
		case err != nil:
			return nil, fmt.Errorf("fetching %s: %w", Path, err)
		case file == nil:
			return nil, fmt.Errorf("%s is a directory", Path)
		default:
			raw, err = file.GetContent()
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", Path, err)
			}
		}
		if evicted := l.cache.Add(key, raw); evicted {
			clog.InfoContextf(ctx, "evicted settings cache entry for %s", repo)
		}
	}
	if raw == "" {
		return &Config{}, nil
	}
	return Parse([]byte(raw))
}
