// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package scanner walks a repository breadth-first and reports the source
// files that have no corresponding test.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/chainguard-dev/clog"
	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	DefaultMaxDepth   = 32
	DefaultMaxEntries = 10000
)

// DefaultSuffixes selects Python sources.
var DefaultSuffixes = []string{".py"}

// ErrTraversalLimit is returned when a repository is deeper or larger than
// the configured caps.
var ErrTraversalLimit = errors.New("repository traversal limit exceeded")

// Config controls what Scan considers. The zero value uses the defaults.
type Config struct {
	// Suffixes selects candidate files, e.g. ".py".
	Suffixes []string
	// Exclude holds path.Match globs. A matching directory is not entered.
	Exclude    []string
	MaxDepth   int
	MaxEntries int
}

func (c Config) withDefaults() Config {
	if len(c.Suffixes) == 0 {
		c.Suffixes = DefaultSuffixes
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	return c
}

// SourceFile is a candidate file and whether a test for it was found.
type SourceFile struct {
	Path    string
	HasTest bool
}

// Result of a scan. Every list is sorted.
type Result struct {
	Sources []SourceFile
	Tests   []string
	// Missing are the paths of Sources without a test.
	Missing []string
}

type item struct {
	path  string
	depth int
}

// Scan lists tree breadth-first from the root and classifies every file
// with a configured suffix as either a test or a source.
func Scan(ctx context.Context, tree Tree, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	log := clog.FromContext(ctx)

	sources, tests := sets.New[string](), sets.New[string]()

	// The queue is an arena consumed from head; entries are never removed.
	queue := []item{{path: "", depth: 0}}
	seen := 0
	for head := 0; head < len(queue); head++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := queue[head]
		entries, err := tree.List(ctx, dir.path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			seen++
			if seen > cfg.MaxEntries {
				return nil, fmt.Errorf("%w: more than %d entries", ErrTraversalLimit, cfg.MaxEntries)
			}
			if excluded(cfg.Exclude, e.Path) {
				continue
			}
			switch e.Kind {
			case Dir:
				if dir.depth+1 > cfg.MaxDepth {
					return nil, fmt.Errorf("%w: %s is deeper than %d", ErrTraversalLimit, e.Path, cfg.MaxDepth)
				}
				queue = append(queue, item{path: e.Path, depth: dir.depth + 1})
			case File:
				if !hasSuffix(e.Path, cfg.Suffixes) {
					continue
				}
				if IsTestPath(e.Path) {
					tests.Insert(e.Path)
				} else {
					sources.Insert(e.Path)
				}
			}
		}
	}

	res := &Result{Tests: sets.List(tests)}
	for _, f := range sets.List(sources) {
		has := hasTest(f, tests)
		res.Sources = append(res.Sources, SourceFile{Path: f, HasTest: has})
		if !has {
			res.Missing = append(res.Missing, f)
		}
	}
	log.Infof("scanned %d directories: %d sources, %d tests, %d missing",
		len(queue), len(res.Sources), len(res.Tests), len(res.Missing))
	return res, nil
}

// IsTestPath reports whether p looks like a test. Each directory and the file
// name without its extension are checked on their own, so latest.py or
// contest/x.py are still sources while tests/x.py, test_x.py and x_test.py
// are not.
func IsTestPath(p string) bool {
	segments := strings.Split(p, "/")
	last := len(segments) - 1
	segments[last] = strings.TrimSuffix(segments[last], path.Ext(segments[last]))
	for _, s := range segments {
		switch {
		case s == "test", s == "tests", s == "conftest":
			return true
		case strings.HasPrefix(s, "test_"), strings.HasSuffix(s, "_test"):
			return true
		}
	}
	return false
}

// TestPaths are the locations where a test for src is looked for.
func TestPaths(src string) []string {
	base := path.Base(src)
	out := []string{
		"test_" + src,
		"tests/" + src,
		"tests/test_" + base,
	}
	if dir := path.Dir(src); dir != "." {
		out = append(out, dir+"/test_"+base)
	}
	return out
}

func hasTest(src string, tests sets.Set[string]) bool {
	return tests.HasAny(TestPaths(src)...)
}

func hasSuffix(p string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(p, s) {
			return true
		}
	}
	return false
}

func excluded(globs []string, p string) bool {
	for _, g := range globs {
		if ok, err := path.Match(g, p); err == nil && ok {
			return true
		}
	}
	return false
}
