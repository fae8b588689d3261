// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/strata-fs/strata/lib/clock"
	"github.com/strata-fs/strata/lib/fspath"
)

// Matcher decides whether an entry name matches a search query.
type Matcher struct {
	pattern string
	glob    bool
}

// NewMatcher compiles query. A query containing any of "*?[{" is a
// doublestar glob matched against the whole name; anything else is a
// substring. Both are case-insensitive.
func NewMatcher(query string) (Matcher, error) {
	pattern := strings.ToLower(query)
	if !strings.ContainsAny(pattern, "*?[{") {
		return Matcher{pattern: pattern}, nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return Matcher{}, &Error{Op: "search", Path: query, Kind: KindIO, Err: fmt.Errorf("invalid glob pattern %q", query)}
	}
	return Matcher{pattern: pattern, glob: true}, nil
}

// Match reports whether name matches.
func (m Matcher) Match(name string) bool {
	name = strings.ToLower(name)
	if !m.glob {
		return strings.Contains(name, m.pattern)
	}
	matched, err := doublestar.Match(m.pattern, name)
	return err == nil && matched
}

// SearchBatcher accumulates search results and hands them to a
// SearchFunc at most once per interval. It is safe for concurrent Add
// calls from a parallel walk; deliveries never overlap.
type SearchBatcher struct {
	clock    clock.Clock
	interval time.Duration
	results  SearchFunc

	mu           sync.Mutex
	pending      []fspath.Path
	lastDelivery time.Time
}

// NewSearchBatcher returns a batcher delivering to results. A
// non-positive interval delivers every result on its own.
func NewSearchBatcher(clk clock.Clock, interval time.Duration, results SearchFunc) *SearchBatcher {
	return &SearchBatcher{
		clock:        clk,
		interval:     interval,
		results:      results,
		lastDelivery: clk.Now(),
	}
}

// Add records a result and delivers the pending batch if the interval
// has elapsed since the previous delivery.
func (b *SearchBatcher) Add(path fspath.Path) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, path)
	now := b.clock.Now()
	if b.interval <= 0 || now.Sub(b.lastDelivery) >= b.interval {
		b.deliverLocked(now)
	}
}

// Flush delivers any pending results. Search implementations call it
// once before returning.
func (b *SearchBatcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliverLocked(b.clock.Now())
}

func (b *SearchBatcher) deliverLocked(now time.Time) {
	if len(b.pending) == 0 {
		return
	}
	batch := b.pending
	b.pending = nil
	b.lastDelivery = now
	b.results(batch)
}
