// Package memory is an in-process catalog for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/demoshot/internal/capture"
	"github.com/JakeFAU/demoshot/internal/catalog"
)

// Store keeps sites in a map keyed by slug.
type Store struct {
	mu    sync.RWMutex
	sites map[string]catalog.Site
}

var _ catalog.Store = (*Store)(nil)

// NewStore seeds a store with targets.
func NewStore(targets ...capture.Target) *Store {
	s := &Store{sites: make(map[string]catalog.Site, len(targets))}
	for _, t := range targets {
		s.sites[t.Slug] = catalog.Site{Target: t}
	}
	return s
}

// Put inserts or replaces a target, keeping its bookkeeping.
func (s *Store) Put(target capture.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site := s.sites[target.Slug]
	site.Target = target
	s.sites[target.Slug] = site
}

// ListTargets returns targets ordered by slug.
func (s *Store) ListTargets(context.Context) ([]capture.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]capture.Target, 0, len(s.sites))
	for _, site := range s.sites {
		out = append(out, site.Target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// GetTarget returns one target.
func (s *Store) GetTarget(_ context.Context, slug string) (capture.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[slug]
	if !ok {
		return capture.Target{}, catalog.ErrNotFound
	}
	return site.Target, nil
}

// Site returns the full entry, for inspection.
func (s *Store) Site(slug string) (catalog.Site, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[slug]
	return site, ok
}

// RecordScreenshot stores the public URL and clears any failure.
func (s *Store) RecordScreenshot(_ context.Context, slug, publicURL string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[slug]
	if !ok {
		return catalog.ErrNotFound
	}
	at = at.UTC()
	site.ScreenshotURL = publicURL
	site.CapturedAt = &at
	site.LastError = ""
	site.LastFailedAt = nil
	s.sites[slug] = site
	return nil
}

// RecordFailure remembers the latest failure for retry.
func (s *Store) RecordFailure(_ context.Context, slug, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[slug]
	if !ok {
		return catalog.ErrNotFound
	}
	at = at.UTC()
	site.LastError = reason
	site.LastFailedAt = &at
	s.sites[slug] = site
	return nil
}
