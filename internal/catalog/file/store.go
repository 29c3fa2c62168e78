// Package file keeps the catalog in a YAML document on disk.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/demoshot/internal/artifact"
	"github.com/JakeFAU/demoshot/internal/capture"
	"github.com/JakeFAU/demoshot/internal/catalog"
)

type document struct {
	Sites []catalog.Site `yaml:"sites"`
}

// Store reads the catalog file on open and rewrites it atomically on every
// recorded result.
type Store struct {
	path  string
	mu    sync.Mutex
	sites []catalog.Site
}

var _ catalog.Store = (*Store)(nil)

// Open loads path. A missing file yields an empty catalog.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied catalog path.
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	seen := make(map[string]bool, len(doc.Sites))
	for _, site := range doc.Sites {
		if err := artifact.ValidateSlug(site.Slug); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
		if seen[site.Slug] {
			return nil, fmt.Errorf("catalog %s: duplicate slug %q", path, site.Slug)
		}
		seen[site.Slug] = true
	}
	s.sites = doc.Sites
	return s, nil
}

// ListTargets returns targets ordered by slug.
func (s *Store) ListTargets(context.Context) ([]capture.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]capture.Target, 0, len(s.sites))
	for _, site := range s.sites {
		out = append(out, site.Target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// GetTarget returns one target.
func (s *Store) GetTarget(_ context.Context, slug string) (capture.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(slug); i >= 0 {
		return s.sites[i].Target, nil
	}
	return capture.Target{}, catalog.ErrNotFound
}

// RecordScreenshot stores the public URL and clears any failure.
func (s *Store) RecordScreenshot(_ context.Context, slug, publicURL string, at time.Time) error {
	return s.update(slug, func(site *catalog.Site) {
		at = at.UTC()
		site.ScreenshotURL = publicURL
		site.CapturedAt = &at
		site.LastError = ""
		site.LastFailedAt = nil
	})
}

// RecordFailure remembers the latest failure for retry.
func (s *Store) RecordFailure(_ context.Context, slug, reason string, at time.Time) error {
	return s.update(slug, func(site *catalog.Site) {
		at = at.UTC()
		site.LastError = reason
		site.LastFailedAt = &at
	})
}

func (s *Store) update(slug string, mutate func(*catalog.Site)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(slug)
	if i < 0 {
		return catalog.ErrNotFound
	}
	updated := s.sites[i]
	mutate(&updated)
	prev := s.sites[i]
	s.sites[i] = updated
	if err := s.persist(); err != nil {
		s.sites[i] = prev
		return err
	}
	return nil
}

func (s *Store) index(slug string) int {
	for i, site := range s.sites {
		if site.Slug == slug {
			return i
		}
	}
	return -1
}

func (s *Store) persist() error {
	data, err := yaml.Marshal(document{Sites: s.sites})
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := artifact.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write catalog %s: %w", s.path, err)
	}
	return nil
}
