// Package storage mirrors published artifacts to blob storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/demoshot/internal/artifact"
	"github.com/JakeFAU/demoshot/internal/capture"
)

// BlobStore uploads one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Mirror copies a capture's master and variants into a BlobStore under
// {prefix}/{file name}.
type Mirror struct {
	store  BlobStore
	prefix string
	logger *zap.Logger
}

// NewMirror builds a Mirror.
func NewMirror(store BlobStore, prefix string, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{store: store, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// ObjectPath maps a local artifact to its object key.
func (m *Mirror) ObjectPath(localPath string) string {
	if m.prefix == "" {
		return filepath.Base(localPath)
	}
	return path.Join(m.prefix, filepath.Base(localPath))
}

// Upload mirrors every artifact of outcome and returns the object URIs.
func (m *Mirror) Upload(ctx context.Context, outcome capture.Outcome) ([]string, error) {
	arts := append([]artifact.Artifact{outcome.Master}, outcome.Variants...)
	uris := make([]string, 0, len(arts))
	for _, art := range arts {
		if art.Path == "" {
			continue
		}
		uri, err := m.put(ctx, art)
		if err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	m.logger.Debug("artifacts mirrored", zap.Strings("uris", uris))
	return uris, nil
}

func (m *Mirror) put(ctx context.Context, art artifact.Artifact) (string, error) {
	f, err := os.Open(art.Path) // #nosec G304 -- path comes from the artifact layout.
	if err != nil {
		return "", fmt.Errorf("open %s: %w", art.Path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle
	uri, err := m.store.PutObject(ctx, m.ObjectPath(art.Path), contentType(art.Format), f)
	if err != nil {
		return "", fmt.Errorf("mirror %s: %w", art.Path, err)
	}
	return uri, nil
}

// Hook exposes the mirror as a post-capture step.
func (m *Mirror) Hook() capture.Hook {
	return capture.Hook{
		Name: "mirror",
		Run: func(ctx context.Context, _ capture.Target, outcome capture.Outcome) error {
			_, err := m.Upload(ctx, outcome)
			return err
		},
	}
}

func contentType(format artifact.Format) string {
	if format == artifact.FormatWEBP {
		return "image/webp"
	}
	return "image/png"
}
