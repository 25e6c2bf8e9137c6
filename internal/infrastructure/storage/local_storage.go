package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/erp/exchange/internal/domain/catalog"
	infraconfig "github.com/erp/exchange/internal/infrastructure/config"
	"go.uber.org/zap"
)

var _ catalog.ImageStore = (*LocalImageStore)(nil)

// LocalImageStore keeps images in a directory served by the storefront
type LocalImageStore struct {
	dir       string
	publicURL string
}

// NewLocalImageStore creates the directory if needed
func NewLocalImageStore(dir, publicURL string) (*LocalImageStore, error) {
	if dir == "" {
		return nil, errors.New("storage local path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalImageStore{dir: dir, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (s *LocalImageStore) path(key string) (string, error) {
	rel, err := CleanRelative(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, filepath.FromSlash(rel)), nil
}

// Put writes the object, replacing the previous file atomically
func (s *LocalImageStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	return writeFileAtomic(dst, body, -1)
}

// Exists reports whether the object file exists
func (s *LocalImageStore) Exists(ctx context.Context, key string) (bool, error) {
	dst, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(dst)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *LocalImageStore) URL(key string) string {
	return publicURL(s.publicURL, key)
}

func publicURL(base, key string) string {
	if base == "" {
		return key
	}
	return base + "/" + strings.TrimLeft(key, "/")
}

// NewImageStore builds the configured image storage backend
func NewImageStore(ctx context.Context, cfg infraconfig.StorageConfig, logger *zap.Logger) (catalog.ImageStore, error) {
	switch cfg.Driver {
	case "s3":
		s, err := NewS3ImageStore(ctx, &cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Info("using S3 image storage", zap.String("bucket", s.Bucket()))
		return s, nil
	case "local", "":
		logger.Info("using local image storage", zap.String("path", cfg.LocalPath))
		return NewLocalImageStore(cfg.LocalPath, cfg.PublicURL)
	}
	return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
}
