package exchange

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/erp/exchange/internal/domain/catalog"
	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/infrastructure/commerceml"
	"github.com/erp/exchange/internal/infrastructure/storage"
	"go.uber.org/zap"
)

// ImageProcessor uploads import_files to object storage and links images
// named "<group id>_<suffix>" to the rows of that product group
type ImageProcessor struct {
	store     catalog.ImageStore
	scope     TransactionScope
	chunkSize int
	logger    *zap.Logger
}

// NewImageProcessor creates an image processor
func NewImageProcessor(store catalog.ImageStore, scope TransactionScope, chunkSize int, logger *zap.Logger) *ImageProcessor {
	return &ImageProcessor{store: store, scope: scope, chunkSize: chunkSize, logger: logger}
}

// Phases plans an images run
func (p *ImageProcessor) Phases(ctx context.Context, run Run) ([]Phase, error) {
	if run.ImportType != exchange.ImportTypeImages {
		return nil, fmt.Errorf("image processor cannot run %s imports", run.ImportType)
	}
	if p.store == nil {
		return nil, errNoImageStore
	}
	return []Phase{{Name: "images", Run: p.run}}, nil
}

// imageFile is one image found under import_files; Key is the slash-separated
// path relative to the import directory, as 1C references it in goods
type imageFile struct {
	Path string
	Key  string
}

func (p *ImageProcessor) collect(dataDir string) ([]imageFile, error) {
	var files []imageFile
	root := filepath.Join(dataDir, commerceml.ImagesDir)
	err := filepath.WalkDir(root, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !storage.IsImage(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dataDir, walkPath)
		if err != nil {
			return err
		}
		files = append(files, imageFile{Path: walkPath, Key: filepath.ToSlash(rel)})
		return nil
	})
	return files, err
}

func (p *ImageProcessor) run(ctx context.Context, run Run) (exchange.ImportStats, error) {
	stats := exchange.NewImportStats()
	files, err := p.collect(run.DataDir)
	if err != nil {
		return stats, err
	}
	if run.DryRun {
		stats.Inc(StatValidated, len(files))
		return stats, nil
	}

	batches := newChunker(p.chunkSize, func(ctx context.Context, batch []imageFile) error {
		chunkStats := exchange.NewImportStats()
		err := p.scope.Execute(ctx, func(repos Repositories) error {
			chunkStats = exchange.NewImportStats()
			for _, img := range batch {
				if err := p.link(ctx, repos, img, chunkStats); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		stats = stats.Merge(chunkStats)
		return run.progress(ctx, stats)
	})

	for _, img := range files {
		uploaded, err := p.upload(ctx, img)
		if err != nil {
			return stats, exchange.NewTransientError("IMAGE_UPLOAD_FAILED",
				fmt.Sprintf("failed to upload %s", img.Key), err)
		}
		if uploaded {
			stats.Inc(exchange.StatCreated, 1)
		} else {
			stats.Inc("unchanged", 1)
		}
		if err := batches.add(ctx, img); err != nil {
			return stats, err
		}
	}
	if err := batches.drain(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}

// upload stores the file unless an object with the same key exists
func (p *ImageProcessor) upload(ctx context.Context, img imageFile) (bool, error) {
	exists, err := p.store.Exists(ctx, img.Key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	f, err := os.Open(img.Path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	contentType := mime.TypeByExtension(strings.ToLower(path.Ext(img.Key)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := p.store.Put(ctx, img.Key, f, info.Size(), contentType); err != nil {
		return false, err
	}
	p.logger.Debug("image uploaded", zap.String("key", img.Key), zap.Int64("size", info.Size()))
	return true, nil
}

// groupOf extracts the product group id from a 1C image file name
func groupOf(key string) string {
	base := strings.TrimSuffix(path.Base(key), path.Ext(key))
	if idx := strings.Index(base, "_"); idx > 0 {
		return base[:idx]
	}
	return base
}

func (p *ImageProcessor) link(ctx context.Context, repos Repositories, img imageFile, stats exchange.ImportStats) error {
	rows, err := repos.Products().FindByParentExternalID(ctx, groupOf(img.Key))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		stats.Inc("unlinked", 1)
		return nil
	}
	for i := range rows {
		if !rows[i].AddImage(img.Key) {
			continue
		}
		if err := repos.Products().Save(ctx, &rows[i]); err != nil {
			return err
		}
		stats.Inc(exchange.StatUpdated, 1)
	}
	return nil
}

// errNoImageStore is returned when images are imported without a configured store
var errNoImageStore = errors.New("image store is not configured")
