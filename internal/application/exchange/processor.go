package exchange

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/infrastructure/commerceml"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Counters added by the processors on top of the well-known ones
const (
	StatValidated          = "validated"
	StatParseWarnings      = "parse_warnings"
	StatCategoryUnresolved = "category_unresolved"
	StatPriceTypeUnknown   = "price_type_unknown"
	StatOfferOrphaned      = "offer_orphaned"
)

// Run describes one processing run over an import directory
type Run struct {
	SessionID  uuid.UUID
	ImportType exchange.ImportType
	DataDir    string
	DryRun     bool
	Progress   ProgressFunc
}

func (r Run) progress(ctx context.Context, stats exchange.ImportStats) error {
	if r.Progress == nil {
		return nil
	}
	return r.Progress(ctx, stats, "")
}

// Phase is one ordered step of a run
type Phase struct {
	Name string
	Run  func(ctx context.Context, run Run) (exchange.ImportStats, error)
}

// Processor plans the phases of the import types it owns
type Processor interface {
	Phases(ctx context.Context, run Run) ([]Phase, error)
}

// requiredDirs lists the subdirectories an import type cannot run without
var requiredDirs = map[exchange.ImportType][]string{
	exchange.ImportTypeCatalog:   {string(commerceml.FeedGoods), string(commerceml.FeedOffers)},
	exchange.ImportTypePrices:    {string(commerceml.FeedPrices)},
	exchange.ImportTypeStocks:    {string(commerceml.FeedRests)},
	exchange.ImportTypeCustomers: {string(commerceml.FeedContragents)},
	exchange.ImportTypeImages:    {commerceml.ImagesDir},
}

// Precheck verifies the mandatory subdirectories exist before any record is read
func Precheck(importType exchange.ImportType, dataDir string) error {
	for _, name := range requiredDirs[importType] {
		info, err := os.Stat(filepath.Join(dataDir, name))
		if err != nil || !info.IsDir() {
			return exchange.NewValidationError("MISSING_SUBDIRECTORY",
				fmt.Sprintf("missing mandatory subdirectory: %s", name))
		}
	}
	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// feedError turns a document-level parser failure into a validation error.
// Cancellation and deadline errors pass through untouched.
func feedError(err error) error {
	if errors.Is(err, commerceml.ErrInvalidStructure) ||
		errors.Is(err, commerceml.ErrEmptyFile) ||
		errors.Is(err, commerceml.ErrFileTooLarge) {
		return &exchange.ExchangeError{
			Kind:    exchange.KindValidation,
			Code:    "INVALID_FEED",
			Message: "feed rejected",
			Err:     err,
		}
	}
	return err
}

// isRecordError reports errors that reject one record without aborting the chunk
func isRecordError(err error) bool {
	var domainErr *shared.DomainError
	return errors.As(err, &domainErr) && !errors.Is(err, shared.ErrNotFound)
}

// mergeParseResult folds parser counters into stats and logs the warnings
func mergeParseResult(stats exchange.ImportStats, res *commerceml.Result, logger *zap.Logger) {
	if res == nil {
		return
	}
	stats.Inc(exchange.StatSkipped, res.Skipped)
	stats.Inc(StatParseWarnings, len(res.Warnings))
	for _, w := range res.Warnings {
		logger.Debug("record skipped",
			zap.String("file", w.File),
			zap.String("record_id", w.RecordID),
			zap.String("code", w.Code),
			zap.String("message", w.Message),
		)
	}
}

// chunker buffers parsed records and flushes them in fixed-size batches
type chunker[T any] struct {
	size  int
	buf   []T
	flush func(ctx context.Context, batch []T) error
}

func newChunker[T any](size int, flush func(ctx context.Context, batch []T) error) *chunker[T] {
	if size <= 0 {
		size = 500
	}
	return &chunker[T]{size: size, buf: make([]T, 0, size), flush: flush}
}

func (c *chunker[T]) add(ctx context.Context, item T) error {
	c.buf = append(c.buf, item)
	if len(c.buf) >= c.size {
		return c.drain(ctx)
	}
	return nil
}

func (c *chunker[T]) drain(ctx context.Context) error {
	if len(c.buf) == 0 {
		return nil
	}
	batch := c.buf
	c.buf = make([]T, 0, c.size)
	return c.flush(ctx, batch)
}

// streamFeed parses every file of a feed directory in natural order and
// applies the records chunk by chunk, each chunk in one transaction.
func streamFeed[T any](
	ctx context.Context,
	run Run,
	scope TransactionScope,
	chunkSize int,
	logger *zap.Logger,
	feed commerceml.Feed,
	parse func(ctx context.Context, path string, fn func(T) error) (*commerceml.Result, error),
	apply func(ctx context.Context, repos Repositories, record T) (exchange.ImportStats, error),
) (exchange.ImportStats, error) {
	stats := exchange.NewImportStats()
	files, err := commerceml.FeedFiles(filepath.Join(run.DataDir, string(feed)))
	if err != nil {
		return stats, err
	}

	batches := newChunker(chunkSize, func(ctx context.Context, batch []T) error {
		if run.DryRun {
			stats.Inc(StatValidated, len(batch))
			return nil
		}
		chunkStats := exchange.NewImportStats()
		err := scope.Execute(ctx, func(repos Repositories) error {
			chunkStats = exchange.NewImportStats()
			for _, record := range batch {
				recStats, err := apply(ctx, repos, record)
				if err != nil {
					if !isRecordError(err) {
						return err
					}
					chunkStats.Inc(exchange.StatErrors, 1)
					logger.Warn("record rejected", zap.String("feed", string(feed)), zap.Error(err))
					continue
				}
				for k, v := range recStats {
					chunkStats.Inc(k, v)
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

	for _, file := range files {
		res, err := parse(ctx, file, func(record T) error {
			return batches.add(ctx, record)
		})
		mergeParseResult(stats, res, logger)
		if err != nil {
			return stats, feedError(err)
		}
		if err := batches.drain(ctx); err != nil {
			return stats, err
		}
		logger.Info("feed file processed",
			zap.String("session_id", run.SessionID.String()),
			zap.String("file", filepath.Base(file)),
			zap.Int("records", recordsOf(res)),
		)
	}
	return stats, nil
}

func recordsOf(res *commerceml.Result) int {
	if res == nil {
		return 0
	}
	return res.Records
}
