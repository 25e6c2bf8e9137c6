package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/erp/exchange/internal/domain/catalog"
	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxSlugAttempts bounds the suffix search for a unique brand slug
const maxSlugAttempts = 1000

// BrandPair is one brand reference from the goods feed
type BrandPair struct {
	ExternalID string
	Name       string
}

// BrandResolver deduplicates 1C brands by normalized name and keeps the
// external id mappings current
type BrandResolver struct {
	metrics Metrics
	logger  *zap.Logger
}

// NewBrandResolver creates a brand resolver
func NewBrandResolver(metrics Metrics, logger *zap.Logger) *BrandResolver {
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &BrandResolver{metrics: metrics, logger: logger}
}

// ResolveBatch creates or reuses one brand per normalized name and maps every
// external id of the group to it. Returns external id -> brand id.
func (r *BrandResolver) ResolveBatch(ctx context.Context, repos Repositories, pairs []BrandPair) (map[string]uuid.UUID, exchange.ImportStats, error) {
	stats := exchange.NewImportStats()
	resolved := make(map[string]uuid.UUID, len(pairs))

	groups := make(map[string][]BrandPair)
	for _, p := range pairs {
		normalized := catalog.NormalizeBrandName(p.Name)
		if p.ExternalID == "" || normalized == "" {
			stats.Inc("brand_invalid", 1)
			continue
		}
		groups[normalized] = append(groups[normalized], p)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, normalized := range keys {
		group := groups[normalized]
		brand, created, err := r.findOrCreate(ctx, repos.Brands(), normalized, group[0].Name)
		if err != nil {
			return nil, stats, err
		}
		if created {
			stats.Inc("brands_created", 1)
		}
		for _, p := range group {
			changed, err := r.upsertMapping(ctx, repos.BrandMappings(), p, brand.ID)
			if err != nil {
				return nil, stats, err
			}
			if changed {
				stats.Inc("brand_mappings_saved", 1)
			}
			resolved[p.ExternalID] = brand.ID
		}
	}
	return resolved, stats, nil
}

func (r *BrandResolver) findOrCreate(ctx context.Context, brands catalog.BrandRepository, normalized, name string) (*catalog.Brand, bool, error) {
	existing, err := brands.FindByNormalizedName(ctx, normalized)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, false, err
	}
	brand, err := catalog.NewBrand(name)
	if err != nil {
		return nil, false, err
	}
	if err := r.assignUniqueSlug(ctx, brands, brand); err != nil {
		return nil, false, err
	}
	if err := brands.Save(ctx, brand); err != nil {
		return nil, false, exchange.NewDataIntegrityError("BRAND_SAVE_FAILED",
			fmt.Sprintf("failed to save brand %q", name), err)
	}
	return brand, true, nil
}

func (r *BrandResolver) assignUniqueSlug(ctx context.Context, brands catalog.BrandRepository, brand *catalog.Brand) error {
	base := brand.Slug
	for n := 1; n <= maxSlugAttempts; n++ {
		candidate := catalog.SlugCandidate(base, n)
		exists, err := brands.SlugExists(ctx, candidate)
		if err != nil {
			return err
		}
		if !exists {
			brand.Slug = candidate
			return nil
		}
	}
	return exchange.NewDataIntegrityError("BRAND_SLUG_EXHAUSTED",
		fmt.Sprintf("no free slug for brand %q", brand.Name), nil)
}

func (r *BrandResolver) upsertMapping(ctx context.Context, mappings catalog.BrandMappingRepository, p BrandPair, brandID uuid.UUID) (bool, error) {
	mapping, err := mappings.FindByExternalID(ctx, p.ExternalID)
	switch {
	case err == nil:
		if !mapping.Refresh(brandID, p.Name) {
			return false, nil
		}
	case errors.Is(err, shared.ErrNotFound):
		mapping, err = catalog.NewBrandMapping(p.ExternalID, brandID, p.Name)
		if err != nil {
			return false, err
		}
	default:
		return false, err
	}
	if err := mappings.Save(ctx, mapping); err != nil {
		return false, exchange.NewDataIntegrityError("BRAND_MAPPING_SAVE_FAILED",
			fmt.Sprintf("failed to save brand mapping %s", p.ExternalID), err)
	}
	return true, nil
}

// ResolveForProduct attaches the mapped brand of the product's external brand
// id. Products without a usable mapping get the fallback brand.
func (r *BrandResolver) ResolveForProduct(ctx context.Context, repos Repositories, product *catalog.Product, sessionID uuid.UUID) (exchange.ImportStats, error) {
	stats := exchange.NewImportStats()
	if product.ExternalBrandID != "" {
		mapping, err := repos.BrandMappings().FindByExternalID(ctx, product.ExternalBrandID)
		if err == nil {
			product.AssignBrand(mapping.BrandID)
			return stats, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return stats, err
		}
	} else if product.BrandID != nil {
		return stats, nil
	}

	fallback, err := r.fallbackBrand(ctx, repos.Brands())
	if err != nil {
		return stats, err
	}
	product.AssignBrand(fallback.ID)
	stats.Inc(exchange.StatBrandFallbacks, 1)
	r.metrics.BrandFallback(ctx)
	r.logger.Warn("brand mapping missing, fallback brand assigned",
		zap.String("brand_id", product.ExternalBrandID),
		zap.String("product_id", product.ID.String()),
		zap.String("session_id", sessionID.String()),
		zap.String("fallback", fallback.Name),
	)
	return stats, nil
}

func (r *BrandResolver) fallbackBrand(ctx context.Context, brands catalog.BrandRepository) (*catalog.Brand, error) {
	brand, err := brands.FindFallback(ctx)
	if err == nil {
		return brand, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	brand = catalog.NewFallbackBrand()
	if existing, err := brands.FindByNormalizedName(ctx, brand.NormalizedName); err == nil {
		// a regular brand literally named "No Brand" already owns the name
		brand.NormalizedName = brand.NormalizedName + " fallback"
		r.logger.Warn("brand named like the fallback exists", zap.String("brand", existing.ID.String()))
	}
	if err := r.assignUniqueSlug(ctx, brands, brand); err != nil {
		return nil, err
	}
	if err := brands.Save(ctx, brand); err != nil {
		return nil, exchange.NewDataIntegrityError("FALLBACK_BRAND_SAVE_FAILED", "failed to save fallback brand", err)
	}
	return brand, nil
}
