package exchange

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/erp/exchange/internal/domain/catalog"
	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/infrastructure/commerceml"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CatalogProcessor runs the catalog, prices and stocks imports:
// classifier load and brand batch, then phases A (placeholder), B (enrich),
// C (price) and D (stock)
type CatalogProcessor struct {
	parser    *commerceml.Parser
	scope     TransactionScope
	brands    *BrandResolver
	chunkSize int
	logger    *zap.Logger
	now       func() time.Time
}

// NewCatalogProcessor creates a catalog processor
func NewCatalogProcessor(parser *commerceml.Parser, scope TransactionScope, brands *BrandResolver, chunkSize int, logger *zap.Logger) *CatalogProcessor {
	return &CatalogProcessor{
		parser:    parser,
		scope:     scope,
		brands:    brands,
		chunkSize: chunkSize,
		logger:    logger,
		now:       time.Now,
	}
}

// catalogState is shared by the phases of one run
type catalogState struct {
	categories catalog.CategoryIndex
	priceTypes catalog.PriceTypeTable
	brands     map[string]uuid.UUID
}

// Phases plans the run for the import type
func (p *CatalogProcessor) Phases(ctx context.Context, run Run) ([]Phase, error) {
	st := &catalogState{
		categories: catalog.CategoryIndex{},
		priceTypes: catalog.PriceTypeTable{},
		brands:     map[string]uuid.UUID{},
	}
	has := func(feed commerceml.Feed) bool {
		return dirExists(filepath.Join(run.DataDir, string(feed)))
	}

	switch run.ImportType {
	case exchange.ImportTypeCatalog:
		phases := []Phase{
			{Name: "classifier", Run: p.classifierPhase(st)},
			{Name: "brands", Run: p.brandPhase(st)},
			{Name: "A placeholder", Run: p.placeholderPhase(st)},
			{Name: "B enrich", Run: p.enrichPhase(st)},
		}
		if has(commerceml.FeedPrices) {
			phases = append(phases, Phase{Name: "C price", Run: p.pricePhase(st)})
		}
		if has(commerceml.FeedRests) {
			phases = append(phases, Phase{Name: "D stock", Run: p.stockPhase()})
		}
		return phases, nil
	case exchange.ImportTypePrices:
		return []Phase{
			{Name: "classifier", Run: p.classifierPhase(st)},
			{Name: "C price", Run: p.pricePhase(st)},
		}, nil
	case exchange.ImportTypeStocks:
		return []Phase{{Name: "D stock", Run: p.stockPhase()}}, nil
	}
	return nil, fmt.Errorf("catalog processor cannot run %s imports", run.ImportType)
}

// classifierSources lists the documents that may declare groups or price types
func classifierSources(dataDir string) ([]string, error) {
	files, err := commerceml.RootImportFiles(dataDir)
	if err != nil {
		return nil, err
	}
	for _, feed := range []commerceml.Feed{commerceml.FeedGoods, commerceml.FeedOffers, commerceml.FeedPrices, commerceml.FeedPriceLists} {
		feedFiles, err := commerceml.FeedFiles(filepath.Join(dataDir, string(feed)))
		if err != nil {
			return nil, err
		}
		files = append(files, feedFiles...)
	}
	return files, nil
}

func (p *CatalogProcessor) classifierPhase(st *catalogState) func(ctx context.Context, run Run) (exchange.ImportStats, error) {
	return func(ctx context.Context, run Run) (exchange.ImportStats, error) {
		stats := exchange.NewImportStats()
		files, err := classifierSources(run.DataDir)
		if err != nil {
			return stats, err
		}

		var groups []commerceml.Group
		var priceTypes []commerceml.PriceType
		for _, file := range files {
			cls, res, err := p.parser.ParseClassifier(ctx, file)
			mergeParseResult(stats, res, p.logger)
			if err != nil {
				return stats, feedError(err)
			}
			groups = append(groups, cls.Groups...)
			priceTypes = append(priceTypes, cls.PriceTypes...)
		}
		stats.Inc("categories_seen", len(groups))
		stats.Inc("price_types_seen", len(priceTypes))

		if run.DryRun {
			for _, g := range groups {
				st.categories[g.ID] = uuid.New()
			}
			for _, pt := range priceTypes {
				if t, err := catalog.NewPriceType(pt.ID, pt.Name, pt.Currency); err == nil {
					st.priceTypes[pt.ID] = *t
				}
			}
			return stats, nil
		}

		err = p.scope.Execute(ctx, func(repos Repositories) error {
			if err := saveCategories(ctx, repos.Categories(), groups); err != nil {
				return err
			}
			if err := savePriceTypes(ctx, repos.PriceTypes(), priceTypes); err != nil {
				return err
			}
			all, err := repos.Categories().FindAll(ctx)
			if err != nil {
				return err
			}
			for _, c := range all {
				st.categories[c.ExternalID] = c.ID
			}
			types, err := repos.PriceTypes().FindAll(ctx)
			if err != nil {
				return err
			}
			for _, t := range types {
				st.priceTypes[t.ExternalID] = t
			}
			return nil
		})
		return stats, err
	}
}

// saveCategories upserts the groups, then links parents once every id is known
func saveCategories(ctx context.Context, repo catalog.CategoryRepository, groups []commerceml.Group) error {
	byExternal := make(map[string]*catalog.Category, len(groups))
	for _, g := range groups {
		c, err := repo.FindByExternalID(ctx, g.ID)
		switch {
		case err == nil:
			c.Name = g.Name
			c.Slug = catalog.Slugify(g.Name)
			c.ParentExternalID = g.ParentID
		case errors.Is(err, shared.ErrNotFound):
			c, err = catalog.NewCategory(g.ID, g.Name, g.ParentID)
			if err != nil {
				return err
			}
		default:
			return err
		}
		byExternal[c.ExternalID] = c
	}
	for _, c := range byExternal {
		c.ParentID = nil
		if parent, ok := byExternal[c.ParentExternalID]; ok {
			id := parent.ID
			c.ParentID = &id
		}
		if err := repo.Save(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func savePriceTypes(ctx context.Context, repo catalog.PriceTypeRepository, types []commerceml.PriceType) error {
	for _, pt := range types {
		t, err := repo.FindByExternalID(ctx, pt.ID)
		switch {
		case err == nil:
			t.Rename(pt.Name, pt.Currency)
		case errors.Is(err, shared.ErrNotFound):
			t, err = catalog.NewPriceType(pt.ID, pt.Name, pt.Currency)
			if err != nil {
				return err
			}
		default:
			return err
		}
		if err := repo.Save(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (p *CatalogProcessor) brandPhase(st *catalogState) func(ctx context.Context, run Run) (exchange.ImportStats, error) {
	return func(ctx context.Context, run Run) (exchange.ImportStats, error) {
		stats := exchange.NewImportStats()
		files, err := commerceml.FeedFiles(filepath.Join(run.DataDir, string(commerceml.FeedGoods)))
		if err != nil {
			return stats, err
		}

		var pairs []BrandPair
		for _, file := range files {
			_, err := p.parser.ParseGoods(ctx, file, func(g commerceml.Good) error {
				if g.Brand != nil && g.Brand.ID != "" {
					pairs = append(pairs, BrandPair{ExternalID: g.Brand.ID, Name: g.Brand.Name})
				}
				return nil
			})
			if err != nil {
				return stats, feedError(err)
			}
		}
		stats.Inc("brand_refs", len(pairs))
		if run.DryRun || len(pairs) == 0 {
			return stats, nil
		}

		err = p.scope.Execute(ctx, func(repos Repositories) error {
			resolved, batchStats, err := p.brands.ResolveBatch(ctx, repos, pairs)
			if err != nil {
				return err
			}
			st.brands = resolved
			stats = stats.Merge(batchStats)
			return nil
		})
		return stats, err
	}
}

// placeholderPhase is phase A: one row per product group from the goods feed
func (p *CatalogProcessor) placeholderPhase(st *catalogState) func(ctx context.Context, run Run) (exchange.ImportStats, error) {
	return func(ctx context.Context, run Run) (exchange.ImportStats, error) {
		return streamFeed(ctx, run, p.scope, p.chunkSize, p.logger, commerceml.FeedGoods, p.parser.ParseGoods,
			func(ctx context.Context, repos Repositories, g commerceml.Good) (exchange.ImportStats, error) {
				return p.applyGood(ctx, repos, run, st, g)
			})
	}
}

func (p *CatalogProcessor) applyGood(ctx context.Context, repos Repositories, run Run, st *catalogState, g commerceml.Good) (exchange.ImportStats, error) {
	stats := exchange.NewImportStats()
	groupID, _ := catalog.SplitOfferID(g.ID)

	data := catalog.GroupData{
		Name:        g.Name,
		Article:     g.Article,
		Description: g.Description,
		Images:      g.Images,
	}
	if categoryID := g.CategoryID(); categoryID != "" {
		if id, ok := st.categories.Resolve(categoryID); ok {
			data.CategoryID = id
		} else {
			stats.Inc(StatCategoryUnresolved, 1)
		}
	}
	if brandID, ok := g.BrandID(); ok {
		data.ExternalBrandID = brandID
	}

	rows, err := repos.Products().FindByParentExternalID(ctx, groupID)
	if err != nil {
		return stats, err
	}
	if len(rows) == 0 {
		placeholder, err := catalog.NewPlaceholder(groupID, g.Name)
		if err != nil {
			return stats, err
		}
		rows = []catalog.Product{*placeholder}
		stats.Inc(exchange.StatCreated, 1)
	} else {
		stats.Inc(exchange.StatUpdated, 1)
	}

	for i := range rows {
		row := &rows[i]
		row.ApplyGroupData(data)
		if brandID, ok := st.brands[row.ExternalBrandID]; ok {
			row.AssignBrand(brandID)
		} else if !row.IsPlaceholder() {
			brandStats, err := p.brands.ResolveForProduct(ctx, repos, row, run.SessionID)
			if err != nil {
				return stats, err
			}
			stats = stats.Merge(brandStats)
		}
		if err := repos.Products().Save(ctx, row); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// enrichPhase is phase B: binds offers to rows and creates variant rows
func (p *CatalogProcessor) enrichPhase(st *catalogState) func(ctx context.Context, run Run) (exchange.ImportStats, error) {
	return func(ctx context.Context, run Run) (exchange.ImportStats, error) {
		return streamFeed(ctx, run, p.scope, p.chunkSize, p.logger, commerceml.FeedOffers, p.parser.ParseOffers,
			func(ctx context.Context, repos Repositories, o commerceml.Offer) (exchange.ImportStats, error) {
				return p.applyOffer(ctx, repos, run, o)
			})
	}
}

func (p *CatalogProcessor) applyOffer(ctx context.Context, repos Repositories, run Run, o commerceml.Offer) (exchange.ImportStats, error) {
	stats := exchange.NewImportStats()
	products := repos.Products()
	groupID, _ := catalog.SplitOfferID(o.ID)
	data := catalog.OfferData{
		SKUExternalID:  o.ID,
		Name:           o.Name,
		Article:        o.Article,
		Specifications: o.Specifications(),
	}

	product, err := products.FindBySKUExternalID(ctx, o.ID)
	switch {
	case err == nil:
		if err := product.Enrich(data); err != nil {
			return stats, err
		}
		stats.Inc(exchange.StatUpdated, 1)
	case !errors.Is(err, shared.ErrNotFound):
		return stats, err
	default:
		product, err = products.FindPlaceholder(ctx, groupID)
		switch {
		case err == nil:
			if err := product.Enrich(data); err != nil {
				return stats, err
			}
			stats.Inc(exchange.StatUpdated, 1)
		case !errors.Is(err, shared.ErrNotFound):
			return stats, err
		default:
			siblings, err := products.FindByParentExternalID(ctx, groupID)
			if err != nil {
				return stats, err
			}
			if len(siblings) == 0 {
				stats.Inc(exchange.StatSkipped, 1)
				stats.Inc(StatOfferOrphaned, 1)
				p.logger.Warn("offer has no product group",
					zap.String("offer_id", o.ID),
					zap.String("group_id", groupID),
					zap.String("session_id", run.SessionID.String()),
				)
				return stats, nil
			}
			product, err = siblings[0].NewVariant(data)
			if err != nil {
				return stats, err
			}
			stats.Inc(exchange.StatCreated, 1)
		}
	}

	if product.BrandID == nil || product.ExternalBrandID != "" {
		brandStats, err := p.brands.ResolveForProduct(ctx, repos, product, run.SessionID)
		if err != nil {
			return stats, err
		}
		stats = stats.Merge(brandStats)
	}
	if err := products.Save(ctx, product); err != nil {
		return stats, err
	}
	return stats, nil
}

// pricePhase is phase C: writes price lines into the mapped price fields
func (p *CatalogProcessor) pricePhase(st *catalogState) func(ctx context.Context, run Run) (exchange.ImportStats, error) {
	return func(ctx context.Context, run Run) (exchange.ImportStats, error) {
		return streamFeed(ctx, run, p.scope, p.chunkSize, p.logger, commerceml.FeedPrices, p.parser.ParsePrices,
			func(ctx context.Context, repos Repositories, o commerceml.Offer) (exchange.ImportStats, error) {
				return p.applyPrices(ctx, repos, st, o)
			})
	}
}

func (p *CatalogProcessor) applyPrices(ctx context.Context, repos Repositories, st *catalogState, o commerceml.Offer) (exchange.ImportStats, error) {
	stats := exchange.NewImportStats()
	product, err := repos.Products().FindBySKUExternalID(ctx, o.ID)
	if errors.Is(err, shared.ErrNotFound) {
		stats.Inc(exchange.StatSkipped, 1)
		p.logger.Debug("price for unknown sku", zap.String("offer_id", o.ID))
		return stats, nil
	}
	if err != nil {
		return stats, err
	}

	federation := false
	for _, line := range o.Prices {
		field, ok := st.priceTypes.FieldFor(line.PriceTypeID)
		if !ok {
			stats.Inc(StatPriceTypeUnknown, 1)
			continue
		}
		if err := product.SetPrice(field, line.Value); err != nil {
			return stats, err
		}
		if field == catalog.PriceFederation {
			federation = true
		}
	}
	if !federation {
		product.ApplyFederationFallback()
	}
	if err := repos.Products().Save(ctx, product); err != nil {
		return stats, err
	}
	stats.Inc(exchange.StatUpdated, 1)
	return stats, nil
}

// stockPhase is phase D: overwrites per-warehouse stock
func (p *CatalogProcessor) stockPhase() func(ctx context.Context, run Run) (exchange.ImportStats, error) {
	return func(ctx context.Context, run Run) (exchange.ImportStats, error) {
		return streamFeed(ctx, run, p.scope, p.chunkSize, p.logger, commerceml.FeedRests, p.parser.ParseRests,
			func(ctx context.Context, repos Repositories, o commerceml.Offer) (exchange.ImportStats, error) {
				return p.applyStock(ctx, repos, o)
			})
	}
}

func (p *CatalogProcessor) applyStock(ctx context.Context, repos Repositories, o commerceml.Offer) (exchange.ImportStats, error) {
	stats := exchange.NewImportStats()
	product, err := repos.Products().FindBySKUExternalID(ctx, o.ID)
	if errors.Is(err, shared.ErrNotFound) {
		stats.Inc(exchange.StatSkipped, 1)
		p.logger.Debug("stock for unknown sku", zap.String("offer_id", o.ID))
		return stats, nil
	}
	if err != nil {
		return stats, err
	}
	product.UpdateStock(o.StockByWarehouse(), p.now())
	if err := repos.Products().Save(ctx, product); err != nil {
		return stats, err
	}
	stats.Inc(exchange.StatUpdated, 1)
	return stats, nil
}
