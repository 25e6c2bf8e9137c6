package catalog

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/erp/exchange/internal/domain/shared"
	"github.com/google/uuid"
)

// FallbackBrandName is the singleton brand attached to products whose brand mapping is missing
const FallbackBrandName = "No Brand"

// Brand is the deduplicated brand shown in the storefront
type Brand struct {
	shared.BaseAggregateRoot
	Name           string
	NormalizedName string
	Slug           string
	IsFallback     bool
}

// NewBrand creates a brand. The slug is assigned by the caller once uniqueness is checked.
func NewBrand(name string) (*Brand, error) {
	name = strings.TrimSpace(name)
	normalized := NormalizeBrandName(name)
	if normalized == "" {
		return nil, shared.NewDomainError("INVALID_BRAND_NAME", fmt.Sprintf("Brand name %q normalizes to empty", name))
	}
	return &Brand{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Name:              name,
		NormalizedName:    normalized,
		Slug:              Slugify(name),
	}, nil
}

// NewFallbackBrand creates the "No Brand" singleton
func NewFallbackBrand() *Brand {
	b, _ := NewBrand(FallbackBrandName)
	b.IsFallback = true
	return b
}

// NormalizeBrandName produces the dedup key: lowercase, trimmed, hyphens and
// punctuation removed, whitespace runs collapsed to one space.
func NormalizeBrandName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var cyrillicTranslit = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e", 'ж': "zh",
	'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m", 'н': "n", 'о': "o",
	'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u", 'ф': "f", 'х': "h", 'ц': "ts",
	'ч': "ch", 'ш': "sh", 'щ': "sch", 'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu",
	'я': "ya",
}

// Slugify builds a URL slug, transliterating Cyrillic
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if t, ok := cyrillicTranslit[r]; ok {
			b.WriteString(t)
			dash = false
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return "brand"
	}
	return slug
}

// SlugCandidate returns the n-th slug candidate: base, base-2, base-3, ...
func SlugCandidate(base string, n int) string {
	if n <= 1 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}

// BrandMapping links a 1C brand id to a deduplicated brand
type BrandMapping struct {
	shared.BaseEntity
	ExternalID   string
	BrandID      uuid.UUID
	OriginalName string
}

// NewBrandMapping creates a mapping
func NewBrandMapping(externalID string, brandID uuid.UUID, originalName string) (*BrandMapping, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, shared.NewDomainError("INVALID_BRAND_ID", "External brand id cannot be empty")
	}
	return &BrandMapping{
		BaseEntity:   shared.NewBaseEntity(),
		ExternalID:   externalID,
		BrandID:      brandID,
		OriginalName: strings.TrimSpace(originalName),
	}, nil
}

// Refresh re-points the mapping and updates the 1C name. Returns true if anything changed.
func (m *BrandMapping) Refresh(brandID uuid.UUID, originalName string) bool {
	originalName = strings.TrimSpace(originalName)
	changed := false
	if m.BrandID != brandID {
		m.BrandID = brandID
		changed = true
	}
	if originalName != "" && m.OriginalName != originalName {
		m.OriginalName = originalName
		changed = true
	}
	return changed
}

// BrandRepository persists brands
type BrandRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Brand, error)
	FindByNormalizedName(ctx context.Context, normalized string) (*Brand, error)
	FindFallback(ctx context.Context) (*Brand, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	Save(ctx context.Context, brand *Brand) error
	Count(ctx context.Context) (int64, error)
}

// BrandMappingRepository persists brand mappings
type BrandMappingRepository interface {
	FindByExternalID(ctx context.Context, externalID string) (*BrandMapping, error)
	Save(ctx context.Context, mapping *BrandMapping) error
	Count(ctx context.Context) (int64, error)
}
