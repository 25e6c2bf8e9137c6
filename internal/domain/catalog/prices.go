package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/erp/exchange/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// PriceField names a product price column
type PriceField string

const (
	PriceRetail            PriceField = "retail"
	PriceOpt1              PriceField = "opt1"
	PriceOpt2              PriceField = "opt2"
	PriceOpt3              PriceField = "opt3"
	PriceTrainer           PriceField = "trainer"
	PriceFederation        PriceField = "federation"
	PriceRecommendedRetail PriceField = "recommended_retail"
	PriceMaxRetail         PriceField = "max_retail"
)

// Prices holds all price levels of a product
type Prices struct {
	Retail            decimal.Decimal `json:"retail"`
	Opt1              decimal.Decimal `json:"opt1"`
	Opt2              decimal.Decimal `json:"opt2"`
	Opt3              decimal.Decimal `json:"opt3"`
	Trainer           decimal.Decimal `json:"trainer"`
	Federation        decimal.Decimal `json:"federation"`
	RecommendedRetail decimal.Decimal `json:"recommended_retail"`
	MaxRetail         decimal.Decimal `json:"max_retail"`
}

// ZeroPrices returns all price levels set to zero
func ZeroPrices() Prices {
	return Prices{
		Retail:            decimal.Zero,
		Opt1:              decimal.Zero,
		Opt2:              decimal.Zero,
		Opt3:              decimal.Zero,
		Trainer:           decimal.Zero,
		Federation:        decimal.Zero,
		RecommendedRetail: decimal.Zero,
		MaxRetail:         decimal.Zero,
	}
}

func (p *Prices) ref(field PriceField) (*decimal.Decimal, error) {
	switch field {
	case PriceRetail:
		return &p.Retail, nil
	case PriceOpt1:
		return &p.Opt1, nil
	case PriceOpt2:
		return &p.Opt2, nil
	case PriceOpt3:
		return &p.Opt3, nil
	case PriceTrainer:
		return &p.Trainer, nil
	case PriceFederation:
		return &p.Federation, nil
	case PriceRecommendedRetail:
		return &p.RecommendedRetail, nil
	case PriceMaxRetail:
		return &p.MaxRetail, nil
	}
	return nil, shared.NewDomainError("INVALID_PRICE_FIELD", fmt.Sprintf("Unknown price field: %s", field))
}

// Set writes a price level, rounded to 2 places
func (p *Prices) Set(field PriceField, value decimal.Decimal) error {
	ref, err := p.ref(field)
	if err != nil {
		return err
	}
	*ref = value.Round(2)
	return nil
}

// Get reads a price level
func (p Prices) Get(field PriceField) decimal.Decimal {
	ref, err := p.ref(field)
	if err != nil {
		return decimal.Zero
	}
	return *ref
}

// priceRule maps a price-type name fragment to a product price field.
// Rules are matched in order against the lowercased name with spaces removed,
// so specific names must come before the generic ones they contain.
type priceRule struct {
	pattern *regexp.Regexp
	field   PriceField
}

func rule(pattern string, field PriceField) priceRule {
	return priceRule{pattern: regexp.MustCompile(pattern), field: field}
}

// wholesaleTier matches "опт 2", "оптовая 2", "оптовая цена 3", "опт. 3"
func wholesaleTier(n string) string {
	return `(?:опт|opt|wholesale)\p{L}*\.?(?:\s+\p{L}+)*\s*` + n + `(?:\D|$)`
}

// priceRules are tried in order; the first match wins
var priceRules = []priceRule{
	rule(wholesaleTier("1"), PriceOpt1),
	rule(wholesaleTier("2"), PriceOpt2),
	rule(wholesaleTier("3"), PriceOpt3),
	rule(`тренер|trainer`, PriceTrainer),
	rule(`федерац|federation`, PriceFederation),
	rule(`ррц|рекомендован|recommended`, PriceRecommendedRetail),
	rule(`мрц|максимальн|max\s*retail`, PriceMaxRetail),
	rule(`опт|wholesale|opt`, PriceOpt1),
	rule(`розн|retail`, PriceRetail),
}

// PriceFieldForName maps a 1C price-type name to the product field it fills.
// Unknown names map to retail.
func PriceFieldForName(name string) PriceField {
	key := strings.ToLower(strings.Join(strings.Fields(name), " "))
	for _, r := range priceRules {
		if r.pattern.MatchString(key) {
			return r.field
		}
	}
	return PriceRetail
}
