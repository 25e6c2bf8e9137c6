package commerceml

import (
	"bufio"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultMaxFileSize is the default document size ceiling (512 MiB)
const DefaultMaxFileSize int64 = 512 << 20

// Parser reads CommerceML documents record by record. It never touches storage.
type Parser struct {
	maxSize  int64
	logger   *zap.Logger
	validate *validator.Validate
}

// Option is a functional option for Parser configuration
type Option func(*Parser)

// WithMaxSize sets the document size ceiling
func WithMaxSize(n int64) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxSize = n
		}
	}
}

// WithLogger sets the logger used for per-record diagnostics
func WithLogger(logger *zap.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewParser creates a parser
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		maxSize:  DefaultMaxFileSize,
		logger:   zap.NewNop(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// elementHandler decodes one record element. Returning an error aborts the document.
type elementHandler func(d *xml.Decoder, start xml.StartElement, res *Result) error

// ParseClassifier loads the groups and price types declared in a document
func (p *Parser) ParseClassifier(ctx context.Context, path string) (*Classifier, *Result, error) {
	cls := &Classifier{}
	res, err := p.walk(ctx, path, map[string]elementHandler{
		"Группа": func(d *xml.Decoder, start xml.StartElement, res *Result) error {
			var g Group
			if err := d.DecodeElement(&g, &start); err != nil {
				return err
			}
			p.flattenGroup(g, "", cls, res)
			return nil
		},
		"ТипЦены": func(d *xml.Decoder, start xml.StartElement, res *Result) error {
			var pt PriceType
			if err := d.DecodeElement(&pt, &start); err != nil {
				return err
			}
			pt.ID = strings.TrimSpace(pt.ID)
			pt.Name = strings.TrimSpace(pt.Name)
			pt.Currency = strings.TrimSpace(pt.Currency)
			if !p.valid(res, pt.ID, pt) {
				return nil
			}
			cls.PriceTypes = append(cls.PriceTypes, pt)
			res.Records++
			return nil
		},
	})
	if err != nil {
		return nil, res, err
	}
	return cls, res, nil
}

func (p *Parser) flattenGroup(g Group, parentID string, cls *Classifier, res *Result) {
	g.ID = strings.TrimSpace(g.ID)
	g.Name = strings.TrimSpace(g.Name)
	children := g.Children
	g.Children = nil
	if p.valid(res, g.ID, g) {
		g.ParentID = parentID
		cls.Groups = append(cls.Groups, g)
		res.Records++
		parentID = g.ID
	}
	for _, child := range children {
		p.flattenGroup(child, parentID, cls, res)
	}
}

// ParseGoods streams the product group records of a goods document
func (p *Parser) ParseGoods(ctx context.Context, path string, fn func(Good) error) (*Result, error) {
	return p.walk(ctx, path, map[string]elementHandler{
		"Товар": func(d *xml.Decoder, start xml.StartElement, res *Result) error {
			var g Good
			if err := d.DecodeElement(&g, &start); err != nil {
				return err
			}
			g.ID = strings.TrimSpace(g.ID)
			g.Name = strings.TrimSpace(g.Name)
			g.Article = strings.TrimSpace(g.Article)
			g.Description = strings.TrimSpace(g.Description)
			g.Images = compact(g.Images)
			if !p.valid(res, g.ID, g) {
				return nil
			}
			res.Records++
			return fn(g)
		},
	})
}

// ParseOffers streams the SKU records of an offers, prices or rests document.
// Price and stock lines are normalized before fn is called.
func (p *Parser) ParseOffers(ctx context.Context, path string, fn func(Offer) error) (*Result, error) {
	return p.walk(ctx, path, map[string]elementHandler{
		"Предложение": func(d *xml.Decoder, start xml.StartElement, res *Result) error {
			var o Offer
			if err := d.DecodeElement(&o, &start); err != nil {
				return err
			}
			o.ID = strings.TrimSpace(o.ID)
			o.Name = strings.TrimSpace(o.Name)
			o.Article = strings.TrimSpace(o.Article)
			if !p.valid(res, o.ID, o) {
				return nil
			}
			if err := p.normalizeOffer(&o); err != nil {
				res.warn(o.ID, ErrCodeInvalidNumber, err.Error())
				p.logger.Debug("offer skipped", zap.String("file", res.File), zap.String("offer_id", o.ID), zap.Error(err))
				return nil
			}
			res.Records++
			return fn(o)
		},
	})
}

// ParsePrices is ParseOffers for price documents
func (p *Parser) ParsePrices(ctx context.Context, path string, fn func(Offer) error) (*Result, error) {
	return p.ParseOffers(ctx, path, fn)
}

// ParseRests is ParseOffers for stock documents
func (p *Parser) ParseRests(ctx context.Context, path string, fn func(Offer) error) (*Result, error) {
	return p.ParseOffers(ctx, path, fn)
}

func (p *Parser) normalizeOffer(o *Offer) error {
	for _, raw := range o.RawPrices {
		if err := p.validate.Struct(raw); err != nil {
			return fmt.Errorf("price line: %s", describeValidation(err))
		}
		value, err := ParseDecimal(raw.Value)
		if err != nil {
			return fmt.Errorf("price line %s: %w", raw.PriceTypeID, err)
		}
		o.Prices = append(o.Prices, PriceLine{
			PriceTypeID: strings.TrimSpace(raw.PriceTypeID),
			Value:       value.Round(2),
			Currency:    strings.TrimSpace(raw.Currency),
		})
	}
	for _, raw := range o.RawStocks {
		warehouse, qty := "", raw.Quantity
		if raw.Warehouse != nil {
			warehouse, qty = strings.TrimSpace(raw.Warehouse.ID), raw.Warehouse.Quantity
		}
		if err := o.addStock(warehouse, qty); err != nil {
			return err
		}
	}
	for _, raw := range o.RawWarehouses {
		if err := o.addStock(strings.TrimSpace(raw.ID), raw.Quantity); err != nil {
			return err
		}
	}
	if len(o.Stocks) == 0 && strings.TrimSpace(o.Quantity) != "" {
		if err := o.addStock("", o.Quantity); err != nil {
			return err
		}
	}
	o.RawPrices, o.RawStocks, o.RawWarehouses = nil, nil, nil
	return nil
}

func (o *Offer) addStock(warehouse, raw string) error {
	qty, err := ParseDecimal(raw)
	if err != nil {
		return fmt.Errorf("stock line %s: %w", warehouse, err)
	}
	if warehouse == "" {
		warehouse = DefaultWarehouse
	}
	o.Stocks = append(o.Stocks, StockLine{WarehouseID: warehouse, Quantity: qty})
	return nil
}

// ParseContragents streams the customer records of a contragents document
func (p *Parser) ParseContragents(ctx context.Context, path string, fn func(Contragent) error) (*Result, error) {
	return p.walk(ctx, path, map[string]elementHandler{
		"Контрагент": func(d *xml.Decoder, start xml.StartElement, res *Result) error {
			var c Contragent
			if err := d.DecodeElement(&c, &start); err != nil {
				return err
			}
			c.ID = strings.TrimSpace(c.ID)
			if !p.valid(res, c.ID, c) {
				return nil
			}
			res.Records++
			return fn(c)
		},
	})
}

// ParseOrders streams the order documents of an orders document
func (p *Parser) ParseOrders(ctx context.Context, path string, fn func(OrderUpdate) error) (*Result, error) {
	return p.walk(ctx, path, map[string]elementHandler{
		"Документ": func(d *xml.Decoder, start xml.StartElement, res *Result) error {
			var o OrderUpdate
			if err := d.DecodeElement(&o, &start); err != nil {
				return err
			}
			o.ID = strings.TrimSpace(o.ID)
			o.Number = strings.TrimSpace(o.Number)
			id := o.ID
			if id == "" {
				id = o.Number
			}
			if !p.valid(res, id, o) {
				return nil
			}
			res.Records++
			return fn(o)
		},
	})
}

func (p *Parser) valid(res *Result, recordID string, record any) bool {
	if err := p.validate.Struct(record); err != nil {
		msg := describeValidation(err)
		res.warn(recordID, ErrCodeRequiredField, msg)
		p.logger.Debug("record skipped",
			zap.String("file", res.File),
			zap.String("record_id", recordID),
			zap.String("reason", msg),
		)
		return false
	}
	return true
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return "missing required field: " + strings.Join(fields, ", ")
}

// walk checks the document and then dispatches every element with a handler.
// Elements consumed by a handler are not descended into.
func (p *Parser) walk(ctx context.Context, path string, handlers map[string]elementHandler) (*Result, error) {
	base := filepath.Base(path)
	res := &Result{File: base}

	info, err := os.Stat(path)
	if err != nil {
		return res, fmt.Errorf("failed to stat %s: %w", base, err)
	}
	if info.Size() == 0 {
		return res, fmt.Errorf("%s: %w", base, ErrEmptyFile)
	}
	if info.Size() > p.maxSize {
		return res, fmt.Errorf("%s: %w", base, ErrFileTooLarge)
	}

	if err := p.checkStructure(path); err != nil {
		return res, fmt.Errorf("%w: %s: %v", ErrInvalidStructure, base, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return res, fmt.Errorf("failed to open %s: %w", base, err)
	}
	defer f.Close()

	d := newDecoder(f)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("%w: %s: %v", ErrInvalidStructure, base, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		handler, ok := handlers[start.Name.Local]
		if !ok {
			continue
		}
		if err := handler(d, start, res); err != nil {
			var syntaxErr *xml.SyntaxError
			if errors.As(err, &syntaxErr) {
				return res, fmt.Errorf("%w: %s: %v", ErrInvalidStructure, base, err)
			}
			return res, err
		}
	}

	p.logger.Debug("document parsed",
		zap.String("file", base),
		zap.Int("records", res.Records),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// checkStructure reads every token once so that malformed documents are
// rejected before any record is handed out.
func (p *Parser) checkStructure(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	d := newDecoder(f)
	rootSeen := false
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if start, ok := tok.(xml.StartElement); ok && !rootSeen {
			if start.Name.Local != RootElement {
				return fmt.Errorf("unexpected root element <%s>", start.Name.Local)
			}
			rootSeen = true
		}
	}
	if !rootSeen {
		return errors.New("no root element")
	}
	return nil
}

func newDecoder(r io.Reader) *xml.Decoder {
	br := bufio.NewReader(r)
	// UTF-8 BOM: 0xEF, 0xBB, 0xBF
	if bom, err := br.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	d := xml.NewDecoder(br)
	d.CharsetReader = charsetReader
	return d
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ParseDecimal parses 1C numbers: spaces and non-breaking spaces are digit
// group separators, a comma is accepted as the decimal separator.
func ParseDecimal(s string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\t':
			return -1
		case ',':
			return '.'
		}
		return r
	}, s)
	if cleaned == "" {
		return decimal.Zero, errors.New("empty number")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q", s)
	}
	return d, nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02.01.2006 15:04:05",
	"02.01.2006",
}

// ParseDate parses a 1C date. Empty values and the 1C zero date yield nil.
// Dates without a zone are read as UTC.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "0001-01-01") || strings.HasPrefix(s, "01.01.0001") {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q", s)
}

// ParseBool parses the boolean requisites 1C writes
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "да", "1", "yes":
		return true, nil
	case "false", "нет", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}
