package commerceml

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RootElement is the document element of every CommerceML file
const RootElement = "КоммерческаяИнформация"

// SchemaVersion is the version announced in generated documents and the init handshake
const SchemaVersion = "3.1"

// Group is a classifier group. Nested groups are flattened by the parser,
// so Children is only populated while decoding.
type Group struct {
	ID       string  `xml:"Ид" validate:"required"`
	Name     string  `xml:"Наименование" validate:"required"`
	ParentID string  `xml:"-"`
	Children []Group `xml:"Группы>Группа"`
}

// PriceType is a price type declared in a classifier or an offers package
type PriceType struct {
	ID       string `xml:"Ид" validate:"required"`
	Name     string `xml:"Наименование" validate:"required"`
	Currency string `xml:"Валюта"`
}

// Classifier is the reference data of a goods document
type Classifier struct {
	Groups     []Group
	PriceTypes []PriceType
}

// Manufacturer carries the 1C brand of a product
type Manufacturer struct {
	ID   string `xml:"Ид"`
	Name string `xml:"Наименование"`
}

// Good is a product group record of the goods feed
type Good struct {
	ID          string        `xml:"Ид" validate:"required"`
	Article     string        `xml:"Артикул"`
	Name        string        `xml:"Наименование" validate:"required"`
	Description string        `xml:"Описание"`
	GroupIDs    []string      `xml:"Группы>Ид"`
	Images      []string      `xml:"Картинка"`
	Brand       *Manufacturer `xml:"Изготовитель"`
}

// CategoryID returns the first classifier group of the good
func (g Good) CategoryID() string {
	for _, id := range g.GroupIDs {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

// BrandID returns the external brand id, and whether the brand tag was present at all
func (g Good) BrandID() (string, bool) {
	if g.Brand == nil {
		return "", false
	}
	return strings.TrimSpace(g.Brand.ID), true
}

// Feature is one characteristic of an offer
type Feature struct {
	Name  string `xml:"Наименование"`
	Value string `xml:"Значение"`
}

// PriceLine is one price of an offer, rounded to 2 places
type PriceLine struct {
	PriceTypeID string
	Value       decimal.Decimal
	Currency    string
}

// StockLine is the quantity of an offer on one warehouse
type StockLine struct {
	WarehouseID string
	Quantity    decimal.Decimal
}

// DefaultWarehouse names stock reported without a warehouse
const DefaultWarehouse = "default"

// Offer is a SKU record of the offers, prices or rests feeds
type Offer struct {
	ID       string    `xml:"Ид" validate:"required"`
	Article  string    `xml:"Артикул"`
	Name     string    `xml:"Наименование"`
	Features []Feature `xml:"ХарактеристикиТовара>ХарактеристикаТовара"`
	Quantity string    `xml:"Количество"`

	RawPrices     []rawPrice     `xml:"Цены>Цена"`
	RawStocks     []rawStock     `xml:"Остатки>Остаток"`
	RawWarehouses []rawWarehouse `xml:"Склад"`

	Prices []PriceLine `xml:"-"`
	Stocks []StockLine `xml:"-"`
}

// Specifications returns the offer features as a name → value map
func (o Offer) Specifications() map[string]string {
	specs := make(map[string]string, len(o.Features))
	for _, f := range o.Features {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		specs[name] = strings.TrimSpace(f.Value)
	}
	return specs
}

// HasStock reports whether the record carried any stock line
func (o Offer) HasStock() bool {
	return len(o.Stocks) > 0
}

// StockByWarehouse sums the stock lines per warehouse
func (o Offer) StockByWarehouse() map[string]decimal.Decimal {
	byWarehouse := make(map[string]decimal.Decimal, len(o.Stocks))
	for _, s := range o.Stocks {
		byWarehouse[s.WarehouseID] = byWarehouse[s.WarehouseID].Add(s.Quantity)
	}
	return byWarehouse
}

type rawPrice struct {
	PriceTypeID string `xml:"ИдТипаЦены" validate:"required"`
	Value       string `xml:"ЦенаЗаЕдиницу" validate:"required"`
	Currency    string `xml:"Валюта"`
}

type rawStock struct {
	Warehouse *struct {
		ID       string `xml:"Ид"`
		Quantity string `xml:"Количество"`
	} `xml:"Склад"`
	Quantity string `xml:"Количество"`
}

// rawWarehouse is the attribute form used by older schema versions
type rawWarehouse struct {
	ID       string `xml:"ИдСклада,attr"`
	Quantity string `xml:"КоличествоНаСкладе,attr"`
}

// Contact is one contact line of a contragent
type Contact struct {
	Type  string `xml:"Тип"`
	Value string `xml:"Значение"`
}

// Contragent is a customer record of the contragents feed
type Contragent struct {
	ID       string    `xml:"Ид" validate:"required"`
	Name     string    `xml:"Наименование"`
	FullName string    `xml:"ПолноеНаименование"`
	Contacts []Contact `xml:"Контакты>Контакт"`
}

// DisplayName prefers the full name
func (c Contragent) DisplayName() string {
	if name := strings.TrimSpace(c.FullName); name != "" {
		return name
	}
	return strings.TrimSpace(c.Name)
}

// Email returns the first e-mail contact
func (c Contragent) Email() string {
	return c.contact("почта", "e-mail", "email")
}

// Phone returns the first phone contact
func (c Contragent) Phone() string {
	return c.contact("телефон", "phone")
}

func (c Contragent) contact(kinds ...string) string {
	for _, ct := range c.Contacts {
		t := strings.ToLower(ct.Type)
		for _, k := range kinds {
			if strings.Contains(t, k) && strings.TrimSpace(ct.Value) != "" {
				return strings.TrimSpace(ct.Value)
			}
		}
	}
	return ""
}

// Requisite is a named value attached to a document
type Requisite struct {
	Name  string `xml:"Наименование"`
	Value string `xml:"Значение"`
}

// Requisite names carrying order updates, with the aliases seen in 1C configurations
var (
	RequisiteStatus      = []string{"Статус заказа", "Статус"}
	RequisitePaid        = []string{"Оплачен", "Заказ оплачен"}
	RequisitePaidDate    = []string{"Дата оплаты", "Дата оплаты по 1С"}
	RequisiteShippedDate = []string{"Дата отгрузки", "Дата отгрузки по 1С"}
)

// OrderUpdate is one order document of an orders feed
type OrderUpdate struct {
	ID         string      `xml:"Ид" validate:"required_without=Number"`
	Number     string      `xml:"Номер" validate:"required_without=ID"`
	Requisites []Requisite `xml:"ЗначенияРеквизитов>ЗначениеРеквизита"`
}

// Field looks a requisite up by any of its names. present is false when
// the document carries no such requisite; an empty value with present=true
// is an explicitly empty tag.
func (o OrderUpdate) Field(names []string) (value string, present bool) {
	for _, r := range o.Requisites {
		name := strings.TrimSpace(r.Name)
		for _, n := range names {
			if strings.EqualFold(name, n) {
				return strings.TrimSpace(r.Value), true
			}
		}
	}
	return "", false
}
