package commerceml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

const (
	dateLayout     = "2006-01-02"
	timeLayout     = "15:04:05"
	dateTimeLayout = "2006-01-02T15:04:05"
)

// Counterparty identifies the customer of an exported order
type Counterparty struct {
	ID       string
	Name     string
	FullName string
	Email    string
	Phone    string
}

// OrderLine is one exported order item
type OrderLine struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Amount   decimal.Decimal
}

// OrderDocument is one order rendered as a <Документ>
type OrderDocument struct {
	ID           string
	Number       string
	CreatedAt    time.Time
	Currency     string
	Total        decimal.Decimal
	Counterparty Counterparty
	Comment      string
	Status       string
	IsPaid       bool
	PaidAt       *time.Time
	ShippedAt    *time.Time
	Lines        []OrderLine
}

type xmlDocument struct {
	XMLName      xml.Name        `xml:"Документ"`
	ID           string          `xml:"Ид"`
	Number       string          `xml:"Номер"`
	Date         string          `xml:"Дата"`
	Time         string          `xml:"Время"`
	Operation    string          `xml:"ХозОперация"`
	Role         string          `xml:"Роль"`
	Currency     string          `xml:"Валюта"`
	Rate         string          `xml:"Курс"`
	Sum          string          `xml:"Сумма"`
	Counterparty xmlCounterparty `xml:"Контрагенты>Контрагент"`
	Comment      string          `xml:"Комментарий"`
	Lines        []xmlLine       `xml:"Товары>Товар"`
	Requisites   []xmlRequisite  `xml:"ЗначенияРеквизитов>ЗначениеРеквизита"`
}

type xmlCounterparty struct {
	ID       string       `xml:"Ид"`
	Name     string       `xml:"Наименование"`
	Role     string       `xml:"Роль"`
	FullName string       `xml:"ПолноеНаименование"`
	Contacts []xmlContact `xml:"Контакты>Контакт"`
}

type xmlContact struct {
	Type  string `xml:"Тип"`
	Value string `xml:"Значение"`
}

type xmlLine struct {
	ID       string `xml:"Ид"`
	Name     string `xml:"Наименование"`
	Price    string `xml:"ЦенаЗаЕдиницу"`
	Quantity string `xml:"Количество"`
	Sum      string `xml:"Сумма"`
}

type xmlRequisite struct {
	Name  string `xml:"Наименование"`
	Value string `xml:"Значение"`
}

// Writer streams an orders document. Documents are written as they are
// passed in; Close writes the closing root tag.
type Writer struct {
	w      io.Writer
	enc    *xml.Encoder
	opened bool
	closed bool
	at     time.Time
	count  int
}

// NewWriter creates a writer stamping generatedAt into the root element
func NewWriter(w io.Writer, generatedAt time.Time) *Writer {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return &Writer{w: w, enc: enc, at: generatedAt}
}

func (wr *Writer) open() error {
	if wr.opened {
		return nil
	}
	if _, err := io.WriteString(wr.w, xml.Header); err != nil {
		return err
	}
	root := xml.StartElement{
		Name: xml.Name{Local: RootElement},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "ВерсияСхемы"}, Value: SchemaVersion},
			{Name: xml.Name{Local: "ДатаФормирования"}, Value: wr.at.Format(dateTimeLayout)},
		},
	}
	if err := wr.enc.EncodeToken(root); err != nil {
		return err
	}
	wr.opened = true
	return nil
}

// WriteDocument appends one order
func (wr *Writer) WriteDocument(doc OrderDocument) error {
	if wr.closed {
		return fmt.Errorf("writer is closed")
	}
	if err := wr.open(); err != nil {
		return err
	}
	if err := wr.enc.Encode(toXMLDocument(doc)); err != nil {
		return fmt.Errorf("failed to encode order %s: %w", doc.Number, err)
	}
	wr.count++
	return nil
}

// Count returns the number of documents written
func (wr *Writer) Count() int {
	return wr.count
}

// Close finishes the document. An empty export is still a valid document.
func (wr *Writer) Close() error {
	if wr.closed {
		return nil
	}
	if err := wr.open(); err != nil {
		return err
	}
	wr.closed = true
	if err := wr.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: RootElement}}); err != nil {
		return err
	}
	return wr.enc.Flush()
}

func toXMLDocument(doc OrderDocument) xmlDocument {
	currency := doc.Currency
	if currency == "" {
		currency = "RUB"
	}
	x := xmlDocument{
		ID:        doc.ID,
		Number:    doc.Number,
		Date:      doc.CreatedAt.Format(dateLayout),
		Time:      doc.CreatedAt.Format(timeLayout),
		Operation: "Заказ товара",
		Role:      "Продавец",
		Currency:  currency,
		Rate:      "1",
		Sum:       doc.Total.StringFixed(2),
		Counterparty: xmlCounterparty{
			ID:       doc.Counterparty.ID,
			Name:     doc.Counterparty.Name,
			Role:     "Покупатель",
			FullName: doc.Counterparty.FullName,
		},
		Comment: doc.Comment,
	}
	if doc.Counterparty.Email != "" {
		x.Counterparty.Contacts = append(x.Counterparty.Contacts, xmlContact{Type: "Почта", Value: doc.Counterparty.Email})
	}
	if doc.Counterparty.Phone != "" {
		x.Counterparty.Contacts = append(x.Counterparty.Contacts, xmlContact{Type: "Телефон рабочий", Value: doc.Counterparty.Phone})
	}
	for _, l := range doc.Lines {
		x.Lines = append(x.Lines, xmlLine{
			ID:       l.ID,
			Name:     l.Name,
			Price:    l.Price.StringFixed(2),
			Quantity: l.Quantity.String(),
			Sum:      l.Amount.StringFixed(2),
		})
	}
	x.Requisites = []xmlRequisite{
		{Name: RequisiteStatus[0], Value: doc.Status},
		{Name: RequisitePaid[1], Value: fmt.Sprintf("%t", doc.IsPaid)},
		{Name: RequisitePaidDate[0], Value: formatOptionalTime(doc.PaidAt)},
		{Name: RequisiteShippedDate[0], Value: formatOptionalTime(doc.ShippedAt)},
	}
	return x
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateTimeLayout)
}
