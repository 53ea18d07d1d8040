// Package csv parses bank CSV exports described by Layout data
package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/Dan9191/bank-feed/internal/models"
	"github.com/Dan9191/bank-feed/internal/parser"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parser parses one bank's CSV layout. It holds no mutable state and is safe
// for concurrent use.
type Parser struct {
	layout Layout
}

// NewParser validates layout and returns its parser
func NewParser(layout Layout) (*Parser, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &Parser{layout: layout}, nil
}

// NewParsers builds a parser per layout
func NewParsers(layouts []Layout) ([]parser.Parser, error) {
	out := make([]parser.Parser, 0, len(layouts))
	for _, l := range layouts {
		p, err := NewParser(l)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Name returns "csv-" + layout name
func (p *Parser) Name() string {
	return "csv-" + p.layout.Name
}

// Layout returns the parser's layout
func (p *Parser) Layout() Layout {
	return p.layout
}

// Detect checks the header line for every identifying column of the layout
func (p *Parser) Detect(header []byte) bool {
	text, err := p.decode(header)
	if err != nil {
		return false
	}
	lines := strings.SplitN(string(text), "\n", p.layout.SkipLines+2)
	if len(lines) <= p.layout.SkipLines {
		return false
	}
	headerLine := strings.TrimRight(lines[p.layout.SkipLines], "\r")

	r := p.newReader(strings.NewReader(headerLine))
	record, err := r.Read()
	if err != nil {
		return false
	}
	index := indexHeader(record)
	for _, h := range p.layout.detectHeaders() {
		if _, ok := index[normalizeHeader(h)]; !ok {
			return false
		}
	}
	return true
}

// Parse reads the whole export
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*parser.Result, error) {
	if err := parser.CheckContext(ctx); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV content: %w", err)
	}
	data, err := p.decode(raw)
	if err != nil {
		return nil, parser.Invalid("cannot decode %s content: %v", p.layout.Encoding, err)
	}

	csvReader := p.newReader(bytes.NewReader(data))
	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, parser.Invalid("malformed CSV: %v", err)
	}
	if len(records) <= p.layout.SkipLines {
		return nil, parser.Invalid("CSV file is empty")
	}

	headerRow := records[p.layout.SkipLines]
	if len(headerRow) < 2 {
		return nil, parser.Invalid("header has a single column, expected delimiter %q", p.layout.Delimiter)
	}
	index := indexHeader(headerRow)
	for _, h := range p.layout.requiredHeaders() {
		if _, ok := index[normalizeHeader(h)]; !ok {
			return nil, parser.Invalid("missing required column %q for layout %s", h, p.layout.Name)
		}
	}

	result := &parser.Result{Format: p.Name()}
	rows := records[p.layout.SkipLines+1:]
	for i, record := range rows {
		if isEmptyRow(record) {
			continue
		}
		if err := parser.CheckContext(ctx); err != nil {
			return nil, err
		}
		// 1-based line number including skipped lines and the header
		rowNum := p.layout.SkipLines + i + 2
		result.TotalRows++

		row := mapRow(headerRow, record)
		if result.Account.IBAN == "" && p.layout.Columns.Account != "" {
			result.Account.IBAN = row.get(p.layout.Columns.Account)
		}

		txn, err := p.parseRow(row)
		if err != nil {
			result.AddError(rowNum, row.get(p.layout.Columns.Reference), err)
			continue
		}
		result.Records = append(result.Records, *txn)
	}
	if p.layout.Currency != "" {
		result.Account.Currency = p.layout.Currency
	}
	result.Account.BankCode = p.layout.Bank

	return result, nil
}

func (p *Parser) parseRow(row rowValues) (*models.RawTransaction, error) {
	c := p.layout.Columns

	date, err := p.parseDate(row.get(c.Date))
	if err != nil {
		return nil, fmt.Errorf("invalid date: %w", err)
	}

	amount, err := p.rowAmount(row)
	if err != nil {
		return nil, err
	}

	currency := p.layout.Currency
	if c.Currency != "" {
		if v := row.get(c.Currency); v != "" {
			currency = v
		}
	}
	if currency == "" {
		return nil, errors.New("currency is empty")
	}

	direction := models.DirectionCredit
	if amount.IsNegative() {
		direction = models.DirectionDebit
	}

	var descParts []string
	for _, col := range c.Description {
		if v := row.get(col); v != "" {
			descParts = append(descParts, v)
		}
	}

	txn := &models.RawTransaction{
		ExternalID:          row.get(c.ExternalID),
		Reference:           row.get(c.Reference),
		Amount:              amount.String(),
		Currency:            strings.ToUpper(currency),
		Direction:           direction,
		Date:                date.Format("2006-01-02"),
		BookingDate:         date.Format("2006-01-02"),
		Description:         strings.Join(descParts, " "),
		CounterpartyName:    row.get(c.CounterpartyName),
		CounterpartyAccount: row.get(c.CounterpartyAccount),
		BookingStatus:       models.BookingBooked,
		Raw:                 row.values,
	}

	if c.ValueDate != "" {
		if v := row.get(c.ValueDate); v != "" {
			valueDate, err := p.parseDate(v)
			if err != nil {
				return nil, fmt.Errorf("invalid value date: %w", err)
			}
			txn.ValueDate = valueDate.Format("2006-01-02")
		}
	}

	if c.Status != "" {
		status := row.get(c.Status)
		for _, pending := range p.layout.PendingValues {
			if strings.EqualFold(status, pending) {
				txn.BookingStatus = models.BookingPending
				break
			}
		}
	}

	return txn, nil
}

// rowAmount returns the signed amount: credit positive, debit negative
func (p *Parser) rowAmount(row rowValues) (decimal.Decimal, error) {
	c := p.layout.Columns

	if c.Amount == "" {
		debit, credit := row.get(c.Debit), row.get(c.Credit)
		switch {
		case credit != "":
			d, err := p.parseAmount(credit)
			if err != nil {
				return decimal.Zero, fmt.Errorf("invalid credit amount: %w", err)
			}
			return d.Abs(), nil
		case debit != "":
			d, err := p.parseAmount(debit)
			if err != nil {
				return decimal.Zero, fmt.Errorf("invalid debit amount: %w", err)
			}
			return d.Abs().Neg(), nil
		default:
			return decimal.Zero, errors.New("both debit and credit are empty")
		}
	}

	amount, err := p.parseAmount(row.get(c.Amount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount: %w", err)
	}
	if c.Direction == "" {
		return amount, nil
	}
	if strings.EqualFold(row.get(c.Direction), p.layout.CreditMarker) {
		return amount.Abs(), nil
	}
	return amount.Abs().Neg(), nil
}

func (p *Parser) parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if strings.HasSuffix(s, "-") {
		negative = true
		s = strings.TrimSuffix(s, "-")
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '€', '$', '£', '\'':
			return -1
		}
		return r
	}, s)
	if ts := p.layout.ThousandsSeparator; ts != "" {
		s = strings.ReplaceAll(s, ts, "")
	}
	if ds := p.layout.DecimalSeparator; ds != "" && ds != "." {
		s = strings.ReplaceAll(s, ds, ".")
	}
	if s == "" {
		return decimal.Zero, errors.New("amount is empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q is not a number", s)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func (p *Parser) parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("date is empty")
	}
	for _, layout := range p.layout.DateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q does not match %v", s, p.layout.DateFormats)
}

func (p *Parser) decode(data []byte) ([]byte, error) {
	dec, err := decoderFor(p.layout.Encoding)
	if err != nil {
		return nil, err
	}
	if dec != nil {
		return dec.Bytes(data)
	}
	return bytes.TrimPrefix(data, utf8BOM), nil
}

func (p *Parser) newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	delim, _ := utf8.DecodeRuneInString(p.layout.Delimiter)
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	return reader
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
}

func indexHeader(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if _, exists := index[key]; !exists {
			index[key] = i
		}
	}
	return index
}

func isEmptyRow(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// rowValues is one data row keyed by normalized header name
type rowValues struct {
	values map[string]string
}

func mapRow(header, record []string) rowValues {
	values := make(map[string]string, len(header))
	for i, h := range header {
		if i < len(record) {
			key := normalizeHeader(h)
			if _, exists := values[key]; !exists {
				values[key] = strings.TrimSpace(record[i])
			}
		}
	}
	return rowValues{values: values}
}

func (r rowValues) get(column string) string {
	if column == "" {
		return ""
	}
	return r.values[normalizeHeader(column)]
}
