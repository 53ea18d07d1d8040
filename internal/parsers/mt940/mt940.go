// Package mt940 parses SWIFT MT940 customer statements
package mt940

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"

	"github.com/Dan9191/bank-feed/internal/models"
	"github.com/Dan9191/bank-feed/internal/parser"
)

var (
	tagRe  = regexp.MustCompile(`^:(\d{2}[A-Z]?):(.*)$`)
	lineRe = regexp.MustCompile(`^(\d{6})(\d{4})?(R?[CD])([A-Z])?(\d+(?:,\d*)?)([A-Z][A-Z0-9]{3})(.*?)(?://(.*))?$`)
	// balance: mark, date, currency, amount
	balanceRe = regexp.MustCompile(`^([CD])(\d{6})([A-Z]{3})(\d+(?:,\d*)?)`)
)

// Parser parses MT940. Safe for concurrent use.
type Parser struct{}

// NewParser returns an MT940 parser
func NewParser() *Parser {
	return &Parser{}
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "mt940"
}

// Detect looks for the mandatory statement tags
func (p *Parser) Detect(header []byte) bool {
	h := string(header)
	if !strings.Contains(h, ":20:") || !strings.Contains(h, ":25:") {
		return false
	}
	return strings.Contains(h, ":28C:") || strings.Contains(h, ":60F:") || strings.Contains(h, ":60M:")
}

type field struct {
	tag   string
	lines []string
	line  int
}

func (f field) first() string {
	if len(f.lines) == 0 {
		return ""
	}
	return f.lines[0]
}

type statement struct {
	reference string
	account   string
	number    string
	currency  string
}

// Parse reads every statement in the file
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*parser.Result, error) {
	if err := parser.CheckContext(ctx); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read MT940 content: %w", err)
	}
	if !utf8.Valid(data) {
		data, err = charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return nil, parser.Invalid("cannot decode MT940 content: %v", err)
		}
	}

	fields, err := tokenize(data)
	if err != nil {
		return nil, err
	}

	result := &parser.Result{Format: p.Name()}
	var (
		stmt       *statement
		statements int
		last       *models.RawTransaction
	)

	for _, f := range fields {
		if err := parser.CheckContext(ctx); err != nil {
			return nil, err
		}
		switch f.tag {
		case "20":
			stmt = &statement{reference: strings.TrimSpace(f.first())}
			statements++
			last = nil
		case "-":
			stmt = nil
			last = nil
		case "25":
			if stmt == nil {
				continue
			}
			stmt.account = strings.TrimSpace(f.first())
			if result.Account.IBAN == "" && result.Account.AccountNumber == "" {
				setAccount(&result.Account, stmt.account)
			}
		case "28C":
			if stmt != nil {
				stmt.number = strings.TrimSpace(f.first())
			}
		case "64", "65":
			last = nil
		case "60F", "60M", "62F", "62M":
			// a :86: after a balance describes the statement, not a line
			last = nil
			if stmt == nil {
				continue
			}
			if m := balanceRe.FindStringSubmatch(strings.TrimSpace(f.first())); m != nil && stmt.currency == "" {
				stmt.currency = m[3]
				if result.Account.Currency == "" {
					result.Account.Currency = m[3]
				}
			}
		case "61":
			last = nil
			if stmt == nil {
				result.TotalRows++
				result.AddError(f.line, "", errors.New("statement line outside of a statement"))
				continue
			}
			result.TotalRows++
			txn, err := parseStatementLine(f, stmt)
			if err != nil {
				result.AddError(f.line, "", err)
				continue
			}
			result.Records = append(result.Records, *txn)
			last = &result.Records[len(result.Records)-1]
		case "86":
			if last != nil {
				applyInformation(last, f.lines)
			}
		}
	}

	if statements == 0 {
		return nil, parser.Invalid("no MT940 statement found")
	}
	return result, nil
}

// tokenize splits the message into tag fields, dropping SWIFT block framing
func tokenize(data []byte) ([]field, error) {
	var fields []field
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r ")
		if strings.HasPrefix(line, "{") {
			idx := strings.Index(line, "{4:")
			if idx < 0 {
				continue
			}
			line = line[idx+3:]
		}
		if line == "-" || line == "-}" || strings.HasPrefix(line, "-}") {
			fields = append(fields, field{tag: "-", line: lineNo})
			continue
		}
		if line == "" {
			continue
		}
		if m := tagRe.FindStringSubmatch(line); m != nil {
			fields = append(fields, field{tag: m[1], lines: []string{m[2]}, line: lineNo})
			continue
		}
		if n := len(fields); n > 0 && fields[n-1].tag != "-" {
			fields[n-1].lines = append(fields[n-1].lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, parser.Invalid("cannot read MT940 lines: %v", err)
	}
	return fields, nil
}

func setAccount(acc *parser.StatementAccount, raw string) {
	// "BLZ/account" or a bare IBAN, optionally followed by a currency
	value := raw
	if i := strings.LastIndex(value, "/"); i >= 0 {
		acc.BankCode = value[:i]
		value = value[i+1:]
	}
	value = strings.ReplaceAll(value, " ", "")
	if n := len(value); n > 3 && isAlpha(value[n-3:]) && value[n-4] >= '0' && value[n-4] <= '9' {
		acc.Currency = value[len(value)-3:]
		value = value[:len(value)-3]
	}
	if len(value) >= 15 && isAlpha(value[:2]) {
		acc.IBAN = value
	} else {
		acc.AccountNumber = value
	}
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return s != ""
}

func parseStatementLine(f field, stmt *statement) (*models.RawTransaction, error) {
	m := lineRe.FindStringSubmatch(strings.TrimSpace(f.first()))
	if m == nil {
		return nil, fmt.Errorf("malformed :61: line %q", f.first())
	}

	valueDate, err := time.Parse("060102", m[1])
	if err != nil {
		return nil, fmt.Errorf("invalid value date %q: %w", m[1], err)
	}
	bookingDate := valueDate
	if m[2] != "" {
		bookingDate, err = entryDate(valueDate, m[2])
		if err != nil {
			return nil, err
		}
	}

	amount, err := decimal.NewFromString(strings.Replace(strings.TrimSuffix(m[5], ","), ",", ".", 1))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", m[5])
	}

	direction := models.DirectionCredit
	switch m[3] {
	case "D", "RC":
		direction = models.DirectionDebit
		amount = amount.Neg()
	}

	if stmt.currency == "" {
		return nil, errors.New("currency unknown: statement has no opening balance")
	}

	reference := strings.TrimSpace(m[7])
	if strings.EqualFold(reference, "NONREF") {
		reference = ""
	}
	bankReference := strings.TrimSpace(m[8])
	supplementary := strings.TrimSpace(strings.Join(f.lines[1:], " "))

	txn := &models.RawTransaction{
		Reference:     reference,
		Amount:        amount.String(),
		Currency:      stmt.currency,
		Direction:     direction,
		Date:          bookingDate.Format("2006-01-02"),
		BookingDate:   bookingDate.Format("2006-01-02"),
		ValueDate:     valueDate.Format("2006-01-02"),
		Description:   supplementary,
		BookingStatus: models.BookingBooked,
		Raw: map[string]string{
			"statement":      stmt.reference,
			"account":        stmt.account,
			"type_code":      m[6],
			"bank_reference": bankReference,
			"line":           f.first(),
		},
	}
	if stmt.number != "" {
		txn.Raw["sequence"] = stmt.number
	}
	return txn, nil
}

// entryDate resolves MMDD against the value date, rolling the year over at
// the turn of the year.
func entryDate(value time.Time, mmdd string) (time.Time, error) {
	t, err := time.Parse("0102", mmdd)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid entry date %q: %w", mmdd, err)
	}
	year := value.Year()
	switch {
	case t.Month() == time.December && value.Month() == time.January:
		year--
	case t.Month() == time.January && value.Month() == time.December:
		year++
	}
	return time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}
