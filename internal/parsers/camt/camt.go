// Package camt parses ISO 20022 CAMT.053 bank-to-customer statements
package camt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/Dan9191/bank-feed/internal/models"
	"github.com/Dan9191/bank-feed/internal/parser"
)

// Parser parses CAMT.053 XML. Safe for concurrent use.
type Parser struct{}

// NewParser returns a CAMT.053 parser
func NewParser() *Parser {
	return &Parser{}
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "camt053"
}

// Detect checks for the statement message root
func (p *Parser) Detect(header []byte) bool {
	return bytes.Contains(header, []byte("camt.053")) || bytes.Contains(header, []byte("<BkToCstmrStmt"))
}

// Parse reads every Stmt element in the document
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*parser.Result, error) {
	if err := parser.CheckContext(ctx); err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, parser.Invalid("failed to parse XML: %v", err)
	}

	statements := doc.FindElements("//BkToCstmrStmt/Stmt")
	if len(statements) == 0 {
		return nil, parser.Invalid("no CAMT.053 statement found")
	}

	result := &parser.Result{Format: p.Name()}
	row := 0
	for _, stmt := range statements {
		if err := parser.CheckContext(ctx); err != nil {
			return nil, err
		}
		stmtID := text(stmt, "./Id")
		iban := text(stmt, "./Acct/Id/IBAN")
		other := text(stmt, "./Acct/Id/Othr/Id")
		currency := text(stmt, "./Acct/Ccy")
		if result.Account.IBAN == "" && result.Account.AccountNumber == "" {
			result.Account.IBAN = iban
			result.Account.AccountNumber = other
			result.Account.Currency = currency
			result.Account.BankCode = text(stmt, "./Acct/Svcr/FinInstnId/BICFI")
			if result.Account.BankCode == "" {
				result.Account.BankCode = text(stmt, "./Acct/Svcr/FinInstnId/BIC")
			}
		}

		for _, entry := range stmt.SelectElements("Ntry") {
			row++
			result.TotalRows++
			records, err := parseEntry(entry, currency)
			if err != nil {
				result.AddError(row, text(entry, "./AcctSvcrRef"), err)
				continue
			}
			for i := range records {
				records[i].Raw["statement"] = stmtID
				records[i].Raw["account"] = firstNonEmpty(iban, other)
			}
			result.Records = append(result.Records, records...)
		}
	}
	return result, nil
}

func parseEntry(entry *etree.Element, statementCurrency string) ([]models.RawTransaction, error) {
	amountEl := entry.FindElement("./Amt")
	if amountEl == nil {
		return nil, errors.New("entry has no amount")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(amountEl.Text()))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", amountEl.Text())
	}
	currency := firstNonEmpty(amountEl.SelectAttrValue("Ccy", ""), statementCurrency)
	if currency == "" {
		return nil, errors.New("entry has no currency")
	}

	credit, err := isCredit(entry)
	if err != nil {
		return nil, err
	}

	bookingDate, err := date(entry, "./BookgDt")
	if err != nil {
		return nil, fmt.Errorf("invalid booking date: %w", err)
	}
	valueDate, err := date(entry, "./ValDt")
	if err != nil {
		return nil, fmt.Errorf("invalid value date: %w", err)
	}
	txDate := bookingDate
	if txDate == "" {
		txDate = valueDate
	}
	if txDate == "" {
		return nil, errors.New("entry has neither booking nor value date")
	}

	status := models.BookingBooked
	if s := firstNonEmpty(text(entry, "./Sts/Cd"), text(entry, "./Sts")); strings.EqualFold(s, "PDNG") {
		status = models.BookingPending
	}

	base := models.RawTransaction{
		Currency:      strings.ToUpper(currency),
		Date:          txDate,
		BookingDate:   bookingDate,
		ValueDate:     valueDate,
		Description:   text(entry, "./AddtlNtryInf"),
		BookingStatus: status,
	}

	details := entry.FindElements("./NtryDtls/TxDtls")
	if len(details) > 1 && allHaveAmount(details) {
		out := make([]models.RawTransaction, 0, len(details))
		for i, d := range details {
			rec := base
			rec.Raw = entryRaw(entry)
			rec.Raw["detail"] = fmt.Sprint(i + 1)
			detailAmount, err := decimal.NewFromString(strings.TrimSpace(detailAmountText(d)))
			if err != nil {
				return nil, fmt.Errorf("invalid detail amount in entry: %w", err)
			}
			applyDetails(&rec, d, credit)
			setAmount(&rec, detailAmount, credit)
			out = append(out, rec)
		}
		return out, nil
	}

	rec := base
	rec.Raw = entryRaw(entry)
	if len(details) > 0 {
		applyDetails(&rec, details[0], credit)
	}
	setAmount(&rec, amount, credit)
	return []models.RawTransaction{rec}, nil
}

func isCredit(entry *etree.Element) (bool, error) {
	var credit bool
	switch text(entry, "./CdtDbtInd") {
	case "CRDT":
		credit = true
	case "DBIT":
		credit = false
	default:
		return false, fmt.Errorf("invalid credit/debit indicator %q", text(entry, "./CdtDbtInd"))
	}
	if strings.EqualFold(text(entry, "./RvslInd"), "true") {
		credit = !credit
	}
	return credit, nil
}

func setAmount(rec *models.RawTransaction, amount decimal.Decimal, credit bool) {
	amount = amount.Abs()
	rec.Direction = models.DirectionCredit
	if !credit {
		amount = amount.Neg()
		rec.Direction = models.DirectionDebit
	}
	rec.Amount = amount.String()
}

func applyDetails(rec *models.RawTransaction, d *etree.Element, credit bool) {
	rec.Reference = text(d, "./Refs/EndToEndId")
	if rec.Reference == "NOTPROVIDED" {
		rec.Reference = ""
	}
	if rec.Reference == "" {
		rec.Reference = text(d, "./RmtInf/Strd/CdtrRefInf/Ref")
	}

	// the counterparty is the other side of the booking
	party, account := "Cdtr", "CdtrAcct"
	if credit {
		party, account = "Dbtr", "DbtrAcct"
	}
	rec.CounterpartyName = firstNonEmpty(
		text(d, "./RltdPties/"+party+"/Nm"),
		text(d, "./RltdPties/"+party+"/Pty/Nm"),
	)
	rec.CounterpartyAccount = firstNonEmpty(
		text(d, "./RltdPties/"+account+"/Id/IBAN"),
		text(d, "./RltdPties/"+account+"/Id/Othr/Id"),
	)

	var remittance []string
	for _, u := range d.FindElements("./RmtInf/Ustrd") {
		if v := strings.TrimSpace(u.Text()); v != "" {
			remittance = append(remittance, v)
		}
	}
	rec.RemittanceInfo = strings.Join(remittance, " ")
	if rec.RemittanceInfo != "" {
		rec.Description = rec.RemittanceInfo
	} else if v := text(d, "./AddtlTxInf"); v != "" {
		rec.Description = v
	}
	if ref := text(d, "./Refs/AcctSvcrRef"); ref != "" {
		rec.Raw["tx_reference"] = ref
	}
}

func allHaveAmount(details []*etree.Element) bool {
	for _, d := range details {
		if detailAmountText(d) == "" {
			return false
		}
	}
	return true
}

func detailAmountText(d *etree.Element) string {
	return firstNonEmpty(text(d, "./Amt"), text(d, "./AmtDtls/TxAmt/Amt"))
}

func entryRaw(entry *etree.Element) map[string]string {
	raw := map[string]string{}
	for _, path := range []string{"NtryRef", "AcctSvcrRef", "BkTxCd/Domn/Cd", "BkTxCd/Prtry/Cd"} {
		if v := text(entry, "./"+path); v != "" {
			raw[strings.ToLower(strings.ReplaceAll(path, "/", "_"))] = v
		}
	}
	return raw
}

// date reads either <Dt> or <DtTm> under path as YYYY-MM-DD
func date(el *etree.Element, path string) (string, error) {
	if v := text(el, path+"/Dt"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return "", err
		}
		return t.Format("2006-01-02"), nil
	}
	if v := text(el, path+"/DtTm"); v != "" {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04:05.000"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.Format("2006-01-02"), nil
			}
		}
		return "", fmt.Errorf("unrecognized date time %q", v)
	}
	return "", nil
}

func text(el *etree.Element, path string) string {
	found := el.FindElement(path)
	if found == nil {
		return ""
	}
	return strings.TrimSpace(found.Text())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
