// Package ofx parses OFX/QFX bank and credit card statements
package ofx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/Dan9191/bank-feed/internal/models"
	"github.com/Dan9191/bank-feed/internal/parser"
)

// Parser parses OFX v1 (SGML) and v2 (XML) files. Safe for concurrent use.
type Parser struct{}

// NewParser returns an OFX parser
func NewParser() *Parser {
	return &Parser{}
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "ofx"
}

// Detect looks for the OFX header markers of both versions
func (p *Parser) Detect(header []byte) bool {
	h := bytes.ToUpper(header)
	return bytes.Contains(h, []byte("OFXHEADER")) ||
		bytes.Contains(h, []byte("<?OFX")) ||
		bytes.Contains(h, []byte("<OFX>"))
}

// Parse reads bank and credit card statements from the response
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*parser.Result, error) {
	if err := parser.CheckContext(ctx); err != nil {
		return nil, err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX content: %w", err)
	}

	resp, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, parser.Invalid("failed to parse OFX file (%d bytes): %v", len(content), err)
	}
	if err := parser.CheckContext(ctx); err != nil {
		return nil, err
	}

	result := &parser.Result{Format: p.Name()}
	found := false

	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok {
			continue
		}
		found = true
		if result.Account.AccountNumber == "" {
			result.Account.AccountNumber = stmt.BankAcctFrom.AcctID.String()
			result.Account.BankCode = stmt.BankAcctFrom.BankID.String()
			result.Account.Currency = stmt.CurDef.String()
		}
		if stmt.BankTranList != nil {
			p.appendTransactions(result, stmt.BankTranList.Transactions, stmt.CurDef.String(), stmt.BankAcctFrom.AcctID.String())
		}
	}

	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok {
			continue
		}
		found = true
		if result.Account.AccountNumber == "" {
			result.Account.AccountNumber = stmt.CCAcctFrom.AcctID.String()
			result.Account.Currency = stmt.CurDef.String()
		}
		if stmt.BankTranList != nil {
			p.appendTransactions(result, stmt.BankTranList.Transactions, stmt.CurDef.String(), stmt.CCAcctFrom.AcctID.String())
		}
	}

	if !found {
		return nil, parser.Invalid("no bank or credit card statement in OFX file")
	}
	return result, nil
}

func (p *Parser) appendTransactions(result *parser.Result, txns []ofxgo.Transaction, currency, account string) {
	for _, txn := range txns {
		result.TotalRows++
		id := txn.FiTID.String()

		rec, err := convert(txn, currency)
		if err != nil {
			result.AddError(result.TotalRows, id, err)
			continue
		}
		rec.Raw["account"] = account
		result.Records = append(result.Records, *rec)
	}
}

func convert(txn ofxgo.Transaction, currency string) (*models.RawTransaction, error) {
	id := txn.FiTID.String()
	if id == "" {
		return nil, fmt.Errorf("transaction missing FITID")
	}

	posted := txn.DtPosted.Time
	if posted.IsZero() {
		return nil, fmt.Errorf("transaction %s missing posted date", id)
	}

	amount, err := decimal.NewFromString(txn.TrnAmt.FloatString(4))
	if err != nil {
		return nil, fmt.Errorf("transaction %s has invalid amount: %w", id, err)
	}
	direction := models.DirectionCredit
	if amount.IsNegative() {
		direction = models.DirectionDebit
	}

	name := strings.TrimSpace(txn.Name.String())
	memo := strings.TrimSpace(txn.Memo.String())
	description := name
	if description == "" {
		description = memo
	} else if memo != "" {
		description = name + " " + memo
	}

	if currency == "" {
		return nil, fmt.Errorf("transaction %s has no currency", id)
	}

	return &models.RawTransaction{
		ExternalID:       id,
		Reference:        strings.TrimSpace(txn.CheckNum.String()),
		Amount:           amount.String(),
		Currency:         strings.ToUpper(currency),
		Direction:        direction,
		Date:             posted.Format("2006-01-02"),
		BookingDate:      posted.Format("2006-01-02"),
		Description:      description,
		RemittanceInfo:   memo,
		CounterpartyName: name,
		BookingStatus:    models.BookingBooked,
		Raw: map[string]string{
			"fitid":    id,
			"trn_type": txn.TrnType.String(),
		},
	}, nil
}
