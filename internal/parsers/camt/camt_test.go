package camt

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/bank-feed/internal/models"
	"github.com/Dan9191/bank-feed/internal/parser"
)

const statementXML = `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
  <BkToCstmrStmt>
    <GrpHdr><MsgId>MSG-1</MsgId><CreDtTm>2024-03-01T06:00:00</CreDtTm></GrpHdr>
    <Stmt>
      <Id>STMT-0301</Id>
      <Acct>
        <Id><IBAN>DE89370400440532013000</IBAN></Id>
        <Ccy>EUR</Ccy>
        <Svcr><FinInstnId><BIC>COBADEFFXXX</BIC></FinInstnId></Svcr>
      </Acct>
      <Ntry>
        <NtryRef>1</NtryRef>
        <Amt Ccy="EUR">1200.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Sts>BOOK</Sts>
        <BookgDt><Dt>2024-03-01</Dt></BookgDt>
        <ValDt><Dt>2024-03-02</Dt></ValDt>
        <AcctSvcrRef>BANK-001</AcctSvcrRef>
        <NtryDtls>
          <TxDtls>
            <Refs><EndToEndId>INV-2024-17</EndToEndId></Refs>
            <RltdPties>
              <Dbtr><Nm>Acme GmbH</Nm></Dbtr>
              <DbtrAcct><Id><IBAN>DE02120300000000202051</IBAN></Id></DbtrAcct>
              <Cdtr><Nm>Us</Nm></Cdtr>
            </RltdPties>
            <RmtInf><Ustrd>Invoice 2024-17</Ustrd></RmtInf>
          </TxDtls>
        </NtryDtls>
      </Ntry>
      <Ntry>
        <Amt Ccy="EUR">49.90</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <Sts>PDNG</Sts>
        <BookgDt><DtTm>2024-03-03T10:00:00+01:00</DtTm></BookgDt>
        <AcctSvcrRef>BANK-002</AcctSvcrRef>
        <NtryDtls>
          <TxDtls>
            <Refs><EndToEndId>NOTPROVIDED</EndToEndId></Refs>
            <RltdPties>
              <Cdtr><Nm>Telco AG</Nm></Cdtr>
              <CdtrAcct><Id><IBAN>DE44500105175407324931</IBAN></Id></CdtrAcct>
            </RltdPties>
            <RmtInf><Ustrd>Mobile</Ustrd><Ustrd>March</Ustrd></RmtInf>
          </TxDtls>
        </NtryDtls>
      </Ntry>
      <Ntry>
        <Amt Ccy="EUR">300.00</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <BookgDt><Dt>2024-03-04</Dt></BookgDt>
        <AcctSvcrRef>BATCH-1</AcctSvcrRef>
        <NtryDtls>
          <TxDtls>
            <Amt Ccy="EUR">100.00</Amt>
            <Refs><EndToEndId>SAL-1</EndToEndId></Refs>
            <RltdPties><Cdtr><Nm>Alice</Nm></Cdtr></RltdPties>
          </TxDtls>
          <TxDtls>
            <Amt Ccy="EUR">200.00</Amt>
            <Refs><EndToEndId>SAL-2</EndToEndId></Refs>
            <RltdPties><Cdtr><Nm>Bob</Nm></Cdtr></RltdPties>
          </TxDtls>
        </NtryDtls>
      </Ntry>
      <Ntry>
        <Amt Ccy="EUR">abc</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <BookgDt><Dt>2024-03-05</Dt></BookgDt>
        <AcctSvcrRef>BROKEN</AcctSvcrRef>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>`

func TestParse_Statement(t *testing.T) {
	res, err := NewParser().Parse(context.Background(), strings.NewReader(statementXML))
	require.NoError(t, err)

	assert.Equal(t, "DE89370400440532013000", res.Account.IBAN)
	assert.Equal(t, "EUR", res.Account.Currency)
	assert.Equal(t, "COBADEFFXXX", res.Account.BankCode)
	assert.Equal(t, 4, res.TotalRows)
	require.Len(t, res.Records, 4)

	incoming := res.Records[0]
	assert.Equal(t, "1200", incoming.Amount)
	assert.Equal(t, models.DirectionCredit, incoming.Direction)
	assert.Equal(t, "2024-03-01", incoming.Date)
	assert.Equal(t, "2024-03-02", incoming.ValueDate)
	assert.Equal(t, "INV-2024-17", incoming.Reference)
	assert.Equal(t, "Acme GmbH", incoming.CounterpartyName)
	assert.Equal(t, "DE02120300000000202051", incoming.CounterpartyAccount)
	assert.Equal(t, "Invoice 2024-17", incoming.Description)
	assert.Equal(t, "BANK-001", incoming.Raw["acctsvcrref"])
	assert.Equal(t, "STMT-0301", incoming.Raw["statement"])

	pending := res.Records[1]
	assert.Equal(t, "-49.9", pending.Amount)
	assert.Equal(t, models.BookingPending, pending.BookingStatus)
	assert.Equal(t, "2024-03-03", pending.Date)
	assert.Empty(t, pending.Reference)
	assert.Equal(t, "Telco AG", pending.CounterpartyName)
	assert.Equal(t, "Mobile March", pending.RemittanceInfo)

	assert.Equal(t, "-100", res.Records[2].Amount)
	assert.Equal(t, "Alice", res.Records[2].CounterpartyName)
	assert.Equal(t, "-200", res.Records[3].Amount)
	assert.Equal(t, "SAL-2", res.Records[3].Reference)

	require.Len(t, res.RowErrors, 1)
	assert.Equal(t, 4, res.RowErrors[0].Row)
	assert.Equal(t, "BROKEN", res.RowErrors[0].Reference)
}

func TestParse_Reversal(t *testing.T) {
	doc := `<Document><BkToCstmrStmt><Stmt><Acct><Ccy>EUR</Ccy></Acct>
<Ntry><Amt>10.00</Amt><CdtDbtInd>CRDT</CdtDbtInd><RvslInd>true</RvslInd><BookgDt><Dt>2024-01-01</Dt></BookgDt></Ntry>
</Stmt></BkToCstmrStmt></Document>`
	res, err := NewParser().Parse(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "-10", res.Records[0].Amount)
	assert.Equal(t, "EUR", res.Records[0].Currency, "statement currency is the fallback")
}

func TestParse_Invalid(t *testing.T) {
	_, err := NewParser().Parse(context.Background(), strings.NewReader("<Document><oops"))
	assert.True(t, errors.Is(err, parser.ErrInvalidFile))

	_, err = NewParser().Parse(context.Background(), strings.NewReader("<Document/>"))
	assert.True(t, errors.Is(err, parser.ErrInvalidFile))
}

func TestDetect(t *testing.T) {
	p := NewParser()
	assert.True(t, p.Detect([]byte(statementXML)))
	assert.False(t, p.Detect([]byte(":20:STMT\n:25:X")))
}
