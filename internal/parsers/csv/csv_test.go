package csv

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/Dan9191/bank-feed/internal/models"
	"github.com/Dan9191/bank-feed/internal/parser"
)

const ingExport = `"Datum";"Naam / Omschrijving";"Rekening";"Tegenrekening";"Code";"Af Bij";"Bedrag (EUR)";"Mutatiesoort";"Mededelingen"
"20240115";"Albert Heijn 1234";"NL20INGB0001234567";"";"BA";"Af";"23,45";"Betaalautomaat";"Pasvolgnr:001"
"20240116";"Werkgever BV";"NL20INGB0001234567";"NL91ABNA0417164300";"GT";"Bij";"2500,00";"Overschrijving";"Salaris januari"
`

const revolutExport = `Type,Product,Started Date,Completed Date,Description,Amount,Fee,Currency,State,Balance
CARD_PAYMENT,Current,2024-02-01 10:15:00,2024-02-02 08:00:00,Coffee Shop,-3.50,0.00,EUR,COMPLETED,96.50
TOPUP,Current,2024-02-03 09:00:00,,Top-Up by *1234,100.00,0.00,EUR,PENDING,196.50
`

const n26Export = `"Booking Date","Value Date","Partner Name","Partner Iban",Type,"Payment Reference","Account Name","Amount (EUR)","Original Amount","Original Currency","Exchange Rate"
2024-03-01,2024-03-01,"Landlord GmbH",DE89370400440532013000,"Outgoing Transfer","Rent March","Main Account",-850.00,,,
2024-03-02,2024-03-02,"Spotify",,"MasterCard Payment","","Main Account",-9.99,,,
`

func sparkasseExport(t *testing.T) []byte {
	t.Helper()
	text := "Auftragskonto;Buchungstag;Valutadatum;Buchungstext;Verwendungszweck;Kundenreferenz (End-to-End);Beguenstigter/Zahlungspflichtiger;Kontonummer/IBAN;Betrag;Waehrung;Info\r\n" +
		"DE12500105170648489890;05.04.24;05.04.24;Überweisung;Miete April;E2E-001;Müller Immobilien;DE02120300000000202051;-1.234,56;EUR;Umsatz gebucht\r\n" +
		"DE12500105170648489890;06.04.24;06.04.24;Gutschrift;Erstattung;;Finanzamt;DE02100500000054540402;99,00;EUR;Umsatz vorgemerkt\r\n"
	encoded, err := charmap.Windows1252.NewEncoder().String(text)
	require.NoError(t, err)
	return []byte(encoded)
}

func layoutByName(t *testing.T, name string) *Parser {
	t.Helper()
	for _, l := range DefaultLayouts() {
		if l.Name == name {
			p, err := NewParser(l)
			require.NoError(t, err)
			return p
		}
	}
	t.Fatalf("layout %s not found", name)
	return nil
}

func TestParse_ING(t *testing.T) {
	p := layoutByName(t, "ing-nl")

	res, err := p.Parse(context.Background(), strings.NewReader(ingExport))
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Empty(t, res.RowErrors)
	assert.Equal(t, 2, res.TotalRows)
	assert.Equal(t, "csv-ing-nl", res.Format)
	assert.Equal(t, "NL20INGB0001234567", res.Account.IBAN)

	debit := res.Records[0]
	assert.Equal(t, "2024-01-15", debit.Date)
	assert.Equal(t, "-23.45", debit.Amount)
	assert.Equal(t, models.DirectionDebit, debit.Direction)
	assert.Equal(t, "EUR", debit.Currency)
	assert.Equal(t, "Albert Heijn 1234 Pasvolgnr:001", debit.Description)

	credit := res.Records[1]
	assert.Equal(t, "2500", credit.Amount)
	assert.Equal(t, models.DirectionCredit, credit.Direction)
	assert.Equal(t, "NL91ABNA0417164300", credit.CounterpartyAccount)
	assert.Equal(t, "Werkgever BV", credit.CounterpartyName)
}

func TestParse_RevolutPending(t *testing.T) {
	p := layoutByName(t, "revolut")

	res, err := p.Parse(context.Background(), strings.NewReader(revolutExport))
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	assert.Equal(t, models.BookingBooked, res.Records[0].BookingStatus)
	assert.Equal(t, "2024-02-02", res.Records[0].ValueDate)
	assert.Equal(t, "-3.5", res.Records[0].Amount)

	assert.Equal(t, models.BookingPending, res.Records[1].BookingStatus)
	assert.Empty(t, res.Records[1].ValueDate)
	assert.Equal(t, "Top-Up by *1234", res.Records[1].Description)
}

func TestParse_N26(t *testing.T) {
	p := layoutByName(t, "n26")

	res, err := p.Parse(context.Background(), strings.NewReader(n26Export))
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	rent := res.Records[0]
	assert.Equal(t, "Rent March", rent.Reference)
	assert.Equal(t, "DE89370400440532013000", rent.CounterpartyAccount)
	assert.Equal(t, "Landlord GmbH Rent March", rent.Description)
	assert.Equal(t, "-850", rent.Amount)

	assert.Equal(t, "Spotify", res.Records[1].Description)
}

func TestParse_SparkasseWindows1252(t *testing.T) {
	p := layoutByName(t, "sparkasse")

	res, err := p.Parse(context.Background(), strings.NewReader(string(sparkasseExport(t))))
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "DE12500105170648489890", res.Account.IBAN)

	rent := res.Records[0]
	assert.Equal(t, "-1234.56", rent.Amount)
	assert.Equal(t, "2024-04-05", rent.Date)
	assert.Equal(t, "Überweisung Miete April", rent.Description)
	assert.Equal(t, "Müller Immobilien", rent.CounterpartyName)
	assert.Equal(t, "E2E-001", rent.Reference)

	assert.Equal(t, models.BookingPending, res.Records[1].BookingStatus)
}

func TestDetect(t *testing.T) {
	parsers, err := NewParsers(DefaultLayouts())
	require.NoError(t, err)
	reg := parser.NewRegistry(parsers...)

	cases := map[string][]byte{
		"csv-ing-nl":    []byte(ingExport),
		"csv-revolut":   []byte(revolutExport),
		"csv-n26":       []byte(n26Export),
		"csv-sparkasse": sparkasseExport(t),
	}
	for want, data := range cases {
		t.Run(want, func(t *testing.T) {
			p, err := reg.Detect(data)
			require.NoError(t, err)
			assert.Equal(t, want, p.Name())
		})
	}

	_, err = reg.Detect([]byte("foo,bar\n1,2\n"))
	assert.True(t, errors.Is(err, parser.ErrUnknownFormat))
}

func TestParse_RowErrorsDoNotAbort(t *testing.T) {
	p := layoutByName(t, "n26")
	data := n26Export + `2024-13-45,2024-03-03,"Broken",,"x","REF-BAD","Main Account",-1.00,,,
2024-03-04,2024-03-04,"Bad amount",,"x","REF-AMT","Main Account",abc,,,
`

	res, err := p.Parse(context.Background(), strings.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, 4, res.TotalRows)
	require.Len(t, res.RowErrors, 2)
	assert.Equal(t, 4, res.RowErrors[0].Row)
	assert.Equal(t, "REF-BAD", res.RowErrors[0].Reference)
	assert.Contains(t, res.RowErrors[1].Error(), "invalid amount")
}

func TestParse_InvalidHeader(t *testing.T) {
	p := layoutByName(t, "ing-nl")

	_, err := p.Parse(context.Background(), strings.NewReader("Datum,Bedrag\n20240101,1\n"))
	assert.True(t, errors.Is(err, parser.ErrInvalidFile), "wrong delimiter collapses the header")

	_, err = p.Parse(context.Background(), strings.NewReader("Datum;Bedrag (EUR)\n20240101;1\n"))
	assert.True(t, errors.Is(err, parser.ErrInvalidFile))
	assert.Contains(t, err.Error(), "Af Bij")

	_, err = p.Parse(context.Background(), strings.NewReader(""))
	assert.True(t, errors.Is(err, parser.ErrInvalidFile))
}

func TestParse_CanceledContext(t *testing.T) {
	p := layoutByName(t, "ing-nl")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Parse(ctx, strings.NewReader(ingExport))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseAmount(t *testing.T) {
	p := &Parser{layout: Layout{DecimalSeparator: ",", ThousandsSeparator: "."}}
	cases := map[string]string{
		"1.234,56":  "1234.56",
		"-12,30":    "-12.3",
		"(45,00)":   "-45",
		"7,50-":     "-7.5",
		"€ 1.000,0": "1000",
	}
	for in, want := range cases {
		got, err := p.parseAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.String(), in)
	}

	_, err := p.parseAmount("")
	assert.Error(t, err)
}

func TestLoadLayouts_Validation(t *testing.T) {
	_, err := LoadLayouts([]byte(`layouts:
  - name: broken
    delimiter: ";;"
    date_formats: ["2006-01-02"]
    currency: EUR
    columns: {date: D, amount: A, description: [X]}
`))
	assert.ErrorContains(t, err, "delimiter")

	_, err = LoadLayouts([]byte(`layouts:
  - name: dup
    delimiter: ","
    date_formats: ["2006-01-02"]
    currency: EUR
    columns: {date: D, amount: A, description: [X]}
  - name: dup
    delimiter: ","
    date_formats: ["2006-01-02"]
    currency: EUR
    columns: {date: D, amount: A, description: [X]}
`))
	assert.ErrorContains(t, err, "duplicate")

	_, err = LoadLayouts([]byte(`layouts:
  - name: nocur
    delimiter: ","
    date_formats: ["2006-01-02"]
    columns: {date: D, amount: A, description: [X]}
`))
	assert.ErrorContains(t, err, "currency")
}
