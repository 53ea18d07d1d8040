package banking

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dan9191/bank-feed/internal/models"
)

// maxPages bounds pagination through _links.next
const maxPages = 50

// BerlinGroupProvider talks to NextGenPSD2 account information APIs
type BerlinGroupProvider struct {
	baseProvider
}

// NewBerlinGroupProvider creates a provider for cfg
func NewBerlinGroupProvider(cfg BankConfig) *BerlinGroupProvider {
	return &BerlinGroupProvider{baseProvider{cfg: cfg}}
}

type bgAccountReference struct {
	IBAN string `json:"iban"`
	BBAN string `json:"bban"`
}

type bgAccount struct {
	ResourceID      string `json:"resourceId"`
	IBAN            string `json:"iban"`
	BBAN            string `json:"bban"`
	Currency        string `json:"currency"`
	Name            string `json:"name"`
	Product         string `json:"product"`
	CashAccountType string `json:"cashAccountType"`
}

type bgAccountsResponse struct {
	Accounts []bgAccount `json:"accounts"`
}

type bgAmount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type bgTransaction struct {
	TransactionID                     string             `json:"transactionId"`
	EntryReference                    string             `json:"entryReference"`
	EndToEndID                        string             `json:"endToEndId"`
	BookingDate                       string             `json:"bookingDate"`
	ValueDate                         string             `json:"valueDate"`
	TransactionAmount                 bgAmount           `json:"transactionAmount"`
	CreditorName                      string             `json:"creditorName"`
	CreditorAccount                   bgAccountReference `json:"creditorAccount"`
	DebtorName                        string             `json:"debtorName"`
	DebtorAccount                     bgAccountReference `json:"debtorAccount"`
	RemittanceInformationUnstructured string             `json:"remittanceInformationUnstructured"`
	AdditionalInformation             string             `json:"additionalInformation"`
}

type bgLink struct {
	Href string `json:"href"`
}

type bgTransactionsResponse struct {
	Transactions struct {
		Booked  []bgTransaction   `json:"booked"`
		Pending []bgTransaction   `json:"pending"`
		Links   map[string]bgLink `json:"_links"`
	} `json:"transactions"`
}

// FetchAccounts lists the accounts covered by the consent
func (p *BerlinGroupProvider) FetchAccounts(ctx context.Context, api *APIClient, accessToken string) ([]models.ProviderAccount, error) {
	resp, err := getJSON[bgAccountsResponse](ctx, api, p.cfg.APIURL+"/v1/accounts", accessToken, nil)
	if err != nil {
		return nil, err
	}

	accounts := make([]models.ProviderAccount, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		name := a.Name
		if name == "" {
			name = a.Product
		}
		accounts = append(accounts, models.ProviderAccount{
			ExternalID:    a.ResourceID,
			IBAN:          a.IBAN,
			AccountNumber: a.BBAN,
			Name:          name,
			Currency:      a.Currency,
			TypeCode:      a.CashAccountType,
			BankName:      p.cfg.Name,
		})
	}
	return accounts, nil
}

// FetchTransactions returns booked and pending transactions between from and
// to, following pagination links
func (p *BerlinGroupProvider) FetchTransactions(ctx context.Context, api *APIClient, accessToken, accountID string, from, to time.Time) ([]models.RawTransaction, error) {
	params := url.Values{}
	params.Set("bookingStatus", "both")
	if !from.IsZero() {
		params.Set("dateFrom", from.Format("2006-01-02"))
	}
	if !to.IsZero() {
		params.Set("dateTo", to.Format("2006-01-02"))
	}
	next := fmt.Sprintf("%s/v1/accounts/%s/transactions?%s", p.cfg.APIURL, url.PathEscape(accountID), params.Encode())

	var out []models.RawTransaction
	for page := 0; next != "" && page < maxPages; page++ {
		resp, err := getJSON[bgTransactionsResponse](ctx, api, next, accessToken, nil)
		if err != nil {
			return nil, err
		}
		for _, t := range resp.Transactions.Booked {
			out = append(out, p.convert(t, models.BookingBooked))
		}
		for _, t := range resp.Transactions.Pending {
			out = append(out, p.convert(t, models.BookingPending))
		}

		next = ""
		if link, ok := resp.Transactions.Links["next"]; ok && link.Href != "" {
			next = p.resolve(link.Href)
		}
	}
	return out, nil
}

// Revoke posts a token revocation request
func (p *BerlinGroupProvider) Revoke(ctx context.Context, api *APIClient, consent *models.Consent) error {
	return p.revokeForm(ctx, api, consent)
}

func (p *BerlinGroupProvider) resolve(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base, err := url.Parse(p.cfg.APIURL)
	if err != nil {
		return p.cfg.APIURL + href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return p.cfg.APIURL + href
	}
	return base.ResolveReference(ref).String()
}

func (p *BerlinGroupProvider) convert(t bgTransaction, status models.BookingStatus) models.RawTransaction {
	direction := models.DirectionCredit
	if amount, err := decimal.NewFromString(t.TransactionAmount.Amount); err == nil && amount.IsNegative() {
		direction = models.DirectionDebit
	}

	// the counterparty is the creditor of outgoing and the debtor of incoming payments
	name, account := t.DebtorName, t.DebtorAccount
	if direction == models.DirectionDebit {
		name, account = t.CreditorName, t.CreditorAccount
	}
	counterpartyAccount := account.IBAN
	if counterpartyAccount == "" {
		counterpartyAccount = account.BBAN
	}

	date := t.BookingDate
	if date == "" {
		date = t.ValueDate
	}
	description := t.RemittanceInformationUnstructured
	if description == "" {
		description = t.AdditionalInformation
	}
	externalID := t.TransactionID
	if externalID == "" {
		externalID = t.EntryReference
	}

	return models.RawTransaction{
		ExternalID:          externalID,
		Reference:           t.EndToEndID,
		Amount:              t.TransactionAmount.Amount,
		Currency:            t.TransactionAmount.Currency,
		Direction:           direction,
		Date:                date,
		BookingDate:         t.BookingDate,
		ValueDate:           t.ValueDate,
		Description:         description,
		RemittanceInfo:      t.RemittanceInformationUnstructured,
		CounterpartyName:    name,
		CounterpartyAccount: counterpartyAccount,
		BookingStatus:       status,
		Raw: map[string]string{
			"bank":            p.cfg.Code,
			"transaction_id":  t.TransactionID,
			"entry_reference": t.EntryReference,
		},
	}
}
