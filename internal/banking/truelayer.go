package banking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dan9191/bank-feed/internal/models"
)

// TrueLayerProvider talks to the TrueLayer Data API
type TrueLayerProvider struct {
	baseProvider
}

// NewTrueLayerProvider creates a provider for cfg
func NewTrueLayerProvider(cfg BankConfig) *TrueLayerProvider {
	return &TrueLayerProvider{baseProvider{cfg: cfg}}
}

type tlAccountsResponse struct {
	Results []struct {
		AccountID     string `json:"account_id"`
		AccountType   string `json:"account_type"`
		DisplayName   string `json:"display_name"`
		Currency      string `json:"currency"`
		AccountNumber *struct {
			IBAN   string `json:"iban"`
			Number string `json:"number"`
		} `json:"account_number"`
		Provider struct {
			DisplayName string `json:"display_name"`
		} `json:"provider"`
	} `json:"results"`
}

type tlTransaction struct {
	TransactionID   string      `json:"transaction_id"`
	Timestamp       string      `json:"timestamp"`
	Description     string      `json:"description"`
	Amount          json.Number `json:"amount"`
	Currency        string      `json:"currency"`
	TransactionType string      `json:"transaction_type"`
	MerchantName    string      `json:"merchant_name"`
	Meta            *struct {
		ProviderReference string `json:"provider_reference"`
		CounterpartyIBAN  string `json:"counter_party_iban"`
	} `json:"meta"`
}

type tlTransactionsResponse struct {
	Results []tlTransaction `json:"results"`
}

// FetchAccounts lists the accounts covered by the consent
func (p *TrueLayerProvider) FetchAccounts(ctx context.Context, api *APIClient, accessToken string) ([]models.ProviderAccount, error) {
	resp, err := getJSON[tlAccountsResponse](ctx, api, p.cfg.APIURL+"/data/v1/accounts", accessToken, nil)
	if err != nil {
		return nil, err
	}

	accounts := make([]models.ProviderAccount, 0, len(resp.Results))
	for _, a := range resp.Results {
		acc := models.ProviderAccount{
			ExternalID: a.AccountID,
			Name:       a.DisplayName,
			Currency:   a.Currency,
			TypeCode:   a.AccountType,
			BankName:   a.Provider.DisplayName,
		}
		if acc.BankName == "" {
			acc.BankName = p.cfg.Name
		}
		if a.AccountNumber != nil {
			acc.IBAN = a.AccountNumber.IBAN
			acc.AccountNumber = a.AccountNumber.Number
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// FetchTransactions returns settled and pending transactions between from and to
func (p *TrueLayerProvider) FetchTransactions(ctx context.Context, api *APIClient, accessToken, accountID string, from, to time.Time) ([]models.RawTransaction, error) {
	params := url.Values{}
	if !from.IsZero() {
		params.Set("from", from.Format(time.RFC3339))
	}
	if !to.IsZero() {
		params.Set("to", to.Format(time.RFC3339))
	}
	base := fmt.Sprintf("%s/data/v1/accounts/%s/transactions", p.cfg.APIURL, url.PathEscape(accountID))
	query := ""
	if len(params) > 0 {
		query = "?" + params.Encode()
	}

	settled, err := getJSON[tlTransactionsResponse](ctx, api, base+query, accessToken, nil)
	if err != nil {
		return nil, err
	}
	pending, err := getJSON[tlTransactionsResponse](ctx, api, base+"/pending"+query, accessToken, nil)
	if err != nil {
		return nil, err
	}

	out := make([]models.RawTransaction, 0, len(settled.Results)+len(pending.Results))
	for _, t := range settled.Results {
		out = append(out, p.convert(t, models.BookingBooked))
	}
	for _, t := range pending.Results {
		out = append(out, p.convert(t, models.BookingPending))
	}
	return out, nil
}

// Revoke deletes the connection at TrueLayer
func (p *TrueLayerProvider) Revoke(ctx context.Context, api *APIClient, consent *models.Consent) error {
	if p.cfg.RevokeURL == "" {
		return nil
	}
	return api.sendForm(ctx, http.MethodDelete, p.cfg.RevokeURL, consent.AccessToken, nil)
}

func (p *TrueLayerProvider) convert(t tlTransaction, status models.BookingStatus) models.RawTransaction {
	amount := t.Amount.String()
	direction := models.DirectionCredit
	if d, err := decimal.NewFromString(amount); err == nil {
		if strings.EqualFold(t.TransactionType, "DEBIT") && d.IsPositive() {
			d = d.Neg()
			amount = d.String()
		}
		if d.IsNegative() {
			direction = models.DirectionDebit
		}
	}

	rec := models.RawTransaction{
		ExternalID:       t.TransactionID,
		Amount:           amount,
		Currency:         t.Currency,
		Direction:        direction,
		Date:             t.Timestamp,
		BookingDate:      t.Timestamp,
		Description:      t.Description,
		CounterpartyName: t.MerchantName,
		BookingStatus:    status,
		Raw: map[string]string{
			"bank":             p.cfg.Code,
			"transaction_id":   t.TransactionID,
			"transaction_type": t.TransactionType,
		},
	}
	if t.Meta != nil {
		rec.Reference = t.Meta.ProviderReference
		rec.CounterpartyAccount = t.Meta.CounterpartyIBAN
	}
	return rec
}
