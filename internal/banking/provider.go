package banking

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/Dan9191/bank-feed/internal/models"
)

// Provider adapts one bank API family
type Provider interface {
	// Code is the bank code from the catalogue
	Code() string
	OAuth2Config() *oauth2.Config
	RequiresPKCE() bool
	// AuthCodeOptions are extra parameters of the authorization URL
	AuthCodeOptions() []oauth2.AuthCodeOption
	FetchAccounts(ctx context.Context, api *APIClient, accessToken string) ([]models.ProviderAccount, error)
	FetchTransactions(ctx context.Context, api *APIClient, accessToken, accountID string, from, to time.Time) ([]models.RawTransaction, error)
	// Revoke invalidates the consent at the bank
	Revoke(ctx context.Context, api *APIClient, consent *models.Consent) error
}

// baseProvider carries the catalogue entry shared by all provider kinds
type baseProvider struct {
	cfg BankConfig
}

func (p *baseProvider) Code() string { return p.cfg.Code }

func (p *baseProvider) OAuth2Config() *oauth2.Config { return p.cfg.OAuth2Config() }

func (p *baseProvider) RequiresPKCE() bool { return p.cfg.PKCE }

func (p *baseProvider) AuthCodeOptions() []oauth2.AuthCodeOption {
	opts := make([]oauth2.AuthCodeOption, 0, len(p.cfg.Params))
	for k, v := range p.cfg.Params {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return opts
}

// revokeForm posts an RFC 7009 revocation request when a revoke URL is set
func (p *baseProvider) revokeForm(ctx context.Context, api *APIClient, consent *models.Consent) error {
	if p.cfg.RevokeURL == "" {
		return nil
	}
	token, hint := consent.RefreshToken, "refresh_token"
	if token == "" {
		token, hint = consent.AccessToken, "access_token"
	}
	form := url.Values{
		"token":           {token},
		"token_type_hint": {hint},
		"client_id":       {p.cfg.ClientID},
	}
	if p.cfg.ClientSecret != "" {
		form.Set("client_secret", p.cfg.ClientSecret)
	}
	return api.sendForm(ctx, http.MethodPost, p.cfg.RevokeURL, "", form)
}
