package banking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/Dan9191/bank-feed/internal/models"
	"github.com/Dan9191/bank-feed/internal/utils"
)

// RefreshWindow is how close to expiry an access token gets refreshed
const RefreshWindow = 5 * time.Minute

// TokenStore persists consents. GetConsent returns (nil, nil) when absent.
type TokenStore interface {
	GetConsent(ctx context.Context, tenantID int64, bank string) (*models.Consent, error)
	SaveConsent(ctx context.Context, consent *models.Consent) error
	DeleteConsent(ctx context.Context, tenantID int64, bank string) error
}

// Notifier is told when a consent can no longer be refreshed
type Notifier interface {
	SendReauthorizationRequired(tenantID int64, bank string) error
}

// Client runs the OAuth consent lifecycle and bank data calls
type Client struct {
	providers map[string]Provider
	store     TokenStore
	states    *StateSigner
	verifiers *VerifierCache
	api       *APIClient
	notifier  Notifier
	log       *logrus.Logger
	now       func() time.Time

	refreshes singleflight.Group
}

// NewClient wires the client. notifier may be nil.
func NewClient(providers []Provider, store TokenStore, states *StateSigner, verifiers *VerifierCache, api *APIClient, notifier Notifier, log *logrus.Logger) *Client {
	byCode := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byCode[p.Code()] = p
	}
	return &Client{
		providers: byCode,
		store:     store,
		states:    states,
		verifiers: verifiers,
		api:       api,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
	}
}

// Banks lists the configured bank codes
func (c *Client) Banks() []string {
	codes := make([]string, 0, len(c.providers))
	for code := range c.providers {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (c *Client) provider(bank string) (Provider, error) {
	p, ok := c.providers[bank]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBank, bank)
	}
	return p, nil
}

// oauthContext makes x/oauth2 use the bounded API HTTP client
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.api.HTTPClient())
}

// AuthorizationURL starts the consent flow for tenantID at bank
func (c *Client) AuthorizationURL(ctx context.Context, tenantID int64, bank string) (string, error) {
	p, err := c.provider(bank)
	if err != nil {
		return "", err
	}

	state, err := c.states.Sign(tenantID, bank)
	if err != nil {
		return "", err
	}

	opts := p.AuthCodeOptions()
	if p.RequiresPKCE() {
		verifier := oauth2.GenerateVerifier()
		c.verifiers.Put(bank, state, verifier)
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}

	existing, err := c.store.GetConsent(ctx, tenantID, bank)
	if err != nil {
		return "", fmt.Errorf("failed to load consent: %w", err)
	}
	if existing == nil || existing.Status != models.ConsentActive {
		pending := &models.Consent{
			TenantID:  tenantID,
			BankCode:  bank,
			Status:    models.ConsentPending,
			UpdatedAt: c.now(),
		}
		if err := c.store.SaveConsent(ctx, pending); err != nil {
			return "", fmt.Errorf("failed to save pending consent: %w", err)
		}
	}

	c.log.WithFields(logrus.Fields{"tenant_id": tenantID, "bank": bank, "pkce": p.RequiresPKCE()}).Info("authorization started")
	return p.OAuth2Config().AuthCodeURL(state, opts...), nil
}

// HandleCallback processes the redirect query of the bank
func (c *Client) HandleCallback(ctx context.Context, query url.Values) (*models.Consent, error) {
	state := query.Get("state")
	claims, err := c.states.Verify(state)
	if err != nil {
		return nil, err
	}

	if code := query.Get("error"); code != "" {
		c.log.WithFields(logrus.Fields{"tenant_id": claims.TenantID, "bank": claims.Bank, "error": code}).Warn("authorization not granted")
		if code == "access_denied" {
			return nil, &AuthorizationDeniedError{
				TenantID:    claims.TenantID,
				Bank:        claims.Bank,
				Code:        code,
				Description: query.Get("error_description"),
			}
		}
		return nil, &ProviderError{Op: "authorize", Err: fmt.Errorf("%s: %s", code, query.Get("error_description"))}
	}

	code := query.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: callback has neither code nor error", ErrInvalidState)
	}
	return c.ExchangeCode(ctx, claims.TenantID, code, "", state)
}

// ExchangeCode trades the authorization code for tokens and activates the consent
func (c *Client) ExchangeCode(ctx context.Context, tenantID int64, code, redirectURI, state string) (*models.Consent, error) {
	claims, err := c.states.Verify(state)
	if err != nil {
		return nil, err
	}
	if claims.TenantID != tenantID {
		return nil, fmt.Errorf("%w: state issued for another tenant", ErrInvalidState)
	}
	p, err := c.provider(claims.Bank)
	if err != nil {
		return nil, err
	}

	var opts []oauth2.AuthCodeOption
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}
	if p.RequiresPKCE() {
		verifier, ok := c.verifiers.Take(claims.Bank, state)
		if !ok {
			return nil, fmt.Errorf("%w: code verifier missing or expired", ErrInvalidState)
		}
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	token, err := p.OAuth2Config().Exchange(c.oauthContext(ctx), code, opts...)
	if err != nil {
		return nil, providerError("token exchange", err, ErrCodeExchange)
	}

	now := c.now()
	consent := consentFromToken(tenantID, claims.Bank, token, &now)
	consent.UpdatedAt = now
	if err := c.store.SaveConsent(ctx, consent); err != nil {
		return nil, fmt.Errorf("failed to save consent: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"bank":      claims.Bank,
		"token":     utils.MaskToken(consent.AccessToken),
	}).Info("consent granted")
	return consent, nil
}

// ValidToken returns an access token that is valid for at least RefreshWindow,
// refreshing it first when needed. Concurrent refreshes of the same consent
// share one token request.
func (c *Client) ValidToken(ctx context.Context, tenantID int64, bank string) (string, error) {
	if _, err := c.provider(bank); err != nil {
		return "", err
	}
	consent, err := c.activeConsent(ctx, tenantID, bank)
	if err != nil {
		return "", err
	}
	if !consent.ExpiresWithin(c.now(), RefreshWindow) {
		return consent.AccessToken, nil
	}

	key := strconv.FormatInt(tenantID, 10) + ":" + bank
	v, err, _ := c.refreshes.Do(key, func() (interface{}, error) {
		return c.refresh(ctx, tenantID, bank)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) activeConsent(ctx context.Context, tenantID int64, bank string) (*models.Consent, error) {
	consent, err := c.store.GetConsent(ctx, tenantID, bank)
	if err != nil {
		return nil, fmt.Errorf("failed to load consent: %w", err)
	}
	if consent == nil || consent.Status == models.ConsentPending {
		return nil, fmt.Errorf("%w: tenant %d bank %s", ErrConsentNotFound, tenantID, bank)
	}
	if consent.Status != models.ConsentActive {
		return nil, fmt.Errorf("%w: consent is %s", ErrReauthorizationRequired, consent.Status)
	}
	return consent, nil
}

func (c *Client) refresh(ctx context.Context, tenantID int64, bank string) (string, error) {
	logger := c.log.WithFields(logrus.Fields{"tenant_id": tenantID, "bank": bank})

	// another caller may have refreshed while we waited
	consent, err := c.activeConsent(ctx, tenantID, bank)
	if err != nil {
		return "", err
	}
	if !consent.ExpiresWithin(c.now(), RefreshWindow) {
		return consent.AccessToken, nil
	}
	if consent.RefreshToken == "" {
		return "", fmt.Errorf("%w: tenant %d bank %s", ErrNoRefreshToken, tenantID, bank)
	}

	p, err := c.provider(bank)
	if err != nil {
		return "", err
	}
	src := p.OAuth2Config().TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: consent.RefreshToken})
	token, err := src.Token()
	if err != nil {
		if isInvalidGrant(err) {
			logger.WithError(err).Warn("refresh token rejected, consent expired")
			consent.Status = models.ConsentExpired
			consent.UpdatedAt = c.now()
			if saveErr := c.store.SaveConsent(ctx, consent); saveErr != nil {
				logger.WithError(saveErr).Error("failed to mark consent expired")
			}
			if c.notifier != nil {
				if nErr := c.notifier.SendReauthorizationRequired(tenantID, bank); nErr != nil {
					logger.WithError(nErr).Warn("failed to send reauthorization notice")
				}
			}
			return "", fmt.Errorf("%w: tenant %d bank %s", ErrReauthorizationRequired, tenantID, bank)
		}
		return "", providerError("token refresh", err, ErrTokenRefresh)
	}

	refreshed := consentFromToken(tenantID, bank, token, consent.GrantedAt)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = consent.RefreshToken
	}
	if refreshed.Scope == "" {
		refreshed.Scope = consent.Scope
	}
	refreshed.UpdatedAt = c.now()
	if err := c.store.SaveConsent(ctx, refreshed); err != nil {
		return "", fmt.Errorf("failed to save refreshed consent: %w", err)
	}

	logger.WithField("token", utils.MaskToken(refreshed.AccessToken)).Info("access token refreshed")
	return refreshed.AccessToken, nil
}

// Accounts fetches the accounts of the tenant's consent at bank
func (c *Client) Accounts(ctx context.Context, tenantID int64, bank string) ([]models.ProviderAccount, error) {
	token, err := c.ValidToken(ctx, tenantID, bank)
	if err != nil {
		return nil, err
	}
	p, err := c.provider(bank)
	if err != nil {
		return nil, err
	}
	return p.FetchAccounts(ctx, c.api, token)
}

// Transactions fetches transactions of one account between from and to
func (c *Client) Transactions(ctx context.Context, tenantID int64, bank, accountID string, from, to time.Time) ([]models.RawTransaction, error) {
	token, err := c.ValidToken(ctx, tenantID, bank)
	if err != nil {
		return nil, err
	}
	p, err := c.provider(bank)
	if err != nil {
		return nil, err
	}
	return p.FetchTransactions(ctx, c.api, token, accountID, from, to)
}

// Revoke revokes the consent at the bank on a best-effort basis and always
// deletes the stored tokens
func (c *Client) Revoke(ctx context.Context, tenantID int64, bank string) error {
	p, err := c.provider(bank)
	if err != nil {
		return err
	}
	consent, err := c.store.GetConsent(ctx, tenantID, bank)
	if err != nil {
		return fmt.Errorf("failed to load consent: %w", err)
	}
	logger := c.log.WithFields(logrus.Fields{"tenant_id": tenantID, "bank": bank})
	if consent != nil && (consent.AccessToken != "" || consent.RefreshToken != "") {
		if err := p.Revoke(ctx, c.api, consent); err != nil {
			logger.WithError(err).Warn("remote revoke failed, deleting local tokens anyway")
		}
	}
	if err := c.store.DeleteConsent(ctx, tenantID, bank); err != nil {
		return fmt.Errorf("failed to delete consent: %w", err)
	}
	logger.Info("consent revoked")
	return nil
}

func consentFromToken(tenantID int64, bank string, token *oauth2.Token, grantedAt *time.Time) *models.Consent {
	consent := &models.Consent{
		TenantID:     tenantID,
		BankCode:     bank,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		GrantedAt:    grantedAt,
		Status:       models.ConsentActive,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		consent.Scope = scope
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		consent.ExpiresAt = &expiry
	}
	return consent
}

func isInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.ErrorCode == "invalid_grant" {
		return true
	}
	return re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized
}

func providerError(op string, err error, sentinel error) error {
	pe := &ProviderError{Op: op, Err: fmt.Errorf("%w: %v", sentinel, err)}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			pe.Status = re.Response.StatusCode
		}
		pe.Body = string(re.Body)
	}
	return pe
}
