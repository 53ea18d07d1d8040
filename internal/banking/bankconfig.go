package banking

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"
)

// Provider kinds
const (
	KindBerlinGroup = "berlingroup"
	KindTrueLayer   = "truelayer"
)

// BankConfig is one entry of the bank catalogue
type BankConfig struct {
	Code            string   `yaml:"code"`
	Name            string   `yaml:"name"`
	Kind            string   `yaml:"kind"`
	ClientID        string   `yaml:"client_id"`
	ClientSecret    string   `yaml:"client_secret"`
	ClientSecretEnv string   `yaml:"client_secret_env"`
	AuthURL         string   `yaml:"auth_url"`
	TokenURL        string   `yaml:"token_url"`
	APIURL          string   `yaml:"api_url"`
	RevokeURL       string   `yaml:"revoke_url"`
	RedirectURL     string   `yaml:"redirect_url"`
	Scopes          []string `yaml:"scopes"`
	PKCE            bool     `yaml:"pkce"`
	AuthStyle       string   `yaml:"auth_style"`
	// Params are extra authorization URL parameters
	Params map[string]string `yaml:"params"`
}

type banksFile struct {
	Banks []BankConfig `yaml:"banks"`
}

// Validate checks the required fields
func (b *BankConfig) Validate() error {
	switch {
	case b.Code == "":
		return fmt.Errorf("bank code cannot be empty")
	case b.Kind != KindBerlinGroup && b.Kind != KindTrueLayer:
		return fmt.Errorf("bank %s: unsupported kind %q", b.Code, b.Kind)
	case b.ClientID == "":
		return fmt.Errorf("bank %s: client_id is required", b.Code)
	case b.AuthURL == "" || b.TokenURL == "" || b.APIURL == "":
		return fmt.Errorf("bank %s: auth_url, token_url and api_url are required", b.Code)
	}
	return nil
}

// OAuth2Config builds the x/oauth2 configuration of the bank
func (b *BankConfig) OAuth2Config() *oauth2.Config {
	style := oauth2.AuthStyleInParams
	if strings.EqualFold(b.AuthStyle, "header") {
		style = oauth2.AuthStyleInHeader
	}
	return &oauth2.Config{
		ClientID:     b.ClientID,
		ClientSecret: b.ClientSecret,
		RedirectURL:  b.RedirectURL,
		Scopes:       b.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   b.AuthURL,
			TokenURL:  b.TokenURL,
			AuthStyle: style,
		},
	}
}

// LoadBanks parses the YAML bank catalogue. Secrets named by
// client_secret_env are read from the environment.
func LoadBanks(data []byte) ([]BankConfig, error) {
	var file banksFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse banks: %w", err)
	}
	seen := make(map[string]bool)
	for i := range file.Banks {
		b := &file.Banks[i]
		if b.ClientSecretEnv != "" {
			b.ClientSecret = os.Getenv(b.ClientSecretEnv)
		}
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if seen[b.Code] {
			return nil, fmt.Errorf("duplicate bank code %q", b.Code)
		}
		seen[b.Code] = true
	}
	return file.Banks, nil
}

// LoadBanksFile reads the bank catalogue from path
func LoadBanksFile(path string) ([]BankConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read banks file: %w", err)
	}
	return LoadBanks(data)
}

// NewProviders builds one provider per configured bank
func NewProviders(banks []BankConfig) ([]Provider, error) {
	providers := make([]Provider, 0, len(banks))
	for _, b := range banks {
		switch b.Kind {
		case KindBerlinGroup:
			providers = append(providers, NewBerlinGroupProvider(b))
		case KindTrueLayer:
			providers = append(providers, NewTrueLayerProvider(b))
		default:
			return nil, fmt.Errorf("bank %s: unsupported kind %q", b.Code, b.Kind)
		}
	}
	return providers, nil
}
