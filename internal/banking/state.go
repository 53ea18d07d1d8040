package banking

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// StateTTL is how long an authorization round trip may take
const StateTTL = 10 * time.Minute

// StateClaims is the signed payload of the OAuth state parameter
type StateClaims struct {
	TenantID int64  `json:"tid"`
	Bank     string `json:"bank"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// StateSigner issues and verifies HS256 state tokens
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

// NewStateSigner creates a signer with secret
func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{secret: []byte(secret), now: time.Now}
}

// Sign returns a state bound to tenant and bank
func (s *StateSigner) Sign(tenantID int64, bank string) (string, error) {
	now := s.now()
	claims := StateClaims{
		TenantID: tenantID,
		Bank:     bank,
		Nonce:    uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(StateTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry
func (s *StateSigner) Verify(state string) (*StateClaims, error) {
	claims := &StateClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.Bank == "" || claims.TenantID == 0 {
		return nil, fmt.Errorf("%w: incomplete claims", ErrInvalidState)
	}
	return claims, nil
}
