// Package credential signs the issuance session request that tells the
// wallet server which email credential to issue.
package credential

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"emailissuer/pkg/email"
)

const (
	// SubjectIssueRequest is the sub claim of an issuance session request.
	SubjectIssueRequest = "issue_request"
	issuanceContext     = "https://irma.app/ld/request/issuance/v2"
)

var ErrInvalidKey = errors.New("invalid signing key")

// Config names the credential type and its attributes.
type Config struct {
	IssuerID        string
	CredentialType  string
	EmailAttribute  string
	DomainAttribute string
	// Validity is how long the issued credential stays valid.
	Validity time.Duration
}

// SessionRequestClaims is the signed issuance session request.
type SessionRequestClaims struct {
	jwt.RegisteredClaims
	Request IdentityProviderRequest `json:"iprequest"`
}

type IdentityProviderRequest struct {
	Request IssuanceRequest `json:"request"`
}

type IssuanceRequest struct {
	Context     string              `json:"@context"`
	Credentials []CredentialRequest `json:"credentials"`
}

type CredentialRequest struct {
	CredentialTypeID string            `json:"credential"`
	Validity         int64             `json:"validity"`
	Attributes       map[string]string `json:"attributes"`
}

// Signer produces RS256 session requests for verified addresses.
type Signer struct {
	cfg   Config
	key   *rsa.PrivateKey
	clock func() time.Time
}

type Option func(*Signer)

func WithClock(clock func() time.Time) Option {
	return func(s *Signer) { s.clock = clock }
}

func NewSigner(cfg Config, key *rsa.PrivateKey, opts ...Option) (*Signer, error) {
	if key == nil {
		return nil, ErrInvalidKey
	}
	if cfg.IssuerID == "" || cfg.CredentialType == "" {
		return nil, fmt.Errorf("issuer id and credential type are required")
	}
	if cfg.EmailAttribute == "" {
		cfg.EmailAttribute = "email"
	}
	if cfg.DomainAttribute == "" {
		cfg.DomainAttribute = "domain"
	}
	if cfg.Validity <= 0 {
		cfg.Validity = 365 * 24 * time.Hour
	}
	s := &Signer{cfg: cfg, key: key, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign returns the signed session request for address.
func (s *Signer) Sign(address string) (string, error) {
	now := s.clock()
	claims := SessionRequestClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.cfg.IssuerID,
			Subject:  SubjectIssueRequest,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Request: IdentityProviderRequest{
			Request: IssuanceRequest{
				Context: issuanceContext,
				Credentials: []CredentialRequest{{
					CredentialTypeID: s.cfg.CredentialType,
					Validity:         now.Add(s.cfg.Validity).Unix(),
					Attributes: map[string]string{
						s.cfg.EmailAttribute:  address,
						s.cfg.DomainAttribute: strings.ToLower(email.Domain(address)),
					},
				}},
			},
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign session request: %w", err)
	}
	return signed, nil
}

// Parse verifies a session request against pub and returns its claims.
func Parse(token string, pub *rsa.PublicKey) (*SessionRequestClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &SessionRequestClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*SessionRequestClaims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// LoadPrivateKey reads an RSA private key given as inline PEM or a file path.
func LoadPrivateKey(s string) (*rsa.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	pemBytes := []byte(s)
	if !strings.HasPrefix(s, "-----BEGIN") {
		var err error
		if pemBytes, err = os.ReadFile(s); err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return key, nil
}
