// Package appstore talks to Apple's App Store Server API: it mints the ES256
// service tokens, decodes Apple's signed JWS payloads and resolves which
// environment a transaction lives in.
package appstore

import (
	"context"
	"crypto/ecdsa"
	"strings"
	"sync"
	"time"

	"subscription-api/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenAudience = "appstoreconnect-v1"
	tokenLifetime = 20 * time.Minute
)

// Credential is the backend's App Store Connect API key
type Credential struct {
	PrivateKeyPEM string
	KeyID         string
	IssuerID      string
	BundleID      string
}

// Signer mints service tokens for one credential
type Signer struct {
	cred Credential
	key  *ecdsa.PrivateKey
	now  func() time.Time
}

// NewSigner parses the credential's private key. Both PKCS#8 and SEC 1 PEM are accepted.
func NewSigner(cred Credential) (*Signer, error) {
	if cred.KeyID == "" || cred.IssuerID == "" || cred.BundleID == "" {
		return nil, apperr.New(apperr.Config, "apple credential is incomplete")
	}
	pemData := strings.ReplaceAll(cred.PrivateKeyPEM, `\n`, "\n")
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pemData))
	if err != nil {
		return nil, apperr.Wrap(apperr.Config, err, "failed to parse apple private key")
	}
	return &Signer{cred: cred, key: key, now: time.Now}, nil
}

// Sign returns a token valid for 20 minutes from now
func (s *Signer) Sign() (string, time.Time, error) {
	now := s.now()
	exp := now.Add(tokenLifetime)
	claims := jwt.MapClaims{
		"iss": s.cred.IssuerID,
		"iat": now.Unix(),
		"exp": exp.Unix(),
		"aud": tokenAudience,
		"bid": s.cred.BundleID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.cred.KeyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.Signing, err, "failed to sign app store token")
	}
	return signed, time.Unix(exp.Unix(), 0), nil
}

// TokenProvider supplies bearer tokens for App Store Server API calls
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// SigningProvider signs a fresh token for every call
type SigningProvider struct {
	Signer *Signer
}

func (p SigningProvider) Token(ctx context.Context) (string, error) {
	token, _, err := p.Signer.Sign()
	return token, err
}

// CachedProvider reuses a signed token until shortly before it expires
type CachedProvider struct {
	signer *Signer
	margin time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewCachedProvider refreshes the token once it is within margin of expiry
func NewCachedProvider(signer *Signer, margin time.Duration) *CachedProvider {
	return &CachedProvider{signer: signer, margin: margin}
}

func (p *CachedProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.signer.now().Add(p.margin).Before(p.expiresAt) {
		return p.token, nil
	}

	token, expiresAt, err := p.signer.Sign()
	if err != nil {
		return "", err
	}
	p.token = token
	p.expiresAt = expiresAt
	return token, nil
}
