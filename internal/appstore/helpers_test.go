package appstore

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func newTestSigner(t *testing.T, now time.Time) (*Signer, *ecdsa.PrivateKey) {
	t.Helper()
	key, keyPEM := newTestKey(t)
	signer, err := NewSigner(Credential{
		PrivateKeyPEM: keyPEM,
		KeyID:         "KEY123",
		IssuerID:      "57246542-96fe-1a63-e053-0824d011072a",
		BundleID:      "com.omninews.app",
	})
	require.NoError(t, err)
	signer.now = func() time.Time { return now }
	return signer, key
}

// compactJWS builds an unsigned-looking compact token around v
func compactJWS(t *testing.T, v interface{}) string {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"ES256"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".c2ln"
}

type staticTokens string

func (s staticTokens) Token(ctx context.Context) (string, error) {
	return string(s), nil
}
