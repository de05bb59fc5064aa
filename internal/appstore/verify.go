package appstore

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"strings"
	"time"

	"subscription-api/internal/apperr"

	"github.com/go-jose/go-jose/v4"
)

// appleRootCAG3PEM is Apple Root CA - G3, the anchor of the x5c chains Apple
// attaches to signed transactions, renewals and notifications.
var appleRootCAG3PEM = []byte(`-----BEGIN CERTIFICATE-----
MIICQzCCAcmgAwIBAgIILcX8iNLFS5UwCgYIKoZIzj0EAwMwZzEbMBkGA1UEAwwS
QXBwbGUgUm9vdCBDQSAtIEczMSYwJAYDVQQLDB1BcHBsZSBDZXJ0aWZpY2F0aW9u
IEF1dGhvcml0eTETMBEGA1UECgwKQXBwbGUgSW5jLjELMAkGA1UEBhMCVVMwHhcN
MTQwNDMwMTgxOTA2WhcNMzkwNDMwMTgxOTA2WjBnMRswGQYDVQQDDBJBcHBsZSBS
b290IENBIC0gRzMxJjAkBgNVBAsMHUFwcGxlIENlcnRpZmljYXRpb24gQXV0aG9y
aXR5MRMwEQYDVQQKDApBcHBsZSBJbmMuMQswCQYDVQQGEwJVUzB2MBAGByqGSM49
AgEGBSuBBAAiA2IABJjpLz1AcqTtkyJygRMc3RCV8cWjTnHcFBbZDuWmBSp3ZHtf
TjjTuxxEtX/1H7YyYl3J6YRbTzBPEVoA/VhYDKX1DyxNB0cTddqXl5dvMVztK517
IDvYuVTZXpmkOlEKMaNCMEAwHQYDVR0OBBYEFLuw3qFYM4iapIqZ3r6966/ayySr
MA8GA1UdEwEB/wQFMAMBAf8wDgYDVR0PAQH/BAQDAgEGMAoGCCqGSM49BAMDA2gA
MGUCMQCD6cHEFl4aXTQY2e3v9GwOAEZLuN+yRhHFD/3meoyhpmvOwgPUnPWTxnS4
at+qIxUCMG1mihDK1A3UT82NQz60imOlM27jbdoXt2QfyFMm+YhidDkLF1vLUagM
6BgD56KyKA==
-----END CERTIFICATE-----
`)

// AppleRootPool returns a pool holding Apple Root CA - G3, or the PEM
// certificates in path when path is set.
func AppleRootPool(path string) (*x509.CertPool, error) {
	data := appleRootCAG3PEM
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, apperr.Wrap(apperr.Config, err, "failed to read root certificate file")
		}
	}

	pool := x509.NewCertPool()
	count := 0
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, apperr.Wrap(apperr.Config, err, "failed to parse root certificate")
		}
		pool.AddCert(cert)
		count++
	}
	if count == 0 {
		return nil, apperr.New(apperr.Config, "no root certificates found")
	}
	return pool, nil
}

// CertChainReader verifies a JWS against the certificate chain in its x5c
// header before returning the payload.
type CertChainReader struct {
	roots *x509.CertPool
	now   func() time.Time
}

func NewCertChainReader(roots *x509.CertPool) *CertChainReader {
	return &CertChainReader{roots: roots, now: time.Now}
}

func (r *CertChainReader) ReadPayload(token string) ([]byte, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.New(apperr.Decode, "empty signed payload")
	}

	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return nil, apperr.Wrap(apperr.Decode, err, "failed to parse JWS")
	}
	if len(jws.Signatures) == 0 {
		return nil, apperr.New(apperr.Decode, "JWS has no signature")
	}

	chains, err := jws.Signatures[0].Header.Certificates(x509.VerifyOptions{
		Roots:       r.roots,
		CurrentTime: r.now(),
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Decode, err, "x5c certificate chain rejected")
	}
	if len(chains) == 0 || len(chains[0]) == 0 {
		return nil, apperr.New(apperr.Decode, "x5c certificate chain is empty")
	}

	payload, err := jws.Verify(chains[0][0].PublicKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.Decode, err, "JWS signature rejected")
	}
	return payload, nil
}
