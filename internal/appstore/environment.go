package appstore

import (
	"context"
	"errors"
	"net/http"
	"time"

	"subscription-api/internal/apperr"
	"subscription-api/pkg/logging"
)

// Environment names match the values Apple puts in payloads
type Environment string

const (
	Production Environment = "Production"
	Sandbox    Environment = "Sandbox"
)

// IsSandbox reports whether env is the sandbox environment
func (e Environment) IsSandbox() bool {
	return e == Sandbox
}

// KST is the fixed UTC+9 offset subscription dates are kept in
var KST = time.FixedZone("KST", 9*60*60)

// ToKST converts an Apple millisecond epoch to KST
func ToKST(ms int64) time.Time {
	return time.UnixMilli(ms).In(KST)
}

// Resolver decides which environment a transaction id belongs to by probing
// the production API.
type Resolver struct {
	client *Client
}

func NewResolver(client *Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns Sandbox when production answers 404 and Production for any
// other HTTP answer, including server errors. Only transport failures are errors.
func (r *Resolver) Resolve(ctx context.Context, transactionID string) (Environment, error) {
	_, err := r.client.GetTransactionInfo(ctx, Production, transactionID)
	if err == nil {
		return Production, nil
	}

	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == http.StatusNotFound {
			logging.Infof("Transaction %s not found in production, using sandbox", transactionID)
			return Sandbox, nil
		}
		logging.Warnf("Production probe for transaction %s returned status %d, assuming production", transactionID, apiErr.StatusCode)
		return Production, nil
	case apperr.Is(err, apperr.ResponseParse):
		return Production, nil
	}
	return "", err
}
