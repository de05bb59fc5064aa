package appstore

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"subscription-api/internal/apperr"
	"subscription-api/internal/models"
)

// PayloadReader extracts the payload bytes of a compact JWS
type PayloadReader interface {
	ReadPayload(token string) ([]byte, error)
}

// CompactReader returns the payload without checking the signature. It is
// meant for payloads fetched directly from Apple's authenticated API.
type CompactReader struct{}

func (CompactReader) ReadPayload(token string) ([]byte, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.New(apperr.Decode, "empty signed payload")
	}

	// JWS format: header.payload.signature
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, apperr.New(apperr.Decode, "invalid JWS format: expected 3 parts, got %d", len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, apperr.Wrap(apperr.Decode, err, "failed to decode JWS payload")
	}
	return payload, nil
}

// validatable is implemented by every payload shape the decoder produces
type validatable interface {
	Validate() error
}

// Decoder decodes Apple's signed payloads into typed values
type Decoder struct {
	reader PayloadReader
}

// NewDecoder returns a decoder backed by reader, or by CompactReader if reader is nil
func NewDecoder(reader PayloadReader) *Decoder {
	if reader == nil {
		reader = CompactReader{}
	}
	return &Decoder{reader: reader}
}

func (d *Decoder) Transaction(token string) (*models.TransactionInfo, error) {
	var v models.TransactionInfo
	if err := d.decode(token, "transaction info", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (d *Decoder) Renewal(token string) (*models.RenewalInfo, error) {
	var v models.RenewalInfo
	if err := d.decode(token, "renewal info", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (d *Decoder) Receipt(token string) (*models.Receipt, error) {
	var v models.Receipt
	if err := d.decode(token, "receipt", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (d *Decoder) Notification(token string) (*models.NotificationPayload, error) {
	var v models.NotificationPayload
	if err := d.decode(token, "notification", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (d *Decoder) decode(token, what string, v validatable) error {
	payload, err := d.reader.ReadPayload(token)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return apperr.Wrap(apperr.Decode, err, "failed to parse %s", what)
	}
	if err := v.Validate(); err != nil {
		return apperr.Wrap(apperr.Decode, err, "invalid %s", what)
	}
	return nil
}
