package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kasirduo/backend/internal/domain"
)

// ErrDecode marks any token that did not come out of Encode: wrong
// encoding, wrong shape, or a payload that violates its own arithmetic.
var ErrDecode = errors.New("invalid handoff token")

// Payload is the self-describing cart carried from the register to the
// payment terminal. It is rendered as a QR code, so the encoded form must
// survive a visual channel: JSON wrapped in standard base64.
type Payload struct {
	TransactionID int64             `json:"transaction_id"`
	TotalAmount   int64             `json:"total_amount"`
	Items         []domain.CartItem `json:"items"`
	Timestamp     time.Time         `json:"timestamp"`
}

func Encode(p Payload) (string, error) {
	if err := validate(p); err != nil {
		return "", err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode handoff payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func Decode(data string) (Payload, error) {
	if data == "" {
		return Payload{}, fmt.Errorf("%w: empty token", ErrDecode)
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: not base64", ErrDecode)
	}

	var p Payload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("%w: malformed payload", ErrDecode)
	}
	if dec.More() {
		return Payload{}, fmt.Errorf("%w: trailing data", ErrDecode)
	}
	if err := validate(p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

func validate(p Payload) error {
	if p.TransactionID < 1 {
		return fmt.Errorf("%w: missing transaction id", ErrDecode)
	}
	if len(p.Items) == 0 {
		return fmt.Errorf("%w: empty cart", ErrDecode)
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrDecode)
	}

	sum := int64(0)
	for _, item := range p.Items {
		if item.ProductID < 1 || item.Code == "" || item.Name == "" {
			return fmt.Errorf("%w: incomplete item", ErrDecode)
		}
		if item.Quantity < 1 || item.UnitPrice < 0 {
			return fmt.Errorf("%w: invalid item quantity or price", ErrDecode)
		}
		if item.Subtotal != item.UnitPrice*int64(item.Quantity) {
			return fmt.Errorf("%w: subtotal mismatch for %s", ErrDecode, item.Code)
		}
		sum += item.Subtotal
	}
	if p.TotalAmount != sum {
		return fmt.Errorf("%w: total does not match items", ErrDecode)
	}
	return nil
}
