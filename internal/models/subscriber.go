package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// SubscriberIDSize is the length of a subscriber id in bytes.
const SubscriberIDSize = 32

// SubscriberID identifies the paying account-subscriber relationship.
type SubscriberID []byte

// String returns the URL-safe, unpadded base64 form used on the wire and in job variables.
func (id SubscriberID) String() string {
	return base64.RawURLEncoding.EncodeToString(id)
}

// Fingerprint is a short non-reversible reference safe for logs and telemetry.
func (id SubscriberID) Fingerprint() string {
	sum := sha256.Sum256(id)
	return hex.EncodeToString(sum[:8])
}

func (id SubscriberID) Equal(other SubscriberID) bool {
	return bytes.Equal(id, other)
}

// ParseSubscriberID accepts URL-safe base64 with or without padding.
func ParseSubscriberID(s string) (SubscriberID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, fmt.Errorf("subscriber id: %w", err)
	}
	if len(raw) != SubscriberIDSize {
		return nil, fmt.Errorf("subscriber id: expected %d bytes, got %d", SubscriberIDSize, len(raw))
	}
	return SubscriberID(raw), nil
}

// Subscriber is the locally stored subscription identity of an account.
type Subscriber struct {
	AccountID    string       `json:"accountId"`
	SubscriberID SubscriberID `json:"subscriberId"`
	CurrencyCode string       `json:"currencyCode"`
}
