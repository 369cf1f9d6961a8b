// Package zkreceipt is the boundary to the zero-knowledge receipt credential
// operations. The scheme itself lives elsewhere; callers only sequence the
// opaque operations and classify their failures.
package zkreceipt

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// SerialSize is the size in bytes of a receipt serial.
const SerialSize = 16

var (
	// ErrVerificationFailed means the operation rejected its inputs. The request
	// context used to produce them can never be redeemed.
	ErrVerificationFailed = errors.New("zk verification failed")
	// ErrInvalidInput means serialized bytes could not be decoded.
	ErrInvalidInput = errors.New("zk invalid input")
)

// ReceiptSerial seeds a new receipt credential request.
type ReceiptSerial [SerialSize]byte

// NewReceiptSerial reads a serial from r, which must be a CSPRNG.
// A nil reader uses crypto/rand.
func NewReceiptSerial(r io.Reader) (ReceiptSerial, error) {
	if r == nil {
		r = rand.Reader
	}
	var serial ReceiptSerial
	if _, err := io.ReadFull(r, serial[:]); err != nil {
		return ReceiptSerial{}, fmt.Errorf("read receipt serial: %w", err)
	}
	return serial, nil
}

// RequestContext pairs a submitted request with the secret material needed to
// decode the response to it.
type RequestContext interface {
	// Request is the credential request sent to the server.
	Request() []byte
	// Bytes is the serialized context, accepted by DeserializeRequestContext.
	Bytes() []byte
}

// Credential is the server-issued receipt credential.
type Credential interface {
	Level() int64
	// ExpirationTime is in Unix seconds.
	ExpirationTime() int64
}

// Presentation is the redeemable artifact derived from a credential.
type Presentation []byte

// Operations is the receipt credential capability.
type Operations interface {
	CreateRequestContext(ctx context.Context, serial ReceiptSerial) (RequestContext, error)
	DeserializeRequestContext(ctx context.Context, data []byte) (RequestContext, error)
	ReceiveCredential(ctx context.Context, rc RequestContext, response []byte) (Credential, error)
	CreatePresentation(ctx context.Context, credential Credential) (Presentation, error)
}
