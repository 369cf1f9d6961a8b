// Package zkreceipttest provides a deterministic stand-in for the receipt
// credential operations. Credentials are bound to the request they answer, so
// a response issued for one request fails verification against any other.
package zkreceipttest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"receipt-workers/internal/zkreceipt"
)

const (
	contextPrefix = "ctx:"
	requestPrefix = "request:"
)

type requestContext struct {
	serial zkreceipt.ReceiptSerial
}

func (c *requestContext) Request() []byte {
	return []byte(requestPrefix + hex.EncodeToString(c.serial[:]))
}

func (c *requestContext) Bytes() []byte {
	return []byte(contextPrefix + hex.EncodeToString(c.serial[:]))
}

type credential struct {
	request    string
	level      int64
	expiration int64
}

func (c *credential) Level() int64          { return c.level }
func (c *credential) ExpirationTime() int64 { return c.expiration }

type issued struct {
	Request    string `json:"request"`
	Level      int64  `json:"level"`
	Expiration int64  `json:"expiration"`
}

// Issue builds the server response for request, as the credential server would.
func Issue(request []byte, level, expiration int64) []byte {
	data, _ := json.Marshal(issued{Request: string(request), Level: level, Expiration: expiration})
	return data
}

// Operations implements zkreceipt.Operations.
type Operations struct {
	mu sync.Mutex

	// FailReceive and FailPresent make the next N calls fail verification.
	FailReceive int
	FailPresent int

	created       []zkreceipt.ReceiptSerial
	presentations int
}

var _ zkreceipt.Operations = (*Operations)(nil)

func New() *Operations {
	return &Operations{}
}

func (o *Operations) CreateRequestContext(_ context.Context, serial zkreceipt.ReceiptSerial) (zkreceipt.RequestContext, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created = append(o.created, serial)
	return &requestContext{serial: serial}, nil
}

func (o *Operations) DeserializeRequestContext(_ context.Context, data []byte) (zkreceipt.RequestContext, error) {
	s := string(data)
	if !strings.HasPrefix(s, contextPrefix) {
		return nil, fmt.Errorf("%w: missing context prefix", zkreceipt.ErrInvalidInput)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, contextPrefix))
	if err != nil || len(raw) != zkreceipt.SerialSize {
		return nil, fmt.Errorf("%w: bad serial", zkreceipt.ErrInvalidInput)
	}
	var serial zkreceipt.ReceiptSerial
	copy(serial[:], raw)
	return &requestContext{serial: serial}, nil
}

func (o *Operations) ReceiveCredential(_ context.Context, rc zkreceipt.RequestContext, response []byte) (zkreceipt.Credential, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.FailReceive > 0 {
		o.FailReceive--
		return nil, zkreceipt.ErrVerificationFailed
	}

	var in issued
	if err := json.Unmarshal(response, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", zkreceipt.ErrVerificationFailed, err)
	}
	if in.Request != string(rc.Request()) {
		return nil, fmt.Errorf("%w: response answers a different request", zkreceipt.ErrVerificationFailed)
	}
	return &credential{request: in.Request, level: in.Level, expiration: in.Expiration}, nil
}

func (o *Operations) CreatePresentation(_ context.Context, c zkreceipt.Credential) (zkreceipt.Presentation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.FailPresent > 0 {
		o.FailPresent--
		return nil, zkreceipt.ErrVerificationFailed
	}

	cred, ok := c.(*credential)
	if !ok {
		return nil, zkreceipt.ErrInvalidInput
	}
	o.presentations++
	return zkreceipt.Presentation(fmt.Sprintf("presentation:%s:%d:%d", cred.request, cred.level, cred.expiration)), nil
}

// Created returns the serials of every request context created so far.
func (o *Operations) Created() []zkreceipt.ReceiptSerial {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]zkreceipt.ReceiptSerial(nil), o.created...)
}

func (o *Operations) Presentations() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.presentations
}
