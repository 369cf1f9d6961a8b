package zkreceipt

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	commonhttp "receipt-workers/internal/common/http"
)

// RemoteOperations calls a zk sidecar over HTTP. Every payload is base64 encoded
// and opaque to this side.
type RemoteOperations struct {
	client *commonhttp.Client
}

func NewRemoteOperations(client *commonhttp.Client) *RemoteOperations {
	return &RemoteOperations{client: client}
}

type remoteContext struct {
	blob    []byte
	request []byte
}

func (c *remoteContext) Request() []byte { return c.request }
func (c *remoteContext) Bytes() []byte   { return c.blob }

type remoteCredential struct {
	blob       []byte
	level      int64
	expiration int64
}

func (c *remoteCredential) Level() int64          { return c.level }
func (c *remoteCredential) ExpirationTime() int64 { return c.expiration }

type contextPayload struct {
	Context string `json:"context"`
	Request string `json:"request"`
}

type credentialPayload struct {
	Credential     string `json:"credential"`
	Level          int64  `json:"level"`
	ExpirationTime int64  `json:"expirationTime"`
}

func (o *RemoteOperations) CreateRequestContext(ctx context.Context, serial ReceiptSerial) (RequestContext, error) {
	var out contextPayload
	if err := o.call(ctx, "/v1/receipts/request-context", map[string]string{
		"serial": encode(serial[:]),
	}, &out); err != nil {
		return nil, err
	}
	return decodeContext(out)
}

func (o *RemoteOperations) DeserializeRequestContext(ctx context.Context, data []byte) (RequestContext, error) {
	var out contextPayload
	if err := o.call(ctx, "/v1/receipts/request-context/decode", map[string]string{
		"context": encode(data),
	}, &out); err != nil {
		return nil, err
	}
	return decodeContext(out)
}

func (o *RemoteOperations) ReceiveCredential(ctx context.Context, rc RequestContext, response []byte) (Credential, error) {
	var out credentialPayload
	if err := o.call(ctx, "/v1/receipts/credential", map[string]string{
		"context":  encode(rc.Bytes()),
		"response": encode(response),
	}, &out); err != nil {
		return nil, err
	}
	blob, err := decode("credential", out.Credential)
	if err != nil {
		return nil, err
	}
	return &remoteCredential{blob: blob, level: out.Level, expiration: out.ExpirationTime}, nil
}

func (o *RemoteOperations) CreatePresentation(ctx context.Context, credential Credential) (Presentation, error) {
	rc, ok := credential.(*remoteCredential)
	if !ok {
		return nil, fmt.Errorf("%w: credential was not issued by this sidecar", ErrInvalidInput)
	}
	var out struct {
		Presentation string `json:"presentation"`
	}
	if err := o.call(ctx, "/v1/receipts/presentation", map[string]string{
		"credential": encode(rc.blob),
	}, &out); err != nil {
		return nil, err
	}
	p, err := decode("presentation", out.Presentation)
	if err != nil {
		return nil, err
	}
	return Presentation(p), nil
}

// call maps the sidecar's status codes onto the package errors:
// 422 is a verification failure, 400 is undecodable input.
func (o *RemoteOperations) call(ctx context.Context, path string, body, out interface{}) error {
	resp, err := o.client.DoJSON(ctx, http.MethodPost, path, body)
	if err != nil {
		return fmt.Errorf("zk sidecar %s: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrVerificationFailed, string(resp.Body))
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidInput, string(resp.Body))
	case !resp.Successful():
		return fmt.Errorf("zk sidecar %s: status %d", path, resp.StatusCode)
	}

	if err := resp.DecodeJSON(out); err != nil {
		return fmt.Errorf("zk sidecar %s: decode: %w", path, err)
	}
	return nil
}

func decodeContext(p contextPayload) (RequestContext, error) {
	blob, err := decode("context", p.Context)
	if err != nil {
		return nil, err
	}
	request, err := decode("request", p.Request)
	if err != nil {
		return nil, err
	}
	return &remoteContext{blob: blob, request: request}, nil
}

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// decode reads a sidecar output field. A malformed field is the sidecar's
// fault, not the caller's input, so it stays a plain error.
func decode(field, s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("zk sidecar returned malformed %s: %v", field, err)
	}
	return b, nil
}
