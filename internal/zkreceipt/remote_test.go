package zkreceipt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	commonhttp "receipt-workers/internal/common/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSidecar(t *testing.T, handler http.HandlerFunc) *RemoteOperations {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRemoteOperations(commonhttp.NewClient(srv.URL, 5*time.Second, "test"))
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestRemoteOperations_CreateAndDeserialize(t *testing.T) {
	var serials []string
	ops := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/v1/receipts/request-context":
			serials = append(serials, body["serial"])
		case "/v1/receipts/request-context/decode":
			assert.Equal(t, b64("context-bytes"), body["context"])
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"context": b64("context-bytes"),
			"request": b64("request-bytes"),
		})
	})

	serial, err := NewReceiptSerial(nil)
	require.NoError(t, err)

	rc, err := ops.CreateRequestContext(context.Background(), serial)
	require.NoError(t, err)
	assert.Equal(t, []byte("request-bytes"), rc.Request())
	assert.Equal(t, []byte("context-bytes"), rc.Bytes())
	require.Len(t, serials, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString(serial[:]), serials[0])

	restored, err := ops.DeserializeRequestContext(context.Background(), rc.Bytes())
	require.NoError(t, err)
	assert.Equal(t, rc.Request(), restored.Request())
}

func TestRemoteOperations_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"verification failure", http.StatusUnprocessableEntity, ErrVerificationFailed},
		{"invalid input", http.StatusBadRequest, ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			rc := &remoteContext{blob: []byte("c"), request: []byte("r")}
			_, err := ops.ReceiveCredential(context.Background(), rc, []byte("response"))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRemoteOperations_ServerErrorIsNotVerificationFailure(t *testing.T) {
	ops := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	rc := &remoteContext{blob: []byte("c"), request: []byte("r")}

	_, err := ops.ReceiveCredential(context.Background(), rc, []byte("response"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrVerificationFailed)
	assert.NotErrorIs(t, err, ErrInvalidInput)
}

func TestRemoteOperations_MalformedOutputIsNotInvalidInput(t *testing.T) {
	ops := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"context": "%%%",
			"request": b64("request-bytes"),
		})
	})

	_, err := ops.DeserializeRequestContext(context.Background(), []byte("context-bytes"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed context")
	assert.NotErrorIs(t, err, ErrInvalidInput)
	assert.NotErrorIs(t, err, ErrVerificationFailed)
}

func TestRemoteOperations_CredentialAndPresentation(t *testing.T) {
	ops := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/v1/receipts/credential":
			assert.Equal(t, b64("c"), body["context"])
			assert.Equal(t, b64("response"), body["response"])
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"credential":     b64("credential"),
				"level":          2000,
				"expirationTime": 1700006400,
			})
		case "/v1/receipts/presentation":
			assert.Equal(t, b64("credential"), body["credential"])
			_ = json.NewEncoder(w).Encode(map[string]string{"presentation": b64("presentation")})
		}
	})

	cred, err := ops.ReceiveCredential(context.Background(), &remoteContext{blob: []byte("c"), request: []byte("r")}, []byte("response"))
	require.NoError(t, err)
	assert.Equal(t, int64(2000), cred.Level())
	assert.Equal(t, int64(1700006400), cred.ExpirationTime())

	p, err := ops.CreatePresentation(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, Presentation("presentation"), p)
}

func TestNewReceiptSerial_ShortReader(t *testing.T) {
	_, err := NewReceiptSerial(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)
}
