package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mordris/ledgerwatch/pkg/errs"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPWithOpts(Opts{BaseURL: srv.URL, RPS: 1000, Burst: 1000})
}

func TestSignSendsBodyAndDecodesSignature(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, signPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req SignRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "PRIV1", req.PrivateKeyPEM)
		assert.Equal(t, "PUB1PUB212.50000000", req.DataToSign)

		_, _ = w.Write([]byte(`{"success":true,"signature":"SIG1"}`))
	})

	resp, err := c.Sign(context.Background(), SignRequest{PrivateKeyPEM: "PRIV1", DataToSign: "PUB1PUB212.50000000"})
	require.NoError(t, err)
	assert.Equal(t, "SIG1", resp.Signature)
	assert.Equal(t, uint64(1), c.Calls())
}

func TestNoContentIsSuccessWithoutData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	resp, err := c.Save(context.Background())
	require.NoError(t, err)
	assert.Empty(t, resp.Message)
}

func TestNon2xxUsesErrorField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":"Insufficient balance"}`))
	})

	_, err := c.AddTransaction(context.Background(), TransactionRequest{Amount: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.TransportError)
	assert.Equal(t, "Insufficient balance", errs.Message(err))
}

func TestNon2xxWithoutJSONBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	})

	_, err := c.Validate(context.Background())
	assert.ErrorIs(t, err, errs.TransportError)
	assert.Equal(t, "HTTP error! status: 502", errs.Message(err))
}

func TestSuccessFalseOn200IsRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"No user transactions to mine."}`))
	})

	_, err := c.Mine(context.Background(), MineRequest{MinerAddressPublicKey: "PUB1"})
	assert.ErrorIs(t, err, errs.Rejected)
	assert.Equal(t, "No user transactions to mine.", errs.Message(err))
}

func TestMalformedBodyIsTransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"balance": "lots"`))
	})

	_, err := c.Balance(context.Background(), "PUB1")
	assert.ErrorIs(t, err, errs.TransportError)
}

func TestBalanceEncodesKeyQuery(t *testing.T) {
	key := "-----BEGIN PUBLIC KEY-----\nMFkw+/==\n-----END PUBLIC KEY-----"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, balancePath, r.URL.Path)
		assert.Equal(t, key, r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"success":true,"public_key":"x","balance":42.125}`))
	})

	resp, err := c.Balance(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 42.125, resp.Balance)
}

func TestDirectoryBareArray(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"Alice Alpha","public_key_pem":"PK-A","balance":1000}]`))
	})

	entries, err := c.Directory(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Alice Alpha", entries[0].Name)
}

func TestCircuitOpensAfterServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	c := NewHTTPWithOpts(Opts{BaseURL: srv.URL, RPS: 1000, Burst: 1000, BreakerFailures: 2})

	for i := 0; i < 2; i++ {
		_, err := c.Validate(context.Background())
		require.Error(t, err)
	}
	_, err := c.Validate(context.Background())
	require.ErrorIs(t, err, errs.TransportError)
	assert.Contains(t, errs.Message(err), "circuit open")
	assert.Equal(t, uint64(2), c.Calls(), "open circuit fails without a request")
}

func TestNoEndpointConfigured(t *testing.T) {
	c := NewHTTPWithOpts(Opts{})
	_, err := c.GenerateKeys(context.Background())
	assert.ErrorIs(t, err, errs.TransportError)
	assert.Zero(t, c.Calls())
}
