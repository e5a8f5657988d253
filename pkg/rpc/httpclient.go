package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mordris/ledgerwatch/pkg/errs"
	"github.com/mordris/ledgerwatch/pkg/models"
)

// HTTPClient is a wrapper around an http.Client with circuit-breaker and token-bucket rate limiting.
// It never retries: every call maps to exactly one HTTP request or to an immediate failure.
type HTTPClient struct {
	baseURL string
	client  *http.Client

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time

	// circuit-breaker
	mu          sync.Mutex
	failures    int
	openedUntil time.Time

	breakerThreshold int
	breakerCooldown  time.Duration

	calls atomic.Uint64
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	BaseURL         string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// NewHTTPWithOpts creates a new HTTPClient with the given options.
func NewHTTPWithOpts(o Opts) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		// mining is a single long call on the server side
		o.Timeout = 5 * time.Minute
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	}

	c := &HTTPClient{
		baseURL:          strings.TrimRight(o.BaseURL, "/"),
		client:           client,
		maxTokens:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	c.tokens = c.maxTokens
	c.lastRefill.Store(time.Now())
	return c
}

// Calls returns the number of HTTP requests issued so far.
func (c *HTTPClient) Calls() uint64 {
	return c.calls.Load()
}

func (c *HTTPClient) refill() {
	last := c.lastRefill.Load().(time.Time)
	now := time.Now()
	if now.Sub(last) >= c.refillEvery {
		if atomic.LoadInt64(&c.tokens) < c.maxTokens {
			atomic.AddInt64(&c.tokens, 1)
		}
		c.lastRefill.Store(now)
	}
}

func (c *HTTPClient) acquire(ctx context.Context) error {
	for {
		c.refill()
		if atomic.LoadInt64(&c.tokens) > 0 {
			atomic.AddInt64(&c.tokens, -1)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.refillEvery / 2):
		}
	}
}

func (c *HTTPClient) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openedUntil.IsZero() {
		return false
	}
	if time.Now().After(c.openedUntil) {
		c.openedUntil = time.Time{}
		c.failures = 0
		return false
	}
	return true
}

func (c *HTTPClient) noteFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures >= c.breakerThreshold {
		c.openedUntil = time.Now().Add(c.breakerCooldown)
	}
}

func (c *HTTPClient) noteSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
}

// envelope is the {success, error} pair carried by most service responses.
type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

// doJSON performs one request and decodes the JSON response into out.
//
// A 204 leaves out untouched (success with no data). A non-2xx status or an
// unreadable body is a TransportError. A 2xx body with "success": false is
// reported as Rejected.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, query url.Values, payload any, out any) error {
	if c.baseURL == "" {
		return errs.New(errs.TransportError, path, "no ledger endpoint configured")
	}
	if c.isOpen() {
		return errs.New(errs.TransportError, path, "ledger service unavailable (circuit open)")
	}
	if err := c.acquire(ctx); err != nil {
		return errs.Wrap(errs.TransportError, path, err)
	}

	var body io.Reader = http.NoBody
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return errs.Wrap(errs.InvalidInput, path, fmt.Errorf("encode payload: %w", err))
		}
		body = bytes.NewReader(b)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return errs.Wrap(errs.TransportError, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.calls.Add(1)
	resp, err := c.client.Do(req)
	if err != nil {
		c.noteFailure()
		slog.Error("rpc request failed", "method", method, "path", path, "err", err)
		return errs.Wrap(errs.TransportError, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		c.noteSuccess()
		return nil
	}

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.noteFailure()
		return errs.Wrap(errs.TransportError, path, fmt.Errorf("read body: %w", err))
	}

	slog.Debug("rpc", "method", method, "path", path, "status", resp.StatusCode, "len", len(rawBody))

	if resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			c.noteFailure()
		}
		msg := fmt.Sprintf("HTTP error! status: %d", resp.StatusCode)
		var env envelope
		if json.Unmarshal(rawBody, &env) == nil && env.Error != "" {
			msg = env.Error
		}
		slog.Error("rpc error response", "method", method, "path", path, "status", resp.StatusCode, "err", msg)
		return errs.New(errs.TransportError, path, msg)
	}
	c.noteSuccess()

	trimmed := bytes.TrimSpace(rawBody)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '{' {
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err == nil && env.Success != nil && !*env.Success {
			msg := env.Error
			if msg == "" {
				msg = "Unknown"
			}
			return errs.New(errs.Rejected, path, msg)
		}
	}

	if out != nil {
		if err := json.Unmarshal(trimmed, out); err != nil {
			return errs.Wrap(errs.TransportError, path,
				fmt.Errorf("json unmarshal: %w (body: %s)", err, string(trimmed[:min(200, len(trimmed))])))
		}
	}
	return nil
}

// KeyPairResponse is returned by the key generation endpoint.
type KeyPairResponse struct {
	PrivateKeyPEM string `json:"private_key_pem"`
	PublicKeyPEM  string `json:"public_key_pem"`
}

// GenerateKeys asks the service for a fresh key pair.
func (c *HTTPClient) GenerateKeys(ctx context.Context) (KeyPairResponse, error) {
	var resp KeyPairResponse
	if err := c.doJSON(ctx, http.MethodPost, generateKeysPath, nil, nil, &resp); err != nil {
		return KeyPairResponse{}, err
	}
	return resp, nil
}

// Directory fetches the list of named identities with their balances.
// The endpoint returns a bare JSON array.
func (c *HTTPClient) Directory(ctx context.Context) ([]models.DirectoryEntry, error) {
	var resp []models.DirectoryEntry
	if err := c.doJSON(ctx, http.MethodGet, directoryPath, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateLedgerRequest is the body of the create endpoint.
type CreateLedgerRequest struct {
	Difficulty   int     `json:"difficulty"`
	MiningReward float64 `json:"mining_reward"`
}

// MessageResponse carries the human-readable message of a successful call.
type MessageResponse struct {
	Message string `json:"message"`
}

// CreateLedger replaces the remote ledger with a new one.
func (c *HTTPClient) CreateLedger(ctx context.Context, req CreateLedgerRequest) (MessageResponse, error) {
	var resp MessageResponse
	err := c.doJSON(ctx, http.MethodPost, createLedgerPath, nil, req, &resp)
	return resp, err
}

// BalanceResponse is returned by the balance endpoint.
type BalanceResponse struct {
	PublicKey string  `json:"public_key"`
	Balance   float64 `json:"balance"`
}

// Balance fetches the balance of publicKey.
func (c *HTTPClient) Balance(ctx context.Context, publicKey string) (BalanceResponse, error) {
	var resp BalanceResponse
	q := url.Values{}
	q.Set("key", publicKey)
	err := c.doJSON(ctx, http.MethodGet, balancePath, q, nil, &resp)
	return resp, err
}

// SignRequest sends a private key to the remote signer. Demo-only and insecure.
type SignRequest struct {
	PrivateKeyPEM string `json:"private_key_pem"`
	DataToSign    string `json:"data_to_sign"`
}

// SignResponse carries the produced signature.
type SignResponse struct {
	Signature string `json:"signature"`
}

// Sign asks the service to sign data with the given private key.
func (c *HTTPClient) Sign(ctx context.Context, req SignRequest) (SignResponse, error) {
	var resp SignResponse
	err := c.doJSON(ctx, http.MethodPost, signPath, nil, req, &resp)
	return resp, err
}

// TransactionRequest is the body of the add-transaction endpoint.
type TransactionRequest struct {
	SenderPublicKey    string  `json:"sender_public_key"`
	RecipientPublicKey string  `json:"recipient_public_key"`
	Amount             float64 `json:"amount"`
	Signature          string  `json:"signature"`
}

// AddTransaction submits a signed transaction to the pending pool.
func (c *HTTPClient) AddTransaction(ctx context.Context, req TransactionRequest) (MessageResponse, error) {
	var resp MessageResponse
	err := c.doJSON(ctx, http.MethodPost, addTransactionPath, nil, req, &resp)
	return resp, err
}

// MineRequest is the body of the mine endpoint.
type MineRequest struct {
	MinerAddressPublicKey string `json:"miner_address_public_key"`
}

// MineResponse is returned by the mine endpoint.
type MineResponse struct {
	Message        string             `json:"message"`
	Block          *models.MinedBlock `json:"block"`
	MiningDuration float64            `json:"mining_duration"`
}

// Mine asks the service to mine the pending pool. The call lasts as long as the proof of work.
func (c *HTTPClient) Mine(ctx context.Context, req MineRequest) (MineResponse, error) {
	var resp MineResponse
	err := c.doJSON(ctx, http.MethodPost, minePath, nil, req, &resp)
	return resp, err
}

// ValidateResponse is returned by the validate endpoint.
type ValidateResponse struct {
	Valid bool `json:"valid"`
}

// Validate asks the service to verify its chain.
func (c *HTTPClient) Validate(ctx context.Context) (ValidateResponse, error) {
	var resp ValidateResponse
	err := c.doJSON(ctx, http.MethodGet, validatePath, nil, nil, &resp)
	return resp, err
}

// Save asks the service to persist its chain.
func (c *HTTPClient) Save(ctx context.Context) (MessageResponse, error) {
	var resp MessageResponse
	err := c.doJSON(ctx, http.MethodGet, savePath, nil, nil, &resp)
	return resp, err
}

// BonusRequest is the body of the welcome-bonus endpoint.
type BonusRequest struct {
	RecipientPublicKey string `json:"recipient_public_key"`
}

// RequestBonus asks the faucet to grant the welcome bonus to a new key.
func (c *HTTPClient) RequestBonus(ctx context.Context, req BonusRequest) (MessageResponse, error) {
	var resp MessageResponse
	err := c.doJSON(ctx, http.MethodPost, welcomeBonusPath, nil, req, &resp)
	return resp, err
}
