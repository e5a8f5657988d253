// Package ledger is the typed façade over the ledger service REST API.
//
// Every operation validates its inputs first, performs at most one network
// call and returns either a payload or an *errs.Error. Nothing is retried.
package ledger

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mordris/ledgerwatch/internal/notify"
	"github.com/mordris/ledgerwatch/internal/wallet"
	"github.com/mordris/ledgerwatch/pkg/errs"
	"github.com/mordris/ledgerwatch/pkg/models"
	"github.com/mordris/ledgerwatch/pkg/rpc"
)

// Difficulty bounds accepted by the service.
const (
	MinDifficulty = 1
	MaxDifficulty = 6
)

// Transport is the request/response channel used by the façade.
type Transport interface {
	GenerateKeys(ctx context.Context) (rpc.KeyPairResponse, error)
	Directory(ctx context.Context) ([]models.DirectoryEntry, error)
	CreateLedger(ctx context.Context, req rpc.CreateLedgerRequest) (rpc.MessageResponse, error)
	Balance(ctx context.Context, publicKey string) (rpc.BalanceResponse, error)
	Sign(ctx context.Context, req rpc.SignRequest) (rpc.SignResponse, error)
	AddTransaction(ctx context.Context, req rpc.TransactionRequest) (rpc.MessageResponse, error)
	Mine(ctx context.Context, req rpc.MineRequest) (rpc.MineResponse, error)
	Validate(ctx context.Context) (rpc.ValidateResponse, error)
	Save(ctx context.Context) (rpc.MessageResponse, error)
	RequestBonus(ctx context.Context, req rpc.BonusRequest) (rpc.MessageResponse, error)
}

// Client is the ledger façade.
type Client struct {
	transport Transport
	notifier  notify.Notifier
}

// New creates a Client. Failures of user-initiated operations are reported to notifier.
func New(transport Transport, notifier notify.Notifier) *Client {
	if notifier == nil {
		notifier = notify.Log{}
	}
	return &Client{transport: transport, notifier: notifier}
}

// report pushes err to the user-facing channel with a contextual prefix.
func (c *Client) report(prefix string, err error) {
	c.notifier.Notify(prefix+errs.Message(err), true)
}

// GenerateKeys requests a new key pair. Implements wallet.KeySource.
func (c *Client) GenerateKeys(ctx context.Context) (wallet.KeyPair, error) {
	resp, err := c.transport.GenerateKeys(ctx)
	if err != nil {
		return wallet.KeyPair{}, err
	}
	return wallet.KeyPair{PublicKey: resp.PublicKeyPEM, PrivateKey: resp.PrivateKeyPEM}, nil
}

// RequestBonus asks the faucet for the welcome bonus. Implements wallet.KeySource.
func (c *Client) RequestBonus(ctx context.Context, publicKey string) (string, error) {
	if strings.TrimSpace(publicKey) == "" {
		err := errs.New(errs.InvalidInput, "request-bonus", "Recipient public key is required.")
		c.report("Error requesting welcome bonus: ", err)
		return "", err
	}
	resp, err := c.transport.RequestBonus(ctx, rpc.BonusRequest{RecipientPublicKey: publicKey})
	if err != nil {
		c.report("Error requesting welcome bonus: ", err)
		return "", err
	}
	return resp.Message, nil
}

// Directory fetches the named identities and their balances.
func (c *Client) Directory(ctx context.Context) ([]models.DirectoryEntry, error) {
	entries, err := c.transport.Directory(ctx)
	if err != nil {
		slog.Warn("failed to refresh user directory", "err", err)
		return nil, err
	}
	return entries, nil
}

// ParseLedgerParams validates the create-ledger inputs as typed by the user.
func ParseLedgerParams(difficulty, miningReward string) (rpc.CreateLedgerRequest, error) {
	d, err := strconv.Atoi(strings.TrimSpace(difficulty))
	if err != nil || d < MinDifficulty || d > MaxDifficulty {
		return rpc.CreateLedgerRequest{}, errs.New(errs.InvalidInput, "create-ledger",
			"Difficulty must be an integer between 1 and 6.")
	}
	r, err := strconv.ParseFloat(strings.TrimSpace(miningReward), 64)
	if err != nil || !(r > 0) || math.IsInf(r, 0) {
		return rpc.CreateLedgerRequest{}, errs.New(errs.InvalidInput, "create-ledger",
			"Mining reward must be a number greater than 0.")
	}
	return rpc.CreateLedgerRequest{Difficulty: d, MiningReward: r}, nil
}

// CreateLedger replaces the remote ledger. Returns the service message.
func (c *Client) CreateLedger(ctx context.Context, difficulty, miningReward string) (string, error) {
	req, err := ParseLedgerParams(difficulty, miningReward)
	if err != nil {
		c.report("", err)
		return "", err
	}
	resp, err := c.transport.CreateLedger(ctx, req)
	if err != nil {
		msg := errs.Message(err)
		if msg == "" {
			msg = "Failed to create blockchain."
		}
		c.notifier.Notify(msg, true)
		return "", err
	}
	return resp.Message, nil
}

// Balance fetches the balance of publicKey. Failures are returned, not reported:
// callers show a sentinel instead.
func (c *Client) Balance(ctx context.Context, publicKey string) (float64, error) {
	if publicKey == "" {
		return 0, errs.New(errs.InvalidInput, "balance", "Public key is required.")
	}
	resp, err := c.transport.Balance(ctx, publicKey)
	if err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

// Sign asks the remote signer to sign message with the private key of kp.
// The private key leaves the process; this is a demo-only flow.
func (c *Client) Sign(ctx context.Context, kp wallet.KeyPair, message string) (string, error) {
	if !kp.Valid() {
		return "", errs.New(errs.NotAuthenticated, "sign", "Please generate/load your keys first.")
	}
	if message == "" {
		return "", errs.New(errs.InvalidInput, "sign", "Nothing to sign.")
	}
	resp, err := c.transport.Sign(ctx, rpc.SignRequest{PrivateKeyPEM: kp.PrivateKey, DataToSign: message})
	if err == nil && resp.Signature == "" {
		err = errs.New(errs.Rejected, "sign", "Unknown")
	}
	if err != nil {
		c.report("Error signing data: ", err)
		return "", err
	}
	return resp.Signature, nil
}

// AddTransaction submits an already signed transaction to the pending pool.
func (c *Client) AddTransaction(ctx context.Context, tx models.Transaction) (string, error) {
	switch {
	case tx.SenderPublicKey == "":
		return "", errs.New(errs.NotAuthenticated, "add-transaction", "Sender public key is required.")
	case strings.TrimSpace(tx.RecipientPublicKey) == "" || !(tx.Amount > 0) || math.IsInf(tx.Amount, 0):
		return "", errs.New(errs.InvalidInput, "add-transaction",
			"Valid Recipient Public Key (non-empty) and a positive Amount are required.")
	case tx.Signature == "":
		return "", errs.New(errs.InvalidInput, "add-transaction", "Transaction signature is required.")
	}
	resp, err := c.transport.AddTransaction(ctx, rpc.TransactionRequest{
		SenderPublicKey:    tx.SenderPublicKey,
		RecipientPublicKey: tx.RecipientPublicKey,
		Amount:             tx.Amount,
		Signature:          tx.Signature,
	})
	if err != nil {
		c.report("Error adding transaction: ", err)
		return "", err
	}
	return resp.Message, nil
}

// MineResult is the settlement of a mining request.
type MineResult struct {
	Block    *models.MinedBlock
	Message  string
	Duration time.Duration
}

// MineBlock asks the service to mine pending transactions, rewarding minerPublicKey.
func (c *Client) MineBlock(ctx context.Context, minerPublicKey string) (MineResult, error) {
	if strings.TrimSpace(minerPublicKey) == "" {
		return MineResult{}, errs.New(errs.InvalidInput, "mine-block",
			"Miner Reward Address (Public Key) is required and cannot be empty.")
	}
	resp, err := c.transport.Mine(ctx, rpc.MineRequest{MinerAddressPublicKey: minerPublicKey})
	if err != nil {
		c.report("Error mining block: ", err)
		return MineResult{}, err
	}
	return MineResult{
		Block:    resp.Block,
		Message:  resp.Message,
		Duration: time.Duration(resp.MiningDuration * float64(time.Second)),
	}, nil
}

// Validate asks the service whether its chain is valid.
func (c *Client) Validate(ctx context.Context) (bool, error) {
	resp, err := c.transport.Validate(ctx)
	if err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// Save asks the service to persist its chain.
func (c *Client) Save(ctx context.Context) (string, error) {
	resp, err := c.transport.Save(ctx)
	if err != nil {
		c.report("Error saving blockchain: ", err)
		return "", err
	}
	return resp.Message, nil
}
