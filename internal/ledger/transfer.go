package ledger

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/mordris/ledgerwatch/internal/wallet"
	"github.com/mordris/ledgerwatch/pkg/errs"
	"github.com/mordris/ledgerwatch/pkg/models"
)

// Transfer holds the send form as typed by the user.
type Transfer struct {
	Sender    string
	Recipient string
	Amount    string
	Miner     string
}

// Reset clears the per-transfer fields and repopulates the identity-derived ones.
func (t *Transfer) Reset(kp wallet.KeyPair) {
	t.Recipient = ""
	t.Amount = ""
	t.Sender = kp.PublicKey
	if strings.TrimSpace(t.Miner) == "" {
		t.Miner = kp.PublicKey
	}
}

// SigningMessage is the exact byte string the service verifies a transfer against.
func SigningMessage(sender, recipient string, amount float64) string {
	return sender + recipient + strconv.FormatFloat(amount, 'f', 8, 64)
}

// SubmitTransfer signs the transfer in form with kp's private key and submits it.
//
// Submission only happens when signing produced a signature. On success the
// form is reset and the service message is returned.
func (c *Client) SubmitTransfer(ctx context.Context, kp wallet.KeyPair, form *Transfer) (string, error) {
	if !kp.Valid() {
		err := errs.New(errs.NotAuthenticated, "submit-transfer",
			"Please generate/load your keys first to send a transaction.")
		c.report("", err)
		return "", err
	}

	amount, perr := strconv.ParseFloat(strings.TrimSpace(form.Amount), 64)
	if strings.TrimSpace(form.Recipient) == "" || perr != nil || !(amount > 0) || math.IsInf(amount, 0) {
		err := errs.New(errs.InvalidInput, "submit-transfer",
			"Valid Recipient Public Key (non-empty) and a positive Amount are required.")
		c.report("", err)
		return "", err
	}

	signature, err := c.Sign(ctx, kp, SigningMessage(kp.PublicKey, form.Recipient, amount))
	if err != nil {
		return "", err
	}

	msg, err := c.AddTransaction(ctx, models.Transaction{
		SenderPublicKey:    kp.PublicKey,
		RecipientPublicKey: form.Recipient,
		Amount:             amount,
		Signature:          signature,
	})
	if err != nil {
		return "", err
	}

	if msg == "" {
		msg = "Transaction added to pending pool!"
	}
	c.notifier.Notify(msg, false)
	form.Reset(kp)
	return msg, nil
}
