package models

// Reserved senders used by the service for minted funds.
const (
	SenderNetwork           = "network"
	SenderWelcomeFaucet     = "welcome_faucet"
	SenderGenesisAllocation = "GENESIS_ALLOCATION"
)

// IsSystemSender reports whether sender is one of the reserved system senders.
func IsSystemSender(sender string) bool {
	switch sender {
	case SenderNetwork, SenderWelcomeFaucet, SenderGenesisAllocation:
		return true
	}
	return false
}

// Transaction is a transfer as stored in a block or pending pool.
type Transaction struct {
	SenderPublicKey    string  `json:"sender_public_key"`
	RecipientPublicKey string  `json:"recipient_public_key"`
	Amount             float64 `json:"amount"`
	Signature          string  `json:"signature"`
}

// IsSystem reports whether the transaction was minted by the service.
func (tx Transaction) IsSystem() bool {
	return IsSystemSender(tx.SenderPublicKey)
}

// Block is immutable once observed by the client.
type Block struct {
	Index        uint64        `json:"index"`
	Hash         string        `json:"hash"`
	PreviousHash string        `json:"previous_hash"`
	Timestamp    float64       `json:"timestamp"` // seconds since epoch
	Nonce        int64         `json:"nonce"`
	Transactions []Transaction `json:"transactions"`
}

// MinedBlock is the block summary returned by a mining request.
type MinedBlock struct {
	Index     uint64  `json:"index"`
	Hash      string  `json:"hash"`
	Nonce     int64   `json:"nonce"`
	Timestamp float64 `json:"timestamp"`
}

// HashPrefix returns the first n characters of the block hash.
func (b MinedBlock) HashPrefix(n int) string {
	if len(b.Hash) <= n {
		return b.Hash
	}
	return b.Hash[:n]
}

// IsPrefixOf reports whether blocks is a prefix of next, compared by index and hash.
// A false result for a non-empty list means the service replaced its chain.
func IsPrefixOf(blocks, next []Block) bool {
	if len(blocks) > len(next) {
		return false
	}
	for i := range blocks {
		if blocks[i].Index != next[i].Index || blocks[i].Hash != next[i].Hash {
			return false
		}
	}
	return true
}
