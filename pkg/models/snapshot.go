package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sentinel balances shown instead of a number.
const (
	BalanceNoKeys = "N/A (Generate Keys)"
	BalanceError  = "Error"
)

// Status is the ledger summary carried by every push event.
type Status struct {
	BlockCount     int     `json:"blocks"`
	PendingTxCount int     `json:"pending_transactions"`
	Difficulty     int     `json:"difficulty"`
	MiningReward   float64 `json:"mining_reward"`
	Message        string  `json:"message,omitempty"`
}

// Balance is either a numeric balance or a sentinel string such as "Error".
type Balance struct {
	Value    float64
	Sentinel string
}

// NumericBalance returns a Balance holding v.
func NumericBalance(v float64) Balance {
	return Balance{Value: v}
}

// SentinelBalance returns a Balance holding the display text s.
func SentinelBalance(s string) Balance {
	return Balance{Sentinel: s}
}

// IsNumeric reports whether the balance carries a number.
func (b Balance) IsNumeric() bool {
	return b.Sentinel == ""
}

func (b Balance) MarshalJSON() ([]byte, error) {
	if b.Sentinel != "" {
		return json.Marshal(b.Sentinel)
	}
	return json.Marshal(b.Value)
}

func (b *Balance) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*b = Balance{Value: v}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("balance must be a number or a string: %s", string(data))
	}
	*b = Balance{Sentinel: s}
	return nil
}

// DirectoryEntry is a named identity known to the service.
type DirectoryEntry struct {
	Name      string  `json:"name"`
	PublicKey string  `json:"public_key_pem"`
	Balance   Balance `json:"balance"`
}

// Snapshot is the most recently accepted view of the ledger.
// A Snapshot is never modified after it is published; writers build a new one.
type Snapshot struct {
	// Generation counts accepted push events.
	Generation uint64 `json:"generation"`
	// AccountsGeneration is the Generation whose directory refresh produced
	// Directory and OwnBalance.
	AccountsGeneration uint64 `json:"accounts_generation"`

	Status     Status           `json:"status"`
	Blocks     []Block          `json:"blocks"`
	Directory  []DirectoryEntry `json:"directory"`
	OwnBalance Balance          `json:"own_balance"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// WithLedger returns a copy of s with status and blocks replaced.
func (s Snapshot) WithLedger(status Status, blocks []Block) *Snapshot {
	s.Generation++
	s.Status = status
	s.Blocks = blocks
	s.UpdatedAt = time.Now()
	return &s
}

// WithAccounts returns a copy of s with the directory and own balance replaced.
func (s Snapshot) WithAccounts(generation uint64, directory []DirectoryEntry, own Balance) *Snapshot {
	s.AccountsGeneration = generation
	s.Directory = directory
	s.OwnBalance = own
	s.UpdatedAt = time.Now()
	return &s
}
