package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mordris/ledgerwatch/internal/mining"
	"github.com/mordris/ledgerwatch/pkg/models"
)

const progressWidth = 20

// Console writes the dashboard, chain, directory, notices and mining progress
// to a terminal. Safe for concurrent use; each call writes one whole section.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	loc *time.Location

	// Chain toggles the block list; off gives compact output.
	Chain bool
}

// NewConsole creates a Console writing to out with timestamps in loc (nil for local time).
func NewConsole(out io.Writer, loc *time.Location) *Console {
	return &Console{out: out, loc: loc, Chain: true}
}

func (c *Console) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, s)
}

// ShowLedger renders the status dashboard and, if enabled, the chain.
func (c *Console) ShowLedger(s *models.Snapshot) {
	var b strings.Builder
	WriteDashboard(&b, s.Status)
	if c.Chain {
		WriteChain(&b, s.Blocks, c.loc)
	}
	c.write(b.String())
}

// ShowAccounts renders the directory and the active user's balance.
func (c *Console) ShowAccounts(s *models.Snapshot) {
	var b strings.Builder
	WriteDirectory(&b, s.Directory)
	fmt.Fprintf(&b, "Your balance: %s\n", FormatOwnBalance(s.OwnBalance))
	c.write(b.String())
}

// Notify prints a notice; errors are prefixed.
func (c *Console) Notify(message string, isError bool) {
	if isError {
		c.write("[error] " + message + "\n")
		return
	}
	c.write("[ok] " + message + "\n")
}

// ShowProgress redraws the mining progress line in place.
func (c *Console) ShowProgress(f mining.Frame) {
	filled := int(f.Progress / 100 * progressWidth)
	bar := strings.Repeat("#", filled) + strings.Repeat(" ", progressWidth-filled)
	c.write(fmt.Sprintf("\rMining... attempts %s  %.1fs  [%s] %3.0f%%  hash %s",
		FormatCount(f.Attempts), f.Elapsed.Seconds(), bar, f.Progress, f.HashPreview))
}

// Dismiss ends the progress line.
func (c *Console) Dismiss(string) {
	c.write("\n")
}

// WriteDashboard writes the status summary.
func WriteDashboard(w io.Writer, st models.Status) {
	fmt.Fprintf(w, "Blocks: %d | Pending: %d | Difficulty: %d | Reward: %.1f\n",
		st.BlockCount, st.PendingTxCount, st.Difficulty, st.MiningReward)
}

// WriteChain writes blocks newest first.
func WriteChain(w io.Writer, blocks []models.Block, loc *time.Location) {
	if len(blocks) == 0 {
		fmt.Fprintln(w, "Blockchain is empty.")
		return
	}
	for i := len(blocks) - 1; i >= 0; i-- {
		blk := blocks[i]
		fmt.Fprintf(w, "Block #%d  %s\n", blk.Index, FormatHash(blk.Hash, 8))
		fmt.Fprintf(w, "  Prev. Hash: %s\n", FormatHash(blk.PreviousHash, 8))
		fmt.Fprintf(w, "  Timestamp:  %s\n", FormatTimestamp(blk.Timestamp, loc))
		fmt.Fprintf(w, "  Nonce:      %d\n", blk.Nonce)
		fmt.Fprintf(w, "  Transactions (%d):\n", len(blk.Transactions))
		if len(blk.Transactions) == 0 {
			fmt.Fprintln(w, "    No transactions in this block.")
		}
		for _, tx := range blk.Transactions {
			fmt.Fprintf(w, "    From: %s -> To: %s  %s\n",
				senderLabel(tx), FormatHash(tx.RecipientPublicKey, 6), amountLabel(tx))
		}
	}
}

// WriteDirectory writes the user directory, numbered from 1.
func WriteDirectory(w io.Writer, users []models.DirectoryEntry) {
	fmt.Fprintf(w, "%d Users\n", len(users))
	if len(users) == 0 {
		fmt.Fprintln(w, "  No predefined users found.")
		return
	}
	for i, u := range users {
		fmt.Fprintf(w, "  %2d. %-20s %s  %s\n", i+1, u.Name, FormatHash(u.PublicKey, 10), FormatDirectoryBalance(u.Balance))
	}
}
