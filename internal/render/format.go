// Package render turns snapshots, notices and mining frames into terminal output.
package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mordris/ledgerwatch/pkg/models"
)

const timestampLayout = "2006-01-02 15:04:05"

// FormatHash shortens hash to its first and last n characters.
// Hashes too short to shorten meaningfully are returned as is.
func FormatHash(hash string, n int) string {
	if hash == "" {
		return "Invalid Hash"
	}
	if len(hash) < n*2+3 {
		return hash
	}
	return hash[:n] + "..." + hash[len(hash)-n:]
}

// FormatTimestamp renders seconds since the epoch in loc (time.Local when nil).
func FormatTimestamp(ts float64, loc *time.Location) string {
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return "N/A"
	}
	if loc == nil {
		loc = time.Local
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).In(loc).Format(timestampLayout)
}

// FormatOwnBalance renders the active user's balance.
func FormatOwnBalance(b models.Balance) string {
	if !b.IsNumeric() {
		return b.Sentinel
	}
	return strconv.FormatFloat(b.Value, 'f', 4, 64)
}

// FormatDirectoryBalance renders a directory entry balance.
func FormatDirectoryBalance(b models.Balance) string {
	if !b.IsNumeric() {
		return b.Sentinel
	}
	return fmt.Sprintf("%.2f Coins", b.Value)
}

// FormatCount renders n with thousands separators.
func FormatCount(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// senderLabel renders a transaction sender; system senders stand out.
func senderLabel(tx models.Transaction) string {
	if tx.IsSystem() {
		return strings.ToUpper(tx.SenderPublicKey)
	}
	return FormatHash(tx.SenderPublicKey, 6)
}

func amountLabel(tx models.Transaction) string {
	sign := "-"
	if tx.IsSystem() {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f", sign, tx.Amount)
}
