package render

import "github.com/mordris/ledgerwatch/pkg/models"

// Target is anything that displays published snapshots.
type Target interface {
	ShowLedger(s *models.Snapshot)
	ShowAccounts(s *models.Snapshot)
}

// Fanout forwards every snapshot to each target in order.
type Fanout []Target

func (f Fanout) ShowLedger(s *models.Snapshot) {
	for _, t := range f {
		t.ShowLedger(s)
	}
}

func (f Fanout) ShowAccounts(s *models.Snapshot) {
	for _, t := range f {
		t.ShowAccounts(s)
	}
}
