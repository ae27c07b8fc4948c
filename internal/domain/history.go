package domain

import "time"

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	// ActionPlanned marks dry-run reconciliations that did not touch the tracker.
	ActionPlanned Action = "planned"
)

// ReconciliationRecord is one reconciled test, kept in the history store.
type ReconciliationRecord struct {
	RunID              string
	IssueKey           string
	Summary            string
	Area               string
	Environment        string
	RunLabel           string
	Status             Status
	Action             Action
	Regression         bool
	HistoryCommented   bool
	Fingerprint        string
	FingerprintVersion string
	RecordedAt         time.Time
}

// SyncResult summarises one report pass.
type SyncResult struct {
	Created     int
	Updated     int
	Planned     int
	Commented   int
	Regressions int
	Issues      []IssueRef
}

func (r SyncResult) Total() int { return r.Created + r.Updated + r.Planned }
