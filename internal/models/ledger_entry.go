package models

import "time"

// LedgerCause records what triggered a ledger entry.
type LedgerCause string

const (
	CauseCallback    LedgerCause = "callback"
	CauseVerifyPoll  LedgerCause = "verify-poll"
	CauseExpirySweep LedgerCause = "expiry-sweep"
	CauseManual      LedgerCause = "manual"
)

// Anomaly flags an outcome that could not be applied as-is.
type Anomaly string

const (
	AnomalyNone            Anomaly = ""
	AnomalyAlreadyTerminal Anomaly = "already_terminal"
	AnomalyAmountMismatch  Anomaly = "amount_mismatch"
	AnomalyNotInitiated    Anomaly = "not_initiated"
)

// LedgerEntry maps to the `payment_ledger_entries` table. Rows are written
// once and never updated. An entry whose FromStatus equals ToStatus records
// an outcome that did not change the intent.
type LedgerEntry struct {
	ID            uint64       `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	IntentID      string       `gorm:"column:intent_id;size:36;not null;index:idx_ledger_intent_applied,priority:1" json:"intent_id"`
	OrderID       string       `gorm:"column:order_id;size:64;index" json:"order_id"`
	FromStatus    IntentStatus `gorm:"column:from_status;size:32;not null" json:"from_status"`
	ToStatus      IntentStatus `gorm:"column:to_status;size:32;not null" json:"to_status"`
	Cause         LedgerCause  `gorm:"column:cause;size:32;not null" json:"cause"`
	Anomaly       Anomaly      `gorm:"column:anomaly;size:32;index" json:"anomaly,omitempty"`
	ProviderTxnID string       `gorm:"column:provider_txn_id;size:128" json:"provider_txn_id,omitempty"`
	Amount        int64        `gorm:"column:amount" json:"amount"`
	Note          string       `gorm:"column:note;size:500" json:"note,omitempty"`
	AppliedAt     time.Time    `gorm:"column:applied_at;not null;index:idx_ledger_intent_applied,priority:2" json:"applied_at"`
}

func (LedgerEntry) TableName() string {
	return "payment_ledger_entries"
}

// Effective reports whether the entry changed the intent status.
func (e LedgerEntry) Effective() bool {
	return e.FromStatus != e.ToStatus
}
