package orchestrator

import (
	"context"
	"time"

	"khoaugment/internal/models"
	"khoaugment/internal/repository"
)

// session is one transaction against one intent. Every status change goes
// through move, which pairs the compare-and-set with its ledger entry.
type session struct {
	ctx     context.Context
	intents *repository.IntentRepository
	ledger  *repository.LedgerRepository
	intent  *models.PaymentIntent
	now     time.Time
	written []models.LedgerEntry
	// result is reported to the caller after commit.
	result error
}

type change struct {
	cause   models.LedgerCause
	anomaly models.Anomaly
	txnID   string
	amount  int64
	note    string
	fields  map[string]interface{}
}

func (s *session) move(to models.IntentStatus, c change) error {
	from := s.intent.Status
	fields := make(map[string]interface{}, len(c.fields)+3)
	for k, v := range c.fields {
		fields[k] = v
	}
	if to.Terminal() {
		fields["active_key"] = nil
		fields["resolved_at"] = s.now
		if c.txnID != "" {
			fields["provider_txn_id"] = c.txnID
		}
	}

	ok, err := s.intents.CompareAndSetStatus(s.ctx, s.intent.ID, from, to, fields)
	if err != nil {
		return err
	}
	if !ok {
		return errConflict
	}

	s.intent.Status = to
	if to.Terminal() {
		resolved := s.now
		s.intent.ActiveKey = nil
		s.intent.ResolvedAt = &resolved
		if c.txnID != "" {
			s.intent.ProviderTxnID = c.txnID
		}
	}
	return s.append(from, to, c)
}

// record writes a non-transition entry.
func (s *session) record(c change) error {
	return s.append(s.intent.Status, s.intent.Status, c)
}

func (s *session) append(from, to models.IntentStatus, c change) error {
	note := c.note
	if r := []rune(note); len(r) > maxNoteLen {
		note = string(r[:maxNoteLen])
	}
	entry := models.LedgerEntry{
		IntentID:      s.intent.ID,
		OrderID:       s.intent.OrderID,
		FromStatus:    from,
		ToStatus:      to,
		Cause:         c.cause,
		Anomaly:       c.anomaly,
		ProviderTxnID: c.txnID,
		Amount:        c.amount,
		Note:          note,
		AppliedAt:     s.now,
	}
	if err := s.ledger.Append(s.ctx, &entry); err != nil {
		return err
	}
	s.written = append(s.written, entry)
	return nil
}
