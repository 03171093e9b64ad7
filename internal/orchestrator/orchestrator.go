// Package orchestrator owns the payment intent state machine. Provider
// callbacks, status polls, operator actions and the expiry sweep all converge
// here and are applied at most once per intent.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"khoaugment/internal/models"
	"khoaugment/internal/payment"
	"khoaugment/internal/pkg/lock"
	"khoaugment/internal/pkg/utils"
	"khoaugment/internal/repository"
)

const (
	maxCASAttempts = 3
	sweepBatch     = 200
	maxNoteLen     = 500
)

// OrderBook is the order subsystem as seen by the payment layer.
type OrderBook interface {
	FindOrder(ctx context.Context, id string) (*models.Order, error)
	MarkPaid(ctx context.Context, orderID, intentID string) error
	MarkPaymentFailed(ctx context.Context, orderID, intentID string) error
}

// Recorder receives state machine events, typically for metrics.
type Recorder interface {
	Transition(from, to models.IntentStatus, cause models.LedgerCause)
	Anomaly(kind string)
}

type nopRecorder struct{}

func (nopRecorder) Transition(models.IntentStatus, models.IntentStatus, models.LedgerCause) {}
func (nopRecorder) Anomaly(string)                                                          {}

type Option func(*Orchestrator)

// WithIntentTTL sets how long an intent stays payable.
func WithIntentTTL(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

type Orchestrator struct {
	db       *gorm.DB
	intents  *repository.IntentRepository
	ledger   *repository.LedgerRepository
	orders   OrderBook
	gateways *payment.Registry
	locker   lock.Locker
	recorder Recorder
	logger   *zap.Logger
	ttl      time.Duration
	now      func() time.Time
}

func New(db *gorm.DB, orders OrderBook, gateways *payment.Registry, locker lock.Locker, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		db:       db,
		intents:  repository.NewIntentRepository(db),
		ledger:   repository.NewLedgerRepository(db),
		orders:   orders,
		gateways: gateways,
		locker:   locker,
		recorder: nopRecorder{},
		logger:   logger.Named("orchestrator"),
		ttl:      15 * time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ApplyResult is the state of an intent after an outcome was applied and the
// ledger entries written for it.
type ApplyResult struct {
	Intent  *models.PaymentIntent `json:"intent"`
	Entries []models.LedgerEntry  `json:"entries,omitempty"`
}

// InitiateResult carries the redirect issued for an intent.
type InitiateResult struct {
	Intent   *models.PaymentIntent   `json:"intent"`
	Redirect *payment.RedirectResult `json:"redirect"`
}

// VerifyResult is the answer to a status check.
type VerifyResult struct {
	Intent  *models.PaymentIntent  `json:"intent"`
	Polled  bool                   `json:"polled"`
	Outcome *models.PaymentOutcome `json:"outcome,omitempty"`
}

// CreateIntent returns the open intent for (orderID, method) or allocates a
// new one. The amount must equal the order total.
func (o *Orchestrator) CreateIntent(ctx context.Context, orderID string, amount int64, method models.PaymentMethod) (*models.PaymentIntent, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("%w: %s", payment.ErrUnsupportedMethod, method)
	}
	if _, err := o.gateways.For(method); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	order, err := o.orders.FindOrder(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order.Total != amount {
		return nil, fmt.Errorf("%w: order %s total %d, requested %d", ErrOrderAmountMismatch, orderID, order.Total, amount)
	}
	if order.PaymentStatus == models.OrderPaid {
		return nil, ErrOrderAlreadyPaid
	}

	key := models.ActiveKeyFor(orderID, method)
	var intent *models.PaymentIntent
	err = o.locked(ctx, "create:"+key, func() error {
		existing, err := o.intents.FindActive(ctx, orderID, method)
		switch {
		case err == nil:
			if o.now().Before(existing.ExpiresAt) && existing.Amount == amount {
				intent = existing
				return nil
			}
			if err := o.retire(ctx, existing); err != nil {
				return err
			}
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		now := o.now().UTC()
		fresh := &models.PaymentIntent{
			ID:        utils.GenerateUUID(),
			OrderID:   orderID,
			Method:    method,
			Amount:    amount,
			Currency:  models.CurrencyVND,
			Status:    models.StatusCreated,
			ActiveKey: &key,
			CreatedAt: now,
			ExpiresAt: now.Add(o.ttl),
		}
		if err := o.intents.Create(ctx, fresh); err != nil {
			// Another process won the unique active key.
			winner, ferr := o.intents.FindActive(ctx, orderID, method)
			if ferr != nil {
				return fmt.Errorf("create intent: %w", err)
			}
			intent = winner
			return nil
		}
		intent = fresh
		o.logger.Info("intent created",
			zap.String("intent_id", fresh.ID),
			zap.String("order_id", orderID),
			zap.String("method", string(method)),
			zap.Int64("amount", amount),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// retire closes an open intent that can no longer be reused: expired when its
// window has passed, cancelled when the order total changed.
func (o *Orchestrator) retire(ctx context.Context, intent *models.PaymentIntent) error {
	now := o.now().UTC()
	return o.locked(ctx, intent.ID, func() error {
		_, err := o.apply(ctx, intent.ID, func(s *session) error {
			if s.intent.Status.Terminal() {
				return nil
			}
			if !now.Before(s.intent.ExpiresAt) {
				return s.move(models.StatusExpired, change{cause: models.CauseExpirySweep, note: "payment window elapsed"})
			}
			return s.move(models.StatusCancelled, change{cause: models.CauseManual, note: "superseded: order total changed"})
		})
		return err
	})
}

// Initiate sends the intent to its provider and stores the redirect. Calling
// it again after success returns the stored redirect.
func (o *Orchestrator) Initiate(ctx context.Context, intentID string) (*InitiateResult, error) {
	var res *InitiateResult
	err := o.locked(ctx, intentID, func() error {
		intent, err := o.intents.FindByID(ctx, intentID)
		if err != nil {
			return o.notFound(err)
		}

		switch {
		case intent.Status.Terminal():
			return ErrAlreadyTerminal
		case intent.Status != models.StatusCreated:
			res = &InitiateResult{Intent: intent, Redirect: storedRedirect(intent)}
			return nil
		case !o.now().Before(intent.ExpiresAt):
			if _, err := o.apply(ctx, intentID, expireStep(o.now().UTC())); err != nil {
				return err
			}
			return ErrIntentExpired
		}

		gw, err := o.gateways.For(intent.Method)
		if err != nil {
			return err
		}
		redirect, err := gw.BuildRedirect(ctx, intent)
		if err != nil {
			if payment.IsConfigError(err) {
				o.logger.Error("gateway not configured", zap.String("intent_id", intentID), zap.Error(err))
				return err
			}
			return fmt.Errorf("initiate %s payment: %w", intent.Method, err)
		}

		s, err := o.apply(ctx, intentID, func(s *session) error {
			if s.intent.Status != models.StatusCreated {
				return errConflict
			}
			err := s.move(models.StatusRedirected, change{
				cause:  models.CauseManual,
				amount: s.intent.Amount,
				note:   "redirect issued",
				fields: map[string]interface{}{
					"provider_ref": redirect.ProviderRef,
					"redirect_url": redirect.URL,
					"qr_payload":   redirect.QRPayload,
				},
			})
			if err != nil {
				return err
			}
			s.intent.ProviderRef = redirect.ProviderRef
			s.intent.RedirectURL = redirect.URL
			s.intent.QRPayload = redirect.QRPayload
			return nil
		})
		if err != nil {
			return err
		}
		res = &InitiateResult{Intent: s.intent, Redirect: redirect}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ApplyOutcome applies a provider-reported outcome. Sentinel errors such as
// ErrAlreadyTerminal and ErrAmountMismatch come with a non-nil result: the
// outcome was recorded, just not as a success.
func (o *Orchestrator) ApplyOutcome(ctx context.Context, out *models.PaymentOutcome) (*ApplyResult, error) {
	if out == nil {
		return nil, ErrUnknownIntent
	}
	log := o.logger.With(
		zap.String("provider", out.Provider),
		zap.String("provider_ref", out.ProviderRef),
		zap.String("result", string(out.Result)),
	)

	if !out.RawSignatureValid {
		log.Warn("rejected outcome with invalid signature", zap.String("intent_id", out.IntentID))
		o.recorder.Anomaly("invalid_signature")
		return nil, ErrSignatureInvalid
	}

	intent, err := o.resolve(ctx, out)
	if err != nil {
		if errors.Is(err, ErrUnknownIntent) {
			log.Warn("outcome for unknown intent", zap.String("intent_id", out.IntentID))
			o.recorder.Anomaly("unknown_intent")
		}
		return nil, err
	}
	log = log.With(zap.String("intent_id", intent.ID), zap.String("order_id", intent.OrderID))

	cause := out.Cause
	if cause == "" {
		cause = models.CauseCallback
	}

	var s *session
	err = o.locked(ctx, intent.ID, func() error {
		var err error
		s, err = o.apply(ctx, intent.ID, func(s *session) error {
			return applyStep(s, out, cause)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	o.notify(ctx, s)
	if s.result != nil {
		log.Warn("outcome recorded as anomaly", zap.Error(s.result), zap.String("status", string(s.intent.Status)))
	}
	return &ApplyResult{Intent: s.intent, Entries: s.written}, s.result
}

func applyStep(s *session, out *models.PaymentOutcome, cause models.LedgerCause) error {
	c := change{
		cause:  cause,
		txnID:  out.ProviderTxnID,
		amount: out.AmountConfirmed,
		note:   outcomeNote(out),
	}

	switch {
	case s.intent.Status.Terminal():
		c.anomaly = models.AnomalyAlreadyTerminal
		s.result = ErrAlreadyTerminal
		return s.record(c)
	case s.intent.Status == models.StatusCreated:
		c.anomaly = models.AnomalyNotInitiated
		s.result = ErrNotInitiated
		return s.record(c)
	}

	// A poll that learns nothing is not evidence the customer reached the provider.
	if out.Result == models.ResultUnknown && cause != models.CauseCallback {
		return nil
	}
	if s.intent.Status == models.StatusRedirected {
		if err := s.move(models.StatusAwaitingCallback, change{cause: cause, amount: out.AmountConfirmed, note: c.note}); err != nil {
			return err
		}
	}

	switch out.Result {
	case models.ResultSuccess:
		if out.AmountConfirmed != s.intent.Amount {
			c.anomaly = models.AnomalyAmountMismatch
			c.note = fmt.Sprintf("confirmed %s, expected %s; %s", utils.FormatNumber(out.AmountConfirmed), utils.FormatNumber(s.intent.Amount), c.note)
			s.result = ErrAmountMismatch
			return s.move(models.StatusFailed, c)
		}
		return s.move(models.StatusSucceeded, c)
	case models.ResultFailure:
		return s.move(models.StatusFailed, c)
	}
	return nil
}

// Cancel abandons a non-terminal intent. A late success callback for it is
// recorded as an anomaly.
func (o *Orchestrator) Cancel(ctx context.Context, intentID, reason string) (*models.PaymentIntent, error) {
	if reason == "" {
		reason = "cancelled by operator"
	}
	var s *session
	err := o.locked(ctx, intentID, func() error {
		var err error
		s, err = o.apply(ctx, intentID, func(s *session) error {
			if s.intent.Status.Terminal() {
				return ErrAlreadyTerminal
			}
			return s.move(models.StatusCancelled, change{cause: models.CauseManual, note: reason})
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.intent, nil
}

// Verify reports the latest intent for the pair, asking the provider first
// when poll is set and the intent is waiting on it.
func (o *Orchestrator) Verify(ctx context.Context, orderID string, method models.PaymentMethod, poll bool) (*VerifyResult, error) {
	intent, err := o.intents.FindLatest(ctx, orderID, method)
	if err != nil {
		return nil, o.notFound(err)
	}

	res := &VerifyResult{Intent: intent}
	if !poll || !pollable(intent) {
		return res, nil
	}

	out, err := o.pollIntent(ctx, intent)
	res.Polled = true
	res.Outcome = out
	if err != nil {
		return res, err
	}

	fresh, err := o.intents.FindByID(ctx, intent.ID)
	if err != nil {
		return res, err
	}
	res.Intent = fresh
	return res, nil
}

func pollable(intent *models.PaymentIntent) bool {
	return intent.Method.Online() &&
		(intent.Status == models.StatusRedirected || intent.Status == models.StatusAwaitingCallback)
}

func (o *Orchestrator) pollIntent(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentOutcome, error) {
	gw, err := o.gateways.For(intent.Method)
	if err != nil {
		return nil, err
	}
	out, err := gw.VerifyStatus(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	out.Cause = models.CauseVerifyPoll
	if out.IntentID == "" {
		out.IntentID = intent.ID
	}

	_, err = o.ApplyOutcome(ctx, out)
	if err == nil || errors.Is(err, ErrAlreadyTerminal) || errors.Is(err, ErrAmountMismatch) {
		return out, nil
	}
	return out, err
}

// SweepExpired expires every open intent whose deadline is at or before now.
func (o *Orchestrator) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	expired := 0
	for {
		batch, err := o.intents.ListExpired(ctx, now, sweepBatch)
		if err != nil {
			return expired, err
		}

		progressed := 0
		for i := range batch {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			id := batch[i].ID
			var s *session
			err := o.locked(ctx, id, func() error {
				var err error
				s, err = o.apply(ctx, id, expireStep(now))
				return err
			})
			if err != nil {
				o.logger.Warn("expire intent failed", zap.String("intent_id", id), zap.Error(err))
				continue
			}
			if len(s.written) > 0 {
				expired++
				progressed++
			}
		}

		if len(batch) < sweepBatch || progressed == 0 {
			return expired, nil
		}
	}
}

func expireStep(now time.Time) func(s *session) error {
	return func(s *session) error {
		if s.intent.Status.Terminal() || now.Before(s.intent.ExpiresAt) {
			return nil
		}
		return s.move(models.StatusExpired, change{cause: models.CauseExpirySweep, note: "payment window elapsed"})
	}
}

// PollPending asks providers about online intents that have waited longer
// than olderThan, covering callbacks that never arrived.
func (o *Orchestrator) PollPending(ctx context.Context, olderThan time.Duration) (int, error) {
	pending, err := o.intents.ListPending(ctx, o.now().Add(-olderThan), 0)
	if err != nil {
		return 0, err
	}

	polled := 0
	for i := range pending {
		if ctx.Err() != nil {
			return polled, ctx.Err()
		}
		intent := &pending[i]
		if !pollable(intent) {
			continue
		}
		if _, err := o.pollIntent(ctx, intent); err != nil {
			o.logger.Warn("poll pending intent failed",
				zap.String("intent_id", intent.ID),
				zap.String("method", string(intent.Method)),
				zap.Error(err),
			)
			continue
		}
		polled++
	}
	return polled, nil
}

// ConfirmManual records an operator-confirmed payment for an offline method.
func (o *Orchestrator) ConfirmManual(ctx context.Context, intentID string, amount int64, note string) (*ApplyResult, error) {
	intent, err := o.intents.FindByID(ctx, intentID)
	if err != nil {
		return nil, o.notFound(err)
	}
	if intent.Method.Online() {
		return nil, ErrNotManual
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if intent.Status == models.StatusCreated {
		if _, err := o.Initiate(ctx, intentID); err != nil {
			return nil, err
		}
	}
	if note == "" {
		note = "confirmed by operator"
	}

	return o.ApplyOutcome(ctx, &models.PaymentOutcome{
		IntentID:          intent.ID,
		ProviderRef:       intent.ID,
		OrderID:           intent.OrderID,
		Provider:          string(intent.Method),
		Result:            models.ResultSuccess,
		RawSignatureValid: true,
		AmountConfirmed:   amount,
		Message:           note,
		Cause:             models.CauseManual,
		ReceivedAt:        o.now().UTC(),
	})
}

// Intent returns an intent by ID.
func (o *Orchestrator) Intent(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	intent, err := o.intents.FindByID(ctx, intentID)
	if err != nil {
		return nil, o.notFound(err)
	}
	return intent, nil
}

// History returns the ledger of an intent.
func (o *Orchestrator) History(ctx context.Context, intentID string) ([]models.LedgerEntry, error) {
	if _, err := o.Intent(ctx, intentID); err != nil {
		return nil, err
	}
	return o.ledger.EntriesFor(ctx, intentID)
}

// OrderHistory returns the ledger of every intent of an order.
func (o *Orchestrator) OrderHistory(ctx context.Context, orderID string) ([]models.LedgerEntry, error) {
	return o.ledger.EntriesForOrder(ctx, orderID)
}

// Anomalies lists flagged ledger entries, newest first.
func (o *Orchestrator) Anomalies(ctx context.Context, limit, page int) ([]models.LedgerEntry, int64, error) {
	return o.ledger.Anomalies(ctx, limit, page)
}

// Intents lists intents with pagination and search.
func (o *Orchestrator) Intents(ctx context.Context, limit, page int, query string) ([]models.PaymentIntent, int64, error) {
	return o.intents.FindAll(ctx, limit, page, query)
}

func (o *Orchestrator) resolve(ctx context.Context, out *models.PaymentOutcome) (*models.PaymentIntent, error) {
	if out.IntentID != "" {
		intent, err := o.intents.FindByID(ctx, out.IntentID)
		if err == nil {
			return matchProvider(intent, out)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	if out.ProviderRef != "" && out.Provider != "" {
		intent, err := o.intents.FindByProviderRef(ctx, models.PaymentMethod(out.Provider), out.ProviderRef)
		if err == nil {
			return intent, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrUnknownIntent
}

func matchProvider(intent *models.PaymentIntent, out *models.PaymentOutcome) (*models.PaymentIntent, error) {
	if out.Provider != "" && out.Provider != string(intent.Method) {
		return nil, ErrUnknownIntent
	}
	return intent, nil
}

// notify tells the order subsystem about terminal transitions made by this
// call. It runs after commit; failures are logged, never rolled back.
func (o *Orchestrator) notify(ctx context.Context, s *session) {
	for _, e := range s.written {
		if !e.Effective() {
			continue
		}
		var err error
		switch e.ToStatus {
		case models.StatusSucceeded:
			err = o.orders.MarkPaid(ctx, e.OrderID, e.IntentID)
		case models.StatusFailed:
			err = o.orders.MarkPaymentFailed(ctx, e.OrderID, e.IntentID)
		default:
			continue
		}

		fields := []zap.Field{
			zap.String("intent_id", e.IntentID),
			zap.String("order_id", e.OrderID),
			zap.String("status", string(e.ToStatus)),
		}
		switch {
		case errors.Is(err, repository.ErrOrderAlreadyPaid):
			o.recorder.Anomaly("order_paid_twice")
			o.logger.Error("order already paid by another intent; refund required", fields...)
		case err != nil:
			o.logger.Error("order notification failed", append(fields, zap.Error(err))...)
		}
	}
}

func (o *Orchestrator) locked(ctx context.Context, key string, fn func() error) error {
	release, err := o.locker.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()
	return fn()
}

// apply runs fn in a transaction against a freshly read intent. A lost
// compare-and-set rolls back and retries from the re-read.
func (o *Orchestrator) apply(ctx context.Context, intentID string, fn func(s *session) error) (*session, error) {
	for attempt := 1; ; attempt++ {
		var s *session
		err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			s = &session{
				ctx:     ctx,
				intents: o.intents.WithTx(tx),
				ledger:  o.ledger.WithTx(tx),
				now:     o.now().UTC(),
			}
			intent, err := s.intents.FindByIDForUpdate(ctx, intentID)
			if err != nil {
				return err
			}
			latest, ok, err := s.ledger.LatestStatus(ctx, intentID)
			if err != nil {
				return err
			}
			if ok && latest != intent.Status {
				o.logger.Error("intent row and ledger disagree",
					zap.String("intent_id", intentID),
					zap.String("row_status", string(intent.Status)),
					zap.String("ledger_status", string(latest)),
				)
				if latest.Terminal() {
					intent.Status = latest
				}
			}
			s.intent = intent
			return fn(s)
		})

		switch {
		case errors.Is(err, errConflict) && attempt < maxCASAttempts:
			continue
		case errors.Is(err, errConflict):
			return nil, ErrConcurrentUpdate
		case err != nil:
			return nil, o.notFound(err)
		}
		o.observe(s.written)
		return s, nil
	}
}

func (o *Orchestrator) observe(entries []models.LedgerEntry) {
	for _, e := range entries {
		fields := []zap.Field{
			zap.String("intent_id", e.IntentID),
			zap.String("order_id", e.OrderID),
			zap.String("from", string(e.FromStatus)),
			zap.String("to", string(e.ToStatus)),
			zap.String("cause", string(e.Cause)),
		}
		if e.Effective() {
			o.recorder.Transition(e.FromStatus, e.ToStatus, e.Cause)
		}
		if e.Anomaly != models.AnomalyNone {
			o.recorder.Anomaly(string(e.Anomaly))
			o.logger.Warn("ledger anomaly", append(fields, zap.String("anomaly", string(e.Anomaly)))...)
			continue
		}
		o.logger.Info("intent transition", fields...)
	}
}

func (o *Orchestrator) notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrIntentNotFound
	}
	return err
}

func storedRedirect(intent *models.PaymentIntent) *payment.RedirectResult {
	return &payment.RedirectResult{
		URL:         intent.RedirectURL,
		QRPayload:   intent.QRPayload,
		ProviderRef: intent.ProviderRef,
	}
}

func outcomeNote(out *models.PaymentOutcome) string {
	switch {
	case out.Code != "" && out.Message != "":
		return out.Code + " " + out.Message
	case out.Code != "":
		return out.Code
	}
	return out.Message
}
