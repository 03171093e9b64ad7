package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"khoaugment/internal/config"
	"khoaugment/internal/models"
	"khoaugment/internal/payment"
	"khoaugment/internal/pkg/lock"
	"khoaugment/internal/pkg/testdb"
	"khoaugment/internal/repository"
	"khoaugment/internal/signature"
)

const vnpaySecret = "VNPAYSECRET"

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingOrders records how often the order subsystem was notified.
type countingOrders struct {
	*repository.OrderRepository
	mu     sync.Mutex
	paid   int
	failed int
}

func (c *countingOrders) MarkPaid(ctx context.Context, orderID, intentID string) error {
	c.mu.Lock()
	c.paid++
	c.mu.Unlock()
	return c.OrderRepository.MarkPaid(ctx, orderID, intentID)
}

func (c *countingOrders) MarkPaymentFailed(ctx context.Context, orderID, intentID string) error {
	c.mu.Lock()
	c.failed++
	c.mu.Unlock()
	return c.OrderRepository.MarkPaymentFailed(ctx, orderID, intentID)
}

func (c *countingOrders) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paid, c.failed
}

type countingRecorder struct {
	mu          sync.Mutex
	transitions map[string]int
	anomalies   map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{transitions: map[string]int{}, anomalies: map[string]int{}}
}

func (r *countingRecorder) Transition(from, to models.IntentStatus, cause models.LedgerCause) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions[string(from)+">"+string(to)]++
}

func (r *countingRecorder) Anomaly(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anomalies[kind]++
}

func (r *countingRecorder) anomaly(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.anomalies[kind]
}

// stubGateway stands in for an online provider whose status query the test
// controls.
type stubGateway struct {
	name   string
	mu     sync.Mutex
	result models.PaymentResult
	amount int64
	err    error
	polls  int
}

func (g *stubGateway) Name() string { return g.name }

func (g *stubGateway) BuildRedirect(_ context.Context, intent *models.PaymentIntent) (*payment.RedirectResult, error) {
	return &payment.RedirectResult{URL: "https://stub.example/pay/" + intent.ID, ProviderRef: "stub-" + intent.ID}, nil
}

func (g *stubGateway) ParseCallback(context.Context, []byte) *models.PaymentOutcome {
	return &models.PaymentOutcome{Provider: g.name, Result: models.ResultUnknown}
}

func (g *stubGateway) VerifyStatus(_ context.Context, intent *models.PaymentIntent) (*models.PaymentOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls++
	if g.err != nil {
		return nil, g.err
	}
	amount := g.amount
	if amount == 0 {
		amount = intent.Amount
	}
	return &models.PaymentOutcome{
		ProviderRef:       intent.ProviderRef,
		Provider:          g.name,
		ProviderTxnID:     "stub-txn",
		Result:            g.result,
		RawSignatureValid: true,
		AmountConfirmed:   amount,
	}, nil
}

func (g *stubGateway) Ack(payment.AckStatus) interface{} { return nil }

func (g *stubGateway) set(result models.PaymentResult, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.result = result
	g.err = err
}

type fixture struct {
	db       *gorm.DB
	registry *payment.Registry
	orch     *Orchestrator
	orders   *countingOrders
	ledger   *repository.LedgerRepository
	intents  *repository.IntentRepository
	vnpay    *payment.VNPayGateway
	momo     *stubGateway
	clock    *fakeClock
	recorder *countingRecorder
}

func newFixture(t *testing.T, orders ...models.Order) *fixture {
	t.Helper()
	if len(orders) == 0 {
		orders = []models.Order{{ID: "ORD-1", Total: 150000}}
	}
	db := testdb.New(t, orders...)

	vnpay := payment.NewVNPayGateway(config.VNPayConfig{
		TmnCode:     "KHOAUG01",
		HashSecret:  vnpaySecret,
		PayURL:      "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:   "https://pos.example.vn/payment/vnpay/return",
		ClientIP:    "127.0.0.1",
		OrderPrefix: "Thanh toan don hang ",
	}, time.Second, zap.NewNop())
	momo := &stubGateway{name: "momo", result: models.ResultUnknown}

	registry := payment.NewRegistry()
	registry.Register(vnpay, models.MethodVNPay)
	registry.Register(momo, models.MethodMoMo)
	for _, m := range []models.PaymentMethod{models.MethodCash, models.MethodCard, models.MethodBankTransfer} {
		registry.Register(payment.NewManualGateway(m), m)
	}

	clock := &fakeClock{now: t0}
	rec := newCountingRecorder()
	book := &countingOrders{OrderRepository: repository.NewOrderRepository(db)}

	orch := New(db, book, registry, lock.NewMemory(5*time.Second), zap.NewNop(),
		WithIntentTTL(15*time.Minute),
		WithClock(clock.Now),
		WithRecorder(rec),
	)

	return &fixture{
		db:       db,
		registry: registry,
		orch:     orch,
		orders:   book,
		ledger:   repository.NewLedgerRepository(db),
		intents:  repository.NewIntentRepository(db),
		vnpay:    vnpay,
		momo:     momo,
		clock:    clock,
		recorder: rec,
	}
}

// sibling returns a second orchestrator over the same database and order
// book but with its own in-process locker, like a second API replica.
func (f *fixture) sibling() *Orchestrator {
	return New(f.db, f.orders, f.registry, lock.NewMemory(5*time.Second), zap.NewNop(),
		WithIntentTTL(15*time.Minute),
		WithClock(f.clock.Now),
		WithRecorder(f.recorder),
	)
}

// initiated creates and initiates an intent for ORD-1.
func (f *fixture) initiated(t *testing.T, method models.PaymentMethod) *models.PaymentIntent {
	t.Helper()
	intent, err := f.orch.CreateIntent(context.Background(), "ORD-1", 150000, method)
	require.NoError(t, err)
	res, err := f.orch.Initiate(context.Background(), intent.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRedirected, res.Intent.Status)
	return res.Intent
}

// vnpayIPN builds a signed VNPay IPN query string for an initiated intent.
func vnpayIPN(intent *models.PaymentIntent, amount int64, responseCode, secret string) []byte {
	params := map[string]string{
		"vnp_TmnCode":           "KHOAUG01",
		"vnp_TxnRef":            intent.ProviderRef,
		"vnp_Amount":            strconv.FormatInt(amount*100, 10),
		"vnp_OrderInfo":         "Thanh toan don hang " + intent.OrderID,
		"vnp_ResponseCode":      responseCode,
		"vnp_TransactionStatus": responseCode,
		"vnp_TransactionNo":     "14226112",
		"vnp_BankCode":          "NCB",
		"vnp_PayDate":           "20240301170512",
	}
	return []byte(signature.VNPay.Canonical(params) + "&vnp_SecureHash=" + signature.VNPay.Sign(params, secret))
}

func (f *fixture) vnpayOutcome(intent *models.PaymentIntent, amount int64, responseCode string) *models.PaymentOutcome {
	return f.vnpay.ParseCallback(context.Background(), vnpayIPN(intent, amount, responseCode, vnpaySecret))
}
