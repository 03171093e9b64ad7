package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"khoaugment/internal/config"
	"khoaugment/internal/models"
	"khoaugment/internal/orchestrator"
	"khoaugment/internal/payment"
	"khoaugment/internal/signature"
)

const (
	testIntentID = "6f1c2a4e-8b3d-4c5e-9f01-23456789abcd"
	testRef      = "6f1c2a4e8b3d4c5e9f0123456789abcd"
	vnpaySecret  = "VNPAYSECRET"
)

type fakeOrchestrator struct {
	mu      sync.Mutex
	err     error
	applied []*models.PaymentOutcome
	intent  *models.PaymentIntent
}

func (f *fakeOrchestrator) ApplyOutcome(_ context.Context, out *models.PaymentOutcome) (*orchestrator.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, out)
	if !out.RawSignatureValid {
		return nil, orchestrator.ErrSignatureInvalid
	}
	return &orchestrator.ApplyResult{}, f.err
}

func (f *fakeOrchestrator) Intent(_ context.Context, id string) (*models.PaymentIntent, error) {
	if f.intent == nil || f.intent.ID != id {
		return nil, orchestrator.ErrIntentNotFound
	}
	return f.intent, nil
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *fakeRecorder) Callback(provider, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, provider+":"+result)
}

func newTestHandler(orch Orchestrator, rec CallbackRecorder) *PaymentCallbackHandler {
	registry := payment.NewRegistry()
	registry.Register(payment.NewVNPayGateway(config.VNPayConfig{
		TmnCode:    "KHOAUG01",
		HashSecret: vnpaySecret,
	}, time.Second, zap.NewNop()), models.MethodVNPay)
	registry.Register(payment.NewMoMoGateway(config.MoMoConfig{
		PartnerCode: "MOMOKHO01",
		AccessKey:   "momoaccess",
		SecretKey:   "momosecret",
	}, time.Second, zap.NewNop()), models.MethodMoMo)
	registry.Register(payment.NewZaloPayGateway(config.ZaloPayConfig{
		AppID: "2553",
		Key1:  "zpkey1",
		Key2:  "zpkey2",
	}, time.Second, zap.NewNop()), models.MethodZaloPay)
	return NewPaymentCallbackHandler(registry, orch, rec, zap.NewNop())
}

func signedVNPayQuery(secret string) string {
	params := map[string]string{
		"vnp_TmnCode":           "KHOAUG01",
		"vnp_TxnRef":            testRef,
		"vnp_Amount":            "15000000",
		"vnp_OrderInfo":         "Thanh toan don hang ORD-1",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
		"vnp_TransactionNo":     "14226112",
	}
	return signature.VNPay.Canonical(params) + "&vnp_SecureHash=" + signature.VNPay.Sign(params, secret)
}

func serve(t *testing.T, fn echo.HandlerFunc, req *http.Request) map[string]interface{} {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	require.NoError(t, fn(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestVNPayCallbackAckCodes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		secret string
		code   string
		label  string
	}{
		{"applied", nil, vnpaySecret, "00", "ok"},
		{"not initiated", orchestrator.ErrNotInitiated, vnpaySecret, "00", "ok"},
		{"bad signature", nil, "forged", "97", "invalid_signature"},
		{"unknown intent", orchestrator.ErrUnknownIntent, vnpaySecret, "01", "unknown_intent"},
		{"duplicate", orchestrator.ErrAlreadyTerminal, vnpaySecret, "02", "already_confirmed"},
		{"amount", orchestrator.ErrAmountMismatch, vnpaySecret, "04", "amount_mismatch"},
		{"store down", fmt.Errorf("commit: %w", context.DeadlineExceeded), vnpaySecret, "99", "retry"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orch := &fakeOrchestrator{err: tc.err}
			rec := &fakeRecorder{}
			h := newTestHandler(orch, rec)

			req := httptest.NewRequest(http.MethodGet, "/payment/vnpay/callback?"+signedVNPayQuery(tc.secret), nil)
			body := serve(t, h.VNPayCallback, req)

			assert.Equal(t, tc.code, body["RspCode"])
			assert.Equal(t, []string{"vnpay:" + tc.label}, rec.seen)
			require.Len(t, orch.applied, 1)
			assert.Equal(t, testRef, orch.applied[0].ProviderRef)
			assert.Equal(t, testIntentID, orch.applied[0].IntentID)
		})
	}
}

func TestVNPayCallbackAcceptsFormPost(t *testing.T) {
	orch := &fakeOrchestrator{}
	h := newTestHandler(orch, nil)

	req := httptest.NewRequest(http.MethodPost, "/payment/vnpay/callback", strings.NewReader(signedVNPayQuery(vnpaySecret)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	body := serve(t, h.VNPayCallback, req)

	assert.Equal(t, "00", body["RspCode"])
	require.Len(t, orch.applied, 1)
	assert.Equal(t, int64(150000), orch.applied[0].AmountConfirmed)
}

func TestVNPayReturnDoesNotApply(t *testing.T) {
	orch := &fakeOrchestrator{intent: &models.PaymentIntent{ID: testIntentID, Status: models.StatusSucceeded}}
	h := newTestHandler(orch, nil)

	req := httptest.NewRequest(http.MethodGet, "/payment/vnpay/return?"+signedVNPayQuery(vnpaySecret), nil)
	body := serve(t, h.VNPayReturn, req)

	assert.Equal(t, true, body["status"])
	obj := body["obj"].(map[string]interface{})
	assert.Equal(t, "succeeded", obj["status"])
	assert.Equal(t, "ORD-1", obj["order_id"])
	assert.Empty(t, orch.applied)

	req = httptest.NewRequest(http.MethodGet, "/payment/vnpay/return?"+signedVNPayQuery("forged"), nil)
	body = serve(t, h.VNPayReturn, req)
	assert.Equal(t, false, body["status"])
}

func TestMoMoCallbackInvalidSignature(t *testing.T) {
	orch := &fakeOrchestrator{}
	rec := &fakeRecorder{}
	h := newTestHandler(orch, rec)

	payload := `{"partnerCode":"MOMOKHO01","orderId":"` + testIntentID + `","requestId":"r1","amount":150000,"resultCode":0,"signature":"deadbeef"}`
	req := httptest.NewRequest(http.MethodPost, "/payment/momo/callback", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	body := serve(t, h.MoMoCallback, req)

	assert.Equal(t, float64(97), body["resultCode"])
	assert.Equal(t, []string{"momo:invalid_signature"}, rec.seen)
}

func TestZaloPayCallbackGarbage(t *testing.T) {
	orch := &fakeOrchestrator{}
	h := newTestHandler(orch, nil)

	req := httptest.NewRequest(http.MethodPost, "/payment/zalopay/callback", strings.NewReader("not json"))
	body := serve(t, h.ZaloPayCallback, req)

	assert.Equal(t, float64(-1), body["return_code"])
	require.Len(t, orch.applied, 1)
	assert.Equal(t, models.ResultUnknown, orch.applied[0].Result)
}

func TestAckForUnknownError(t *testing.T) {
	assert.Equal(t, payment.AckRetry, ackFor(orchestrator.ErrConcurrentUpdate))
	assert.Equal(t, "retry", ackLabel(payment.AckRetry))
}
