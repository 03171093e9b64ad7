package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"khoaugment/internal/config"
	"khoaugment/internal/metrics"
	"khoaugment/internal/models"
	"khoaugment/internal/orchestrator"
	"khoaugment/internal/payment"
	"khoaugment/internal/pkg/lock"
	"khoaugment/internal/pkg/testdb"
	"khoaugment/internal/repository"
)

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	db := testdb.New(t, models.Order{ID: "ORD-1", Total: 150000})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	registry := payment.NewRegistry()
	registry.Register(payment.NewVNPayGateway(config.VNPayConfig{TmnCode: "KHOAUG01", HashSecret: "VNPAYSECRET"}, time.Second, zap.NewNop()), models.MethodVNPay)
	registry.Register(payment.NewMoMoGateway(config.MoMoConfig{}, time.Second, zap.NewNop()), models.MethodMoMo)
	registry.Register(payment.NewZaloPayGateway(config.ZaloPayConfig{}, time.Second, zap.NewNop()), models.MethodZaloPay)

	orch := orchestrator.New(db, repository.NewOrderRepository(db), registry, lock.NewMemory(time.Second), zap.NewNop(),
		orchestrator.WithRecorder(m))

	e := echo.New()
	Setup(e, Deps{
		Orchestrator:   orch,
		Gateways:       registry,
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         zap.NewNop(),
		APIKey:         "s3cret",
	})
	return e
}

func do(e *echo.Echo, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodPost, "/api/payments", `{"actions":"payments"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, http.MethodPost, "/api/payments", `{"actions":"payments"}`, map[string]string{
		"Token":                "s3cret",
		echo.HeaderContentType: echo.MIMEApplicationJSON,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":true`)

	// Unknown intent is acknowledged and counted.
	rec = do(e, http.MethodGet, "/payment/vnpay/callback?vnp_TxnRef=nope", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"RspCode":"97"`)

	rec = do(e, http.MethodPost, "/payment/zalopay/callback", `{}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"return_code":-1`)

	rec = do(e, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `khoaugment_payment_callbacks_total{provider="vnpay",result="invalid_signature"} 1`)
	assert.Contains(t, rec.Body.String(), `khoaugment_payment_callbacks_total{provider="zalopay",result="invalid_signature"} 1`)
}
