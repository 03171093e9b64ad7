package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"khoaugment/internal/models"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(testVNPay(""), models.MethodVNPay)
	r.Register(NewManualGateway(models.MethodCash), models.MethodCash)

	gw, err := r.For(models.MethodVNPay)
	require.NoError(t, err)
	assert.Equal(t, "vnpay", gw.Name())

	_, err = r.For(models.MethodMoMo)
	assert.ErrorIs(t, err, ErrUnsupportedMethod)

	assert.Equal(t, []models.PaymentMethod{models.MethodCash, models.MethodVNPay}, r.Methods())
}

func TestManualGateway(t *testing.T) {
	gw := NewManualGateway(models.MethodBankTransfer)
	intent := testIntent(models.MethodBankTransfer)

	res, err := gw.BuildRedirect(context.Background(), intent)
	require.NoError(t, err)
	assert.Empty(t, res.URL)
	assert.Equal(t, intent.ID, res.ProviderRef)

	assert.Equal(t, models.ResultUnknown, gw.ParseCallback(context.Background(), []byte("anything")).Result)

	out, err := gw.VerifyStatus(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, models.ResultUnknown, out.Result)
}
