package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"khoaugment/internal/models"
)

func hmacHex(key, data string) string {
	m := hmac.New(sha256.New, []byte(key))
	m.Write([]byte(data))
	return hex.EncodeToString(m.Sum(nil))
}

func TestZaloPayBuildRedirect(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/create", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		_, _ = w.Write([]byte(`{"return_code":1,"return_message":"Giao dịch thành công","order_url":"https://qcgateway.zalopay.vn/openinapp?order=abc","qr_code":"00020101021226520010vn.zalopay"}`))
	}))
	defer srv.Close()

	res, err := testZaloPay(srv.URL).BuildRedirect(context.Background(), testIntent(models.MethodZaloPay))
	require.NoError(t, err)
	assert.Equal(t, "240301_6f1c2a4e8b3d4c5e9f0123456789abcd", res.ProviderRef)
	assert.Equal(t, "https://qcgateway.zalopay.vn/openinapp?order=abc", res.URL)
	assert.Equal(t, "00020101021226520010vn.zalopay", res.QRPayload)

	want := hmacHex("zpkey1", fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		form["app_id"], form["app_trans_id"], form["app_user"], form["amount"], form["app_time"], form["embed_data"], form["item"]))
	assert.Equal(t, want, form["mac"])
	assert.Equal(t, "150000", form["amount"])
	assert.Equal(t, "https://pos.example.vn/payment/zalopay/callback", form["callback_url"])
}

func TestZaloPayBuildRedirectRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"return_code":2,"return_message":"Giao dịch thất bại","sub_return_code":-401,"sub_return_message":"Dữ liệu yêu cầu không hợp lệ"}`))
	}))
	defer srv.Close()

	_, err := testZaloPay(srv.URL).BuildRedirect(context.Background(), testIntent(models.MethodZaloPay))
	assert.ErrorIs(t, err, ErrProviderRejected)
}

func zaloPayCallbackBody(t *testing.T, key2 string, amount int64) []byte {
	t.Helper()
	embed := `{"redirecturl":"https://pos.example.vn/checkout/done","intent_id":"` + testIntentID + `","order_id":"ORD-1"}`
	data, err := json.Marshal(map[string]interface{}{
		"app_id":       2553,
		"app_trans_id": "240301_6f1c2a4e8b3d4c5e9f0123456789abcd",
		"app_time":     testCreated.UnixMilli(),
		"app_user":     "khoaugment_pos",
		"amount":       amount,
		"embed_data":   embed,
		"item":         "[]",
		"zp_trans_id":  240301000000123,
		"server_time":  testCreated.UnixMilli() + 60000,
		"channel":      38,
	})
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"data": string(data),
		"mac":  hmacHex(key2, string(data)),
		"type": 1,
	})
	require.NoError(t, err)
	return body
}

func TestZaloPayCallbackRoundTrip(t *testing.T) {
	gw := testZaloPay("")
	out := gw.ParseCallback(context.Background(), zaloPayCallbackBody(t, "zpkey2", 150000))

	assert.True(t, out.RawSignatureValid)
	assert.Equal(t, models.ResultSuccess, out.Result)
	assert.Equal(t, testIntentID, out.IntentID)
	assert.Equal(t, "ORD-1", out.OrderID)
	assert.Equal(t, int64(150000), out.AmountConfirmed)
	assert.Equal(t, "240301000000123", out.ProviderTxnID)
}

func TestZaloPayCallbackInvalidMac(t *testing.T) {
	gw := testZaloPay("")
	out := gw.ParseCallback(context.Background(), zaloPayCallbackBody(t, "zpkey1", 150000))
	assert.False(t, out.RawSignatureValid)

	out = gw.ParseCallback(context.Background(), []byte(`{"data":"","mac":"","type":1}`))
	assert.False(t, out.RawSignatureValid)
	assert.Equal(t, models.ResultUnknown, out.Result)

	assert.Equal(t, map[string]interface{}{"return_code": -1, "return_message": "mac not equal"}, gw.Ack(AckInvalidSignature))
	assert.Equal(t, map[string]interface{}{"return_code": 1, "return_message": "success"}, gw.Ack(AckAlreadyConfirmed))
}

func TestZaloPayVerifyStatus(t *testing.T) {
	cases := []struct {
		code int
		want models.PaymentResult
	}{
		{1, models.ResultSuccess},
		{2, models.ResultFailure},
		{3, models.ResultUnknown},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v2/query", r.URL.Path)
				require.NoError(t, r.ParseForm())
				ref := r.PostForm.Get("app_trans_id")
				assert.Equal(t, hmacHex("zpkey1", "2553|"+ref+"|zpkey1"), r.PostForm.Get("mac"))
				_, _ = fmt.Fprintf(w, `{"return_code":%d,"return_message":"","is_processing":false,"amount":150000,"zp_trans_id":240301000000123}`, tc.code)
			}))
			defer srv.Close()

			out, err := testZaloPay(srv.URL).VerifyStatus(context.Background(), testIntent(models.MethodZaloPay))
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.Result)
			assert.Equal(t, "240301_6f1c2a4e8b3d4c5e9f0123456789abcd", out.ProviderRef)
			assert.Equal(t, testIntentID, out.IntentID)
			assert.Equal(t, int64(150000), out.AmountConfirmed)
		})
	}
}

func TestIntentFromAppTransID(t *testing.T) {
	assert.Equal(t, testIntentID, intentFromAppTransID("240301_6f1c2a4e8b3d4c5e9f0123456789abcd"))
	assert.Empty(t, intentFromAppTransID("240301"))
	assert.Empty(t, intentFromAppTransID("240301_xyz"))
}
