package payment

import (
	"time"

	"go.uber.org/zap"

	"khoaugment/internal/config"
	"khoaugment/internal/models"
)

const testIntentID = "6f1c2a4e-8b3d-4c5e-9f01-23456789abcd"

var testCreated = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func testIntent(method models.PaymentMethod) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:        testIntentID,
		OrderID:   "ORD-1",
		Method:    method,
		Amount:    150000,
		Currency:  models.CurrencyVND,
		Status:    models.StatusCreated,
		CreatedAt: testCreated,
		ExpiresAt: testCreated.Add(15 * time.Minute),
	}
}

func testVNPay(apiURL string) *VNPayGateway {
	return NewVNPayGateway(config.VNPayConfig{
		TmnCode:     "KHOAUG01",
		HashSecret:  "VNPAYSECRET",
		PayURL:      "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		APIURL:      apiURL,
		ReturnURL:   "https://pos.example.vn/payment/vnpay/return",
		ClientIP:    "127.0.0.1",
		OrderPrefix: "Thanh toan don hang ",
	}, 2*time.Second, zap.NewNop())
}

func testMoMo(endpoint string) *MoMoGateway {
	return NewMoMoGateway(config.MoMoConfig{
		PartnerCode: "MOMOKHO01",
		AccessKey:   "momoaccess",
		SecretKey:   "momosecret",
		Endpoint:    endpoint,
		RedirectURL: "https://pos.example.vn/checkout/done",
		IPNURL:      "https://pos.example.vn/payment/momo/callback",
	}, 2*time.Second, zap.NewNop())
}

func testZaloPay(endpoint string) *ZaloPayGateway {
	return NewZaloPayGateway(config.ZaloPayConfig{
		AppID:       "2553",
		Key1:        "zpkey1",
		Key2:        "zpkey2",
		Endpoint:    endpoint,
		RedirectURL: "https://pos.example.vn/checkout/done",
		CallbackURL: "https://pos.example.vn/payment/zalopay/callback",
	}, 2*time.Second, zap.NewNop())
}
