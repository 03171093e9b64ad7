package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"khoaugment/internal/config"
	"khoaugment/internal/models"
	"khoaugment/internal/pkg/httpclient"
	"khoaugment/internal/pkg/utils"
	"khoaugment/internal/signature"
)

const momoOrderInfoPrefix = "Thanh toan don hang "

var momoIPNFields = []string{
	"accessKey", "amount", "extraData", "message", "orderId", "orderInfo", "orderType",
	"partnerCode", "payType", "requestId", "responseTime", "resultCode", "transId",
}

// momoExtra travels in extraData so callbacks can be tied back without a lookup.
type momoExtra struct {
	IntentID string `json:"intent_id"`
	OrderID  string `json:"order_id"`
}

type momoCreateResponse struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
	PayURL      string `json:"payUrl"`
	Deeplink    string `json:"deeplink"`
	QRCodeURL   string `json:"qrCodeUrl"`
}

// MoMoGateway implements the Gateway interface for the MoMo v2 wallet API.
type MoMoGateway struct {
	cfg    config.MoMoConfig
	client *httpclient.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewMoMoGateway(cfg config.MoMoConfig, timeout time.Duration, logger *zap.Logger) *MoMoGateway {
	return &MoMoGateway{
		cfg:    cfg,
		client: httpclient.New().WithTimeout(timeout),
		logger: logger.Named("momo"),
		now:    time.Now,
	}
}

func (m *MoMoGateway) Name() string {
	return string(models.MethodMoMo)
}

func (m *MoMoGateway) configured() error {
	return requireCredentials(m.Name(),
		[2]string{"MOMO_PARTNER_CODE", m.cfg.PartnerCode},
		[2]string{"MOMO_ACCESS_KEY", m.cfg.AccessKey},
		[2]string{"MOMO_SECRET_KEY", m.cfg.SecretKey},
	)
}

func (m *MoMoGateway) BuildRedirect(ctx context.Context, intent *models.PaymentIntent) (*RedirectResult, error) {
	if err := m.configured(); err != nil {
		return nil, err
	}

	extra, _ := json.Marshal(momoExtra{IntentID: intent.ID, OrderID: intent.OrderID})
	fields := map[string]string{
		"accessKey":   m.cfg.AccessKey,
		"amount":      fmt.Sprintf("%d", intent.Amount),
		"extraData":   base64.StdEncoding.EncodeToString(extra),
		"ipnUrl":      m.cfg.IPNURL,
		"orderId":     intent.ID,
		"orderInfo":   momoOrderInfoPrefix + intent.OrderID,
		"partnerCode": m.cfg.PartnerCode,
		"redirectUrl": m.cfg.RedirectURL,
		"requestId":   utils.GenerateUUID(),
		"requestType": "captureWallet",
	}

	body := map[string]interface{}{
		"partnerCode": fields["partnerCode"],
		"requestId":   fields["requestId"],
		"amount":      intent.Amount,
		"orderId":     fields["orderId"],
		"orderInfo":   fields["orderInfo"],
		"redirectUrl": fields["redirectUrl"],
		"ipnUrl":      fields["ipnUrl"],
		"requestType": fields["requestType"],
		"extraData":   fields["extraData"],
		"lang":        "vi",
		"signature":   signature.MoMo.Sign(fields, m.cfg.SecretKey),
	}

	resp, err := m.client.PostJSON(ctx, m.cfg.Endpoint+"/v2/gateway/api/create", body)
	if err != nil {
		return nil, fmt.Errorf("momo create payment failed: %w", err)
	}

	var result momoCreateResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("momo create: %w: %v", ErrMalformedResponse, err)
	}
	if result.ResultCode != 0 || result.PayURL == "" {
		return nil, rejected(m.Name(), fmt.Sprintf("%d", result.ResultCode), result.Message)
	}

	return &RedirectResult{
		URL:         result.PayURL,
		QRPayload:   result.QRCodeURL,
		ProviderRef: intent.ID,
	}, nil
}

// ParseCallback handles the IPN JSON body.
func (m *MoMoGateway) ParseCallback(_ context.Context, raw []byte) *models.PaymentOutcome {
	out := &models.PaymentOutcome{
		Provider:   m.Name(),
		Result:     models.ResultUnknown,
		Cause:      models.CauseCallback,
		ReceivedAt: m.now().UTC(),
	}

	params, err := decodeFlat(raw)
	if err != nil {
		m.logger.Warn("unparseable callback", zap.Error(err))
		return out
	}

	signed := make(map[string]string, len(momoIPNFields))
	for _, k := range momoIPNFields {
		signed[k] = params[k]
	}
	signed["accessKey"] = m.cfg.AccessKey

	m.fill(out, params)
	out.RawSignatureValid = m.cfg.SecretKey != "" &&
		params["partnerCode"] == m.cfg.PartnerCode &&
		signature.MoMo.Verify(signed, params["signature"], m.cfg.SecretKey)

	if out.ProviderRef != "" {
		out.Result = momoResult(params["resultCode"])
	}
	return out
}

// VerifyStatus calls the transaction status API. The answer arrives on our
// own signed request, so it is trusted once the orderId matches.
func (m *MoMoGateway) VerifyStatus(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentOutcome, error) {
	if err := m.configured(); err != nil {
		return nil, err
	}

	ref := intent.ProviderRef
	if ref == "" {
		ref = intent.ID
	}
	fields := map[string]string{
		"accessKey":   m.cfg.AccessKey,
		"orderId":     ref,
		"partnerCode": m.cfg.PartnerCode,
		"requestId":   utils.GenerateUUID(),
	}
	body := map[string]string{
		"partnerCode": fields["partnerCode"],
		"requestId":   fields["requestId"],
		"orderId":     ref,
		"lang":        "vi",
		"signature":   signature.MoMo.Sign(fields, m.cfg.SecretKey),
	}

	resp, err := m.client.PostJSON(ctx, m.cfg.Endpoint+"/v2/gateway/api/query", body)
	if err != nil {
		return nil, fmt.Errorf("momo query failed: %w", err)
	}
	params, err := decodeFlat(resp)
	if err != nil {
		return nil, fmt.Errorf("momo query: %w: %v", ErrMalformedResponse, err)
	}

	out := &models.PaymentOutcome{
		Provider:   m.Name(),
		Result:     momoResult(params["resultCode"]),
		Cause:      models.CauseVerifyPoll,
		ReceivedAt: m.now().UTC(),
	}
	m.fill(out, params)
	out.IntentID = intent.ID
	out.ProviderRef = ref
	out.RawSignatureValid = params["orderId"] == ref
	if out.OrderID == "" {
		out.OrderID = intent.OrderID
	}
	return out, nil
}

// Ack renders the IPN reply.
func (m *MoMoGateway) Ack(status AckStatus) interface{} {
	switch status {
	case AckInvalidSignature:
		return map[string]interface{}{"resultCode": 97, "message": "invalid signature"}
	case AckRetry:
		return map[string]interface{}{"resultCode": 99, "message": "unknown error"}
	}
	return map[string]interface{}{"resultCode": 0, "message": "success"}
}

func (m *MoMoGateway) fill(out *models.PaymentOutcome, params map[string]string) {
	out.ProviderRef = params["orderId"]
	if id, ok := utils.ExpandID(out.ProviderRef); ok {
		out.IntentID = id
	}
	if extra, ok := decodeMoMoExtra(params["extraData"]); ok {
		if extra.IntentID != "" {
			out.IntentID = extra.IntentID
		}
		out.OrderID = extra.OrderID
	}
	out.ProviderTxnID = params["transId"]
	out.AmountConfirmed = utils.ParseInt64(params["amount"], 0)
	out.Code = params["resultCode"]
	out.Message = params["message"]
}

func decodeMoMoExtra(s string) (momoExtra, bool) {
	var extra momoExtra
	if s == "" {
		return extra, false
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return extra, false
	}
	if err := json.Unmarshal(raw, &extra); err != nil {
		return extra, false
	}
	return extra, true
}

func momoResult(code string) models.PaymentResult {
	switch code {
	case "0", "9000":
		return models.ResultSuccess
	case "", "1000", "7000", "7002":
		return models.ResultUnknown
	default:
		return models.ResultFailure
	}
}
