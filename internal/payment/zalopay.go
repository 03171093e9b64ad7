package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"khoaugment/internal/config"
	"khoaugment/internal/models"
	"khoaugment/internal/pkg/httpclient"
	"khoaugment/internal/pkg/utils"
	"khoaugment/internal/signature"
)

const zaloPayAppUser = "khoaugment_pos"

var (
	zaloPayCreateMac   = signature.ZaloPay("app_id", "app_trans_id", "app_user", "amount", "app_time", "embed_data", "item")
	zaloPayQueryMac    = signature.ZaloPay("app_id", "app_trans_id", "key1")
	zaloPayCallbackMac = signature.ZaloPay("data")
)

type zaloPayEmbed struct {
	RedirectURL string `json:"redirecturl,omitempty"`
	IntentID    string `json:"intent_id"`
	OrderID     string `json:"order_id"`
}

type zaloPayCreateResponse struct {
	ReturnCode       int    `json:"return_code"`
	ReturnMessage    string `json:"return_message"`
	SubReturnCode    int    `json:"sub_return_code"`
	SubReturnMessage string `json:"sub_return_message"`
	OrderURL         string `json:"order_url"`
	ZPTransToken     string `json:"zp_trans_token"`
	QRCode           string `json:"qr_code"`
}

type zaloPayCallback struct {
	Data string `json:"data"`
	Mac  string `json:"mac"`
	Type int    `json:"type"`
}

type zaloPayCallbackData struct {
	AppID      int64  `json:"app_id"`
	AppTransID string `json:"app_trans_id"`
	AppTime    int64  `json:"app_time"`
	AppUser    string `json:"app_user"`
	Amount     int64  `json:"amount"`
	EmbedData  string `json:"embed_data"`
	Item       string `json:"item"`
	ZPTransID  int64  `json:"zp_trans_id"`
	ServerTime int64  `json:"server_time"`
	Channel    int    `json:"channel"`
}

type zaloPayQueryResponse struct {
	ReturnCode       int    `json:"return_code"`
	ReturnMessage    string `json:"return_message"`
	SubReturnCode    int    `json:"sub_return_code"`
	SubReturnMessage string `json:"sub_return_message"`
	IsProcessing     bool   `json:"is_processing"`
	Amount           int64  `json:"amount"`
	ZPTransID        int64  `json:"zp_trans_id"`
}

// ZaloPayGateway implements the Gateway interface for the ZaloPay v2 API.
type ZaloPayGateway struct {
	cfg    config.ZaloPayConfig
	client *httpclient.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewZaloPayGateway(cfg config.ZaloPayConfig, timeout time.Duration, logger *zap.Logger) *ZaloPayGateway {
	return &ZaloPayGateway{
		cfg:    cfg,
		client: httpclient.New().WithTimeout(timeout),
		logger: logger.Named("zalopay"),
		now:    time.Now,
	}
}

func (z *ZaloPayGateway) Name() string {
	return string(models.MethodZaloPay)
}

func (z *ZaloPayGateway) configured() error {
	return requireCredentials(z.Name(),
		[2]string{"ZALOPAY_APP_ID", z.cfg.AppID},
		[2]string{"ZALOPAY_KEY1", z.cfg.Key1},
		[2]string{"ZALOPAY_KEY2", z.cfg.Key2},
	)
}

// AppTransID derives the provider reference: yymmdd_<compact intent id>.
func AppTransID(intent *models.PaymentIntent) string {
	return utils.DatePrefix(intent.CreatedAt) + "_" + utils.CompactID(intent.ID)
}

func (z *ZaloPayGateway) BuildRedirect(ctx context.Context, intent *models.PaymentIntent) (*RedirectResult, error) {
	if err := z.configured(); err != nil {
		return nil, err
	}

	embed, _ := json.Marshal(zaloPayEmbed{
		RedirectURL: z.cfg.RedirectURL,
		IntentID:    intent.ID,
		OrderID:     intent.OrderID,
	})
	ref := AppTransID(intent)
	form := map[string]string{
		"app_id":       z.cfg.AppID,
		"app_trans_id": ref,
		"app_user":     zaloPayAppUser,
		"app_time":     strconv.FormatInt(intent.CreatedAt.UnixMilli(), 10),
		"amount":       strconv.FormatInt(intent.Amount, 10),
		"item":         "[]",
		"embed_data":   string(embed),
		"description":  "KhoAugment - Thanh toan don hang " + intent.OrderID,
		"bank_code":    "",
		"callback_url": z.cfg.CallbackURL,
	}
	form["mac"] = zaloPayCreateMac.Sign(form, z.cfg.Key1)

	resp, err := z.client.PostForm(ctx, z.cfg.Endpoint+"/v2/create", form)
	if err != nil {
		return nil, fmt.Errorf("zalopay create order failed: %w", err)
	}

	var result zaloPayCreateResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("zalopay create: %w: %v", ErrMalformedResponse, err)
	}
	if result.ReturnCode != 1 || result.OrderURL == "" {
		msg := result.ReturnMessage
		if result.SubReturnMessage != "" {
			msg += " / " + result.SubReturnMessage
		}
		return nil, rejected(z.Name(), strconv.Itoa(result.SubReturnCode), msg)
	}

	return &RedirectResult{
		URL:         result.OrderURL,
		QRPayload:   result.QRCode,
		ProviderRef: ref,
	}, nil
}

// ParseCallback handles the {data, mac, type} JSON body. ZaloPay only calls
// back for successful payments.
func (z *ZaloPayGateway) ParseCallback(_ context.Context, raw []byte) *models.PaymentOutcome {
	out := &models.PaymentOutcome{
		Provider:   z.Name(),
		Result:     models.ResultUnknown,
		Cause:      models.CauseCallback,
		ReceivedAt: z.now().UTC(),
	}

	var cb zaloPayCallback
	if err := json.Unmarshal(raw, &cb); err != nil || cb.Data == "" {
		z.logger.Warn("unparseable callback", zap.Error(err))
		return out
	}
	out.RawSignatureValid = z.cfg.Key2 != "" &&
		zaloPayCallbackMac.Verify(map[string]string{"data": cb.Data}, cb.Mac, z.cfg.Key2)

	var data zaloPayCallbackData
	if err := json.Unmarshal([]byte(cb.Data), &data); err != nil {
		z.logger.Warn("unparseable callback data", zap.Error(err))
		out.RawSignatureValid = false
		return out
	}
	if z.cfg.AppID != "" && strconv.FormatInt(data.AppID, 10) != z.cfg.AppID {
		out.RawSignatureValid = false
	}

	out.ProviderRef = data.AppTransID
	out.IntentID = intentFromAppTransID(data.AppTransID)
	var embed zaloPayEmbed
	if err := json.Unmarshal([]byte(data.EmbedData), &embed); err == nil {
		if embed.IntentID != "" {
			out.IntentID = embed.IntentID
		}
		out.OrderID = embed.OrderID
	}
	if data.ZPTransID != 0 {
		out.ProviderTxnID = strconv.FormatInt(data.ZPTransID, 10)
	}
	out.AmountConfirmed = data.Amount
	if out.ProviderRef != "" {
		out.Result = models.ResultSuccess
	}
	return out
}

// VerifyStatus calls /v2/query. The answer arrives on our own signed request.
func (z *ZaloPayGateway) VerifyStatus(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentOutcome, error) {
	if err := z.configured(); err != nil {
		return nil, err
	}

	ref := intent.ProviderRef
	if ref == "" {
		ref = AppTransID(intent)
	}
	fields := map[string]string{
		"app_id":       z.cfg.AppID,
		"app_trans_id": ref,
		"key1":         z.cfg.Key1,
	}
	form := map[string]string{
		"app_id":       z.cfg.AppID,
		"app_trans_id": ref,
		"mac":          zaloPayQueryMac.Sign(fields, z.cfg.Key1),
	}

	resp, err := z.client.PostForm(ctx, z.cfg.Endpoint+"/v2/query", form)
	if err != nil {
		return nil, fmt.Errorf("zalopay query failed: %w", err)
	}
	var result zaloPayQueryResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("zalopay query: %w: %v", ErrMalformedResponse, err)
	}

	out := &models.PaymentOutcome{
		IntentID:          intent.ID,
		ProviderRef:       ref,
		OrderID:           intent.OrderID,
		Provider:          z.Name(),
		Result:            models.ResultUnknown,
		RawSignatureValid: true,
		AmountConfirmed:   result.Amount,
		Code:              strconv.Itoa(result.ReturnCode),
		Message:           result.ReturnMessage,
		Cause:             models.CauseVerifyPoll,
		ReceivedAt:        z.now().UTC(),
	}
	if result.ZPTransID != 0 {
		out.ProviderTxnID = strconv.FormatInt(result.ZPTransID, 10)
	}
	switch result.ReturnCode {
	case 1:
		out.Result = models.ResultSuccess
	case 2:
		out.Result = models.ResultFailure
	}
	return out, nil
}

// Ack renders the callback reply. return_code 0 makes ZaloPay call back again.
func (z *ZaloPayGateway) Ack(status AckStatus) interface{} {
	switch status {
	case AckInvalidSignature:
		return map[string]interface{}{"return_code": -1, "return_message": "mac not equal"}
	case AckRetry:
		return map[string]interface{}{"return_code": 0, "return_message": "retry"}
	}
	return map[string]interface{}{"return_code": 1, "return_message": "success"}
}

func intentFromAppTransID(ref string) string {
	i := strings.IndexByte(ref, '_')
	if i < 0 {
		return ""
	}
	id, ok := utils.ExpandID(ref[i+1:])
	if !ok {
		return ""
	}
	return id
}
