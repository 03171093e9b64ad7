package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
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

const vnpayVersion = "2.1.0"

var (
	vnpayQueryRequest = signature.VNPayQuery(
		"vnp_RequestId", "vnp_Version", "vnp_Command", "vnp_TmnCode", "vnp_TxnRef",
		"vnp_TransactionDate", "vnp_CreateDate", "vnp_IpAddr", "vnp_OrderInfo",
	)
	vnpayQueryResponse = signature.VNPayQuery(
		"vnp_ResponseId", "vnp_Command", "vnp_ResponseCode", "vnp_Message", "vnp_TmnCode",
		"vnp_TxnRef", "vnp_Amount", "vnp_BankCode", "vnp_PayDate", "vnp_TransactionNo",
		"vnp_TransactionType", "vnp_TransactionStatus", "vnp_OrderInfo",
		"vnp_PromotionCode", "vnp_PromotionAmount",
	)
)

// VNPayGateway implements the Gateway interface for VNPay.
type VNPayGateway struct {
	cfg    config.VNPayConfig
	client *httpclient.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewVNPayGateway(cfg config.VNPayConfig, timeout time.Duration, logger *zap.Logger) *VNPayGateway {
	if cfg.OrderPrefix == "" {
		cfg.OrderPrefix = "Thanh toan don hang "
	}
	return &VNPayGateway{
		cfg:    cfg,
		client: httpclient.New().WithTimeout(timeout),
		logger: logger.Named("vnpay"),
		now:    time.Now,
	}
}

func (v *VNPayGateway) Name() string {
	return string(models.MethodVNPay)
}

func (v *VNPayGateway) configured() error {
	return requireCredentials(v.Name(),
		[2]string{"VNPAY_TMN_CODE", v.cfg.TmnCode},
		[2]string{"VNPAY_HASH_SECRET", v.cfg.HashSecret},
	)
}

// BuildRedirect signs a pay URL locally; VNPay has no create call.
func (v *VNPayGateway) BuildRedirect(_ context.Context, intent *models.PaymentIntent) (*RedirectResult, error) {
	if err := v.configured(); err != nil {
		return nil, err
	}

	ref := utils.CompactID(intent.ID)
	params := map[string]string{
		"vnp_Version":    vnpayVersion,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    v.cfg.TmnCode,
		"vnp_Amount":     strconv.FormatInt(intent.Amount*100, 10),
		"vnp_CurrCode":   models.CurrencyVND,
		"vnp_TxnRef":     ref,
		"vnp_OrderInfo":  v.cfg.OrderPrefix + intent.OrderID,
		"vnp_OrderType":  "other",
		"vnp_Locale":     "vn",
		"vnp_ReturnUrl":  v.cfg.ReturnURL,
		"vnp_IpAddr":     v.cfg.ClientIP,
		"vnp_CreateDate": utils.FormatCompactTime(intent.CreatedAt),
		"vnp_ExpireDate": utils.FormatCompactTime(intent.ExpiresAt),
	}

	query := signature.VNPay.Canonical(params)
	hash := signature.VNPay.Sign(params, v.cfg.HashSecret)

	return &RedirectResult{
		URL:         v.cfg.PayURL + "?" + query + "&vnp_SecureHash=" + hash,
		ProviderRef: ref,
	}, nil
}

// ParseCallback handles both the IPN and the browser return; raw is the
// query string.
func (v *VNPayGateway) ParseCallback(_ context.Context, raw []byte) *models.PaymentOutcome {
	out := &models.PaymentOutcome{
		Provider:   v.Name(),
		Result:     models.ResultUnknown,
		Cause:      models.CauseCallback,
		ReceivedAt: v.now().UTC(),
	}

	values, err := url.ParseQuery(strings.TrimPrefix(string(raw), "?"))
	if err != nil {
		v.logger.Warn("unparseable callback", zap.Error(err))
		return out
	}

	params := make(map[string]string)
	for k := range values {
		if strings.HasPrefix(k, "vnp_") && k != "vnp_SecureHash" && k != "vnp_SecureHashType" {
			params[k] = values.Get(k)
		}
	}

	v.fill(out, params)
	out.RawSignatureValid = v.cfg.HashSecret != "" &&
		signature.VNPay.Verify(params, values.Get("vnp_SecureHash"), v.cfg.HashSecret)

	if out.ProviderRef == "" {
		out.Result = models.ResultUnknown
		return out
	}
	if params["vnp_ResponseCode"] == "00" && (params["vnp_TransactionStatus"] == "" || params["vnp_TransactionStatus"] == "00") {
		out.Result = models.ResultSuccess
	} else {
		out.Result = models.ResultFailure
	}
	return out
}

// VerifyStatus runs a querydr call against the merchant web API.
func (v *VNPayGateway) VerifyStatus(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentOutcome, error) {
	if err := v.configured(); err != nil {
		return nil, err
	}

	ref := intent.ProviderRef
	if ref == "" {
		ref = utils.CompactID(intent.ID)
	}
	req := map[string]string{
		"vnp_RequestId":       utils.RandomHex(16),
		"vnp_Version":         vnpayVersion,
		"vnp_Command":         "querydr",
		"vnp_TmnCode":         v.cfg.TmnCode,
		"vnp_TxnRef":          ref,
		"vnp_OrderInfo":       v.cfg.OrderPrefix + intent.OrderID,
		"vnp_TransactionDate": utils.FormatCompactTime(intent.CreatedAt),
		"vnp_CreateDate":      utils.FormatCompactTime(v.now()),
		"vnp_IpAddr":          v.cfg.ClientIP,
	}
	req["vnp_SecureHash"] = vnpayQueryRequest.Sign(req, v.cfg.HashSecret)

	body, err := v.client.PostJSON(ctx, v.cfg.APIURL, req)
	if err != nil {
		return nil, fmt.Errorf("vnpay querydr failed: %w", err)
	}

	resp, err := decodeFlat(body)
	if err != nil {
		return nil, fmt.Errorf("vnpay querydr: %w: %v", ErrMalformedResponse, err)
	}

	out := &models.PaymentOutcome{
		Provider:   v.Name(),
		Result:     models.ResultUnknown,
		Cause:      models.CauseVerifyPoll,
		ReceivedAt: v.now().UTC(),
	}
	v.fill(out, resp)
	if out.ProviderRef == "" {
		out.ProviderRef = ref
	}
	if out.IntentID == "" {
		out.IntentID = intent.ID
	}
	out.RawSignatureValid = vnpayQueryResponse.Verify(resp, resp["vnp_SecureHash"], v.cfg.HashSecret)

	if resp["vnp_ResponseCode"] != "00" {
		return out, nil
	}
	switch resp["vnp_TransactionStatus"] {
	case "00":
		out.Result = models.ResultSuccess
	case "01", "07":
		out.Result = models.ResultUnknown
	default:
		out.Result = models.ResultFailure
	}
	return out, nil
}

// Ack renders the IPN reply VNPay expects.
func (v *VNPayGateway) Ack(status AckStatus) interface{} {
	code, msg := "00", "Confirm Success"
	switch status {
	case AckInvalidSignature:
		code, msg = "97", "Invalid Checksum"
	case AckUnknownIntent:
		code, msg = "01", "Order not found"
	case AckAlreadyConfirmed:
		code, msg = "02", "Order already confirmed"
	case AckAmountMismatch:
		code, msg = "04", "Invalid amount"
	case AckRetry:
		code, msg = "99", "Unknown error"
	}
	return map[string]string{"RspCode": code, "Message": msg}
}

func (v *VNPayGateway) fill(out *models.PaymentOutcome, params map[string]string) {
	out.ProviderRef = params["vnp_TxnRef"]
	if id, ok := utils.ExpandID(out.ProviderRef); ok {
		out.IntentID = id
	}
	out.OrderID = strings.TrimPrefix(params["vnp_OrderInfo"], v.cfg.OrderPrefix)
	out.ProviderTxnID = params["vnp_TransactionNo"]
	// vnp_Amount is in hundredths of a dong; a fractional dong never matches.
	out.AmountConfirmed = -1
	if amount := utils.ParseInt64(params["vnp_Amount"], -1); amount >= 0 && amount%100 == 0 {
		out.AmountConfirmed = amount / 100
	}
	out.Code = params["vnp_ResponseCode"]
	out.Message = params["vnp_Message"]
	if out.Message == "" {
		out.Message = params["vnp_TransactionStatus"]
	}
}

// decodeFlat decodes a flat JSON object into strings, keeping numbers in the
// exact form the provider signed them.
func decodeFlat(body []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		out[k] = stringify(val)
	}
	return out, nil
}

// stringify renders a decoded JSON scalar the way the provider signed it.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
