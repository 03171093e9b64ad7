package models

// APIRequest is the common request structure for all API endpoints.
// Requests are routed by the "actions" field in the JSON body.
type APIRequest struct {
	Actions string `json:"actions"`
}

// APIResponse is the standard response envelope.
type APIResponse struct {
	Status bool        `json:"status"`
	Msg    string      `json:"msg"`
	Obj    interface{} `json:"obj"`
}

// PaginatedResponse wraps list results with pagination info.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// --- Payment API Request Payloads ---

type PayRequest struct {
	Actions string        `json:"actions"`
	OrderID string        `json:"order_id"`
	Amount  int64         `json:"amount"`
	Method  PaymentMethod `json:"method"`
}

type VerifyRequest struct {
	Actions string        `json:"actions"`
	OrderID string        `json:"order_id"`
	Method  PaymentMethod `json:"method"`
	Poll    bool          `json:"poll,omitempty"`
}

type CancelRequest struct {
	Actions  string `json:"actions"`
	IntentID string `json:"intent_id"`
	Reason   string `json:"reason,omitempty"`
}

type ConfirmRequest struct {
	Actions  string `json:"actions"`
	IntentID string `json:"intent_id"`
	Amount   int64  `json:"amount"`
	Note     string `json:"note,omitempty"`
}

type HistoryRequest struct {
	Actions  string `json:"actions"`
	IntentID string `json:"intent_id,omitempty"`
	OrderID  string `json:"order_id,omitempty"`
}

type IntentDetailRequest struct {
	Actions  string `json:"actions"`
	IntentID string `json:"intent_id"`
}

type PaymentsListRequest struct {
	Actions string `json:"actions"`
	Limit   int    `json:"limit,omitempty"`
	Page    int    `json:"page,omitempty"`
	Q       string `json:"q,omitempty"`
}

type AnomaliesListRequest struct {
	Actions string `json:"actions"`
	Limit   int    `json:"limit,omitempty"`
	Page    int    `json:"page,omitempty"`
}
