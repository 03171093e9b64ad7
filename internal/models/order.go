package models

import "time"

const (
	OrderUnpaid = "unpaid"
	OrderPaid   = "paid"
	OrderFailed = "failed"
)

// Order maps to the `orders` table owned by the order subsystem. The payment
// layer reads Total and writes PaymentStatus/PaidIntentID only.
type Order struct {
	ID            string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Total         int64     `gorm:"column:total;not null" json:"total"`
	PaymentStatus string    `gorm:"column:payment_status;size:32;default:unpaid" json:"payment_status"`
	PaidIntentID  string    `gorm:"column:paid_intent_id;size:36" json:"paid_intent_id,omitempty"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}
