package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"khoaugment/internal/models"
)

// ErrOrderAlreadyPaid is returned when an order was settled by another intent.
var ErrOrderAlreadyPaid = errors.New("order already paid by another intent")

// OrderRepository is the payment layer's view of the orders table.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts an order.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.PaymentStatus == "" {
		order.PaymentStatus = models.OrderUnpaid
	}
	return r.db.WithContext(ctx).Create(order).Error
}

// FindOrder returns an order by ID.
func (r *OrderRepository) FindOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

// MarkPaid records the intent that settled the order. Marking again with the
// same intent is a no-op.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID, intentID string) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status <> ?", orderID, models.OrderPaid).
		Updates(map[string]interface{}{
			"payment_status": models.OrderPaid,
			"paid_intent_id": intentID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	order, err := r.FindOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.PaidIntentID != intentID {
		return ErrOrderAlreadyPaid
	}
	return nil
}

// MarkPaymentFailed flags a failed attempt unless the order is already paid.
func (r *OrderRepository) MarkPaymentFailed(ctx context.Context, orderID, intentID string) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status <> ?", orderID, models.OrderPaid).
		Update("payment_status", models.OrderFailed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindOrder(ctx, orderID); err != nil {
			return err
		}
	}
	return nil
}
