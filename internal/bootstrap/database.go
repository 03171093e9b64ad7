package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"khoaugment/internal/models"
)

// MigrateAndSeed ensures required tables exist and inserts the given orders
// when they are missing.
func MigrateAndSeed(db *gorm.DB, orders ...models.Order) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	if len(orders) == 0 {
		return nil
	}
	if err := seedOrders(db, orders); err != nil {
		return fmt.Errorf("seed orders failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		&models.PaymentIntent{},
		&models.LedgerEntry{},
		// Owned by the order subsystem; migrated here for standalone deployments.
		&models.Order{},
	}
}

func seedOrders(db *gorm.DB, orders []models.Order) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for i := range orders {
			o := orders[i]
			if o.PaymentStatus == "" {
				o.PaymentStatus = models.OrderUnpaid
			}
			if err := tx.Where("id = ?", o.ID).FirstOrCreate(&o).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
