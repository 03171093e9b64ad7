package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"khoaugment/internal/models"
)

// LedgerRepository appends and reads ledger entries. Entries are never
// updated or deleted.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *LedgerRepository) WithTx(tx *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: tx}
}

// Append inserts a new entry.
func (r *LedgerRepository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ID != 0 {
		return errors.New("ledger entries are write-once")
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// LatestStatus returns the ToStatus of the last effective entry. ok is false
// when the intent has no effective entries.
func (r *LedgerRepository) LatestStatus(ctx context.Context, intentID string) (models.IntentStatus, bool, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("intent_id = ? AND from_status <> to_status", intentID).
		Order("applied_at DESC, id DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.ToStatus, true, nil
}

// EntriesFor returns the entries of an intent in application order.
func (r *LedgerRepository) EntriesFor(ctx context.Context, intentID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("intent_id = ?", intentID).
		Order("applied_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// EntriesForOrder returns the entries of every intent of an order.
func (r *LedgerRepository) EntriesForOrder(ctx context.Context, orderID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("applied_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// Anomalies returns flagged entries, newest first.
func (r *LedgerRepository) Anomalies(ctx context.Context, limit, page int) ([]models.LedgerEntry, int64, error) {
	var entries []models.LedgerEntry
	var total int64

	db := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("anomaly <> ''")
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	if err := db.Limit(limit).Offset(offset).Order("applied_at DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// CountTransitions counts effective entries of an intent into status to.
func (r *LedgerRepository) CountTransitions(ctx context.Context, intentID string, to models.IntentStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("intent_id = ? AND to_status = ? AND from_status <> to_status", intentID, to).
		Count(&count).Error
	return count, err
}
