package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"khoaugment/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// IntentRepository handles payment intent database operations.
type IntentRepository struct {
	db *gorm.DB
}

func NewIntentRepository(db *gorm.DB) *IntentRepository {
	return &IntentRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *IntentRepository) WithTx(tx *gorm.DB) *IntentRepository {
	return &IntentRepository{db: tx}
}

// Create inserts a new intent. A duplicate active key fails with the driver's
// unique constraint error.
func (r *IntentRepository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

// FindByID returns an intent by ID.
func (r *IntentRepository) FindByID(ctx context.Context, id string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&intent).Error; err != nil {
		return nil, notFound(err)
	}
	return &intent, nil
}

// FindByIDForUpdate re-reads an intent inside a transaction, holding its row
// lock where the database supports one.
func (r *IntentRepository) FindByIDForUpdate(ctx context.Context, id string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&intent).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &intent, nil
}

// FindByProviderRef returns the intent registered with the provider under ref.
func (r *IntentRepository) FindByProviderRef(ctx context.Context, method models.PaymentMethod, ref string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("provider_ref = ? AND method = ?", ref, method).
		Order("created_at DESC").
		First(&intent).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &intent, nil
}

// FindActive returns the non-terminal intent for the pair.
func (r *IntentRepository) FindActive(ctx context.Context, orderID string, method models.PaymentMethod) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("active_key = ?", models.ActiveKeyFor(orderID, method)).
		First(&intent).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &intent, nil
}

// FindLatest returns the most recently created intent for the pair.
func (r *IntentRepository) FindLatest(ctx context.Context, orderID string, method models.PaymentMethod) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND method = ?", orderID, method).
		Order("created_at DESC").
		First(&intent).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &intent, nil
}

// FindByOrder returns every intent of an order, oldest first.
func (r *IntentRepository) FindByOrder(ctx context.Context, orderID string) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&intents).Error
	return intents, err
}

// CompareAndSetStatus moves the intent from one status to another only if it
// is still in from. It reports whether the row was changed.
func (r *IntentRepository) CompareAndSetStatus(ctx context.Context, id string, from, to models.IntentStatus, updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListExpired returns non-terminal intents whose deadline is at or before now.
func (r *IntentRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error) {
	if limit <= 0 {
		limit = 200
	}
	var intents []models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at <= ?", models.NonTerminalStatuses, now.UTC()).
		Order("expires_at ASC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

// ListPending returns redirected or awaiting intents created before cutoff.
func (r *IntentRepository) ListPending(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	var intents []models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at <= ?",
			[]models.IntentStatus{models.StatusRedirected, models.StatusAwaitingCallback}, cutoff.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

// FindAll returns intents with pagination and search.
func (r *IntentRepository) FindAll(ctx context.Context, limit, page int, query string) ([]models.PaymentIntent, int64, error) {
	var intents []models.PaymentIntent
	var total int64

	db := r.db.WithContext(ctx).Model(&models.PaymentIntent{})

	if query != "" {
		search := "%" + query + "%"
		db = db.Where("order_id LIKE ? OR id LIKE ? OR method LIKE ? OR status LIKE ?",
			search, search, search, search)
	}

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

	if err := db.Limit(limit).Offset(offset).Order("created_at DESC").Find(&intents).Error; err != nil {
		return nil, 0, err
	}
	return intents, total, nil
}
