package entitlements

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/examdesk/examdesk-backend/pkg/db/models"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	"github.com/examdesk/examdesk-backend/pkg/pagination"
)

// Repository handles entitlement persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, grant *models.UserEntitlement) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.UserEntitlement, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.UserEntitlement, error)
	FindActiveByUserAndSubscription(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.UserEntitlement, error)
	ListActiveInWindow(ctx context.Context, params WindowQuery) ([]models.UserEntitlement, error)
	ListByUser(ctx context.Context, params ListQuery) ([]models.UserEntitlement, *pagination.Cursor, error)
	CountActiveBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error)
	MarkRevokeRequestedBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error)
	UpdateValidity(ctx context.Context, id uuid.UUID, validity time.Time) (bool, error)
	ListExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]models.UserEntitlement, error)
	ListRevokeQueued(ctx context.Context, limit int) ([]models.UserEntitlement, error)
	ListExpiredFreeUnreleased(ctx context.Context, asOf time.Time, limit int) ([]models.UserEntitlement, error)
	DeactivateIfActive(ctx context.Context, id uuid.UUID) (bool, error)
	MarkPoolReleased(ctx context.Context, id uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// WindowQuery selects grants live at a point in time. Both window bounds are
// inclusive. Optional filters narrow, never widen.
type WindowQuery struct {
	UserID           uuid.UUID
	At               time.Time
	PaperType        enums.PaperType
	PaperCategory    string
	TestType         *enums.TestType
	EntitlementTypes []enums.EntitlementType
}

// ListQuery configures per-user entitlement listing.
type ListQuery struct {
	UserID     uuid.UUID
	ActiveOnly bool
	Limit      int
	Cursor     *pagination.Cursor
}

// NewRepository returns an entitlement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, grant *models.UserEntitlement) error {
	return r.db.WithContext(ctx).Create(grant).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.UserEntitlement, error) {
	var grant models.UserEntitlement
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&grant).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.UserEntitlement, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var grants []models.UserEntitlement
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repository) FindActiveByUserAndSubscription(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.UserEntitlement, error) {
	var grant models.UserEntitlement
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND subscription_id = ? AND active", userID, subscriptionID).
		First(&grant).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

func (r *repository) ListActiveInWindow(ctx context.Context, params WindowQuery) ([]models.UserEntitlement, error) {
	query := r.db.WithContext(ctx).
		Model(&models.UserEntitlement{}).
		Where("user_id = ? AND active", params.UserID).
		Where("created_date <= ? AND validity >= ?", params.At, params.At).
		Where("paper_type = ?", params.PaperType)

	if params.PaperCategory != "" {
		query = query.Where("paper_category = ?", params.PaperCategory)
	}
	if params.TestType != nil {
		query = query.Where("test_type = ?", *params.TestType)
	}
	if len(params.EntitlementTypes) > 0 {
		query = query.Where("entitlement_type IN ?", params.EntitlementTypes)
	}

	var grants []models.UserEntitlement
	if err := query.Order("created_date ASC, id ASC").Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repository) ListByUser(ctx context.Context, params ListQuery) ([]models.UserEntitlement, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).
		Model(&models.UserEntitlement{}).
		Where("user_id = ?", params.UserID)
	if params.ActiveOnly {
		query = query.Where("active")
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var grants []models.UserEntitlement
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&grants).Error; err != nil {
		return nil, nil, err
	}

	if len(grants) > limit {
		grants = grants[:limit]
		last := grants[limit-1]
		return grants, &pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		}, nil
	}

	return grants, nil, nil
}

func (r *repository) CountActiveBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.UserEntitlement{}).
		Where("subscription_id = ? AND active", subscriptionID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) MarkRevokeRequestedBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.UserEntitlement{}).
		Where("subscription_id = ? AND active AND NOT revoke_requested", subscriptionID).
		Update("revoke_requested", true)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// UpdateValidity moves the end of the validity window, but only while the
// grant is still active. Reports whether a row was touched so callers can
// surface a lost race with the sweep.
func (r *repository) UpdateValidity(ctx context.Context, id uuid.UUID, validity time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.UserEntitlement{}).
		Where("id = ? AND active", id).
		Update("validity", validity)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]models.UserEntitlement, error) {
	var grants []models.UserEntitlement
	if err := r.db.WithContext(ctx).
		Where("active AND validity < ?", asOf).
		Order("validity ASC").
		Limit(limit).
		Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repository) ListRevokeQueued(ctx context.Context, limit int) ([]models.UserEntitlement, error) {
	var grants []models.UserEntitlement
	if err := r.db.WithContext(ctx).
		Where("active AND revoke_requested").
		Order("updated_at ASC").
		Limit(limit).
		Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repository) ListExpiredFreeUnreleased(ctx context.Context, asOf time.Time, limit int) ([]models.UserEntitlement, error) {
	var grants []models.UserEntitlement
	if err := r.db.WithContext(ctx).
		Where("NOT active AND NOT pool_released AND validity < ?", asOf).
		Where("entitlement_type IN ?", enums.FreeEntitlementTypes).
		Order("validity ASC").
		Limit(limit).
		Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}

// DeactivateIfActive flips active to false only when the row is still active,
// so concurrent sweeps and re-runs settle on the same state.
func (r *repository) DeactivateIfActive(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.UserEntitlement{}).
		Where("id = ? AND active", id).
		Update("active", false)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkPoolReleased records that the grant's paper slots went back to the
// catalog pool. Guarded so a re-run never double-releases.
func (r *repository) MarkPoolReleased(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.UserEntitlement{}).
		Where("id = ? AND NOT pool_released", id).
		Update("pool_released", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
