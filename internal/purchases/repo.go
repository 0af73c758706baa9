package purchases

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/examdesk/examdesk-backend/pkg/db/models"
	dbtypes "github.com/examdesk/examdesk-backend/pkg/db/types"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	"github.com/examdesk/examdesk-backend/pkg/pagination"
)

func dbArray(ids []uuid.UUID) dbtypes.UUIDArray {
	return dbtypes.UUIDArray(ids)
}

// Repository handles purchase record persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.PurchaseRecord) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.PurchaseStatus, entitlementIDs []uuid.UUID) error
	FindConfirmedByUserAndSubscriptions(ctx context.Context, userID uuid.UUID, subscriptionIDs []uuid.UUID) (*models.PurchaseRecord, error)
	ListByUser(ctx context.Context, params ListQuery) ([]models.PurchaseRecord, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

// ListQuery configures purchase history listing.
type ListQuery struct {
	UserID uuid.UUID
	Status *enums.PurchaseStatus
	Limit  int
	Cursor *pagination.Cursor
}

// NewRepository returns a purchase repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.PurchaseRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.PurchaseStatus, entitlementIDs []uuid.UUID) error {
	updates := map[string]any{"status": status}
	if entitlementIDs != nil {
		updates["entitlement_ids"] = dbArray(entitlementIDs)
	}
	return r.db.WithContext(ctx).
		Model(&models.PurchaseRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// FindConfirmedByUserAndSubscriptions matches on the exact subscription set.
// Callers must pass the IDs in the same sorted order records are written with.
func (r *repository) FindConfirmedByUserAndSubscriptions(ctx context.Context, userID uuid.UUID, subscriptionIDs []uuid.UUID) (*models.PurchaseRecord, error) {
	var record models.PurchaseRecord
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND subscription_ids = ?", userID, enums.PurchaseStatusConfirmed, dbArray(subscriptionIDs)).
		Order("created_date DESC").
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListByUser(ctx context.Context, params ListQuery) ([]models.PurchaseRecord, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).
		Model(&models.PurchaseRecord{}).
		Where("user_id = ?", params.UserID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_date, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var records []models.PurchaseRecord
	if err := query.Order("created_date DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&records).Error; err != nil {
		return nil, nil, err
	}

	if len(records) > limit {
		records = records[:limit]
		last := records[limit-1]
		return records, &pagination.Cursor{
			CreatedAt: last.CreatedDate,
			ID:        last.ID,
		}, nil
	}

	return records, nil, nil
}
