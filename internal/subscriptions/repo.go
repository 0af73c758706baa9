package subscriptions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/examdesk/examdesk-backend/pkg/db/models"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	"github.com/examdesk/examdesk-backend/pkg/pagination"
)

// Repository handles offer persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	Update(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Subscription, error)
	List(ctx context.Context, params ListQuery) ([]models.Subscription, *pagination.Cursor, error)
	UpdateState(ctx context.Context, id uuid.UUID, state enums.SubscriptionState) error
}

type repository struct {
	db *gorm.DB
}

// ListQuery configures offer list queries.
type ListQuery struct {
	State         *enums.SubscriptionState
	PaperCategory string
	TestType      *enums.TestType
	Limit         int
	Cursor        *pagination.Cursor
}

// NewRepository returns an offer repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) Update(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Subscription, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) List(ctx context.Context, params ListQuery) ([]models.Subscription, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Subscription{})
	if params.State != nil {
		query = query.Where("state = ?", *params.State)
	}
	if params.PaperCategory != "" {
		query = query.Where("paper_category = ?", params.PaperCategory)
	}
	if params.TestType != nil {
		query = query.Where("test_type = ?", *params.TestType)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var subs []models.Subscription
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&subs).Error; err != nil {
		return nil, nil, err
	}

	if len(subs) > limit {
		subs = subs[:limit]
		last := subs[limit-1]
		return subs, &pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		}, nil
	}

	return subs, nil, nil
}

func (r *repository) UpdateState(ctx context.Context, id uuid.UUID, state enums.SubscriptionState) error {
	return r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Update("state", state).Error
}
