package purchases

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/examdesk/examdesk-backend/internal/entitlements"
	"github.com/examdesk/examdesk-backend/pkg/db"
	"github.com/examdesk/examdesk-backend/pkg/db/models"
	dbtypes "github.com/examdesk/examdesk-backend/pkg/db/types"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	pkgerrors "github.com/examdesk/examdesk-backend/pkg/errors"
	"github.com/examdesk/examdesk-backend/pkg/logger"
	pkgpagination "github.com/examdesk/examdesk-backend/pkg/pagination"
)

type subscriptionsRepository interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Subscription, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Coordinator converts purchase requests into confirmed records and grants.
type Coordinator interface {
	Subscribe(ctx context.Context, userID uuid.UUID, subscriptionIDs []uuid.UUID) (*SubscribeResult, error)
	ListPurchases(ctx context.Context, params ListParams) (*ListResult, error)
}

type coordinator struct {
	repo     Repository
	grants   entitlements.Repository
	subsRepo subscriptionsRepository
	tx       txRunner
	logg     *logger.Logger
	now      func() time.Time
}

// SubscribeResult reports the purchase outcome. Duplicate means an existing
// grant was returned instead of creating a new one; callers treat it as
// success.
type SubscribeResult struct {
	Record       *models.PurchaseRecord
	Entitlements []models.UserEntitlement
	Duplicate    bool
}

// ListParams configures purchase history listing.
type ListParams struct {
	UserID uuid.UUID
	Status *enums.PurchaseStatus
	Limit  int
	Cursor string
}

// ListResult is one page of purchase records plus the cursor for the next page.
type ListResult struct {
	Items  []models.PurchaseRecord
	Cursor string
}

// NewCoordinator builds the purchase coordinator.
func NewCoordinator(repo Repository, grants entitlements.Repository, subsRepo subscriptionsRepository, tx txRunner, logg *logger.Logger) (Coordinator, error) {
	if repo == nil {
		return nil, fmt.Errorf("purchase repository required")
	}
	if grants == nil {
		return nil, fmt.Errorf("entitlement repository required")
	}
	if subsRepo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &coordinator{
		repo:     repo,
		grants:   grants,
		subsRepo: subsRepo,
		tx:       tx,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// Subscribe grants the user every offer in the batch. The batch is
// all-or-nothing: a bundle must never leave some content granted without a
// completed record covering the rest. Repeat calls for the same batch return
// the existing grant rather than erroring.
func (c *coordinator) Subscribe(ctx context.Context, userID uuid.UUID, subscriptionIDs []uuid.UUID) (*SubscribeResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if len(subscriptionIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one subscription id is required")
	}

	ids, err := normalizeIDs(subscriptionIDs)
	if err != nil {
		return nil, err
	}

	// A confirmed record for the same batch means this purchase already
	// settled; hand back the existing grant while it is still live. Once the
	// sweep has deactivated any of the grants, the batch is purchasable again.
	existing, err := c.repo.FindConfirmedByUserAndSubscriptions(ctx, userID, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup confirmed purchase")
	}
	if existing != nil {
		grants, err := c.grants.FindByIDs(ctx, existing.EntitlementIDs)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load granted entitlements")
		}
		if len(grants) == len(existing.EntitlementIDs) && allActive(grants) {
			return &SubscribeResult{Record: existing, Entitlements: grants, Duplicate: true}, nil
		}
	}

	subs, err := c.subsRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup offers")
	}
	subByID := make(map[uuid.UUID]models.Subscription, len(subs))
	for _, sub := range subs {
		subByID[sub.ID] = sub
	}
	for _, id := range ids {
		sub, ok := subByID[id]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found").
				WithDetails(map[string]any{"subscription_id": id})
		}
		if sub.State != enums.SubscriptionStateActive {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is not purchasable").
				WithDetails(map[string]any{"subscription_id": id, "state": sub.State})
		}
	}

	now := c.now().UTC()
	total := decimal.Zero
	for _, id := range ids {
		total = total.Add(subByID[id].Price)
	}

	// The pending row is written outside the grant transaction so a crash
	// can never leave a confirmed record without its entitlements.
	record := &models.PurchaseRecord{
		UserID:          userID,
		SubscriptionIDs: dbtypes.UUIDArray(ids),
		ActualPrice:     total,
		Status:          enums.PurchaseStatusPending,
		CreatedDate:     now,
	}
	if err := c.repo.Create(ctx, record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create purchase record")
	}

	var created []models.UserEntitlement
	txErr := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		grantsRepo := c.grants.WithTx(tx)
		created = created[:0]
		for _, id := range ids {
			sub := subByID[id]
			subID := sub.ID
			grant := models.UserEntitlement{
				UserID:          userID,
				SubscriptionID:  &subID,
				EntitlementType: entitlementTypeFor(sub),
				PaperType:       sub.PaperType,
				PaperCategory:   sub.PaperCategory,
				TestType:        sub.TestType,
				CreatedDate:     now,
				Validity:        now.Add(sub.SubscriptionType.Duration()),
				Active:          true,
			}
			if err := grantsRepo.Create(ctx, &grant); err != nil {
				return err
			}
			created = append(created, grant)
		}

		entIDs := make([]uuid.UUID, len(created))
		for i, grant := range created {
			entIDs[i] = grant.ID
		}
		return c.repo.WithTx(tx).UpdateStatus(ctx, record.ID, enums.PurchaseStatusConfirmed, entIDs)
	})

	if txErr != nil {
		if markErr := c.repo.UpdateStatus(ctx, record.ID, enums.PurchaseStatusFailed, nil); markErr != nil {
			c.logg.Error(ctx, "marking purchase record failed", markErr)
		}

		if db.IsUniqueViolation(txErr, "uniq_user_entitlements_active_grant") {
			return c.resolveRace(ctx, userID, ids)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, txErr, "grant entitlements")
	}

	record.Status = enums.PurchaseStatusConfirmed
	entIDs := make([]uuid.UUID, len(created))
	for i, grant := range created {
		entIDs[i] = grant.ID
	}
	record.EntitlementIDs = dbtypes.UUIDArray(entIDs)

	return &SubscribeResult{Record: record, Entitlements: created}, nil
}

// resolveRace handles losing the insert race: the unique index on active
// (user, subscription) grants means another call already created the grant.
// The loser returns the winner's entitlements as a successful duplicate.
func (c *coordinator) resolveRace(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (*SubscribeResult, error) {
	var grants []models.UserEntitlement
	for _, id := range ids {
		grant, err := c.grants.FindActiveByUserAndSubscription(ctx, userID, id)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load winning grant")
		}
		if grant == nil {
			// The winning grant vanished between the conflict and this
			// read; the caller should retry.
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "concurrent purchase in flight")
		}
		grants = append(grants, *grant)
	}

	record, err := c.repo.FindConfirmedByUserAndSubscriptions(ctx, userID, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup winning purchase")
	}

	return &SubscribeResult{Record: record, Entitlements: grants, Duplicate: true}, nil
}

func (c *coordinator) ListPurchases(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	query := ListQuery{
		UserID: params.UserID,
		Status: params.Status,
		Limit:  params.Limit,
	}
	if strings.TrimSpace(params.Cursor) != "" {
		cursor, err := pkgpagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := c.repo.ListByUser(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list purchases")
	}

	nextCursor := ""
	if next != nil {
		nextCursor = pkgpagination.EncodeCursor(*next)
	}
	return &ListResult{
		Items:  rows,
		Cursor: nextCursor,
	}, nil
}

func allActive(grants []models.UserEntitlement) bool {
	for _, grant := range grants {
		if !grant.Active {
			return false
		}
	}
	return true
}

func entitlementTypeFor(sub models.Subscription) enums.EntitlementType {
	if sub.Price.IsZero() {
		return enums.EntitlementTypeFreeSubscription
	}
	return enums.EntitlementTypeSubscription
}

// normalizeIDs sorts and rejects duplicates so batch identity is stable
// regardless of request ordering.
func normalizeIDs(ids []uuid.UUID) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].String(), out[j].String()) < 0
	})
	for i, id := range out {
		if id == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription ids must not contain nil IDs")
		}
		if i > 0 && out[i-1] == id {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription ids must not contain duplicates").
				WithDetails(map[string]any{"subscription_id": id})
		}
	}
	return out, nil
}
