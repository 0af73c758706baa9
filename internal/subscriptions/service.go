package subscriptions

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/examdesk/examdesk-backend/internal/entitlements"
	"github.com/examdesk/examdesk-backend/pkg/db/models"
	dbtypes "github.com/examdesk/examdesk-backend/pkg/db/types"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	pkgerrors "github.com/examdesk/examdesk-backend/pkg/errors"
	"github.com/examdesk/examdesk-backend/pkg/logger"
	pkgpagination "github.com/examdesk/examdesk-backend/pkg/pagination"
)

type catalogClient interface {
	VerifyPublished(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	ClaimPapers(ctx context.Context, subscriptionID uuid.UUID, ids []uuid.UUID) error
	ReleasePapers(ctx context.Context, ids []uuid.UUID) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes the offer lifecycle: draft authoring, activation, deactivation.
type Service interface {
	CreateOffer(ctx context.Context, input CreateOfferInput) (*models.Subscription, error)
	UpdateOffer(ctx context.Context, id uuid.UUID, input UpdateOfferInput) (*models.Subscription, error)
	ActivateOffer(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	DeactivateOffer(ctx context.Context, id uuid.UUID, force bool) (*models.Subscription, error)
	GetOffer(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	ListOffers(ctx context.Context, params ListParams) (*ListResult, error)
}

type service struct {
	repo    Repository
	grants  entitlements.Repository
	catalog catalogClient
	tx      txRunner
	logg    *logger.Logger
}

// CreateOfferInput holds the metadata required to draft an offer.
type CreateOfferInput struct {
	Name             string
	Description      string
	PaperType        enums.PaperType
	PaperCategory    string
	PaperSubCategory string
	TestType         enums.TestType
	SubscriptionType enums.SubscriptionType
	PaperIDs         []uuid.UUID
	Price            decimal.Decimal
}

// UpdateOfferInput carries draft-only content edits. Nil fields are left untouched.
type UpdateOfferInput struct {
	Name        *string
	Description *string
	PaperIDs    []uuid.UUID
	Price       *decimal.Decimal
}

// ListParams configures offer listing.
type ListParams struct {
	State         *enums.SubscriptionState
	PaperCategory string
	TestType      *enums.TestType
	Limit         int
	Cursor        string
}

// ListResult is one page of offers plus the cursor for the next page.
type ListResult struct {
	Items  []models.Subscription
	Cursor string
}

// NewService builds the offer lifecycle service.
func NewService(repo Repository, grants entitlements.Repository, catalogClient catalogClient, tx txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if grants == nil {
		return nil, fmt.Errorf("entitlement repository required")
	}
	if catalogClient == nil {
		return nil, fmt.Errorf("catalog client required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    repo,
		grants:  grants,
		catalog: catalogClient,
		tx:      tx,
		logg:    logg,
	}, nil
}

func (s *service) CreateOffer(ctx context.Context, input CreateOfferInput) (*models.Subscription, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if !input.PaperType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid paper type")
	}
	if strings.TrimSpace(input.PaperCategory) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paper_category is required")
	}
	if !input.TestType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid test type")
	}
	if !input.SubscriptionType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription type")
	}
	if input.Price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	if err := validatePaperIDs(input.PaperIDs); err != nil {
		return nil, err
	}

	sub := &models.Subscription{
		Name:             strings.TrimSpace(input.Name),
		Description:      input.Description,
		PaperType:        input.PaperType,
		PaperCategory:    strings.TrimSpace(input.PaperCategory),
		PaperSubCategory: strings.TrimSpace(input.PaperSubCategory),
		TestType:         input.TestType,
		SubscriptionType: input.SubscriptionType,
		PaperIDs:         dbtypes.UUIDArray(input.PaperIDs),
		State:            enums.SubscriptionStateDraft,
		AmendmentNo:      1,
		Price:            input.Price,
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create offer")
	}
	return sub, nil
}

func (s *service) UpdateOffer(ctx context.Context, id uuid.UUID, input UpdateOfferInput) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offer id is required")
	}

	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup offer")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "offer not found")
	}
	if sub.State != enums.SubscriptionStateDraft {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only draft offers can be edited")
	}

	contentChanged := false
	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		if trimmed == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "name must not be empty")
		}
		sub.Name = trimmed
	}
	if input.Description != nil {
		sub.Description = *input.Description
	}
	if input.PaperIDs != nil {
		if err := validatePaperIDs(input.PaperIDs); err != nil {
			return nil, err
		}
		sub.PaperIDs = dbtypes.UUIDArray(input.PaperIDs)
		contentChanged = true
	}
	if input.Price != nil {
		if input.Price.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
		}
		sub.Price = *input.Price
		contentChanged = true
	}

	if contentChanged {
		sub.AmendmentNo++
	}

	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update offer")
	}
	return sub, nil
}

func (s *service) ActivateOffer(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offer id is required")
	}

	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup offer")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "offer not found")
	}
	if !sub.State.CanTransitionTo(enums.SubscriptionStateActive) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot activate offer in state %s", sub.State))
	}
	if len(sub.PaperIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offer must reference at least one paper")
	}

	unpublished, err := s.catalog.VerifyPublished(ctx, sub.PaperIDs)
	if err != nil {
		return nil, err
	}
	if len(unpublished) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offer references unpublished papers").
			WithDetails(map[string]any{"paper_ids": unpublished})
	}

	if err := s.catalog.ClaimPapers(ctx, sub.ID, sub.PaperIDs); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateState(ctx, sub.ID, enums.SubscriptionStateActive); err != nil {
		// Return the claimed papers so the pool does not leak.
		if releaseErr := s.catalog.ReleasePapers(ctx, sub.PaperIDs); releaseErr != nil {
			s.logg.Error(ctx, "releasing papers after failed activation", releaseErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activate offer")
	}

	sub.State = enums.SubscriptionStateActive
	return sub, nil
}

func (s *service) DeactivateOffer(ctx context.Context, id uuid.UUID, force bool) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offer id is required")
	}

	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup offer")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "offer not found")
	}
	if !sub.State.CanTransitionTo(enums.SubscriptionStateInactive) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot deactivate offer in state %s", sub.State))
	}

	if !force {
		liveGrants, err := s.grants.CountActiveBySubscription(ctx, sub.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count live grants")
		}
		if liveGrants > 0 {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "offer still has live grants").
				WithDetails(map[string]any{"active_grants": liveGrants})
		}
		if err := s.repo.UpdateState(ctx, sub.ID, enums.SubscriptionStateInactive); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate offer")
		}
		sub.State = enums.SubscriptionStateInactive
		return sub, nil
	}

	var queued int64
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).UpdateState(ctx, sub.ID, enums.SubscriptionStateInactive); err != nil {
			return err
		}
		n, err := s.grants.WithTx(tx).MarkRevokeRequestedBySubscription(ctx, sub.ID)
		if err != nil {
			return err
		}
		queued = n
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "force deactivate offer")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"subscription_id": sub.ID,
		"queued_grants":   queued,
	}), "queued grant revocations for deactivated offer")

	sub.State = enums.SubscriptionStateInactive
	return sub, nil
}

func (s *service) GetOffer(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offer id is required")
	}
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup offer")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "offer not found")
	}
	return sub, nil
}

func (s *service) ListOffers(ctx context.Context, params ListParams) (*ListResult, error) {
	query := ListQuery{
		State:         params.State,
		PaperCategory: strings.TrimSpace(params.PaperCategory),
		TestType:      params.TestType,
		Limit:         params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pkgpagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list offers")
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

func validatePaperIDs(ids []uuid.UUID) error {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "paper_ids must not contain nil IDs")
		}
		if _, dup := seen[id]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, "paper_ids must not contain duplicates").
				WithDetails(map[string]any{"paper_id": id})
		}
		seen[id] = struct{}{}
	}
	return nil
}
