package adminops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/examdesk/examdesk-backend/internal/entitlements"
	"github.com/examdesk/examdesk-backend/pkg/catalog"
	"github.com/examdesk/examdesk-backend/pkg/db/models"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	pkgerrors "github.com/examdesk/examdesk-backend/pkg/errors"
	"github.com/examdesk/examdesk-backend/pkg/logger"
)

type subscriptionsRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
}

type catalogClient interface {
	ListAvailable(ctx context.Context, query catalog.AvailableQuery) ([]catalog.Paper, error)
	GetPapers(ctx context.Context, ids []uuid.UUID) ([]catalog.Paper, error)
}

// Service exposes administrative grant corrections and offer-authoring queries.
type Service interface {
	ExtendValidity(ctx context.Context, entitlementID uuid.UUID, extension time.Duration) (*models.UserEntitlement, error)
	BulkExtendValidity(ctx context.Context, entitlementIDs []uuid.UUID, extension time.Duration) (*BulkExtendResult, error)
	GetAvailablePapers(ctx context.Context, params AvailablePapersParams) ([]catalog.Paper, error)
}

type service struct {
	grants   entitlements.Repository
	subsRepo subscriptionsRepository
	catalog  catalogClient
	logg     *logger.Logger
}

// BulkExtendResult reports per-item outcomes; the batch never rolls back.
type BulkExtendResult struct {
	Succeeded []uuid.UUID
	Failed    []BulkExtendFailure
}

// BulkExtendFailure names one entitlement that could not be extended.
type BulkExtendFailure struct {
	EntitlementID uuid.UUID
	Reason        string
}

// AvailablePapersParams filters the unclaimed-paper query used while
// authoring offers.
type AvailablePapersParams struct {
	TestType              *enums.TestType
	SubCategory           string
	Search                string
	ExcludeSubscriptionID *uuid.UUID
}

// NewService builds the admin operations service.
func NewService(grants entitlements.Repository, subsRepo subscriptionsRepository, catalogClient catalogClient, logg *logger.Logger) (Service, error) {
	if grants == nil {
		return nil, fmt.Errorf("entitlement repository required")
	}
	if subsRepo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if catalogClient == nil {
		return nil, fmt.Errorf("catalog client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		grants:   grants,
		subsRepo: subsRepo,
		catalog:  catalogClient,
		logg:     logg,
	}, nil
}

func (s *service) ExtendValidity(ctx context.Context, entitlementID uuid.UUID, extension time.Duration) (*models.UserEntitlement, error) {
	if entitlementID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entitlement id is required")
	}
	if extension <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "extension must be positive")
	}

	grant, err := s.grants.FindByID(ctx, entitlementID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup entitlement")
	}
	if grant == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "entitlement not found")
	}
	if !grant.Active {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cannot extend an inactive entitlement")
	}

	newValidity := grant.Validity.Add(extension)
	updated, err := s.grants.UpdateValidity(ctx, grant.ID, newValidity)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "extend validity")
	}
	if !updated {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cannot extend an inactive entitlement")
	}

	grant.Validity = newValidity
	return grant, nil
}

// BulkExtendValidity applies the extension per entitlement and collects
// per-item outcomes. One bad ID must not block correction of the rest.
func (s *service) BulkExtendValidity(ctx context.Context, entitlementIDs []uuid.UUID, extension time.Duration) (*BulkExtendResult, error) {
	if len(entitlementIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one entitlement id is required")
	}
	if extension <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "extension must be positive")
	}

	result := &BulkExtendResult{}
	for _, id := range entitlementIDs {
		if _, err := s.ExtendValidity(ctx, id, extension); err != nil {
			reason := "extension failed"
			if typed := pkgerrors.As(err); typed != nil {
				reason = typed.Message()
			}
			result.Failed = append(result.Failed, BulkExtendFailure{
				EntitlementID: id,
				Reason:        reason,
			})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}

	if len(result.Failed) > 0 {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"requested": len(entitlementIDs),
			"failed":    len(result.Failed),
		}), "bulk validity extension completed with failures")
	}
	return result, nil
}

// GetAvailablePapers lists unclaimed papers for offer authoring. When a
// subscription is being edited, its own claimed papers are merged back in so
// they stay visible.
func (s *service) GetAvailablePapers(ctx context.Context, params AvailablePapersParams) ([]catalog.Paper, error) {
	if params.TestType != nil && !params.TestType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid test type")
	}

	query := catalog.AvailableQuery{
		SubCategory: strings.TrimSpace(params.SubCategory),
		Search:      strings.TrimSpace(params.Search),
	}
	if params.TestType != nil {
		query.TestType = *params.TestType
	}

	papers, err := s.catalog.ListAvailable(ctx, query)
	if err != nil {
		return nil, err
	}

	if params.ExcludeSubscriptionID == nil {
		return papers, nil
	}

	sub, err := s.subsRepo.FindByID(ctx, *params.ExcludeSubscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup offer")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "offer not found")
	}
	if len(sub.PaperIDs) == 0 {
		return papers, nil
	}

	seen := make(map[uuid.UUID]struct{}, len(papers))
	for _, p := range papers {
		seen[p.ID] = struct{}{}
	}
	var missing []uuid.UUID
	for _, id := range sub.PaperIDs {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return papers, nil
	}

	own, err := s.catalog.GetPapers(ctx, missing)
	if err != nil {
		return nil, err
	}
	return append(papers, own...), nil
}
