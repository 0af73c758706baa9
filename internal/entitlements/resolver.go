package entitlements

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/examdesk/examdesk-backend/pkg/catalog"
	"github.com/examdesk/examdesk-backend/pkg/db/models"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	pkgerrors "github.com/examdesk/examdesk-backend/pkg/errors"
	"github.com/examdesk/examdesk-backend/pkg/logger"
	pkgpagination "github.com/examdesk/examdesk-backend/pkg/pagination"
)

type subscriptionsRepository interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Subscription, error)
}

type catalogClient interface {
	GetPapers(ctx context.Context, ids []uuid.UUID) ([]catalog.Paper, error)
}

// Resolver answers "which papers can this user access right now". It only
// reads; grants are written by the purchase coordinator and admin operations.
type Resolver interface {
	Resolve(ctx context.Context, params ResolveParams) (*ResolveResult, error)
	ListGrants(ctx context.Context, params ListGrantsParams) (*ListGrantsResult, error)
}

type resolver struct {
	repo     Repository
	subsRepo subscriptionsRepository
	catalog  catalogClient
	logg     *logger.Logger
	now      func() time.Time
}

// ResolveParams filters the resolution pass. PaperCategory, PaperSubCategory
// and TestType are optional narrowing filters.
type ResolveParams struct {
	UserID           uuid.UUID
	PaperType        enums.PaperType
	PaperCategory    string
	PaperSubCategory string
	TestType         *enums.TestType
	AsOf             *time.Time
}

// ResolveResult carries the contributing grants and the deduplicated paper set.
type ResolveResult struct {
	Entitlements []models.UserEntitlement
	PaperIDs     []uuid.UUID
	Papers       []catalog.Paper
}

// ListGrantsParams configures per-user grant history listing.
type ListGrantsParams struct {
	UserID     uuid.UUID
	ActiveOnly bool
	Limit      int
	Cursor     string
}

// ListGrantsResult is one page of grants plus the cursor for the next page.
type ListGrantsResult struct {
	Items  []models.UserEntitlement
	Cursor string
}

// NewResolver builds the entitlement resolver.
func NewResolver(repo Repository, subsRepo subscriptionsRepository, catalogClient catalogClient, logg *logger.Logger) (Resolver, error) {
	if repo == nil {
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
	return &resolver{
		repo:     repo,
		subsRepo: subsRepo,
		catalog:  catalogClient,
		logg:     logg,
		now:      time.Now,
	}, nil
}

func (r *resolver) Resolve(ctx context.Context, params ResolveParams) (*ResolveResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !params.PaperType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid paper type")
	}
	if params.TestType != nil && !params.TestType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid test type")
	}

	asOf := r.now().UTC()
	if params.AsOf != nil {
		asOf = params.AsOf.UTC()
	}

	base := WindowQuery{
		UserID:        params.UserID,
		At:            asOf,
		PaperType:     params.PaperType,
		PaperCategory: strings.TrimSpace(params.PaperCategory),
		TestType:      params.TestType,
	}

	// Free and paid access are orthogonal grants. Without a test-type filter
	// they are fetched in two passes and unioned so both surface in listings.
	var grants []models.UserEntitlement
	if params.TestType != nil {
		rows, err := r.repo.ListActiveInWindow(ctx, base)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list live grants")
		}
		grants = rows
	} else {
		for _, pass := range [][]enums.EntitlementType{enums.FreeEntitlementTypes, enums.PaidEntitlementTypes} {
			query := base
			query.EntitlementTypes = pass
			rows, err := r.repo.ListActiveInWindow(ctx, query)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list live grants")
			}
			grants = append(grants, rows...)
		}
	}

	if len(grants) == 0 {
		return &ResolveResult{}, nil
	}

	paperIDs, err := r.expandPaperIDs(ctx, grants)
	if err != nil {
		return nil, err
	}
	if len(paperIDs) == 0 {
		return &ResolveResult{Entitlements: grants}, nil
	}

	papers, err := r.catalog.GetPapers(ctx, paperIDs)
	if err != nil {
		// A catalog outage must not read as "no access".
		return nil, err
	}

	if params.PaperSubCategory != "" {
		papers = filterBySubCategory(papers, params.PaperSubCategory)
		paperIDs = paperIDsOf(papers)
	}

	return &ResolveResult{
		Entitlements: grants,
		PaperIDs:     paperIDs,
		Papers:       papers,
	}, nil
}

// expandPaperIDs maps grants to concrete paper IDs: a grant's own paper list
// wins, otherwise the referenced offer's papers. The result is a set.
func (r *resolver) expandPaperIDs(ctx context.Context, grants []models.UserEntitlement) ([]uuid.UUID, error) {
	var subIDs []uuid.UUID
	for _, grant := range grants {
		if len(grant.PaperIDs) == 0 && grant.SubscriptionID != nil {
			subIDs = append(subIDs, *grant.SubscriptionID)
		}
	}

	subPapers := make(map[uuid.UUID][]uuid.UUID, len(subIDs))
	if len(subIDs) > 0 {
		subs, err := r.subsRepo.FindByIDs(ctx, subIDs)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dereference offers")
		}
		for _, sub := range subs {
			subPapers[sub.ID] = sub.PaperIDs
		}
	}

	seen := make(map[uuid.UUID]struct{})
	var paperIDs []uuid.UUID
	appendID := func(id uuid.UUID) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		paperIDs = append(paperIDs, id)
	}

	for _, grant := range grants {
		if len(grant.PaperIDs) > 0 {
			for _, id := range grant.PaperIDs {
				appendID(id)
			}
			continue
		}
		if grant.SubscriptionID == nil {
			continue
		}
		ids, ok := subPapers[*grant.SubscriptionID]
		if !ok {
			// Dangling offer reference: skip the grant rather than failing
			// the whole resolution.
			r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
				"entitlement_id":  grant.ID,
				"subscription_id": *grant.SubscriptionID,
			}), "grant references missing offer")
			continue
		}
		for _, id := range ids {
			appendID(id)
		}
	}

	return paperIDs, nil
}

func (r *resolver) ListGrants(ctx context.Context, params ListGrantsParams) (*ListGrantsResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	query := ListQuery{
		UserID:     params.UserID,
		ActiveOnly: params.ActiveOnly,
		Limit:      params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pkgpagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := r.repo.ListByUser(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list grants")
	}

	nextCursor := ""
	if next != nil {
		nextCursor = pkgpagination.EncodeCursor(*next)
	}
	return &ListGrantsResult{
		Items:  rows,
		Cursor: nextCursor,
	}, nil
}

func filterBySubCategory(papers []catalog.Paper, subCategory string) []catalog.Paper {
	filtered := papers[:0:0]
	for _, p := range papers {
		if strings.EqualFold(p.SubCategory, subCategory) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

func paperIDsOf(papers []catalog.Paper) []uuid.UUID {
	ids := make([]uuid.UUID, len(papers))
	for i, p := range papers {
		ids[i] = p.ID
	}
	return ids
}
