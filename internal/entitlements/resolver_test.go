package entitlements

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/examdesk/examdesk-backend/pkg/catalog"
	"github.com/examdesk/examdesk-backend/pkg/db/models"
	dbtypes "github.com/examdesk/examdesk-backend/pkg/db/types"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	pkgerrors "github.com/examdesk/examdesk-backend/pkg/errors"
	"github.com/examdesk/examdesk-backend/pkg/logger"
	"github.com/examdesk/examdesk-backend/pkg/pagination"
)

type stubGrantRepo struct {
	windowRows  map[string][]models.UserEntitlement
	windowErr   error
	windowCalls []WindowQuery
	listRows    []models.UserEntitlement
	listCursor  *pagination.Cursor
	listErr     error
}

func (s *stubGrantRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubGrantRepo) Create(ctx context.Context, grant *models.UserEntitlement) error {
	return nil
}

func (s *stubGrantRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.UserEntitlement, error) {
	return nil, nil
}

func (s *stubGrantRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.UserEntitlement, error) {
	return nil, nil
}

func (s *stubGrantRepo) FindActiveByUserAndSubscription(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.UserEntitlement, error) {
	return nil, nil
}

func (s *stubGrantRepo) ListActiveInWindow(ctx context.Context, params WindowQuery) ([]models.UserEntitlement, error) {
	s.windowCalls = append(s.windowCalls, params)
	if s.windowErr != nil {
		return nil, s.windowErr
	}
	return s.windowRows[passKey(params.EntitlementTypes)], nil
}

func (s *stubGrantRepo) ListByUser(ctx context.Context, params ListQuery) ([]models.UserEntitlement, *pagination.Cursor, error) {
	if s.listErr != nil {
		return nil, nil, s.listErr
	}
	return s.listRows, s.listCursor, nil
}

func (s *stubGrantRepo) CountActiveBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	return 0, nil
}

func (s *stubGrantRepo) MarkRevokeRequestedBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	return 0, nil
}

func (s *stubGrantRepo) UpdateValidity(ctx context.Context, id uuid.UUID, validity time.Time) (bool, error) {
	return true, nil
}

func (s *stubGrantRepo) ListExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]models.UserEntitlement, error) {
	return nil, nil
}

func (s *stubGrantRepo) ListRevokeQueued(ctx context.Context, limit int) ([]models.UserEntitlement, error) {
	return nil, nil
}

func (s *stubGrantRepo) ListExpiredFreeUnreleased(ctx context.Context, asOf time.Time, limit int) ([]models.UserEntitlement, error) {
	return nil, nil
}

func (s *stubGrantRepo) DeactivateIfActive(ctx context.Context, id uuid.UUID) (bool, error) {
	return false, nil
}

func (s *stubGrantRepo) MarkPoolReleased(ctx context.Context, id uuid.UUID) (bool, error) {
	return false, nil
}

func passKey(types []enums.EntitlementType) string {
	if len(types) == 0 {
		return "all"
	}
	key := ""
	for _, t := range types {
		key += string(t) + ","
	}
	return key
}

type stubSubsLookup struct {
	subs []models.Subscription
	err  error
}

func (s *stubSubsLookup) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.subs, nil
}

type stubPaperCatalog struct {
	papers  []catalog.Paper
	err     error
	calls   int
	lastIDs []uuid.UUID
}

func (s *stubPaperCatalog) GetPapers(ctx context.Context, ids []uuid.UUID) ([]catalog.Paper, error) {
	s.calls++
	s.lastIDs = ids
	if s.err != nil {
		return nil, s.err
	}
	if s.papers != nil {
		return s.papers, nil
	}
	papers := make([]catalog.Paper, len(ids))
	for i, id := range ids {
		papers[i] = catalog.Paper{ID: id, Published: true}
	}
	return papers, nil
}

func newResolverForTests(t *testing.T, repo *stubGrantRepo, subs *stubSubsLookup, cat *stubPaperCatalog) *resolver {
	t.Helper()
	if repo == nil {
		repo = &stubGrantRepo{}
	}
	if subs == nil {
		subs = &stubSubsLookup{}
	}
	if cat == nil {
		cat = &stubPaperCatalog{}
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewResolver(repo, subs, cat, logg)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	return svc.(*resolver)
}

func grantWithPapers(userID uuid.UUID, papers ...uuid.UUID) models.UserEntitlement {
	now := time.Now().UTC()
	return models.UserEntitlement{
		ID:              uuid.New(),
		UserID:          userID,
		EntitlementType: enums.EntitlementTypeSubscription,
		PaperType:       enums.PaperTypeModel,
		TestType:        enums.TestTypeMock,
		PaperIDs:        dbtypes.UUIDArray(papers),
		CreatedDate:     now.Add(-time.Hour),
		Validity:        now.Add(time.Hour),
		Active:          true,
	}
}

func TestResolveNoGrantsIsSuccess(t *testing.T) {
	cat := &stubPaperCatalog{}
	r := newResolverForTests(t, &stubGrantRepo{}, nil, cat)

	result, err := r.Resolve(context.Background(), ResolveParams{
		UserID:    uuid.New(),
		PaperType: enums.PaperTypeModel,
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(result.Entitlements) != 0 || len(result.PaperIDs) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if cat.calls != 0 {
		t.Fatalf("expected no catalog call, got %d", cat.calls)
	}
}

func TestResolveUnionsFreeAndPaidWithoutTestType(t *testing.T) {
	userID := uuid.New()
	sharedPaper := uuid.New()
	freeGrant := grantWithPapers(userID, sharedPaper)
	freeGrant.EntitlementType = enums.EntitlementTypeFreeSubscription
	paidGrant := grantWithPapers(userID, sharedPaper, uuid.New())

	repo := &stubGrantRepo{windowRows: map[string][]models.UserEntitlement{
		passKey(enums.FreeEntitlementTypes): {freeGrant},
		passKey(enums.PaidEntitlementTypes): {paidGrant},
	}}
	cat := &stubPaperCatalog{}
	r := newResolverForTests(t, repo, nil, cat)

	result, err := r.Resolve(context.Background(), ResolveParams{
		UserID:    userID,
		PaperType: enums.PaperTypeModel,
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(repo.windowCalls) != 2 {
		t.Fatalf("expected two window passes, got %d", len(repo.windowCalls))
	}
	if len(result.Entitlements) != 2 {
		t.Fatalf("expected both grants, got %d", len(result.Entitlements))
	}
	// shared paper must appear once
	if len(result.PaperIDs) != 2 {
		t.Fatalf("expected 2 deduplicated papers, got %d", len(result.PaperIDs))
	}
}

func TestResolveSinglePassWithTestType(t *testing.T) {
	userID := uuid.New()
	grant := grantWithPapers(userID, uuid.New())
	repo := &stubGrantRepo{windowRows: map[string][]models.UserEntitlement{
		"all": {grant},
	}}
	r := newResolverForTests(t, repo, nil, nil)

	testType := enums.TestTypeMock
	result, err := r.Resolve(context.Background(), ResolveParams{
		UserID:    userID,
		PaperType: enums.PaperTypeModel,
		TestType:  &testType,
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(repo.windowCalls) != 1 {
		t.Fatalf("expected one window pass, got %d", len(repo.windowCalls))
	}
	if len(result.Entitlements) != 1 {
		t.Fatalf("expected one grant, got %d", len(result.Entitlements))
	}
}

func TestResolveDereferencesOfferPapers(t *testing.T) {
	userID := uuid.New()
	subID := uuid.New()
	offerPapers := []uuid.UUID{uuid.New(), uuid.New()}

	grant := grantWithPapers(userID)
	grant.PaperIDs = nil
	grant.SubscriptionID = &subID

	repo := &stubGrantRepo{windowRows: map[string][]models.UserEntitlement{
		passKey(enums.PaidEntitlementTypes): {grant},
	}}
	subs := &stubSubsLookup{subs: []models.Subscription{{
		ID:       subID,
		PaperIDs: dbtypes.UUIDArray(offerPapers),
	}}}
	r := newResolverForTests(t, repo, subs, nil)

	result, err := r.Resolve(context.Background(), ResolveParams{
		UserID:    userID,
		PaperType: enums.PaperTypeModel,
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(result.PaperIDs) != 2 {
		t.Fatalf("expected offer papers, got %v", result.PaperIDs)
	}
}

func TestResolveSkipsDanglingOfferReference(t *testing.T) {
	userID := uuid.New()
	missingSub := uuid.New()
	ownPaper := uuid.New()

	dangling := grantWithPapers(userID)
	dangling.PaperIDs = nil
	dangling.SubscriptionID = &missingSub
	healthy := grantWithPapers(userID, ownPaper)

	repo := &stubGrantRepo{windowRows: map[string][]models.UserEntitlement{
		passKey(enums.PaidEntitlementTypes): {dangling, healthy},
	}}
	r := newResolverForTests(t, repo, &stubSubsLookup{}, nil)

	result, err := r.Resolve(context.Background(), ResolveParams{
		UserID:    userID,
		PaperType: enums.PaperTypeModel,
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(result.PaperIDs) != 1 || result.PaperIDs[0] != ownPaper {
		t.Fatalf("expected only the healthy grant's paper, got %v", result.PaperIDs)
	}
}

func TestResolveCatalogOutagePropagates(t *testing.T) {
	userID := uuid.New()
	grant := grantWithPapers(userID, uuid.New())
	repo := &stubGrantRepo{windowRows: map[string][]models.UserEntitlement{
		passKey(enums.PaidEntitlementTypes): {grant},
	}}
	cat := &stubPaperCatalog{err: pkgerrors.New(pkgerrors.CodeDependency, "catalog unavailable")}
	r := newResolverForTests(t, repo, nil, cat)

	_, err := r.Resolve(context.Background(), ResolveParams{
		UserID:    userID,
		PaperType: enums.PaperTypeModel,
	})
	if err == nil {
		t.Fatal("expected dependency error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency code, got %v", err)
	}
}

func TestResolveFiltersBySubCategory(t *testing.T) {
	userID := uuid.New()
	keep := uuid.New()
	drop := uuid.New()
	grant := grantWithPapers(userID, keep, drop)

	repo := &stubGrantRepo{windowRows: map[string][]models.UserEntitlement{
		passKey(enums.PaidEntitlementTypes): {grant},
	}}
	cat := &stubPaperCatalog{papers: []catalog.Paper{
		{ID: keep, SubCategory: "quant"},
		{ID: drop, SubCategory: "verbal"},
	}}
	r := newResolverForTests(t, repo, nil, cat)

	result, err := r.Resolve(context.Background(), ResolveParams{
		UserID:           userID,
		PaperType:        enums.PaperTypeModel,
		PaperSubCategory: "quant",
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(result.PaperIDs) != 1 || result.PaperIDs[0] != keep {
		t.Fatalf("expected only quant paper, got %v", result.PaperIDs)
	}
}

func TestResolveUsesInjectedClock(t *testing.T) {
	userID := uuid.New()
	repo := &stubGrantRepo{}
	r := newResolverForTests(t, repo, nil, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	if _, err := r.Resolve(context.Background(), ResolveParams{
		UserID:    userID,
		PaperType: enums.PaperTypeModel,
	}); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(repo.windowCalls) == 0 || !repo.windowCalls[0].At.Equal(fixed) {
		t.Fatalf("expected window anchored at %s, got %+v", fixed, repo.windowCalls)
	}
}

func TestResolveHonorsAsOf(t *testing.T) {
	userID := uuid.New()
	repo := &stubGrantRepo{}
	r := newResolverForTests(t, repo, nil, nil)
	asOf := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

	if _, err := r.Resolve(context.Background(), ResolveParams{
		UserID:    userID,
		PaperType: enums.PaperTypeModel,
		AsOf:      &asOf,
	}); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !repo.windowCalls[0].At.Equal(asOf) {
		t.Fatalf("expected window at %s, got %s", asOf, repo.windowCalls[0].At)
	}
}

func TestListGrantsInvalidCursor(t *testing.T) {
	r := newResolverForTests(t, nil, nil, nil)

	if _, err := r.ListGrants(context.Background(), ListGrantsParams{
		UserID: uuid.New(),
		Cursor: "badcursor",
	}); err == nil {
		t.Fatal("expected validation error")
	} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation code, got %v", err)
	}
}

func TestListGrantsRepoFailure(t *testing.T) {
	repo := &stubGrantRepo{listErr: errors.New("db down")}
	r := newResolverForTests(t, repo, nil, nil)

	if _, err := r.ListGrants(context.Background(), ListGrantsParams{UserID: uuid.New()}); err == nil {
		t.Fatal("expected dependency error")
	} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency code, got %v", err)
	}
}

func TestCoversAtWindowBoundsInclusive(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * 24 * time.Hour)
	grant := models.UserEntitlement{
		CreatedDate: start,
		Validity:    end,
		Active:      true,
	}

	if !grant.CoversAt(start) {
		t.Fatal("expected window start to be covered")
	}
	if !grant.CoversAt(end) {
		t.Fatal("expected window end to be covered")
	}
	if grant.CoversAt(end.Add(time.Second)) {
		t.Fatal("expected moment after expiry to be uncovered")
	}
	if grant.CoversAt(start.Add(-time.Second)) {
		t.Fatal("expected moment before start to be uncovered")
	}
}
