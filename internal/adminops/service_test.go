package adminops

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/examdesk/examdesk-backend/internal/entitlements"
	"github.com/examdesk/examdesk-backend/pkg/catalog"
	"github.com/examdesk/examdesk-backend/pkg/db/models"
	dbtypes "github.com/examdesk/examdesk-backend/pkg/db/types"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	pkgerrors "github.com/examdesk/examdesk-backend/pkg/errors"
	"github.com/examdesk/examdesk-backend/pkg/logger"
	"github.com/examdesk/examdesk-backend/pkg/pagination"
)

type stubGrantStore struct {
	grants      map[uuid.UUID]*models.UserEntitlement
	findErr     error
	updateErr   error
	updateMiss  bool
	updatedID   uuid.UUID
	updatedTo   time.Time
	updateCalls int
}

func (s *stubGrantStore) WithTx(tx *gorm.DB) entitlements.Repository { return s }

func (s *stubGrantStore) Create(ctx context.Context, grant *models.UserEntitlement) error {
	return nil
}

func (s *stubGrantStore) FindByID(ctx context.Context, id uuid.UUID) (*models.UserEntitlement, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.grants[id], nil
}

func (s *stubGrantStore) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.UserEntitlement, error) {
	return nil, nil
}

func (s *stubGrantStore) FindActiveByUserAndSubscription(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.UserEntitlement, error) {
	return nil, nil
}

func (s *stubGrantStore) ListActiveInWindow(ctx context.Context, params entitlements.WindowQuery) ([]models.UserEntitlement, error) {
	return nil, nil
}

func (s *stubGrantStore) ListByUser(ctx context.Context, params entitlements.ListQuery) ([]models.UserEntitlement, *pagination.Cursor, error) {
	return nil, nil, nil
}

func (s *stubGrantStore) CountActiveBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	return 0, nil
}

func (s *stubGrantStore) MarkRevokeRequestedBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	return 0, nil
}

func (s *stubGrantStore) UpdateValidity(ctx context.Context, id uuid.UUID, validity time.Time) (bool, error) {
	if s.updateErr != nil {
		return false, s.updateErr
	}
	grant, ok := s.grants[id]
	if s.updateMiss || !ok || !grant.Active {
		return false, nil
	}
	s.updateCalls++
	s.updatedID = id
	s.updatedTo = validity
	return true, nil
}

func (s *stubGrantStore) ListExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]models.UserEntitlement, error) {
	return nil, nil
}

func (s *stubGrantStore) ListRevokeQueued(ctx context.Context, limit int) ([]models.UserEntitlement, error) {
	return nil, nil
}

func (s *stubGrantStore) ListExpiredFreeUnreleased(ctx context.Context, asOf time.Time, limit int) ([]models.UserEntitlement, error) {
	return nil, nil
}

func (s *stubGrantStore) DeactivateIfActive(ctx context.Context, id uuid.UUID) (bool, error) {
	return false, nil
}

func (s *stubGrantStore) MarkPoolReleased(ctx context.Context, id uuid.UUID) (bool, error) {
	return false, nil
}

type stubOfferFinder struct {
	sub *models.Subscription
	err error
}

func (s *stubOfferFinder) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.sub, nil
}

type stubPaperSource struct {
	available []catalog.Paper
	availErr  error
	papers    []catalog.Paper
	papersErr error
	lastQuery catalog.AvailableQuery
	lookups   [][]uuid.UUID
}

func (s *stubPaperSource) ListAvailable(ctx context.Context, query catalog.AvailableQuery) ([]catalog.Paper, error) {
	s.lastQuery = query
	if s.availErr != nil {
		return nil, s.availErr
	}
	return s.available, nil
}

func (s *stubPaperSource) GetPapers(ctx context.Context, ids []uuid.UUID) ([]catalog.Paper, error) {
	s.lookups = append(s.lookups, ids)
	if s.papersErr != nil {
		return nil, s.papersErr
	}
	if s.papers != nil {
		return s.papers, nil
	}
	papers := make([]catalog.Paper, len(ids))
	for i, id := range ids {
		papers[i] = catalog.Paper{ID: id, Taken: true}
	}
	return papers, nil
}

func newAdminService(t *testing.T, grants *stubGrantStore, subs *stubOfferFinder, cat *stubPaperSource) Service {
	t.Helper()
	if grants == nil {
		grants = &stubGrantStore{}
	}
	if subs == nil {
		subs = &stubOfferFinder{}
	}
	if cat == nil {
		cat = &stubPaperSource{}
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(grants, subs, cat, logg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func activeGrant() *models.UserEntitlement {
	now := time.Now().UTC()
	return &models.UserEntitlement{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		EntitlementType: enums.EntitlementTypeSubscription,
		PaperType:       enums.PaperTypeModel,
		CreatedDate:     now.Add(-24 * time.Hour),
		Validity:        now.Add(24 * time.Hour),
		Active:          true,
	}
}

func TestExtendValidityAddsDuration(t *testing.T) {
	grant := activeGrant()
	before := grant.Validity
	grants := &stubGrantStore{grants: map[uuid.UUID]*models.UserEntitlement{grant.ID: grant}}
	svc := newAdminService(t, grants, nil, nil)

	extended, err := svc.ExtendValidity(context.Background(), grant.ID, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("ExtendValidity returned error: %v", err)
	}
	want := before.Add(7 * 24 * time.Hour)
	if !extended.Validity.Equal(want) {
		t.Fatalf("expected validity %s, got %s", want, extended.Validity)
	}
	if grants.updatedID != grant.ID {
		t.Fatalf("expected update for %s, got %s", grant.ID, grants.updatedID)
	}
}

func TestExtendValidityRejectsInactiveGrant(t *testing.T) {
	grant := activeGrant()
	grant.Active = false
	grants := &stubGrantStore{grants: map[uuid.UUID]*models.UserEntitlement{grant.ID: grant}}
	svc := newAdminService(t, grants, nil, nil)

	_, err := svc.ExtendValidity(context.Background(), grant.ID, time.Hour)
	if err == nil {
		t.Fatal("expected state conflict error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict code, got %v", err)
	}
	if grants.updateCalls != 0 {
		t.Fatalf("expected no update, got %d", grants.updateCalls)
	}
}

func TestExtendValidityRejectsGrantDeactivatedMidFlight(t *testing.T) {
	grant := activeGrant()
	grants := &stubGrantStore{
		grants:     map[uuid.UUID]*models.UserEntitlement{grant.ID: grant},
		updateMiss: true,
	}
	svc := newAdminService(t, grants, nil, nil)

	_, err := svc.ExtendValidity(context.Background(), grant.ID, time.Hour)
	if err == nil {
		t.Fatal("expected state conflict error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict code, got %v", err)
	}
}

func TestExtendValidityUnknownGrant(t *testing.T) {
	svc := newAdminService(t, &stubGrantStore{}, nil, nil)

	if _, err := svc.ExtendValidity(context.Background(), uuid.New(), time.Hour); err == nil {
		t.Fatal("expected not found error")
	} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found code, got %v", err)
	}
}

func TestExtendValidityRejectsNonPositiveExtension(t *testing.T) {
	svc := newAdminService(t, nil, nil, nil)

	if _, err := svc.ExtendValidity(context.Background(), uuid.New(), 0); err == nil {
		t.Fatal("expected validation error")
	} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation code, got %v", err)
	}
}

func TestBulkExtendReportsPerItemOutcomes(t *testing.T) {
	good := activeGrant()
	inactive := activeGrant()
	inactive.Active = false
	grants := &stubGrantStore{grants: map[uuid.UUID]*models.UserEntitlement{
		good.ID:     good,
		inactive.ID: inactive,
	}}
	svc := newAdminService(t, grants, nil, nil)

	missing := uuid.New()
	result, err := svc.BulkExtendValidity(context.Background(), []uuid.UUID{good.ID, inactive.ID, missing}, time.Hour)
	if err != nil {
		t.Fatalf("BulkExtendValidity returned error: %v", err)
	}
	if len(result.Succeeded) != 1 || result.Succeeded[0] != good.ID {
		t.Fatalf("expected one success, got %v", result.Succeeded)
	}
	if len(result.Failed) != 2 {
		t.Fatalf("expected two failures, got %d", len(result.Failed))
	}
	for _, failure := range result.Failed {
		if failure.Reason == "" {
			t.Fatalf("expected failure reason for %s", failure.EntitlementID)
		}
	}
}

func TestBulkExtendRequiresIDs(t *testing.T) {
	svc := newAdminService(t, nil, nil, nil)

	if _, err := svc.BulkExtendValidity(context.Background(), nil, time.Hour); err == nil {
		t.Fatal("expected validation error")
	} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation code, got %v", err)
	}
}

func TestAvailablePapersPassesFilters(t *testing.T) {
	cat := &stubPaperSource{available: []catalog.Paper{{ID: uuid.New()}}}
	svc := newAdminService(t, nil, nil, cat)

	testType := enums.TestTypeSectional
	papers, err := svc.GetAvailablePapers(context.Background(), AvailablePapersParams{
		TestType:    &testType,
		SubCategory: " quant ",
		Search:      "algebra",
	})
	if err != nil {
		t.Fatalf("GetAvailablePapers returned error: %v", err)
	}
	if len(papers) != 1 {
		t.Fatalf("expected 1 paper, got %d", len(papers))
	}
	if cat.lastQuery.TestType != testType || cat.lastQuery.SubCategory != "quant" || cat.lastQuery.Search != "algebra" {
		t.Fatalf("unexpected query %+v", cat.lastQuery)
	}
}

func TestAvailablePapersMergesExcludedOffersOwnPapers(t *testing.T) {
	ownPaper := uuid.New()
	poolPaper := uuid.New()
	sub := &models.Subscription{
		ID:       uuid.New(),
		PaperIDs: dbtypes.UUIDArray{ownPaper, poolPaper},
	}
	cat := &stubPaperSource{available: []catalog.Paper{{ID: poolPaper}}}
	svc := newAdminService(t, nil, &stubOfferFinder{sub: sub}, cat)

	papers, err := svc.GetAvailablePapers(context.Background(), AvailablePapersParams{
		ExcludeSubscriptionID: &sub.ID,
	})
	if err != nil {
		t.Fatalf("GetAvailablePapers returned error: %v", err)
	}
	if len(papers) != 2 {
		t.Fatalf("expected merged set of 2 papers, got %d", len(papers))
	}
	if len(cat.lookups) != 1 || len(cat.lookups[0]) != 1 || cat.lookups[0][0] != ownPaper {
		t.Fatalf("expected lookup for the missing own paper, got %v", cat.lookups)
	}
}

func TestAvailablePapersUnknownExcludedOffer(t *testing.T) {
	svc := newAdminService(t, nil, &stubOfferFinder{}, nil)

	id := uuid.New()
	if _, err := svc.GetAvailablePapers(context.Background(), AvailablePapersParams{
		ExcludeSubscriptionID: &id,
	}); err == nil {
		t.Fatal("expected not found error")
	} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found code, got %v", err)
	}
}

func TestAvailablePapersCatalogFailurePropagates(t *testing.T) {
	cat := &stubPaperSource{availErr: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("timeout"), "catalog request")}
	svc := newAdminService(t, nil, nil, cat)

	if _, err := svc.GetAvailablePapers(context.Background(), AvailablePapersParams{}); err == nil {
		t.Fatal("expected dependency error")
	} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency code, got %v", err)
	}
}
