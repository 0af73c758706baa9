package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/examdesk/examdesk-backend/pkg/db/models"
	dbtypes "github.com/examdesk/examdesk-backend/pkg/db/types"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	"github.com/examdesk/examdesk-backend/pkg/logger"
	"github.com/examdesk/examdesk-backend/pkg/metrics"
)

type fakeSweepStore struct {
	expired       []models.UserEntitlement
	queued        []models.UserEntitlement
	unreleased    []models.UserEntitlement
	deactivated   map[uuid.UUID]bool
	deactivateErr map[uuid.UUID]error
	poolReleased  map[uuid.UUID]bool
	releaseErr    error
}

func newFakeSweepStore() *fakeSweepStore {
	return &fakeSweepStore{
		deactivated:  map[uuid.UUID]bool{},
		poolReleased: map[uuid.UUID]bool{},
	}
}

func (f *fakeSweepStore) ListExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]models.UserEntitlement, error) {
	var rows []models.UserEntitlement
	for _, grant := range f.expired {
		if !f.deactivated[grant.ID] {
			rows = append(rows, grant)
		}
		if len(rows) == limit {
			break
		}
	}
	return rows, nil
}

func (f *fakeSweepStore) ListRevokeQueued(ctx context.Context, limit int) ([]models.UserEntitlement, error) {
	var rows []models.UserEntitlement
	for _, grant := range f.queued {
		if !f.deactivated[grant.ID] {
			rows = append(rows, grant)
		}
		if len(rows) == limit {
			break
		}
	}
	return rows, nil
}

func (f *fakeSweepStore) ListExpiredFreeUnreleased(ctx context.Context, asOf time.Time, limit int) ([]models.UserEntitlement, error) {
	var rows []models.UserEntitlement
	for _, grant := range f.unreleased {
		if !f.poolReleased[grant.ID] {
			rows = append(rows, grant)
		}
		if len(rows) == limit {
			break
		}
	}
	return rows, nil
}

func (f *fakeSweepStore) DeactivateIfActive(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := f.deactivateErr[id]; err != nil {
		return false, err
	}
	if f.deactivated[id] {
		return false, nil
	}
	f.deactivated[id] = true
	return true, nil
}

func (f *fakeSweepStore) MarkPoolReleased(ctx context.Context, id uuid.UUID) (bool, error) {
	if f.releaseErr != nil {
		return false, f.releaseErr
	}
	if f.poolReleased[id] {
		return false, nil
	}
	f.poolReleased[id] = true
	return true, nil
}

type fakeSweepSubs struct {
	subs map[uuid.UUID]models.Subscription
}

func (f *fakeSweepSubs) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, id := range ids {
		if sub, ok := f.subs[id]; ok {
			out = append(out, sub)
		}
	}
	return out, nil
}

type fakeSweepCatalog struct {
	released [][]uuid.UUID
	err      error
}

func (f *fakeSweepCatalog) ReleasePapers(ctx context.Context, ids []uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.released = append(f.released, ids)
	return nil
}

func newExpiryJobForTests(t *testing.T, store *fakeSweepStore, subs *fakeSweepSubs, cat *fakeSweepCatalog, batchSize int) *expiryJob {
	t.Helper()
	if subs == nil {
		subs = &fakeSweepSubs{}
	}
	if cat == nil {
		cat = &fakeSweepCatalog{}
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	job, err := NewExpiryJob(ExpiryJobParams{
		Logger:    logg,
		Grants:    store,
		SubsRepo:  subs,
		Catalog:   cat,
		Metrics:   metrics.NewSweepJobMetrics(nil),
		BatchSize: batchSize,
	})
	if err != nil {
		t.Fatalf("NewExpiryJob failed: %v", err)
	}
	return job.(*expiryJob)
}

func expiredGrant(papers ...uuid.UUID) models.UserEntitlement {
	now := time.Now().UTC()
	return models.UserEntitlement{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		EntitlementType: enums.EntitlementTypeFreeSubscription,
		PaperType:       enums.PaperTypeModel,
		PaperIDs:        dbtypes.UUIDArray(papers),
		CreatedDate:     now.Add(-48 * time.Hour),
		Validity:        now.Add(-time.Hour),
		Active:          true,
	}
}

func TestExpiryJobDeactivatesExpiredGrants(t *testing.T) {
	store := newFakeSweepStore()
	store.expired = []models.UserEntitlement{expiredGrant(), expiredGrant(), expiredGrant()}
	job := newExpiryJobForTests(t, store, nil, nil, 2)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	for _, grant := range store.expired {
		if !store.deactivated[grant.ID] {
			t.Fatalf("expected grant %s deactivated", grant.ID)
		}
	}
}

func TestExpiryJobRevokesQueuedGrants(t *testing.T) {
	store := newFakeSweepStore()
	queued := expiredGrant()
	queued.Validity = time.Now().UTC().Add(time.Hour)
	queued.RevokeRequested = true
	store.queued = []models.UserEntitlement{queued}
	job := newExpiryJobForTests(t, store, nil, nil, 10)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !store.deactivated[queued.ID] {
		t.Fatal("expected queued grant revoked")
	}
}

func TestExpiryJobReleasesFreePapersToPool(t *testing.T) {
	store := newFakeSweepStore()
	paperID := uuid.New()
	grant := expiredGrant(paperID)
	grant.Active = false
	store.unreleased = []models.UserEntitlement{grant}
	cat := &fakeSweepCatalog{}
	job := newExpiryJobForTests(t, store, nil, cat, 10)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !store.poolReleased[grant.ID] {
		t.Fatal("expected grant marked pool-released")
	}
	if len(cat.released) != 1 || cat.released[0][0] != paperID {
		t.Fatalf("expected paper released to pool, got %v", cat.released)
	}
}

func TestExpiryJobDereferencesOfferForPoolRelease(t *testing.T) {
	store := newFakeSweepStore()
	subID := uuid.New()
	offerPaper := uuid.New()
	grant := expiredGrant()
	grant.Active = false
	grant.SubscriptionID = &subID
	store.unreleased = []models.UserEntitlement{grant}
	subs := &fakeSweepSubs{subs: map[uuid.UUID]models.Subscription{
		subID: {ID: subID, PaperIDs: dbtypes.UUIDArray{offerPaper}},
	}}
	cat := &fakeSweepCatalog{}
	job := newExpiryJobForTests(t, store, subs, cat, 10)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(cat.released) != 1 || cat.released[0][0] != offerPaper {
		t.Fatalf("expected offer paper released, got %v", cat.released)
	}
}

func TestExpiryJobRerunIsIdempotent(t *testing.T) {
	store := newFakeSweepStore()
	paperID := uuid.New()
	grant := expiredGrant(paperID)
	grant.Active = false
	store.expired = []models.UserEntitlement{expiredGrant()}
	store.unreleased = []models.UserEntitlement{grant}
	cat := &fakeSweepCatalog{}
	job := newExpiryJobForTests(t, store, nil, cat, 10)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("first run returned error: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if len(cat.released) != 1 {
		t.Fatalf("expected single pool release across reruns, got %d", len(cat.released))
	}
}

func TestExpiryJobSkipsFailingRowsAndContinues(t *testing.T) {
	store := newFakeSweepStore()
	bad := expiredGrant()
	good := expiredGrant()
	store.expired = []models.UserEntitlement{bad, good}
	store.deactivateErr = map[uuid.UUID]error{bad.ID: errors.New("row locked")}
	job := newExpiryJobForTests(t, store, nil, nil, 10)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !store.deactivated[good.ID] {
		t.Fatal("expected healthy row deactivated despite failing sibling")
	}
	if store.deactivated[bad.ID] {
		t.Fatal("expected failing row untouched")
	}
}

func TestExpiryJobCatalogFailureLeavesGrantUnreleased(t *testing.T) {
	store := newFakeSweepStore()
	grant := expiredGrant(uuid.New())
	grant.Active = false
	store.unreleased = []models.UserEntitlement{grant}
	cat := &fakeSweepCatalog{err: errors.New("catalog down")}
	job := newExpiryJobForTests(t, store, nil, cat, 10)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if store.poolReleased[grant.ID] {
		t.Fatal("expected grant to stay unreleased after catalog failure")
	}
}
