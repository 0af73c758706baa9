package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/examdesk/examdesk-backend/pkg/db/models"
	dbtypes "github.com/examdesk/examdesk-backend/pkg/db/types"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	"github.com/examdesk/examdesk-backend/pkg/pagination"
)

func setupOffersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  paper_type TEXT NOT NULL,
  paper_category TEXT NOT NULL,
  paper_sub_category TEXT,
  test_type TEXT NOT NULL,
  subscription_type TEXT NOT NULL,
  name TEXT NOT NULL,
  description TEXT,
  paper_ids TEXT,
  state TEXT NOT NULL DEFAULT 'draft',
  amendment_no INTEGER NOT NULL DEFAULT 1,
  price TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	require.NoError(t, db.Exec("DELETE FROM subscriptions").Error)

	return db
}

func seedOffer(t *testing.T, db *gorm.DB, state enums.SubscriptionState, createdAt time.Time) *models.Subscription {
	t.Helper()

	sub := &models.Subscription{
		ID:               uuid.New(),
		PaperType:        enums.PaperTypeModel,
		PaperCategory:    "banking",
		TestType:         enums.TestTypeMock,
		SubscriptionType: enums.SubscriptionTypeMonthly,
		Name:             "Mock bundle",
		PaperIDs:         dbtypes.UUIDArray{uuid.New()},
		State:            state,
		AmendmentNo:      1,
		Price:            decimal.NewFromInt(199),
		CreatedAt:        createdAt,
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func TestRepositoryFindByID(t *testing.T) {
	db := setupOffersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seeded := seedOffer(t, db, enums.SubscriptionStateDraft, time.Now().UTC())

	found, err := repo.FindByID(ctx, seeded.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, seeded.ID, found.ID)
	assert.Equal(t, enums.SubscriptionStateDraft, found.State)
	assert.Len(t, found.PaperIDs, 1)

	missing, err := repo.FindByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepositoryFindByIDs(t *testing.T) {
	db := setupOffersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	first := seedOffer(t, db, enums.SubscriptionStateActive, time.Now().UTC())
	second := seedOffer(t, db, enums.SubscriptionStateActive, time.Now().UTC())

	subs, err := repo.FindByIDs(ctx, []uuid.UUID{first.ID, second.ID, uuid.New()})
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	subs, err = repo.FindByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestRepositoryListFiltersByState(t *testing.T) {
	db := setupOffersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seedOffer(t, db, enums.SubscriptionStateDraft, time.Now().UTC())
	active := seedOffer(t, db, enums.SubscriptionStateActive, time.Now().UTC())

	state := enums.SubscriptionStateActive
	subs, next, err := repo.List(ctx, ListQuery{State: &state, Limit: 10})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, active.ID, subs[0].ID)
	assert.Nil(t, next)
}

func TestRepositoryListPaginates(t *testing.T) {
	db := setupOffersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	oldest := seedOffer(t, db, enums.SubscriptionStateDraft, base)
	middle := seedOffer(t, db, enums.SubscriptionStateDraft, base.Add(time.Minute))
	newest := seedOffer(t, db, enums.SubscriptionStateDraft, base.Add(2*time.Minute))

	subs, next, err := repo.List(ctx, ListQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, newest.ID, subs[0].ID)
	assert.Equal(t, middle.ID, subs[1].ID)
	require.NotNil(t, next)

	subs, next, err = repo.List(ctx, ListQuery{Limit: 2, Cursor: &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, oldest.ID, subs[0].ID)
	assert.Nil(t, next)
}

func TestRepositoryUpdateState(t *testing.T) {
	db := setupOffersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seeded := seedOffer(t, db, enums.SubscriptionStateDraft, time.Now().UTC())

	require.NoError(t, repo.UpdateState(ctx, seeded.ID, enums.SubscriptionStateActive))

	found, err := repo.FindByID(ctx, seeded.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, enums.SubscriptionStateActive, found.State)
}
