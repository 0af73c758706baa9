package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/examdesk/examdesk-backend/pkg/db/models"
	"github.com/examdesk/examdesk-backend/pkg/logger"
	"github.com/examdesk/examdesk-backend/pkg/metrics"
)

const (
	expiryJobName    = "entitlement-expiry"
	defaultBatchSize = 500
)

type entitlementsRepository interface {
	ListExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]models.UserEntitlement, error)
	ListRevokeQueued(ctx context.Context, limit int) ([]models.UserEntitlement, error)
	ListExpiredFreeUnreleased(ctx context.Context, asOf time.Time, limit int) ([]models.UserEntitlement, error)
	DeactivateIfActive(ctx context.Context, id uuid.UUID) (bool, error)
	MarkPoolReleased(ctx context.Context, id uuid.UUID) (bool, error)
}

type subscriptionsRepository interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Subscription, error)
}

type catalogClient interface {
	ReleasePapers(ctx context.Context, ids []uuid.UUID) error
}

// ExpiryJobParams configures the scheduled entitlement sweep.
type ExpiryJobParams struct {
	Logger    *logger.Logger
	Grants    entitlementsRepository
	SubsRepo  subscriptionsRepository
	Catalog   catalogClient
	Metrics   *metrics.SweepJobMetrics
	BatchSize int
}

// NewExpiryJob constructs the entitlement expiry sweep job.
func NewExpiryJob(params ExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Grants == nil {
		return nil, fmt.Errorf("entitlement repository required")
	}
	if params.SubsRepo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog client required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &expiryJob{
		logg:      params.Logger,
		grants:    params.Grants,
		subsRepo:  params.SubsRepo,
		catalog:   params.Catalog,
		metrics:   params.Metrics,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

type expiryJob struct {
	logg      *logger.Logger
	grants    entitlementsRepository
	subsRepo  subscriptionsRepository
	catalog   catalogClient
	metrics   *metrics.SweepJobMetrics
	batchSize int
	now       func() time.Time
}

func (j *expiryJob) Name() string { return expiryJobName }

// Run performs the three sweep phases. Each row mutation is an independent
// compare-and-set, so a partial run or a re-run settles on the same state.
func (j *expiryJob) Run(ctx context.Context) error {
	var errs []error
	if err := j.expireGrants(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.revokeQueued(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.releasePool(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (j *expiryJob) expireGrants(ctx context.Context) error {
	asOf := j.now().UTC()
	expired := 0
	skipped := 0
	for {
		rows, err := j.grants.ListExpiredActive(ctx, asOf, j.batchSize)
		if err != nil {
			return fmt.Errorf("query expired grants: %w", err)
		}
		if len(rows) == 0 {
			break
		}
		progressed := 0
		for _, grant := range rows {
			flipped, err := j.grants.DeactivateIfActive(ctx, grant.ID)
			if err != nil {
				skipped++
				j.logRowFailure(ctx, grant.ID, "deactivate expired grant", err)
				continue
			}
			if flipped {
				expired++
			}
			progressed++
		}
		// Rows that keep failing would otherwise be refetched forever.
		if progressed == 0 {
			break
		}
		if len(rows) < j.batchSize {
			break
		}
	}

	j.metrics.AddRows(expiryJobName, "expire", expired)
	logCtx := j.logg.WithFields(ctx, map[string]any{"expired": expired, "skipped": skipped})
	j.logg.Info(logCtx, "expiry phase complete")
	return nil
}

func (j *expiryJob) revokeQueued(ctx context.Context) error {
	revoked := 0
	skipped := 0
	for {
		rows, err := j.grants.ListRevokeQueued(ctx, j.batchSize)
		if err != nil {
			return fmt.Errorf("query queued revocations: %w", err)
		}
		if len(rows) == 0 {
			break
		}
		progressed := 0
		for _, grant := range rows {
			flipped, err := j.grants.DeactivateIfActive(ctx, grant.ID)
			if err != nil {
				skipped++
				j.logRowFailure(ctx, grant.ID, "revoke queued grant", err)
				continue
			}
			if flipped {
				revoked++
			}
			progressed++
		}
		if progressed == 0 {
			break
		}
		if len(rows) < j.batchSize {
			break
		}
	}

	j.metrics.AddRows(expiryJobName, "revoke", revoked)
	logCtx := j.logg.WithFields(ctx, map[string]any{"revoked": revoked, "skipped": skipped})
	j.logg.Info(logCtx, "revocation phase complete")
	return nil
}

// releasePool returns the paper slots of expired free grants to the catalog
// pool so those papers become selectable for new offers again.
func (j *expiryJob) releasePool(ctx context.Context) error {
	asOf := j.now().UTC()
	rows, err := j.grants.ListExpiredFreeUnreleased(ctx, asOf, j.batchSize)
	if err != nil {
		return fmt.Errorf("query unreleased free grants: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	released := 0
	skipped := 0
	for _, grant := range rows {
		paperIDs, err := j.paperIDsFor(ctx, grant)
		if err != nil {
			skipped++
			j.logRowFailure(ctx, grant.ID, "resolve papers for pool release", err)
			continue
		}
		if len(paperIDs) > 0 {
			if err := j.catalog.ReleasePapers(ctx, paperIDs); err != nil {
				skipped++
				j.logRowFailure(ctx, grant.ID, "release papers to pool", err)
				continue
			}
		}
		marked, err := j.grants.MarkPoolReleased(ctx, grant.ID)
		if err != nil {
			skipped++
			j.logRowFailure(ctx, grant.ID, "mark grant pool-released", err)
			continue
		}
		if marked {
			released++
		}
	}

	j.metrics.AddRows(expiryJobName, "pool_release", released)
	logCtx := j.logg.WithFields(ctx, map[string]any{"released": released, "skipped": skipped})
	j.logg.Info(logCtx, "pool release phase complete")
	return nil
}

func (j *expiryJob) paperIDsFor(ctx context.Context, grant models.UserEntitlement) ([]uuid.UUID, error) {
	if len(grant.PaperIDs) > 0 {
		return grant.PaperIDs, nil
	}
	if grant.SubscriptionID == nil {
		return nil, nil
	}
	subs, err := j.subsRepo.FindByIDs(ctx, []uuid.UUID{*grant.SubscriptionID})
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return subs[0].PaperIDs, nil
}

func (j *expiryJob) logRowFailure(ctx context.Context, id uuid.UUID, action string, err error) {
	logCtx := j.logg.WithFields(ctx, map[string]any{"entitlement_id": id, "action": action})
	j.logg.Error(logCtx, "sweep row skipped", err)
}
