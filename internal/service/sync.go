package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/openclaw/crm-sync-server/internal/crm"
	apperrors "github.com/openclaw/crm-sync-server/internal/errors"
	"github.com/openclaw/crm-sync-server/internal/model"
	"github.com/openclaw/crm-sync-server/internal/repository"
)

// RecordSource lists the CRM records currently flagged for sync.
type RecordSource interface {
	FetchEligible(ctx context.Context, cred model.ExternalCredential) ([]model.SyncRecord, error)
}

// CredentialRunner runs a CRM call with a valid credential.
type CredentialRunner interface {
	Do(ctx context.Context, fn func(ctx context.Context, cred model.ExternalCredential) error) error
}

type SyncService struct {
	credentials   CredentialRunner
	source        RecordSource
	principalRepo repository.PrincipalRepository
	runRepo       repository.SyncRunRepository
	locker        SyncLocker
	fetchTimeout  time.Duration
	concurrency   int
	now           func() time.Time
}

func NewSyncService(
	credentials CredentialRunner,
	source RecordSource,
	principalRepo repository.PrincipalRepository,
	runRepo repository.SyncRunRepository,
	locker SyncLocker,
	fetchTimeout time.Duration,
	concurrency int,
) *SyncService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &SyncService{
		credentials:   credentials,
		source:        source,
		principalRepo: principalRepo,
		runRepo:       runRepo,
		locker:        locker,
		fetchTimeout:  fetchTimeout,
		concurrency:   concurrency,
		now:           time.Now,
	}
}

func (s *SyncService) WithClock(now func() time.Time) *SyncService {
	s.now = now
	return s
}

// Sync pulls eligible CRM records and merges them into the principal
// store. Records merged before a persistence failure stay merged; the
// returned summary counts them.
func (s *SyncService) Sync(ctx context.Context, trigger model.SyncTrigger, triggeredBy *string) (*model.SyncSummary, error) {
	release, acquired, err := s.locker.TryLock(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("sync lock unavailable, continuing without it")
		release = func() {}
	} else if !acquired {
		return nil, apperrors.SyncInProgress()
	}
	defer release()

	summary := &model.SyncSummary{RunID: uuid.NewString()}
	startedAt := s.now()

	logger := log.With().
		Str("runId", summary.RunID).
		Str("trigger", string(trigger)).
		Logger()
	logger.Info().Msg("sync started")

	records, err := s.fetch(ctx)
	if err == nil {
		summary.Fetched = len(records)
		err = s.merge(ctx, records, summary)
	}

	s.recordRun(ctx, trigger, triggeredBy, summary, startedAt, err)

	if err != nil {
		logger.Error().Err(err).
			Int("fetched", summary.Fetched).
			Int("inserted", summary.Inserted).
			Int("updated", summary.Updated).
			Msg("sync failed")
		return summary, err
	}

	logger.Info().
		Int("fetched", summary.Fetched).
		Int("inserted", summary.Inserted).
		Int("updated", summary.Updated).
		Int("unchanged", summary.Unchanged).
		Int("skipped", summary.Skipped).
		Dur("duration", s.now().Sub(startedAt)).
		Msg("sync completed")
	return summary, nil
}

func (s *SyncService) ListRuns(ctx context.Context, limit, offset int) ([]model.SyncRun, int, error) {
	runs, total, err := s.runRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Persistence(fmt.Errorf("list sync runs: %w", err))
	}
	return runs, total, nil
}

func (s *SyncService) fetch(ctx context.Context) ([]model.SyncRecord, error) {
	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	var records []model.SyncRecord
	err := s.credentials.Do(fctx, func(ctx context.Context, cred model.ExternalCredential) error {
		var err error
		records, err = s.source.FetchEligible(ctx, cred)
		return err
	})
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		if errors.Is(err, crm.ErrUnauthorized) {
			return nil, apperrors.ExternalAuth(err)
		}
		return nil, apperrors.ExternalFetch(err)
	}
	return records, nil
}

// merge upserts records with bounded parallelism. Records sharing an
// external id are applied in order by a single worker.
func (s *SyncService) merge(ctx context.Context, records []model.SyncRecord, summary *model.SyncSummary) error {
	groups := make(map[string][]model.SyncRecord)
	var order []string
	for i, rec := range records {
		if rec.ExternalID == "" {
			log.Warn().Int("index", i).Msg("skipping crm record without id")
			summary.Skipped++
			continue
		}
		if _, seen := groups[rec.ExternalID]; !seen {
			order = append(order, rec.ExternalID)
		}
		groups[rec.ExternalID] = append(groups[rec.ExternalID], rec)
	}

	var inserted, updated, unchanged atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, externalID := range order {
		batch := groups[externalID]
		g.Go(func() error {
			for _, rec := range batch {
				if err := gctx.Err(); err != nil {
					return err
				}
				outcome, err := s.principalRepo.UpsertFromExternal(gctx, model.UpsertExternalParams{
					ExternalID: rec.ExternalID,
					FirstName:  rec.FirstName,
					LastName:   rec.LastName,
					Email:      rec.Email,
					Phone:      rec.Phone,
				})
				if err != nil {
					return apperrors.Persistence(fmt.Errorf("upsert %s: %w", rec.ExternalID, err))
				}
				switch outcome {
				case model.MergeInserted:
					inserted.Add(1)
				case model.MergeUpdated:
					updated.Add(1)
				default:
					unchanged.Add(1)
				}
			}
			return nil
		})
	}
	err := g.Wait()

	summary.Inserted = int(inserted.Load())
	summary.Updated = int(updated.Load())
	summary.Unchanged = int(unchanged.Load())

	// gctx also ends when a worker fails; only the caller's context ending
	// counts as an abort.
	if err != nil && ctx.Err() != nil {
		return apperrors.SyncAborted(context.Cause(ctx))
	}
	return err
}

// recordRun stores the run in history. A failure here is logged; it does
// not change the outcome already applied to the principal store.
func (s *SyncService) recordRun(
	ctx context.Context,
	trigger model.SyncTrigger,
	triggeredBy *string,
	summary *model.SyncSummary,
	startedAt time.Time,
	runErr error,
) {
	params := model.CreateSyncRunParams{
		ID:          summary.RunID,
		Trigger:     trigger,
		TriggeredBy: triggeredBy,
		Status:      model.SyncRunSucceeded,
		Summary:     *summary,
		StartedAt:   startedAt,
		FinishedAt:  s.now(),
	}
	if runErr != nil {
		params.Status = model.SyncRunFailed
		msg := runErr.Error()
		params.Error = &msg
	}

	if _, err := s.runRepo.Create(context.WithoutCancel(ctx), params); err != nil {
		log.Error().Err(err).Str("runId", summary.RunID).Msg("failed to record sync run")
	}
}
