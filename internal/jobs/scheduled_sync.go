package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/crm-sync-server/internal/errors"
	"github.com/openclaw/crm-sync-server/internal/model"
)

type Syncer interface {
	Sync(ctx context.Context, trigger model.SyncTrigger, triggeredBy *string) (*model.SyncSummary, error)
}

// ScheduledSyncJob runs reconciliation on a fixed interval. It shares the
// sync lock with manual runs, so a tick during a manual run is skipped.
type ScheduledSyncJob struct {
	syncer   Syncer
	interval time.Duration
	timeout  time.Duration
	done     chan struct{}
	stopped  chan struct{}
}

func NewScheduledSyncJob(syncer Syncer, interval, timeout time.Duration) *ScheduledSyncJob {
	return &ScheduledSyncJob{
		syncer:   syncer,
		interval: interval,
		timeout:  timeout,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (j *ScheduledSyncJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("scheduled sync job started")
}

// Stop waits for an in-flight run to finish.
func (j *ScheduledSyncJob) Stop() {
	close(j.done)
	<-j.stopped
	log.Info().Msg("scheduled sync job stopped")
}

func (j *ScheduledSyncJob) run() {
	defer close(j.stopped)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.syncOnce()
		}
	}
}

func (j *ScheduledSyncJob) syncOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	summary, err := j.syncer.Sync(ctx, model.SyncTriggerScheduled, nil)
	if apperrors.GetCode(err) == apperrors.ErrCodeSyncInProgress {
		log.Info().Msg("scheduled sync skipped, another run in progress")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("scheduled sync failed")
		return
	}
	log.Debug().Str("runId", summary.RunID).Msg("scheduled sync finished")
}
