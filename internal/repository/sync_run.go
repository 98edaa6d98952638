package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/crm-sync-server/internal/model"
)

type SyncRunRepository interface {
	Create(ctx context.Context, params model.CreateSyncRunParams) (*model.SyncRun, error)
	List(ctx context.Context, limit, offset int) ([]model.SyncRun, int, error)
}

type syncRunRepo struct {
	db *sqlx.DB
}

func NewSyncRunRepository(db *sqlx.DB) SyncRunRepository {
	return &syncRunRepo{db: db}
}

func (r *syncRunRepo) Create(ctx context.Context, params model.CreateSyncRunParams) (*model.SyncRun, error) {
	var run model.SyncRun
	err := r.db.GetContext(ctx, &run, `
		INSERT INTO sync_runs
			(id, trigger_source, triggered_by, status, fetched, inserted, updated, unchanged, skipped, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING *
	`, params.ID, params.Trigger, params.TriggeredBy, params.Status,
		params.Summary.Fetched, params.Summary.Inserted, params.Summary.Updated,
		params.Summary.Unchanged, params.Summary.Skipped,
		params.Error, params.StartedAt, params.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *syncRunRepo) List(ctx context.Context, limit, offset int) ([]model.SyncRun, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM sync_runs`); err != nil {
		return nil, 0, err
	}

	runs := []model.SyncRun{}
	err := r.db.SelectContext(ctx, &runs, `
		SELECT * FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}
