package batch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
	"github.com/fluxcode/transcoder/pkg/job"
)

// PostgresRepository persists batches to the batches table, creating child
// jobs in the jobs table inside the same transaction.
type PostgresRepository struct {
	db   *sqlx.DB
	jobs *job.PostgresRepository
}

// NewPostgresRepository constructs a PostgresRepository. jobs is the same
// job.PostgresRepository the rest of the service wires, reused here so
// child-job encoding has one source of truth.
func NewPostgresRepository(db *sqlx.DB, jobs *job.PostgresRepository) *PostgresRepository {
	return &PostgresRepository{db: db, jobs: jobs}
}

type batchRow struct {
	ID              string         `db:"id"`
	CredentialID    string         `db:"credential_id"`
	State           string         `db:"state"`
	ConcurrencyCap  int            `db:"concurrency_cap"`
	MaxRetries      int            `db:"max_retries"`
	CallbackURL     sql.NullString `db:"callback_url"`
	TotalChildren   int            `db:"total_children"`
	QueuedCount     int            `db:"queued_count"`
	ProcessingCount int            `db:"processing_count"`
	CompletedCount  int            `db:"completed_count"`
	FailedCount     int            `db:"failed_count"`
	CancelledCount  int            `db:"cancelled_count"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
}

func toBatchRow(b *Batch) *batchRow {
	row := &batchRow{
		ID:              b.ID,
		CredentialID:    b.CredentialID,
		State:           string(b.State),
		ConcurrencyCap:  b.ConcurrencyCap,
		MaxRetries:      b.MaxRetries,
		CallbackURL:     sql.NullString{String: b.CallbackURL, Valid: b.CallbackURL != ""},
		TotalChildren:   b.TotalChildren,
		QueuedCount:     b.QueuedCount,
		ProcessingCount: b.ProcessingCount,
		CompletedCount:  b.CompletedCount,
		FailedCount:     b.FailedCount,
		CancelledCount:  b.CancelledCount,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
	if !b.CompletedAt.IsZero() {
		row.CompletedAt = sql.NullTime{Time: b.CompletedAt, Valid: true}
	}
	return row
}

func fromBatchRow(row *batchRow) *Batch {
	b := &Batch{
		ID:              row.ID,
		CredentialID:    row.CredentialID,
		State:           State(row.State),
		ConcurrencyCap:  row.ConcurrencyCap,
		MaxRetries:      row.MaxRetries,
		CallbackURL:     row.CallbackURL.String,
		TotalChildren:   row.TotalChildren,
		QueuedCount:     row.QueuedCount,
		ProcessingCount: row.ProcessingCount,
		CompletedCount:  row.CompletedCount,
		FailedCount:     row.FailedCount,
		CancelledCount:  row.CancelledCount,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.CompletedAt.Valid {
		b.CompletedAt = row.CompletedAt.Time
	}
	return b
}

func (r *PostgresRepository) Create(ctx context.Context, b *Batch, req EnqueueRequest) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("beginning batch transaction", err)
	}
	defer tx.Rollback()

	row := toBatchRow(b)
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO batches
			(id, credential_id, state, concurrency_cap, max_retries, callback_url, total_children,
			 queued_count, processing_count, completed_count, failed_count, cancelled_count,
			 created_at, updated_at, completed_at)
		VALUES
			(:id, :credential_id, :state, :concurrency_cap, :max_retries, :callback_url, :total_children,
			 :queued_count, :processing_count, :completed_count, :failed_count, :cancelled_count,
			 :created_at, :updated_at, :completed_at)
	`, row)
	if err != nil {
		return apperrors.NewDatabaseError("inserting batch", err)
	}

	for _, spec := range req.Children {
		child := &job.Job{
			ID:            uuid.NewString(),
			CredentialID:  req.CredentialID,
			State:         job.StateQueued,
			InputLocator:  spec.InputLocator,
			OutputLocator: spec.OutputLocator,
			Options:       spec.Options,
			Operations:    spec.Operations,
			BatchID:       b.ID,
			Priority:      spec.Priority,
			CreatedAt:     b.CreatedAt,
			UpdatedAt:     b.CreatedAt,
		}
		if err := r.jobs.CreateTx(ctx, tx, child); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("committing batch transaction", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Batch, error) {
	var row batchRow
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM batches WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFoundError("batch not found")
		}
		return nil, apperrors.NewDatabaseError("querying batch", err)
	}
	return fromBatchRow(&row), nil
}

func (r *PostgresRepository) Update(ctx context.Context, b *Batch) error {
	row := toBatchRow(b)
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE batches SET
			state = :state, concurrency_cap = :concurrency_cap, max_retries = :max_retries,
			callback_url = :callback_url, total_children = :total_children,
			queued_count = :queued_count, processing_count = :processing_count,
			completed_count = :completed_count, failed_count = :failed_count,
			cancelled_count = :cancelled_count, updated_at = :updated_at, completed_at = :completed_at
		WHERE id = :id
	`, row)
	if err != nil {
		return apperrors.NewDatabaseError("updating batch", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	where := "WHERE ($1 = '' OR credential_id = $1)"
	args := []interface{}{filter.CredentialID}
	if filter.State != "" {
		where += " AND state = $2"
		args = append(args, string(filter.State))
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM batches %s`, where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, apperrors.NewDatabaseError("counting batches", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	listQuery := fmt.Sprintf(`SELECT * FROM batches %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))

	var rows []batchRow
	if err := r.db.SelectContext(ctx, &rows, listQuery, args...); err != nil {
		return nil, apperrors.NewDatabaseError("listing batches", err)
	}
	batches := make([]*Batch, 0, len(rows))
	for i := range rows {
		batches = append(batches, fromBatchRow(&rows[i]))
	}
	return &ListResult{Batches: batches, Total: total}, nil
}
