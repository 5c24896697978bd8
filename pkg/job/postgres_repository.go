package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
	"github.com/fluxcode/transcoder/pkg/cmdbuilder"
)

// PostgresRepository persists jobs to the jobs table.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository constructs a PostgresRepository over an existing
// pool.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type jobRow struct {
	ID              string         `db:"id"`
	CredentialID    string         `db:"credential_id"`
	State           string         `db:"state"`
	InputLocator    string         `db:"input_locator"`
	OutputLocator   string         `db:"output_locator"`
	Options         []byte         `db:"options"`
	Operations      []byte         `db:"operations"`
	BatchID         sql.NullString `db:"batch_id"`
	CallbackURL     sql.NullString `db:"callback_url"`
	Priority        int            `db:"priority"`
	Progress        float64        `db:"progress"`
	Stage           sql.NullString `db:"stage"`
	Message         sql.NullString `db:"message"`
	CreatedAt       time.Time      `db:"created_at"`
	StartedAt       sql.NullTime   `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	WorkerID        sql.NullString `db:"worker_id"`
	ErrorMessage    sql.NullString `db:"error_message"`
	Quality         []byte         `db:"quality"`
	ProcessingStats []byte         `db:"processing_stats"`
	RetryCount      int            `db:"retry_count"`
}

func toJobRow(j *Job) (*jobRow, error) {
	options, err := json.Marshal(j.Options)
	if err != nil {
		return nil, err
	}
	operations, err := json.Marshal(j.Operations)
	if err != nil {
		return nil, err
	}
	var quality, stats []byte
	if j.Quality != nil {
		if quality, err = json.Marshal(j.Quality); err != nil {
			return nil, err
		}
	}
	if j.ProcessingStats != nil {
		if stats, err = json.Marshal(j.ProcessingStats); err != nil {
			return nil, err
		}
	}

	row := &jobRow{
		ID:            j.ID,
		CredentialID:  j.CredentialID,
		State:         string(j.State),
		InputLocator:  j.InputLocator,
		OutputLocator: j.OutputLocator,
		Options:       options,
		Operations:    operations,
		BatchID:       sql.NullString{String: j.BatchID, Valid: j.BatchID != ""},
		CallbackURL:   sql.NullString{String: j.CallbackURL, Valid: j.CallbackURL != ""},
		Priority:      j.Priority,
		Progress:      j.Progress,
		Stage:         sql.NullString{String: j.Stage, Valid: j.Stage != ""},
		Message:       sql.NullString{String: j.Message, Valid: j.Message != ""},
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		WorkerID:      sql.NullString{String: j.WorkerID, Valid: j.WorkerID != ""},
		ErrorMessage:  sql.NullString{String: j.ErrorMessage, Valid: j.ErrorMessage != ""},
		Quality:       quality,
		ProcessingStats: stats,
		RetryCount:    j.RetryCount,
	}
	if !j.StartedAt.IsZero() {
		row.StartedAt = sql.NullTime{Time: j.StartedAt, Valid: true}
	}
	if !j.CompletedAt.IsZero() {
		row.CompletedAt = sql.NullTime{Time: j.CompletedAt, Valid: true}
	}
	return row, nil
}

func fromJobRow(row *jobRow) (*Job, error) {
	var options map[string]interface{}
	if len(row.Options) > 0 {
		if err := json.Unmarshal(row.Options, &options); err != nil {
			return nil, err
		}
	}
	var operations []cmdbuilder.Operation
	if len(row.Operations) > 0 {
		if err := json.Unmarshal(row.Operations, &operations); err != nil {
			return nil, err
		}
	}
	j := &Job{
		ID:            row.ID,
		CredentialID:  row.CredentialID,
		State:         State(row.State),
		InputLocator:  row.InputLocator,
		OutputLocator: row.OutputLocator,
		Options:       options,
		Operations:    operations,
		BatchID:       row.BatchID.String,
		CallbackURL:   row.CallbackURL.String,
		Priority:      row.Priority,
		Progress:      row.Progress,
		Stage:         row.Stage.String,
		Message:       row.Message.String,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		WorkerID:      row.WorkerID.String,
		ErrorMessage:  row.ErrorMessage.String,
		RetryCount:    row.RetryCount,
	}
	if row.StartedAt.Valid {
		j.StartedAt = row.StartedAt.Time
	}
	if row.CompletedAt.Valid {
		j.CompletedAt = row.CompletedAt.Time
	}
	if len(row.Quality) > 0 {
		var q QualityScores
		if err := json.Unmarshal(row.Quality, &q); err != nil {
			return nil, err
		}
		j.Quality = &q
	}
	if len(row.ProcessingStats) > 0 {
		var s Stats
		if err := json.Unmarshal(row.ProcessingStats, &s); err != nil {
			return nil, err
		}
		j.ProcessingStats = &s
	}
	return j, nil
}

func (r *PostgresRepository) Create(ctx context.Context, j *Job) error {
	row, err := toJobRow(j)
	if err != nil {
		return apperrors.NewDatabaseError("encoding job for insert", err)
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO jobs
			(id, credential_id, state, input_locator, output_locator, options, operations,
			 batch_id, callback_url, priority, progress, stage, message, created_at, started_at,
			 completed_at, updated_at, worker_id, error_message, quality, processing_stats, retry_count)
		VALUES
			(:id, :credential_id, :state, :input_locator, :output_locator, :options, :operations,
			 :batch_id, :callback_url, :priority, :progress, :stage, :message, :created_at, :started_at,
			 :completed_at, :updated_at, :worker_id, :error_message, :quality, :processing_stats, :retry_count)
	`, row)
	if err != nil {
		return apperrors.NewDatabaseError("inserting job", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Job, error) {
	var row jobRow
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFoundError("job not found")
		}
		return nil, apperrors.NewDatabaseError("querying job", err)
	}
	return fromJobRow(&row)
}

func (r *PostgresRepository) Update(ctx context.Context, j *Job) error {
	row, err := toJobRow(j)
	if err != nil {
		return apperrors.NewDatabaseError("encoding job for update", err)
	}
	_, err = r.db.NamedExecContext(ctx, `
		UPDATE jobs SET
			state = :state, options = :options, operations = :operations, batch_id = :batch_id,
			callback_url = :callback_url, priority = :priority, progress = :progress, stage = :stage,
			message = :message, started_at = :started_at, completed_at = :completed_at,
			updated_at = :updated_at, worker_id = :worker_id, error_message = :error_message,
			quality = :quality, processing_stats = :processing_stats, retry_count = :retry_count
		WHERE id = :id
	`, row)
	if err != nil {
		return apperrors.NewDatabaseError("updating job", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewDatabaseError("deleting job", err)
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
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM jobs %s`, where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, apperrors.NewDatabaseError("counting jobs", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	listQuery := fmt.Sprintf(`SELECT * FROM jobs %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))

	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, listQuery, args...); err != nil {
		return nil, apperrors.NewDatabaseError("listing jobs", err)
	}

	jobs := make([]*Job, 0, len(rows))
	for i := range rows {
		j, err := fromJobRow(&rows[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return &ListResult{Jobs: jobs, Total: total}, nil
}

func (r *PostgresRepository) ListOlderThan(ctx context.Context, states []State, olderThan time.Time) ([]*Job, error) {
	stateStrings := make([]string, len(states))
	for i, s := range states {
		stateStrings[i] = string(s)
	}
	query, args, err := sqlx.In(`SELECT * FROM jobs WHERE state IN (?) AND updated_at < ?`, stateStrings, olderThan)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperrors.NewDatabaseError("listing stale jobs", err)
	}
	jobs := make([]*Job, 0, len(rows))
	for i := range rows {
		j, err := fromJobRow(&rows[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (r *PostgresRepository) ListByBatch(ctx context.Context, batchID string) ([]*Job, error) {
	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM jobs WHERE batch_id = $1 ORDER BY created_at ASC`, batchID); err != nil {
		return nil, apperrors.NewDatabaseError("listing batch children", err)
	}
	jobs := make([]*Job, 0, len(rows))
	for i := range rows {
		j, err := fromJobRow(&rows[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CreateTx inserts a job as part of a caller-managed transaction, for the
// batch coordinator's transactional batch+children creation (spec §4.J).
func (r *PostgresRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, j *Job) error {
	row, err := toJobRow(j)
	if err != nil {
		return apperrors.NewDatabaseError("encoding job for insert", err)
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO jobs
			(id, credential_id, state, input_locator, output_locator, options, operations,
			 batch_id, callback_url, priority, progress, stage, message, created_at, started_at,
			 completed_at, updated_at, worker_id, error_message, quality, processing_stats, retry_count)
		VALUES
			(:id, :credential_id, :state, :input_locator, :output_locator, :options, :operations,
			 :batch_id, :callback_url, :priority, :progress, :stage, :message, :created_at, :started_at,
			 :completed_at, :updated_at, :worker_id, :error_message, :quality, :processing_stats, :retry_count)
	`, row)
	if err != nil {
		return apperrors.NewDatabaseError("inserting job", err)
	}
	return nil
}

func (r *PostgresRepository) CountActive(ctx context.Context, credentialID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM jobs WHERE credential_id = $1 AND state = $2`,
		credentialID, string(StateProcessing))
	if err != nil {
		return 0, apperrors.NewDatabaseError("counting active jobs", err)
	}
	return count, nil
}
