package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresRepository persists deliveries to the webhook_deliveries table.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository constructs a PostgresRepository over an existing
// pool.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type deliveryRow struct {
	ID             string         `db:"id"`
	JobID          string         `db:"job_id"`
	Event          string         `db:"event"`
	TargetURL      string         `db:"target_url"`
	Payload        []byte         `db:"payload"`
	Attempt        int            `db:"attempt"`
	State          string         `db:"state"`
	CreatedAt      time.Time      `db:"created_at"`
	LastAttemptAt  sql.NullTime   `db:"last_attempt_at"`
	NextRetryAt    sql.NullTime   `db:"next_retry_at"`
	ResponseStatus sql.NullInt32  `db:"response_status"`
	ResponseBody   sql.NullString `db:"response_body"`
	ErrorMessage   sql.NullString `db:"error_message"`
}

func toRow(d *Delivery) (*deliveryRow, error) {
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, err
	}
	row := &deliveryRow{
		ID:           d.ID,
		JobID:        d.JobID,
		Event:        string(d.Event),
		TargetURL:    d.TargetURL,
		Payload:      payload,
		Attempt:      d.Attempt,
		State:        string(d.State),
		CreatedAt:    d.CreatedAt,
		ErrorMessage: sql.NullString{String: d.ErrorMessage, Valid: d.ErrorMessage != ""},
		ResponseBody: sql.NullString{String: d.ResponseBody, Valid: d.ResponseBody != ""},
	}
	if d.LastAttemptAt != nil {
		row.LastAttemptAt = sql.NullTime{Time: *d.LastAttemptAt, Valid: true}
	}
	if d.NextRetryAt != nil {
		row.NextRetryAt = sql.NullTime{Time: *d.NextRetryAt, Valid: true}
	}
	if d.ResponseStatus != 0 {
		row.ResponseStatus = sql.NullInt32{Int32: int32(d.ResponseStatus), Valid: true}
	}
	return row, nil
}

func fromRow(row *deliveryRow) (*Delivery, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return nil, err
	}
	d := &Delivery{
		ID:        row.ID,
		JobID:     row.JobID,
		Event:     Event(row.Event),
		TargetURL: row.TargetURL,
		Payload:   payload,
		Attempt:   row.Attempt,
		State:     DeliveryState(row.State),
		CreatedAt: row.CreatedAt,
	}
	if row.LastAttemptAt.Valid {
		d.LastAttemptAt = &row.LastAttemptAt.Time
	}
	if row.NextRetryAt.Valid {
		d.NextRetryAt = &row.NextRetryAt.Time
	}
	if row.ResponseStatus.Valid {
		d.ResponseStatus = int(row.ResponseStatus.Int32)
	}
	d.ResponseBody = row.ResponseBody.String
	d.ErrorMessage = row.ErrorMessage.String
	return d, nil
}

func (r *PostgresRepository) Create(ctx context.Context, d *Delivery) error {
	row, err := toRow(d)
	if err != nil {
		return err
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO webhook_deliveries
			(id, job_id, event, target_url, payload, attempt, state, created_at,
			 last_attempt_at, next_retry_at, response_status, response_body, error_message)
		VALUES
			(:id, :job_id, :event, :target_url, :payload, :attempt, :state, :created_at,
			 :last_attempt_at, :next_retry_at, :response_status, :response_body, :error_message)
	`, row)
	return err
}

func (r *PostgresRepository) Update(ctx context.Context, d *Delivery) error {
	row, err := toRow(d)
	if err != nil {
		return err
	}
	_, err = r.db.NamedExecContext(ctx, `
		UPDATE webhook_deliveries SET
			attempt = :attempt, state = :state, last_attempt_at = :last_attempt_at,
			next_retry_at = :next_retry_at, response_status = :response_status,
			response_body = :response_body, error_message = :error_message
		WHERE id = :id
	`, row)
	return err
}

func (r *PostgresRepository) ListByJob(ctx context.Context, jobID string) ([]*Delivery, error) {
	var rows []deliveryRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM webhook_deliveries WHERE job_id = $1 ORDER BY attempt ASC
	`, jobID); err != nil {
		return nil, err
	}
	return toDeliveries(rows)
}

func (r *PostgresRepository) ListDueRetries(ctx context.Context, before time.Time) ([]*Delivery, error) {
	var rows []deliveryRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM webhook_deliveries WHERE state = 'retrying' AND next_retry_at <= $1
	`, before); err != nil {
		return nil, err
	}
	return toDeliveries(rows)
}

func (r *PostgresRepository) PurgeOlderThan(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PostgresRepository) Statistics(ctx context.Context) (Statistics, error) {
	var s Statistics
	row := r.db.QueryRowxContext(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE state = 'sent') AS successes,
			COUNT(*) FILTER (WHERE state = 'failed') AS failures,
			COUNT(*) FILTER (WHERE state = 'pending') AS pending,
			COUNT(*) FILTER (WHERE state = 'retrying') AS retrying,
			COUNT(*) FILTER (WHERE state = 'abandoned') AS abandoned
		FROM webhook_deliveries
	`)
	if err := row.Scan(&s.Total, &s.Successes, &s.Failures, &s.Pending, &s.Retrying, &s.Abandoned); err != nil {
		return Statistics{}, err
	}
	return s, nil
}

func toDeliveries(rows []deliveryRow) ([]*Delivery, error) {
	out := make([]*Delivery, 0, len(rows))
	for i := range rows {
		d, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
