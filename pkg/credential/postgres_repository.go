package credential

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
	"github.com/fluxcode/transcoder/pkg/ratelimit"
)

// PostgresRepository persists credentials to the api_credentials table.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository constructs a PostgresRepository over an existing
// pool.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type credentialRow struct {
	ID         string         `db:"id"`
	SecretHash string         `db:"secret_hash"`
	Label      sql.NullString `db:"label"`
	Tier       string         `db:"tier"`
	Active     bool           `db:"active"`
	Admin      bool           `db:"admin"`
	RevokedAt  sql.NullTime   `db:"revoked_at"`
	ExpiresAt  sql.NullTime   `db:"expires_at"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func toCredentialRow(c *Credential) *credentialRow {
	row := &credentialRow{
		ID:         c.ID,
		SecretHash: c.SecretHash,
		Label:      sql.NullString{String: c.Label, Valid: c.Label != ""},
		Tier:       string(c.Tier),
		Active:     c.Active,
		Admin:      c.Admin,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
	if !c.RevokedAt.IsZero() {
		row.RevokedAt = sql.NullTime{Time: c.RevokedAt, Valid: true}
	}
	if !c.ExpiresAt.IsZero() {
		row.ExpiresAt = sql.NullTime{Time: c.ExpiresAt, Valid: true}
	}
	return row
}

func fromCredentialRow(row *credentialRow) *Credential {
	c := &Credential{
		ID:         row.ID,
		SecretHash: row.SecretHash,
		Label:      row.Label.String,
		Tier:       ratelimit.Tier(row.Tier),
		Active:     row.Active,
		Admin:      row.Admin,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if row.RevokedAt.Valid {
		c.RevokedAt = row.RevokedAt.Time
	}
	if row.ExpiresAt.Valid {
		c.ExpiresAt = row.ExpiresAt.Time
	}
	return c
}

func (r *PostgresRepository) Create(ctx context.Context, c *Credential) error {
	row := toCredentialRow(c)
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO api_credentials
			(id, secret_hash, label, tier, active, admin, revoked_at, expires_at, created_at, updated_at)
		VALUES
			(:id, :secret_hash, :label, :tier, :active, :admin, :revoked_at, :expires_at, :created_at, :updated_at)
	`, row)
	if err != nil {
		return apperrors.NewDatabaseError("inserting credential", err)
	}
	return nil
}

func (r *PostgresRepository) GetByHash(ctx context.Context, secretHash string) (*Credential, error) {
	var row credentialRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM api_credentials WHERE secret_hash = $1`, secretHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFoundError("credential not found")
		}
		return nil, apperrors.NewDatabaseError("querying credential", err)
	}
	return fromCredentialRow(&row), nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Credential, error) {
	var row credentialRow
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM api_credentials WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFoundError("credential not found")
		}
		return nil, apperrors.NewDatabaseError("querying credential", err)
	}
	return fromCredentialRow(&row), nil
}

func (r *PostgresRepository) Update(ctx context.Context, c *Credential) error {
	row := toCredentialRow(c)
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE api_credentials SET
			label = :label, tier = :tier, active = :active, admin = :admin,
			revoked_at = :revoked_at, expires_at = :expires_at, updated_at = :updated_at
		WHERE id = :id
	`, row)
	if err != nil {
		return apperrors.NewDatabaseError("updating credential", err)
	}
	return nil
}
