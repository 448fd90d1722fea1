// Package postgresrepo backs the reset-token table with Postgres.
package postgresrepo

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/jrsteele09/go-user-management/reset"
	"github.com/pkg/errors"
)

var _ reset.Repo = (*PostgresResetRepo)(nil)

type PostgresResetRepo struct {
	db *sql.DB
}

func New(db *sql.DB) *PostgresResetRepo {
	return &PostgresResetRepo{db: db}
}

func (r *PostgresResetRepo) Create(ctx context.Context, token *reset.Token) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		token.Token, token.UserID, token.ExpiresAt, token.Used, token.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "[Create] insert")
	}
	return nil
}

func (r *PostgresResetRepo) Get(ctx context.Context, tokenStr string) (*reset.Token, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT token, user_id, expires_at, used, created_at
		FROM password_resets WHERE token = $1`, tokenStr)

	var token reset.Token
	err := row.Scan(&token.Token, &token.UserID, &token.ExpiresAt, &token.Used, &token.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, reset.ErrTokenNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Get] scan")
	}
	return &token, nil
}

// MarkUsed is the single-use gate: the conditional UPDATE flips used
// atomically, so of two concurrent consumers exactly one sees a row change.
func (r *PostgresResetRepo) MarkUsed(ctx context.Context, tokenStr string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE password_resets SET used = TRUE
		WHERE token = $1 AND used = FALSE`, tokenStr)
	if err != nil {
		return errors.Wrap(err, "[MarkUsed] update")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "[MarkUsed] rows affected")
	}
	if affected == 1 {
		return nil
	}

	// No row changed: either the token does not exist or it was already
	// consumed.
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM password_resets WHERE token = $1)`, tokenStr).Scan(&exists); err != nil {
		return errors.Wrap(err, "[MarkUsed] exists")
	}
	if !exists {
		return reset.ErrTokenNotFound
	}
	return reset.ErrTokenAlreadyUsed
}

func (r *PostgresResetRepo) Release(ctx context.Context, tokenStr string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE password_resets SET used = FALSE WHERE token = $1`, tokenStr)
	if err != nil {
		return errors.Wrap(err, "[Release] update")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "[Release] rows affected")
	}
	if affected == 0 {
		return reset.ErrTokenNotFound
	}
	return nil
}
