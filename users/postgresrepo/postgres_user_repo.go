// Package postgresrepo backs the Principal directory with Postgres.
package postgresrepo

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jrsteele09/go-user-management/users"
	"github.com/pkg/errors"
)

const uniqueViolationCode = "23505"

var _ users.UserRepo = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	db *sql.DB
}

func New(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, username, email, password_hash,
	enabled, account_locked, account_expired, credentials_expired,
	failed_login_attempts, totp_secret, two_factor_enabled, role,
	account_expiry_date, credentials_expiry_date, sign_up_method,
	created_at, updated_at`

func (r *PostgresUserRepo) Create(ctx context.Context, user *users.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		user.ID, user.Username, user.Email, user.PasswordHash,
		user.Enabled, user.AccountLocked, user.AccountExpired, user.CredentialsExpired,
		user.FailedLoginAttempts, user.TotpSecret, user.TwoFactorEnabled, string(user.Role),
		nullableTime(user.AccountExpiryDate), nullableTime(user.CredentialsExpiryDate), user.SignUpMethod,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return classifyUniqueViolation(err)
	}
	return nil
}

func (r *PostgresUserRepo) Update(ctx context.Context, user *users.User) error {
	user.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			username = $2, email = $3, password_hash = $4,
			enabled = $5, account_locked = $6, account_expired = $7, credentials_expired = $8,
			failed_login_attempts = $9, totp_secret = $10, two_factor_enabled = $11, role = $12,
			account_expiry_date = $13, credentials_expiry_date = $14, sign_up_method = $15,
			updated_at = $16
		WHERE id = $1`,
		user.ID, user.Username, user.Email, user.PasswordHash,
		user.Enabled, user.AccountLocked, user.AccountExpired, user.CredentialsExpired,
		user.FailedLoginAttempts, user.TotpSecret, user.TwoFactorEnabled, string(user.Role),
		nullableTime(user.AccountExpiryDate), nullableTime(user.CredentialsExpiryDate), user.SignUpMethod,
		user.UpdatedAt,
	)
	if err != nil {
		return classifyUniqueViolation(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "[Update] rows affected")
	}
	if affected == 0 {
		return users.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, id string) (*users.User, error) {
	return r.getBy(ctx, "id", id)
}

func (r *PostgresUserRepo) GetByUsername(ctx context.Context, username string) (*users.User, error) {
	return r.getBy(ctx, "username", username)
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	return r.getBy(ctx, "email", email)
}

func (r *PostgresUserRepo) getBy(ctx context.Context, column, value string) (*users.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, value)

	var (
		user              users.User
		role              string
		accountExpiry     sql.NullTime
		credentialsExpiry sql.NullTime
	)
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.Enabled, &user.AccountLocked, &user.AccountExpired, &user.CredentialsExpired,
		&user.FailedLoginAttempts, &user.TotpSecret, &user.TwoFactorEnabled, &role,
		&accountExpiry, &credentialsExpiry, &user.SignUpMethod,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, users.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[getBy] scan")
	}

	user.Role = users.RoleType(role)
	if accountExpiry.Valid {
		user.AccountExpiryDate = accountExpiry.Time
	}
	if credentialsExpiry.Valid {
		user.CredentialsExpiryDate = credentialsExpiry.Time
	}
	return &user, nil
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func classifyUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		switch pgErr.ConstraintName {
		case "users_username_key":
			return users.ErrDuplicateUsername
		case "users_email_key":
			return users.ErrDuplicateEmail
		}
	}
	return errors.Wrap(err, "[users] query")
}
