package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// TokenRepository хранит refresh-токены в PostgreSQL.
// Ротация делается одним UPDATE с предикатом state='active' —
// проигравший гонку получает domain.ErrConflict без явных блокировок.
type TokenRepository struct {
	db *sql.DB
}

// NewTokenRepository создаёт репозиторий поверх существующего подключения.
func NewTokenRepository(store *Store) *TokenRepository {
	return &TokenRepository{db: store.DB()}
}

func (r *TokenRepository) Create(ctx context.Context, rec domain.RefreshTokenRecord) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (jti, user_id, family_id, state, issued_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, rec.JTI, rec.UserID, rec.FamilyID, string(rec.State), rec.IssuedAt, rec.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("refresh token %s: %w", rec.JTI, domain.ErrConflict)
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *TokenRepository) Get(ctx context.Context, jti string) (domain.RefreshTokenRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var rec domain.RefreshTokenRecord
	var state string
	err := r.db.QueryRowContext(ctx, `
		SELECT jti, user_id, family_id, state, issued_at, expires_at
		FROM refresh_tokens
		WHERE jti = $1
	`, jti).Scan(&rec.JTI, &rec.UserID, &rec.FamilyID, &state, &rec.IssuedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RefreshTokenRecord{}, domain.ErrTokenNotFound
		}
		return domain.RefreshTokenRecord{}, fmt.Errorf("select refresh token: %w", err)
	}
	rec.State = domain.RefreshTokenState(state)
	return rec, nil
}

// Rotate атомарно переводит текущий токен в rotated и создаёт наследника.
// Если текущий токен уже не active — кто-то успел раньше, это ErrConflict.
func (r *TokenRepository) Rotate(ctx context.Context, currentJTI string, next domain.RefreshTokenRecord) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens SET state = 'rotated'
		WHERE jti = $1 AND state = 'active'
	`, currentJTI)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT TRUE FROM refresh_tokens WHERE jti = $1`, currentJTI,
		).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrTokenNotFound
			}
			return fmt.Errorf("check refresh token existence: %w", err)
		}
		return domain.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (jti, user_id, family_id, state, issued_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, next.JTI, next.UserID, next.FamilyID, string(next.State), next.IssuedAt, next.ExpiresAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("refresh token %s: %w", next.JTI, domain.ErrConflict)
		}
		return fmt.Errorf("insert next refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotate tx: %w", err)
	}
	return nil
}

func (r *TokenRepository) Revoke(ctx context.Context, jti string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET state = 'revoked'
		WHERE jti = $1
	`, jti)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrTokenNotFound
	}
	return nil
}

func (r *TokenRepository) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET state = 'revoked'
		WHERE family_id = $1 AND state <> 'revoked'
	`, familyID)
	if err != nil {
		return 0, fmt.Errorf("revoke token family: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke family rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 500
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens
		WHERE jti IN (
			SELECT jti FROM refresh_tokens
			WHERE expires_at <= $1
			LIMIT $2
		)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired rows affected: %w", err)
	}
	return int(affected), nil
}

var _ domain.TokenRepository = (*TokenRepository)(nil)
