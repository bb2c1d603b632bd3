package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// TokenRepository — in-memory хранилище refresh-токенов. Rotate выполняет
// compare-and-swap под блокировкой: проигравший гонку refresh получает
// ErrConflict, как и в Redis/Postgres реализациях.
type TokenRepository struct {
	mu       sync.Mutex
	tokens   map[string]domain.RefreshTokenRecord
	families map[string][]string
}

func NewTokenRepository() *TokenRepository {
	return &TokenRepository{
		tokens:   make(map[string]domain.RefreshTokenRecord),
		families: make(map[string][]string),
	}
}

func (r *TokenRepository) Create(ctx context.Context, rec domain.RefreshTokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[rec.JTI]; exists {
		return domain.ErrConflict
	}
	r.tokens[rec.JTI] = rec
	r.families[rec.FamilyID] = append(r.families[rec.FamilyID], rec.JTI)
	return nil
}

func (r *TokenRepository) Get(ctx context.Context, jti string) (domain.RefreshTokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tokens[jti]
	if !ok {
		return domain.RefreshTokenRecord{}, domain.ErrTokenNotFound
	}
	return rec, nil
}

func (r *TokenRepository) Rotate(ctx context.Context, jti string, next domain.RefreshTokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tokens[jti]
	if !ok {
		return domain.ErrTokenNotFound
	}
	if rec.State != domain.TokenStateActive {
		return domain.ErrConflict
	}
	if _, exists := r.tokens[next.JTI]; exists {
		return domain.ErrConflict
	}

	rec.State = domain.TokenStateRotated
	r.tokens[jti] = rec
	r.tokens[next.JTI] = next
	r.families[next.FamilyID] = append(r.families[next.FamilyID], next.JTI)
	return nil
}

func (r *TokenRepository) Revoke(ctx context.Context, jti string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tokens[jti]
	if !ok {
		return domain.ErrTokenNotFound
	}
	rec.State = domain.TokenStateRevoked
	r.tokens[jti] = rec
	return nil
}

func (r *TokenRepository) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	revoked := 0
	for _, jti := range r.families[familyID] {
		rec, ok := r.tokens[jti]
		if !ok || rec.State == domain.TokenStateRevoked {
			continue
		}
		rec.State = domain.TokenStateRevoked
		r.tokens[jti] = rec
		revoked++
	}
	return revoked, nil
}

func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for jti, rec := range r.tokens {
		if rec.ExpiresAt.After(before) {
			continue
		}
		delete(r.tokens, jti)
		deleted++
		if limit > 0 && deleted >= limit {
			break
		}
	}
	return deleted, nil
}

var _ domain.TokenRepository = (*TokenRepository)(nil)
