package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	tokenKeyPrefix  = "pos:token:"
	familyKeyPrefix = "pos:tokenfam:"
)

// rotateScript атомарно переводит текущий JTI из active в rotated и создаёт
// запись наследника. Возвращает 1 при успехе, 0 при проигранной гонке
// (state уже не active), -1 если текущий JTI не найден.
var rotateScript = redis.NewScript(`
local cur = KEYS[1]
local nxt = KEYS[2]
local fam = KEYS[3]

local state = redis.call('HGET', cur, 'state')
if not state then
	return -1
end
if state ~= 'active' then
	return 0
end

redis.call('HSET', cur, 'state', 'rotated')
redis.call('HSET', nxt,
	'user_id', ARGV[1],
	'family_id', ARGV[2],
	'state', ARGV[3],
	'issued_at', ARGV[4],
	'expires_at', ARGV[5])
redis.call('EXPIRE', nxt, tonumber(ARGV[6]))
redis.call('SADD', fam, ARGV[7])
redis.call('EXPIRE', fam, tonumber(ARGV[6]))
return 1
`)

// TokenRepository хранит refresh-токены в Redis: hash на каждый JTI плюс
// set семейства для каскадного отзыва. Протухшие записи убирает сам Redis
// через TTL, поэтому DeleteExpired здесь no-op.
type TokenRepository struct {
	client *redis.Client
}

func NewTokenRepository(client *redis.Client) *TokenRepository {
	return &TokenRepository{client: client}
}

func tokenKey(jti string) string { return tokenKeyPrefix + jti }

func familyKey(familyID string) string { return familyKeyPrefix + familyID }

func (r *TokenRepository) Create(ctx context.Context, rec domain.RefreshTokenRecord) error {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh token %s is already expired", rec.JTI)
	}

	key := tokenKey(rec.JTI)
	created, err := r.client.HSetNX(ctx, key, "state", string(rec.State)).Result()
	if err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	if !created {
		return fmt.Errorf("refresh token %s: %w", rec.JTI, domain.ErrConflict)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		"user_id", rec.UserID,
		"family_id", rec.FamilyID,
		"issued_at", rec.IssuedAt.UTC().Format(time.RFC3339Nano),
		"expires_at", rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, ttl)
	pipe.SAdd(ctx, familyKey(rec.FamilyID), rec.JTI)
	pipe.Expire(ctx, familyKey(rec.FamilyID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store refresh token fields: %w", err)
	}
	return nil
}

func (r *TokenRepository) Get(ctx context.Context, jti string) (domain.RefreshTokenRecord, error) {
	fields, err := r.client.HGetAll(ctx, tokenKey(jti)).Result()
	if err != nil {
		return domain.RefreshTokenRecord{}, fmt.Errorf("get refresh token: %w", err)
	}
	if len(fields) == 0 {
		return domain.RefreshTokenRecord{}, domain.ErrTokenNotFound
	}
	return recordFromFields(jti, fields)
}

func (r *TokenRepository) Rotate(ctx context.Context, currentJTI string, next domain.RefreshTokenRecord) error {
	ttl := time.Until(next.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("next refresh token %s is already expired", next.JTI)
	}
	ttlSeconds := int64(ttl / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	keys := []string{tokenKey(currentJTI), tokenKey(next.JTI), familyKey(next.FamilyID)}
	res, err := rotateScript.Run(ctx, r.client, keys,
		next.UserID,
		next.FamilyID,
		string(next.State),
		next.IssuedAt.UTC().Format(time.RFC3339Nano),
		next.ExpiresAt.UTC().Format(time.RFC3339Nano),
		ttlSeconds,
		next.JTI,
	).Int()
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("refresh token %s is not active: %w", currentJTI, domain.ErrConflict)
	default:
		return domain.ErrTokenNotFound
	}
}

func (r *TokenRepository) Revoke(ctx context.Context, jti string) error {
	key := tokenKey(jti)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check refresh token: %w", err)
	}
	if exists == 0 {
		return domain.ErrTokenNotFound
	}
	if err := r.client.HSet(ctx, key, "state", string(domain.TokenStateRevoked)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (r *TokenRepository) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	jtis, err := r.client.SMembers(ctx, familyKey(familyID)).Result()
	if err != nil {
		return 0, fmt.Errorf("load token family: %w", err)
	}

	revoked := 0
	for _, jti := range jtis {
		fields, err := r.client.HGetAll(ctx, tokenKey(jti)).Result()
		if err != nil {
			return revoked, fmt.Errorf("load family token %s: %w", jti, err)
		}
		if len(fields) == 0 || fields["state"] == string(domain.TokenStateRevoked) {
			continue
		}
		if err := r.client.HSet(ctx, tokenKey(jti), "state", string(domain.TokenStateRevoked)).Err(); err != nil {
			return revoked, fmt.Errorf("revoke family token %s: %w", jti, err)
		}
		revoked++
	}
	return revoked, nil
}

// DeleteExpired ничего не делает: у каждой записи выставлен TTL,
// Redis удаляет протухшие токены сам.
func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	return 0, nil
}

func recordFromFields(jti string, fields map[string]string) (domain.RefreshTokenRecord, error) {
	issuedAt, err := time.Parse(time.RFC3339Nano, fields["issued_at"])
	if err != nil {
		return domain.RefreshTokenRecord{}, fmt.Errorf("parse issued_at for %s: %w", jti, err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return domain.RefreshTokenRecord{}, fmt.Errorf("parse expires_at for %s: %w", jti, err)
	}
	state := domain.RefreshTokenState(fields["state"])
	switch state {
	case domain.TokenStateActive, domain.TokenStateRotated, domain.TokenStateRevoked:
	default:
		return domain.RefreshTokenRecord{}, fmt.Errorf("unknown token state %q for %s", fields["state"], jti)
	}

	return domain.RefreshTokenRecord{
		JTI:       jti,
		UserID:    fields["user_id"],
		FamilyID:  fields["family_id"],
		State:     state,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

var _ domain.TokenRepository = (*TokenRepository)(nil)
