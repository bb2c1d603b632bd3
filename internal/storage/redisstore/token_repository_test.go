package redisstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("POS_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func cleanTokenKeys(t *testing.T, client *redis.Client) {
	t.Helper()

	ctx := context.Background()
	for _, pattern := range []string{tokenKeyPrefix + "*", familyKeyPrefix + "*"} {
		keys, err := client.Keys(ctx, pattern).Result()
		if err != nil {
			t.Fatalf("list keys %s: %v", pattern, err)
		}
		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				t.Fatalf("delete keys: %v", err)
			}
		}
	}
}

func activeRecord(jti, familyID string) domain.RefreshTokenRecord {
	return domain.RefreshTokenRecord{
		JTI:       jti,
		UserID:    "user-redis-1",
		FamilyID:  familyID,
		State:     domain.TokenStateActive,
		IssuedAt:  time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
}

func TestTokenRepository_CreateAndGet(t *testing.T) {
	client := getRedisClient(t)
	cleanTokenKeys(t, client)
	repo := NewTokenRepository(client)

	ctx := context.Background()
	rec := activeRecord("jti-r-1", "fam-r-1")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.Get(ctx, "jti-r-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.TokenStateActive || got.FamilyID != "fam-r-1" || got.UserID != rec.UserID {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Fatalf("expires_at did not round trip: %s vs %s", got.ExpiresAt, rec.ExpiresAt)
	}

	if err := repo.Create(ctx, rec); !domain.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate jti, got %v", err)
	}
	if _, err := repo.Get(ctx, "jti-r-missing"); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTokenRepository_RotateChain(t *testing.T) {
	client := getRedisClient(t)
	cleanTokenKeys(t, client)
	repo := NewTokenRepository(client)

	ctx := context.Background()
	if err := repo.Create(ctx, activeRecord("jti-r-2", "fam-r-2")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.Rotate(ctx, "jti-r-2", activeRecord("jti-r-3", "fam-r-2")); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	old, err := repo.Get(ctx, "jti-r-2")
	if err != nil {
		t.Fatalf("get rotated: %v", err)
	}
	if old.State != domain.TokenStateRotated {
		t.Fatalf("expected rotated, got %s", old.State)
	}

	// Повторная ротация того же JTI — проигранная гонка.
	err = repo.Rotate(ctx, "jti-r-2", activeRecord("jti-r-4", "fam-r-2"))
	if !domain.IsConflict(err) {
		t.Fatalf("expected conflict on replay, got %v", err)
	}
	if _, err := repo.Get(ctx, "jti-r-4"); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("replay must not create heir, got %v", err)
	}

	err = repo.Rotate(ctx, "jti-r-ghost", activeRecord("jti-r-5", "fam-r-2"))
	if !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected not found for unknown jti, got %v", err)
	}
}

func TestTokenRepository_RotateConcurrentSingleWinner(t *testing.T) {
	client := getRedisClient(t)
	cleanTokenKeys(t, client)
	repo := NewTokenRepository(client)

	ctx := context.Background()
	if err := repo.Create(ctx, activeRecord("jti-r-race", "fam-r-race")); err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			heir := activeRecord(fmt.Sprintf("jti-r-race-heir-%d", i), "fam-r-race")
			errs[i] = repo.Rotate(ctx, "jti-r-race", heir)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		if !domain.IsConflict(err) {
			t.Fatalf("loser must get conflict, got %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one rotate winner, got %d", winners)
	}
}

func TestTokenRepository_RevokeFamily(t *testing.T) {
	client := getRedisClient(t)
	cleanTokenKeys(t, client)
	repo := NewTokenRepository(client)

	ctx := context.Background()
	if err := repo.Create(ctx, activeRecord("jti-r-f1", "fam-r-3")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Rotate(ctx, "jti-r-f1", activeRecord("jti-r-f2", "fam-r-3")); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := repo.Create(ctx, activeRecord("jti-r-other", "fam-r-4")); err != nil {
		t.Fatalf("create other family: %v", err)
	}

	revoked, err := repo.RevokeFamily(ctx, "fam-r-3")
	if err != nil {
		t.Fatalf("revoke family: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("expected 2 revoked, got %d", revoked)
	}

	for _, jti := range []string{"jti-r-f1", "jti-r-f2"} {
		rec, err := repo.Get(ctx, jti)
		if err != nil {
			t.Fatalf("get %s: %v", jti, err)
		}
		if rec.State != domain.TokenStateRevoked {
			t.Fatalf("expected %s revoked, got %s", jti, rec.State)
		}
	}

	other, err := repo.Get(ctx, "jti-r-other")
	if err != nil {
		t.Fatalf("get other family: %v", err)
	}
	if other.State != domain.TokenStateActive {
		t.Fatalf("other family must stay active, got %s", other.State)
	}

	revoked, err = repo.RevokeFamily(ctx, "fam-r-3")
	if err != nil {
		t.Fatalf("second revoke family: %v", err)
	}
	if revoked != 0 {
		t.Fatalf("expected 0 on repeat, got %d", revoked)
	}
}

func TestTokenRepository_RevokeSingle(t *testing.T) {
	client := getRedisClient(t)
	cleanTokenKeys(t, client)
	repo := NewTokenRepository(client)

	ctx := context.Background()
	if err := repo.Create(ctx, activeRecord("jti-r-rev", "fam-r-5")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Revoke(ctx, "jti-r-rev"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := repo.Revoke(ctx, "jti-r-rev"); err != nil {
		t.Fatalf("repeat revoke must be idempotent: %v", err)
	}
	if err := repo.Revoke(ctx, "jti-r-nope"); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTokenRepository_DeleteExpiredIsNoop(t *testing.T) {
	client := getRedisClient(t)
	repo := NewTokenRepository(client)

	deleted, err := repo.DeleteExpired(context.Background(), time.Now(), 100)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected 0, got %d", deleted)
	}
}
