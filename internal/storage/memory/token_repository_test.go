package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func newTokenRecord(jti, family string) domain.RefreshTokenRecord {
	now := time.Now().UTC()
	return domain.RefreshTokenRecord{
		JTI:       jti,
		UserID:    "user-1",
		FamilyID:  family,
		State:     domain.TokenStateActive,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestTokenRepository_RotateHappyPath(t *testing.T) {
	repo := NewTokenRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, newTokenRecord("jti-1", "fam-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.Rotate(ctx, "jti-1", newTokenRecord("jti-2", "fam-1")); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	old, err := repo.Get(ctx, "jti-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if old.State != domain.TokenStateRotated {
		t.Fatalf("expected rotated, got %s", old.State)
	}

	next, err := repo.Get(ctx, "jti-2")
	if err != nil {
		t.Fatalf("get next failed: %v", err)
	}
	if next.State != domain.TokenStateActive {
		t.Fatalf("expected active, got %s", next.State)
	}
}

func TestTokenRepository_RotateConflictOnReplay(t *testing.T) {
	repo := NewTokenRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, newTokenRecord("jti-1", "fam-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Rotate(ctx, "jti-1", newTokenRecord("jti-2", "fam-1")); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	// Повторная ротация уже использованного JTI — проигранная гонка.
	if err := repo.Rotate(ctx, "jti-1", newTokenRecord("jti-3", "fam-1")); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestTokenRepository_RevokeFamily(t *testing.T) {
	repo := NewTokenRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, newTokenRecord("jti-1", "fam-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Rotate(ctx, "jti-1", newTokenRecord("jti-2", "fam-1")); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if err := repo.Create(ctx, newTokenRecord("jti-other", "fam-2")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	revoked, err := repo.RevokeFamily(ctx, "fam-1")
	if err != nil {
		t.Fatalf("revoke family failed: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("expected 2 revoked, got %d", revoked)
	}

	other, err := repo.Get(ctx, "jti-other")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if other.State != domain.TokenStateActive {
		t.Fatalf("unrelated family must stay active, got %s", other.State)
	}
}

func TestTokenRepository_RevokeIdempotent(t *testing.T) {
	repo := NewTokenRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, newTokenRecord("jti-1", "fam-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Revoke(ctx, "jti-1"); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if err := repo.Revoke(ctx, "jti-1"); err != nil {
		t.Fatalf("second revoke must be idempotent: %v", err)
	}
}

func TestTokenRepository_DeleteExpired(t *testing.T) {
	repo := NewTokenRepository()
	ctx := context.Background()

	expired := newTokenRecord("jti-expired", "fam-1")
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if err := repo.Create(ctx, expired); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, newTokenRecord("jti-live", "fam-2")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	deleted, err := repo.DeleteExpired(ctx, time.Now().UTC(), 100)
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	if _, err := repo.Get(ctx, "jti-expired"); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if _, err := repo.Get(ctx, "jti-live"); err != nil {
		t.Fatalf("live token must remain: %v", err)
	}
}
