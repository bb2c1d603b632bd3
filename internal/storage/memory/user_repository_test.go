package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func newUser(id, username string, role domain.Role) domain.User {
	return domain.User{
		ID:           id,
		Username:     username,
		PasswordHash: "$2a$10$stub",
		Role:         role,
	}
}

func TestUserRepository_CreateAndGet(t *testing.T) {
	repo := NewUserRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, newUser("user-1", "alice", domain.RoleAdmin)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	byName, err := repo.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get by username failed: %v", err)
	}
	if byName.ID != "user-1" || byName.Role != domain.RoleAdmin {
		t.Fatalf("unexpected user: %+v", byName)
	}
	if byName.CreatedAt.IsZero() {
		t.Fatal("created_at must be set on create")
	}

	byID, err := repo.GetByID(ctx, "user-1")
	if err != nil {
		t.Fatalf("get by id failed: %v", err)
	}
	if byID.Username != "alice" {
		t.Fatalf("expected alice, got %s", byID.Username)
	}
}

func TestUserRepository_GetMissing(t *testing.T) {
	repo := NewUserRepository()
	ctx := context.Background()

	if _, err := repo.GetByUsername(ctx, "ghost"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := repo.GetByID(ctx, "ghost"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserRepository_DuplicateConflicts(t *testing.T) {
	repo := NewUserRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, newUser("user-1", "alice", domain.RoleCashier)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Повтор по идентификатору.
	if err := repo.Create(ctx, newUser("user-1", "bob", domain.RoleCashier)); !domain.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	// Повтор по имени пользователя.
	if err := repo.Create(ctx, newUser("user-2", "alice", domain.RoleEmployee)); !domain.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate username, got %v", err)
	}
}
