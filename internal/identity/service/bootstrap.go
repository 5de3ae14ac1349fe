package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cobaltline/identity/internal/identity/domain"
	"github.com/cobaltline/identity/internal/identity/store"
	"github.com/cobaltline/identity/pkg/cryptox"
	"github.com/cobaltline/identity/pkg/idx"
	"github.com/cobaltline/identity/pkg/slogx"
)

var ErrBootstrapAlready = errors.New("system already bootstrapped")

// defaultRoles are created on first run so role grants have something to
// attach to before any admin configuration happens.
var defaultRoles = []string{"admin", "analyst", "viewer"}

// BootstrapService seeds an empty database with the default roles and an
// initial admin account.
type BootstrapService struct {
	Store store.Store

	AdminUsername string
	AdminPassword string

	// Now overrides the clock for tests. Nil means time.Now.
	Now func() time.Time
}

func (s *BootstrapService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// IsBootstrapped reports whether any users exist yet.
func (s *BootstrapService) IsBootstrapped(ctx context.Context) (bool, error) {
	empty, err := s.Store.Users().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	return !empty, nil
}

// BootstrapIfEmpty seeds roles and the admin user when the store is empty.
// Returns true when seeding ran.
func (s *BootstrapService) BootstrapIfEmpty(ctx context.Context) (bool, error) {
	l := slogx.FromContext(ctx)

	bootstrapped, err := s.IsBootstrapped(ctx)
	if err != nil {
		return false, err
	}
	if bootstrapped {
		return false, nil
	}

	if s.AdminUsername == "" || s.AdminPassword == "" {
		l.Warn("store is empty but no bootstrap admin is configured")
		return false, nil
	}

	passHash, err := cryptox.HashPassword(s.AdminPassword)
	if err != nil {
		return false, fmt.Errorf("hash admin password: %w", err)
	}

	now := s.now()
	adminUserID := idx.New().String()

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		var adminRoleID string
		for _, name := range defaultRoles {
			role := domain.Role{
				ID:        idx.New().String(),
				Name:      name,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Roles().CreateRole(ctx, role); err != nil {
				return fmt.Errorf("create role %q: %w", name, err)
			}
			if name == "admin" {
				adminRoleID = role.ID
			}
		}

		admin := domain.User{
			ID:          adminUserID,
			Username:    s.AdminUsername,
			DisplayName: "Administrator",
			RoleID:      adminRoleID,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Users().CreateUser(ctx, admin); err != nil {
			return fmt.Errorf("create admin user: %w", err)
		}

		return tx.Credentials().UpsertCredential(ctx, domain.Credential{
			UserID:       adminUserID,
			PasswordHash: passHash,
			UpdatedAt:    now,
		})
	})
	if err != nil {
		return false, err
	}

	l.Info("bootstrapped empty store", "admin_user_id", adminUserID)
	return true, nil
}
