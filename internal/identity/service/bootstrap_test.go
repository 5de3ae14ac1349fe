package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBootstrapIfEmpty(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)

	svc := &BootstrapService{
		Store:         st,
		AdminUsername: "admin",
		AdminPassword: "initial admin password",
		Now:           clock.Now,
	}

	seeded, err := svc.BootstrapIfEmpty(ctx)
	require.NoError(t, err)
	require.True(t, seeded)

	// Default roles exist and the admin holds the admin role.
	for _, name := range defaultRoles {
		_, err := st.Roles().GetRoleByName(ctx, name)
		require.NoError(t, err)
	}

	admin, err := st.Users().GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	adminRole, err := st.Roles().GetRoleByName(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, adminRole.ID, admin.RoleID)

	// The seeded credential actually authenticates.
	auth := newAuthService(t, st, clock)
	_, err = auth.Login(ctx, "admin", "initial admin password", "", testClient(), false)
	require.NoError(t, err)

	// A second run is a no-op.
	seeded, err = svc.BootstrapIfEmpty(ctx)
	require.NoError(t, err)
	require.False(t, seeded)
}

func TestBootstrapSkipsNonEmptyStore(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)

	seedUser(t, st, clock, "existing", "pw")

	svc := &BootstrapService{
		Store:         st,
		AdminUsername: "admin",
		AdminPassword: "pw",
		Now:           clock.Now,
	}

	seeded, err := svc.BootstrapIfEmpty(ctx)
	require.NoError(t, err)
	require.False(t, seeded)
}
