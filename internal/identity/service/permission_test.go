package service

import (
	"context"
	"testing"
	"time"

	"github.com/cobaltline/identity/internal/identity/domain"
	"github.com/cobaltline/identity/internal/identity/store"
	"github.com/cobaltline/identity/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newPermissionService(st store.Store, clock *testClock) *PermissionService {
	return &PermissionService{Store: st, Now: clock.Now}
}

func seedLegacyUser(t *testing.T, st store.Store, clock *testClock, username, legacyRole string) domain.User {
	t.Helper()

	now := clock.Now()
	user := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		DisplayName:  username,
		LegacyRole:   legacyRole,
		DepartmentID: "dept-reporting",
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.Users().CreateUser(context.Background(), user))
	return user
}

func TestHasPermissionDirectGrant(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newPermissionService(st, clock)

	user := seedUser(t, st, clock, "alice", "pw")

	ok, err := svc.HasPermission(ctx, user.ID, "reports.read", "")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, svc.GrantToUser(ctx, user.ID, "reports.read", nil))

	ok, err = svc.HasPermission(ctx, user.ID, "reports.read", "")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.HasPermission(ctx, "no-such-user", "reports.read", "")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestHasPermissionRoleGrant(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newPermissionService(st, clock)

	role := seedRole(t, st, clock, "analyst")
	user := seedUser(t, st, clock, "alice", "pw")
	require.NoError(t, st.Users().SetUserRole(ctx, user.ID, role.ID))

	require.NoError(t, svc.GrantToRole(ctx, role.ID, "reports.export", nil))

	ok, err := svc.HasPermission(ctx, user.ID, "reports.export", "")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLegacyRoleOnlyAppliesWithoutPrimaryRole(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newPermissionService(st, clock)

	user := seedLegacyUser(t, st, clock, "carol", "manager")

	now := clock.Now()
	require.NoError(t, st.Permissions().UpsertLegacyRolePermission(ctx, domain.LegacyRolePermission{
		ID:         idx.New().String(),
		RoleName:   "manager",
		Permission: "reports.approve",
		Granted:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))

	ok, err := svc.HasPermission(ctx, user.ID, "reports.approve", "")
	require.NoError(t, err)
	require.True(t, ok)

	// Assigning a primary role retires the legacy name entirely.
	role := seedRole(t, st, clock, "analyst")
	require.NoError(t, st.Users().SetUserRole(ctx, user.ID, role.ID))

	ok, err = svc.HasPermission(ctx, user.ID, "reports.approve", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasPermissionDepartmentGrant(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newPermissionService(st, clock)

	user := seedUser(t, st, clock, "alice", "pw") // dept-reporting

	require.NoError(t, svc.GrantToDepartment(ctx, "dept-reporting", "dashboards.view", nil))
	require.NoError(t, svc.GrantToDepartment(ctx, "dept-finance", "budgets.view", nil))

	// Falls back to the user's own department.
	ok, err := svc.HasPermission(ctx, user.ID, "dashboards.view", "")
	require.NoError(t, err)
	require.True(t, ok)

	// An explicit department override is checked instead.
	ok, err = svc.HasPermission(ctx, user.ID, "budgets.view", "dept-finance")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.HasPermission(ctx, user.ID, "budgets.view", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExpiredGrantDoesNotApply(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newPermissionService(st, clock)

	user := seedUser(t, st, clock, "alice", "pw")

	expiry := clock.Now().Add(time.Hour)
	require.NoError(t, svc.GrantToUser(ctx, user.ID, "reports.read", &expiry))

	ok, err := svc.HasPermission(ctx, user.ID, "reports.read", "")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(2 * time.Hour)

	ok, err = svc.HasPermission(ctx, user.ID, "reports.read", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRevokedDirectGrantDoesNotMaskRoleGrant(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newPermissionService(st, clock)

	role := seedRole(t, st, clock, "analyst")
	user := seedUser(t, st, clock, "alice", "pw")
	require.NoError(t, st.Users().SetUserRole(ctx, user.ID, role.ID))

	require.NoError(t, svc.GrantToRole(ctx, role.ID, "reports.read", nil))
	require.NoError(t, svc.GrantToUser(ctx, user.ID, "reports.read", nil))
	require.NoError(t, svc.RevokeFromUser(ctx, user.ID, "reports.read"))

	// Sources union together; a revoked direct grant is simply absent,
	// it does not veto the role grant.
	ok, err := svc.HasPermission(ctx, user.ID, "reports.read", "")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRevokeFlipsStateWithoutDeleting(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newPermissionService(st, clock)

	user := seedUser(t, st, clock, "alice", "pw")

	require.NoError(t, svc.GrantToUser(ctx, user.ID, "reports.read", nil))
	require.NoError(t, svc.RevokeFromUser(ctx, user.ID, "reports.read"))
	// Revoking twice, or revoking something never granted, is a no-op.
	require.NoError(t, svc.RevokeFromUser(ctx, user.ID, "reports.read"))
	require.NoError(t, svc.RevokeFromUser(ctx, user.ID, "never.granted"))

	rows, err := st.Permissions().ListUserPermissions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.False(t, rows[0].Granted)

	// Re-granting re-activates the same row.
	require.NoError(t, svc.GrantToUser(ctx, user.ID, "reports.read", nil))
	rows, err = st.Permissions().ListUserPermissions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Granted)
}

func TestListPermissionsUnionIsDeduplicatedAndSorted(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newPermissionService(st, clock)

	role := seedRole(t, st, clock, "analyst")
	user := seedUser(t, st, clock, "alice", "pw")
	require.NoError(t, st.Users().SetUserRole(ctx, user.ID, role.ID))

	require.NoError(t, svc.GrantToUser(ctx, user.ID, "reports.read", nil))
	require.NoError(t, svc.GrantToRole(ctx, role.ID, "reports.read", nil))
	require.NoError(t, svc.GrantToRole(ctx, role.ID, "reports.export", nil))
	require.NoError(t, svc.GrantToDepartment(ctx, "dept-reporting", "dashboards.view", nil))

	perms, err := svc.ListPermissions(ctx, user.ID, "")
	require.NoError(t, err)
	require.Equal(t, []string{"dashboards.view", "reports.export", "reports.read"}, perms)
}
