package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cobaltline/identity/internal/identity/domain"
	"github.com/cobaltline/identity/internal/identity/store"
	"github.com/cobaltline/identity/internal/identity/store/drivers/sqlite"
	"github.com/cobaltline/identity/pkg/cryptox"
	"github.com/cobaltline/identity/pkg/idx"
	"github.com/cobaltline/identity/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "identity-service-test")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

// testClock is a controllable clock shared by the services under test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

func newTestSigner(t *testing.T) *jwtx.HS256 {
	t.Helper()

	signer, err := jwtx.NewHS256([]byte("0123456789abcdef0123456789abcdef"), "identity-test", []string{"reporting"})
	require.NoError(t, err)
	return signer
}

func testSecretBox() *cryptox.SecretBox {
	return cryptox.NewSecretBox([]byte("unit-test-master-key-material"))
}

// seedUser creates an active user with an argon2id credential.
func seedUser(t *testing.T, st store.Store, clock *testClock, username, password string) domain.User {
	t.Helper()

	now := clock.Now()
	user := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		DisplayName:  username,
		DepartmentID: "dept-reporting",
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.Users().CreateUser(context.Background(), user))

	hash, err := cryptox.HashPassword(password)
	require.NoError(t, err)
	require.NoError(t, st.Credentials().UpsertCredential(context.Background(), domain.Credential{
		UserID:       user.ID,
		PasswordHash: hash,
		UpdatedAt:    now,
	}))

	return user
}

func seedRole(t *testing.T, st store.Store, clock *testClock, name string) domain.Role {
	t.Helper()

	now := clock.Now()
	role := domain.Role{
		ID:        idx.New().String(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.Roles().CreateRole(context.Background(), role))
	return role
}

func newTokenService(t *testing.T, st store.Store, clock *testClock) *TokenService {
	t.Helper()

	return &TokenService{
		Store:      st,
		Signer:     newTestSigner(t),
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Now:        clock.Now,
	}
}

func newSessionService(st store.Store, clock *testClock) *SessionService {
	return &SessionService{
		Store:             st,
		SessionTimeout:    8 * time.Hour,
		RememberMeTimeout: 24 * time.Hour,
		MaxConcurrent:     3,
		Now:               clock.Now,
	}
}

func newMFAService(st store.Store, clock *testClock) *MFAService {
	return &MFAService{
		Store:  st,
		Box:    testSecretBox(),
		Issuer: "identity-test",
		Now:    clock.Now,
	}
}

func testClient() domain.ClientInfo {
	return domain.ClientInfo{
		Fingerprint: "fp-test-device",
		IPAddress:   "192.0.2.10",
		UserAgent:   "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
	}
}
