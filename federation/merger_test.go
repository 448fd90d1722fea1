package federation_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-user-management/federation"
	"github.com/jrsteele09/go-user-management/token"
	"github.com/jrsteele09/go-user-management/users"
	fakeuserrepo "github.com/jrsteele09/go-user-management/users/repofake"
)

const testSecret = "test-signing-secret"

type testFixture struct {
	userRepo *fakeuserrepo.FakeUserRepo
	codec    *token.Codec
	merger   *federation.Merger
	now      time.Time
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ur := fakeuserrepo.NewFakeUserRepo()
	codec := token.NewCodec([]byte(testSecret), time.Hour, token.WithNowFunc(func() time.Time { return now }))

	merger, err := federation.NewMerger(ur, users.NewStaticRoleRepo(users.RoleUser, users.RoleAdmin), codec,
		federation.WithNowTime(func() time.Time { return now }))
	require.NoError(t, err)

	return &testFixture{userRepo: ur, codec: codec, merger: merger, now: now}
}

func TestMergeProvisionsGitHubUser(t *testing.T) {
	f := setupTestFixture(t)

	result, err := f.merger.Merge(context.Background(), federation.Identity{
		Provider: federation.ProviderGitHub,
		Email:    "octo@example.com",
		Login:    "octocat",
	})
	require.NoError(t, err)
	require.Equal(t, "octocat", result.User.Username)
	require.Equal(t, "octo@example.com", result.User.Email)
	require.Equal(t, users.RoleUser, result.User.Role)
	require.Equal(t, federation.ProviderGitHub, result.User.SignUpMethod)
	require.True(t, result.User.Enabled)
	require.False(t, result.User.AccountLocked)
	require.True(t, result.User.AccountExpiryDate.After(f.now.AddDate(50, 0, 0)))

	claims, err := f.codec.Validate(result.Token)
	require.NoError(t, err)
	require.Equal(t, "octocat", claims.Subject)
	require.True(t, claims.TwoFactorSatisfied)
}

func TestMergeProvisionsGoogleUser(t *testing.T) {
	f := setupTestFixture(t)

	result, err := f.merger.Merge(context.Background(), federation.Identity{
		Provider: federation.ProviderGoogle,
		Email:    "jane.doe@gmail.com",
	})
	require.NoError(t, err)
	require.Equal(t, "jane.doe", result.User.Username)
	require.Equal(t, federation.ProviderGoogle, result.User.SignUpMethod)
}

func TestMergeIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)
	identity := federation.Identity{
		Provider: federation.ProviderGitHub,
		Email:    "octo@example.com",
		Login:    "octocat",
	}

	first, err := f.merger.Merge(context.Background(), identity)
	require.NoError(t, err)
	second, err := f.merger.Merge(context.Background(), identity)
	require.NoError(t, err)
	require.Equal(t, first.User.ID, second.User.ID)
}

func TestMergePreservesExistingRole(t *testing.T) {
	f := setupTestFixture(t)

	passwordHash, err := users.HashPassword("Password123")
	require.NoError(t, err)
	existing := &users.User{
		Username:     "admin.user",
		Email:        "admin@example.com",
		PasswordHash: passwordHash,
		Enabled:      true,
		Role:         users.RoleAdmin,
	}
	require.NoError(t, f.userRepo.Create(context.Background(), existing))

	result, err := f.merger.Merge(context.Background(), federation.Identity{
		Provider: federation.ProviderGoogle,
		Email:    "admin@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, existing.ID, result.User.ID)
	require.Equal(t, users.RoleAdmin, result.User.Role)

	claims, err := f.codec.Validate(result.Token)
	require.NoError(t, err)
	require.Equal(t, []string{string(users.RoleAdmin)}, claims.Roles)
}

func TestMergeDisambiguatesTakenUsername(t *testing.T) {
	f := setupTestFixture(t)

	passwordHash, err := users.HashPassword("Password123")
	require.NoError(t, err)
	existing := &users.User{
		Username:     "octocat",
		Email:        "other.octocat@example.com",
		PasswordHash: passwordHash,
		Enabled:      true,
		Role:         users.RoleUser,
	}
	require.NoError(t, f.userRepo.Create(context.Background(), existing))

	// Same derived username, different email: a new Principal is
	// provisioned under a disambiguated name instead of failing.
	result, err := f.merger.Merge(context.Background(), federation.Identity{
		Provider: federation.ProviderGitHub,
		Email:    "octo@example.com",
		Login:    "octocat",
	})
	require.NoError(t, err)
	require.NotEqual(t, existing.ID, result.User.ID)
	require.NotEqual(t, "octocat", result.User.Username)
	require.True(t, strings.HasPrefix(result.User.Username, "octocat-"))
	require.Equal(t, "octo@example.com", result.User.Email)
}

func TestMergeMissingDefaultRole(t *testing.T) {
	f := setupTestFixture(t)

	merger, err := federation.NewMerger(f.userRepo, users.NewStaticRoleRepo(), f.codec)
	require.NoError(t, err)

	_, err = merger.Merge(context.Background(), federation.Identity{
		Provider: federation.ProviderGitHub,
		Email:    "octo@example.com",
		Login:    "octocat",
	})
	require.ErrorIs(t, err, users.ErrRoleNotFound)
}

func TestMergeMissingEmail(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.merger.Merge(context.Background(), federation.Identity{
		Provider: federation.ProviderGitHub,
		Login:    "octocat",
	})
	require.ErrorIs(t, err, federation.ErrEmailMissing)
}

func TestMergePendingTwoFactorGatesToken(t *testing.T) {
	f := setupTestFixture(t)

	passwordHash, err := users.HashPassword("Password123")
	require.NoError(t, err)
	existing := &users.User{
		Username:         "john.doe",
		Email:            "john.doe@example.com",
		PasswordHash:     passwordHash,
		Enabled:          true,
		Role:             users.RoleUser,
		TotpSecret:       "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP",
		TwoFactorEnabled: true,
	}
	require.NoError(t, f.userRepo.Create(context.Background(), existing))

	result, err := f.merger.Merge(context.Background(), federation.Identity{
		Provider: federation.ProviderGoogle,
		Email:    "john.doe@example.com",
	})
	require.NoError(t, err)

	claims, err := f.codec.Validate(result.Token)
	require.NoError(t, err)
	require.False(t, claims.TwoFactorSatisfied)
}

func TestDeriveUsername(t *testing.T) {
	tests := []struct {
		name     string
		identity federation.Identity
		want     string
	}{
		{
			name:     "github login handle",
			identity: federation.Identity{Provider: federation.ProviderGitHub, Login: "octocat", Email: "octo@example.com"},
			want:     "octocat",
		},
		{
			name:     "google email local part",
			identity: federation.Identity{Provider: federation.ProviderGoogle, Email: "jane.doe@gmail.com"},
			want:     "jane.doe",
		},
		{
			name:     "github without login falls back to email",
			identity: federation.Identity{Provider: federation.ProviderGitHub, Email: "octo@example.com"},
			want:     "octo",
		},
		{
			name:     "unknown provider uses email local part",
			identity: federation.Identity{Provider: "gitlab", Email: "dev@example.com"},
			want:     "dev",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, federation.DeriveUsername(tc.identity))
		})
	}
}
