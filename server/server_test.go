package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp"
	ptotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-user-management/audit"
	"github.com/jrsteele09/go-user-management/auth"
	"github.com/jrsteele09/go-user-management/federation"
	"github.com/jrsteele09/go-user-management/internal/config"
	"github.com/jrsteele09/go-user-management/reset"
	fakeresetrepo "github.com/jrsteele09/go-user-management/reset/repofake"
	"github.com/jrsteele09/go-user-management/server"
	"github.com/jrsteele09/go-user-management/token"
	"github.com/jrsteele09/go-user-management/totp"
	"github.com/jrsteele09/go-user-management/users"
	fakeuserrepo "github.com/jrsteele09/go-user-management/users/repofake"
)

const (
	testSecret   = "test-signing-secret"
	testUsername = "john.doe"
	testEmail    = "john.doe@example.com"
	testPassword = "Password123"
)

type capturedNotification struct {
	Recipient string
	Body      string
}

type captureNotifier struct {
	notifications []capturedNotification
	lock          sync.Mutex
}

func (n *captureNotifier) Notify(_ context.Context, recipient, _, body string) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.notifications = append(n.notifications, capturedNotification{Recipient: recipient, Body: body})
	return nil
}

func (n *captureNotifier) last(t *testing.T) capturedNotification {
	t.Helper()
	n.lock.Lock()
	defer n.lock.Unlock()
	require.NotEmpty(t, n.notifications)
	return n.notifications[len(n.notifications)-1]
}

type captureRecorder struct {
	events []audit.Event
	lock   sync.Mutex
}

func (r *captureRecorder) Record(event audit.Event) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, event)
}

func (r *captureRecorder) actions() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	actions := make([]string, 0, len(r.events))
	for _, event := range r.events {
		actions = append(actions, event.Action)
	}
	return actions
}

type testFixture struct {
	userRepo    *fakeuserrepo.FakeUserRepo
	resetRepo   *fakeresetrepo.FakeResetRepo
	notifier    *captureNotifier
	recorder    *captureRecorder
	codec       *token.Codec
	revocations *token.InMemoryRevocationRegistry
	service     *auth.Service
	server      *server.Server
	now         time.Time
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	nowFunc := func() time.Time { return now }

	ur := fakeuserrepo.NewFakeUserRepo()
	rr := fakeresetrepo.NewFakeResetRepo()
	notifier := &captureNotifier{}
	recorder := &captureRecorder{}
	roleRepo := users.NewStaticRoleRepo(users.RoleUser, users.RoleAdmin)
	codec := token.NewCodec([]byte(testSecret), time.Hour, token.WithNowFunc(nowFunc))
	revocations := token.NewInMemoryRevocationRegistry(token.WithRegistryNowFunc(nowFunc))
	totpEngine := totp.NewEngine("Test Issuer", totp.WithNowFunc(nowFunc))

	authService, err := auth.NewService(
		auth.Repos{Users: ur, Roles: roleRepo},
		codec, totpEngine, revocations,
		auth.WithNowTime(nowFunc),
	)
	require.NoError(t, err)

	resetStore, err := reset.NewStore(ur, rr, notifier, "http://localhost:3000",
		reset.WithNowTime(nowFunc),
		reset.WithRecorder(recorder))
	require.NoError(t, err)

	merger, err := federation.NewMerger(ur, roleRepo, codec,
		federation.WithNowTime(nowFunc))
	require.NoError(t, err)

	srv, err := server.New(config.New(), authService, resetStore, merger, codec, revocations,
		server.WithRecorder(recorder))
	require.NoError(t, err)

	return &testFixture{
		userRepo:    ur,
		resetRepo:   rr,
		notifier:    notifier,
		recorder:    recorder,
		codec:       codec,
		revocations: revocations,
		service:     authService,
		server:      srv,
		now:         now,
	}
}

func (f *testFixture) createTestUser(t *testing.T) *users.User {
	t.Helper()

	passwordHash, err := users.HashPassword(testPassword)
	require.NoError(t, err)
	user := &users.User{
		Username:              testUsername,
		Email:                 testEmail,
		PasswordHash:          passwordHash,
		Enabled:               true,
		Role:                  users.RoleUser,
		AccountExpiryDate:     f.now.AddDate(1, 0, 0),
		CredentialsExpiryDate: f.now.AddDate(1, 0, 0),
		SignUpMethod:          users.SignUpMethodEmail,
	}
	require.NoError(t, f.userRepo.Create(context.Background(), user))
	return user
}

func (f *testFixture) doJSON(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req := httptest.NewRequest(method, path, &reqBody)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	recorder := httptest.NewRecorder()
	f.server.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&out))
	return out
}

func (f *testFixture) signIn(t *testing.T) string {
	t.Helper()
	recorder := f.doJSON(t, http.MethodPost, server.RouteSignIn, "",
		map[string]string{"username": testUsername, "password": testPassword})
	require.Equal(t, http.StatusOK, recorder.Code)
	return decodeBody[map[string]any](t, recorder)["token"].(string)
}

func (f *testFixture) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := ptotp.GenerateCodeCustom(secret, f.now, ptotp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestSignInHandler(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)

	recorder := f.doJSON(t, http.MethodPost, server.RouteSignIn, "",
		map[string]string{"username": testUsername, "password": testPassword})
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody[map[string]any](t, recorder)
	require.Equal(t, testUsername, body["username"])
	require.NotEmpty(t, body["token"])
	require.Equal(t, false, body["requiresTwoFactor"])
}

func TestSignInHandlerBadCredentials(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)

	recorder := f.doJSON(t, http.MethodPost, server.RouteSignIn, "",
		map[string]string{"username": testUsername, "password": "WrongPass1"})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	body := decodeBody[map[string]any](t, recorder)
	require.Equal(t, server.RouteSignIn, body["path"])
	require.Equal(t, float64(http.StatusUnauthorized), body["status"])
}

func TestSignInHandlerLockedAccount(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t)
	user.AccountLocked = true
	require.NoError(t, f.userRepo.Update(context.Background(), user))

	recorder := f.doJSON(t, http.MethodPost, server.RouteSignIn, "",
		map[string]string{"username": testUsername, "password": testPassword})
	require.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestSignUpHandler(t *testing.T) {
	f := setupTestFixture(t)

	recorder := f.doJSON(t, http.MethodPost, server.RouteSignUp, "",
		map[string]string{"username": testUsername, "email": testEmail, "password": testPassword})
	require.Equal(t, http.StatusCreated, recorder.Code)

	// Duplicate signup conflicts.
	recorder = f.doJSON(t, http.MethodPost, server.RouteSignUp, "",
		map[string]string{"username": testUsername, "email": testEmail, "password": testPassword})
	require.Equal(t, http.StatusConflict, recorder.Code)
}

func TestSignUpHandlerWeakPassword(t *testing.T) {
	f := setupTestFixture(t)

	recorder := f.doJSON(t, http.MethodPost, server.RouteSignUp, "",
		map[string]string{"username": testUsername, "email": testEmail, "password": "weak"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	f := setupTestFixture(t)

	recorder := f.doJSON(t, http.MethodGet, server.RouteCurrentUser, "", nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = f.doJSON(t, http.MethodGet, server.RouteCurrentUser, "garbage-token", nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestCurrentUserHandler(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)
	bearer := f.signIn(t)

	recorder := f.doJSON(t, http.MethodGet, server.RouteCurrentUser, bearer, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody[map[string]any](t, recorder)
	require.Equal(t, testUsername, body["username"])
	require.Equal(t, testEmail, body["email"])
	require.NotContains(t, body, "password_hash")
}

func TestCurrentUsernameHandler(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)
	bearer := f.signIn(t)

	recorder := f.doJSON(t, http.MethodGet, server.RouteCurrentUsername, bearer, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, testUsername, decodeBody[map[string]string](t, recorder)["username"])
}

func TestSignOutRevokesToken(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)
	bearer := f.signIn(t)

	recorder := f.doJSON(t, http.MethodPost, server.RouteSignOut, bearer, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	// The revoked token is rejected from the next request on.
	recorder = f.doJSON(t, http.MethodGet, server.RouteCurrentUser, bearer, nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	// A fresh sign-in issues a usable token again.
	fresh := f.signIn(t)
	recorder = f.doJSON(t, http.MethodGet, server.RouteCurrentUser, fresh, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	require.Contains(t, f.recorder.actions(), audit.ActionTokenRevocation)
}

func TestVerifyTwoFactorLoginRejectsSignedOutToken(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t)
	user.TotpSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	user.TwoFactorEnabled = true
	require.NoError(t, f.userRepo.Update(context.Background(), user))

	recorder := f.doJSON(t, http.MethodPost, server.RouteSignIn, "",
		map[string]string{"username": testUsername, "password": testPassword})
	require.Equal(t, http.StatusOK, recorder.Code)
	pendingToken := decodeBody[map[string]any](t, recorder)["token"].(string)

	recorder = f.doJSON(t, http.MethodPost, server.RouteVerifyTwoFactorLogin, "",
		map[string]string{"token": pendingToken, "code": f.totpCode(t, user.TotpSecret)})
	require.Equal(t, http.StatusOK, recorder.Code)
	upgraded := decodeBody[map[string]any](t, recorder)["token"].(string)

	recorder = f.doJSON(t, http.MethodPost, server.RouteSignOut, upgraded, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	// The signed-out token plus a fresh code must not mint a new session.
	recorder = f.doJSON(t, http.MethodPost, server.RouteVerifyTwoFactorLogin, "",
		map[string]string{"token": upgraded, "code": f.totpCode(t, user.TotpSecret)})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestTwoFactorFlowOverHTTP(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t)
	bearer := f.signIn(t)

	// Enroll.
	recorder := f.doJSON(t, http.MethodPost, server.RouteEnableTwoFactor, bearer, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	body := decodeBody[map[string]any](t, recorder)
	require.Contains(t, body["provisioningUri"], "otpauth://totp/")

	stored, err := f.userRepo.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.TotpSecret)

	// Confirm enrollment with a valid code.
	recorder = f.doJSON(t, http.MethodPost, server.RouteVerifyTwoFactor, bearer,
		map[string]string{"code": f.totpCode(t, stored.TotpSecret)})
	require.Equal(t, http.StatusOK, recorder.Code)

	// Sign-in now returns a pending token that cannot reach protected routes.
	recorder = f.doJSON(t, http.MethodPost, server.RouteSignIn, "",
		map[string]string{"username": testUsername, "password": testPassword})
	require.Equal(t, http.StatusOK, recorder.Code)
	signInBody := decodeBody[map[string]any](t, recorder)
	require.Equal(t, true, signInBody["requiresTwoFactor"])
	pendingToken := signInBody["token"].(string)

	recorder = f.doJSON(t, http.MethodGet, server.RouteCurrentUser, pendingToken, nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	// Upgrading with a fresh code yields a fully usable session.
	recorder = f.doJSON(t, http.MethodPost, server.RouteVerifyTwoFactorLogin, "",
		map[string]string{"token": pendingToken, "code": f.totpCode(t, stored.TotpSecret)})
	require.Equal(t, http.StatusOK, recorder.Code)
	upgraded := decodeBody[map[string]any](t, recorder)["token"].(string)

	recorder = f.doJSON(t, http.MethodGet, server.RouteCurrentUser, upgraded, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestVerifyTwoFactorLoginHandlerBadCode(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t)
	user.TotpSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	user.TwoFactorEnabled = true
	require.NoError(t, f.userRepo.Update(context.Background(), user))

	recorder := f.doJSON(t, http.MethodPost, server.RouteSignIn, "",
		map[string]string{"username": testUsername, "password": testPassword})
	require.Equal(t, http.StatusOK, recorder.Code)
	pendingToken := decodeBody[map[string]any](t, recorder)["token"].(string)

	recorder = f.doJSON(t, http.MethodPost, server.RouteVerifyTwoFactorLogin, "",
		map[string]string{"token": pendingToken, "code": "000000"})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestPasswordResetFlowOverHTTP(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)

	recorder := f.doJSON(t, http.MethodPost, server.RouteForgotPassword, "",
		map[string]string{"email": testEmail})
	require.Equal(t, http.StatusOK, recorder.Code)

	notification := f.notifier.last(t)
	require.Equal(t, testEmail, notification.Recipient)

	// Pull the token out of the reset link.
	parts := bytes.Split([]byte(notification.Body), []byte("token="))
	require.Len(t, parts, 2)
	resetToken := string(parts[1])

	recorder = f.doJSON(t, http.MethodPost, server.RouteResetPassword, "",
		map[string]string{"token": resetToken, "newPassword": "NewPassword456"})
	require.Equal(t, http.StatusOK, recorder.Code)

	// The token is single use.
	recorder = f.doJSON(t, http.MethodPost, server.RouteResetPassword, "",
		map[string]string{"token": resetToken, "newPassword": "AnotherPass789"})
	require.Equal(t, http.StatusGone, recorder.Code)

	// Old password no longer works, the new one does.
	recorder = f.doJSON(t, http.MethodPost, server.RouteSignIn, "",
		map[string]string{"username": testUsername, "password": testPassword})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = f.doJSON(t, http.MethodPost, server.RouteSignIn, "",
		map[string]string{"username": testUsername, "password": "NewPassword456"})
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	f := setupTestFixture(t)

	recorder := f.doJSON(t, http.MethodPost, server.RouteForgotPassword, "",
		map[string]string{"email": "nobody@example.com"})
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestDisableTwoFactorHandler(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createTestUser(t)
	bearer := f.signIn(t)

	user.TotpSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	require.NoError(t, f.userRepo.Update(context.Background(), user))

	recorder := f.doJSON(t, http.MethodPost, server.RouteDisableTwoFactor, bearer, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	stored, err := f.userRepo.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.False(t, stored.TwoFactorEnabled)
	require.Empty(t, stored.TotpSecret)
}
