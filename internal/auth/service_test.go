package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/echolearn/internal/model"
	"github.com/hitoshi/echolearn/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	createWithIdentityFn func(ctx context.Context, user *model.User, identity *model.Identity) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	if m.createWithIdentityFn != nil {
		return m.createWithIdentityFn(ctx, user, identity)
	}
	return nil
}

type mockIdentityRepo struct {
	findByProviderFn func(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

func (m *mockIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	if m.findByProviderFn != nil {
		return m.findByProviderFn(ctx, provider, providerUserID)
	}
	return nil, nil
}

type mockSessionManager struct {
	createFn  func(ctx context.Context, userID string) (*model.Session, error)
	resolveFn func(ctx context.Context, token string) (string, error)
	destroyFn func(ctx context.Context, token string) error
}

func (m *mockSessionManager) Create(ctx context.Context, userID string) (*model.Session, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID)
	}
	return &model.Session{ID: "token-" + userID, UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *mockSessionManager) Resolve(ctx context.Context, token string) (string, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, token)
	}
	return "", nil
}

func (m *mockSessionManager) Destroy(ctx context.Context, token string) error {
	if m.destroyFn != nil {
		return m.destroyFn(ctx, token)
	}
	return nil
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

type recordingLogins struct {
	results []string
}

func (r *recordingLogins) RecordLogin(result string) {
	r.results = append(r.results, result)
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.IdentityRepository = (*mockIdentityRepo)(nil)
var _ SessionManager = (*mockSessionManager)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)
var _ LoginRecorder = (*recordingLogins)(nil)

func googleUser(sub, email string) *mockOAuthProvider {
	return &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{
				ProviderUserID: sub,
				Email:          email,
				Name:           "Test User",
				Provider:       ProviderGoogle,
			}, nil
		},
	}
}

// --- テスト ---

func TestGetLoginURL_ReturnsOAuthURL(t *testing.T) {
	provider := &mockOAuthProvider{
		getLoginURLFn: func(state string) string {
			return "https://accounts.google.com/o/oauth2/auth?state=" + state
		},
	}
	svc := NewService(provider, nil, nil, nil, nil)

	got := svc.GetLoginURL("test-state")
	want := "https://accounts.google.com/o/oauth2/auth?state=test-state"
	if got != want {
		t.Errorf("GetLoginURL() = %q, want %q", got, want)
	}
}

func TestHandleCallback_NewUser_CreatesUserAndIdentityAndSession(t *testing.T) {
	var createdUser *model.User
	var createdIdentity *model.Identity
	var sessionUserID string

	userRepo := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			createdUser = user
			createdIdentity = identity
			return nil
		},
	}
	sessions := &mockSessionManager{
		createFn: func(ctx context.Context, userID string) (*model.Session, error) {
			sessionUserID = userID
			return &model.Session{ID: "tok", UserID: userID}, nil
		},
	}
	logins := &recordingLogins{}
	svc := NewService(googleUser("g-1", "learner@example.com"), userRepo, &mockIdentityRepo{}, sessions, logins)

	session, err := svc.HandleCallback(context.Background(), "code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	if createdUser == nil || createdIdentity == nil {
		t.Fatal("expected user and identity to be created")
	}
	if createdUser.Email != "learner@example.com" {
		t.Errorf("user email = %q", createdUser.Email)
	}
	if createdIdentity.UserID != createdUser.ID {
		t.Errorf("identity.UserID = %q, want %q", createdIdentity.UserID, createdUser.ID)
	}
	if createdIdentity.Provider != ProviderGoogle || createdIdentity.ProviderUserID != "g-1" {
		t.Errorf("identity = %s/%s, want google/g-1", createdIdentity.Provider, createdIdentity.ProviderUserID)
	}
	if sessionUserID != createdUser.ID {
		t.Errorf("session issued for %q, want %q", sessionUserID, createdUser.ID)
	}
	if session.ID != "tok" {
		t.Errorf("session.ID = %q, want %q", session.ID, "tok")
	}
	if len(logins.results) != 1 || logins.results[0] != "success" {
		t.Errorf("recorded logins = %v, want [success]", logins.results)
	}
}

func TestHandleCallback_ExistingUser_ReusesAccount(t *testing.T) {
	identRepo := &mockIdentityRepo{
		findByProviderFn: func(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
			return &model.Identity{UserID: "user-1", Provider: provider, ProviderUserID: providerUserID}, nil
		},
	}
	userRepo := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			t.Error("CreateWithIdentity should not be called for an existing identity")
			return nil
		},
	}
	svc := NewService(googleUser("g-1", "learner@example.com"), userRepo, identRepo, &mockSessionManager{}, nil)

	session, err := svc.HandleCallback(context.Background(), "code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if session.UserID != "user-1" {
		t.Errorf("session.UserID = %q, want %q", session.UserID, "user-1")
	}
}

func TestHandleCallback_ConcurrentFirstLogin_ReLooksUpWinner(t *testing.T) {
	lookups := 0
	identRepo := &mockIdentityRepo{
		findByProviderFn: func(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
			lookups++
			if lookups == 1 {
				return nil, nil
			}
			return &model.Identity{UserID: "winner", Provider: provider, ProviderUserID: providerUserID}, nil
		},
	}
	userRepo := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			return repository.ErrDuplicate
		},
	}
	svc := NewService(googleUser("g-1", "learner@example.com"), userRepo, identRepo, &mockSessionManager{}, nil)

	session, err := svc.HandleCallback(context.Background(), "code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if session.UserID != "winner" {
		t.Errorf("session.UserID = %q, want %q", session.UserID, "winner")
	}
	if lookups != 2 {
		t.Errorf("lookups = %d, want 2", lookups)
	}
}

func TestHandleCallback_ExchangeError_ReturnsIdentityExchangeError(t *testing.T) {
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return nil, errors.New("invalid_grant")
		},
	}
	logins := &recordingLogins{}
	svc := NewService(provider, &mockUserRepo{}, &mockIdentityRepo{}, &mockSessionManager{}, logins)

	_, err := svc.HandleCallback(context.Background(), "bad-code")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeIdentityExchange {
		t.Errorf("code = %q, want %q", apiErr.Code, model.ErrCodeIdentityExchange)
	}
	if len(logins.results) != 1 || logins.results[0] != "exchange_failed" {
		t.Errorf("recorded logins = %v, want [exchange_failed]", logins.results)
	}
}

func TestHandleCallback_MissingClaims_ReturnsIdentityExchangeError(t *testing.T) {
	tests := []struct {
		name  string
		sub   string
		email string
	}{
		{"missing sub", "", "learner@example.com"},
		{"missing email", "g-1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userRepo := &mockUserRepo{
				createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
					t.Error("no account should be created")
					return nil
				},
			}
			svc := NewService(googleUser(tt.sub, tt.email), userRepo, &mockIdentityRepo{}, &mockSessionManager{}, nil)

			_, err := svc.HandleCallback(context.Background(), "code")
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeIdentityExchange {
				t.Fatalf("expected identity exchange error, got %v", err)
			}
		})
	}
}

func TestHandleCallback_UserCreationError_ReturnsError(t *testing.T) {
	userRepo := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			return errors.New("connection refused")
		},
	}
	sessions := &mockSessionManager{
		createFn: func(ctx context.Context, userID string) (*model.Session, error) {
			t.Error("session should not be created")
			return nil, nil
		},
	}
	svc := NewService(googleUser("g-1", "learner@example.com"), userRepo, &mockIdentityRepo{}, sessions, nil)

	if _, err := svc.HandleCallback(context.Background(), "code"); err == nil {
		t.Fatal("expected error when user creation fails")
	}
}

func TestLogout_DestroysSession(t *testing.T) {
	var destroyed string
	sessions := &mockSessionManager{
		destroyFn: func(ctx context.Context, token string) error {
			destroyed = token
			return nil
		},
	}
	svc := NewService(nil, nil, nil, sessions, nil)

	if err := svc.Logout(context.Background(), "tok"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if destroyed != "tok" {
		t.Errorf("destroyed = %q, want %q", destroyed, "tok")
	}
}

func TestCurrentUser_ValidSession_ReturnsUser(t *testing.T) {
	sessions := &mockSessionManager{
		resolveFn: func(ctx context.Context, token string) (string, error) {
			if token == "tok" {
				return "user-1", nil
			}
			return "", nil
		},
	}
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "learner@example.com", Name: "Learner"}, nil
		},
	}
	svc := NewService(nil, userRepo, nil, sessions, nil)

	user, err := svc.CurrentUser(context.Background(), "tok")
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if user == nil || user.ID != "user-1" {
		t.Fatalf("user = %+v, want user-1", user)
	}
}

func TestCurrentUser_UnknownToken_ReturnsNil(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			t.Error("FindByID should not be called for an unauthenticated token")
			return nil, nil
		},
	}
	svc := NewService(nil, userRepo, nil, &mockSessionManager{}, nil)

	user, err := svc.CurrentUser(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if user != nil {
		t.Errorf("user = %+v, want nil", user)
	}
}

func TestCurrentUser_ResolveError_ReturnsError(t *testing.T) {
	sessions := &mockSessionManager{
		resolveFn: func(ctx context.Context, token string) (string, error) {
			return "", errors.New("store down")
		},
	}
	svc := NewService(nil, &mockUserRepo{}, nil, sessions, nil)

	if _, err := svc.CurrentUser(context.Background(), "tok"); err == nil {
		t.Fatal("expected error when session store fails")
	}
}
