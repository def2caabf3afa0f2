// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/echolearn/internal/middleware"
	"github.com/hitoshi/echolearn/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, token string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendURL     string // ログイン成功・ログアウト後のリダイレクト先
	LoginFailureURL string // ログイン失敗時のリダイレクト先
	CookieDomain    string
	CookieSecure    bool
	CookieSameSite  http.SameSite
	SessionMaxAge   time.Duration
}

// SessionCookie はセッションCookieの属性を返す。アクセスゲートでのCookie再発行にも使う。
func (c AuthHandlerConfig) SessionCookie() middleware.SessionCookieConfig {
	return middleware.SessionCookieConfig{
		Domain:   c.CookieDomain,
		Secure:   c.CookieSecure,
		SameSite: c.CookieSameSite,
	}
}

// AuthHandler はログインフローとセッション照会のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
// SameSite=Noneの場合はブラウザの要件に合わせてSecureを強制する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	cookie := config.SessionCookie().WithDefaults()
	config.CookieSameSite = cookie.SameSite
	config.CookieSecure = cookie.Secure
	if config.LoginFailureURL == "" {
		config.LoginFailureURL = config.FrontendURL
	}
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// Login はIdPのログインフローを開始する。
// GET /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// IdPからのトップレベル遷移で送られるようLaxで固定する
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はIdPからのコールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	stateCookie, cookieErr := r.Cookie(oauthStateCookie)
	h.clearCookie(w, oauthStateCookie, "")

	if idpErr := query.Get("error"); idpErr != "" {
		slog.Warn("identity provider returned error", slog.String("error", idpErr))
		h.redirectLoginFailure(w, r)
		return
	}

	state := query.Get("state")
	if cookieErr != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		h.redirectLoginFailure(w, r)
		return
	}

	code := query.Get("code")
	if code == "" {
		slog.Warn("missing authorization code")
		h.redirectLoginFailure(w, r)
		return
	}

	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("login callback failed", slog.String("error", err.Error()))
		h.redirectLoginFailure(w, r)
		return
	}

	middleware.SetSessionCookie(w, h.config.SessionCookie(), session.ID, h.config.SessionMaxAge)

	http.Redirect(w, r, h.config.FrontendURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄してフロントエンドへリダイレクトする。
// GET /auth/logout, POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			// 破棄に失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
		}
	}

	h.clearCookie(w, middleware.SessionCookieName, h.config.CookieDomain)
	http.Redirect(w, r, h.config.FrontendURL, http.StatusTemporaryRedirect)
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type currentUserResponse struct {
	Authenticated bool          `json:"authenticated"`
	User          *userResponse `json:"user,omitempty"`
}

// User は現在のログインユーザー情報を返す。
// GET /auth/user
func (h *AuthHandler) User(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		writeJSON(w, http.StatusUnauthorized, currentUserResponse{Authenticated: false})
		return
	}

	user, err := h.service.CurrentUser(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to get current user", slog.String("error", err.Error()))
		writeJSON(w, http.StatusUnauthorized, currentUserResponse{Authenticated: false})
		return
	}
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, currentUserResponse{Authenticated: false})
		return
	}

	writeJSON(w, http.StatusOK, currentUserResponse{
		Authenticated: true,
		User: &userResponse{
			ID:    user.ID,
			Email: user.Email,
			Name:  user.Name,
		},
	})
}

func (h *AuthHandler) redirectLoginFailure(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.config.LoginFailureURL, http.StatusTemporaryRedirect)
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name, domain string) {
	sameSite := http.SameSiteLaxMode
	if name == middleware.SessionCookieName {
		sameSite = h.config.CookieSameSite
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: sameSite,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
