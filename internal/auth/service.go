// Package auth はOAuth/OIDCによるログインフローとアカウント解決を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/echolearn/internal/model"
	"github.com/hitoshi/echolearn/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string // "google", "oidc" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// SessionManager はセッショントークンの発行・解決・破棄を行う。
// session.Manager が実装する。
type SessionManager interface {
	Create(ctx context.Context, userID string) (*model.Session, error)
	Resolve(ctx context.Context, token string) (string, error)
	Destroy(ctx context.Context, token string) error
}

// LoginRecorder はログイン結果を記録する。
type LoginRecorder interface {
	RecordLogin(result string)
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth     OAuthProvider
	userRepo  repository.UserRepository
	identRepo repository.IdentityRepository
	sessions  SessionManager
	metrics   LoginRecorder
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessions SessionManager,
	metrics LoginRecorder,
) *Service {
	return &Service{
		oauth:     oauth,
		userRepo:  userRepo,
		identRepo: identRepo,
		sessions:  sessions,
		metrics:   metrics,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録のIdPアカウントの場合はusersレコードとidentitiesレコードを同時に作成する。
// IdPがコードを拒否した場合やsub/emailが欠けている場合はIdentityExchangeErrorを返す。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.recordLogin("exchange_failed")
		slog.Warn("identity exchange failed", slog.String("error", err.Error()))
		return nil, model.NewIdentityExchangeError("IdPとの認証情報の交換に失敗しました")
	}
	if userInfo == nil || userInfo.ProviderUserID == "" || userInfo.Email == "" {
		s.recordLogin("exchange_failed")
		return nil, model.NewIdentityExchangeError("IdPから必要な属性が返されませんでした")
	}

	userID, err := s.resolveUser(ctx, userInfo)
	if err != nil {
		s.recordLogin("error")
		return nil, err
	}

	session, err := s.sessions.Create(ctx, userID)
	if err != nil {
		s.recordLogin("error")
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.recordLogin("success")
	return session, nil
}

// resolveUser はIdPアカウントに対応するユーザーIDを返す。存在しなければ作成する。
// 同一アカウントの同時初回ログインで作成が競合した場合は、勝った側のユーザーを引き直す。
func (s *Service) resolveUser(ctx context.Context, userInfo *OAuthUserInfo) (string, error) {
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return "", fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		slog.Info("existing user logged in",
			slog.String("user_id", identity.UserID),
			slog.String("provider", userInfo.Provider),
		)
		return identity.UserID, nil
	}

	now := time.Now()
	newUser := &model.User{
		ID:        uuid.New().String(),
		Email:     userInfo.Email,
		Name:      userInfo.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         newUser.ID,
		Provider:       userInfo.Provider,
		ProviderUserID: userInfo.ProviderUserID,
		CreatedAt:      now,
	}

	err = s.userRepo.CreateWithIdentity(ctx, newUser, newIdentity)
	if errors.Is(err, repository.ErrDuplicate) {
		identity, err = s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
		if err != nil {
			return "", fmt.Errorf("failed to find identity after conflict: %w", err)
		}
		if identity == nil {
			return "", fmt.Errorf("identity conflict for provider %s but no record found", userInfo.Provider)
		}
		return identity.UserID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", newUser.ID),
		slog.String("provider", userInfo.Provider),
	)
	return newUser.ID, nil
}

// Logout はセッションを破棄する。空や未知のトークンでもエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Destroy(ctx, token); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// CurrentUser はセッショントークンから現在のユーザーを取得する。
// 未認証（トークンが無効・期限切れ・ユーザー不在）の場合はnil, nilを返す。
func (s *Service) CurrentUser(ctx context.Context, token string) (*model.User, error) {
	userID, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if userID == "" {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

func (s *Service) recordLogin(result string) {
	if s.metrics != nil {
		s.metrics.RecordLogin(result)
	}
}
