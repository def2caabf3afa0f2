// Package session はログインセッションの発行・解決・破棄を提供する。
// トークンはクライアントにのみ渡し、ストアにはSESSION_SECRETをキーとしたHMAC-SHA256ダイジェストを保存する。
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/echolearn/internal/model"
)

// Store はセッションの永続化先。
// repository.PostgresSessionRepo と repository.RedisSessionRepo が実装する。
type Store interface {
	Create(ctx context.Context, session *model.Session) error
	FindByID(ctx context.Context, id string) (*model.Session, error)
	Touch(ctx context.Context, id string, expiresAt time.Time) error
	DeleteByID(ctx context.Context, id string) error
}

// Config はセッションマネージャーの設定。
type Config struct {
	Secret  string        // ダイジェスト計算用の鍵
	MaxAge  time.Duration // セッション有効期間
	Sliding bool          // 残り期間が半分を切ったら解決時に延長する
}

// Manager はセッショントークンのライフサイクルを管理する。
type Manager struct {
	store   Store
	secret  []byte
	maxAge  time.Duration
	sliding bool
	now     func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(store Store, cfg Config) *Manager {
	return &Manager{
		store:   store,
		secret:  []byte(cfg.Secret),
		maxAge:  cfg.MaxAge,
		sliding: cfg.Sliding,
		now:     time.Now,
	}
}

// MaxAge はセッション有効期間を返す。Cookieの有効期限に使う。
func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}

// Create はユーザーのセッションを発行する。
// 返すSessionのIDはクライアントに渡すトークンそのもので、ストアには保存されない。
func (m *Manager) Create(ctx context.Context, userID string) (*model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := m.now()
	stored := &model.Session{
		ID:        m.digest(token),
		UserID:    userID,
		ExpiresAt: now.Add(m.maxAge),
		CreatedAt: now,
	}
	if err := m.store.Create(ctx, stored); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return &model.Session{
		ID:        token,
		UserID:    userID,
		ExpiresAt: stored.ExpiresAt,
		CreatedAt: stored.CreatedAt,
	}, nil
}

// Resolve はトークンに対応するユーザーIDを返す。
// 空・未知・期限切れのトークンはエラーではなく空文字を返す。
func (m *Manager) Resolve(ctx context.Context, token string) (string, error) {
	resolved, err := m.ResolveSession(ctx, token)
	if err != nil || resolved == nil {
		return "", err
	}
	return resolved.UserID, nil
}

// ResolveSession はトークンを解決し、ユーザーIDと有効期限を返す。未認証の場合はnil。
// スライディング有効時は残り期間が半分を切ったセッションを延長し、Renewedをtrueにする。
func (m *Manager) ResolveSession(ctx context.Context, token string) (*model.ResolvedSession, error) {
	if token == "" {
		return nil, nil
	}

	id := m.digest(token)
	session, err := m.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	now := m.now()
	if session.ExpiredAt(now) {
		return nil, nil
	}

	resolved := &model.ResolvedSession{UserID: session.UserID, ExpiresAt: session.ExpiresAt}
	if m.sliding && session.Remaining(now) < m.maxAge/2 {
		extended := now.Add(m.maxAge)
		if err := m.store.Touch(ctx, id, extended); err != nil {
			// 延長に失敗しても現在のセッションは有効
			slog.Warn("failed to extend session",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		} else {
			resolved.ExpiresAt = extended
			resolved.Renewed = true
		}
	}

	return resolved, nil
}

// Destroy はセッションを破棄する。存在しないトークンでもエラーにしない。
func (m *Manager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.DeleteByID(ctx, m.digest(token)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// digest はトークンのHMAC-SHA256ダイジェストをhexで返す。
func (m *Manager) digest(token string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// generateToken は暗号的に安全な32バイトのトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
