// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/echolearn/internal/model"
)

// ErrDuplicate は一意制約違反で書き込みが拒否されたことを表す。
// 同一IdPアカウントの同時初回ログインなど、競合の検出に使う。
var ErrDuplicate = errors.New("duplicate record")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityをまとめて作成する。
	// (provider, provider_user_id) が既に存在する場合はErrDuplicateを返し、ユーザーも作成しない。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
// IDにはトークンのダイジェストを渡す。トークンそのものは保存しない。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Touch はセッションの有効期限を延長する。存在しない場合は何もしない。
	Touch(ctx context.Context, id string, expiresAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
}

// ExpiredSessionDeleter は期限切れセッションの一括削除を提供する。
// キーのTTLで自動失効するストアは実装しない。
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// OwnershipRepository は会話所有記録の永続化インターフェース。
// 記録は追加のみで、更新・削除はしない。
type OwnershipRepository interface {
	// Add は所有記録が存在しなければ追加する。存在判定と追加は不可分に行う。
	// createdは今回の呼び出しで追加された場合にtrue。戻り値の記録は常に保存済みのもの。
	Add(ctx context.Context, userID, conversationID string, claimedAt time.Time) (record *model.ConversationOwnership, created bool, err error)

	// Exists はアカウントが会話IDを所有しているかを返す。
	Exists(ctx context.Context, userID, conversationID string) (bool, error)

	// ListByUserID はアカウントの所有記録を登録日時の昇順で返す。
	ListByUserID(ctx context.Context, userID string) ([]model.ConversationOwnership, error)
}
