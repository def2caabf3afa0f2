// Package ownership はアカウントと上流の会話IDの紐付け（所有記録）を管理する。
package ownership

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/echolearn/internal/model"
	"github.com/hitoshi/echolearn/internal/repository"
)

// MaxConversationIDLength は会話IDの最大長。
const MaxConversationIDLength = 128

// ClaimMetrics は登録結果を記録するメトリクスのインターフェース。
type ClaimMetrics interface {
	RecordClaim(result string)
}

// Registrar は会話IDの登録と所有確認を提供する。
type Registrar struct {
	repo    repository.OwnershipRepository
	metrics ClaimMetrics
	now     func() time.Time
}

// NewRegistrar はRegistrarを生成する。metricsはnilでもよい。
func NewRegistrar(repo repository.OwnershipRepository, metrics ClaimMetrics) *Registrar {
	return &Registrar{repo: repo, metrics: metrics, now: time.Now}
}

// Claim は会話IDをアカウントに登録する。
// 既に登録済みの場合は何も変えず既存の記録を返す（createdはfalse）。
// IDが不正な場合はINVALID_IDENTIFIERのAPIErrorを返す。
func (r *Registrar) Claim(ctx context.Context, userID, conversationID string) (*model.ConversationOwnership, bool, error) {
	id, err := NormalizeConversationID(conversationID)
	if err != nil {
		r.record("invalid")
		return nil, false, err
	}

	rec, created, err := r.repo.Add(ctx, userID, id, r.now())
	if err != nil {
		r.record("error")
		return nil, false, fmt.Errorf("failed to claim conversation: %w", err)
	}

	if created {
		r.record("created")
		slog.Info("conversation claimed",
			slog.String("user_id", userID),
			slog.String("conversation_id", id),
		)
	} else {
		r.record("existing")
	}
	return rec, created, nil
}

// OwnedIDs はアカウントが所有する会話IDの集合を返す。所有がない場合は空の集合。
func (r *Registrar) OwnedIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	records, err := r.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load owned conversations: %w", err)
	}
	ids := make(map[string]struct{}, len(records))
	for _, rec := range records {
		ids[rec.ConversationID] = struct{}{}
	}
	return ids, nil
}

// IsOwned はアカウントが会話IDを所有しているかを返す。
// 形式として不正なIDは誰も所有できないためfalseを返す。
func (r *Registrar) IsOwned(ctx context.Context, userID, conversationID string) (bool, error) {
	id, err := NormalizeConversationID(conversationID)
	if err != nil {
		return false, nil
	}
	ok, err := r.repo.Exists(ctx, userID, id)
	if err != nil {
		return false, fmt.Errorf("failed to check conversation ownership: %w", err)
	}
	return ok, nil
}

// List はアカウントの所有記録を登録順で返す。
func (r *Registrar) List(ctx context.Context, userID string) ([]model.ConversationOwnership, error) {
	records, err := r.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation ownerships: %w", err)
	}
	if records == nil {
		records = []model.ConversationOwnership{}
	}
	return records, nil
}

func (r *Registrar) record(result string) {
	if r.metrics != nil {
		r.metrics.RecordClaim(result)
	}
}

// NormalizeConversationID は前後の空白を除去し、会話IDの形式を検証する。
// 英数字で始まり、英数字と "_-.:" のみからなる128文字以内の文字列を受け付ける。
func NormalizeConversationID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", model.NewInvalidIdentifierError("会話IDが空です")
	}
	if len(id) > MaxConversationIDLength {
		return "", model.NewInvalidIdentifierError(fmt.Sprintf("会話IDは%d文字以内で指定してください", MaxConversationIDLength))
	}
	if !isAlphaNum(id[0]) {
		return "", model.NewInvalidIdentifierError("会話IDは英数字で始まる必要があります")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if isAlphaNum(c) || c == '_' || c == '-' || c == '.' || c == ':' {
			continue
		}
		return "", model.NewInvalidIdentifierError("会話IDに使用できない文字が含まれています")
	}
	return id, nil
}

func isAlphaNum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
