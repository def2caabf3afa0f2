// Package conversation は所有権に基づいて上流の会話データを絞り込むゲートウェイを提供する。
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/echolearn/internal/model"
	"github.com/hitoshi/echolearn/internal/upstream"
)

// UpstreamClient は上流APIへのアクセスインターフェース。
type UpstreamClient interface {
	ListConversations(ctx context.Context) ([]upstream.Conversation, error)
	GetTranscript(ctx context.Context, conversationID string) ([]json.RawMessage, error)
}

// OwnershipChecker は所有記録の参照インターフェース。
type OwnershipChecker interface {
	OwnedIDs(ctx context.Context, userID string) (map[string]struct{}, error)
	IsOwned(ctx context.Context, userID, conversationID string) (bool, error)
}

// DenialRecorder は所有していない会話へのアクセス拒否を記録する。
type DenialRecorder interface {
	RecordAuthorizationDenied(operation string)
}

// Gateway はアカウントが所有する会話だけを上流から取得して返す。
type Gateway struct {
	upstream  UpstreamClient
	ownership OwnershipChecker
	denials   DenialRecorder
}

// NewGateway はGatewayを生成する。denialsはnilでもよい。
func NewGateway(upstreamClient UpstreamClient, ownership OwnershipChecker, denials DenialRecorder) *Gateway {
	return &Gateway{
		upstream:  upstreamClient,
		ownership: ownership,
		denials:   denials,
	}
}

// ListFor はアカウントが所有する会話を上流の順序のまま返す。
// 所有がない場合も上流の一覧は取得し、空のスライスを返す。
func (g *Gateway) ListFor(ctx context.Context, userID string) ([]upstream.Conversation, error) {
	owned, err := g.ownership.OwnedIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load owned conversations: %w", err)
	}

	all, err := g.upstream.ListConversations(ctx)
	if err != nil {
		return nil, mapUpstreamError(err, "")
	}

	filtered := make([]upstream.Conversation, 0, len(owned))
	for _, c := range all {
		if _, ok := owned[c.ID]; ok {
			filtered = append(filtered, c)
		}
	}

	slog.Debug("conversations filtered",
		slog.String("user_id", userID),
		slog.Int("upstream_count", len(all)),
		slog.Int("owned_count", len(filtered)),
	)
	return filtered, nil
}

// GetTranscript は所有している会話のトランスクリプトを返す。
// 所有していない場合は上流を呼ばずにFORBIDDENを返し、会話の存在有無は明かさない。
func (g *Gateway) GetTranscript(ctx context.Context, userID, conversationID string) ([]json.RawMessage, error) {
	owned, err := g.ownership.IsOwned(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to check conversation ownership: %w", err)
	}
	if !owned {
		if g.denials != nil {
			g.denials.RecordAuthorizationDenied("get_transcript")
		}
		slog.Info("conversation access denied",
			slog.String("user_id", userID),
			slog.String("conversation_id", conversationID),
		)
		return nil, model.NewForbiddenError()
	}

	transcript, err := g.upstream.GetTranscript(ctx, conversationID)
	if err != nil {
		return nil, mapUpstreamError(err, conversationID)
	}
	return transcript, nil
}

// mapUpstreamError は上流エラーをAPIErrorに変換する。
// 上流の404はCONVERSATION_NOT_FOUND、5xxはそのステータスのまま、それ以外は502とする。
func mapUpstreamError(err error, conversationID string) error {
	var upErr *upstream.Error
	if !errors.As(err, &upErr) {
		return fmt.Errorf("upstream call failed: %w", err)
	}

	if upErr.StatusCode == http.StatusNotFound && conversationID != "" {
		return model.NewConversationNotFoundError(conversationID)
	}

	status := http.StatusBadGateway
	if upErr.StatusCode >= 500 && upErr.StatusCode <= 599 {
		status = upErr.StatusCode
	}
	return model.NewUpstreamUnavailableError(status, upErr.Message)
}
