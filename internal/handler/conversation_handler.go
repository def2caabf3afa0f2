package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/echolearn/internal/middleware"
	"github.com/hitoshi/echolearn/internal/model"
	"github.com/hitoshi/echolearn/internal/upstream"
)

// maxClaimBodyBytes は会話ID登録リクエストボディの上限。
const maxClaimBodyBytes = 4 << 10

// ConversationServiceInterface は会話ハンドラーが必要とする参照サービスのインターフェース。
type ConversationServiceInterface interface {
	ListFor(ctx context.Context, userID string) ([]upstream.Conversation, error)
	GetTranscript(ctx context.Context, userID, conversationID string) ([]json.RawMessage, error)
}

// ClaimServiceInterface は会話IDの登録サービスのインターフェース。
type ClaimServiceInterface interface {
	Claim(ctx context.Context, userID, conversationID string) (*model.ConversationOwnership, bool, error)
	List(ctx context.Context, userID string) ([]model.ConversationOwnership, error)
}

// ConversationHandler は会話関連のHTTPハンドラー。
type ConversationHandler struct {
	conversations ConversationServiceInterface
	claims        ClaimServiceInterface
}

// NewConversationHandler はConversationHandlerを生成する。
func NewConversationHandler(conversations ConversationServiceInterface, claims ClaimServiceInterface) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		claims:        claims,
	}
}

type claimRequest struct {
	ConversationID string `json:"conversationId"`
}

type claimResponse struct {
	ConversationID string    `json:"conversationId"`
	ClaimedAt      time.Time `json:"claimedAt"`
}

// List は所有している会話を上流の形式のまま配列で返す。
// GET /api/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	conversations, err := h.conversations.ListFor(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if conversations == nil {
		conversations = []upstream.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

// Claim は会話IDをログイン中のアカウントに登録する。
// POST /api/conversations
// 新規登録は201、登録済みの場合は200を返す。
func (h *ConversationHandler) Claim(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var req claimRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxClaimBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	rec, created, err := h.claims.Claim(r.Context(), userID, req.ConversationID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, claimResponse{
		ConversationID: rec.ConversationID,
		ClaimedAt:      rec.ClaimedAt,
	})
}

// ListClaims はアカウントの所有記録を登録順に返す。
// GET /api/conversations/claims
func (h *ConversationHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	records, err := h.claims.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]claimResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, claimResponse{
			ConversationID: rec.ConversationID,
			ClaimedAt:      rec.ClaimedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTranscript は所有している会話のトランスクリプトを配列で返す。
// GET /api/conversations/{id}
func (h *ConversationHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	conversationID := chi.URLParam(r, "id")
	if conversationID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidIdentifierError("会話IDが空です"))
		return
	}

	transcript, err := h.conversations.GetTranscript(r.Context(), userID, conversationID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if transcript == nil {
		transcript = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, transcript)
}
