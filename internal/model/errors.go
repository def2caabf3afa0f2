// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, conversation, upstream, system
	Action   string // ユーザー向け対処方法

	// Status は上流のHTTPステータスをそのまま返したい場合に設定する。
	// 0の場合はCodeからステータスを決定する。
	Status int
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeInvalidIdentifier    = "INVALID_IDENTIFIER"
	ErrCodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	ErrCodeUpstreamUnavailable  = "UPSTREAM_UNAVAILABLE"
	ErrCodeIdentityExchange     = "IDENTITY_EXCHANGE_FAILED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFTokenInvalid     = "CSRF_TOKEN_INVALID"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は所有していない会話へのアクセスエラーを生成する。
// 会話が上流に存在するかどうかは伝えない。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この会話へのアクセス権がありません。",
		Category: "conversation",
		Action:   "自分が登録した会話IDを指定してください。",
	}
}

// NewInvalidIdentifierError は会話IDの形式エラーを生成する。
func NewInvalidIdentifierError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidIdentifier,
		Message:  fmt.Sprintf("無効な会話IDです: %s", reason),
		Category: "validation",
		Action:   "英数字で始まる128文字以内の会話IDを指定してください。",
	}
}

// NewConversationNotFoundError は所有している会話が上流に存在しない場合のエラーを生成する。
func NewConversationNotFoundError(conversationID string) *APIError {
	return &APIError{
		Code:     ErrCodeConversationNotFound,
		Message:  fmt.Sprintf("会話が見つかりません: %s", conversationID),
		Category: "conversation",
		Action:   "会話が上流サービスで削除されていないか確認してください。",
	}
}

// NewUpstreamUnavailableError は上流API呼び出し失敗エラーを生成する。
// statusは上流が返したHTTPステータス（タイムアウト等で不明な場合は0）。
func NewUpstreamUnavailableError(status int, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  fmt.Sprintf("会話サービスの呼び出しに失敗しました: %s", reason),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   status,
	}
}

// NewIdentityExchangeError はIdPとのアサーション交換失敗エラーを生成する。
// ハンドラーはJSONではなくログイン失敗ページへのリダイレクトで応答する。
func NewIdentityExchangeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeIdentityExchange,
		Message:  fmt.Sprintf("ログインに失敗しました: %s", reason),
		Category: "auth",
		Action:   "もう一度ログインしてください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}

// NewCSRFTokenInvalidError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ残す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
