// Package upstream はElevenLabs Conversational AI APIのクライアントを提供する。
// 会話一覧と会話詳細（トランスクリプト）の取得のみを扱う。
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL は上流APIのベースURL。
	DefaultBaseURL = "https://api.elevenlabs.io/v1/convai"
	// apiKeyHeader はAPIキーを渡すヘッダー名。
	apiKeyHeader = "xi-api-key"
	// maxResponseBytes はレスポンスボディの読み取り上限。
	maxResponseBytes = 10 << 20
	// maxErrorMessageBytes はエラーメッセージとして保持する本文の上限。
	maxErrorMessageBytes = 512
)

// Conversation は上流の会話一覧の1件を表す。
// Rawは上流が返したJSONそのもので、レスポンスにはそのまま埋め込む。
type Conversation struct {
	ID  string
	Raw json.RawMessage
}

// MarshalJSON は上流のJSONをそのまま出力する。
func (c Conversation) MarshalJSON() ([]byte, error) {
	if len(c.Raw) == 0 {
		return []byte("null"), nil
	}
	return c.Raw, nil
}

// Error は上流API呼び出しの失敗を表す。
// StatusCodeは上流が返したHTTPステータスで、通信失敗やタイムアウトの場合は0。
type Error struct {
	StatusCode int
	Message    string
	Timeout    bool
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream request failed: %s", e.Message)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Message)
}

// Metrics は上流呼び出しの計測インターフェース。
type Metrics interface {
	ObserveUpstreamRequest(operation, status string, duration time.Duration)
}

// Config は上流クライアントの設定。
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client は上流APIのHTTPクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    Metrics
	baseURL    string
	apiKey     string
	timeout    time.Duration
}

// NewClient はClientを生成する。
// httpClientがnilの場合はcfg.Timeoutを設定したクライアントを使う。metricsはnilでもよい。
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger, metrics Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
	}
}

type listResponse struct {
	Conversations []json.RawMessage `json:"conversations"`
}

type conversationIDField struct {
	ConversationID string `json:"conversation_id"`
}

type detailResponse struct {
	Transcript []json.RawMessage `json:"transcript"`
}

// ListConversations は上流の会話一覧（先頭ページ）を上流の順序のまま返す。
// conversation_idを持たない要素はどのアカウントにも属し得ないため除外する。
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	body, err := c.get(ctx, "list", "/conversations")
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Message: fmt.Sprintf("failed to parse conversation list: %v", err)}
	}

	conversations := make([]Conversation, 0, len(resp.Conversations))
	for _, raw := range resp.Conversations {
		var f conversationIDField
		if err := json.Unmarshal(raw, &f); err != nil || f.ConversationID == "" {
			c.logger.Warn("skipping upstream conversation without conversation_id")
			continue
		}
		conversations = append(conversations, Conversation{ID: f.ConversationID, Raw: raw})
	}
	return conversations, nil
}

// GetTranscript は会話のトランスクリプトを返す。
// 上流のレスポンスにtranscriptがない場合は空のスライスを返す。
func (c *Client) GetTranscript(ctx context.Context, conversationID string) ([]json.RawMessage, error) {
	body, err := c.get(ctx, "get", "/conversations/"+url.PathEscape(conversationID))
	if err != nil {
		return nil, err
	}

	var resp detailResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Message: fmt.Sprintf("failed to parse conversation: %v", err)}
	}
	if resp.Transcript == nil {
		return []json.RawMessage{}, nil
	}
	return resp.Transcript, nil
}

// get はAPIキー付きのGETリクエストを送り、2xxの場合に本文を返す。
func (c *Client) get(ctx context.Context, operation, path string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		timeout := isTimeout(err)
		status := "error"
		if timeout {
			status = "timeout"
		}
		c.observe(operation, status, start)
		c.logger.Error("upstream request failed",
			slog.String("operation", operation),
			slog.Bool("timeout", timeout),
			slog.String("error", err.Error()),
		)
		return nil, &Error{Message: err.Error(), Timeout: timeout}
	}
	defer resp.Body.Close()

	c.observe(operation, strconv.Itoa(resp.StatusCode), start)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("failed to read upstream response: %v", err), Timeout: isTimeout(err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorMessageBytes {
			msg = msg[:maxErrorMessageBytes]
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.logger.Warn("upstream returned error status",
			slog.String("operation", operation),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	return body, nil
}

func (c *Client) observe(operation, status string, start time.Time) {
	if c.metrics != nil {
		c.metrics.ObserveUpstreamRequest(operation, status, time.Since(start))
	}
}

// isTimeout はerrがタイムアウトによるものかを判定する。
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
