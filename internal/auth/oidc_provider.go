package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ProviderOIDC は汎用OIDCプロバイダーのidentityに記録する既定のプロバイダー名。
const ProviderOIDC = "oidc"

// OIDCConfig は汎用OIDCプロバイダーの設定。
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// ProviderName はidentityに記録するプロバイダー名。空の場合は"oidc"。
	ProviderName string

	// HTTPClient はディスカバリ・鍵取得・トークン交換に使う。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// OIDCProvider はOpenID ConnectのIDトークン検証による認証を提供する。
// IDトークンの署名・発行者・audienceを検証し、subをProviderUserIDとして扱う。
type OIDCProvider struct {
	oauth      *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	name       string
	httpClient *http.Client
}

// NewOIDCProvider はディスカバリドキュメントを取得してOIDCProviderを生成する。
// ctxは鍵の取得にも引き継がれるため、キャンセルされないcontextを渡すこと。
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc provider: %w", err)
	}

	name := cfg.ProviderName
	if name == "" {
		name = ProviderOIDC
	}

	return &OIDCProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		name:       name,
		httpClient: cfg.HTTPClient,
	}, nil
}

// GetLoginURL は認可エンドポイントのURLを生成する。
func (p *OIDCProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// ExchangeCode は認可コードをトークンに交換し、IDトークンを検証してクレームを取り出す。
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("no id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse id token claims: %w", err)
	}

	return &OAuthUserInfo{
		ProviderUserID: idToken.Subject,
		Email:          claims.Email,
		Name:           claims.Name,
		Provider:       p.name,
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*OIDCProvider)(nil)
