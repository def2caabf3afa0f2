// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザー（アカウント）を表す。
// このシステムでは削除されず、会話の所有記録の追加のみで変化する。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity はアカウントとIdPアカウント（GoogleのsubやOIDCのsub）の対応。
// (Provider, ProviderUserID) はアカウント全体で一意で、1つのIdPアカウントは1つのアカウントにのみ紐付く。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// IDはクライアントに渡す不透明トークンそのもので、ストアにはダイジェストのみ保存する。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ExpiredAt はnow時点でセッションが失効しているかを返す。有効期限ちょうどは失効扱い。
func (s *Session) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Remaining はnow時点での残り有効時間を返す。失効済みなら0。
func (s *Session) Remaining(now time.Time) time.Duration {
	if s.ExpiredAt(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// ResolvedSession はセッショントークンを解決した結果。
// Renewed はこの解決で有効期限を延長したことを表し、クライアント側Cookieの更新に使う。
type ResolvedSession struct {
	UserID    string
	ExpiresAt time.Time
	Renewed   bool
}
