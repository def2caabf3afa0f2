// Package model はドメインモデルを定義する。
package model

import "time"

// ConversationOwnership はアカウントが上流サービスの会話IDを「所有」していることを表す。
// 1アカウント内で ConversationID は一意。記録は削除されない。
type ConversationOwnership struct {
	UserID         string
	ConversationID string
	ClaimedAt      time.Time
}
