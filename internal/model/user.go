// Package model はドメインモデルを定義する。
package model

import "time"

// User はダッシュボードにサインインしたユーザーを表す。
// 氏名とアバターURLはIDプロバイダーのアサーションから取得する。
type User struct {
	ID          string    `json:"id,omitempty"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Picture     string    `json:"picture"`
	CreatedAt   time.Time `json:"-"`
	LastLoginAt time.Time `json:"-"`
}

// Session はユーザーのログインセッション（セッションレコード）を表す。
// 有効期限は作成時に絶対時刻として確定し、延長しない。
type Session struct {
	ID        string
	User      User
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired はnow時点でセッションが失効しているかを返す。
// now < ExpiresAt の間のみ有効とみなす。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
