// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/boletin/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userContextKey はリクエストコンテキストに現在のユーザーを格納するためのキー。
	userContextKey = contextKey("user")
	// userHolderContextKey はロギングミドルウェアが内側のハンドラーから
	// ユーザーを受け取るための入れ物のキー。
	userHolderContextKey = contextKey("user_holder")
)

// userHolder は内側のミドルウェアで確定したユーザーを外側に伝える。
type userHolder struct {
	user *model.User
}

// AccessResolver はセッションIDからアクセス可否を判定する。
// auth.Serviceが実装する。
type AccessResolver interface {
	ResolveAccess(ctx context.Context, sessionID string) (*model.Access, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効性を検証するAPI用ミドルウェアを返す。
// 認証済みユーザーをリクエストコンテキストに注入する。
// 未認証リクエストには401とJSONのエラーを返す。
func NewSessionMiddleware(resolver AccessResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, ok := resolveRequest(resolver, r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), access.User)))
		})
	}
}

// NewPageSessionMiddleware はページ用のセッションミドルウェアを返す。
// 未認証の場合はloginPathへリダイレクトする。
func NewPageSessionMiddleware(resolver AccessResolver, loginPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, ok := resolveRequest(resolver, r)
			if !ok {
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), access.User)))
		})
	}
}

// resolveRequest はCookieのセッションIDでアクセスを判定する。
// Cookieがない場合も空IDで判定する（AUTH_DISABLED時は匿名ユーザーで許可される）。
func resolveRequest(resolver AccessResolver, r *http.Request) (*model.Access, bool) {
	var sessionID string
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	access, err := resolver.ResolveAccess(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to resolve session",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
		)
		return nil, false
	}
	if !access.Granted() || access.User == nil {
		return nil, false
	}
	return access, true
}

// UserFromContext はリクエストコンテキストから現在のユーザーを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil || user.Email == "" {
		return nil, fmt.Errorf("user not found in context")
	}
	return user, nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
// ロギングミドルウェアの入れ物があればそこにも記録する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	if holder, ok := ctx.Value(userHolderContextKey).(*userHolder); ok {
		holder.user = user
	}
	return context.WithValue(ctx, userContextKey, user)
}
