// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/boletin/internal/middleware"
	"github.com/hitoshi/boletin/internal/model"
)

const (
	// gCSRFCookieName はGoogle Identity Servicesが二重送信するCSRFトークンの名前。
	// Cookieとフォームフィールドで同じ名前を使う。
	gCSRFCookieName = "g_csrf_token"

	// autoSelectOffCookie はサインアウト後にOne Tapの自動選択を止めるためのCookie。
	autoSelectOffCookie = "auto_select_off"

	// callbackPath はIDプロバイダーがアサーションをPOSTするパス。
	callbackPath = "/auth/google/callback"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	ResolveAccess(ctx context.Context, sessionID string) (*model.Access, error)
	HandleAssertion(ctx context.Context, credential string) (*model.Access, error)
	SignOut(ctx context.Context, sessionID string) error
	ProviderReady(ctx context.Context) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	ClientID      string
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はログインページとサインイン・サインアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// LoginPage はログインページを表示する。
// GET /login
// 有効なセッションがあればダッシュボードへリダイレクトする。
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	access, err := h.service.ResolveAccess(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to resolve session on login page", slog.String("error", err.Error()))
	} else if access.Granted() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	view := loginView{
		ClientID:   h.config.ClientID,
		LoginURI:   h.config.BaseURL + callbackPath,
		AutoSelect: !hasCookie(r, autoSelectOffCookie),
	}

	if err := h.service.ProviderReady(r.Context()); err != nil {
		slog.Error("identity provider unavailable", slog.String("error", err.Error()))
		view.ProviderError = model.NewProviderUnavailableError()
	}

	renderPage(w, http.StatusOK, "login", view)
}

// Callback はIDプロバイダーからPOSTされたアサーションを処理する。
// POST /auth/google/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderError(w, http.StatusBadRequest, model.NewAssertionInvalidError())
		return
	}

	// 1. g_csrf_tokenの二重送信検証
	cookie, err := r.Cookie(gCSRFCookieName)
	bodyToken := r.PostForm.Get(gCSRFCookieName)
	if err != nil || cookie.Value == "" || bodyToken == "" ||
		subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(bodyToken)) != 1 {
		slog.Warn("g_csrf_token mismatch", slog.String("remote_addr", r.RemoteAddr))
		renderError(w, http.StatusBadRequest, model.NewInvalidCSRFError())
		return
	}

	// 2. アサーションの取得
	credential := r.PostForm.Get("credential")
	if credential == "" {
		renderError(w, http.StatusBadRequest, model.NewAssertionInvalidError())
		return
	}

	// 3. 判定
	access, err := h.service.HandleAssertion(r.Context(), credential)
	if err != nil {
		if errors.Is(err, model.ErrAssertionDecode) {
			renderError(w, http.StatusBadRequest, model.NewAssertionInvalidError())
			return
		}
		slog.Error("sign-in failed", slog.String("error", err.Error()))
		renderError(w, http.StatusInternalServerError, model.NewAssertionInvalidError())
		return
	}

	if !access.Granted() {
		renderPage(w, http.StatusForbidden, "denied", messageView{
			Title: "Acceso denegado",
			Error: model.NewAccessDeniedError(access.Email),
		})
		return
	}

	// 4. セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    access.Session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	h.clearCookie(w, autoSelectOffCookie)

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout はセッションを破棄し、自動選択を無効化してログインページへ戻す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if signOutErr := h.service.SignOut(r.Context(), cookie.Value); signOutErr != nil {
			slog.Error("failed to sign out", slog.String("error", signOutErr.Error()))
			// 失敗してもCookieはクリアする
		}
	}

	h.clearCookie(w, middleware.SessionCookieName)

	http.SetCookie(w, &http.Cookie{
		Name:     autoSelectOffCookie,
		Value:    "1",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func hasCookie(r *http.Request, name string) bool {
	cookie, err := r.Cookie(name)
	return err == nil && cookie.Value != ""
}
