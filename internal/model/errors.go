package model

import (
	"errors"
	"fmt"
)

var (
	// ErrAssertionDecode はIDアサーションのデコード・パース・署名検証に失敗したことを示す。
	// ドメイン拒否（AccessDenied）とは区別して扱う。
	ErrAssertionDecode = errors.New("identity assertion could not be decoded")

	// ErrTransport はデータエンドポイントへの通信失敗（ネットワーク、HTTPステータス、
	// 不正なJSON、バックエンドのエラー応答）を示す。
	ErrTransport = errors.New("data endpoint transport failure")

	// ErrProviderUnavailable はIDプロバイダーがポーリング上限内に利用可能にならなかったことを示す。
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, data, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeAccessDenied        = "ACCESS_DENIED"
	ErrCodeAssertionInvalid    = "ASSERTION_INVALID"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeInvalidCSRF         = "INVALID_CSRF"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Se requiere iniciar sesión.",
		Category: "auth",
		Action:   "Inicia sesión con tu cuenta corporativa.",
	}
}

// NewAccessDeniedError はドメイン拒否エラーを生成する。
func NewAccessDeniedError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeAccessDenied,
		Message:  fmt.Sprintf("%s no tiene acceso a esta información.", email),
		Category: "auth",
		Action:   "Solo usuarios con correo corporativo pueden acceder. Intenta con otra cuenta.",
	}
}

// NewAssertionInvalidError はアサーション処理失敗エラーを生成する。
func NewAssertionInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeAssertionInvalid,
		Message:  "Error al procesar la autenticación.",
		Category: "auth",
		Action:   "Por favor intenta de nuevo.",
	}
}

// NewProviderUnavailableError はIDプロバイダー読み込み失敗エラーを生成する。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "No se pudo cargar el proveedor de identidad.",
		Category: "system",
		Action:   "Recarga la página en unos momentos.",
	}
}

// NewInvalidCSRFError はCSRFトークン検証失敗エラーを生成する。
func NewInvalidCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCSRF,
		Message:  "La solicitud no pudo verificarse.",
		Category: "validation",
		Action:   "Recarga la página e intenta de nuevo.",
	}
}
