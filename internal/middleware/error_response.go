package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/boletin/internal/model"
)

// ErrorResponseBody は/api/*と/auth/*のJSONエラー形式。
// messageとactionは画面にそのまま出すスペイン語の文言。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse はapiErrをJSONで書き込む。
// セッション状態に依存する応答なのでキャッシュさせない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// internalError は原因を伏せた500応答。詳細は呼び出し側でログに残す。
var internalError = &model.APIError{
	Code:     "INTERNAL_ERROR",
	Message:  "Ocurrió un error interno.",
	Category: "system",
	Action:   "Intenta de nuevo en unos minutos.",
}

// WriteInternalServerError は500の統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, internalError)
}
