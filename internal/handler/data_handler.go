package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/boletin/internal/middleware"
	"github.com/hitoshi/boletin/internal/model"
)

// DataServiceInterface はデータハンドラーが必要とするサービスインターフェース。
// 各メソッドは取得失敗時も空のコレクションを返す。
type DataServiceInterface interface {
	Automations(ctx context.Context) []model.Automation
	Processes(ctx context.Context) []model.Process
	ImageLinks(ctx context.Context) map[string]model.ImageLinks
	FetchAll(ctx context.Context) model.Dataset
}

// DataHandler はダッシュボードデータのHTTPハンドラー。
type DataHandler struct {
	service DataServiceInterface
}

// NewDataHandler はDataHandlerを生成する。
func NewDataHandler(service DataServiceInterface) *DataHandler {
	return &DataHandler{service: service}
}

// Dashboard はダッシュボードページを表示する。
// GET /
func (h *DataHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	dataset := h.service.FetchAll(r.Context())
	if !dataset.Success {
		slog.Warn("dashboard rendered without data", slog.String("error", dataset.Error))
	}

	renderPage(w, http.StatusOK, "dashboard",
		newDashboardView(user, middleware.CSRFToken(r.Context()), dataset))
}

// Data は全データをまとめて返す。
// GET /api/data
func (h *DataHandler) Data(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.service.FetchAll(r.Context()))
}

// Automations はオートメーション一覧を返す。
// GET /api/automations
func (h *DataHandler) Automations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.service.Automations(r.Context()))
}

// Processes はプロセス変更一覧を返す。
// GET /api/processes
func (h *DataHandler) Processes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.service.Processes(r.Context()))
}

// ImageLinks は月ごとの画像リンクを返す。
// GET /api/image-links
func (h *DataHandler) ImageLinks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.service.ImageLinks(r.Context()))
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
