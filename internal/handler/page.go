package handler

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/hitoshi/boletin/internal/model"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pageTemplates = template.Must(template.New("").Funcs(template.FuncMap{
	"percent": formatPercent,
}).ParseFS(templatesFS, "templates/*.html"))

// loginView はログインページの表示データ。
type loginView struct {
	ClientID      string
	LoginURI      string
	AutoSelect    bool
	ProviderError *model.APIError
}

// messageView は拒否ページとエラーページの表示データ。
type messageView struct {
	Title string
	Error *model.APIError
}

type automationRow struct {
	model.Automation
	DetalleHTML template.HTML
}

type processRow struct {
	model.Process
	DetalleHTML template.HTML
}

type imageLinkRow struct {
	Month string
	model.ImageLinks
}

// dashboardView はダッシュボードの表示データ。
type dashboardView struct {
	User        *model.User
	CSRFToken   string
	Automations []automationRow
	Processes   []processRow
	ImageLinks  []imageLinkRow
	Success     bool
	Error       string
}

// newDashboardView はDatasetをテンプレート用に変換する。
// detalleはNormalizerでサニタイズ済みのためHTMLとして埋め込む。
func newDashboardView(user *model.User, csrfToken string, ds model.Dataset) dashboardView {
	v := dashboardView{
		User:        user,
		CSRFToken:   csrfToken,
		Automations: make([]automationRow, 0, len(ds.Automations)),
		Processes:   make([]processRow, 0, len(ds.Processes)),
		ImageLinks:  make([]imageLinkRow, 0, len(ds.ImageLinks)),
		Success:     ds.Success,
		Error:       ds.Error,
	}
	for _, a := range ds.Automations {
		v.Automations = append(v.Automations, automationRow{Automation: a, DetalleHTML: template.HTML(a.Detalle)})
	}
	for _, p := range ds.Processes {
		v.Processes = append(v.Processes, processRow{Process: p, DetalleHTML: template.HTML(p.Detalle)})
	}
	for month, links := range ds.ImageLinks {
		v.ImageLinks = append(v.ImageLinks, imageLinkRow{Month: month, ImageLinks: links})
	}
	// 新しい月を先頭に表示する
	sort.Slice(v.ImageLinks, func(i, j int) bool {
		return v.ImageLinks[i].Month > v.ImageLinks[j].Month
	})
	return v
}

// renderPage はテンプレートをバッファに描画してからレスポンスに書き出す。
// 描画途中で失敗した場合に中途半端なHTMLを返さないため。
func renderPage(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("failed to render page",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// renderError はエラーページを描画する。
func renderError(w http.ResponseWriter, status int, apiErr *model.APIError) {
	renderPage(w, status, "error", messageView{Title: "Error", Error: apiErr})
}

// formatPercent はパーセント値を小数2桁で表示する。
func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "%"
}
