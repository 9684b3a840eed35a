package sheets

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/boletin/internal/model"
	"github.com/hitoshi/boletin/internal/security"
)

var monthKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// timestampLayouts はmesAsignadoとして受け付ける日時書式。
// ゾーン情報のない書式は設定タイムゾーンの時刻として解釈する。
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	"Mon Jan 2 2006 15:04:05 GMT-0700",
	time.RFC1123Z,
	time.RFC1123,
}

// Normalizer は生レコードを表示用のレコードに変換する。
type Normalizer struct {
	location  *time.Location
	sanitizer security.ContentSanitizer
	urlGuard  security.URLGuard
}

// NewNormalizer はNormalizerを生成する。
// locationがnilの場合はUTC。sanitizer、urlGuardがnilの場合はその処理を行わない。
func NewNormalizer(location *time.Location, sanitizer security.ContentSanitizer, urlGuard security.URLGuard) *Normalizer {
	if location == nil {
		location = time.UTC
	}
	return &Normalizer{
		location:  location,
		sanitizer: sanitizer,
		urlGuard:  urlGuard,
	}
}

// Automation はAutomatizacionesの1行を正規化する。
func (n *Normalizer) Automation(row Row) model.Automation {
	return model.Automation{
		Aplicativo:   text(row["aplicativo"]),
		Aplicacion:   text(row["aplicacion"]),
		Proceso:      text(row["proceso"]),
		Detalle:      n.detail(row["detalle"]),
		Compania:     text(row["compania"]),
		VAInicial:    Percentage(row["vaInicial"]),
		VAFinal:      Percentage(row["vaFinal"]),
		IncrementoVA: Percentage(row["incrementoVA"]),
		Fecha:        text(row["fecha"]),
		MesAsignado:  n.MonthKey(row["mesAsignado"]),
	}
}

// Process はcambiosの1行を正規化する。
func (n *Normalizer) Process(row Row) model.Process {
	return model.Process{
		Codigo:        text(row["codigo"]),
		Documento:     text(row["documento"]),
		Dueno:         text(row["dueno"]),
		Detalle:       n.detail(row["detalle"]),
		Compania:      text(row["compania"]),
		Tipo:          text(row["tipo"]),
		Fecha:         text(row["fecha"]),
		ValorAgregado: ValueAdded(row["valor_agregado"]),
		URLProceso:    n.link(row["url_proceso"]),
	}
}

// ImageLinks はvalor_agregadoの行を月キーごとにまとめる。
// 月キーがない行とURLが1つもない行は捨てる。同じ月は後の行で上書きする。
func (n *Normalizer) ImageLinks(rows []Row) map[string]model.ImageLinks {
	out := make(map[string]model.ImageLinks, len(rows))
	for _, row := range rows {
		key := n.MonthKey(row["mesAsignado"])
		links := model.ImageLinks{
			SAS: n.link(row["sas"]),
			CF:  n.link(row["cf"]),
		}
		if key == "" || (links.SAS == "" && links.CF == "") {
			continue
		}
		out[key] = links
	}
	return out
}

// MonthKey はmesAsignadoの値をYYYY-MMに揃える。
// 日時らしい値（Tを含むか10文字超）は解析して年月を取り出し、
// YYYY-MMや解析できない値はそのまま返す。
func (n *Normalizer) MonthKey(v any) string {
	s := strings.TrimSpace(text(v))
	if s == "" || monthKeyPattern.MatchString(s) {
		return s
	}
	if !strings.Contains(s, "T") && len(s) <= 10 {
		return s
	}

	t, ok := parseTimestamp(s, n.location)
	if !ok {
		return s
	}
	return t.In(n.location).Format("2006-01")
}

func parseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	// Date.toString()の末尾 " (Colombia Standard Time)" を除く
	if i := strings.Index(s, " ("); i > 0 {
		s = s[:i]
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Percentage はVA系の値を0-100のパーセント表記にする。
// (0,1]の値は100倍し、それ以外はそのまま。数値でなければ0。
func Percentage(v any) float64 {
	f, ok := number(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f > 0 && f <= 1 {
		return math.Round(f*100*1e9) / 1e9
	}
	return f
}

// ValueAdded はvalor_agregadoを表示用文字列にする。
// [0,1]の数値（または%を含まない数値文字列）は "50.00%" 形式、それ以外はそのまま。
func ValueAdded(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		if strings.Contains(val, "%") {
			return val
		}
		if f, ok := parseFloatPrefix(val); ok && f >= 0 && f <= 1 {
			return formatPercent(f)
		}
		return val
	case json.Number, float64, int, int64:
		f, ok := number(val)
		if ok && f >= 0 && f <= 1 {
			return formatPercent(f)
		}
		return text(val)
	default:
		return text(val)
	}
}

func formatPercent(f float64) string {
	return fmt.Sprintf("%.2f%%", f*100)
}

func (n *Normalizer) detail(v any) string {
	s := text(v)
	if n.sanitizer == nil {
		return s
	}
	return n.sanitizer.Sanitize(s)
}

// link は公開http(s)URLのみを残し、それ以外は空にする。
func (n *Normalizer) link(v any) string {
	s := strings.TrimSpace(text(v))
	if s == "" {
		return ""
	}
	if n.urlGuard != nil && n.urlGuard.ValidateURL(s) != nil {
		return ""
	}
	return s
}

// text は任意のスカラー値を文字列にする。nilは空文字。
func text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

func number(v any) (float64, bool) {
	switch val := v.(type) {
	case json.Number:
		return parseFloatPrefix(val.String())
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		return parseFloatPrefix(val)
	default:
		return 0, false
	}
}

// parseFloatPrefix は先頭の空白を除いた文字列の、数値として読める最長の接頭辞を解釈する。
// "67%" は67、"abc" は解釈不可。
func parseFloatPrefix(s string) (float64, bool) {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	if s == "" {
		return 0, false
	}

	i := 0
	if s[i] == '+' || s[i] == '-' {
		i++
	}
	if strings.HasPrefix(s[i:], "Infinity") {
		if s[0] == '-' {
			return math.Inf(-1), true
		}
		return math.Inf(1), true
	}

	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0, false
	}
	end := i

	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		expDigits := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			expDigits++
		}
		if expDigits > 0 {
			end = j
		}
	}

	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		// 桁あふれはParseFloatが±Infとともにエラーを返す
		return f, !math.IsNaN(f) && f != 0
	}
	return f, true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
