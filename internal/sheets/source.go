// Package sheets はスプレッドシート由来のレポートデータの取得と正規化を提供する。
// 取得元はApps ScriptのJSONエンドポイント、またはシートごとのCSVエクスポート。
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/boletin/internal/metrics"
	"github.com/hitoshi/boletin/internal/model"
)

const userAgent = "Boletin/1.0 (+dashboard)"

// errBodyTooLarge はレスポンスボディがサイズ上限を超えたことを示す。
var errBodyTooLarge = errors.New("response body exceeds size limit")

// Row は正規化前の1レコード。キーはシートの列名。
type Row map[string]any

// Envelope はデータエンドポイントが返す3種類の生レコード。
// バックエンドが失敗した場合はErrorのみが設定される。
type Envelope struct {
	Automations []Row `json:"automatizaciones"`
	Processes   []Row `json:"cambios"`
	ImageLinks  []Row `json:"valor_agregado"`
	Error       any   `json:"error,omitempty"`
}

// Source は生レコードの取得元。
type Source interface {
	Fetch(ctx context.Context) (*Envelope, error)
}

// FetchError はデータエンドポイントへの通信失敗を表す。
// errors.Is(err, model.ErrTransport) でマッチする。
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is はmodel.ErrTransportとの比較でtrueを返す。
func (e *FetchError) Is(target error) bool {
	return target == model.ErrTransport
}

// JSONSource は1回のGETで全シートをJSONエンベロープとして取得する。
type JSONSource struct {
	httpClient *http.Client
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	endpoint   string
	maxSize    int64
}

// NewJSONSource はJSONSourceの新しいインスタンスを生成する。
func NewJSONSource(endpoint string, httpClient *http.Client, maxSize int64, collector metrics.MetricsCollector, logger *slog.Logger) *JSONSource {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &JSONSource{
		httpClient: httpClient,
		metrics:    collector,
		logger:     logger,
		endpoint:   endpoint,
		maxSize:    maxSize,
	}
}

// Fetch はエンドポイントからエンベロープを取得する。
// 数値はjson.Numberとして保持し、正規化時に解釈する。
func (s *JSONSource) Fetch(ctx context.Context) (*Envelope, error) {
	body, err := fetchBody(ctx, s.httpClient, s.endpoint, "application/json", s.maxSize, s.metrics)
	if err != nil {
		s.logger.Error("データエンドポイントの取得に失敗しました",
			slog.String("url", s.endpoint),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		s.logger.Error("データエンドポイントのレスポンスのパースに失敗しました",
			slog.String("url", s.endpoint),
			slog.String("error", err.Error()),
		)
		return nil, &FetchError{URL: s.endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}

	if msg := backendError(env.Error); msg != "" {
		s.logger.Warn("データエンドポイントがエラーを返しました",
			slog.String("url", s.endpoint),
			slog.String("backend_error", msg),
		)
		return nil, &FetchError{URL: s.endpoint, Err: fmt.Errorf("backend error: %s", msg)}
	}

	s.logger.Debug("データエンドポイントから取得しました",
		slog.Int("automatizaciones", len(env.Automations)),
		slog.Int("cambios", len(env.Processes)),
		slog.Int("valor_agregado", len(env.ImageLinks)),
	)

	return &env, nil
}

// fetchBody はGETを実行し、2xxのボディをmaxSizeまで読み取る。
func fetchBody(ctx context.Context, client *http.Client, rawURL, accept string, maxSize int64, collector metrics.MetricsCollector) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	collector.RecordHTTPStatus(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	reader := io.Reader(resp.Body)
	if maxSize > 0 {
		reader = io.LimitReader(resp.Body, maxSize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	if maxSize > 0 && int64(len(body)) > maxSize {
		return nil, &FetchError{URL: rawURL, Err: errBodyTooLarge}
	}

	return body, nil
}

// backendError はエンベロープのerrorフィールドを文字列にする。
// 空文字、false、0、nullはエラーなしとして扱う。
func backendError(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case bool:
		if !e {
			return ""
		}
		return strconv.FormatBool(e)
	case json.Number:
		if f, err := e.Float64(); err == nil && f == 0 {
			return ""
		}
		return e.String()
	default:
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Sprint(e)
		}
		return string(b)
	}
}
