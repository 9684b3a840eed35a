package sheets

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/boletin/internal/metrics"
)

// defaultSheetsBaseURL はGoogleスプレッドシートの公開URLのベース。
const defaultSheetsBaseURL = "https://docs.google.com/spreadsheets/d/"

// ParseCSV はCSVテキストを行ごとのRowに変換する。
// 1行目をヘッダーとして扱い、不足する列は空文字で補う。空行は読み飛ばす。
// encoding/csvで読めない入力（閉じていないクォートなど）は1行ずつParseCSVLineで処理するため失敗しない。
func ParseCSV(text string) []Row {
	text = strings.TrimPrefix(text, "\ufeff")

	records, err := readCSVRecords(text)
	if err != nil {
		records = scanCSVLines(text)
	}
	if len(records) == 0 {
		return []Row{}
	}

	headers := records[0]
	rows := make([]Row, 0, len(records)-1)
	for _, values := range records[1:] {
		row := make(Row, len(headers))
		for i, header := range headers {
			if header == "" {
				continue
			}
			if i < len(values) {
				row[header] = values[i]
			} else {
				row[header] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// ParseCSVLine は1行をフィールドに分割する。
// ダブルクォート内のカンマは区切りとみなさない。各フィールドは前後の空白を除去する。
func ParseCSVLine(line string) []string {
	var (
		fields   []string
		current  strings.Builder
		inQuotes bool
	)

	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			fields = append(fields, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(fields, strings.TrimSpace(current.String()))
}

func readCSVRecords(text string) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var records [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if isBlankRecord(record) {
			continue
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		records = append(records, record)
	}
	return records, nil
}

func scanCSVLines(text string) [][]string {
	var records [][]string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		records = append(records, ParseCSVLine(line))
	}
	return records
}

func isBlankRecord(record []string) bool {
	return len(record) == 1 && strings.TrimSpace(record[0]) == ""
}

// CSVConfig はCSVSourceの設定。
type CSVConfig struct {
	SheetID              string
	SheetNameAutomations string
	SheetNameProcesses   string
	SheetNameImageLinks  string
	BaseURL              string // 空の場合はdocs.google.com
	MaxSize              int64
}

// CSVSource はスプレッドシートの各シートをCSVエクスポートで取得する。
// 3シートは並行に取得し、いずれかが失敗した場合は全体を失敗とする。
type CSVSource struct {
	httpClient *http.Client
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	config     CSVConfig
}

// NewCSVSource はCSVSourceの新しいインスタンスを生成する。
func NewCSVSource(config CSVConfig, httpClient *http.Client, collector metrics.MetricsCollector, logger *slog.Logger) *CSVSource {
	if config.BaseURL == "" {
		config.BaseURL = defaultSheetsBaseURL
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &CSVSource{
		httpClient: httpClient,
		metrics:    collector,
		logger:     logger,
		config:     config,
	}
}

// SheetURL は指定シートのCSVエクスポートURLを返す。
func (s *CSVSource) SheetURL(sheetName string) string {
	return fmt.Sprintf("%s%s/gviz/tq?tqx=out:csv&sheet=%s",
		s.config.BaseURL, url.PathEscape(s.config.SheetID), url.QueryEscape(sheetName))
}

// Fetch は3シートを並行に取得してエンベロープにまとめる。
func (s *CSVSource) Fetch(ctx context.Context) (*Envelope, error) {
	env := &Envelope{}
	targets := []struct {
		name string
		dst  *[]Row
	}{
		{s.config.SheetNameAutomations, &env.Automations},
		{s.config.SheetNameProcesses, &env.Processes},
		{s.config.SheetNameImageLinks, &env.ImageLinks},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		g.Go(func() error {
			sheetURL := s.SheetURL(target.name)
			body, err := fetchBody(gctx, s.httpClient, sheetURL, "text/csv", s.config.MaxSize, s.metrics)
			if err != nil {
				s.logger.Error("シートCSVの取得に失敗しました",
					slog.String("sheet", target.name),
					slog.String("error", err.Error()),
				)
				return err
			}
			*target.dst = ParseCSV(string(body))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return env, nil
}
