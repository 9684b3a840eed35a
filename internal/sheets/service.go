package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/boletin/internal/metrics"
	"github.com/hitoshi/boletin/internal/model"
)

// リソース名。メトリクスのラベルとログに使う。
const (
	ResourceAutomations = "automatizaciones"
	ResourceProcesses   = "procesos"
	ResourceImageLinks  = "valor_agregado"
)

// Service はダッシュボード用データの取得サービス。
// 同時に発生した取得要求はsingleflightで1回の上流呼び出しにまとめる。
// 取得結果はリクエストをまたいでキャッシュしない。
type Service struct {
	source     Source
	normalizer *Normalizer
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	group      singleflight.Group

	FetchTimeout time.Duration // 共有取得の上限（デフォルト: 30秒）
}

var errSourcePanic = errors.New("source panicked")

// NewService はServiceの新しいインスタンスを生成する。
func NewService(source Source, normalizer *Normalizer, collector metrics.MetricsCollector, logger *slog.Logger) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		source:     source,
		normalizer: normalizer,
		metrics:    collector,
		logger:     logger,

		FetchTimeout: 30 * time.Second,
	}
}

// Automations は正規化済みのAutomatizacionesを返す。
// 取得失敗時は空スライスを返す。
func (s *Service) Automations(ctx context.Context) []model.Automation {
	env, err := s.fetch(ctx)
	if err != nil {
		s.logFallback(ResourceAutomations, err)
		return []model.Automation{}
	}
	return s.automationsFrom(env)
}

// Processes は正規化済みの変更履歴を返す。
// 取得失敗時は空スライスを返す。
func (s *Service) Processes(ctx context.Context) []model.Process {
	env, err := s.fetch(ctx)
	if err != nil {
		s.logFallback(ResourceProcesses, err)
		return []model.Process{}
	}
	return s.processesFrom(env)
}

// ImageLinks は月キーごとの付加価値画像URLを返す。
// 取得失敗時は空マップを返す。
func (s *Service) ImageLinks(ctx context.Context) map[string]model.ImageLinks {
	env, err := s.fetch(ctx)
	if err != nil {
		s.logFallback(ResourceImageLinks, err)
		return map[string]model.ImageLinks{}
	}
	return s.imageLinksFrom(env)
}

func (s *Service) automationsFrom(env *Envelope) []model.Automation {
	out := make([]model.Automation, 0, len(env.Automations))
	for _, row := range env.Automations {
		out = append(out, s.normalizer.Automation(row))
	}
	s.metrics.RecordRowsNormalized(ResourceAutomations, len(out))
	return out
}

func (s *Service) processesFrom(env *Envelope) []model.Process {
	out := make([]model.Process, 0, len(env.Processes))
	for _, row := range env.Processes {
		out = append(out, s.normalizer.Process(row))
	}
	s.metrics.RecordRowsNormalized(ResourceProcesses, len(out))
	return out
}

func (s *Service) imageLinksFrom(env *Envelope) map[string]model.ImageLinks {
	out := s.normalizer.ImageLinks(env.ImageLinks)
	s.metrics.RecordRowsNormalized(ResourceImageLinks, len(out))
	return out
}

// FetchAll は1回の上流取得から3リソースを組み立ててDatasetにまとめる。
// 上流の失敗は空コレクションになるだけでSuccessはtrueのまま。
// コンテキストのキャンセルやpanicの場合はSuccess=falseとErrorを設定する。
func (s *Service) FetchAll(ctx context.Context) model.Dataset {
	ds := model.EmptyDataset()
	if err := ctx.Err(); err != nil {
		ds.Error = err.Error()
		return ds
	}

	start := time.Now()
	env, fetchErr := s.fetch(ctx)

	dispatchErr := ctx.Err()
	switch {
	case dispatchErr != nil:
	case errors.Is(fetchErr, errSourcePanic):
		dispatchErr = fetchErr
	case fetchErr != nil:
		s.logFallback("all", fetchErr)
	default:
		dispatchErr = s.fill(&ds, env)
	}

	if dispatchErr != nil {
		s.metrics.RecordFetchFailure("dispatch")
		s.logger.Error("データの一括取得に失敗しました",
			slog.String("error", dispatchErr.Error()),
		)
		return model.Dataset{
			Automations: []model.Automation{},
			Processes:   []model.Process{},
			ImageLinks:  map[string]model.ImageLinks{},
			Error:       dispatchErr.Error(),
		}
	}

	ds.Success = true
	s.logger.Info("データを取得しました",
		slog.Int("automatizaciones", len(ds.Automations)),
		slog.Int("procesos", len(ds.Processes)),
		slog.Int("valor_agregado", len(ds.ImageLinks)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return ds
}

// fill は同じエンベロープから3リソースを正規化する。正規化中のpanicはエラーとして返す。
func (s *Service) fill(ds *model.Dataset, env *Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("normalize: panic: %v", r)
		}
	}()
	ds.Automations = s.automationsFrom(env)
	ds.Processes = s.processesFrom(env)
	ds.ImageLinks = s.imageLinksFrom(env)
	return nil
}

// fetch は上流からエンベロープを取得する。
// 実行中の取得があればその結果を共有する。共有中の取得は最初の呼び出し元の
// キャンセルでは止まらず、FetchTimeoutで打ち切られる。
// 各呼び出し元は自分のctxが終了した時点で待つのをやめる。
func (s *Service) fetch(ctx context.Context) (*Envelope, error) {
	ch := s.group.DoChan("envelope", func() (v any, err error) {
		// DoChanはpanicをプロセスごと落とすのでエラーに変換する
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", errSourcePanic, r)
				s.metrics.RecordFetchFailure(failureReason(err))
			}
		}()

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.FetchTimeout)
		defer cancel()

		start := time.Now()
		env, err := s.source.Fetch(fetchCtx)
		s.metrics.RecordFetchLatency(time.Since(start))
		if err != nil {
			s.metrics.RecordFetchFailure(failureReason(err))
			return nil, err
		}
		s.metrics.RecordFetchSuccess()
		return env, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Envelope), nil
	}
}

func (s *Service) logFallback(resource string, err error) {
	s.logger.Warn("データの取得に失敗したため空のデータを返します",
		slog.String("resource", resource),
		slog.String("error", err.Error()),
	)
}

// failureReason はメトリクス用に失敗理由を分類する。
func failureReason(err error) string {
	var fe *FetchError
	switch {
	case errors.Is(err, errSourcePanic):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &fe) && fe.StatusCode != 0:
		return "status"
	case errors.As(err, &fe) && errors.Is(fe.Err, errBodyTooLarge):
		return "too_large"
	case errors.Is(err, model.ErrTransport):
		return "transport"
	default:
		return "unknown"
	}
}
