package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/boletin/internal/model"
)

// ProviderProbe はIDプロバイダーが利用可能かを1回確認する。
type ProviderProbe func(ctx context.Context) error

// ProviderBootstrap はIDプロバイダーが利用可能になるまで一定間隔でポーリングする。
// timeoutを超えた場合はそのページ読み込みについて再試行せず失敗を確定する。
type ProviderBootstrap struct {
	probe    ProviderProbe
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewProviderBootstrap はProviderBootstrapを生成する。
// probeがnilの場合、プロバイダーは常に利用可能とみなす。
func NewProviderBootstrap(probe ProviderProbe, interval, timeout time.Duration, logger *slog.Logger) *ProviderBootstrap {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderBootstrap{
		probe:    probe,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Wait はプロバイダーが利用可能になるまで待つ。
// 直後に1回確認し、以降はintervalごとに確認する。
// timeout内に利用可能にならなければ model.ErrProviderUnavailable を返す。
func (b *ProviderBootstrap) Wait(ctx context.Context) error {
	if b.probe == nil {
		return nil
	}

	lastErr := b.probe(ctx)
	if lastErr == nil {
		return nil
	}

	deadline := time.NewTimer(b.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	attempts := 1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			b.logger.Error("identity provider did not become available",
				slog.Int("attempts", attempts),
				slog.Duration("timeout", b.timeout),
				slog.String("error", lastErr.Error()),
			)
			return fmt.Errorf("%w: %v", model.ErrProviderUnavailable, lastErr)
		case <-ticker.C:
			attempts++
			if lastErr = b.probe(ctx); lastErr == nil {
				return nil
			}
		}
	}
}
