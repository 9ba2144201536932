package connectors

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProbeResult — итог стартовой проверки одного downstream.
type ProbeResult struct {
	Downstream string
	Tools      int
	Err        error
}

// Probe параллельно запрашивает list_tools у каждого downstream с ограниченным
// числом повторов. Недоступный downstream не мешает старту: итог только логируется.
func Probe(ctx context.Context, reg *Registry, attempts uint, logger *zap.Logger) []ProbeResult {
	logger = logger.With(zap.String("mod", "probe"))
	if attempts == 0 {
		attempts = 1
	}

	names := reg.Names()
	results := make([]ProbeResult, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		client, _ := reg.Get(name)
		g.Go(func() error {
			results[i] = probeOne(gctx, client, attempts)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.Err != nil {
			logger.Warn("downstream probe failed", zap.String("downstream", res.Downstream), zap.Error(res.Err))
			continue
		}
		logger.Info("downstream ready", zap.String("downstream", res.Downstream), zap.Int("tools", res.Tools))
	}
	return results
}

func probeOne(ctx context.Context, client Client, attempts uint) ProbeResult {
	res := ProbeResult{Downstream: client.Name()}

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			// downstream сам сказал, когда приходить (Retry-After)
			var tErr *ThrottleError
			if errors.As(err, &tErr) && tErr.RetryAfter > 0 {
				return tErr.RetryAfter
			}
			return retry.BackOffDelay(n, err, config)
		}),
	)

	res.Err = r.Do(func() error {
		tools, err := client.ListTools(ctx)
		if err != nil {
			return err
		}
		res.Tools = len(tools)
		return nil
	})
	return res
}
