package rollout

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency — сколько устройств обрабатывается параллельно по умолчанию.
const DefaultConcurrency = 16

// forEachDevice вызывает fn для каждого устройства, не более limit одновременно.
//
// fn не возвращает ошибку: результат каждого устройства записывается самим fn,
// поэтому сбой одного устройства не отменяет остальные. Отмена ctx
// перестаёт запускать новые вызовы, уже начатые доработают до конца.
func forEachDevice(ctx context.Context, deviceIDs []string, limit int, fn func(ctx context.Context, i int, deviceID string)) {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i, id := range deviceIDs {
		if ctx.Err() != nil {
			fn(ctx, i, id)
			continue
		}
		g.Go(func() error {
			fn(ctx, i, id)
			return nil
		})
	}

	_ = g.Wait()
}
