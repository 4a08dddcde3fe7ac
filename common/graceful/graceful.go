// Package graceful tracks fire-and-forget goroutines whose work must not be
// lost on shutdown, such as statistics writes that happen after the HTTP
// response is gone.
package graceful

import (
	"context"
	"sync"

	"github.com/Laisky/zap"

	"github.com/llmux/llmux/common/logger"
)

var critical sync.WaitGroup

// GoCritical runs fn on its own goroutine, recovers panics, and registers the
// work so Wait can drain it during shutdown. The supplied ctx should outlive
// the request; use gmw.BackgroundCtx for gin handlers.
func GoCritical(ctx context.Context, name string, fn func(ctx context.Context)) {
	critical.Add(1)
	go func() {
		defer critical.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.FromContext(ctx).Error("critical goroutine panicked",
					zap.String("name", name),
					zap.Any("panic", r),
				)
			}
		}()
		fn(ctx)
	}()
}

// Wait blocks until all critical goroutines finish or ctx expires.
func Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		critical.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
