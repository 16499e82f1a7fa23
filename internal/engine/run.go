package engine

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/ratingsync/internal/bus"
)

// Run consumes sync triggers from the bus until ctx is cancelled.
//
// NEW_DATA starts a pass only while online; SYNC_INITIATED starts a normal
// pass; FORCE_SYNC starts a forced pass. Triggers that arrive while a pass is
// running collapse into the busy no-op.
func (e *Engine) Run(ctx context.Context) error {
	if e.bus == nil {
		return errors.New("engine: Run requires a bus (WithBus)")
	}
	sub := e.bus.Subscribe(bus.NewData, bus.SyncInitiated, bus.ForceSync)
	defer sub.Close()

	e.logger.Info("sync engine starting")
	for {
		msg, ok := sub.Next(ctx)
		if !ok {
			e.logger.Info("sync engine stopping")
			return ctx.Err()
		}
		e.handle(ctx, msg)
	}
}

func (e *Engine) handle(ctx context.Context, msg bus.Message) {
	var err error
	switch msg.Type {
	case bus.NewData:
		if !e.online() {
			e.logger.Debug("new data while offline, deferring sync")
			return
		}
		_, err = e.SyncData(ctx)
	case bus.SyncInitiated:
		_, err = e.SyncData(ctx)
	case bus.ForceSync:
		_, err = e.ForceSync(ctx)
	}
	if err != nil {
		e.logger.Error("sync trigger failed", "trigger", string(msg.Type), "error", err)
	}
}

// BackgroundSync publishes SYNC_INITIATED every interval until ctx is
// cancelled. It is a best-effort wake-up; event-driven triggers do not depend
// on it. interval <= 0 disables it.
func BackgroundSync(ctx context.Context, b *bus.Bus, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.Notify(bus.SyncInitiated)
		}
	}
}
