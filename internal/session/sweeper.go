package session

import (
	"context"
	"log/slog"
	"time"
)

const sweepInterval = 5 * time.Minute

// CleanupCallback is called for every device whose session was swept.
type CleanupCallback func(deviceID string)

// StartSweeper runs a background goroutine that periodically drops sessions
// idle for longer than ttl. It stops when ctx is done.
func StartSweeper(ctx context.Context, mgr *Manager, ttl time.Duration, onCleanup CleanupCallback) {
	startSweeper(ctx, mgr, ttl, sweepInterval, onCleanup)
}

func startSweeper(ctx context.Context, mgr *Manager, ttl, interval time.Duration, onCleanup CleanupCallback) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(mgr, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(mgr *Manager, ttl time.Duration, onCleanup CleanupCallback) {
	expired := mgr.SweepIdle(ttl)
	if len(expired) == 0 {
		return
	}
	for _, id := range expired {
		slog.Info("Session sweeper dropped idle session", "device_id", id)
		if onCleanup != nil {
			onCleanup(id)
		}
	}
	slog.Info("Session sweep completed", "cleaned", len(expired), "remaining", mgr.Len())
}
