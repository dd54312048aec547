package attend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PersistAll writes a durable snapshot for every guild with a live event.
// Per-guild failures are collected so one broken write cannot block the
// others; LastPersistedAt advances only for guilds whose write succeeded.
func (e *Engine) PersistAll(ctx context.Context) error {
	snaps := e.tracker.SnapshotAll()
	if len(snaps) == 0 {
		return nil
	}

	now := e.clock.Now()
	var errs []error
	for _, snap := range snaps {
		if err := e.store.SaveGuildSnapshot(ctx, snap, now); err != nil {
			errs = append(errs, fmt.Errorf("guild %s: %w", snap.Event.GuildID, err))
			continue
		}
		e.tracker.MarkPersisted(snap.Event.GuildID, now)
	}
	if len(errs) > 0 {
		return fmt.Errorf("persist snapshots: %w", errors.Join(errs...))
	}

	e.logger.Debug("snapshots persisted", "guilds", len(snaps))
	return nil
}

// StartSessionPersistence launches the periodic snapshot loop.
// Calling it while the loop is already running is a no-op.
func (e *Engine) StartSessionPersistence() {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	go e.persistLoop(e.stopCh, e.doneCh)

	e.logger.Info("session persistence started", "interval", e.interval)
}

// StopSessionPersistence stops the snapshot loop and waits for the current
// tick, if any, to finish. Safe to call when the loop is not running.
func (e *Engine) StopSessionPersistence() {
	e.loopMu.Lock()
	if !e.running {
		e.loopMu.Unlock()
		return
	}
	e.running = false
	stopCh, doneCh := e.stopCh, e.doneCh
	e.loopMu.Unlock()

	close(stopCh)
	<-doneCh

	e.logger.Info("session persistence stopped")
}

func (e *Engine) persistLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			// Idle guilds cost nothing: no events means no writes at all.
			if !e.tracker.HasAnyActive() {
				continue
			}
			if err := e.PersistAll(context.Background()); err != nil {
				e.logger.Error("periodic snapshot failed", "error", err)
			}
		}
	}
}
