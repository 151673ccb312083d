package device

import (
	"context"
	"fmt"
	"time"
)

// PersistMode selects when snapshots are flushed to the Persister.
type PersistMode string

// Persistence modes.
const (
	PersistSync  PersistMode = "sync"
	PersistAsync PersistMode = "async"
)

// persistTimeout bounds a single background flush.
const persistTimeout = 10 * time.Second

// Persister stores registry snapshots.
// Implementations must be safe for use from the registry's flush goroutine.
type Persister interface {
	Persist(ctx context.Context, snap Snapshot) error
}

// ParsePersistMode converts a config string to a PersistMode.
func ParsePersistMode(s string) (PersistMode, error) {
	switch PersistMode(s) {
	case PersistSync, PersistAsync:
		return PersistMode(s), nil
	case "":
		return PersistAsync, nil
	default:
		return "", fmt.Errorf("%w: persistence mode %q", ErrInvalidArgument, s)
	}
}

// SetPersister installs p as the snapshot sink.
// It must be called before the registry is shared between goroutines.
// In async mode a background flusher is started; stop it with Close.
func (r *Registry) SetPersister(p Persister, mode PersistMode) {
	r.persister = p
	r.persistMode = mode
	if p == nil || mode != PersistAsync {
		return
	}

	r.flushCh = make(chan struct{}, 1)
	r.done = make(chan struct{})
	r.wg.Add(1)
	go r.flushLoop()
}

// Close stops the async flusher after a final flush.
// It is safe to call more than once and on a registry without a persister.
func (r *Registry) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.done != nil {
			close(r.done)
			r.wg.Wait()
		}
		if r.persister != nil {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			err = r.flush(ctx)
		}
	})
	return err
}

// afterMutation is called once a mutation has been applied in memory.
func (r *Registry) afterMutation(ctx context.Context) error {
	if r.persister == nil {
		return nil
	}

	if r.persistMode == PersistAsync {
		select {
		case r.flushCh <- struct{}{}:
		default:
			// A flush is already queued and will pick up this change.
		}
		return nil
	}

	if err := r.flush(ctx); err != nil {
		r.logger.Error("snapshot flush failed", "error", err)
		return err
	}
	return nil
}

func (r *Registry) flushLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case <-r.flushCh:
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := r.flush(ctx); err != nil {
				r.logger.Error("background snapshot flush failed", "error", err)
			}
			cancel()
		}
	}
}

// flush serialises snapshot-then-persist so an older snapshot never
// overwrites a newer one.
func (r *Registry) flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	snap := r.Snapshot()
	if err := r.persister.Persist(ctx, snap); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	r.logger.Debug("snapshot flushed", "devices", len(snap.Devices))
	return nil
}
