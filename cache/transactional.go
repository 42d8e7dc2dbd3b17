package cache

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// TransactionalCache buffers writes to a shared Cache until Commit.
//
// Reads go straight to the delegate. Keys that miss are remembered so that
// Commit can write an explicit nil (and Rollback can remove them): a blocking
// delegate keeps a per key lock after a miss and needs either call to
// release it.
type TransactionalCache struct {
	delegate      Cache
	logger        *slog.Logger
	clearOnCommit atomic.Bool
	toAdd         *xsync.MapOf[string, entry]
	missed        *xsync.MapOf[string, *Key]
}

// NewTransactionalCache wraps delegate. A nil logger falls back to slog.Default.
func NewTransactionalCache(delegate Cache, logger *slog.Logger) *TransactionalCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionalCache{
		delegate: delegate,
		logger:   logger.With("component", "transactional_cache", "cache", delegate.ID()),
		toAdd:    xsync.NewMapOf[string, entry](),
		missed:   xsync.NewMapOf[string, *Key](),
	}
}

// ID returns the delegate id.
func (t *TransactionalCache) ID() string {
	return t.delegate.ID()
}

// Size returns the delegate size; buffered entries are not counted.
func (t *TransactionalCache) Size() int {
	return t.delegate.Size()
}

// Get reads through to the delegate. After Clear every read is reported as
// a miss even though the delegate still holds its entries until Commit.
func (t *TransactionalCache) Get(ctx context.Context, key *Key) (any, error) {
	value, err := t.delegate.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if value == nil {
		t.missed.Store(key.String(), key)
	}
	if t.clearOnCommit.Load() {
		return nil, nil
	}
	return value, nil
}

// Put buffers value until Commit.
func (t *TransactionalCache) Put(key *Key, value any) {
	t.toAdd.Store(key.String(), entry{key: key, value: value})
}

// Remove is a no-op: entries never reach the delegate before Commit.
func (t *TransactionalCache) Remove(*Key) {}

// Clear discards buffered writes and schedules a delegate clear on Commit.
func (t *TransactionalCache) Clear() {
	t.clearOnCommit.Store(true)
	t.toAdd.Clear()
}

// Commit publishes the buffered state to the delegate. The buffer is
// emptied even when the delegate fails, and missed keys are then released
// as on Rollback.
func (t *TransactionalCache) Commit(ctx context.Context) error {
	defer t.reset()
	if t.clearOnCommit.Load() {
		if err := t.delegate.Clear(ctx); err != nil {
			t.unlockMissedEntries(ctx)
			return errors.Wrapf(err, "clear cache %s on commit", t.delegate.ID())
		}
	}
	if err := t.flushPendingEntries(ctx); err != nil {
		t.unlockMissedEntries(ctx)
		return err
	}
	return nil
}

// Rollback drops the buffered state and releases any key the delegate may
// hold for this transaction. Delegate failures are logged and ignored.
func (t *TransactionalCache) Rollback(ctx context.Context) {
	t.unlockMissedEntries(ctx)
	t.reset()
}

func (t *TransactionalCache) flushPendingEntries(ctx context.Context) error {
	var err error
	t.toAdd.Range(func(_ string, e entry) bool {
		err = t.delegate.Put(ctx, e.key, e.value)
		return err == nil
	})
	if err != nil {
		return errors.Wrapf(err, "flush cache %s", t.delegate.ID())
	}

	t.missed.Range(func(id string, key *Key) bool {
		if _, written := t.toAdd.Load(id); written {
			return true
		}
		err = t.delegate.Put(ctx, key, nil)
		return err == nil
	})
	if err != nil {
		return errors.Wrapf(err, "release missed keys of cache %s", t.delegate.ID())
	}
	return nil
}

func (t *TransactionalCache) unlockMissedEntries(ctx context.Context) {
	t.missed.Range(func(_ string, key *Key) bool {
		if err := t.removeQuietly(ctx, key); err != nil {
			t.logger.Warn("unexpected failure removing missed key on rollback",
				"key", key.Describe(),
				"error", err,
			)
		}
		return true
	})
}

func (t *TransactionalCache) removeQuietly(ctx context.Context, key *Key) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("delegate panicked: %v", r)
		}
	}()
	return t.delegate.Remove(ctx, key)
}

func (t *TransactionalCache) reset() {
	t.clearOnCommit.Store(false)
	t.toAdd.Clear()
	t.missed.Clear()
}
