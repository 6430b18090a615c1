package memory

import (
	"context"
	"time"
)

// DefaultRetentionDays is the sweep age used when none is configured.
const DefaultRetentionDays = 30

// Sweep deletes sessions (and their messages) whose updated_at is
// older than retentionDays. Sweep is idempotent: a
// session already deleted, or with no stale messages, is simply
// skipped. It also evicts any swept session from the hot cache.
func (m *Memory) Sweep(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour).Unix()

	ids, err := m.store.SessionsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, id := range ids {
		if err := m.locker.Lock(id); err != nil {
			continue
		}
		err := m.store.DeleteSession(ctx, id)
		m.locker.Unlock(id)
		if err != nil {
			continue
		}
		m.cache.Evict(id)
		swept++
	}
	return swept, nil
}
