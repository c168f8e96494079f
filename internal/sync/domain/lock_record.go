package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingLockRecord is the single-row mutual-exclusion token that keeps
// two processing loops (for example one left over from a crashed run and a
// freshly started one) from dispatching the same operation in parallel.
type ProcessingLockRecord struct {
	HolderID    uuid.UUID
	AcquiredAt  time.Time
	HeartbeatAt time.Time
}

// Stale reports whether the lock's heartbeat is older than the staleness
// window, meaning the holder is presumed crashed and the lock may be taken
// over.
func (r *ProcessingLockRecord) Stale(now time.Time, staleness time.Duration) bool {
	return now.Sub(r.HeartbeatAt) > staleness
}
