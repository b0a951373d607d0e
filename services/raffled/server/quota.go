package server

import (
	"encoding/hex"
	"sync"
	"time"

	"rafflenet/native/common"
)

// quotaTracker enforces the per-address usage quotas from the node
// configuration on the public surfaces. Counters reset each epoch.
type quotaTracker struct {
	mu    sync.Mutex
	usage map[string]common.QuotaNow
	now   func() time.Time
}

func newQuotaTracker() *quotaTracker {
	return &quotaTracker{
		usage: make(map[string]common.QuotaNow),
		now:   time.Now,
	}
}

func quotaKey(surface string, addr [20]byte) string {
	return surface + "|" + hex.EncodeToString(addr[:])
}

// check consumes addReq requests and addValue spend from the address's quota
// for the surface. Zero-valued quotas pass everything through.
func (t *quotaTracker) check(surface string, q common.Quota, addr [20]byte, addReq uint32, addValue uint64) error {
	if t == nil {
		return nil
	}
	if q.MaxRequestsPerMin == 0 && q.MaxValuePerEpoch == 0 {
		return nil
	}
	epochSeconds := uint64(q.EpochSeconds)
	if epochSeconds == 0 {
		epochSeconds = 60
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	key := quotaKey(surface, addr)
	epoch := uint64(t.now().Unix()) / epochSeconds
	next, err := common.CheckQuota(q, epoch, t.usage[key], addReq, addValue)
	if err != nil {
		return err
	}
	t.usage[key] = next
	return nil
}
