package execmgr

import (
	"context"
	"strconv"
	"time"
)

// ClusterResourceLimiter is the subset of *rmap.Map a distributed resource
// semaphore needs, grounded on
// features/model/middleware/ratelimit.go's clusterMap seam (itself a subset
// of *rmap.Map, minus the Subscribe method this semaphore has no use for).
type ClusterResourceLimiter interface {
	Get(key string) (string, bool)
	SetIfNotExists(ctx context.Context, key, value string) (bool, error)
	TestAndSet(ctx context.Context, key, test, value string) (string, error)
}

const clusterSemPollInterval = 20 * time.Millisecond

func clusterSemKey(tag string) string { return "execmgr:resourcesem:" + tag }

// clusterAcquire increments tag's shared counter when it is below limit,
// retrying the compare-and-swap against concurrent acquires/releases and
// polling until a slot frees up or ctx is done. The CAS-retry shape follows
// features/model/middleware/ratelimit.go's globalBackoff/globalProbe.
func clusterAcquire(ctx context.Context, m ClusterResourceLimiter, tag string, limit int) error {
	key := clusterSemKey(tag)
	if _, err := m.SetIfNotExists(ctx, key, "0"); err != nil {
		return err
	}
	for {
		curStr, ok := m.Get(key)
		if !ok {
			curStr = "0"
		}
		cur, err := strconv.Atoi(curStr)
		if err != nil {
			cur = 0
		}
		if cur < limit {
			prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(cur+1))
			if err != nil {
				return err
			}
			if prev == curStr {
				return nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(clusterSemPollInterval):
		}
	}
}

// clusterRelease decrements tag's shared counter, retrying the
// compare-and-swap a bounded number of times. Giving up silently is safe:
// the counter only gates throughput, and a release that loses every race to
// a burst of other releases/acquires just means the next acquirer polls a
// little longer.
func clusterRelease(m ClusterResourceLimiter, tag string) {
	key := clusterSemKey(tag)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	const maxAttempts = 5
	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.Atoi(curStr)
		if err != nil || cur <= 0 {
			return
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(cur-1))
		if err != nil {
			return
		}
		if prev == curStr {
			return
		}
	}
}
