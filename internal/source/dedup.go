package source

import (
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultDedupLimit bounds the recent-ids set of a ChannelSource.
const DefaultDedupLimit = 10000

// recentIDs remembers recently delivered record keys. When it holds more
// than limit keys the oldest half is evicted.
type recentIDs struct {
	mu    sync.Mutex
	limit int
	ids   *lru.Cache[string, struct{}]
}

func newRecentIDs(limit int) *recentIDs {
	if limit <= 1 {
		limit = DefaultDedupLimit
	}
	// one spare slot so the set can exceed limit before the bulk eviction
	ids, err := lru.New[string, struct{}](limit + 1)
	if err != nil {
		panic(err)
	}
	return &recentIDs{limit: limit, ids: ids}
}

// seen records key and reports whether it was already present.
func (r *recentIDs) seen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ids.Contains(key) {
		return true
	}
	r.ids.Add(key, struct{}{})
	if r.ids.Len() > r.limit {
		for i := 0; i < r.limit/2; i++ {
			r.ids.RemoveOldest()
		}
	}
	return false
}

func (r *recentIDs) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids.Len()
}

func recordKey(channel string, seq uint64, ts time.Time) string {
	return channel + "|" + strconv.FormatUint(seq, 10) + "|" + strconv.FormatInt(ts.UnixNano(), 10)
}
