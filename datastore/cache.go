package datastore

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/overlaydex/go-overlay/invsync/types"
)

// seqCache holds the latest sequence number of recently written keys so that
// duplicates delivered by several peers are absorbed without a database read.
type seqCache struct {
	*lru.Cache[types.Hash32, uint32]
}

func newSeqCache(size int) seqCache {
	cache, err := lru.New[types.Hash32, uint32](size)
	if err != nil {
		panic("could not initialize cache: " + err.Error())
	}
	return seqCache{Cache: cache}
}

// stale is true if a request with seq is not newer than the cached one.
func (c seqCache) stale(key types.Hash32, seq uint32) bool {
	cur, found := c.Get(key)
	return found && cur >= seq
}
