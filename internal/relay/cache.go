package relay

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// unitCache remembers the audio of recently synthesized units per
// voice, so repeated phrases in sentence mode skip the round trip.
// Only units that finished with an explicit audio-stop are cached;
// timeout-truncated audio is never stored.
type unitCache struct {
	cache *lru.Cache[string, []byte]
}

func newUnitCache(entries int) *unitCache {
	if entries <= 0 {
		return nil
	}
	cache, err := lru.New[string, []byte](entries)
	if err != nil {
		return nil
	}
	return &unitCache{cache: cache}
}

func (c *unitCache) Get(voice, unit string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.cache.Get(cacheKey(voice, unit))
}

func (c *unitCache) Add(voice, unit string, pcm []byte) {
	if c == nil || len(pcm) == 0 {
		return
	}
	c.cache.Add(cacheKey(voice, unit), pcm)
}

func cacheKey(voice, unit string) string {
	return voice + "\x00" + unit
}
