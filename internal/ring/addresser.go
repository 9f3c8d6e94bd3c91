package ring

import (
	lru "github.com/hashicorp/golang-lru"
)

// Addresser maps table keys onto ring positions.
type Addresser interface {
	Address(key []byte) Address
}

// HashAddresser hashes keys with SHA-1 and remembers recent results, since
// replication scans map every stored key on each step.
type HashAddresser struct {
	cache *lru.Cache
}

// NewHashAddresser returns an addresser caching up to size keys. A size of
// zero or less disables the cache.
func NewHashAddresser(size int) *HashAddresser {
	h := &HashAddresser{}
	if size > 0 {
		// only fails for non-positive sizes
		h.cache, _ = lru.New(size)
	}
	return h
}

func (h *HashAddresser) Address(key []byte) Address {
	if h.cache == nil {
		return HashAddress(key)
	}
	if v, ok := h.cache.Get(string(key)); ok {
		return v.(Address)
	}
	addr := HashAddress(key)
	h.cache.Add(string(key), addr)
	return addr
}

// Len reports the number of cached keys.
func (h *HashAddresser) Len() int {
	if h.cache == nil {
		return 0
	}
	return h.cache.Len()
}

// AddresserFunc adapts a function to the Addresser interface.
type AddresserFunc func(key []byte) Address

func (f AddresserFunc) Address(key []byte) Address {
	return f(key)
}
