package partition

import (
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/arkilian/splitagg/internal/logging"
)

// DefaultLockStripes is the number of mutexes in a default LockSet.
const DefaultLockStripes = 64

// LockSet serializes appends to the same spill file while letting writes to
// different files proceed in parallel. Tokens are mapped onto a fixed set of
// mutex stripes, so two tokens may share a stripe but one token always maps
// to the same stripe.
type LockSet struct {
	stripes []sync.Mutex
}

// NewLockSet creates a lock set with n stripes (DefaultLockStripes if n <= 0).
func NewLockSet(n int) *LockSet {
	if n <= 0 {
		n = DefaultLockStripes
	}
	return &LockSet{stripes: make([]sync.Mutex, n)}
}

// For returns the mutex guarding token.
func (ls *LockSet) For(token string) *sync.Mutex {
	return &ls.stripes[ls.stripe(token)]
}

func (ls *LockSet) stripe(token string) int {
	return int(murmur3.Sum32([]byte(token)) % uint32(len(ls.stripes)))
}

// HeaderRegistry records which spill files already have a header. One
// registry is shared by every writer of a run.
type HeaderRegistry struct {
	mu       sync.Mutex
	claims   map[string]GroupKey
	reported map[string]struct{}
	logger   *logging.Logger
}

// NewHeaderRegistry creates an empty registry. Key collisions are logged to logger.
func NewHeaderRegistry(logger *logging.Logger) *HeaderRegistry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &HeaderRegistry{
		claims:   make(map[string]GroupKey),
		reported: make(map[string]struct{}),
		logger:   logger,
	}
}

// Claim returns true the first time token is seen, in which case the caller
// must write the header. Call it while holding the token's LockSet mutex so
// the header lands before any row. When a different raw key maps to an
// already claimed token a warning is logged once per key.
func (hr *HeaderRegistry) Claim(token string, key GroupKey) bool {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	first, ok := hr.claims[token]
	if !ok {
		hr.claims[token] = append(GroupKey(nil), key...)
		return true
	}

	if !first.Equal(key) {
		id := token + "\x00" + key.String()
		if _, seen := hr.reported[id]; !seen {
			hr.reported[id] = struct{}{}
			hr.logger.Warn("group keys share a spill file",
				"token", token,
				"first_key", first.String(),
				"key", key.String(),
			)
		}
	}
	return false
}

// Len returns the number of claimed tokens, i.e. spill files created.
func (hr *HeaderRegistry) Len() int {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	return len(hr.claims)
}

// Collisions returns the number of distinct raw keys that landed in a
// spill file first claimed by another key.
func (hr *HeaderRegistry) Collisions() int {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	return len(hr.reported)
}
