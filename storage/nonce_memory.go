package storage

import (
	"context"
	"sync"
	"time"

	"github.com/tehmaze-labs/yubistack/interfaces"
)

// MemoryNonceLedger remembers (client, nonce) pairs for a bounded window
// in process memory, pruning expired entries lazily on every insert so
// the ledger stays bounded by the window rather than growing forever.
type MemoryNonceLedger struct {
	window time.Duration
	mu     sync.Mutex
	seen   map[string]time.Time
	now    func() time.Time
}

var _ interfaces.NonceLedger = (*MemoryNonceLedger)(nil)

// NewMemoryNonceLedger creates a ledger with the given retention window.
func NewMemoryNonceLedger(window time.Duration) *MemoryNonceLedger {
	return &MemoryNonceLedger{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Remember records the pair and reports whether it was fresh within the
// retention window.
func (l *MemoryNonceLedger) Remember(ctx context.Context, clientID, nonce string) (bool, error) {
	key := clientID + "\x00" + nonce
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, at := range l.seen {
		if now.Sub(at) > l.window {
			delete(l.seen, k)
		}
	}

	if at, ok := l.seen[key]; ok && now.Sub(at) <= l.window {
		return false, nil
	}
	l.seen[key] = now
	return true, nil
}
