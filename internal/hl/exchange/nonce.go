package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type NonceState struct {
	Key       string
	Last      uint64
	Persisted uint64
}

// nonceClock issues strictly increasing millisecond nonces. Once bound to a
// store every issued nonce is written through, so a restart resumes above it.
type nonceClock struct {
	last atomic.Uint64
	now  func() time.Time

	mu        sync.Mutex
	store     NonceStore
	key       string
	persisted uint64
	warned    bool
	log       *zap.Logger
}

func newNonceClock() *nonceClock {
	return &nonceClock{now: time.Now}
}

func (n *nonceClock) next() uint64 {
	now := uint64(n.now().UnixMilli())
	for {
		prev := n.last.Load()
		next := max(now, prev+1)
		if n.last.CompareAndSwap(prev, next) {
			n.persist(next)
			return next
		}
	}
}

// bind seeds the clock from the stored nonce without ever moving it backwards.
func (n *nonceClock) bind(ctx context.Context, store NonceStore, key string, log *zap.Logger) error {
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load nonce: %w", err)
	}
	seed := uint64(n.now().UnixMilli())
	if ok {
		stored, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stored nonce %q: %w", raw, err)
		}
		seed = max(seed, stored)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	seed = max(seed, n.last.Load())
	n.last.Store(seed)
	n.store = store
	n.key = key
	n.persisted = seed
	n.log = log
	return nil
}

func (n *nonceClock) persist(nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.store == nil || nonce <= n.persisted {
		return
	}
	if err := n.store.Set(context.Background(), n.key, strconv.FormatUint(nonce, 10)); err != nil {
		// Warn once per failure streak.
		if !n.warned && n.log != nil {
			n.log.Warn("nonce persistence failed", zap.String("nonce_key", n.key), zap.Error(err))
		}
		n.warned = true
		return
	}
	n.persisted = nonce
	n.warned = false
}

func (n *nonceClock) state() (NonceState, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.store == nil {
		return NonceState{}, false
	}
	return NonceState{Key: n.key, Last: n.last.Load(), Persisted: n.persisted}, true
}
