package services

import (
	"context"
	"sync"

	"hotel-concierge/internal/core/ports"
)

// KeyedLocker is an in-process per-conversation mutex. Entries are reference
// counted and dropped once nobody holds or waits for them.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

var _ ports.ConversationLocker = (*KeyedLocker)(nil)

// NewKeyedLocker creates an empty locker
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until conversationID is free or ctx ends
func (l *KeyedLocker) Lock(ctx context.Context, conversationID string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[conversationID]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[conversationID] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(conversationID, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(conversationID, kl)
		})
	}, nil
}

func (l *KeyedLocker) release(id string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, id)
	}
}

// held reports how many keys are tracked
func (l *KeyedLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
