package memory

import "sync"

// keyLock hands out one mutex per key.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*sync.Mutex)}
}

func (k *keyLock) Lock(key string) {
	k.get(key).Lock()
}

func (k *keyLock) Unlock(key string) {
	k.get(key).Unlock()
}

func (k *keyLock) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	if mu, ok := k.locks[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	k.locks[key] = mu
	return mu
}
