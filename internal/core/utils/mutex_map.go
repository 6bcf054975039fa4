package utils

import (
	"errors"
	"sync"
)

var ErrMaxKeysReached = errors.New("max number of locked keys reached")

// MutexMap hands out one mutex per key. Entries are removed once no caller
// holds or waits on them, so the map only grows with the number of keys in use.
type MutexMap[K comparable] struct {
	edit    sync.Mutex
	waiters map[K]int
	mutexes map[K]*sync.Mutex
	maxSize int
}

func NewMutexMap[K comparable](maxSize int) *MutexMap[K] {
	return &MutexMap[K]{
		waiters: make(map[K]int),
		mutexes: make(map[K]*sync.Mutex),
		maxSize: maxSize,
	}
}

func (m *MutexMap[K]) Lock(key K) error {
	m.edit.Lock()

	mu := m.mutexes[key]
	if mu == nil {
		if len(m.mutexes) >= m.maxSize {
			m.edit.Unlock()
			return ErrMaxKeysReached
		}
		mu = &sync.Mutex{}
		m.mutexes[key] = mu
	}
	m.waiters[key]++
	m.edit.Unlock()

	mu.Lock()
	return nil
}

func (m *MutexMap[K]) Unlock(key K) {
	m.edit.Lock()
	defer m.edit.Unlock()

	mu := m.mutexes[key]
	if mu == nil {
		panic("utils: unlock of unlocked key")
	}

	mu.Unlock()
	m.waiters[key]--

	if m.waiters[key] == 0 {
		delete(m.mutexes, key)
		delete(m.waiters, key)
	}
}

// Len reports how many keys are currently held or waited on.
func (m *MutexMap[K]) Len() int {
	m.edit.Lock()
	defer m.edit.Unlock()
	return len(m.mutexes)
}
