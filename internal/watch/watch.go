// Package watch is a per-key listener registry. Services publish changes to
// it and the HTTP layer streams them to clients.
package watch

import "sync"

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Registry delivers published values to the listeners subscribed under the
// same key. It is safe for concurrent use.
type Registry[T any] struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]listener[T]
}

// NewRegistry returns a Registry with no listeners.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{listeners: make(map[string][]listener[T])}
}

// Subscribe registers fn under key. The returned function removes it and may
// be called any number of times.
func (r *Registry[T]) Subscribe(key string, fn func(T)) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners[key] = append(r.listeners[key], listener[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(key, id) })
	}
}

func (r *Registry[T]) remove(key string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ls := r.listeners[key]
	for i, l := range ls {
		if l.id == id {
			ls = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(r.listeners, key)
		return
	}
	r.listeners[key] = ls
}

// Publish calls every listener for key with v, in subscription order.
// Listeners run on the caller's goroutine and must not block.
func (r *Registry[T]) Publish(key string, v T) {
	r.mu.RLock()
	ls := r.listeners[key]
	r.mu.RUnlock()

	for _, l := range ls {
		l.fn(v)
	}
}

// Len returns the number of listeners for key.
func (r *Registry[T]) Len(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[key])
}
