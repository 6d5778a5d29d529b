// Package events is a small typed publish/subscribe bus.
package events

import (
	"sync"
)

// Handler receives events of type T.
type Handler[T any] func(T)

// Bus delivers every published event synchronously to each handler that was
// subscribed at publish time, in subscription order.
type Bus[T any] struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler[T]
	order    []int
}

func NewBus[T any]() *Bus[T] {
	return &Bus[T]{handlers: make(map[int]Handler[T])}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus[T]) Subscribe(h Handler[T]) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *Bus[T]) Publish(event T) {
	b.mu.RLock()
	handlers := make([]Handler[T], 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.order)
}
