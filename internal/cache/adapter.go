package cache

import "context"

// Adapter is the persistent tier of the cache. GetItem reports a missing key
// with ok == false and a nil error.
type Adapter interface {
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Cloner is implemented by values that can produce an independent deep copy
// of themselves.
type Cloner[T any] interface {
	Clone() T
}
