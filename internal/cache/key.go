package cache

import "strings"

type Kind string

const (
	KindSlice     Kind = "slice"
	KindSingleton Kind = "singleton"
	KindPrefix    Kind = "prefix"
)

// Key identifies a cache entry. Keys of different kinds never collide even
// when their names are equal.
type Key struct {
	Kind Kind
	Name string
}

func SliceKey(sliceName string) Key {
	return Key{Kind: KindSlice, Name: sliceName}
}

func SingletonKey(name string) Key {
	return Key{Kind: KindSingleton, Name: name}
}

// PrefixKey builds a key inside a named family, e.g. one entry per project.
func PrefixKey(prefix string, parts ...string) Key {
	return Key{Kind: KindPrefix, Name: prefix + "/" + strings.Join(parts, "/")}
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.Name
}
