package device

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// AttributeKind is the type of an attribute value.
type AttributeKind uint8

const (
	KindFloat AttributeKind = iota + 1
	KindInt
	KindString
	KindBool
	KindDuration
)

// String returns the kind name.
func (k AttributeKind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindDuration:
		return "duration"
	default:
		return "unknown"
	}
}

// Attribute is a named, typed value.
type Attribute struct {
	Name  string
	Kind  AttributeKind
	value any
}

// Value returns the value: float64, int64, string, bool or time.Duration.
func (a Attribute) Value() any { return a.value }

// AttributeBag holds the per-device attributes recorded with a scan, such
// as units or a user label. It is safe for concurrent use.
type AttributeBag struct {
	mu    sync.RWMutex
	attrs map[string]Attribute
}

func NewAttributeBag() *AttributeBag {
	return &AttributeBag{attrs: make(map[string]Attribute)}
}

// Set stores v under name. Integer and float types of any width are
// widened; other types fail.
func (b *AttributeBag) Set(name string, v any) error {
	a := Attribute{Name: name}
	switch x := v.(type) {
	case float64:
		a.Kind, a.value = KindFloat, x
	case float32:
		a.Kind, a.value = KindFloat, float64(x)
	case int:
		a.Kind, a.value = KindInt, int64(x)
	case int32:
		a.Kind, a.value = KindInt, int64(x)
	case int64:
		a.Kind, a.value = KindInt, x
	case uint32:
		a.Kind, a.value = KindInt, int64(x)
	case string:
		a.Kind, a.value = KindString, x
	case bool:
		a.Kind, a.value = KindBool, x
	case time.Duration:
		a.Kind, a.value = KindDuration, x
	default:
		return fmt.Errorf("attribute %q: %w: %T", name, ErrUnsupported, v)
	}

	b.mu.Lock()
	b.attrs[name] = a
	b.mu.Unlock()
	return nil
}

// Get returns the attribute stored under name.
func (b *AttributeBag) Get(name string) (Attribute, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.attrs[name]
	return a, ok
}

// Delete removes name.
func (b *AttributeBag) Delete(name string) {
	b.mu.Lock()
	delete(b.attrs, name)
	b.mu.Unlock()
}

// Names returns the attribute names in sorted order.
func (b *AttributeBag) Names() []string {
	b.mu.RLock()
	names := make([]string, 0, len(b.attrs))
	for n := range b.attrs {
		names = append(names, n)
	}
	b.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Values returns a copy of all values keyed by name.
func (b *AttributeBag) Values() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.attrs))
	for n, a := range b.attrs {
		out[n] = a.value
	}
	return out
}

// Lookup returns the value under name if it is present and of type T.
func Lookup[T any](b *AttributeBag, name string) (T, bool) {
	var zero T
	a, ok := b.Get(name)
	if !ok {
		return zero, false
	}
	v, ok := a.value.(T)
	return v, ok
}

func (b *AttributeBag) Float(name string) (float64, bool) { return Lookup[float64](b, name) }
func (b *AttributeBag) Int(name string) (int64, bool)     { return Lookup[int64](b, name) }
func (b *AttributeBag) Text(name string) (string, bool)   { return Lookup[string](b, name) }
func (b *AttributeBag) Bool(name string) (bool, bool)     { return Lookup[bool](b, name) }
