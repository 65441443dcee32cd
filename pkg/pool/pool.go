package pool

// Pool is a typed wrapper around sync.Pool. Values implementing Resettable
// are reset on Put so the next Get starts clean.
//
//	lines, _ := pool.New(func() *bytes.Buffer { return new(bytes.Buffer) })
//	buf := lines.Get()
//	defer lines.Put(buf)

import (
	"errors"
	"reflect"
	"sync"
)

var (
	ErrNilConstructor = errors.New("pool: constructor must not be nil")
	ErrNilValue       = errors.New("pool: constructor returned nil")
)

type Resettable interface {
	Reset()
}

type Pool[T any] struct {
	pool sync.Pool
}

func New[T any](newFn func() T) (*Pool[T], error) {
	if newFn == nil {
		return nil, ErrNilConstructor
	}
	if isNil(newFn()) {
		return nil, ErrNilValue
	}

	return &Pool[T]{
		pool: sync.Pool{
			New: func() any { return newFn() },
		},
	}, nil
}

// MustNew is New for package-level pools whose constructor is known good
func MustNew[T any](newFn func() T) *Pool[T] {
	p, err := New(newFn)
	if err != nil {
		panic(err)
	}
	return p
}

// isNil also catches typed nils, which any(v) == nil misses
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func (p *Pool[T]) Get() T {
	//nolint:forcetypeassert // New always yields T
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(v T) {
	if r, ok := any(v).(Resettable); ok {
		r.Reset()
	}
	p.pool.Put(v)
}
