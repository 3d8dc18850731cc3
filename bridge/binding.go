package bridge

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// platformRef boxes a Platform so it can live in an atomic.Pointer.
type platformRef struct {
	Platform
}

// binding holds the current platform and runs guarded calls against it.
type binding struct {
	ref atomic.Pointer[platformRef]
}

func (b *binding) current() *platformRef { return b.ref.Load() }

func (b *binding) bound() bool { return b.ref.Load() != nil }

// call runs fn against the bound platform. Errors and panics from fn come
// back as transport failures; an unbound binding yields ErrUnbound.
func (b *binding) call(op string, fn func(p Platform) error) (err error) {
	ref := b.ref.Load()
	if ref == nil {
		return newError(op, ErrUnbound, nil)
	}
	defer func() {
		if r := recover(); r != nil {
			err = newError(op, ErrTransportFailure, fmt.Errorf("platform panic: %v", r))
		}
	}()
	if err := fn(ref.Platform); err != nil {
		return asTransport(op, err)
	}
	return nil
}

// deliver invokes a subscriber and keeps its panics from reaching the
// platform's delivery goroutine.
func deliver(log *slog.Logger, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("subscriber panicked", "event", event, "panic", r)
		}
	}()
	fn()
}

// slot is a single-subscriber registration with atomic replace.
type slot[T any] struct {
	fn atomic.Pointer[T]
}

func (s *slot[T]) replace(fn *T) { s.fn.Store(fn) }

func (s *slot[T]) load() *T { return s.fn.Load() }
