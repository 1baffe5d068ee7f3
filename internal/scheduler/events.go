package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type TaskCompleted struct {
	ID         string
	Result     any
	StartedAt  time.Time
	FinishedAt time.Time
}

type TaskError struct {
	ID         string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// subscribers is an ordered list of callbacks. Delivery order is an
// implementation detail and callers must not depend on it.
type subscribers[E any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(E)
}

func (s *subscribers[E]) add(fn func(E)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(E))
	}
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *subscribers[E]) emit(e E) {
	s.mu.Lock()
	fns := make([]func(E), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		deliver(fn, e)
	}
}

func deliver[E any](fn func(E), e E) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("event subscriber panicked")
		}
	}()
	fn(e)
}
