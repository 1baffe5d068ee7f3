package scheduler

import (
	"encoding/json"
	"maps"
	"strconv"
	"sync"
	"time"
)

// Shared is the mutable state visible to every task handler. Each key is
// conventionally owned by one task; the mutex only keeps the map itself
// consistent and does not arbitrate between writers of the same key.
type Shared struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewShared(initial map[string]any) *Shared {
	s := &Shared{values: make(map[string]any, len(initial))}
	maps.Copy(s.values, initial)
	return s
}

func (s *Shared) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Shared) Set(key string, v any) {
	s.mu.Lock()
	s.values[key] = v
	s.mu.Unlock()
}

func (s *Shared) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Merge copies every field of patch into the shared state.
func (s *Shared) Merge(patch map[string]any) {
	s.mu.Lock()
	maps.Copy(s.values, patch)
	s.mu.Unlock()
}

// Snapshot returns a shallow copy of the current values.
func (s *Shared) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Incr adds delta to an integer field and returns the new value.
func (s *Shared) Incr(key string, delta int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, _ := toInt(s.values[key])
	n += delta
	s.values[key] = n
	return n
}

// Int reads an integer field. Values restored from a snapshot arrive as
// json.Number and are converted transparently.
func (s *Shared) Int(key string) int64 {
	v, _ := s.Get(key)
	n, _ := toInt(v)
	return n
}

func (s *Shared) Float(key string) float64 {
	v, _ := s.Get(key)
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	}
	n, _ := toInt(v)
	return float64(n)
}

func (s *Shared) Bool(key string) bool {
	v, _ := s.Get(key)
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(x)
		return b
	}
	return false
}

func (s *Shared) String(key string) string {
	v, _ := s.Get(key)
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	}
	return ""
}

// Time reads a time field stored either as time.Time or as an RFC3339 string.
func (s *Shared) Time(key string) time.Time {
	v, _ := s.Get(key)
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		return int64(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		f, err := x.Float64()
		return int64(f), err == nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	}
	return 0, false
}
