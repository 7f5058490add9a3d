// Package slab provides a fixed-capacity table that hands out small, stable
// integer keys. Removed keys are reused; the table never grows.
package slab

type entry[T any] struct {
	value    T
	occupied bool
	next     int
}

type Slab[T any] struct {
	entries []entry[T]
	free    int
	count   int
}

func New[T any](capacity int) *Slab[T] {
	if capacity < 0 {
		capacity = 0
	}
	s := &Slab[T]{
		entries: make([]entry[T], capacity),
	}
	for i := range s.entries {
		s.entries[i].next = i + 1
	}
	return s
}

// Insert stores v under the lowest released key, or the next unused one. ok
// is false when the table is full.
func (s *Slab[T]) Insert(v T) (key int, ok bool) {
	if s.free >= len(s.entries) {
		return -1, false
	}
	key = s.free
	e := &s.entries[key]
	s.free = e.next
	e.value = v
	e.occupied = true
	s.count++
	return key, true
}

func (s *Slab[T]) Get(key int) (v T, ok bool) {
	if !s.Contains(key) {
		return
	}
	return s.entries[key].value, true
}

func (s *Slab[T]) Contains(key int) bool {
	return key >= 0 && key < len(s.entries) && s.entries[key].occupied
}

// Set replaces the value of an occupied key.
func (s *Slab[T]) Set(key int, v T) bool {
	if !s.Contains(key) {
		return false
	}
	s.entries[key].value = v
	return true
}

// Remove releases key and returns its value. Removing a free key returns false.
func (s *Slab[T]) Remove(key int) (v T, ok bool) {
	if !s.Contains(key) {
		return
	}
	e := &s.entries[key]
	v, ok = e.value, true
	var zero T
	e.value = zero
	e.occupied = false
	s.count--
	s.release(key)
	return
}

// release keeps the free list sorted so that Insert returns the lowest key.
func (s *Slab[T]) release(key int) {
	if key < s.free {
		s.entries[key].next = s.free
		s.free = key
		return
	}
	prev := s.free
	for {
		next := s.entries[prev].next
		if next > key {
			s.entries[key].next = next
			s.entries[prev].next = key
			return
		}
		prev = next
	}
}

func (s *Slab[T]) Len() int {
	return s.count
}

func (s *Slab[T]) Cap() int {
	return len(s.entries)
}

// Range calls fn for every occupied key in ascending order until fn returns
// false. fn may remove the key it is called with.
func (s *Slab[T]) Range(fn func(key int, v T) bool) {
	for i := range s.entries {
		if !s.entries[i].occupied {
			continue
		}
		if !fn(i, s.entries[i].value) {
			return
		}
	}
}
