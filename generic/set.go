package generic

// Set is an unordered collection of unique items.
type Set[T comparable] struct {
	items map[T]struct{}
}

func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{items: make(map[T]struct{}, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add returns true if the item was not already present.
func (s *Set[T]) Add(item T) bool {
	if _, found := s.items[item]; found {
		return false
	}
	s.items[item] = struct{}{}
	return true
}

// Remove returns true if the item was present.
func (s *Set[T]) Remove(item T) bool {
	if _, found := s.items[item]; !found {
		return false
	}
	delete(s.items, item)
	return true
}

func (s *Set[T]) Contains(item T) bool {
	_, found := s.items[item]
	return found
}

func (s *Set[T]) Count() int {
	return len(s.items)
}

func (s *Set[T]) Clear() {
	s.items = make(map[T]struct{})
}

func (s *Set[T]) ToSlice() []T {
	slice := make([]T, 0, len(s.items))
	for item := range s.items {
		slice = append(slice, item)
	}
	return slice
}
