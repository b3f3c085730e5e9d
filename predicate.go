package teamsync

// Predicate selects entities in local queries.
type Predicate[T any] interface {
	Match(v T) bool
}

// PredicateFunc adapts a function to a Predicate.
type PredicateFunc[T any] func(v T) bool

// Match calls f(v).
func (f PredicateFunc[T]) Match(v T) bool { return f(v) }

// And matches when every predicate matches.
func And[T any](preds ...Predicate[T]) Predicate[T] {
	return PredicateFunc[T](func(v T) bool {
		for _, p := range preds {
			if !p.Match(v) {
				return false
			}
		}
		return true
	})
}

// Not inverts a predicate.
func Not[T any](p Predicate[T]) Predicate[T] {
	return PredicateFunc[T](func(v T) bool { return !p.Match(v) })
}
