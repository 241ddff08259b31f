package qf

// Iterator walks the stored fingerprints in table order, starting from
// the first cluster. The filter must not be modified while iterating.
type Iterator[T Unsigned] struct {
	f   *Filter[T]
	idx index
	at  index
	quo index
	vis uint
	fp  T
}

// Iter returns an iterator positioned before the first fingerprint.
func (f *Filter[T]) Iter() (it Iterator[T]) {
	it.f = f
	for n := uint(0); n < f.Cap() && f.len > 0 && !f.st.Get(it.idx).ClusterStart(); n++ {
		it.idx = f.next(it.idx)
	}
	return it
}

// Next advances to the next fingerprint, reporting false when every
// fingerprint has been visited.
func (it *Iterator[T]) Next() bool {
	if it.vis >= it.f.len {
		return false
	}
	for {
		s := it.f.st.Get(it.idx)
		if s.ClusterStart() {
			it.quo = it.idx
		} else if s.RunStart() {
			it.quo = it.f.nextOccupied(it.quo)
		}
		it.at = it.idx
		it.idx = it.f.next(it.idx)
		if !s.Empty() {
			it.fp = T(it.quo)<<it.f.r | s.Remainder()
			it.vis++
			return true
		}
	}
}

// Fingerprint is the reconstructed fingerprint at the current position.
func (it *Iterator[T]) Fingerprint() T { return it.fp }

// Index is the slot the current fingerprint is stored in.
func (it *Iterator[T]) Index() uint { return uint(it.at) }

// Fingerprints returns every stored fingerprint in table order.
func (f *Filter[T]) Fingerprints() []T {
	out := make([]T, 0, f.len)
	for it := f.Iter(); it.Next(); {
		out = append(out, it.Fingerprint())
	}
	return out
}
