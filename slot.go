package qf

// slot is a remainder and its three metadata bits. When packed, the
// metadata occupies the low three bits and the remainder sits above it:
//
//	bit 0: occupied, some fingerprint has this slot as its quotient
//	bit 1: continuation, not the first remainder of its run
//	bit 2: shifted, not stored in its canonical slot
type slot[T Unsigned] struct {
	rem  T
	meta uint8
}

func newSlot[T Unsigned](rem T) slot[T] { return slot[T]{rem: rem} }

func unpackSlot[T Unsigned](v uint64) slot[T] {
	return slot[T]{rem: T(v >> 3), meta: uint8(v & 7)}
}

func (s slot[T]) pack() uint64 { return uint64(s.rem)<<3 | uint64(s.meta&7) }

func (s slot[T]) Empty() bool { return s.meta&7 == 0 }

func (s slot[T]) Remainder() T                { return s.rem }
func (s slot[T]) SetRemainder(rem T) slot[T] { s.rem = rem; return s }

func (s slot[T]) Occupied() bool         { return s.meta&1 != 0 }
func (s slot[T]) SetOccupied() slot[T]   { s.meta |= 1; return s }
func (s slot[T]) ClearOccupied() slot[T] { s.meta &^= 1; return s }

func (s slot[T]) Continuation() bool         { return s.meta&2 != 0 }
func (s slot[T]) SetContinuation() slot[T]   { s.meta |= 2; return s }
func (s slot[T]) ClearContinuation() slot[T] { s.meta &^= 2; return s }

func (s slot[T]) Shifted() bool         { return s.meta&4 != 0 }
func (s slot[T]) SetShifted() slot[T]   { s.meta |= 4; return s }
func (s slot[T]) ClearShifted() slot[T] { s.meta &^= 4; return s }

func (s slot[T]) ClusterStart() bool { return s.Occupied() && !s.Continuation() && !s.Shifted() }
func (s slot[T]) RunStart() bool     { return !s.Continuation() && (s.Occupied() || s.Shifted()) }

// the set*To helpers are used when rewriting a slot's flags wholesale.
func (s slot[T]) setContinuationTo(v bool) slot[T] {
	if v {
		return s.SetContinuation()
	}
	return s.ClearContinuation()
}

func (s slot[T]) setShiftedTo(v bool) slot[T] {
	if v {
		return s.SetShifted()
	}
	return s.ClearShifted()
}

func (s slot[T]) setOccupiedTo(v bool) slot[T] {
	if v {
		return s.SetOccupied()
	}
	return s.ClearOccupied()
}
