// Package qf implements a quotient filter: an approximate membership
// structure storing the remainders of fixed width fingerprints in runs
// of a circular slot table. It supports removal and growth by stealing
// remainder bits.
package qf

import (
	"math/bits"

	"github.com/zeebo/errs"
	"github.com/zeebo/mon"
)

// Unsigned is the set of fingerprint types a filter can be built over.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

type index uint // physical slot, and the canonical slot of a quotient

// DefaultMaxLoad is the load factor Merge grows the result to stay under.
const DefaultMaxLoad = 0.75

// the table size must fit an int, and mask+1 must not overflow.
const maxQuotientBits = bits.UintSize - 2

// Options configures a filter. The zero value is a full width filter
// using FNV1a and record storage.
type Options struct {
	// Width is the number of significant fingerprint bits. Zero means
	// the size of the fingerprint type.
	Width uint

	// Hash is used by the *Value methods. Defaults to FNV1a.
	Hash HashFunc

	// MaxLoad is the load factor Merge keeps the result under. Defaults
	// to DefaultMaxLoad.
	MaxLoad float64

	// Packed stores every slot in exactly r+3 bits instead of a record.
	Packed bool

	// Buffer is the backing memory for a packed table. It is zeroed by
	// the constructor. Resize and Merge always allocate fresh memory.
	Buffer []byte
}

// Filter is a quotient filter over fingerprints of type T. It is not safe
// for concurrent use while being mutated.
type Filter[T Unsigned] struct {
	st    storage[T]
	opts  Options
	w     uint // fingerprint bits
	q, r  uint // quotient and remainder bits
	mask  index
	rmask T
	len   uint
}

func typeBits[T Unsigned]() uint { return uint(bits.Len64(uint64(^T(0)))) }

// New returns a filter with 2^q slots for full width fingerprints of T.
func New[T Unsigned](q uint) (*Filter[T], error) {
	return NewWithOptions[T](q, Options{})
}

// NewWithOptions returns a filter with 2^q slots configured by opts.
func NewWithOptions[T Unsigned](q uint, opts Options) (*Filter[T], error) {
	tb := typeBits[T]()
	if opts.Width == 0 {
		opts.Width = tb
	}
	if opts.Width > tb {
		return nil, ErrInvalidSize.New("width %d does not fit a %d bit fingerprint", opts.Width, tb)
	}
	if q == 0 || q >= opts.Width {
		return nil, ErrInvalidSize.New("%d quotient bits leaves no remainder of a %d bit fingerprint", q, opts.Width)
	}
	if q > maxQuotientBits {
		return nil, ErrInvalidSize.New("%d quotient bits is too large a table", q)
	}
	switch {
	case opts.MaxLoad == 0:
		opts.MaxLoad = DefaultMaxLoad
	case !(opts.MaxLoad > 0 && opts.MaxLoad <= 1):
		return nil, ErrInvalidSize.New("max load %v outside (0, 1]", opts.MaxLoad)
	}
	if opts.Hash == nil {
		opts.Hash = FNV1a
	}

	r := opts.Width - q
	f := &Filter[T]{
		w:     opts.Width,
		q:     q,
		r:     r,
		mask:  1<<q - 1,
		rmask: T(1)<<r - 1,
	}

	if opts.Packed {
		if r+3 > 64 {
			return nil, ErrInvalidSize.New("%d bit remainders do not pack into 64 bits", r)
		}
		need := packedSize(1<<q, r)
		buf := opts.Buffer
		if buf == nil {
			buf = make([]byte, need)
		} else if uint(len(buf)) < need {
			return nil, ErrInvalidSize.New("buffer of %d bytes needs at least %d", len(buf), need)
		}
		f.st = newPackedStore[T](buf, r)
		f.st.Clear()
	} else {
		if opts.Buffer != nil {
			return nil, ErrInvalidSize.New("buffer requires packed storage")
		}
		f.st = newRecordStore[T](1 << q)
	}

	opts.Buffer = nil
	f.opts = opts
	return f, nil
}

func (f *Filter[T]) Empty() bool         { return f.len == 0 }
func (f *Filter[T]) Len() uint           { return f.len }
func (f *Filter[T]) Cap() uint           { return 1 << f.q }
func (f *Filter[T]) Width() uint         { return f.w }
func (f *Filter[T]) QuotientBits() uint  { return f.q }
func (f *Filter[T]) RemainderBits() uint { return f.r }
func (f *Filter[T]) SizeBytes() uint64   { return f.st.Size() }

// LoadFactor is the fraction of slots in use.
func (f *Filter[T]) LoadFactor() float64 { return float64(f.len) / float64(f.Cap()) }

// Fingerprint returns the fingerprint of the value: the top Width bits of
// its hash.
func (f *Filter[T]) Fingerprint(b []byte) T { return T(f.opts.Hash(b) >> (64 - f.w)) }

func (f *Filter[T]) Clear() {
	f.len = 0
	f.st.Clear()
}

func (f *Filter[T]) quotient(fp T) index  { return index(uint64(fp)>>f.r) & f.mask }
func (f *Filter[T]) remainder(fp T) T     { return fp & f.rmask }
func (f *Filter[T]) next(idx index) index { return (idx + 1) & f.mask }
func (f *Filter[T]) prev(idx index) index { return (idx - 1) & f.mask }

// findRun returns the slot where the run for the occupied quotient idx
// starts, or would start if it is being created.
func (f *Filter[T]) findRun(idx index) index {
	start := idx
	for f.st.Get(start).Shifted() {
		start = f.prev(start)
	}

	run := start
	for start != idx {
		run = f.next(run)
		for f.st.Get(run).Continuation() {
			run = f.next(run)
		}

		start = f.next(start)
		for !f.st.Get(start).Occupied() {
			start = f.next(start)
		}
	}

	return run
}

// nextOccupied returns the first occupied quotient after idx.
func (f *Filter[T]) nextOccupied(idx index) index {
	idx = f.next(idx)
	for !f.st.Get(idx).Occupied() {
		idx = f.next(idx)
	}
	return idx
}

// findEmpty returns the first empty slot at or after idx.
func (f *Filter[T]) findEmpty(idx index) (index, bool) {
	for n := uint(0); n < f.Cap(); n++ {
		if f.st.Get(idx).Empty() {
			return idx, true
		}
		idx = f.next(idx)
	}
	return 0, false
}

// insertSlot writes s at idx and shifts the rest of the cluster right by
// one. Occupied bits stay with their slot.
func (f *Filter[T]) insertSlot(idx index, s slot[T]) {
	curr := s
	for {
		prev := f.st.Get(idx)

		empty := prev.Empty()
		if !empty {
			prev = prev.SetShifted()
			if prev.Occupied() {
				curr = curr.SetOccupied()
				prev = prev.ClearOccupied()
			}
		}

		f.st.Put(idx, curr)

		curr = prev
		idx = f.next(idx)

		if empty {
			return
		}
	}
}

// deleteSlot drops the entry at idx, whose run belongs to quo, and shifts
// the rest of the cluster left by one. head reports if idx started its
// run.
func (f *Filter[T]) deleteSlot(idx, quo index, head bool) {
	for {
		nidx := f.next(idx)
		next := f.st.Get(nidx)
		curr := f.st.Get(idx)

		// the next slot is empty or canonical, so nothing moves into idx
		if next.Empty() || !next.Shifted() {
			f.st.Put(idx, slot[T]{}.setOccupiedTo(curr.Occupied()))
			return
		}

		if !next.Continuation() {
			quo = f.nextOccupied(quo)
		}

		f.st.Put(idx, curr.
			SetRemainder(next.Remainder()).
			setContinuationTo(next.Continuation() && !head).
			setShiftedTo(quo != idx))

		idx, head = nidx, false
	}
}

// Contains reports true for every fingerprint that has been inserted and
// not removed, and possibly for some others.
func (f *Filter[T]) Contains(fp T) bool {
	_, ok := f.lookup(fp)
	return ok
}

// ContainsValue reports if the fingerprint of the value may be present.
func (f *Filter[T]) ContainsValue(b []byte) bool { return f.Contains(f.Fingerprint(b)) }

// lookup returns the slot holding the first copy of the fingerprint's
// remainder, along with the start of its run.
func (f *Filter[T]) lookup(fp T) (pos index, ok bool) {
	qidx := f.quotient(fp)
	rem := f.remainder(fp)

	if !f.st.Get(qidx).Occupied() {
		return 0, false
	}

	pos = f.findRun(qidx)
	s := f.st.Get(pos)

	for {
		if srem := s.Remainder(); srem == rem {
			return pos, true
		} else if srem > rem {
			return 0, false
		}

		pos = f.next(pos)
		s = f.st.Get(pos)

		if !s.Continuation() {
			return 0, false
		}
	}
}

// Insert adds the fingerprint and returns the slot its remainder was
// stored in. Inserting a fingerprint again stores another copy.
func (f *Filter[T]) Insert(fp T) (uint, error) {
	if f.len >= f.Cap() {
		return 0, ErrFull.New("all %d slots in use", f.Cap())
	}

	qidx := f.quotient(fp)
	rem := f.remainder(fp)

	qslot := f.st.Get(qidx)
	nslot := newSlot(rem)

	if qslot.Empty() {
		f.st.Put(qidx, nslot.SetOccupied())
		f.len++
		return uint(qidx), nil
	}

	// the shift has to end in an empty slot. checking first keeps a
	// failed insert from touching the table.
	if _, ok := f.findEmpty(qidx); !ok {
		return 0, ErrFull.New("no empty slot after %d", qidx)
	}

	if !qslot.Occupied() {
		f.st.Put(qidx, qslot.SetOccupied())
	}

	run := f.findRun(qidx)
	ridx := run

	if qslot.Occupied() {
		rslot := f.st.Get(ridx)

		// equal remainders are kept in insertion order
		for rslot.Remainder() <= rem {
			ridx = f.next(ridx)
			rslot = f.st.Get(ridx)

			if !rslot.Continuation() {
				break
			}
		}

		if ridx == run {
			f.st.Put(run, f.st.Get(run).SetContinuation())
		} else {
			nslot = nslot.SetContinuation()
		}
	}

	if ridx != qidx {
		nslot = nslot.SetShifted()
	}
	f.insertSlot(ridx, nslot)
	f.len++

	return uint(ridx), nil
}

// InsertValue inserts the fingerprint of the value.
func (f *Filter[T]) InsertValue(b []byte) (uint, error) { return f.Insert(f.Fingerprint(b)) }

// Remove deletes one copy of the fingerprint.
func (f *Filter[T]) Remove(fp T) error {
	qidx := f.quotient(fp)

	pos, ok := f.lookup(fp)
	if !ok {
		return ErrNotFound.New("fingerprint %#x", uint64(fp))
	}

	head := !f.st.Get(pos).Continuation()
	if head && !f.st.Get(f.next(pos)).Continuation() {
		f.st.Put(qidx, f.st.Get(qidx).ClearOccupied())
	}

	f.deleteSlot(pos, qidx, head)
	f.len--

	return nil
}

// RemoveValue deletes one copy of the fingerprint of the value.
func (f *Filter[T]) RemoveValue(b []byte) error { return f.Remove(f.Fingerprint(b)) }

// Resize grows the table by stealing additional bits from the remainder,
// doubling the capacity for each bit. Every fingerprint is reinserted into
// a new table, so the filter is left untouched if it fails.
func (f *Filter[T]) Resize(additional uint) (err error) {
	defer mon.Start().Stop(&err)

	if additional == 0 || f.q+additional >= f.w {
		return ErrInvalidSize.New("cannot grow %d quotient bits by %d with a width of %d",
			f.q, additional, f.w)
	}

	nf, err := f.rebuild(f.q+additional, f)
	if err != nil {
		return errs.Wrap(err)
	}

	*f = *nf
	return nil
}

// Merge returns a new filter holding the fingerprints of both filters,
// sized so the combined count stays under the receiver's MaxLoad. A
// fingerprint present in both is stored twice. Neither input changes.
func (f *Filter[T]) Merge(other *Filter[T]) (_ *Filter[T], err error) {
	defer mon.Start().Stop(&err)

	if f.w != other.w {
		return nil, ErrIncompatibleWidth.New("cannot merge %d bit fingerprints with %d bit fingerprints",
			f.w, other.w)
	}

	total := f.len + other.len
	q := f.q
	if other.q > q {
		q = other.q
	}
	for float64(total) > f.opts.MaxLoad*float64(uint(1)<<q) && q+1 < f.w && q < maxQuotientBits {
		q++
	}
	if total > 1<<q {
		return nil, ErrFull.New("%d fingerprints do not fit %d bit filters", total, f.w)
	}

	return f.rebuild(q, f, other)
}

// rebuild returns a filter with q quotient bits holding every fingerprint
// of the sources.
func (f *Filter[T]) rebuild(q uint, srcs ...*Filter[T]) (*Filter[T], error) {
	nf, err := NewWithOptions[T](q, f.opts)
	if err != nil {
		return nil, errs.Wrap(err)
	}

	for _, src := range srcs {
		for it := src.Iter(); it.Next(); {
			if _, err := nf.Insert(it.Fingerprint()); err != nil {
				return nil, errs.Wrap(err)
			}
		}
	}

	return nf, nil
}
