package qf

import "unsafe"

// storage holds the slots of a filter. Both implementations start out
// zeroed, which is the empty slot.
type storage[T Unsigned] interface {
	Get(idx index) slot[T]
	Put(idx index, s slot[T])
	Clear()
	Size() uint64 // bytes
}

// recordStore keeps one fixed size record per slot.
type recordStore[T Unsigned] []slot[T]

func newRecordStore[T Unsigned](n uint) recordStore[T] { return make(recordStore[T], n) }

func (rs recordStore[T]) Get(idx index) slot[T]    { return rs[idx] }
func (rs recordStore[T]) Put(idx index, s slot[T]) { rs[idx] = s }
func (rs recordStore[T]) Size() uint64             { return uint64(len(rs)) * uint64(unsafe.Sizeof(slot[T]{})) }

func (rs recordStore[T]) Clear() {
	for i := range rs {
		rs[i] = slot[T]{}
	}
}

// packedStore keeps each slot in exactly r+3 bits of a byte buffer.
type packedStore[T Unsigned] struct {
	br bitReader
}

// packedSize returns the number of bytes a packed table of n slots with
// r bit remainders needs.
func packedSize(n, r uint) uint { return bitBufSize(n, r+3) }

func newPackedStore[T Unsigned](buf []byte, r uint) *packedStore[T] {
	return &packedStore[T]{br: newBitReader(buf, r+3)}
}

func (ps *packedStore[T]) Get(idx index) slot[T]    { return unpackSlot[T](ps.br.Get(uint(idx))) }
func (ps *packedStore[T]) Put(idx index, s slot[T]) { ps.br.Put(uint(idx), s.pack()) }
func (ps *packedStore[T]) Clear()                   { ps.br.Clear() }
func (ps *packedStore[T]) Size() uint64             { return uint64(len(ps.br.buf)) }
