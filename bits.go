package qf

import (
	"encoding/binary"
)

// bitReader abstracts reading values from a byte array where the
// values are all some size in bits. Values are stored little endian
// starting at the lowest order bit of the first byte. A value may
// be up to 64 bits wide, in which case it can straddle nine bytes.
type bitReader struct {
	buf  []byte
	bits uint
	mask uint64
}

func newBitReader(buf []byte, bits uint) bitReader {
	return bitReader{
		buf:  buf,
		bits: bits,
		mask: 1<<bits - 1, // shifting by 64 yields 0, so this is all ones
	}
}

// bitBufSize returns the number of bytes needed to hold n values of
// the given width.
func bitBufSize(n, bits uint) uint { return (n*bits + 7) / 8 }

func (br *bitReader) rawRead(n uint) uint64 {
	var tmp [8]byte
	copy(tmp[:], br.buf[n:])
	return binary.LittleEndian.Uint64(tmp[:])
}

func (br *bitReader) rawWrite(n uint, val uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], val)
	copy(br.buf[n:], tmp[:])
}

func (br *bitReader) Get(idx uint) uint64 {
	b := idx * br.bits
	n, o := b/8, b%8
	v := br.rawRead(n) >> o
	if o+br.bits > 64 {
		v |= uint64(br.buf[n+8]) << (64 - o)
	}
	return v & br.mask
}

func (br *bitReader) Put(idx uint, val uint64) {
	b := idx * br.bits
	n, o := b/8, b%8
	val &= br.mask

	v := br.rawRead(n)
	v &^= br.mask << o
	v |= val << o
	br.rawWrite(n, v)

	// the top of the value spilled into a ninth byte
	if spill := o + br.bits; spill > 64 {
		hmask := byte(1)<<(spill-64) - 1
		br.buf[n+8] = br.buf[n+8]&^hmask | byte(val>>(64-o))&hmask
	}
}

func (br *bitReader) Clear() {
	for i := range br.buf {
		br.buf[i] = 0
	}
}
