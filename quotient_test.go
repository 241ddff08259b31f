package qf

import (
	"bytes"
	"testing"

	"github.com/zeebo/assert"
	"github.com/zeebo/pcg"
)

func snapshot[T Unsigned](f *Filter[T]) []slot[T] {
	out := make([]slot[T], f.Cap())
	for i := range out {
		out[i] = f.st.Get(index(i))
	}
	return out
}

func counts[T Unsigned](fps []T) map[T]int {
	out := make(map[T]int)
	for _, fp := range fps {
		out[fp]++
	}
	return out
}

// runModel drives random inserts and removes against a reference multiset,
// keeping the filter close to full so clusters get long and wrap.
func runModel[T Unsigned](t *testing.T, q uint, opts Options, ops int) {
	t.Helper()

	f, err := NewWithOptions[T](q, opts)
	assert.NoError(t, err)

	mask := uint64(1)<<f.Width() - 1
	gen := func() T { return T(pcg.Uint64() & mask) }

	ref := make(map[T]int)
	var keys []T

	compare := func() {
		t.Helper()
		assert.NoError(t, f.Check())
		assert.Equal(t, f.Len(), uint(len(keys)))

		got := counts(f.Fingerprints())
		for fp, n := range ref {
			assert.Equal(t, got[fp], n)
			assert.Equal(t, f.Contains(fp), n > 0)
			delete(got, fp)
		}
		assert.Equal(t, len(got), 0)
	}

	for i := 0; i < ops; i++ {
		switch {
		case len(keys) > 0 && (f.Len() == f.Cap() || pcg.Uint32n(10) < 3):
			j := int(pcg.Uint32n(uint32(len(keys))))
			fp := keys[j]
			keys[j] = keys[len(keys)-1]
			keys = keys[:len(keys)-1]

			assert.NoError(t, f.Remove(fp))
			if ref[fp]--; ref[fp] == 0 {
				delete(ref, fp)
			}

		case pcg.Uint32n(10) == 0:
			if fp := gen(); ref[fp] == 0 {
				assert.That(t, ErrNotFound.Has(f.Remove(fp)))
			}

		default:
			fp := gen()
			if len(keys) > 0 && pcg.Uint32n(8) == 0 {
				fp = keys[pcg.Uint32n(uint32(len(keys)))]
			}

			idx, err := f.Insert(fp)
			assert.NoError(t, err)
			assert.That(t, idx < f.Cap())
			ref[fp]++
			keys = append(keys, fp)
		}

		if i%17 == 0 {
			compare()
		}
	}
	compare()
}

func TestQuotient(t *testing.T) {
	t.Run("Basic", func(t *testing.T) {
		q, err := NewWithOptions[uint64](10, Options{Width: 15})
		assert.NoError(t, err)
		var e []uint64

		for i := 0; i < 500; i++ {
			x := pcg.Uint64()
			e = append(e, x)
			_, err := q.Insert(x)
			assert.NoError(t, err)
		}

		for _, v := range e {
			assert.That(t, q.Contains(v))
		}
		assert.NoError(t, q.Check())
	})

	t.Run("False Positive", func(t *testing.T) {
		q, err := NewWithOptions[uint64](10, Options{Width: 15})
		assert.NoError(t, err)

		for i := 0; i < 750; i++ {
			_, err := q.Insert(pcg.Uint64())
			assert.NoError(t, err)
		}

		got := 0
		for i := 0; i < 10000; i++ {
			if q.Contains(pcg.Uint64()) {
				got++
			}
		}

		assert.That(t, got < 300)
	})

	t.Run("Bug 0", func(t *testing.T) {
		q, err := New[uint8](5)
		assert.NoError(t, err)
		for _, fp := range []uint8{0x12, 0x14, 0x17, 0x26, 0x40} {
			_, err := q.Insert(fp)
			assert.NoError(t, err)
		}

		for it := q.Iter(); it.Next(); {
			if it.Fingerprint() == 0x46 {
				t.Fatal("got the wrong value")
			}
		}
	})

	t.Run("Iterator", func(t *testing.T) {
		q, err := NewWithOptions[uint64](10, Options{Width: 15})
		assert.NoError(t, err)
		e := make(map[uint64]bool)

		for i := 0; i < 500; i++ {
			for {
				x := pcg.Uint64() & (1<<15 - 1)
				if e[x] {
					continue
				}

				e[x] = true
				_, err := q.Insert(x)
				assert.NoError(t, err)
				break
			}
		}

		for it := q.Iter(); it.Next(); {
			h := it.Fingerprint()
			assert.That(t, e[h])
			assert.Equal(t, q.st.Get(index(it.Index())).Remainder(), h&(1<<5-1))
			delete(e, h)
		}

		assert.Equal(t, len(e), 0)
	})

	t.Run("Scenario", func(t *testing.T) {
		// q = 3, r = 5: two remainders share quotient 0 and one lands
		// in quotient 1's slot after being shifted.
		q, err := New[uint8](3)
		assert.NoError(t, err)

		idx, err := q.Insert(0b000_00101)
		assert.NoError(t, err)
		assert.Equal(t, idx, uint(0))
		idx, err = q.Insert(0b000_00110)
		assert.NoError(t, err)
		assert.Equal(t, idx, uint(1))
		idx, err = q.Insert(0b001_01010)
		assert.NoError(t, err)
		assert.Equal(t, idx, uint(2))
		assert.NoError(t, q.Check())

		assert.Equal(t, q.st.Get(0), slot[uint8]{rem: 0b00101, meta: 1})
		assert.Equal(t, q.st.Get(1), slot[uint8]{rem: 0b00110, meta: 1 | 2 | 4})
		assert.Equal(t, q.st.Get(2), slot[uint8]{rem: 0b01010, meta: 4})

		assert.That(t, q.Contains(0b000_00101))
		assert.That(t, !q.Contains(0b000_00111))

		assert.NoError(t, q.Remove(0b000_00101))
		assert.That(t, !q.Contains(0b000_00101))
		assert.That(t, q.Contains(0b000_00110))
		assert.That(t, q.Contains(0b001_01010))
		assert.NoError(t, q.Check())

		// everything slid left into its canonical slot
		assert.Equal(t, q.st.Get(0), slot[uint8]{rem: 0b00110, meta: 1})
		assert.Equal(t, q.st.Get(1), slot[uint8]{rem: 0b01010, meta: 1})
		assert.That(t, q.st.Get(2).Empty())
	})

	t.Run("Capacity", func(t *testing.T) {
		q, err := New[uint16](4)
		assert.NoError(t, err)

		for i := 0; i < 16; i++ {
			_, err := q.Insert(uint16(i * 977))
			assert.NoError(t, err)
		}
		before := snapshot(q)

		_, err = q.Insert(0xffff)
		assert.That(t, ErrFull.Has(err))
		assert.Equal(t, q.Len(), uint(16))
		assert.DeepEqual(t, snapshot(q), before)
		assert.NoError(t, q.Check())

		for i := 0; i < 16; i++ {
			assert.That(t, q.Contains(uint16(i*977)))
		}
	})

	t.Run("Full Wraps", func(t *testing.T) {
		// every fingerprint has the last quotient, so the run wraps
		// around to the front of the table.
		q, err := New[uint8](3)
		assert.NoError(t, err)
		for i := 0; i < 8; i++ {
			_, err := q.Insert(0b111_00000 | uint8(7-i))
			assert.NoError(t, err)
		}
		assert.NoError(t, q.Check())
		assert.Equal(t, len(q.Fingerprints()), 8)

		for i := 0; i < 8; i++ {
			assert.NoError(t, q.Remove(0b111_00000|uint8(i)))
			assert.NoError(t, q.Check())
		}
		assert.That(t, q.Empty())
		assert.DeepEqual(t, snapshot(q), make([]slot[uint8], 8))
	})

	t.Run("Duplicates", func(t *testing.T) {
		q, err := New[uint16](6)
		assert.NoError(t, err)

		for i := 0; i < 3; i++ {
			_, err := q.Insert(0x1234)
			assert.NoError(t, err)
		}
		_, err = q.Insert(0x1233)
		assert.NoError(t, err)
		assert.Equal(t, q.Len(), uint(4))
		assert.NoError(t, q.Check())

		for i := 0; i < 3; i++ {
			assert.That(t, q.Contains(0x1234))
			assert.NoError(t, q.Remove(0x1234))
		}
		assert.That(t, !q.Contains(0x1234))
		assert.That(t, ErrNotFound.Has(q.Remove(0x1234)))
		assert.That(t, q.Contains(0x1233))
		assert.NoError(t, q.Check())
	})

	t.Run("Insert Remove Inverse", func(t *testing.T) {
		q, err := New[uint32](10)
		assert.NoError(t, err)
		for i := 0; i < 400; i++ {
			_, err := q.Insert(uint32(pcg.Uint64()))
			assert.NoError(t, err)
		}

		tried := 0
		for tried < 100 {
			fp := uint32(pcg.Uint64())
			if !q.st.Get(q.quotient(fp)).Empty() {
				continue
			}
			tried++

			before := snapshot(q)
			_, err := q.Insert(fp)
			assert.NoError(t, err)
			assert.That(t, q.Contains(fp))
			assert.NoError(t, q.Remove(fp))
			assert.That(t, !q.Contains(fp))
			assert.Equal(t, q.Len(), uint(400))
			assert.DeepEqual(t, snapshot(q), before)
		}
	})

	t.Run("Run Order", func(t *testing.T) {
		q, err := NewWithOptions[uint32](8, Options{Width: 12})
		assert.NoError(t, err)
		for i := 0; i < 240; i++ {
			_, err := q.Insert(uint32(pcg.Uint64()))
			assert.NoError(t, err)
		}
		assert.NoError(t, q.Check())

		for quo := uint(0); quo < q.Cap(); quo++ {
			if !q.st.Get(index(quo)).Occupied() {
				continue
			}
			pos := q.findRun(index(quo))
			prev := q.st.Get(pos).Remainder()
			for pos = q.next(pos); q.st.Get(pos).Continuation(); pos = q.next(pos) {
				rem := q.st.Get(pos).Remainder()
				assert.That(t, prev <= rem)
				prev = rem
			}
		}
	})

	t.Run("Model", func(t *testing.T) {
		t.Run("8", func(t *testing.T) { runModel[uint8](t, 5, Options{}, 4000) })
		t.Run("16", func(t *testing.T) { runModel[uint16](t, 7, Options{Width: 11}, 4000) })
		t.Run("32", func(t *testing.T) { runModel[uint32](t, 8, Options{}, 4000) })
		t.Run("64", func(t *testing.T) { runModel[uint64](t, 8, Options{}, 4000) })
		t.Run("Packed", func(t *testing.T) { runModel[uint64](t, 7, Options{Width: 40, Packed: true}, 4000) })
		t.Run("Packed Small", func(t *testing.T) { runModel[uint8](t, 4, Options{Packed: true}, 2000) })
	})

	t.Run("Packed Matches Records", func(t *testing.T) {
		rq, err := NewWithOptions[uint16](6, Options{Width: 10})
		assert.NoError(t, err)
		pq, err := NewWithOptions[uint16](6, Options{Width: 10, Packed: true})
		assert.NoError(t, err)

		var fps []uint16
		for i := 0; i < 60; i++ {
			fp := uint16(pcg.Uint64() & (1<<10 - 1))
			fps = append(fps, fp)

			ri, rerr := rq.Insert(fp)
			pi, perr := pq.Insert(fp)
			assert.NoError(t, rerr)
			assert.NoError(t, perr)
			assert.Equal(t, ri, pi)
		}
		assert.DeepEqual(t, snapshot(rq), snapshot(pq))

		for _, fp := range fps[:30] {
			assert.NoError(t, rq.Remove(fp))
			assert.NoError(t, pq.Remove(fp))
		}
		assert.DeepEqual(t, snapshot(rq), snapshot(pq))
		assert.DeepEqual(t, rq.Fingerprints(), pq.Fingerprints())
		assert.That(t, pq.SizeBytes() < rq.SizeBytes())
	})

	t.Run("Clear", func(t *testing.T) {
		q, err := New[uint32](6)
		assert.NoError(t, err)
		for i := 0; i < 40; i++ {
			_, err := q.Insert(uint32(pcg.Uint64()))
			assert.NoError(t, err)
		}
		q.Clear()
		assert.That(t, q.Empty())
		assert.DeepEqual(t, snapshot(q), make([]slot[uint32], 64))
		assert.Equal(t, len(q.Fingerprints()), 0)
	})
}

func TestNew(t *testing.T) {
	bad := func(err error) {
		t.Helper()
		assert.That(t, ErrInvalidSize.Has(err))
	}

	_, err := New[uint8](0)
	bad(err)
	_, err = New[uint8](8)
	bad(err)
	_, err = NewWithOptions[uint8](3, Options{Width: 9})
	bad(err)
	_, err = NewWithOptions[uint16](4, Options{Width: 4})
	bad(err)
	_, err = NewWithOptions[uint16](4, Options{MaxLoad: 1.5})
	bad(err)
	_, err = NewWithOptions[uint16](4, Options{MaxLoad: -1})
	bad(err)
	_, err = NewWithOptions[uint64](1, Options{Packed: true})
	bad(err)
	_, err = NewWithOptions[uint16](4, Options{Buffer: make([]byte, 64)})
	bad(err)
	_, err = NewWithOptions[uint16](4, Options{Packed: true, Buffer: make([]byte, 4)})
	bad(err)

	q, err := New[uint64](63)
	if err == nil {
		t.Fatal("allocated a 2^63 slot table")
	}
	assert.That(t, q == nil)

	q8, err := New[uint8](7)
	assert.NoError(t, err)
	assert.Equal(t, q8.Width(), uint(8))
	assert.Equal(t, q8.QuotientBits(), uint(7))
	assert.Equal(t, q8.RemainderBits(), uint(1))
	assert.Equal(t, q8.Cap(), uint(128))

	buf := bytes.Repeat([]byte{0xff}, int(packedSize(16, 6)))
	qp, err := NewWithOptions[uint16](4, Options{Width: 10, Packed: true, Buffer: buf})
	assert.NoError(t, err)
	assert.DeepEqual(t, snapshot(qp), make([]slot[uint16], 16))
	_, err = qp.Insert(0x3ff)
	assert.NoError(t, err)
	assert.That(t, !bytes.Equal(buf, make([]byte, len(buf))))
}

func TestDump(t *testing.T) {
	q, err := New[uint8](3)
	assert.NoError(t, err)
	for _, fp := range []uint8{0b000_00101, 0b000_00110, 0b101_00001} {
		_, err := q.Insert(fp)
		assert.NoError(t, err)
	}

	var buf bytes.Buffer
	assert.NoError(t, q.Dump(&buf))
	assert.Equal(t, buf.String(), ""+
		"  bucket  O C S remainder\n"+
		"       0  1 0 0 0x5\n"+
		"       1  0 1 1 0x6\n"+
		"     ...\n"+
		"       5  1 0 0 0x1\n"+
		"     ...\n")
}

func TestCheck(t *testing.T) {
	q, err := New[uint8](3)
	assert.NoError(t, err)
	for _, fp := range []uint8{0b000_00101, 0b000_00110, 0b001_01010} {
		_, err := q.Insert(fp)
		assert.NoError(t, err)
	}
	assert.NoError(t, q.Check())

	q.st.Put(2, q.st.Get(2).ClearShifted())
	assert.That(t, Error.Has(q.Check()))

	q.st.Put(2, q.st.Get(2).SetShifted())
	q.st.Put(1, q.st.Get(1).SetRemainder(0))
	assert.That(t, Error.Has(q.Check()))
}

func BenchmarkQuotient(b *testing.B) {
	b.Run("Add", func(b *testing.B) {
		q, _ := NewWithOptions[uint64](11, Options{Width: 16})
		b.ReportAllocs()
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			_, _ = q.Insert(pcg.Uint64())

			if (i+1)%1024 == 0 {
				q.Clear()
			}
		}
	})

	b.Run("Lookup Full", func(b *testing.B) {
		q, _ := NewWithOptions[uint64](10, Options{Width: 15})
		for i := 0; i < 750; i++ {
			_, _ = q.Insert(pcg.Uint64())
		}
		b.ReportAllocs()
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			q.Contains(pcg.Uint64())
		}
	})

	b.Run("Packed Lookup Full", func(b *testing.B) {
		q, _ := NewWithOptions[uint64](10, Options{Width: 15, Packed: true})
		for i := 0; i < 750; i++ {
			_, _ = q.Insert(pcg.Uint64())
		}
		b.ReportAllocs()
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			q.Contains(pcg.Uint64())
		}
	})
}
