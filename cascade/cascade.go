// Package cascade keeps a growing sequence of quotient filter levels in a
// memory mapped file. New fingerprints go into the first level, which is
// spilled into larger levels as it fills.
package cascade

import (
	"os"

	"github.com/zeebo/errs"
	"github.com/zeebo/mon"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/zeebo/qf"
)

// Error is the class of errors returned by the cascade.
var Error = errs.Class("cascade")

// spill level 0 once it is this loaded
const spillNum, spillDen = 3, 4

// Filter is a cascade of filters over bits wide fingerprints.
type Filter struct {
	fh       *os.File
	bits     uint
	q, r     uint
	levels   []*qf.Filter[uint64]
	mappings [][]byte
	log      *zap.Logger
}

// New returns a cascade storing levels in fh for fingerprints of the
// given number of bits.
func New(fh *os.File, bits uint) (*Filter, error) {
	if bits < 2 || bits > 64 {
		return nil, qf.ErrInvalidSize.New("cascade of %d bit fingerprints", bits)
	}

	// pages are assumed to be 4k. the hash is going to be
	// bits many long. each element has 3 bits of overhead.
	// we have 32768 bits in 4k. we want to find the largest
	// r such that (3+r)*2^q < 32768 with r+q = bits.
	r, vr := uint(0), uint(0)
	for cr := uint(1); cr < bits; cr++ {
		if bits-cr > 15 {
			continue
		}
		if cv := (3 + cr) * (1 << (bits - cr)); cv < 32768 && cv > vr {
			r, vr = cr, cv
		}
	}

	return &Filter{
		fh:   fh,
		bits: bits,
		q:    bits - r,
		r:    r,
		log:  zap.NewNop(),
	}, nil
}

// WithLogger sets the logger for level allocation and spills.
func (c *Filter) WithLogger(log *zap.Logger) {
	c.log = log.With(zap.String("file", c.fh.Name()))
}

func (c *Filter) Bits() uint          { return c.bits }
func (c *Filter) QuotientBits() uint  { return c.q }
func (c *Filter) RemainderBits() uint { return c.r }
func (c *Filter) Levels() int         { return len(c.levels) }

func (c *Filter) Len() uint {
	o := uint(0)
	for _, f := range c.levels {
		o += f.Len()
	}
	return o
}

// newLevel truncates the backing file to be large enough to hold a new level
// and maps the new section into a buffer.
func (c *Filter) newLevel() (err error) {
	defer mon.Start().Stop(&err)

	// level 0 and level 1 are the same size
	q, r := c.q, c.r
	if len(c.levels) > 1 {
		q, r = q+1, r-1
	}
	if r < 1 {
		return qf.ErrFull.New("no remainder bits left for level %d", len(c.levels))
	}

	// round the size up to the next page
	pageSize := int64(unix.Getpagesize())
	need := (int64(1)<<q*int64(3+r) + 7) / 8
	size := (need + pageSize - 1) / pageSize * pageSize

	currentSize := int64(0)
	for _, m := range c.mappings {
		currentSize += int64(len(m))
	}

	if err := c.fh.Truncate(currentSize + size); err != nil {
		return Error.Wrap(err)
	}

	buf, err := unix.Mmap(int(c.fh.Fd()), currentSize, int(size),
		unix.PROT_WRITE|unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return Error.Wrap(err)
	}

	f, err := qf.NewWithOptions[uint64](q, qf.Options{
		Width:  c.bits,
		Packed: true,
		Buffer: buf,
	})
	if err != nil {
		_ = unix.Munmap(buf)
		return errs.Wrap(err)
	}

	c.mappings = append(c.mappings, buf)
	c.levels = append(c.levels, f)
	c.q, c.r = q, r

	c.log.Debug("allocated level",
		zap.Int("level", len(c.levels)-1),
		zap.Uint("quotient_bits", q),
		zap.Uint("remainder_bits", r),
		zap.Int64("bytes", size))

	return nil
}

// spill takes the non-empty prefix of the levels and inserts them into
// the first empty level, allocating one if necessary.
func (c *Filter) spill() (err error) {
	defer mon.Start().Stop(&err)

	var prefix []*qf.Filter[uint64]
	for i, f := range c.levels {
		if f.Empty() {
			break
		}
		prefix = c.levels[:i+1]
	}

	if len(prefix) == len(c.levels) {
		if err := c.newLevel(); err != nil {
			return errs.Wrap(err)
		}
	}

	// TODO(jeff): merge could be faster here by using the fact that
	// iterators return in sorted order. it would be contiguous writes.
	out := c.levels[len(prefix)]
	moved := uint(0)
	for _, f := range prefix {
		for it := f.Iter(); it.Next(); {
			if _, err := out.Insert(it.Fingerprint()); err != nil {
				return errs.Wrap(err)
			}
		}
		moved += f.Len()
		f.Clear()
	}

	c.log.Debug("spilled levels",
		zap.Int("levels", len(prefix)),
		zap.Int("into", len(prefix)),
		zap.Uint("fingerprints", moved))

	return nil
}

var addThunk mon.Thunk

// Add inserts the fingerprint, spilling the first level when it fills.
func (c *Filter) Add(hash uint64) (err error) {
	if len(c.levels) == 0 {
		if err := c.newLevel(); err != nil {
			return errs.Wrap(err)
		}
	}

	timer := addThunk.Start()
	defer timer.Stop(&err)

	l0 := c.levels[0]
	if _, err := l0.Insert(hash); err != nil {
		return errs.Wrap(err)
	}
	if l0.Len()*spillDen >= l0.Cap()*spillNum {
		return errs.Wrap(c.spill())
	}
	return nil
}

// Lookup reports true for every added fingerprint and possibly others.
func (c *Filter) Lookup(hash uint64) bool {
	for _, f := range c.levels {
		if !f.Empty() && f.Contains(hash) {
			return true
		}
	}
	return false
}

// Remove deletes one copy of the fingerprint from the newest level that
// holds it.
func (c *Filter) Remove(hash uint64) error {
	for _, f := range c.levels {
		if f.Empty() {
			continue
		}
		err := f.Remove(hash)
		if err == nil {
			return nil
		} else if !qf.ErrNotFound.Has(err) {
			return errs.Wrap(err)
		}
	}
	return qf.ErrNotFound.New("fingerprint %#x", hash)
}

// Close unmaps every level. The file is left to the caller.
func (c *Filter) Close() error {
	var group errs.Group
	for _, m := range c.mappings {
		group.Add(Error.Wrap(unix.Munmap(m)))
	}
	c.levels, c.mappings = nil, nil
	return group.Err()
}
