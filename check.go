package qf

import (
	"fmt"
	"io"
)

// Check walks the table and verifies the run structure: the element count,
// that every occupied quotient has a contiguous sorted run, that no slot
// belongs to two runs, and that shifted bits match placement.
func (f *Filter[T]) Check() error {
	used := uint(0)
	for i := uint(0); i < f.Cap(); i++ {
		s := f.st.Get(index(i))
		if s.Empty() {
			if s.Remainder() != 0 {
				return Error.New("empty slot %d holds remainder %#x", i, uint64(s.Remainder()))
			}
			continue
		}
		used++
	}
	if used != f.len {
		return Error.New("%d slots in use but %d fingerprints recorded", used, f.len)
	}

	owners := make(map[index]index, f.len)
	for i := uint(0); i < f.Cap(); i++ {
		quo := index(i)
		if !f.st.Get(quo).Occupied() {
			continue
		}

		pos := f.findRun(quo)
		if f.st.Get(pos).Continuation() {
			return Error.New("run for quotient %d starts with a continuation at %d", quo, pos)
		}

		var prev T
		for first := true; ; first = false {
			s := f.st.Get(pos)
			if s.Empty() {
				return Error.New("run for quotient %d reaches empty slot %d", quo, pos)
			}
			if owner, ok := owners[pos]; ok {
				return Error.New("slot %d in runs for quotients %d and %d", pos, owner, quo)
			}
			owners[pos] = quo

			if s.Shifted() != (pos != quo) {
				return Error.New("slot %d has shifted=%v for quotient %d", pos, s.Shifted(), quo)
			}
			if !first && s.Remainder() < prev {
				return Error.New("run for quotient %d out of order at %d", quo, pos)
			}
			prev = s.Remainder()

			pos = f.next(pos)
			if !f.st.Get(pos).Continuation() {
				break
			}
			if uint(len(owners)) > f.len {
				return Error.New("run for quotient %d never ends", quo)
			}
		}
	}

	if uint(len(owners)) != f.len {
		return Error.New("runs hold %d fingerprints but %d recorded", len(owners), f.len)
	}
	return nil
}

// Dump writes the non-empty slots of the table to w.
func (f *Filter[T]) Dump(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "  bucket  O C S remainder\n"); err != nil {
		return err
	}
	bit := func(v bool) int {
		if v {
			return 1
		}
		return 0
	}
	skipped := false
	for i := uint(0); i < f.Cap(); i++ {
		s := f.st.Get(index(i))
		if s.Empty() {
			skipped = true
			continue
		}
		if skipped {
			if _, err := fmt.Fprintf(w, "     ...\n"); err != nil {
				return err
			}
			skipped = false
		}
		_, err := fmt.Fprintf(w, "%8d  %d %d %d %#x\n", i,
			bit(s.Occupied()), bit(s.Continuation()), bit(s.Shifted()), uint64(s.Remainder()))
		if err != nil {
			return err
		}
	}
	if skipped {
		_, err := fmt.Fprintf(w, "     ...\n")
		return err
	}
	return nil
}
