package main

import (
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zeebo/errs"
	"github.com/zeebo/mon"
	"github.com/zeebo/mon/monhandler"
	"github.com/zeebo/pcg"
	"go.uber.org/zap"

	"github.com/zeebo/qf"
	"github.com/zeebo/qf/cascade"
)

var (
	configPath = flag.String("config", "", "yaml workload file overriding the flags")
	httpAddr   = flag.String("http", "", "serve mon stats on this address")
	wait       = flag.Bool("wait", false, "wait for ctrl+c before exiting")
	verbose    = flag.Bool("v", false, "debug logging")

	defaults = workload{
		Width:  32,
		Quot:   16,
		N:      40000,
		Probes: 100,
		Hash:   "fnv1a",
	}

	rng pcg.T
)

func init() {
	flag.UintVar(&defaults.Width, "width", defaults.Width, "fingerprint bits")
	flag.UintVar(&defaults.Quot, "q", defaults.Quot, "quotient bits")
	flag.IntVar(&defaults.N, "n", defaults.N, "number of values to insert")
	flag.IntVar(&defaults.Probes, "probes", defaults.Probes, "absent values probed per inserted value")
	flag.StringVar(&defaults.Hash, "hash", defaults.Hash, "hash: fnv1a, xxh3, xxhash or murmur3")
	flag.BoolVar(&defaults.Packed, "packed", defaults.Packed, "pack slots into r+3 bits")
	flag.Float64Var(&defaults.MaxLoad, "load", defaults.MaxLoad, "max load factor when merging")
	flag.UintVar(&defaults.Resize, "resize", defaults.Resize, "quotient bits to grow by after inserting")
	flag.BoolVar(&defaults.Merge, "merge", defaults.Merge, "build a second filter and merge it in")
	flag.IntVar(&defaults.Remove, "remove", defaults.Remove, "number of inserted values to remove")
	flag.StringVar(&defaults.Cascade, "cascade", defaults.Cascade, "directory to also audit a cascade in")
}

func stats() {
	defer fmt.Println()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	mon.Times(func(name string, state *mon.State) bool {
		sum, avg := state.Average()
		fmt.Fprintf(tw, "%s\t%v\t%v\t%v\n",
			name, state.Total(), time.Duration(sum), time.Duration(avg))
		return true
	})
}

func main() {
	flag.Parse()

	cfg := zap.NewDevelopmentConfig()
	if !*verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if *httpAddr != "" {
		go func() {
			if err := http.ListenAndServe(*httpAddr, monhandler.Handler{}); err != nil {
				log.Warn("stats server stopped", zap.Error(err))
			}
		}()
	}

	err = run(log)
	stats()
	if err != nil {
		log.Fatal("check failed", zap.Error(err))
	}

	if *wait {
		fmt.Println("done. waiting for ctrl+c...")
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT)
		<-ch
		fmt.Println()
	}
}

func run(log *zap.Logger) error {
	wl := defaults
	if *configPath != "" {
		var err error
		wl, err = loadWorkload(*configPath, defaults)
		if err != nil {
			return errs.Wrap(err)
		}
	}
	if err := wl.validate(); err != nil {
		return errs.Wrap(err)
	}

	hash, err := qf.HashByName(wl.Hash)
	if err != nil {
		return errs.Wrap(err)
	}
	opts := qf.Options{
		Width:   wl.Width,
		Hash:    hash,
		MaxLoad: wl.MaxLoad,
		Packed:  wl.Packed,
	}

	f, err := qf.NewWithOptions[uint64](wl.Quot, opts)
	if err != nil {
		return errs.Wrap(err)
	}
	log.Info("filter",
		zap.Uint("width", f.Width()),
		zap.Uint("quotient_bits", f.QuotientBits()),
		zap.Uint("remainder_bits", f.RemainderBits()),
		zap.String("size", humanize.IBytes(f.SizeBytes())))

	values := make([][]byte, 0, wl.N)
	for i := 0; i < wl.N; i++ {
		v := []byte(fmt.Sprintf("value-%d-%016x", i, rng.Uint64()))
		if _, err := f.InsertValue(v); err != nil {
			return errs.Wrap(err)
		}
		values = append(values, v)
	}
	log.Info("inserted", zap.Int("values", wl.N), zap.Float64("load", f.LoadFactor()))

	if wl.Resize > 0 {
		if err := f.Resize(wl.Resize); err != nil {
			return errs.Wrap(err)
		}
		log.Info("resized",
			zap.Uint("quotient_bits", f.QuotientBits()),
			zap.String("size", humanize.IBytes(f.SizeBytes())))
	}

	if wl.Merge {
		other, err := qf.NewWithOptions[uint64](wl.Quot, opts)
		if err != nil {
			return errs.Wrap(err)
		}
		for i := 0; i < wl.N; i++ {
			v := []byte(fmt.Sprintf("other-%d-%016x", i, rng.Uint64()))
			if _, err := other.InsertValue(v); err != nil {
				return errs.Wrap(err)
			}
			values = append(values, v)
		}

		f, err = f.Merge(other)
		if err != nil {
			return errs.Wrap(err)
		}
		log.Info("merged",
			zap.Uint("len", f.Len()),
			zap.Uint("quotient_bits", f.QuotientBits()),
			zap.Float64("load", f.LoadFactor()))
	}

	removed := wl.Remove
	if removed > len(values) {
		removed = len(values)
	}
	for _, v := range values[:removed] {
		if err := f.RemoveValue(v); err != nil {
			return errs.Wrap(err)
		}
	}
	values = values[removed:]

	if err := f.Check(); err != nil {
		return errs.Wrap(err)
	}

	fmt.Printf("FILTER: width: %d quo: %d rem: %d len: %d size: %s\n",
		f.Width(), f.QuotientBits(), f.RemainderBits(), f.Len(), humanize.IBytes(f.SizeBytes()))
	fmt.Printf("FILTER: auditing %d values\n", len(values))
	for _, v := range values {
		if !f.ContainsValue(v) {
			return errs.New("false negative: %q", v)
		}
	}

	count, total := 0, wl.Probes*len(values)
	for i := 0; i < total; i++ {
		if f.ContainsValue([]byte(fmt.Sprintf("absent-%d-%016x", i, rng.Uint64()))) {
			count++
		}
	}
	expected := math.Ldexp(float64(f.Len()), -int(f.Width()))
	if total > 0 {
		fmt.Printf("FILTER: got %d/%d == %0.4f%% (expected about %0.4f%%)\n",
			count, total, 100*float64(count)/float64(total), 100*expected)
	}

	if wl.Cascade != "" {
		return errs.Wrap(runCascade(log, wl))
	}
	return nil
}

func runCascade(log *zap.Logger, wl workload) error {
	if err := os.MkdirAll(wl.Cascade, 0755); err != nil {
		return errs.Wrap(err)
	}

	fh, err := os.Create(filepath.Join(wl.Cascade, "cascade"))
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() { _ = fh.Close() }()

	cf, err := cascade.New(fh, wl.Width)
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() { _ = cf.Close() }()
	cf.WithLogger(log)

	mask := uint64(1)<<wl.Width - 1
	hashes := make([]uint64, 0, wl.N)
	for i := 0; i < wl.N; i++ {
		h := rng.Uint64() & mask
		if err := cf.Add(h); err != nil {
			return errs.Wrap(err)
		}
		hashes = append(hashes, h)
	}

	fmt.Printf("CASCADE: levels: %d quo: %d rem: %d len: %d\n",
		cf.Levels(), cf.QuotientBits(), cf.RemainderBits(), cf.Len())
	for _, h := range hashes {
		if !cf.Lookup(h) {
			return errs.New("cascade false negative: %#x", h)
		}
	}

	count, total := 0, wl.Probes*len(hashes)
	for i := 0; i < total; i++ {
		if cf.Lookup(rng.Uint64() & mask) {
			count++
		}
	}
	if total > 0 {
		fmt.Printf("CASCADE: got %d/%d == %0.4f%%\n", count, total, 100*float64(count)/float64(total))
	}

	return nil
}
