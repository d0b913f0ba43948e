//go:build linux

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cgstat/pkg/system/cgroup"
	"cgstat/pkg/system/util"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var log = logrus.New()

func init() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "01-02 15:04:05",
	})
}

type opts struct {
	controllers []string
	tolerant    bool
	jsonOut     bool

	// watch mode
	watch    bool
	samples  int
	interval time.Duration
	ema      float64
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "cgstat [flags] CGROUP_PATH",
		Short: "Report resource usage of a cgroup",
		Long: `cgstat reads the control-group pseudo filesystem and reports CPU,
memory, process-count, block I/O and hugepage consumption for one cgroup.

CGROUP_PATH is relative to the hierarchy root, e.g. /user.slice or
system.slice/docker-abc.scope. The hierarchy version (v1/v2) and the
per-controller mount points are discovered from /proc/self/mountinfo.

Examples:
  cgstat /user.slice
  cgstat --json system.slice/docker-abc.scope
  cgstat --watch -i 1s --samples 10 /user.slice`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o, args[0])
		},
		SilenceUsage: true,
	}

	root.Flags().StringSliceVarP(&o.controllers, "controllers", "c", nil,
		"controllers to collect (cpu,memory,pids,blkio,hugetlb); default all")
	root.Flags().BoolVarP(&o.tolerant, "tolerant", "t", false,
		"skip controllers that fail instead of aborting the snapshot")
	root.Flags().BoolVar(&o.jsonOut, "json", false, "print the snapshot as JSON")
	root.Flags().BoolVarP(&o.watch, "watch", "w", false, "sample repeatedly and print usage rates")
	root.Flags().IntVarP(&o.samples, "samples", "s", 0, "number of watch samples (0 = run until Ctrl-C)")
	root.Flags().DurationVarP(&o.interval, "interval", "i", time.Second, "watch sampling interval")
	root.Flags().Float64Var(&o.ema, "ema", 0.5, "EMA alpha for CPU utilization smoothing [0..1]")

	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts, cgroupPath string) error {
	if o.interval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	if o.ema < 0 || o.ema > 1 {
		return fmt.Errorf("ema must be in [0,1]")
	}

	layout, err := cgroup.Mounts()
	if err != nil {
		return err
	}
	version := layout.Version()
	providers, err := cgroup.ProvidersFor(version)
	if err != nil {
		return err
	}
	providers = filterProviders(providers, o.controllers)
	if len(providers) == 0 {
		return fmt.Errorf("no controllers selected")
	}

	rel := strings.TrimPrefix(cgroupPath, "/")
	var resolve func(cgroup.Name) string
	if version == cgroup.V1 {
		providers, resolve, err = v1Resolver(layout, providers, rel, o.tolerant)
		if err != nil {
			return err
		}
	} else {
		resolve = cgroup.SinglePath(filepath.Join(layout.Unified, rel))
	}

	log.WithFields(logrus.Fields{
		"hierarchy": version.String(),
		"cgroup":    cgroupPath,
	}).Debug("collecting")

	collect := func() (*cgroup.Stats, error) {
		if o.tolerant {
			stats, err := cgroup.CollectAll(providers, resolve)
			if err != nil {
				log.Warnf("partial snapshot: %v", err)
			}
			return stats, nil
		}
		return cgroup.Collect(providers, resolve)
	}

	if o.watch {
		return watch(ctx, o, collect)
	}

	stats, err := collect()
	if err != nil {
		return err
	}
	if o.jsonOut {
		b, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}
	printSnapshot(stats)
	return nil
}

// v1Resolver maps each provider to its controller's mount point. Unmounted
// controllers are fatal in strict mode and skipped with a warning in
// tolerant mode.
func v1Resolver(layout *cgroup.MountLayout, providers []cgroup.StatsProvider, rel string, tolerant bool) ([]cgroup.StatsProvider, func(cgroup.Name) string, error) {
	paths := make(map[cgroup.Name]string)
	kept := providers[:0]
	for _, p := range providers {
		mount, ok := layout.Controllers[p.Controller()]
		if !ok {
			if !tolerant {
				return nil, nil, fmt.Errorf("controller %s is not mounted", p.Controller())
			}
			log.Warnf("controller %s is not mounted, skipping", p.Controller())
			continue
		}
		paths[p.Controller()] = filepath.Join(mount, rel)
		kept = append(kept, p)
	}
	return kept, func(n cgroup.Name) string { return paths[n] }, nil
}

func filterProviders(providers []cgroup.StatsProvider, names []string) []cgroup.StatsProvider {
	if len(names) == 0 {
		return providers
	}
	want := make(map[cgroup.Name]bool)
	for _, n := range names {
		name := cgroup.Name(strings.ToLower(strings.TrimSpace(n)))
		want[name] = true
		// blkio selects the io provider on v2 and vice versa
		if name == cgroup.Blkio {
			want[cgroup.IO] = true
		}
		if name == cgroup.IO {
			want[cgroup.Blkio] = true
		}
	}
	var out []cgroup.StatsProvider
	for _, p := range providers {
		if want[p.Controller()] {
			out = append(out, p)
		}
	}
	return out
}

// watch samples on a ticker and prints per-interval rates next to the
// cumulative counters: CPU utilization from usage deltas, blkio byte
// deltas, plus live memory and pids gauges.
func watch(ctx context.Context, o opts, collect func() (*cgroup.Stats, error)) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prev, err := collect()
	if err != nil {
		return err
	}
	prevRead, prevWrite := blkioBytes(prev)

	ema := util.NewEMA(o.ema)
	nproc := float64(runtime.NumCPU())

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCPU%\tMEMORY\tPIDS\tREAD/s\tWRITE/s")
	tw.Flush()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats, err := collect()
			if err != nil {
				return err
			}
			dt := o.interval.Seconds()

			du := util.DeltaU64(stats.CPU.Usage.Total, prev.CPU.Usage.Total)
			u := util.SafeDiv(float64(du)/1e9, nproc*dt)
			if o.ema > 0 {
				u = ema.Next(u)
			}
			u = util.Clamp01(u)

			read, write := blkioBytes(stats)
			readRate := float64(util.DeltaU64(read, prevRead)) / dt
			writeRate := float64(util.DeltaU64(write, prevWrite)) / dt

			fmt.Fprintf(tw, "%s\t%.1f\t%s\t%d\t%s\t%s\n",
				time.Now().Format("15:04:05"),
				u*100,
				units.BytesSize(float64(stats.Memory.Memory.Usage)),
				stats.Pids.Current,
				units.BytesSize(readRate),
				units.BytesSize(writeRate),
			)
			tw.Flush()

			prev, prevRead, prevWrite = stats, read, write
			n++
			if o.samples > 0 && n >= o.samples {
				return nil
			}
		}
	}
}

// blkioBytes sums the itemized read/write byte rows over all devices.
func blkioBytes(stats *cgroup.Stats) (read, write uint64) {
	for _, e := range stats.Blkio.ServiceBytes {
		switch e.Op {
		case "Read":
			read += e.Value
		case "Write":
			write += e.Value
		}
	}
	return read, write
}

func printSnapshot(stats *cgroup.Stats) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "cpu usage\ttotal %s\tuser %s\tkernel %s\n",
		time.Duration(stats.CPU.Usage.Total),
		time.Duration(stats.CPU.Usage.User),
		time.Duration(stats.CPU.Usage.Kernel))
	fmt.Fprintf(tw, "cpu throttling\tperiods %d\tthrottled %d\ttime %s\n",
		stats.CPU.Throttling.Periods,
		stats.CPU.Throttling.ThrottledPeriods,
		time.Duration(stats.CPU.Throttling.ThrottledTime))

	fmt.Fprintf(tw, "memory\tusage %s\tmax %s\tfailcnt %d\n",
		units.BytesSize(float64(stats.Memory.Memory.Usage)),
		units.BytesSize(float64(stats.Memory.Memory.MaxUsage)),
		stats.Memory.Memory.FailCount)
	fmt.Fprintf(tw, "memory+swap\tusage %s\tmax %s\tfailcnt %d\n",
		units.BytesSize(float64(stats.Memory.Memswap.Usage)),
		units.BytesSize(float64(stats.Memory.Memswap.MaxUsage)),
		stats.Memory.Memswap.FailCount)
	fmt.Fprintf(tw, "page cache\t%s\n", units.BytesSize(float64(stats.Memory.Cache)))

	if stats.Pids.Limit > 0 {
		fmt.Fprintf(tw, "pids\t%d / %d\n", stats.Pids.Current, stats.Pids.Limit)
	} else {
		fmt.Fprintf(tw, "pids\t%d / unlimited\n", stats.Pids.Current)
	}

	read, write := blkioBytes(stats)
	fmt.Fprintf(tw, "blkio\tread %s\twrite %s\n",
		units.BytesSize(float64(read)), units.BytesSize(float64(write)))

	sizes := make([]string, 0, len(stats.Hugetlb))
	for size := range stats.Hugetlb {
		sizes = append(sizes, size)
	}
	sort.Strings(sizes)
	for _, size := range sizes {
		h := stats.Hugetlb[size]
		fmt.Fprintf(tw, "hugetlb %s\tusage %s\tmax %s\tfailcnt %d\n",
			size,
			units.BytesSize(float64(h.Usage)),
			units.BytesSize(float64(h.MaxUsage)),
			h.FailCount)
	}
}
