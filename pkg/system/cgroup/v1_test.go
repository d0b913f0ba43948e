//go:build linux

package cgroup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func v1CPUFiles() map[string]string {
	return map[string]string{
		"cpuacct.usage":        "1000000\n",
		"cpuacct.usage_user":   "600000\n",
		"cpuacct.usage_sys":    "400000\n",
		"cpuacct.usage_percpu": "250000 250000 500000\n",
		"cpuacct.usage_all":    "cpu user system\n0 150000 100000\n1 150000 100000\n2 300000 200000\n",
		"cpu.stat":             "nr_periods 100\nnr_throttled 20\nthrottled_time 1000000\n",
	}
}

func v1MemoryFiles() map[string]string {
	return map[string]string{
		"memory.usage_in_bytes":              "1024\n",
		"memory.max_usage_in_bytes":          "2048\n",
		"memory.failcnt":                     "0\n",
		"memory.limit_in_bytes":              "4096\n",
		"memory.memsw.usage_in_bytes":        "1124\n",
		"memory.memsw.max_usage_in_bytes":    "2248\n",
		"memory.memsw.failcnt":               "1\n",
		"memory.memsw.limit_in_bytes":        "8192\n",
		"memory.kmem.usage_in_bytes":         "100\n",
		"memory.kmem.max_usage_in_bytes":     "200\n",
		"memory.kmem.failcnt":                "0\n",
		"memory.kmem.limit_in_bytes":         "9223372036854771712\n",
		"memory.kmem.tcp.usage_in_bytes":     "10\n",
		"memory.kmem.tcp.max_usage_in_bytes": "20\n",
		"memory.kmem.tcp.failcnt":            "0\n",
		"memory.kmem.tcp.limit_in_bytes":     "9223372036854771712\n",
		"memory.stat":                        "cache 512\nrss 400\nswap 100\n",
		"memory.use_hierarchy":               "1\n",
	}
}

func v1PidsFiles() map[string]string {
	return map[string]string{
		"pids.current": "42\n",
		"pids.max":     "100\n",
	}
}

func v1BlkioFixtures() map[string]string {
	return map[string]string{
		"blkio.throttle.io_service_bytes": "8:0 Read 1024\n8:0 Write 2048\n8:0 Sync 0\n8:0 Async 3072\n8:0 Total 3072\nTotal 3072\n",
		"blkio.throttle.io_serviced":      "8:0 Read 10\n8:0 Write 20\nTotal 30\n",
		"blkio.sectors_recursive":         "8:0 100\n",
	}
}

func v1HugetlbFiles() map[string]string {
	return map[string]string{
		"hugetlb.2MB.usage_in_bytes":     "2097152\n",
		"hugetlb.2MB.max_usage_in_bytes": "4194304\n",
		"hugetlb.2MB.failcnt":            "1\n",
	}
}

func staticPageSizes(sizes ...string) func() ([]string, error) {
	return func() ([]string, error) { return sizes, nil }
}

func TestV1Pids(t *testing.T) {
	t.Run("numeric_limit", func(t *testing.T) {
		dir := writeTree(t, v1PidsFiles())
		var s Stats
		require.NoError(t, v1Pids{}.Collect(dir, &s))
		assert.Equal(t, PidsStats{Current: 42, Limit: 100}, s.Pids)
	})

	t.Run("max_means_unlimited", func(t *testing.T) {
		dir := writeTree(t, map[string]string{
			"pids.current": "7\n",
			"pids.max":     "max\n",
		})
		var s Stats
		require.NoError(t, v1Pids{}.Collect(dir, &s))
		assert.Equal(t, PidsStats{Current: 7, Limit: 0}, s.Pids)
	})

	t.Run("garbage_current_names_file_and_value", func(t *testing.T) {
		dir := writeTree(t, map[string]string{
			"pids.current": "abc",
			"pids.max":     "100\n",
		})
		var s Stats
		err := v1Pids{}.Collect(dir, &s)
		require.Error(t, err)

		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, filepath.Join(dir, "pids.current"), perr.Path)
		assert.Contains(t, err.Error(), "pids.current")
		assert.Contains(t, err.Error(), "abc")
		assert.Zero(t, s.Pids, "failed collect must not touch stats")
	})

	t.Run("garbage_limit", func(t *testing.T) {
		dir := writeTree(t, map[string]string{
			"pids.current": "1\n",
			"pids.max":     "lots\n",
		})
		var s Stats
		var perr *ParseError
		require.ErrorAs(t, v1Pids{}.Collect(dir, &s), &perr)
	})

	t.Run("missing_file_is_io_error", func(t *testing.T) {
		var s Stats
		err := v1Pids{}.Collect(t.TempDir(), &s)
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}

func TestV1CPU(t *testing.T) {
	t.Run("usage_and_throttling", func(t *testing.T) {
		dir := writeTree(t, v1CPUFiles())
		var s Stats
		require.NoError(t, v1CPU{}.Collect(dir, &s))

		assert.Equal(t, CPUUsage{
			Total:         1000000,
			User:          600000,
			Kernel:        400000,
			PerCoreTotal:  []uint64{250000, 250000, 500000},
			PerCoreUser:   []uint64{150000, 150000, 300000},
			PerCoreKernel: []uint64{100000, 100000, 200000},
		}, s.CPU.Usage)

		assert.Equal(t, CPUThrottling{
			Periods:          100,
			ThrottledPeriods: 20,
			ThrottledTime:    1000000,
		}, s.CPU.Throttling)
	})

	t.Run("per_core_sequences_parallel", func(t *testing.T) {
		dir := writeTree(t, v1CPUFiles())
		var s Stats
		require.NoError(t, v1CPU{}.Collect(dir, &s))
		assert.Len(t, s.CPU.Usage.PerCoreUser, len(s.CPU.Usage.PerCoreTotal))
		assert.Len(t, s.CPU.Usage.PerCoreKernel, len(s.CPU.Usage.PerCoreTotal))
	})

	t.Run("garbage_percpu", func(t *testing.T) {
		files := v1CPUFiles()
		files["cpuacct.usage_percpu"] = "250000 oops\n"
		dir := writeTree(t, files)
		var s Stats
		var perr *ParseError
		require.ErrorAs(t, v1CPU{}.Collect(dir, &s), &perr)
	})

	t.Run("short_usage_all_row", func(t *testing.T) {
		files := v1CPUFiles()
		files["cpuacct.usage_all"] = "cpu user system\n0 150000\n"
		dir := writeTree(t, files)
		var s Stats
		err := v1CPU{}.Collect(dir, &s)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedLine))
	})

	t.Run("missing_usage_file", func(t *testing.T) {
		files := v1CPUFiles()
		delete(files, "cpuacct.usage")
		dir := writeTree(t, files)
		var s Stats
		err := v1CPU{}.Collect(dir, &s)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}

func TestV1Memory(t *testing.T) {
	t.Run("all_classes", func(t *testing.T) {
		dir := writeTree(t, v1MemoryFiles())
		var s Stats
		require.NoError(t, v1Memory{}.Collect(dir, &s))

		assert.Equal(t, MemoryData{Usage: 1024, MaxUsage: 2048, FailCount: 0, Limit: 4096}, s.Memory.Memory)
		assert.Equal(t, MemoryData{Usage: 1124, MaxUsage: 2248, FailCount: 1, Limit: 8192}, s.Memory.Memswap)
		assert.Equal(t, uint64(100), s.Memory.Kernel.Usage)
		assert.Equal(t, uint64(10), s.Memory.KernelTCP.Usage)
		// the raw "unlimited" value is preserved, not normalized
		assert.Equal(t, uint64(9223372036854771712), s.Memory.Kernel.Limit)

		assert.Equal(t, uint64(512), s.Memory.Cache)
		assert.True(t, s.Memory.Hierarchy)
		assert.Equal(t, map[string]uint64{"cache": 512, "rss": 400, "swap": 100}, s.Memory.Stats)
	})

	t.Run("hierarchy_disabled", func(t *testing.T) {
		files := v1MemoryFiles()
		files["memory.use_hierarchy"] = "0\n"
		dir := writeTree(t, files)
		var s Stats
		require.NoError(t, v1Memory{}.Collect(dir, &s))
		assert.False(t, s.Memory.Hierarchy)
	})

	t.Run("missing_stat_file", func(t *testing.T) {
		files := v1MemoryFiles()
		delete(files, "memory.stat")
		dir := writeTree(t, files)
		var s Stats
		err := v1Memory{}.Collect(dir, &s)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}

func TestV1Blkio(t *testing.T) {
	t.Run("tables_and_summary_rows", func(t *testing.T) {
		dir := writeTree(t, v1BlkioFixtures())
		var s Stats
		require.NoError(t, v1Blkio{}.Collect(dir, &s))

		// per-device rows kept, the device-less "Total N" summary skipped
		require.Len(t, s.Blkio.ServiceBytes, 5)
		assert.Equal(t, BlkioEntry{Major: 8, Minor: 0, Op: "Read", Value: 1024}, s.Blkio.ServiceBytes[0])
		assert.Equal(t, BlkioEntry{Major: 8, Minor: 0, Op: "Total", Value: 3072}, s.Blkio.ServiceBytes[4])

		require.Len(t, s.Blkio.Serviced, 2)

		// aggregate table without the op column
		require.Len(t, s.Blkio.Sectors, 1)
		assert.Equal(t, BlkioEntry{Major: 8, Minor: 0, Value: 100}, s.Blkio.Sectors[0])
	})

	t.Run("missing_kind_is_empty_not_error", func(t *testing.T) {
		dir := writeTree(t, v1BlkioFixtures())
		var s Stats
		require.NoError(t, v1Blkio{}.Collect(dir, &s))

		assert.Empty(t, s.Blkio.Time)
		assert.Empty(t, s.Blkio.ServiceTime)
		assert.Empty(t, s.Blkio.WaitTime)
		assert.Empty(t, s.Blkio.Queued)
		assert.Empty(t, s.Blkio.Merged)
	})

	t.Run("all_kinds_missing_still_succeeds", func(t *testing.T) {
		var s Stats
		require.NoError(t, v1Blkio{}.Collect(t.TempDir(), &s))
		assert.Equal(t, BlkioStats{}, s.Blkio)
	})

	t.Run("garbage_value", func(t *testing.T) {
		dir := writeTree(t, map[string]string{
			"blkio.throttle.io_service_bytes": "8:0 Read abc\n",
		})
		var s Stats
		var perr *ParseError
		require.ErrorAs(t, v1Blkio{}.Collect(dir, &s), &perr)
		assert.Contains(t, perr.Raw, "8:0 Read abc")
	})
}

func TestV1Hugetlb(t *testing.T) {
	t.Run("tracked_size", func(t *testing.T) {
		dir := writeTree(t, v1HugetlbFiles())
		h := v1Hugetlb{pageSizes: staticPageSizes("2MB")}
		var s Stats
		require.NoError(t, h.Collect(dir, &s))
		assert.Equal(t, map[string]HugetlbStats{
			"2MB": {Usage: 2097152, MaxUsage: 4194304, FailCount: 1},
		}, s.Hugetlb)
	})

	t.Run("absent_size_omitted", func(t *testing.T) {
		dir := writeTree(t, v1HugetlbFiles())
		h := v1Hugetlb{pageSizes: staticPageSizes("2MB", "1GB")}
		var s Stats
		require.NoError(t, h.Collect(dir, &s))
		assert.Contains(t, s.Hugetlb, "2MB")
		assert.NotContains(t, s.Hugetlb, "1GB")
	})

	t.Run("discovery_failure_propagates", func(t *testing.T) {
		h := v1Hugetlb{pageSizes: func() ([]string, error) {
			return nil, errors.New("hugepages disabled")
		}}
		var s Stats
		require.Error(t, h.Collect(t.TempDir(), &s))
	})

	t.Run("garbage_in_present_file", func(t *testing.T) {
		files := v1HugetlbFiles()
		files["hugetlb.2MB.failcnt"] = "no\n"
		dir := writeTree(t, files)
		h := v1Hugetlb{pageSizes: staticPageSizes("2MB")}
		var s Stats
		var perr *ParseError
		require.ErrorAs(t, h.Collect(dir, &s), &perr)
	})
}

// v1Tree lays out every v1 controller's files in one directory, which
// stands in for five separately mounted hierarchies.
func v1Tree(t *testing.T) string {
	files := map[string]string{}
	for _, set := range []map[string]string{
		v1CPUFiles(), v1MemoryFiles(), v1PidsFiles(), v1BlkioFixtures(), v1HugetlbFiles(),
	} {
		for k, v := range set {
			files[k] = v
		}
	}
	return writeTree(t, files)
}

func v1TestProviders() []StatsProvider {
	return []StatsProvider{
		v1CPU{},
		v1Memory{},
		v1Pids{},
		v1Blkio{},
		v1Hugetlb{pageSizes: staticPageSizes("2MB")},
	}
}

func TestV1Collect_Snapshot(t *testing.T) {
	dir := v1Tree(t)

	stats, err := Collect(v1TestProviders(), SinglePath(dir))
	require.NoError(t, err)

	assert.Equal(t, uint64(1000000), stats.CPU.Usage.Total)
	assert.Equal(t, uint64(1024), stats.Memory.Memory.Usage)
	assert.Equal(t, uint64(42), stats.Pids.Current)
	assert.Len(t, stats.Blkio.ServiceBytes, 5)
	assert.Contains(t, stats.Hugetlb, "2MB")
}

func TestV1Collect_Idempotent(t *testing.T) {
	dir := v1Tree(t)
	providers := v1TestProviders()

	first, err := Collect(providers, SinglePath(dir))
	require.NoError(t, err)
	second, err := Collect(providers, SinglePath(dir))
	require.NoError(t, err)

	assert.Equal(t, first, second, "unchanged files must yield structurally equal snapshots")
}
