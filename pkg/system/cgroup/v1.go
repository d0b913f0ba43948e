//go:build linux

package cgroup

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// unlimited is the kernel's textual convention for "no limit configured"
// in pids.max (and memory.max / memory.swap.max on v2).
const unlimited = "max"

// v1CPU reads the cpu and cpuacct controller files. The caller-supplied
// path must point at the cpu,cpuacct hierarchy.
type v1CPU struct{}

func (v1CPU) Controller() Name { return CPU }

func (v1CPU) Collect(path string, stats *Stats) error {
	usage, err := v1CPUUsage(path)
	if err != nil {
		return err
	}
	throttling, err := v1CPUThrottling(path)
	if err != nil {
		return err
	}
	stats.CPU = CPUStats{Usage: usage, Throttling: throttling}
	return nil
}

// v1CPUUsage assembles cumulative CPU time (nanoseconds, verbatim from the
// kernel): totals from the cpuacct.usage* single-value files, per-core
// totals from cpuacct.usage_percpu (one space-separated value per online
// CPU) and per-core user/kernel splits from cpuacct.usage_all (a header
// line, then "cpu user system" rows in CPU-index order).
func v1CPUUsage(path string) (CPUUsage, error) {
	var u CPUUsage
	var err error

	if u.Total, err = ParseSingleValue(filepath.Join(path, "cpuacct.usage")); err != nil {
		return u, err
	}
	if u.User, err = ParseSingleValue(filepath.Join(path, "cpuacct.usage_user")); err != nil {
		return u, err
	}
	if u.Kernel, err = ParseSingleValue(filepath.Join(path, "cpuacct.usage_sys")); err != nil {
		return u, err
	}

	percpuPath := filepath.Join(path, "cpuacct.usage_percpu")
	content, err := readCgroupFile(percpuPath)
	if err != nil {
		return u, err
	}
	for _, field := range strings.Fields(content) {
		v, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return u, &ParseError{Path: percpuPath, Raw: content, Err: err}
		}
		u.PerCoreTotal = append(u.PerCoreTotal, v)
	}

	allPath := filepath.Join(path, "cpuacct.usage_all")
	content, err = readCgroupFile(allPath)
	if err != nil {
		return u, err
	}
	lines := strings.Split(strings.TrimSpace(content), "\n")
	for i, line := range lines {
		if i == 0 {
			// "cpu user system" header
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return u, &ParseError{Path: allPath, Raw: line, Err: ErrMalformedLine}
		}
		user, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return u, &ParseError{Path: allPath, Raw: line, Err: err}
		}
		kernel, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return u, &ParseError{Path: allPath, Raw: line, Err: err}
		}
		u.PerCoreUser = append(u.PerCoreUser, user)
		u.PerCoreKernel = append(u.PerCoreKernel, kernel)
	}
	return u, nil
}

func v1CPUThrottling(path string) (CPUThrottling, error) {
	kv, err := parseFlatKeyedFile(filepath.Join(path, "cpu.stat"))
	if err != nil {
		return CPUThrottling{}, err
	}
	return CPUThrottling{
		Periods:          kv["nr_periods"],
		ThrottledPeriods: kv["nr_throttled"],
		ThrottledTime:    kv["throttled_time"],
	}, nil
}

// v1Memory reads the memory controller files: one MemoryData quartet per
// accounting class plus the memory.stat counter map.
type v1Memory struct{}

func (v1Memory) Controller() Name { return Memory }

func (v1Memory) Collect(path string, stats *Stats) error {
	var out MemoryStats
	var err error

	if out.Memory, err = v1MemoryData(path, ""); err != nil {
		return err
	}
	if out.Memswap, err = v1MemoryData(path, "memsw"); err != nil {
		return err
	}
	if out.Kernel, err = v1MemoryData(path, "kmem"); err != nil {
		return err
	}
	if out.KernelTCP, err = v1MemoryData(path, "kmem.tcp"); err != nil {
		return err
	}

	if out.Stats, err = parseFlatKeyedFile(filepath.Join(path, "memory.stat")); err != nil {
		return err
	}
	out.Cache = out.Stats["cache"]

	// Hierarchical accounting is a flag file of its own, not a memory.stat
	// key.
	hierarchy, err := ParseSingleValue(filepath.Join(path, "memory.use_hierarchy"))
	if err != nil {
		return err
	}
	out.Hierarchy = hierarchy == 1

	stats.Memory = out
	return nil
}

// v1MemoryData reads the usage/max_usage/failcnt/limit quartet for one
// accounting class ("" for plain memory, "memsw", "kmem", "kmem.tcp").
// The limit is the raw kernel value; an unlimited cgroup reports a number
// close to 2^63, which is preserved rather than normalized.
func v1MemoryData(path, class string) (MemoryData, error) {
	file := func(name string) string {
		if class == "" {
			return filepath.Join(path, "memory."+name)
		}
		return filepath.Join(path, "memory."+class+"."+name)
	}

	var d MemoryData
	var err error
	if d.Usage, err = ParseSingleValue(file("usage_in_bytes")); err != nil {
		return d, err
	}
	if d.MaxUsage, err = ParseSingleValue(file("max_usage_in_bytes")); err != nil {
		return d, err
	}
	if d.FailCount, err = ParseSingleValue(file("failcnt")); err != nil {
		return d, err
	}
	if d.Limit, err = ParseSingleValue(file("limit_in_bytes")); err != nil {
		return d, err
	}
	return d, nil
}

// v1Pids reads the pids controller. Both of its files are mandatory:
// missing files are I/O errors, unlike blkio and hugetlb below.
type v1Pids struct{}

func (v1Pids) Controller() Name { return Pids }

func (v1Pids) Collect(path string, stats *Stats) error {
	out, err := parsePids(path)
	if err != nil {
		return err
	}
	stats.Pids = out
	return nil
}

// parsePids is shared by both hierarchy versions; the pids interface files
// are identical on v1 and v2.
func parsePids(path string) (PidsStats, error) {
	var out PidsStats
	var err error

	if out.Current, err = ParseSingleValue(filepath.Join(path, "pids.current")); err != nil {
		return out, err
	}

	maxPath := filepath.Join(path, "pids.max")
	content, err := readCgroupFile(maxPath)
	if err != nil {
		return out, err
	}
	if trimmed := strings.TrimSpace(content); trimmed != unlimited {
		out.Limit, err = strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return PidsStats{}, &ParseError{Path: maxPath, Raw: content, Err: err}
		}
	}
	// "max" leaves Limit at 0, the unlimited sentinel.
	return out, nil
}

// v1Blkio reads the blkio controller tables. Which files exist depends on
// the configured I/O scheduler and kernel version, so a missing file means
// an empty table, never a failure.
type v1Blkio struct{}

func (v1Blkio) Controller() Name { return Blkio }

var v1BlkioFiles = []struct {
	file  string
	table func(*BlkioStats) *[]BlkioEntry
}{
	{"blkio.throttle.io_service_bytes", func(s *BlkioStats) *[]BlkioEntry { return &s.ServiceBytes }},
	{"blkio.throttle.io_serviced", func(s *BlkioStats) *[]BlkioEntry { return &s.Serviced }},
	{"blkio.time_recursive", func(s *BlkioStats) *[]BlkioEntry { return &s.Time }},
	{"blkio.sectors_recursive", func(s *BlkioStats) *[]BlkioEntry { return &s.Sectors }},
	{"blkio.io_service_time_recursive", func(s *BlkioStats) *[]BlkioEntry { return &s.ServiceTime }},
	{"blkio.io_wait_time_recursive", func(s *BlkioStats) *[]BlkioEntry { return &s.WaitTime }},
	{"blkio.io_queued_recursive", func(s *BlkioStats) *[]BlkioEntry { return &s.Queued }},
	{"blkio.io_merged_recursive", func(s *BlkioStats) *[]BlkioEntry { return &s.Merged }},
}

func (v1Blkio) Collect(path string, stats *Stats) error {
	var out BlkioStats
	for _, bf := range v1BlkioFiles {
		entries, err := parseBlkioFile(filepath.Join(path, bf.file))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		*bf.table(&out) = entries
	}
	stats.Blkio = out
	return nil
}

// parseBlkioFile reads a blkio table: "major:minor [op] value" rows.
// Summary rows ("Total N") carry no device column and are skipped.
func parseBlkioFile(path string) ([]BlkioEntry, error) {
	content, err := readCgroupFile(path)
	if err != nil {
		return nil, err
	}

	var entries []BlkioEntry
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		majorText, minorText, ok := strings.Cut(fields[0], ":")
		if !ok {
			continue
		}
		if len(fields) > 3 {
			return nil, &ParseError{Path: path, Raw: line, Err: ErrMalformedLine}
		}

		var e BlkioEntry
		if e.Major, err = strconv.ParseUint(majorText, 10, 64); err != nil {
			return nil, &ParseError{Path: path, Raw: line, Err: err}
		}
		if e.Minor, err = strconv.ParseUint(minorText, 10, 64); err != nil {
			return nil, &ParseError{Path: path, Raw: line, Err: err}
		}
		if len(fields) == 3 {
			e.Op = fields[1]
		}
		if e.Value, err = strconv.ParseUint(fields[len(fields)-1], 10, 64); err != nil {
			return nil, &ParseError{Path: path, Raw: line, Err: err}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// v1Hugetlb reads the hugetlb controller, one file triplet per supported
// page size. A size whose files are absent (the cgroup predates the size,
// or the controller does not track it) is omitted from the map.
type v1Hugetlb struct {
	pageSizes func() ([]string, error)
}

func (v1Hugetlb) Controller() Name { return Hugetlb }

func (h v1Hugetlb) Collect(path string, stats *Stats) error {
	sizes, err := h.pageSizes()
	if err != nil {
		return err
	}

	out := make(map[string]HugetlbStats)
	for _, size := range sizes {
		st, err := v1HugetlbStats(path, size)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		out[size] = st
	}
	stats.Hugetlb = out
	return nil
}

func v1HugetlbStats(path, size string) (HugetlbStats, error) {
	prefix := "hugetlb." + size
	var st HugetlbStats
	var err error
	if st.Usage, err = ParseSingleValue(filepath.Join(path, prefix+".usage_in_bytes")); err != nil {
		return st, err
	}
	if st.MaxUsage, err = ParseSingleValue(filepath.Join(path, prefix+".max_usage_in_bytes")); err != nil {
		return st, err
	}
	if st.FailCount, err = ParseSingleValue(filepath.Join(path, prefix+".failcnt")); err != nil {
		return st, err
	}
	return st, nil
}
